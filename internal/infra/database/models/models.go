package models

import (
	"time"
)

type TrackedRepo struct {
	DID                string     `json:"did" gorm:"column:did;primaryKey;type:text"`
	Handle             string     `json:"handle" gorm:"type:text"`
	HostingServerURL   string     `json:"hostingServerUrl" gorm:"type:text;index"`
	RegisteredAt       time.Time  `json:"registeredAt" gorm:"not null"`
	LastCheckinCrawlAt *time.Time `json:"lastCheckinCrawlAt" gorm:"index"`
	LastFollowCrawlAt  *time.Time `json:"lastFollowCrawlAt"`
}

type HostingServer struct {
	ServerURL        string     `json:"serverUrl" gorm:"primaryKey;type:text"`
	TrackedRepoCount int64      `json:"trackedRepoCount" gorm:"not null;default:0"`
	LastCrawledAt    *time.Time `json:"lastCrawledAt"`
}

type Checkin struct {
	ID                int64     `json:"id" gorm:"primaryKey;autoIncrement"`
	URI               string    `json:"uri" gorm:"type:text;uniqueIndex"`
	AuthorDID         string    `json:"authorDid" gorm:"column:author_did;type:text;index"`
	Text              string    `json:"text" gorm:"type:text"`
	CreatedAt         time.Time `json:"createdAt" gorm:"index"`
	Latitude          float64   `json:"latitude"`
	Longitude         float64   `json:"longitude"`
	VenueName         string    `json:"venueName" gorm:"type:text"`
	Category          string    `json:"category" gorm:"type:text"`
	CategoryGroup     string    `json:"categoryGroup" gorm:"type:text"`
	CategoryIcon      string    `json:"categoryIcon" gorm:"type:text"`
	AddressStreet     string    `json:"addressStreet" gorm:"type:text"`
	AddressLocality   string    `json:"addressLocality" gorm:"type:text"`
	AddressRegion     string    `json:"addressRegion" gorm:"type:text"`
	AddressCountry    string    `json:"addressCountry" gorm:"type:text"`
	AddressPostalCode string    `json:"addressPostalCode" gorm:"type:text"`
	AddressRefURI     string    `json:"addressRefUri" gorm:"type:text"`
	AddressRefCID     string    `json:"addressRefCid" gorm:"column:address_ref_cid;type:text"`
	SourceLexicon     string    `json:"sourceLexicon" gorm:"type:text"`
	IndexedAt         time.Time `json:"indexedAt" gorm:"not null"`
}

type FollowEdge struct {
	FollowerDID  string    `json:"followerDid" gorm:"column:follower_did;primaryKey;type:text"`
	FollowingDID string    `json:"followingDid" gorm:"column:following_did;primaryKey;type:text"`
	CreatedAt    time.Time `json:"createdAt" gorm:"not null"`
	SyncedAt     time.Time `json:"syncedAt" gorm:"not null"`
}

package domain

import "time"

// TrackedRepo is one user repo the crawler watches. The DID is globally
// unique and immutable; rows are removed only on explicit unregistration.
type TrackedRepo struct {
	DID                string     `json:"did"`
	Handle             string     `json:"handle"`
	HostingServerURL   string     `json:"hostingServerUrl"`
	RegisteredAt       time.Time  `json:"registeredAt"`
	LastCheckinCrawlAt *time.Time `json:"lastCheckinCrawlAt,omitempty"`
	LastFollowCrawlAt  *time.Time `json:"lastFollowCrawlAt,omitempty"`
}

// HostingServer is a reference-counted hosting server derived from the
// tracked repos pointing at it. The count never goes negative; the row is
// deleted when it drops to zero.
type HostingServer struct {
	ServerURL        string     `json:"serverUrl"`
	TrackedRepoCount int64      `json:"trackedRepoCount"`
	LastCrawledAt    *time.Time `json:"lastCrawledAt,omitempty"`
}

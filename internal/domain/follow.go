package domain

import "time"

// FollowEdge is one directed edge of the follow graph, keyed by the
// (follower, following) DID pair.
type FollowEdge struct {
	FollowerDID  string    `json:"followerDid"`
	FollowingDID string    `json:"followingDid"`
	CreatedAt    time.Time `json:"createdAt"`
	SyncedAt     time.Time `json:"syncedAt"`
}

// FollowDiff is the minimal delta applied by one reconciliation pass.
type FollowDiff struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

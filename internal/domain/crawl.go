package domain

// CrawlSummary is the structured result of one crawl session. Per-repo and
// per-record failures fold into Errors; the session itself still succeeds.
type CrawlSummary struct {
	Success          bool   `json:"success"`
	SessionID        string `json:"sessionId"`
	UsersProcessed   int64  `json:"usersProcessed"`
	RecordsProcessed int64  `json:"recordsProcessed"`
	Errors           int64  `json:"errors"`
	DurationMs       int64  `json:"durationMs"`
}

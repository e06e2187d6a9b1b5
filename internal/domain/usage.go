package domain

import "time"

// UsageEntry is one account's counters for a calendar month.
type UsageEntry struct {
	AccountID      int64 `db:"account_id"`
	Year           int   `db:"year"`
	Month          int   `db:"month"`
	AIPostsCount   int   `db:"ai_posts_count"`
	PostsProcessed int   `db:"posts_processed"`
}

// Period identifies a calendar month in UTC.
type Period struct {
	Year  int
	Month int
}

// PeriodOf returns the UTC calendar month containing t.
func PeriodOf(t time.Time) Period {
	t = t.UTC()
	return Period{Year: t.Year(), Month: int(t.Month())}
}

package domain

import "time"

// CandidatePost is a post fetched from a source during a run. It is never
// stored as-is.
type CandidatePost struct {
	ExternalID string
	Source     string
	Title      string
	Body       string
	Author     string
	URL        string
	Popularity int
	CreatedAt  time.Time
}

// MatchedPost is a candidate that matched at least one keyword.
type MatchedPost struct {
	Post     CandidatePost
	Keywords []string
}

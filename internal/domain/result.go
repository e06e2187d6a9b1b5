package domain

import "time"

const (
	MinScore = 1
	MaxScore = 10
)

// Reasons recorded when a post ends up without an AI score.
const (
	ReasonAIDisabled     = "AI disabled for this scrape"
	ReasonQuotaExceeded  = "quota exceeded"
	ReasonNotConfigured  = "AI scoring not configured"
	ReasonTimedOut       = "AI scoring timed out"
	ReasonUnparseable    = "unparseable AI response"
	ReasonLedgerFailure  = "usage ledger unavailable"
	ReasonFailurePrefix  = "AI scoring failed: "
	ReasonRunInterrupted = "run interrupted before scoring"
)

// Score is the outcome of a scoring attempt. A nil Value means not scored.
type Score struct {
	Value  *int
	Reason string
}

// Unscored builds a degraded score with the given reason.
func Unscored(reason string) Score {
	return Score{Reason: reason}
}

// Scored builds a score clamped into [MinScore, MaxScore].
func Scored(v int, reason string) Score {
	v = ClampScore(v)
	return Score{Value: &v, Reason: reason}
}

// ClampScore forces v into [MinScore, MaxScore].
func ClampScore(v int) int {
	if v < MinScore {
		return MinScore
	}
	if v > MaxScore {
		return MaxScore
	}
	return v
}

// ScoredPost ties a score to the post it was computed for.
type ScoredPost struct {
	MatchedPost
	Score Score
	// Attempted is true when the scoring client was actually called.
	Attempted bool
}

// Result is a persisted, matched, deduplicated post. (JobID, ExternalPostID)
// is unique.
type Result struct {
	ID              int64      `db:"id" json:"id"`
	JobID           int64      `db:"job_id" json:"job_id"`
	ExternalPostID  string     `db:"external_post_id" json:"external_post_id"`
	Title           string     `db:"title" json:"title"`
	Body            string     `db:"body" json:"body,omitempty"`
	Author          string     `db:"author" json:"author"`
	Source          string     `db:"source" json:"source"`
	URL             string     `db:"url" json:"url"`
	Popularity      int        `db:"popularity" json:"popularity"`
	MatchedKeywords []string   `db:"-" json:"matched_keywords"`
	AIScore         *int       `db:"ai_score" json:"ai_score"`
	AIReason        *string    `db:"ai_reason" json:"ai_reason"`
	Hidden          bool       `db:"hidden" json:"hidden"`
	PostCreatedAt   *time.Time `db:"post_created_at" json:"post_created_at,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
}

// NewResult denormalises a scored post into a Result for the given job.
func NewResult(jobID int64, sp ScoredPost) *Result {
	r := &Result{
		JobID:           jobID,
		ExternalPostID:  sp.Post.ExternalID,
		Title:           sp.Post.Title,
		Body:            sp.Post.Body,
		Author:          sp.Post.Author,
		Source:          sp.Post.Source,
		URL:             sp.Post.URL,
		Popularity:      sp.Post.Popularity,
		MatchedKeywords: sp.Keywords,
		AIScore:         sp.Score.Value,
	}
	if sp.Score.Reason != "" {
		reason := sp.Score.Reason
		r.AIReason = &reason
	}
	if !sp.Post.CreatedAt.IsZero() {
		created := sp.Post.CreatedAt
		r.PostCreatedAt = &created
	}
	return r
}

// ResultPage is one page of a job's results, newest first.
type ResultPage struct {
	Page    int       `json:"page"`
	PerPage int       `json:"per_page"`
	Total   int       `json:"total"`
	Pages   int       `json:"pages"`
	Items   []*Result `json:"items"`
}

package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"lead_scraper/internal/domain"
	"lead_scraper/internal/scoring"
)

type Source interface {
	Name() string
	FetchPosts(ctx context.Context, source string, limit int) ([]domain.CandidatePost, error)
}

type JobStore interface {
	Get(ctx context.Context, id int64) (*domain.Job, error)
	ListActive(ctx context.Context) ([]domain.Job, error)
	Transition(ctx context.Context, id int64, from []domain.JobStatus, to domain.JobStatus) (bool, error)
	Complete(ctx context.Context, id int64, to domain.JobStatus, finishedAt time.Time, runErr string) (bool, error)
}

type AccountStore interface {
	Get(ctx context.Context, id int64) (*domain.Account, error)
}

type ResultStore interface {
	ExistingExternalIDs(ctx context.Context, jobID int64, externalIDs []string) (map[string]struct{}, error)
	Insert(ctx context.Context, result *domain.Result) (bool, error)
}

type Scorer interface {
	// Configured reports whether Score would reach a model at all.
	Configured() bool
	Score(ctx context.Context, req scoring.Request) domain.Score
}

type Notifier interface {
	Notify(ctx context.Context, result *domain.Result) error
}

type Publisher interface {
	Publish(ctx context.Context, result *domain.Result) error
	Close() error
}

type RunLimiter interface {
	Acquire(ctx context.Context, accountID int64, limit int) (bool, error)
	Release(ctx context.Context, accountID int64) error
}

type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type JobRunner interface {
	Run(ctx context.Context, job *domain.Job, account *domain.Account) (*domain.RunStats, error)
}

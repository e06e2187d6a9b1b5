package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"lead_scraper/internal/domain"
	"lead_scraper/internal/matcher"
)

type JobStore struct {
	db *sqlx.DB
}

func NewJobStore(db *sqlx.DB) *JobStore {
	return &JobStore{db: db}
}

type jobRow struct {
	ID         int64          `db:"id"`
	AccountID  int64          `db:"account_id"`
	Name       string         `db:"name"`
	Sources    pq.StringArray `db:"sources"`
	Keywords   pq.StringArray `db:"keywords"`
	PostLimit  int            `db:"post_limit"`
	AIEnabled  bool           `db:"ai_enabled"`
	AIGuidance string         `db:"ai_guidance"`
	Active     bool           `db:"active"`
	Status     string         `db:"status"`
	LastRunAt  *time.Time     `db:"last_run_at"`
	LastError  *string        `db:"last_error"`
	CreatedAt  time.Time      `db:"created_at"`
	UpdatedAt  time.Time      `db:"updated_at"`
}

func (r jobRow) toDomain() (*domain.Job, error) {
	status, err := domain.ParseJobStatus(r.Status)
	if err != nil {
		return nil, fmt.Errorf("job %d: %w", r.ID, err)
	}
	return &domain.Job{
		ID:         r.ID,
		AccountID:  r.AccountID,
		Name:       r.Name,
		Sources:    []string(r.Sources),
		Keywords:   matcher.Normalize(r.Keywords),
		PostLimit:  r.PostLimit,
		AIEnabled:  r.AIEnabled,
		AIGuidance: r.AIGuidance,
		Active:     r.Active,
		Status:     status,
		LastRunAt:  r.LastRunAt,
		LastError:  r.LastError,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}, nil
}

const jobColumns = `
	id, account_id, name, sources, keywords, post_limit, ai_enabled, ai_guidance,
	active, status, last_run_at, last_error, created_at, updated_at`

// Create inserts a job in the idle state and fills its id and timestamps.
func (s *JobStore) Create(ctx context.Context, job *domain.Job) error {
	query := `
		INSERT INTO jobs (account_id, name, sources, keywords, post_limit, ai_enabled, ai_guidance, active, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at`

	job.Keywords = matcher.Normalize(job.Keywords)
	if job.Sources == nil {
		job.Sources = []string{}
	}
	job.Status = domain.JobStatusIdle

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		job.AccountID,
		job.Name,
		pq.StringArray(job.Sources),
		pq.StringArray(job.Keywords),
		job.PostLimit,
		job.AIEnabled,
		job.AIGuidance,
		job.Active,
		string(job.Status),
	).Scan(&job.ID, &job.CreatedAt, &job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id int64) (*domain.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return row.toDomain()
}

func (s *JobStore) ListActive(ctx context.Context) ([]domain.Job, error) {
	var rows []jobRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+jobColumns+` FROM jobs WHERE active ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list active jobs: %w", err)
	}

	jobs := make([]domain.Job, 0, len(rows))
	for _, row := range rows {
		job, err := row.toDomain()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, nil
}

// Transition moves the job to `to` only if its current status is one of
// `from`. It reports whether the row changed, so concurrent callers race
// safely.
func (s *JobStore) Transition(ctx context.Context, id int64, from []domain.JobStatus, to domain.JobStatus) (bool, error) {
	fromStrs := make([]string, len(from))
	for i, st := range from {
		if err := domain.ValidateTransition(st, to); err != nil {
			return false, err
		}
		fromStrs[i] = string(st)
	}

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx,
		`UPDATE jobs SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)`,
		string(to), id, pq.Array(fromStrs),
	)
	if err != nil {
		return false, fmt.Errorf("update job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Complete ends a running job as done or error. A successful run stamps
// last_run_at and clears last_error; a failed one records runErr.
func (s *JobStore) Complete(ctx context.Context, id int64, to domain.JobStatus, finishedAt time.Time, runErr string) (bool, error) {
	if err := domain.ValidateTransition(domain.JobStatusRunning, to); err != nil {
		return false, err
	}

	var (
		lastRunAt *time.Time
		lastError *string
	)
	if to == domain.JobStatusDone {
		lastRunAt = &finishedAt
	} else if runErr != "" {
		lastError = &runErr
	}

	res, err := GetExecutor(ctx, s.db).ExecContext(ctx, `
		UPDATE jobs SET
			status = $1,
			last_run_at = COALESCE($2, last_run_at),
			last_error = $3,
			updated_at = NOW()
		WHERE id = $4 AND status = $5`,
		string(to), lastRunAt, lastError, id, string(domain.JobStatusRunning),
	)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"lead_scraper/internal/domain"
)

const maxPerPage = 100

type ResultStore struct {
	db *sqlx.DB
}

func NewResultStore(db *sqlx.DB) *ResultStore {
	return &ResultStore{db: db}
}

type resultRow struct {
	domain.Result
	Keywords pq.StringArray `db:"matched_keywords"`
}

func (r resultRow) toDomain() *domain.Result {
	res := r.Result
	res.MatchedKeywords = []string(r.Keywords)
	return &res
}

const resultColumns = `
	id, job_id, external_post_id, title, body, author, source, url, popularity,
	matched_keywords, ai_score, ai_reason, hidden, post_created_at, created_at`

// Insert stores a result unless one already exists for the same job and
// post. It reports whether a row was written.
func (s *ResultStore) Insert(ctx context.Context, r *domain.Result) (bool, error) {
	query := `
		INSERT INTO results (
			job_id, external_post_id, title, body, author, source, url, popularity,
			matched_keywords, ai_score, ai_reason, post_created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
		ON CONFLICT (job_id, external_post_id) DO NOTHING
		RETURNING id, created_at`

	keywords := r.MatchedKeywords
	if keywords == nil {
		keywords = []string{}
	}

	err := GetExecutor(ctx, s.db).QueryRowxContext(ctx, query,
		r.JobID,
		r.ExternalPostID,
		r.Title,
		r.Body,
		r.Author,
		r.Source,
		r.URL,
		r.Popularity,
		pq.StringArray(keywords),
		r.AIScore,
		r.AIReason,
		r.PostCreatedAt,
	).Scan(&r.ID, &r.CreatedAt)

	switch {
	case errors.Is(err, sql.ErrNoRows), isUniqueViolation(err):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("insert result: %w", err)
	}
	return true, nil
}

// ExistingExternalIDs returns which of the given post ids are already stored
// for the job.
func (s *ResultStore) ExistingExternalIDs(ctx context.Context, jobID int64, ids []string) (map[string]struct{}, error) {
	existing := make(map[string]struct{})
	if len(ids) == 0 {
		return existing, nil
	}

	query := `SELECT external_post_id FROM results WHERE job_id = $1 AND external_post_id = ANY($2)`

	var found []string
	if err := sqlx.SelectContext(ctx, GetExecutor(ctx, s.db), &found, query, jobID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("select existing results: %w", err)
	}
	for _, id := range found {
		existing[id] = struct{}{}
	}
	return existing, nil
}

func (s *ResultStore) Get(ctx context.Context, id int64) (*domain.Result, error) {
	var row resultRow
	err := s.db.GetContext(ctx, &row, `SELECT `+resultColumns+` FROM results WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result: %w", err)
	}
	return row.toDomain(), nil
}

// List returns one page of a job's results, newest first. page is 1-based;
// perPage is clamped to [1, 100].
func (s *ResultStore) List(ctx context.Context, jobID int64, page, perPage int, includeHidden bool) (*domain.ResultPage, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = 1
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	var total int
	err := s.db.GetContext(ctx, &total,
		`SELECT COUNT(*) FROM results WHERE job_id = $1 AND ($2 OR NOT hidden)`,
		jobID, includeHidden,
	)
	if err != nil {
		return nil, fmt.Errorf("count results: %w", err)
	}

	query := `SELECT ` + resultColumns + `
		FROM results
		WHERE job_id = $1 AND ($2 OR NOT hidden)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`

	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, query, jobID, includeHidden, perPage, (page-1)*perPage); err != nil {
		return nil, fmt.Errorf("list results: %w", err)
	}

	items := make([]*domain.Result, len(rows))
	for i, row := range rows {
		items[i] = row.toDomain()
	}

	return &domain.ResultPage{
		Page:    page,
		PerPage: perPage,
		Total:   total,
		Pages:   (total + perPage - 1) / perPage,
		Items:   items,
	}, nil
}

// SetHidden toggles a result's visibility in listings.
func (s *ResultStore) SetHidden(ctx context.Context, id int64, hidden bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE results SET hidden = $1 WHERE id = $2`, hidden, id)
	if err != nil {
		return fmt.Errorf("update result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrResultNotFound
	}
	return nil
}

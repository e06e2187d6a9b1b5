package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"lead_scraper/internal/domain"
)

// UsageStore keeps the monthly usage counters. Increments join the caller's
// transaction when one is in the context.
type UsageStore struct {
	db *sqlx.DB
}

func NewUsageStore(db *sqlx.DB) *UsageStore {
	return &UsageStore{db: db}
}

func (s *UsageStore) Get(ctx context.Context, accountID int64, period domain.Period) (*domain.UsageEntry, error) {
	var entry domain.UsageEntry
	query := `
		SELECT account_id, year, month, ai_posts_count, posts_processed
		FROM usage_ledger
		WHERE account_id = $1 AND year = $2 AND month = $3`

	err := sqlx.GetContext(ctx, GetExecutor(ctx, s.db), &entry, query, accountID, period.Year, period.Month)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.UsageEntry{
			AccountID: accountID,
			Year:      period.Year,
			Month:     period.Month,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get usage: %w", err)
	}
	return &entry, nil
}

func (s *UsageStore) IncrementAI(ctx context.Context, accountID int64, period domain.Period, n int) error {
	query := `
		INSERT INTO usage_ledger (account_id, year, month, ai_posts_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, year, month) DO UPDATE SET
			ai_posts_count = usage_ledger.ai_posts_count + EXCLUDED.ai_posts_count`

	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, accountID, period.Year, period.Month, n); err != nil {
		return fmt.Errorf("increment ai usage: %w", err)
	}
	return nil
}

func (s *UsageStore) IncrementProcessed(ctx context.Context, accountID int64, period domain.Period, n int) error {
	query := `
		INSERT INTO usage_ledger (account_id, year, month, posts_processed)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (account_id, year, month) DO UPDATE SET
			posts_processed = usage_ledger.posts_processed + EXCLUDED.posts_processed`

	if _, err := GetExecutor(ctx, s.db).ExecContext(ctx, query, accountID, period.Year, period.Month, n); err != nil {
		return fmt.Errorf("increment processed usage: %w", err)
	}
	return nil
}

//go:build integration

package postgres

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"lead_scraper/internal/domain"
	"lead_scraper/internal/usage"
)

type PostgresIntegrationSuite struct {
	suite.Suite
	ctx       context.Context
	container *postgres.PostgresContainer
	db        *sqlx.DB

	account *domain.Account
	job     *domain.Job
}

func (s *PostgresIntegrationSuite) SetupSuite() {
	s.ctx = context.Background()

	migrationsPath, err := filepath.Abs("../../../migrations")
	s.Require().NoError(err)

	container, err := postgres.Run(s.ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		postgres.WithInitScripts(
			filepath.Join(migrationsPath, "001_create_accounts_jobs.up.sql"),
			filepath.Join(migrationsPath, "002_create_results.up.sql"),
			filepath.Join(migrationsPath, "003_create_usage_ledger.up.sql"),
		),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)
	s.container = container

	connStr, err := container.ConnectionString(s.ctx, "sslmode=disable")
	s.Require().NoError(err)

	db, err := sqlx.Connect("postgres", connStr)
	s.Require().NoError(err)
	s.db = db
}

func (s *PostgresIntegrationSuite) TearDownSuite() {
	if s.db != nil {
		s.db.Close()
	}
	if s.container != nil {
		_ = s.container.Terminate(s.ctx)
	}
}

func (s *PostgresIntegrationSuite) SetupTest() {
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM results")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM usage_ledger")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM jobs")
	_, _ = s.db.ExecContext(s.ctx, "DELETE FROM accounts")

	s.account = &domain.Account{Name: "acme", MonthlyAIQuota: 100, MaxConcurrentRuns: 2}
	s.Require().NoError(NewAccountStore(s.db).Create(s.ctx, s.account))

	s.job = &domain.Job{
		AccountID: s.account.ID,
		Name:      "bookkeeping leads",
		Sources:   []string{"smallbusiness", "accounting"},
		Keywords:  []string{" Hiring ", "need help", "hiring", ""},
		PostLimit: 25,
		AIEnabled: true,
		Active:    true,
	}
	s.Require().NoError(NewJobStore(s.db).Create(s.ctx, s.job))
}

func TestPostgresIntegrationSuite(t *testing.T) {
	suite.Run(t, new(PostgresIntegrationSuite))
}

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func (s *PostgresIntegrationSuite) newResult(externalID string) *domain.Result {
	return &domain.Result{
		JobID:           s.job.ID,
		ExternalPostID:  externalID,
		Title:           "We are hiring " + externalID,
		Author:          "alice",
		Source:          "smallbusiness",
		URL:             "https://reddit.com/" + externalID,
		MatchedKeywords: []string{"hiring"},
		AIScore:         intPtr(8),
		AIReason:        strPtr("clear buying intent"),
	}
}

func (s *PostgresIntegrationSuite) TestJobStore_GetNormalisesKeywords() {
	job, err := NewJobStore(s.db).Get(s.ctx, s.job.ID)
	s.Require().NoError(err)

	s.Equal([]string{"hiring", "need help"}, job.Keywords)
	s.Equal([]string{"smallbusiness", "accounting"}, job.Sources)
	s.Equal(domain.JobStatusIdle, job.Status)
	s.Nil(job.LastRunAt)
}

func (s *PostgresIntegrationSuite) TestJobStore_GetMissing() {
	_, err := NewJobStore(s.db).Get(s.ctx, s.job.ID+1000)
	s.ErrorIs(err, domain.ErrJobNotFound)
}

func (s *PostgresIntegrationSuite) TestJobStore_ListActive() {
	store := NewJobStore(s.db)
	inactive := &domain.Job{AccountID: s.account.ID, Name: "paused", Keywords: []string{"x"}}
	s.Require().NoError(store.Create(s.ctx, inactive))

	jobs, err := store.ListActive(s.ctx)
	s.Require().NoError(err)
	s.Require().Len(jobs, 1)
	s.Equal(s.job.ID, jobs[0].ID)
}

func (s *PostgresIntegrationSuite) TestJobStore_TransitionLifecycle() {
	store := NewJobStore(s.db)

	ok, err := store.Transition(s.ctx, s.job.ID, []domain.JobStatus{domain.JobStatusIdle}, domain.JobStatusQueued)
	s.Require().NoError(err)
	s.True(ok)

	ok, err = store.Transition(s.ctx, s.job.ID, []domain.JobStatus{domain.JobStatusIdle}, domain.JobStatusQueued)
	s.Require().NoError(err)
	s.False(ok, "second queue attempt must lose")

	ok, err = store.Transition(s.ctx, s.job.ID, []domain.JobStatus{domain.JobStatusQueued}, domain.JobStatusRunning)
	s.Require().NoError(err)
	s.True(ok)

	finishedAt := time.Now().UTC().Truncate(time.Microsecond)
	ok, err = store.Complete(s.ctx, s.job.ID, domain.JobStatusDone, finishedAt, "")
	s.Require().NoError(err)
	s.True(ok)

	job, err := store.Get(s.ctx, s.job.ID)
	s.Require().NoError(err)
	s.Equal(domain.JobStatusDone, job.Status)
	s.Require().NotNil(job.LastRunAt)
	s.WithinDuration(finishedAt, *job.LastRunAt, time.Second)
	s.Nil(job.LastError)
}

func (s *PostgresIntegrationSuite) TestJobStore_CompleteWithError() {
	store := NewJobStore(s.db)
	_, err := s.db.ExecContext(s.ctx, `UPDATE jobs SET status = 'running' WHERE id = $1`, s.job.ID)
	s.Require().NoError(err)

	ok, err := store.Complete(s.ctx, s.job.ID, domain.JobStatusError, time.Now(), "run interrupted")
	s.Require().NoError(err)
	s.True(ok)

	job, err := store.Get(s.ctx, s.job.ID)
	s.Require().NoError(err)
	s.Equal(domain.JobStatusError, job.Status)
	s.Nil(job.LastRunAt)
	s.Require().NotNil(job.LastError)
	s.Equal("run interrupted", *job.LastError)
}

func (s *PostgresIntegrationSuite) TestJobStore_RejectsIllegalTransition() {
	ok, err := NewJobStore(s.db).Transition(s.ctx, s.job.ID, []domain.JobStatus{domain.JobStatusIdle}, domain.JobStatusDone)
	s.ErrorIs(err, domain.ErrIllegalTransition)
	s.False(ok)
}

func (s *PostgresIntegrationSuite) TestJobStore_ConcurrentQueueOnlyOneWins() {
	store := NewJobStore(s.db)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.Transition(s.ctx, s.job.ID, []domain.JobStatus{domain.JobStatusIdle}, domain.JobStatusQueued)
			s.NoError(err)
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Equal(1, wins)
}

func (s *PostgresIntegrationSuite) TestResultStore_InsertAndDedup() {
	store := NewResultStore(s.db)

	first := s.newResult("t3_a")
	inserted, err := store.Insert(s.ctx, first)
	s.Require().NoError(err)
	s.True(inserted)
	s.NotZero(first.ID)
	s.False(first.CreatedAt.IsZero())

	inserted, err = store.Insert(s.ctx, s.newResult("t3_a"))
	s.Require().NoError(err)
	s.False(inserted, "same job and post must not insert twice")

	existing, err := store.ExistingExternalIDs(s.ctx, s.job.ID, []string{"t3_a", "t3_b"})
	s.Require().NoError(err)
	s.Equal(map[string]struct{}{"t3_a": {}}, existing)

	got, err := store.Get(s.ctx, first.ID)
	s.Require().NoError(err)
	s.Equal([]string{"hiring"}, got.MatchedKeywords)
	s.Require().NotNil(got.AIScore)
	s.Equal(8, *got.AIScore)
}

func (s *PostgresIntegrationSuite) TestResultStore_SamePostDifferentJobs() {
	other := &domain.Job{AccountID: s.account.ID, Name: "other", Keywords: []string{"hiring"}, Active: true}
	s.Require().NoError(NewJobStore(s.db).Create(s.ctx, other))

	store := NewResultStore(s.db)
	r1 := s.newResult("t3_shared")
	r2 := s.newResult("t3_shared")
	r2.JobID = other.ID

	ok, err := store.Insert(s.ctx, r1)
	s.Require().NoError(err)
	s.True(ok)
	ok, err = store.Insert(s.ctx, r2)
	s.Require().NoError(err)
	s.True(ok)
}

func (s *PostgresIntegrationSuite) TestResultStore_UnscoredResult() {
	store := NewResultStore(s.db)
	r := s.newResult("t3_u")
	r.AIScore = nil
	r.AIReason = strPtr(domain.ReasonQuotaExceeded)

	ok, err := store.Insert(s.ctx, r)
	s.Require().NoError(err)
	s.True(ok)

	got, err := store.Get(s.ctx, r.ID)
	s.Require().NoError(err)
	s.Nil(got.AIScore)
	s.Equal(domain.ReasonQuotaExceeded, *got.AIReason)
}

func (s *PostgresIntegrationSuite) TestResultStore_ListHideUnhide() {
	store := NewResultStore(s.db)
	var ids []int64
	for i := 0; i < 5; i++ {
		r := s.newResult(fmt.Sprintf("t3_%d", i))
		_, err := store.Insert(s.ctx, r)
		s.Require().NoError(err)
		ids = append(ids, r.ID)
	}

	s.Require().NoError(store.SetHidden(s.ctx, ids[0], true))

	page, err := store.List(s.ctx, s.job.ID, 1, 2, false)
	s.Require().NoError(err)
	s.Equal(4, page.Total)
	s.Equal(2, page.Pages)
	s.Len(page.Items, 2)
	s.Equal(ids[4], page.Items[0].ID, "newest first")

	page, err = store.List(s.ctx, s.job.ID, 1, 500, true)
	s.Require().NoError(err)
	s.Equal(5, page.Total)
	s.Equal(100, page.PerPage)

	s.Require().NoError(store.SetHidden(s.ctx, ids[0], false))
	page, err = store.List(s.ctx, s.job.ID, 1, 10, false)
	s.Require().NoError(err)
	s.Equal(5, page.Total)

	s.ErrorIs(store.SetHidden(s.ctx, ids[4]+1000, true), domain.ErrResultNotFound)
}

func (s *PostgresIntegrationSuite) TestResultStore_DeletingJobCascades() {
	store := NewResultStore(s.db)
	r := s.newResult("t3_c")
	_, err := store.Insert(s.ctx, r)
	s.Require().NoError(err)

	_, err = s.db.ExecContext(s.ctx, "DELETE FROM jobs WHERE id = $1", s.job.ID)
	s.Require().NoError(err)

	_, err = store.Get(s.ctx, r.ID)
	s.ErrorIs(err, domain.ErrResultNotFound)
}

func (s *PostgresIntegrationSuite) TestAccountStore_GetMissing() {
	_, err := NewAccountStore(s.db).Get(s.ctx, s.account.ID+1000)
	s.ErrorIs(err, domain.ErrAccountNotFound)
}

func (s *PostgresIntegrationSuite) TestUsageStore_LedgerCounts() {
	ledger := usage.NewLedger(NewUsageStore(s.db))

	for i := 0; i < 3; i++ {
		res, ok, err := ledger.Reserve(s.ctx, s.account.ID, 3)
		s.Require().NoError(err)
		s.Require().True(ok)
		s.Require().NoError(res.Commit(s.ctx))
	}
	_, ok, err := ledger.Reserve(s.ctx, s.account.ID, 3)
	s.Require().NoError(err)
	s.False(ok)

	s.Require().NoError(ledger.RecordProcessed(s.ctx, s.account.ID, 4))

	entry, err := ledger.Current(s.ctx, s.account.ID)
	s.Require().NoError(err)
	s.Equal(3, entry.AIPostsCount)
	s.Equal(4, entry.PostsProcessed)
}

func (s *PostgresIntegrationSuite) TestTransaction_Commit() {
	tm := NewTransactionManager(s.db)
	results := NewResultStore(s.db)
	ledger := usage.NewLedger(NewUsageStore(s.db))

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := results.Insert(ctx, s.newResult("t3_tx")); err != nil {
			return err
		}
		return ledger.RecordProcessed(ctx, s.account.ID, 1)
	})
	s.Require().NoError(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM results WHERE external_post_id = $1", "t3_tx")
	s.NoError(err)
	s.Equal(1, count)
}

func (s *PostgresIntegrationSuite) TestTransaction_Rollback() {
	tm := NewTransactionManager(s.db)
	results := NewResultStore(s.db)
	ledger := usage.NewLedger(NewUsageStore(s.db))

	err := tm.WithTransaction(s.ctx, func(ctx context.Context) error {
		if _, err := results.Insert(ctx, s.newResult("t3_rb")); err != nil {
			return err
		}
		if err := ledger.RecordProcessed(ctx, s.account.ID, 1); err != nil {
			return err
		}
		return errors.New("abort")
	})
	s.Error(err)

	var count int
	err = s.db.GetContext(s.ctx, &count, "SELECT COUNT(*) FROM results WHERE external_post_id = $1", "t3_rb")
	s.NoError(err)
	s.Equal(0, count)

	entry, err := ledger.Current(s.ctx, s.account.ID)
	s.Require().NoError(err)
	s.Zero(entry.PostsProcessed)
}

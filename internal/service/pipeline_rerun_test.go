package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lead_scraper/internal/domain"
	"lead_scraper/internal/scoring"
	"lead_scraper/internal/usage"
	"lead_scraper/internal/usage/usagetest"
)

// memResults enforces (job, external post) uniqueness like the database does.
type memResults struct {
	mu   sync.Mutex
	rows map[int64]map[string]*domain.Result
	next int64
}

func newMemResults() *memResults {
	return &memResults{rows: make(map[int64]map[string]*domain.Result)}
}

func (m *memResults) ExistingExternalIDs(_ context.Context, jobID int64, ids []string) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]struct{})
	for _, id := range ids {
		if _, ok := m.rows[jobID][id]; ok {
			out[id] = struct{}{}
		}
	}
	return out, nil
}

func (m *memResults) Insert(_ context.Context, r *domain.Result) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	byPost, ok := m.rows[r.JobID]
	if !ok {
		byPost = make(map[string]*domain.Result)
		m.rows[r.JobID] = byPost
	}
	if _, dup := byPost[r.ExternalPostID]; dup {
		return false, nil
	}
	m.next++
	r.ID = m.next
	byPost[r.ExternalPostID] = r
	return true, nil
}

func (m *memResults) count(jobID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows[jobID])
}

type staticSource struct {
	posts []domain.CandidatePost
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) FetchPosts(context.Context, string, int) ([]domain.CandidatePost, error) {
	return s.posts, nil
}

type fixedScorer struct{}

func (fixedScorer) Configured() bool { return true }

func (fixedScorer) Score(context.Context, scoring.Request) domain.Score {
	return domain.Scored(6, "plausible lead")
}

type passthroughTx struct{}

func (passthroughTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func TestPipeline_RerunAddsNothing(t *testing.T) {
	ctx := context.Background()
	store := newMemResults()
	ledger := usage.NewLedger(usagetest.NewMemoryStore())
	src := staticSource{posts: []domain.CandidatePost{
		{ExternalID: "t3_1", Title: "Need help with bookkeeping"},
		{ExternalID: "t3_2", Title: "Just sharing a recipe"},
		{ExternalID: "t3_3", Title: "Hiring a VA"},
	}}

	p := NewPipeline(src, store, passthroughTx{}, ledger, fixedScorer{}, nil, nil, testLogger(),
		PipelineConfig{Workers: 3, NotifyMinScore: 7})
	job := &domain.Job{ID: 1, AccountID: 5, Sources: []string{"sales"}, Keywords: []string{"hiring", "need help"}, AIEnabled: true}
	account := &domain.Account{ID: 5, MonthlyAIQuota: usage.Unlimited}

	first, err := p.Run(ctx, job, account)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Inserted)

	second, err := p.Run(ctx, job, account)
	require.NoError(t, err)
	assert.Zero(t, second.Inserted)
	assert.Equal(t, 2, second.Duplicates)
	assert.Zero(t, second.Scored, "stored posts are never rescored")
	assert.Equal(t, 2, store.count(1))

	entry, err := ledger.Current(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, entry.AIPostsCount)
}

type processedFailsStore struct{ *usagetest.MemoryStore }

func (processedFailsStore) IncrementProcessed(context.Context, int64, domain.Period, int) error {
	return errors.New("usage table locked")
}

func TestPipeline_ProcessedCounterFailureKeepsResult(t *testing.T) {
	ctx := context.Background()
	store := newMemResults()
	ledger := usage.NewLedger(processedFailsStore{usagetest.NewMemoryStore()})
	src := staticSource{posts: []domain.CandidatePost{{ExternalID: "t3_9", Title: "Hiring a bookkeeper"}}}

	p := NewPipeline(src, store, passthroughTx{}, ledger, fixedScorer{}, nil, nil, testLogger(),
		PipelineConfig{Workers: 1, NotifyMinScore: 7})
	job := &domain.Job{ID: 2, AccountID: 5, Sources: []string{"sales"}, Keywords: []string{"hiring"}, AIEnabled: true}
	account := &domain.Account{ID: 5, MonthlyAIQuota: usage.Unlimited}

	stats, err := p.Run(ctx, job, account)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	assert.Zero(t, stats.Skipped)
	assert.Equal(t, 1, store.count(2))

	// The next run sees the stored post and does not score it again.
	again, err := p.Run(ctx, job, account)
	require.NoError(t, err)
	assert.Zero(t, again.Scored)

	entry, err := ledger.Current(ctx, account.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.AIPostsCount)
}

package service

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"lead_scraper/internal/domain"
	"lead_scraper/internal/scoring"
	"lead_scraper/internal/usage"
)

const defaultWorkers = 5

// Orchestrator scores matched posts on a bounded worker pool. Every input
// yields exactly one output on the returned channel, in completion order.
type Orchestrator struct {
	scorer  Scorer
	ledger  *usage.Ledger
	workers int
	logger  *slog.Logger
}

func NewOrchestrator(scorer Scorer, ledger *usage.Ledger, workers int, logger *slog.Logger) *Orchestrator {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Orchestrator{
		scorer:  scorer,
		ledger:  ledger,
		workers: workers,
		logger:  logger.With("component", "orchestrator"),
	}
}

// Run dispatches posts for scoring and streams results as they complete. The
// channel is closed once every post has produced a result.
func (o *Orchestrator) Run(ctx context.Context, job *domain.Job, account *domain.Account, posts []domain.MatchedPost) <-chan domain.ScoredPost {
	out := make(chan domain.ScoredPost, len(posts))

	if !job.AIEnabled {
		for _, mp := range posts {
			out <- domain.ScoredPost{MatchedPost: mp, Score: domain.Unscored(domain.ReasonAIDisabled)}
		}
		close(out)
		return out
	}

	go func() {
		defer close(out)

		var g errgroup.Group
		g.SetLimit(o.workers)
		for _, mp := range posts {
			g.Go(func() error {
				out <- o.scoreOne(ctx, job, account, mp)
				return nil
			})
		}
		_ = g.Wait()
	}()

	return out
}

func (o *Orchestrator) scoreOne(ctx context.Context, job *domain.Job, account *domain.Account, mp domain.MatchedPost) domain.ScoredPost {
	sp := domain.ScoredPost{MatchedPost: mp}

	if ctx.Err() != nil {
		sp.Score = domain.Unscored(domain.ReasonRunInterrupted)
		return sp
	}

	// Nothing is sent without a model, so no quota is spent.
	if !o.scorer.Configured() {
		sp.Score = domain.Unscored(domain.ReasonNotConfigured)
		return sp
	}

	res, ok, err := o.ledger.Reserve(ctx, account.ID, account.MonthlyAIQuota)
	if err != nil {
		o.logger.Warn("quota check failed", "account_id", account.ID, "post", mp.Post.ExternalID, "error", err)
		sp.Score = domain.Unscored(domain.ReasonLedgerFailure)
		return sp
	}
	if !ok {
		sp.Score = domain.Unscored(domain.ReasonQuotaExceeded)
		return sp
	}

	sp.Attempted = true
	sp.Score = o.scorer.Score(ctx, scoring.Request{
		Title:    mp.Post.Title,
		Body:     mp.Post.Body,
		Keywords: mp.Keywords,
		Guidance: job.AIGuidance,
	})

	if err := res.Commit(context.WithoutCancel(ctx)); err != nil {
		o.logger.Error("failed to record ai usage", "account_id", account.ID, "error", err)
	}

	return sp
}

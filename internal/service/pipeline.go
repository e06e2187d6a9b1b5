package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"lead_scraper/internal/domain"
	"lead_scraper/internal/matcher"
	"lead_scraper/internal/usage"
)

type PipelineConfig struct {
	Workers        int
	NotifyMinScore int
}

// Pipeline runs one job end to end: fetch, match, dedupe, score, persist and
// notify, source by source.
type Pipeline struct {
	source       Source
	results      ResultStore
	txManager    TransactionManager
	ledger       *usage.Ledger
	orchestrator *Orchestrator
	notifier     Notifier
	publisher    Publisher
	logger       *slog.Logger
	config       PipelineConfig
}

// NewPipeline wires a pipeline. notifier and publisher may be nil.
func NewPipeline(
	source Source,
	results ResultStore,
	txManager TransactionManager,
	ledger *usage.Ledger,
	scorer Scorer,
	notifier Notifier,
	publisher Publisher,
	logger *slog.Logger,
	cfg PipelineConfig,
) *Pipeline {
	return &Pipeline{
		source:       source,
		results:      results,
		txManager:    txManager,
		ledger:       ledger,
		orchestrator: NewOrchestrator(scorer, ledger, cfg.Workers, logger),
		notifier:     notifier,
		publisher:    publisher,
		logger:       logger.With("source", source.Name()),
		config:       cfg,
	}
}

// Run processes every source of the job. A failing source is logged and
// counted; the run only fails when its context ends.
func (p *Pipeline) Run(ctx context.Context, job *domain.Job, account *domain.Account) (*domain.RunStats, error) {
	startTime := time.Now()
	stats := &domain.RunStats{
		RunID:   uuid.NewString(),
		JobID:   job.ID,
		Sources: len(job.Sources),
	}
	logger := p.logger.With("job_id", job.ID, "run_id", stats.RunID)

	logger.Info("starting run",
		"sources", len(job.Sources),
		"keywords", len(job.Keywords),
		"ai_enabled", job.AIEnabled,
	)

	if len(job.Keywords) == 0 {
		logger.Warn("job has no keywords, nothing can match")
		stats.Duration = time.Since(startTime)
		return stats, nil
	}

	for _, src := range job.Sources {
		if err := ctx.Err(); err != nil {
			stats.Duration = time.Since(startTime)
			return stats, fmt.Errorf("run aborted before source %q: %w", src, err)
		}
		if err := p.processSource(ctx, logger.With("subsource", src), job, account, src, stats); err != nil {
			stats.SourceErrors++
			logger.Error("source failed", "subsource", src, "error", err)
		}
	}

	stats.Duration = time.Since(startTime)

	logger.Info("run completed",
		"fetched", stats.Fetched,
		"matched", stats.Matched,
		"duplicates", stats.Duplicates,
		"scored", stats.Scored,
		"degraded", stats.Degraded,
		"inserted", stats.Inserted,
		"skipped", stats.Skipped,
		"notified", stats.Notified,
		"published", stats.Published,
		"source_errors", stats.SourceErrors,
		"duration", stats.Duration,
	)

	if err := ctx.Err(); err != nil {
		return stats, fmt.Errorf("run interrupted: %w", err)
	}
	return stats, nil
}

func (p *Pipeline) processSource(
	ctx context.Context,
	logger *slog.Logger,
	job *domain.Job,
	account *domain.Account,
	src string,
	stats *domain.RunStats,
) error {
	posts, err := p.source.FetchPosts(ctx, src, job.PostLimit)
	if err != nil {
		return fmt.Errorf("fetch posts: %w", err)
	}
	stats.Fetched += len(posts)
	logger.Debug("fetched posts", "count", len(posts))

	matched := p.match(posts, job.Keywords)
	stats.Matched += len(matched)
	if len(matched) == 0 {
		return nil
	}

	fresh, err := p.filterNew(ctx, job.ID, matched)
	if err != nil {
		return fmt.Errorf("check duplicates: %w", err)
	}
	stats.Duplicates += len(matched) - len(fresh)
	logger.Debug("posts to score", "count", len(fresh))

	// Persistence continues past a run timeout so completed scores are kept.
	persistCtx := context.WithoutCancel(ctx)
	for sp := range p.orchestrator.Run(ctx, job, account, fresh) {
		if sp.Score.Value != nil {
			stats.Scored++
		} else {
			stats.Degraded++
		}
		p.persist(persistCtx, logger, job, account, sp, stats)
	}

	return nil
}

func (p *Pipeline) match(posts []domain.CandidatePost, keywords []string) []domain.MatchedPost {
	var matched []domain.MatchedPost
	for _, post := range posts {
		if kws := matcher.Match(post.Title, post.Body, keywords); len(kws) > 0 {
			matched = append(matched, domain.MatchedPost{Post: post, Keywords: kws})
		}
	}
	return matched
}

// filterNew drops posts already stored for the job, and repeats within the
// batch, so they are never scored.
func (p *Pipeline) filterNew(ctx context.Context, jobID int64, matched []domain.MatchedPost) ([]domain.MatchedPost, error) {
	ids := make([]string, len(matched))
	for i, mp := range matched {
		ids[i] = mp.Post.ExternalID
	}

	existing, err := p.results.ExistingExternalIDs(ctx, jobID, ids)
	if err != nil {
		return nil, err
	}

	var fresh []domain.MatchedPost
	seen := make(map[string]struct{}, len(matched))
	for _, mp := range matched {
		id := mp.Post.ExternalID
		if _, ok := existing[id]; ok {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		fresh = append(fresh, mp)
	}
	return fresh, nil
}

func (p *Pipeline) persist(
	ctx context.Context,
	logger *slog.Logger,
	job *domain.Job,
	account *domain.Account,
	sp domain.ScoredPost,
	stats *domain.RunStats,
) {
	result := domain.NewResult(job.ID, sp)

	var inserted bool
	err := p.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		ok, err := p.results.Insert(txCtx, result)
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
		inserted = ok
		return nil
	})
	if err != nil {
		stats.Skipped++
		logger.Error("failed to persist result", "post", sp.Post.ExternalID, "error", err)
		return
	}
	if !inserted {
		stats.Skipped++
		logger.Debug("result already stored", "post", sp.Post.ExternalID)
		return
	}
	stats.Inserted++

	// A failed counter update never discards the stored result.
	if err := p.ledger.RecordProcessed(ctx, account.ID, 1); err != nil {
		logger.Warn("failed to record processed post", "result_id", result.ID, "error", err)
	}

	if p.publisher != nil {
		if err := p.publisher.Publish(ctx, result); err != nil {
			stats.PublishErrors++
			logger.Warn("failed to publish result", "result_id", result.ID, "error", err)
		} else {
			stats.Published++
		}
	}

	if p.shouldNotify(job, result) {
		if err := p.notifier.Notify(ctx, result); err != nil {
			stats.NotifyErrors++
			logger.Warn("crm notification failed", "result_id", result.ID, "error", err)
		} else {
			stats.Notified++
		}
	}
}

func (p *Pipeline) shouldNotify(job *domain.Job, result *domain.Result) bool {
	return p.notifier != nil &&
		job.AIEnabled &&
		result.AIScore != nil &&
		*result.AIScore >= p.config.NotifyMinScore
}

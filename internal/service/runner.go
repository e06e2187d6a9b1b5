package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lead_scraper/internal/domain"
)

const defaultRunTimeout = 30 * time.Minute

// Runner moves jobs through their lifecycle and executes runs. Triggers are
// fire-and-forget; the caller gets an answer once the run is queued.
type Runner struct {
	jobs       JobStore
	accounts   AccountStore
	pipeline   JobRunner
	limiter    RunLimiter
	runTimeout time.Duration
	logger     *slog.Logger
	now        func() time.Time

	wg sync.WaitGroup
}

func NewRunner(
	jobs JobStore,
	accounts AccountStore,
	pipeline JobRunner,
	limiter RunLimiter,
	runTimeout time.Duration,
	logger *slog.Logger,
) *Runner {
	if runTimeout <= 0 {
		runTimeout = defaultRunTimeout
	}
	return &Runner{
		jobs:       jobs,
		accounts:   accounts,
		pipeline:   pipeline,
		limiter:    limiter,
		runTimeout: runTimeout,
		logger:     logger.With("component", "runner"),
		now:        time.Now,
	}
}

// Trigger queues a run and executes it in the background. It returns
// ErrRunInProgress when the job is already queued or running and
// ErrRunLimitReached when the account has no free run slot.
func (r *Runner) Trigger(ctx context.Context, jobID int64) error {
	job, account, err := r.enqueue(ctx, jobID)
	if err != nil {
		return err
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_, _ = r.execute(context.WithoutCancel(ctx), job, account)
	}()

	return nil
}

// RunNow queues and executes a run on the calling goroutine.
func (r *Runner) RunNow(ctx context.Context, jobID int64) (*domain.RunStats, error) {
	job, account, err := r.enqueue(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return r.execute(ctx, job, account)
}

// Wait blocks until every background run has finished.
func (r *Runner) Wait() {
	r.wg.Wait()
}

func (r *Runner) enqueue(ctx context.Context, jobID int64) (*domain.Job, *domain.Account, error) {
	job, err := r.jobs.Get(ctx, jobID)
	if err != nil {
		return nil, nil, fmt.Errorf("load job: %w", err)
	}
	if job.Status.IsActiveRun() {
		return nil, nil, domain.ErrRunInProgress
	}

	if job.Status != domain.JobStatusIdle {
		if _, err := r.jobs.Transition(ctx, jobID, domain.FinishedStatuses(), domain.JobStatusIdle); err != nil {
			return nil, nil, fmt.Errorf("reset job: %w", err)
		}
	}

	queued, err := r.jobs.Transition(ctx, jobID, []domain.JobStatus{domain.JobStatusIdle}, domain.JobStatusQueued)
	if err != nil {
		return nil, nil, fmt.Errorf("queue job: %w", err)
	}
	if !queued {
		return nil, nil, domain.ErrRunInProgress
	}

	account, err := r.accounts.Get(ctx, job.AccountID)
	if err != nil {
		r.unqueue(ctx, jobID)
		return nil, nil, fmt.Errorf("load account: %w", err)
	}

	acquired, err := r.limiter.Acquire(ctx, account.ID, account.MaxConcurrentRuns)
	if err != nil {
		r.unqueue(ctx, jobID)
		return nil, nil, fmt.Errorf("acquire run slot: %w", err)
	}
	if !acquired {
		r.unqueue(ctx, jobID)
		return nil, nil, domain.ErrRunLimitReached
	}

	job.Status = domain.JobStatusQueued
	return job, account, nil
}

func (r *Runner) unqueue(ctx context.Context, jobID int64) {
	ctx = context.WithoutCancel(ctx)
	if _, err := r.jobs.Transition(ctx, jobID, []domain.JobStatus{domain.JobStatusQueued}, domain.JobStatusIdle); err != nil {
		r.logger.Error("failed to return job to idle", "job_id", jobID, "error", err)
	}
}

func (r *Runner) execute(ctx context.Context, job *domain.Job, account *domain.Account) (*domain.RunStats, error) {
	logger := r.logger.With("job_id", job.ID, "account_id", account.ID)

	defer func() {
		if err := r.limiter.Release(context.WithoutCancel(ctx), account.ID); err != nil {
			logger.Warn("failed to release run slot", "error", err)
		}
	}()

	started, err := r.jobs.Transition(ctx, job.ID, []domain.JobStatus{domain.JobStatusQueued}, domain.JobStatusRunning)
	if err == nil && !started {
		err = errors.New("job left queued state before start")
	}
	if err != nil {
		logger.Error("failed to start run", "error", err)
		if _, terr := r.jobs.Transition(context.WithoutCancel(ctx), job.ID,
			[]domain.JobStatus{domain.JobStatusQueued}, domain.JobStatusError); terr != nil {
			logger.Error("failed to mark job as failed", "error", terr)
		}
		return nil, fmt.Errorf("start run: %w", err)
	}
	job.Status = domain.JobStatusRunning

	runCtx, cancel := context.WithTimeout(ctx, r.runTimeout)
	defer cancel()

	stats, runErr := r.runSafely(runCtx, job, account)

	status, msg := domain.JobStatusDone, ""
	if runErr != nil {
		status, msg = domain.JobStatusError, runErr.Error()
		logger.Error("run failed", "error", runErr)
	}

	finished, err := r.jobs.Complete(context.WithoutCancel(ctx), job.ID, status, r.now().UTC(), msg)
	switch {
	case err != nil:
		logger.Error("failed to record run outcome", "status", status, "error", err)
	case !finished:
		logger.Warn("job was changed or removed during run", "status", status)
	}

	return stats, runErr
}

func (r *Runner) runSafely(ctx context.Context, job *domain.Job, account *domain.Account) (stats *domain.RunStats, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("run panicked: %v", p)
		}
	}()
	return r.pipeline.Run(ctx, job, account)
}

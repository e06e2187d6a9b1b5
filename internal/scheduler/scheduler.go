// Package scheduler fires job runs on a cron schedule. It keeps its own
// registry of next fire times, so callers drive it with explicit clock
// values and tests never sleep.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lead_scraper/internal/domain"
)

type JobLister interface {
	ListActive(ctx context.Context) ([]domain.Job, error)
}

type Trigger interface {
	Trigger(ctx context.Context, jobID int64) error
}

type Scheduler struct {
	jobs     JobLister
	trigger  Trigger
	schedule cron.Schedule
	tick     time.Duration
	logger   *slog.Logger

	mu   sync.Mutex
	next map[int64]time.Time
}

// NewScheduler parses spec as a standard five-field cron expression or a
// descriptor such as "@hourly" or "@every 30m".
func NewScheduler(jobs JobLister, trigger Trigger, spec string, tick time.Duration, logger *slog.Logger) (*Scheduler, error) {
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	if tick <= 0 {
		tick = time.Minute
	}

	return &Scheduler{
		jobs:     jobs,
		trigger:  trigger,
		schedule: schedule,
		tick:     tick,
		logger:   logger.With("component", "scheduler"),
		next:     make(map[int64]time.Time),
	}, nil
}

// Sync registers newly active jobs to fire at now and forgets jobs that are
// no longer active.
func (s *Scheduler) Sync(ctx context.Context, now time.Time) error {
	jobs, err := s.jobs.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active jobs: %w", err)
	}

	active := make(map[int64]struct{}, len(jobs))
	for _, j := range jobs {
		active[j.ID] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range s.next {
		if _, ok := active[id]; !ok {
			delete(s.next, id)
			s.logger.Debug("job unregistered", "job_id", id)
		}
	}
	for id := range active {
		if _, ok := s.next[id]; !ok {
			s.next[id] = now
			s.logger.Debug("job registered", "job_id", id)
		}
	}
	return nil
}

// Tick returns the jobs due at now, in id order, and moves each one to its
// next fire time after now. Missed fires collapse into one.
func (s *Scheduler) Tick(now time.Time) []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []int64
	for id, at := range s.next {
		if at.After(now) {
			continue
		}
		due = append(due, id)
		s.next[id] = s.schedule.Next(now)
	}
	slices.Sort(due)
	return due
}

// RunDue syncs the registry and triggers every due job. Trigger failures are
// logged; a job that is already running simply waits for its next fire.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) []int64 {
	if err := s.Sync(ctx, now); err != nil {
		s.logger.Error("sync failed", "error", err)
	}

	var triggered []int64
	for _, id := range s.Tick(now) {
		err := s.trigger.Trigger(ctx, id)
		switch {
		case err == nil:
			triggered = append(triggered, id)
		case errors.Is(err, domain.ErrRunInProgress):
			s.logger.Debug("job still running, skipped", "job_id", id)
		case errors.Is(err, domain.ErrRunLimitReached):
			s.logger.Warn("run limit reached, skipped", "job_id", id)
		default:
			s.logger.Error("trigger failed", "job_id", id, "error", err)
		}
	}

	if len(triggered) > 0 {
		s.logger.Info("triggered scheduled runs", "jobs", triggered)
	}
	return triggered
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("scheduler started", "tick", s.tick)

	s.RunDue(ctx, time.Now())

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case now := <-ticker.C:
			s.RunDue(ctx, now)
		}
	}
}

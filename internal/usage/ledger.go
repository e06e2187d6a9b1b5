// Package usage gates AI scoring against per-account monthly quotas.
//
// Quota is checked per post at dispatch time and the persistent counter is
// incremented after the scoring call was attempted. Within one process,
// in-flight reservations are counted alongside the stored counter so
// concurrent workers cannot jointly overshoot; across processes the overshoot
// is bounded by the number of concurrent workers.
package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"lead_scraper/internal/domain"
)

// Unlimited disables the quota check for an account.
const Unlimited = -1

// Store persists monthly counters. Get returns a zero entry when none exists.
type Store interface {
	Get(ctx context.Context, accountID int64, period domain.Period) (*domain.UsageEntry, error)
	IncrementAI(ctx context.Context, accountID int64, period domain.Period, n int) error
	IncrementProcessed(ctx context.Context, accountID int64, period domain.Period, n int) error
}

type key struct {
	accountID int64
	period    domain.Period
}

type Ledger struct {
	store Store
	now   func() time.Time

	mu       sync.Mutex
	inflight map[key]int
}

func NewLedger(store Store) *Ledger {
	return &Ledger{
		store:    store,
		now:      time.Now,
		inflight: make(map[key]int),
	}
}

// WithClock overrides the time source, for tests.
func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

// Reservation holds one unit of quota for a scoring call in flight.
type Reservation struct {
	ledger *Ledger
	key    key
	once   sync.Once
}

// Reserve checks whether the account has quota left for one more scoring
// call this month. When allowed, the caller must Commit or Release the
// returned reservation.
func (l *Ledger) Reserve(ctx context.Context, accountID int64, quota int) (*Reservation, bool, error) {
	k := key{accountID: accountID, period: domain.PeriodOf(l.now())}

	l.mu.Lock()
	defer l.mu.Unlock()

	if quota >= 0 {
		entry, err := l.store.Get(ctx, accountID, k.period)
		if err != nil {
			return nil, false, fmt.Errorf("get usage: %w", err)
		}
		if entry.AIPostsCount+l.inflight[k] >= quota {
			return nil, false, nil
		}
	}

	l.inflight[k]++
	return &Reservation{ledger: l, key: k}, true, nil
}

// Commit records the attempted scoring call and frees the reservation.
// It is safe to call more than once; only the first call counts.
func (r *Reservation) Commit(ctx context.Context) error {
	var err error
	r.once.Do(func() {
		err = r.ledger.store.IncrementAI(ctx, r.key.accountID, r.key.period, 1)
		r.ledger.release(r.key)
		if err != nil {
			err = fmt.Errorf("increment ai usage: %w", err)
		}
	})
	return err
}

// Release frees the reservation without consuming quota, for calls that were
// never attempted.
func (r *Reservation) Release() {
	r.once.Do(func() {
		r.ledger.release(r.key)
	})
}

func (l *Ledger) release(k key) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inflight[k]--
	if l.inflight[k] <= 0 {
		delete(l.inflight, k)
	}
}

// RecordProcessed adds n to the account's processed-posts counter.
func (l *Ledger) RecordProcessed(ctx context.Context, accountID int64, n int) error {
	if n <= 0 {
		return nil
	}
	if err := l.store.IncrementProcessed(ctx, accountID, domain.PeriodOf(l.now()), n); err != nil {
		return fmt.Errorf("increment processed usage: %w", err)
	}
	return nil
}

// Current returns the account's counters for the current month.
func (l *Ledger) Current(ctx context.Context, accountID int64) (*domain.UsageEntry, error) {
	return l.store.Get(ctx, accountID, domain.PeriodOf(l.now()))
}

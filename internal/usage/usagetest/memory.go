// Package usagetest provides an in-memory usage store for tests.
package usagetest

import (
	"context"
	"sync"

	"lead_scraper/internal/domain"
)

// MemoryStore keeps counters in process memory.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[domain.Period]map[int64]*domain.UsageEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[domain.Period]map[int64]*domain.UsageEntry)}
}

func (s *MemoryStore) Get(_ context.Context, accountID int64, period domain.Period) (*domain.UsageEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entry(accountID, period)
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) IncrementAI(_ context.Context, accountID int64, period domain.Period, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(accountID, period).AIPostsCount += n
	return nil
}

func (s *MemoryStore) IncrementProcessed(_ context.Context, accountID int64, period domain.Period, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(accountID, period).PostsProcessed += n
	return nil
}

func (s *MemoryStore) entry(accountID int64, period domain.Period) *domain.UsageEntry {
	byAccount, ok := s.entries[period]
	if !ok {
		byAccount = make(map[int64]*domain.UsageEntry)
		s.entries[period] = byAccount
	}
	e, ok := byAccount[accountID]
	if !ok {
		e = &domain.UsageEntry{AccountID: accountID, Year: period.Year, Month: period.Month}
		byAccount[accountID] = e
	}
	return e
}

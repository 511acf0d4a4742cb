package memory

import (
	"context"
	"fmt"
	"sync"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/storage"
)

// ProgressStore is an in-memory implementation of storage.ProgressStore.
type ProgressStore struct {
	mu   sync.RWMutex
	data map[string]*domain.BackfillProgress // keyed by (pool, timeframe)
}

// NewProgressStore creates a new in-memory progress store.
func NewProgressStore() *ProgressStore {
	return &ProgressStore{
		data: make(map[string]*domain.BackfillProgress),
	}
}

func progressKey(pool string, tf domain.Timeframe) string {
	return fmt.Sprintf("%s|%s", pool, tf)
}

// Get retrieves the checkpoint. Returns ErrNotFound if none exists.
func (s *ProgressStore) Get(_ context.Context, poolAddress string, tf domain.Timeframe) (*domain.BackfillProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[progressKey(poolAddress, tf)]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

// Put inserts or replaces the checkpoint.
func (s *ProgressStore) Put(_ context.Context, p *domain.BackfillProgress) error {
	if p == nil || p.PoolAddress == "" || p.Timeframe.Seconds() <= 0 {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.data[progressKey(p.PoolAddress, p.Timeframe)] = &copy
	return nil
}

var _ storage.ProgressStore = (*ProgressStore)(nil)

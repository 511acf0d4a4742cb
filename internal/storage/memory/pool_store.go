package memory

import (
	"context"
	"sort"
	"sync"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/storage"
)

// PoolStore is an in-memory implementation of storage.PoolStore.
type PoolStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Pool // keyed by pool address
}

// NewPoolStore creates a new in-memory pool store.
func NewPoolStore() *PoolStore {
	return &PoolStore{
		data: make(map[string]*domain.Pool),
	}
}

// Upsert inserts the pool or refreshes its mutable stats. DiscoveredAt is
// written once and never changed afterwards.
func (s *PoolStore) Upsert(_ context.Context, p *domain.Pool) error {
	if p == nil || p.Address == "" || p.TokenMint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	if existing, ok := s.data[p.Address]; ok {
		copy.DiscoveredAt = existing.DiscoveredAt
	}
	s.data[p.Address] = &copy
	return nil
}

// GetByToken retrieves all pools trading the mint, ordered by descending
// 24h volume.
func (s *PoolStore) GetByToken(_ context.Context, mint string) ([]*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Pool
	for _, p := range s.data {
		if p.TokenMint == mint {
			copy := *p
			result = append(result, &copy)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Volume24h != result[j].Volume24h {
			return result[i].Volume24h > result[j].Volume24h
		}
		return result[i].Address < result[j].Address
	})
	return result, nil
}

// GetByAddress retrieves one pool. Returns ErrNotFound if not exists.
func (s *PoolStore) GetByAddress(_ context.Context, address string) (*domain.Pool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.data[address]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *p
	return &copy, nil
}

var _ storage.PoolStore = (*PoolStore)(nil)

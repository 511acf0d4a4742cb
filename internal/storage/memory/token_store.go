package memory

import (
	"context"
	"sync"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/storage"
)

// TokenStore is an in-memory implementation of storage.TokenStore.
type TokenStore struct {
	mu   sync.RWMutex
	data map[string]*domain.TokenInfo // keyed by mint
}

// NewTokenStore creates a new in-memory token store.
func NewTokenStore() *TokenStore {
	return &TokenStore{
		data: make(map[string]*domain.TokenInfo),
	}
}

// Upsert inserts or updates token metadata by mint.
func (s *TokenStore) Upsert(_ context.Context, t *domain.TokenInfo) error {
	if t == nil || t.Mint == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *t
	if t.MigratedAt != nil {
		ts := *t.MigratedAt
		copy.MigratedAt = &ts
	}
	s.data[t.Mint] = &copy
	return nil
}

// Get retrieves metadata by mint. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(_ context.Context, mint string) (*domain.TokenInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[mint]
	if !ok {
		return nil, storage.ErrNotFound
	}
	copy := *t
	if t.MigratedAt != nil {
		ts := *t.MigratedAt
		copy.MigratedAt = &ts
	}
	return &copy, nil
}

var _ storage.TokenStore = (*TokenStore)(nil)

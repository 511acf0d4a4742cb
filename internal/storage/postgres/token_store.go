package postgres

import (
	"context"
	"fmt"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/storage"
)

// TokenStore implements storage.TokenStore using PostgreSQL.
type TokenStore struct {
	pool *Pool
}

// NewTokenStore creates a new TokenStore.
func NewTokenStore(pool *Pool) *TokenStore {
	return &TokenStore{pool: pool}
}

// Compile-time interface check.
var _ storage.TokenStore = (*TokenStore)(nil)

// Upsert inserts or updates token metadata by mint.
func (s *TokenStore) Upsert(ctx context.Context, t *domain.TokenInfo) error {
	if t == nil || t.Mint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO tokens (
			mint, name, symbol, decimals, created_at, graduated, migrated_at, migrated_pool_address
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (mint) DO UPDATE SET
			name = EXCLUDED.name,
			symbol = EXCLUDED.symbol,
			decimals = EXCLUDED.decimals,
			graduated = EXCLUDED.graduated,
			migrated_at = EXCLUDED.migrated_at,
			migrated_pool_address = EXCLUDED.migrated_pool_address
	`

	_, err := s.pool.Exec(ctx, query,
		t.Mint,
		t.Name,
		t.Symbol,
		t.Decimals,
		t.CreatedAt,
		t.Graduated,
		t.MigratedAt,
		t.MigratedPoolAddress,
	)
	if err != nil {
		return fmt.Errorf("upsert token: %w", err)
	}
	return nil
}

// Get retrieves metadata by mint. Returns ErrNotFound if not exists.
func (s *TokenStore) Get(ctx context.Context, mint string) (*domain.TokenInfo, error) {
	query := `
		SELECT mint, name, symbol, decimals, created_at, graduated, migrated_at, migrated_pool_address
		FROM tokens
		WHERE mint = $1
	`

	var t domain.TokenInfo
	err := s.pool.QueryRow(ctx, query, mint).Scan(
		&t.Mint, &t.Name, &t.Symbol, &t.Decimals,
		&t.CreatedAt, &t.Graduated, &t.MigratedAt, &t.MigratedPoolAddress,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get token: %w", err)
	}
	return &t, nil
}

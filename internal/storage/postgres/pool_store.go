package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/storage"
)

// PoolStore implements storage.PoolStore using PostgreSQL.
type PoolStore struct {
	pool *Pool
}

// NewPoolStore creates a new PoolStore.
func NewPoolStore(pool *Pool) *PoolStore {
	return &PoolStore{pool: pool}
}

// Compile-time interface check.
var _ storage.PoolStore = (*PoolStore)(nil)

// Upsert inserts the pool or refreshes its mutable stats. discovered_at is
// set on first insert only; the conflict branch leaves it untouched.
func (s *PoolStore) Upsert(ctx context.Context, p *domain.Pool) error {
	if p == nil || p.Address == "" || p.TokenMint == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO pools (
			address, token_mint, dex_id, pool_type, volume_24h, liquidity_usd, discovered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (address) DO UPDATE SET
			dex_id = EXCLUDED.dex_id,
			pool_type = EXCLUDED.pool_type,
			volume_24h = EXCLUDED.volume_24h,
			liquidity_usd = EXCLUDED.liquidity_usd
	`

	_, err := s.pool.Exec(ctx, query,
		p.Address,
		p.TokenMint,
		p.DexID,
		p.PoolType,
		p.Volume24h,
		p.LiquidityUSD,
		p.DiscoveredAt,
	)
	if err != nil {
		return fmt.Errorf("upsert pool: %w", err)
	}
	return nil
}

// GetByToken retrieves all pools trading the mint, ordered by descending
// 24h volume.
func (s *PoolStore) GetByToken(ctx context.Context, mint string) ([]*domain.Pool, error) {
	query := `
		SELECT address, token_mint, dex_id, pool_type, volume_24h, liquidity_usd, discovered_at
		FROM pools
		WHERE token_mint = $1
		ORDER BY volume_24h DESC, address ASC
	`

	rows, err := s.pool.Query(ctx, query, mint)
	if err != nil {
		return nil, fmt.Errorf("get pools by token: %w", err)
	}
	defer rows.Close()

	return scanPools(rows)
}

// GetByAddress retrieves one pool. Returns ErrNotFound if not exists.
func (s *PoolStore) GetByAddress(ctx context.Context, address string) (*domain.Pool, error) {
	query := `
		SELECT address, token_mint, dex_id, pool_type, volume_24h, liquidity_usd, discovered_at
		FROM pools
		WHERE address = $1
	`

	var p domain.Pool
	err := s.pool.QueryRow(ctx, query, address).Scan(
		&p.Address, &p.TokenMint, &p.DexID, &p.PoolType,
		&p.Volume24h, &p.LiquidityUSD, &p.DiscoveredAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get pool by address: %w", err)
	}
	return &p, nil
}

func scanPools(rows pgx.Rows) ([]*domain.Pool, error) {
	var pools []*domain.Pool
	for rows.Next() {
		var p domain.Pool
		err := rows.Scan(
			&p.Address, &p.TokenMint, &p.DexID, &p.PoolType,
			&p.Volume24h, &p.LiquidityUSD, &p.DiscoveredAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan pool row: %w", err)
		}
		pools = append(pools, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool rows: %w", err)
	}
	return pools, nil
}

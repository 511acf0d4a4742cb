package storage

import (
	"context"

	"solana-candle-lab/internal/domain"
)

// CandleStore provides access to candle storage. Upserts are idempotent on
// (pool_address, timeframe, bucket_start); re-storing an identical candle is
// a no-op.
type CandleStore interface {
	// UpsertBulk inserts or replaces candles by their bucket key.
	UpsertBulk(ctx context.Context, candles []domain.Candle) error

	// GetRange retrieves candles for (pool, timeframe) with bucket start in
	// [from, to] inclusive, ordered by bucket start ASC.
	GetRange(ctx context.Context, poolAddress string, tf domain.Timeframe, from, to int64) ([]domain.Candle, error)

	// GetLatest returns the newest candle for (pool, timeframe).
	// Returns ErrNotFound when none are stored.
	GetLatest(ctx context.Context, poolAddress string, tf domain.Timeframe) (*domain.Candle, error)

	// GetOldest returns the oldest candle for (pool, timeframe).
	// Returns ErrNotFound when none are stored.
	GetOldest(ctx context.Context, poolAddress string, tf domain.Timeframe) (*domain.Candle, error)
}

// PoolStore provides access to discovered trading venues. Pools are never
// deleted; re-discovery refreshes stats but keeps discovered_at.
type PoolStore interface {
	// Upsert inserts the pool or refreshes its mutable stats. DiscoveredAt
	// is written on first insert only.
	Upsert(ctx context.Context, p *domain.Pool) error

	// GetByToken retrieves all pools trading the mint.
	GetByToken(ctx context.Context, mint string) ([]*domain.Pool, error)

	// GetByAddress retrieves one pool. Returns ErrNotFound if not exists.
	GetByAddress(ctx context.Context, address string) (*domain.Pool, error)
}

// ProgressStore provides access to backfill checkpoints keyed by
// (pool_address, timeframe).
type ProgressStore interface {
	// Get retrieves the checkpoint. Returns ErrNotFound if none exists.
	Get(ctx context.Context, poolAddress string, tf domain.Timeframe) (*domain.BackfillProgress, error)

	// Put inserts or replaces the checkpoint.
	Put(ctx context.Context, p *domain.BackfillProgress) error
}

// TokenStore provides access to token metadata, including the migration
// boundary that classifies candles as pre- or post-migration.
type TokenStore interface {
	// Upsert inserts or updates token metadata by mint.
	Upsert(ctx context.Context, t *domain.TokenInfo) error

	// Get retrieves metadata by mint. Returns ErrNotFound if not exists.
	Get(ctx context.Context, mint string) (*domain.TokenInfo, error)
}

package postgres

import (
	"context"
	"fmt"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/storage"
)

// ProgressStore implements storage.ProgressStore using PostgreSQL.
type ProgressStore struct {
	pool *Pool
}

// NewProgressStore creates a new ProgressStore.
func NewProgressStore(pool *Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ProgressStore = (*ProgressStore)(nil)

// Get retrieves the checkpoint for (pool, timeframe). Returns ErrNotFound
// if none exists.
func (s *ProgressStore) Get(ctx context.Context, poolAddress string, tf domain.Timeframe) (*domain.BackfillProgress, error) {
	query := `
		SELECT pool_address, timeframe, oldest_ts, newest_ts, complete, fetch_count, error_count, last_error, updated_at
		FROM backfill_progress
		WHERE pool_address = $1 AND timeframe = $2
	`

	var p domain.BackfillProgress
	var tfs string
	err := s.pool.QueryRow(ctx, query, poolAddress, string(tf)).Scan(
		&p.PoolAddress, &tfs, &p.OldestTimestamp, &p.NewestTimestamp,
		&p.Complete, &p.FetchCount, &p.ErrorCount, &p.LastError, &p.UpdatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get backfill progress: %w", err)
	}
	p.Timeframe = domain.Timeframe(tfs)
	return &p, nil
}

// Put inserts or replaces the checkpoint.
func (s *ProgressStore) Put(ctx context.Context, p *domain.BackfillProgress) error {
	if p == nil || p.PoolAddress == "" || p.Timeframe.Seconds() <= 0 {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO backfill_progress (
			pool_address, timeframe, oldest_ts, newest_ts, complete, fetch_count, error_count, last_error, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pool_address, timeframe) DO UPDATE SET
			oldest_ts = EXCLUDED.oldest_ts,
			newest_ts = EXCLUDED.newest_ts,
			complete = EXCLUDED.complete,
			fetch_count = EXCLUDED.fetch_count,
			error_count = EXCLUDED.error_count,
			last_error = EXCLUDED.last_error,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		p.PoolAddress,
		string(p.Timeframe),
		p.OldestTimestamp,
		p.NewestTimestamp,
		p.Complete,
		p.FetchCount,
		p.ErrorCount,
		p.LastError,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put backfill progress: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"fmt"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using PostgreSQL.
type CandleStore struct {
	pool *Pool
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(pool *Pool) *CandleStore {
	return &CandleStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// UpsertBulk inserts or replaces candles by (pool_address, timeframe,
// bucket_start). Re-storing an identical candle is a no-op.
func (s *CandleStore) UpsertBulk(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO candles (
			pool_address, timeframe, bucket_start, open, high, low, close, volume, post_migration
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (pool_address, timeframe, bucket_start) DO UPDATE SET
			open = EXCLUDED.open,
			high = EXCLUDED.high,
			low = EXCLUDED.low,
			close = EXCLUDED.close,
			volume = EXCLUDED.volume,
			post_migration = EXCLUDED.post_migration
	`

	for _, c := range candles {
		if c.PoolAddress == "" || c.Timeframe.Seconds() <= 0 {
			return storage.ErrInvalidInput
		}
		_, err := tx.Exec(ctx, query,
			c.PoolAddress,
			string(c.Timeframe),
			c.BucketStart,
			c.Open,
			c.High,
			c.Low,
			c.Close,
			c.Volume,
			c.PostMigration,
		)
		if err != nil {
			return fmt.Errorf("upsert candle: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// GetRange retrieves candles with bucket start in [from, to], ordered ASC.
func (s *CandleStore) GetRange(ctx context.Context, poolAddress string, tf domain.Timeframe, from, to int64) ([]domain.Candle, error) {
	query := `
		SELECT pool_address, timeframe, bucket_start, open, high, low, close, volume, post_migration
		FROM candles
		WHERE pool_address = $1 AND timeframe = $2 AND bucket_start >= $3 AND bucket_start <= $4
		ORDER BY bucket_start ASC
	`

	rows, err := s.pool.Query(ctx, query, poolAddress, string(tf), from, to)
	if err != nil {
		return nil, fmt.Errorf("get candle range: %w", err)
	}
	defer rows.Close()

	var candles []domain.Candle
	for rows.Next() {
		var c domain.Candle
		var tfs string
		err := rows.Scan(
			&c.PoolAddress, &tfs, &c.BucketStart,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.PostMigration,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}
		c.Timeframe = domain.Timeframe(tfs)
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}

// GetLatest returns the newest candle for (pool, timeframe).
func (s *CandleStore) GetLatest(ctx context.Context, poolAddress string, tf domain.Timeframe) (*domain.Candle, error) {
	return s.boundary(ctx, poolAddress, tf, "DESC")
}

// GetOldest returns the oldest candle for (pool, timeframe).
func (s *CandleStore) GetOldest(ctx context.Context, poolAddress string, tf domain.Timeframe) (*domain.Candle, error) {
	return s.boundary(ctx, poolAddress, tf, "ASC")
}

func (s *CandleStore) boundary(ctx context.Context, poolAddress string, tf domain.Timeframe, order string) (*domain.Candle, error) {
	query := fmt.Sprintf(`
		SELECT pool_address, timeframe, bucket_start, open, high, low, close, volume, post_migration
		FROM candles
		WHERE pool_address = $1 AND timeframe = $2
		ORDER BY bucket_start %s
		LIMIT 1
	`, order)

	var c domain.Candle
	var tfs string
	err := s.pool.QueryRow(ctx, query, poolAddress, string(tf)).Scan(
		&c.PoolAddress, &tfs, &c.BucketStart,
		&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.PostMigration,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get boundary candle: %w", err)
	}
	c.Timeframe = domain.Timeframe(tfs)
	return &c, nil
}

package clickhouse

import (
	"context"
	"fmt"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/storage"
)

// CandleStore implements storage.CandleStore using ClickHouse. The candles
// table is a ReplacingMergeTree keyed (pool_address, timeframe,
// bucket_start), so upserts are plain inserts and reads use FINAL for
// merge-time dedup.
type CandleStore struct {
	conn *Conn
}

// NewCandleStore creates a new CandleStore.
func NewCandleStore(conn *Conn) *CandleStore {
	return &CandleStore{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleStore = (*CandleStore)(nil)

// UpsertBulk inserts candles; ReplacingMergeTree collapses duplicate bucket
// keys at merge time, keeping the latest insert.
func (s *CandleStore) UpsertBulk(ctx context.Context, candles []domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candles (
			pool_address, timeframe, bucket_start, open, high, low, close, volume, post_migration
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		if c.PoolAddress == "" || c.Timeframe.Seconds() <= 0 {
			return storage.ErrInvalidInput
		}
		err = batch.Append(
			c.PoolAddress, string(c.Timeframe), uint64(c.BucketStart),
			c.Open, c.High, c.Low, c.Close, c.Volume, c.PostMigration,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetRange retrieves candles with bucket start in [from, to], ordered ASC.
func (s *CandleStore) GetRange(ctx context.Context, poolAddress string, tf domain.Timeframe, from, to int64) ([]domain.Candle, error) {
	query := `
		SELECT pool_address, timeframe, bucket_start, open, high, low, close, volume, post_migration
		FROM candles FINAL
		WHERE pool_address = ? AND timeframe = ? AND bucket_start >= ? AND bucket_start <= ?
		ORDER BY bucket_start ASC
	`

	rows, err := s.conn.Query(ctx, query, poolAddress, string(tf), uint64(from), uint64(to))
	if err != nil {
		return nil, fmt.Errorf("query candle range: %w", err)
	}
	defer rows.Close()

	return scanCandles(rows)
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
		FROM candles FINAL
		WHERE pool_address = ? AND timeframe = ?
		ORDER BY bucket_start %s
		LIMIT 1
	`, order)

	rows, err := s.conn.Query(ctx, query, poolAddress, string(tf))
	if err != nil {
		return nil, fmt.Errorf("query boundary candle: %w", err)
	}
	defer rows.Close()

	candles, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, storage.ErrNotFound
	}
	return &candles[0], nil
}

func scanCandles(rows chRows) ([]domain.Candle, error) {
	var candles []domain.Candle

	for rows.Next() {
		var c domain.Candle
		var tfs string
		var bucketStart uint64

		err := rows.Scan(
			&c.PoolAddress, &tfs, &bucketStart,
			&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.PostMigration,
		)
		if err != nil {
			return nil, fmt.Errorf("scan candle row: %w", err)
		}

		c.Timeframe = domain.Timeframe(tfs)
		c.BucketStart = int64(bucketStart)
		candles = append(candles, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candle rows: %w", err)
	}
	return candles, nil
}

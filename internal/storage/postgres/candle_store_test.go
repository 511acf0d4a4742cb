package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/storage"
)

func testCandle(pool string, bucketStart int64, close float64) domain.Candle {
	return domain.Candle{
		PoolAddress: pool,
		Timeframe:   domain.Timeframe1m,
		BucketStart: bucketStart,
		Open:        close,
		High:        close + 0.5,
		Low:         close - 0.5,
		Close:       close,
		Volume:      10,
	}
}

func TestCandleStore_UpsertAndGetRange(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	err := store.UpsertBulk(ctx, []domain.Candle{
		testCandle("pool1", 180, 3.0),
		testCandle("pool1", 60, 1.0),
		testCandle("pool1", 120, 2.0),
	})
	require.NoError(t, err)

	candles, err := store.GetRange(ctx, "pool1", domain.Timeframe1m, 60, 120)
	require.NoError(t, err)

	assert.Len(t, candles, 2)
	assert.Equal(t, int64(60), candles[0].BucketStart)
	assert.Equal(t, int64(120), candles[1].BucketStart)
	assert.InDelta(t, 1.0, candles[0].Close, 0.0001)
	assert.Equal(t, domain.Timeframe1m, candles[0].Timeframe)
}

func TestCandleStore_UpsertReplacesByBucketKey(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	require.NoError(t, store.UpsertBulk(ctx, []domain.Candle{testCandle("pool1", 60, 1.0)}))

	replacement := testCandle("pool1", 60, 2.0)
	replacement.PostMigration = true
	require.NoError(t, store.UpsertBulk(ctx, []domain.Candle{replacement}))

	candles, err := store.GetRange(ctx, "pool1", domain.Timeframe1m, 0, 1000)
	require.NoError(t, err)

	assert.Len(t, candles, 1)
	assert.InDelta(t, 2.0, candles[0].Close, 0.0001)
	assert.True(t, candles[0].PostMigration)
}

func TestCandleStore_Boundaries(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	store := NewCandleStore(pool)

	_, err := store.GetLatest(ctx, "pool1", domain.Timeframe1m)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	err = store.UpsertBulk(ctx, []domain.Candle{
		testCandle("pool1", 60, 1.0),
		testCandle("pool1", 300, 5.0),
		testCandle("pool1", 180, 3.0),
	})
	require.NoError(t, err)

	latest, err := store.GetLatest(ctx, "pool1", domain.Timeframe1m)
	require.NoError(t, err)
	assert.Equal(t, int64(300), latest.BucketStart)

	oldest, err := store.GetOldest(ctx, "pool1", domain.Timeframe1m)
	require.NoError(t, err)
	assert.Equal(t, int64(60), oldest.BucketStart)
}

func TestCandleStore_EmptyBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandleStore(pool)
	assert.NoError(t, store.UpsertBulk(context.Background(), nil))
}

func TestCandleStore_InvalidInput(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewCandleStore(pool)
	err := store.UpsertBulk(context.Background(), []domain.Candle{{BucketStart: 60}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/storage"
)

// CandleStore is an in-memory implementation of storage.CandleStore.
type CandleStore struct {
	mu   sync.RWMutex
	data map[string]domain.Candle // keyed by (pool, timeframe, bucket start)
}

// NewCandleStore creates a new in-memory candle store.
func NewCandleStore() *CandleStore {
	return &CandleStore{
		data: make(map[string]domain.Candle),
	}
}

func candleKey(pool string, tf domain.Timeframe, bucketStart int64) string {
	return fmt.Sprintf("%s|%s|%d", pool, tf, bucketStart)
}

// UpsertBulk inserts or replaces candles by their bucket key.
func (s *CandleStore) UpsertBulk(_ context.Context, candles []domain.Candle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range candles {
		if c.PoolAddress == "" || c.Timeframe.Seconds() <= 0 {
			return storage.ErrInvalidInput
		}
		s.data[candleKey(c.PoolAddress, c.Timeframe, c.BucketStart)] = c
	}
	return nil
}

// GetRange retrieves candles with bucket start in [from, to], ordered ASC.
func (s *CandleStore) GetRange(_ context.Context, poolAddress string, tf domain.Timeframe, from, to int64) ([]domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.Candle
	for _, c := range s.data {
		if c.PoolAddress == poolAddress && c.Timeframe == tf && c.BucketStart >= from && c.BucketStart <= to {
			result = append(result, c)
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].BucketStart < result[j].BucketStart
	})
	return result, nil
}

// GetLatest returns the newest candle for (pool, timeframe).
func (s *CandleStore) GetLatest(_ context.Context, poolAddress string, tf domain.Timeframe) (*domain.Candle, error) {
	return s.boundary(poolAddress, tf, func(candidate, best int64) bool { return candidate > best })
}

// GetOldest returns the oldest candle for (pool, timeframe).
func (s *CandleStore) GetOldest(_ context.Context, poolAddress string, tf domain.Timeframe) (*domain.Candle, error) {
	return s.boundary(poolAddress, tf, func(candidate, best int64) bool { return candidate < best })
}

func (s *CandleStore) boundary(poolAddress string, tf domain.Timeframe, better func(candidate, best int64) bool) (*domain.Candle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var best *domain.Candle
	for _, c := range s.data {
		if c.PoolAddress != poolAddress || c.Timeframe != tf {
			continue
		}
		if best == nil || better(c.BucketStart, best.BucketStart) {
			copy := c
			best = &copy
		}
	}
	if best == nil {
		return nil, storage.ErrNotFound
	}
	return best, nil
}

var _ storage.CandleStore = (*CandleStore)(nil)

package candles

import (
	"sync"

	"solana-candle-lab/internal/domain"
)

// LiveBuilder folds a realtime price stream into candles of one timeframe
// for one pool. A completed bucket is returned by Add when the stream
// crosses a bucket boundary; Flush force-closes the open bucket.
type LiveBuilder struct {
	mu          sync.Mutex
	poolAddress string
	tf          domain.Timeframe

	current   *domain.Candle
	lastClose float64
}

// NewLiveBuilder creates a builder for (pool, timeframe).
func NewLiveBuilder(poolAddress string, tf domain.Timeframe) *LiveBuilder {
	return &LiveBuilder{poolAddress: poolAddress, tf: tf}
}

// Add folds one price point, ts in unix seconds. When the point opens a new
// bucket, the finished candles up to it are returned: the closed bucket plus
// flat candles for any empty buckets in between, each opening at the prior
// close.
func (b *LiveBuilder) Add(ts int64, price, volume float64) []domain.Candle {
	if ts <= 0 || price <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.tf.BucketStart(ts)

	if b.current == nil {
		open := price
		if b.lastClose > 0 {
			open = b.lastClose
		}
		b.current = newBucket(b.poolAddress, b.tf, start, open)
		b.fold(price, volume)
		return nil
	}

	if start == b.current.BucketStart {
		b.fold(price, volume)
		return nil
	}
	if start < b.current.BucketStart {
		// Late point for an already-open bucket boundary; fold it rather
		// than rewriting closed history.
		b.fold(price, volume)
		return nil
	}

	var flushed []domain.Candle
	flushed = append(flushed, *b.current)
	b.lastClose = b.current.Close

	width := b.tf.Seconds()
	for next := b.current.BucketStart + width; next < start; next += width {
		flat := newBucket(b.poolAddress, b.tf, next, b.lastClose)
		flushed = append(flushed, *flat)
	}

	b.current = newBucket(b.poolAddress, b.tf, start, b.lastClose)
	b.fold(price, volume)
	return flushed
}

// Flush closes and returns the open bucket, if any.
func (b *LiveBuilder) Flush() []domain.Candle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return nil
	}
	out := []domain.Candle{*b.current}
	b.lastClose = b.current.Close
	b.current = nil
	return out
}

func (b *LiveBuilder) fold(price, volume float64) {
	c := b.current
	if price > c.High {
		c.High = price
	}
	if price < c.Low {
		c.Low = price
	}
	c.Close = price
	c.Volume += volume
}

func newBucket(pool string, tf domain.Timeframe, start int64, open float64) *domain.Candle {
	return &domain.Candle{
		PoolAddress: pool,
		Timeframe:   tf,
		BucketStart: start,
		Open:        open,
		High:        open,
		Low:         open,
		Close:       open,
	}
}

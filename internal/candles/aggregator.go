// Package candles folds swaps into OHLCV buckets and reconciles locally
// built candles with rows fetched from the market-data API. Everything here
// is pure; persistence and fetching live elsewhere.
package candles

import (
	"sort"

	"solana-candle-lab/internal/domain"
)

// AggregateSwaps buckets swaps into candles of the given timeframe.
// Swaps are processed in arrival order within a bucket, so the caller is
// responsible for ordering the batch (TagSwaps already does).
//
// Continuity rules: a bucket's open is the previous bucket's close when one
// exists, otherwise the first swap's price; high and low are clamped to
// include the open; interior buckets with no swaps are synthesized flat at
// the previous close with zero volume. prevClose seeds the first bucket's
// open, linking this batch to history already stored; nil means no history.
func AggregateSwaps(swaps []*domain.Swap, poolAddress string, tf domain.Timeframe, prevClose *float64) []domain.Candle {
	if len(swaps) == 0 || tf.Seconds() <= 0 {
		return nil
	}

	type bucket struct {
		start  int64
		open   float64
		high   float64
		low    float64
		close_ float64
		volume float64
		seeded bool
	}

	byStart := make(map[int64]*bucket)
	var starts []int64
	for _, s := range swaps {
		if s.Timestamp <= 0 || s.Price <= 0 {
			continue
		}
		start := tf.BucketStart(s.Timestamp)
		b, ok := byStart[start]
		if !ok {
			b = &bucket{start: start}
			byStart[start] = b
			starts = append(starts, start)
		}
		if !b.seeded {
			b.open = s.Price
			b.high = s.Price
			b.low = s.Price
			b.seeded = true
		}
		if s.Price > b.high {
			b.high = s.Price
		}
		if s.Price < b.low {
			b.low = s.Price
		}
		b.close_ = s.Price
		b.volume += s.QuoteAmount
	}
	if len(starts) == 0 {
		return nil
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })

	width := tf.Seconds()
	var out []domain.Candle
	last := prevClose
	next := starts[0]
	for _, start := range starts {
		// Synthesize flat buckets across interior gaps.
		if last != nil {
			for ; next < start; next += width {
				out = append(out, domain.Candle{
					PoolAddress: poolAddress,
					Timeframe:   tf,
					BucketStart: next,
					Open:        *last,
					High:        *last,
					Low:         *last,
					Close:       *last,
				})
			}
		}

		b := byStart[start]
		open := b.open
		if last != nil {
			open = *last
		}
		high := b.high
		low := b.low
		if open > high {
			high = open
		}
		if open < low {
			low = open
		}
		c := domain.Candle{
			PoolAddress: poolAddress,
			Timeframe:   tf,
			BucketStart: start,
			Open:        open,
			High:        high,
			Low:         low,
			Close:       b.close_,
			Volume:      b.volume,
		}
		out = append(out, c)
		cl := c.Close
		last = &cl
		next = start + width
	}
	return out
}

// MergeFetched merges incoming candles into existing ones keyed by
// (pool, timeframe, bucket start). An incoming row replaces an existing one
// only when its bucket is strictly newer than the newest existing bucket or
// fills a key not yet present; buckets already held locally are kept, since
// locally aggregated swaps are the higher-fidelity source. The result is
// sorted by bucket start.
func MergeFetched(existing, incoming []domain.Candle) []domain.Candle {
	type key struct {
		pool  string
		tf    domain.Timeframe
		start int64
	}
	merged := make(map[key]domain.Candle, len(existing)+len(incoming))
	var newest int64
	for _, c := range existing {
		merged[key{c.PoolAddress, c.Timeframe, c.BucketStart}] = c
		if c.BucketStart > newest {
			newest = c.BucketStart
		}
	}
	for _, c := range incoming {
		k := key{c.PoolAddress, c.Timeframe, c.BucketStart}
		if _, held := merged[k]; held && c.BucketStart <= newest {
			continue
		}
		merged[k] = c
	}

	out := make([]domain.Candle, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PoolAddress != out[j].PoolAddress {
			return out[i].PoolAddress < out[j].PoolAddress
		}
		if out[i].Timeframe != out[j].Timeframe {
			return out[i].Timeframe < out[j].Timeframe
		}
		return out[i].BucketStart < out[j].BucketStart
	})
	return out
}

// FlagMigration marks candles at or after the migration boundary as
// post-migration. A zero boundary (token not graduated) leaves all candles
// pre-migration.
func FlagMigration(cs []domain.Candle, boundary int64) {
	if boundary <= 0 {
		return
	}
	for i := range cs {
		cs[i].PostMigration = cs[i].BucketStart >= boundary
	}
}

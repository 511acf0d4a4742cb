package domain

// BackfillProgress is the per-(pool, timeframe) checkpoint that lets a
// restarted process resume candle backfill without re-fetching stored data.
// Mutated only by the backfill coordinator, and only after the corresponding
// batch of candles has been durably stored.
type BackfillProgress struct {
	PoolAddress     string
	Timeframe       Timeframe
	OldestTimestamp int64 // Unix seconds of the oldest stored bucket, 0 if unset
	NewestTimestamp int64 // Unix seconds of the newest stored bucket, 0 if unset
	Complete        bool
	FetchCount      int
	ErrorCount      int
	LastError       string
	UpdatedAt       int64 // Unix seconds of the last checkpoint write
}

// Extend widens the checkpoint to cover [oldest, newest]. OldestTimestamp is
// non-increasing and NewestTimestamp non-decreasing across successive updates.
func (p *BackfillProgress) Extend(oldest, newest int64) {
	if oldest > 0 && (p.OldestTimestamp == 0 || oldest < p.OldestTimestamp) {
		p.OldestTimestamp = oldest
	}
	if newest > p.NewestTimestamp {
		p.NewestTimestamp = newest
	}
}

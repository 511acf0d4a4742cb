// Package backfill drives resumable candle history collection. A
// coordinator walks its token set sequentially, decides per (pool,
// timeframe) whether to fetch newer or older data, stores the batch, and
// only then advances the checkpoint.
package backfill

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"solana-candle-lab/internal/candles"
	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/marketdata"
	"solana-candle-lab/internal/observability"
	"solana-candle-lab/internal/storage"
)

// Fetch modes. A unit is in exactly one mode per cycle.
const (
	ModeInitial  = "initial"  // no checkpoint yet, fetch the most recent window
	ModeUpdate   = "update"   // close the gap between newest stored data and now
	ModeBackfill = "backfill" // walk history older than the oldest stored bucket
)

// Fetcher is the slice of the market-data client the coordinator uses.
type Fetcher interface {
	FetchOHLCV(ctx context.Context, poolAddress string, tf domain.Timeframe, before int64, limit int) ([]marketdata.Row, error)
}

// PoolResolver supplies a token's venues and migration boundary.
type PoolResolver interface {
	PoolsForToken(ctx context.Context, mint string) ([]*domain.Pool, error)
	MigrationBoundaryFor(ctx context.Context, mint string) (int64, error)
}

// Coordinator runs the per-(pool, timeframe) backfill state machine over a
// set of tokens. One coordinator owns one rate-limit profile; independent
// coordinators may run in parallel.
type Coordinator struct {
	fetcher       Fetcher
	resolver      PoolResolver
	candleStore   storage.CandleStore
	progressStore storage.ProgressStore
	tokenStore    storage.TokenStore

	mints           []string
	timeframes      []domain.Timeframe
	staleness       time.Duration
	fetchLimit      int
	checkpointEvery int
	interval        time.Duration

	now    func() time.Time
	logger *log.Logger

	stopRequested atomic.Bool
}

// Options contains configuration for creating a Coordinator.
type Options struct {
	Fetcher       Fetcher
	Resolver      PoolResolver
	CandleStore   storage.CandleStore
	ProgressStore storage.ProgressStore
	TokenStore    storage.TokenStore

	// Mints is the token set to keep backfilled.
	Mints []string
	// Timeframes defaults to every supported timeframe.
	Timeframes []domain.Timeframe
	// Staleness is the newest-data age beyond which closing the live gap
	// takes priority over walking history. Defaults to 1 hour.
	Staleness time.Duration
	// FetchLimit is the per-request row cap. Defaults to 1000.
	FetchLimit int
	// CheckpointEvery bounds rows stored between checkpoint writes.
	// Defaults to 250.
	CheckpointEvery int
	// Interval is the pause between full cycles in Run. Defaults to 30s.
	Interval time.Duration

	Now    func() time.Time
	Logger *log.Logger
}

// NewCoordinator creates a backfill coordinator.
func NewCoordinator(opts Options) *Coordinator {
	staleness := opts.Staleness
	if staleness <= 0 {
		staleness = time.Hour
	}
	fetchLimit := opts.FetchLimit
	if fetchLimit <= 0 || fetchLimit > 1000 {
		fetchLimit = 1000
	}
	checkpointEvery := opts.CheckpointEvery
	if checkpointEvery <= 0 {
		checkpointEvery = 250
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	timeframes := opts.Timeframes
	if len(timeframes) == 0 {
		timeframes = domain.AllTimeframes
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Coordinator{
		fetcher:         opts.Fetcher,
		resolver:        opts.Resolver,
		candleStore:     opts.CandleStore,
		progressStore:   opts.ProgressStore,
		tokenStore:      opts.TokenStore,
		mints:           opts.Mints,
		timeframes:      timeframes,
		staleness:       staleness,
		fetchLimit:      fetchLimit,
		checkpointEvery: checkpointEvery,
		interval:        interval,
		now:             now,
		logger:          logger,
	}
}

// Stop requests a clean exit at the next unit boundary. A cycle in flight
// finishes its current (pool, timeframe) unit first; checkpoints already
// written stay intact.
func (c *Coordinator) Stop() {
	c.stopRequested.Store(true)
}

// Run executes cycles until the context ends or Stop is called.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		if err := c.RunCycle(ctx); err != nil {
			return err
		}
		if c.stopRequested.Load() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RunCycle processes every token, pool, and timeframe once, sequentially.
// Per-unit failures are recorded on the unit's checkpoint and never abort
// the cycle.
func (c *Coordinator) RunCycle(ctx context.Context) error {
	observability.DefaultMetrics.TokensTracked.Set(float64(len(c.mints)))

	for _, mint := range c.mints {
		if c.shouldStop(ctx) {
			return ctx.Err()
		}

		pools, err := c.resolver.PoolsForToken(ctx, mint)
		if err != nil {
			c.logger.Printf("resolve pools for %s: %v", mint, err)
			observability.RecordBackfillError("resolve")
			continue
		}
		boundary, err := c.resolver.MigrationBoundaryFor(ctx, mint)
		if err != nil {
			c.logger.Printf("migration boundary for %s: %v", mint, err)
			boundary = 0
		}
		createdAt := c.tokenCreatedAt(ctx, mint)

		for _, pool := range pools {
			if c.shouldStop(ctx) {
				return ctx.Err()
			}
			for _, tf := range c.timeframes {
				if c.shouldStop(ctx) {
					return ctx.Err()
				}
				if err := c.processUnit(ctx, pool.Address, tf, createdAt, boundary); err != nil {
					c.logger.Printf("unit %s/%s: %v", pool.Address, tf, err)
				}
			}
		}
	}
	return nil
}

func (c *Coordinator) shouldStop(ctx context.Context) bool {
	return c.stopRequested.Load() || ctx.Err() != nil
}

func (c *Coordinator) tokenCreatedAt(ctx context.Context, mint string) int64 {
	token, err := c.tokenStore.Get(ctx, mint)
	if err != nil {
		return 0
	}
	return token.CreatedAt
}

// processUnit runs one state-machine step for (pool, timeframe).
func (c *Coordinator) processUnit(ctx context.Context, poolAddress string, tf domain.Timeframe, createdAt, boundary int64) error {
	prog, err := c.progressStore.Get(ctx, poolAddress, tf)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		observability.RecordBackfillError("checkpoint_read")
		return fmt.Errorf("read checkpoint: %w", err)
	}
	hadCheckpoint := prog != nil
	if prog == nil {
		prog = &domain.BackfillProgress{PoolAddress: poolAddress, Timeframe: tf}
	}

	now := c.now().Unix()
	mode, before := c.selectMode(prog, hadCheckpoint, now)

	rows, err := c.fetcher.FetchOHLCV(ctx, poolAddress, tf, before, c.fetchLimit)
	if err != nil {
		// Transient fetch failure: record it, leave timestamps untouched,
		// retry on the next cycle.
		prog.ErrorCount++
		prog.LastError = err.Error()
		prog.UpdatedAt = now
		observability.RecordBackfillError("fetch")
		if hadCheckpoint {
			if perr := c.progressStore.Put(ctx, prog); perr != nil {
				return fmt.Errorf("record fetch error: %w (fetch: %v)", perr, err)
			}
		}
		return fmt.Errorf("fetch %s: %w", mode, err)
	}
	observability.RecordFetch(mode)
	observability.DefaultMetrics.LastSuccessfulFetch.Set(float64(now))
	prog.FetchCount++

	if len(rows) == 0 {
		// No more history. Against an existing checkpoint this is the
		// normal completion signal, not an error.
		if hadCheckpoint && !prog.Complete {
			prog.Complete = true
			observability.RecordCompletion()
			c.logger.Printf("unit %s/%s complete: no more history", poolAddress, tf)
		}
		prog.UpdatedAt = now
		if hadCheckpoint {
			return c.progressStore.Put(ctx, prog)
		}
		return nil
	}

	prevOldest := prog.OldestTimestamp

	if err := c.storeBatch(ctx, prog, rows, boundary, now); err != nil {
		return err
	}

	// No-progress guard: a backfill fetch that does not move the oldest
	// bucket means the API has nothing older to give.
	if mode == ModeBackfill && prevOldest > 0 && prog.OldestTimestamp == prevOldest && !prog.Complete {
		prog.Complete = true
		observability.RecordCompletion()
		c.logger.Printf("unit %s/%s complete: oldest stuck at %d", poolAddress, tf, prevOldest)
	}

	c.evaluateCompletion(prog, createdAt, now)

	prog.UpdatedAt = now
	return c.progressStore.Put(ctx, prog)
}

// selectMode applies the per-cycle transition rules and returns the fetch
// mode plus the before-cursor (0 = now).
func (c *Coordinator) selectMode(prog *domain.BackfillProgress, hadCheckpoint bool, now int64) (string, int64) {
	switch {
	case !hadCheckpoint:
		return ModeInitial, 0
	case prog.Complete:
		return ModeUpdate, 0
	case prog.NewestTimestamp > 0 && now-prog.NewestTimestamp > int64(c.staleness.Seconds()):
		// Close the live gap before walking further into history.
		return ModeUpdate, 0
	default:
		return ModeBackfill, prog.OldestTimestamp
	}
}

// storeBatch converts rows to candles and stores them in sub-batches,
// checkpointing after each group so long batches make resumable progress.
// The checkpoint write always happens after the rows it covers.
func (c *Coordinator) storeBatch(ctx context.Context, prog *domain.BackfillProgress, rows []marketdata.Row, boundary, now int64) error {
	tf := prog.Timeframe
	batch := make([]domain.Candle, 0, len(rows))
	for _, r := range rows {
		batch = append(batch, domain.Candle{
			PoolAddress: prog.PoolAddress,
			Timeframe:   tf,
			BucketStart: tf.BucketStart(r.Timestamp),
			Open:        r.Open,
			High:        r.High,
			Low:         r.Low,
			Close:       r.Close,
			Volume:      r.Volume,
		})
	}
	candles.FlagMigration(batch, boundary)

	for i := 0; i < len(batch); i += c.checkpointEvery {
		end := i + c.checkpointEvery
		if end > len(batch) {
			end = len(batch)
		}
		group := batch[i:end]

		if err := c.candleStore.UpsertBulk(ctx, group); err != nil {
			prog.ErrorCount++
			prog.LastError = err.Error()
			observability.RecordBackfillError("store")
			return fmt.Errorf("store candles: %w", err)
		}
		observability.RecordCandlesStored(string(tf), len(group))

		oldest, newest := bounds(group)
		prog.Extend(oldest, newest)
		prog.UpdatedAt = now
		if err := c.progressStore.Put(ctx, prog); err != nil {
			observability.RecordBackfillError("checkpoint_write")
			return fmt.Errorf("checkpoint: %w", err)
		}
	}
	return nil
}

// evaluateCompletion flips the complete flag when history reaches the
// token's creation time and the newest data is fresh.
func (c *Coordinator) evaluateCompletion(prog *domain.BackfillProgress, createdAt, now int64) {
	if prog.Complete || createdAt <= 0 {
		return
	}
	if prog.OldestTimestamp > 0 && prog.OldestTimestamp <= createdAt &&
		now-prog.NewestTimestamp <= int64(c.staleness.Seconds()) {
		prog.Complete = true
		observability.RecordCompletion()
		c.logger.Printf("unit %s/%s complete: history reaches token creation", prog.PoolAddress, prog.Timeframe)
	}
}

func bounds(candles []domain.Candle) (oldest, newest int64) {
	for _, c := range candles {
		if oldest == 0 || c.BucketStart < oldest {
			oldest = c.BucketStart
		}
		if c.BucketStart > newest {
			newest = c.BucketStart
		}
	}
	return oldest, newest
}

package backfill

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	"solana-candle-lab/internal/discovery"
	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/marketdata"
	"solana-candle-lab/internal/storage/memory"
)

const (
	testMint = "MintAddr11111111111111111111111111111111111"
	testPool = "PoolAddr11111111111111111111111111111111111"
)

type fetchCall struct {
	before int64
	limit  int
}

// scriptedFetcher replays queued responses in call order and records the
// cursor each call used.
type scriptedFetcher struct {
	calls     []fetchCall
	responses [][]marketdata.Row
	errs      []error
}

func (f *scriptedFetcher) FetchOHLCV(_ context.Context, _ string, _ domain.Timeframe, before int64, limit int) ([]marketdata.Row, error) {
	i := len(f.calls)
	f.calls = append(f.calls, fetchCall{before: before, limit: limit})
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return nil, nil
}

type stubResolver struct {
	pools    []*domain.Pool
	boundary int64
}

func (r *stubResolver) PoolsForToken(context.Context, string) ([]*domain.Pool, error) {
	return r.pools, nil
}

func (r *stubResolver) MigrationBoundaryFor(context.Context, string) (int64, error) {
	return r.boundary, nil
}

func rowsAt(timestamps ...int64) []marketdata.Row {
	out := make([]marketdata.Row, 0, len(timestamps))
	for _, ts := range timestamps {
		out = append(out, marketdata.Row{Timestamp: ts, Open: 1, High: 1, Low: 1, Close: 1, Volume: 1})
	}
	return out
}

type fixture struct {
	coord    *Coordinator
	fetcher  *scriptedFetcher
	candles  *memory.CandleStore
	progress *memory.ProgressStore
}

func newFixture(t *testing.T, fetcher *scriptedFetcher, mutate func(*Options)) *fixture {
	t.Helper()

	candles := memory.NewCandleStore()
	progress := memory.NewProgressStore()
	tokens := memory.NewTokenStore()
	if err := tokens.Upsert(context.Background(), &domain.TokenInfo{Mint: testMint, CreatedAt: 6000}); err != nil {
		t.Fatalf("seed token: %v", err)
	}

	opts := Options{
		Fetcher:       fetcher,
		Resolver:      &stubResolver{pools: []*domain.Pool{{TokenMint: testMint, Address: testPool}}},
		CandleStore:   candles,
		ProgressStore: progress,
		TokenStore:    tokens,
		Mints:         []string{testMint},
		Timeframes:    []domain.Timeframe{domain.Timeframe1m},
		Staleness:     time.Hour,
		Now:           func() time.Time { return time.Unix(100_000, 0) },
		Logger:        log.New(testWriter{t}, "[backfill] ", 0),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return &fixture{
		coord:    NewCoordinator(opts),
		fetcher:  fetcher,
		candles:  candles,
		progress: progress,
	}
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func (f *fixture) checkpoint(t *testing.T) *domain.BackfillProgress {
	t.Helper()
	prog, err := f.progress.Get(context.Background(), testPool, domain.Timeframe1m)
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	return prog
}

// TestCoordinator_Lifecycle walks one unit through initial fetch, history
// backfill down to the token creation time, and the steady update state.
func TestCoordinator_Lifecycle(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{
		responses: [][]marketdata.Row{
			rowsAt(99_960, 99_900, 96_000), // initial window
			rowsAt(95_940, 5_940),          // history down past creation
			nil,                            // update cycle, nothing new
		},
	}
	f := newFixture(t, fetcher, nil)

	// Cycle 1: no checkpoint, fetch from now.
	if err := f.coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 1: %v", err)
	}
	if fetcher.calls[0].before != 0 {
		t.Errorf("initial fetch cursor = %d, want 0", fetcher.calls[0].before)
	}
	prog := f.checkpoint(t)
	if prog.OldestTimestamp != 96_000 || prog.NewestTimestamp != 99_960 {
		t.Errorf("checkpoint bounds = [%d, %d]", prog.OldestTimestamp, prog.NewestTimestamp)
	}
	if prog.Complete {
		t.Error("unit complete before history reaches token creation")
	}

	// Cycle 2: newest is fresh, so the cursor walks older than the oldest
	// stored bucket. The batch reaches past CreatedAt, completing the unit.
	if err := f.coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 2: %v", err)
	}
	if fetcher.calls[1].before != 96_000 {
		t.Errorf("backfill cursor = %d, want 96000", fetcher.calls[1].before)
	}
	prog = f.checkpoint(t)
	if prog.OldestTimestamp != 5_940 {
		t.Errorf("oldest = %d, want 5940", prog.OldestTimestamp)
	}
	if !prog.Complete {
		t.Error("unit not complete with history at token creation and fresh data")
	}

	// Cycle 3: complete units only close the live gap.
	if err := f.coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle 3: %v", err)
	}
	if fetcher.calls[2].before != 0 {
		t.Errorf("update cursor = %d, want 0", fetcher.calls[2].before)
	}
	prog = f.checkpoint(t)
	if !prog.Complete || prog.FetchCount != 3 {
		t.Errorf("final checkpoint = %+v", prog)
	}

	stored, err := f.candles.GetRange(ctx, testPool, domain.Timeframe1m, 0, 200_000)
	if err != nil {
		t.Fatalf("read candles: %v", err)
	}
	if len(stored) != 5 {
		t.Errorf("stored %d candles, want 5", len(stored))
	}
}

type stubTokenLookup struct{ result *marketdata.TokenLookup }

func (s *stubTokenLookup) LookupToken(context.Context, string) (*marketdata.TokenLookup, error) {
	return s.result, nil
}

// TestCoordinator_CompletesViaDiscoveredCreationTime drives one cycle with
// the real resolver so the creation time flows from pool discovery into the
// completion check, not from pre-seeded token metadata.
func TestCoordinator_CompletesViaDiscoveredCreationTime(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{responses: [][]marketdata.Row{rowsAt(99_960, 5_940)}}

	candles := memory.NewCandleStore()
	progress := memory.NewProgressStore()
	tokens := memory.NewTokenStore()

	resolver := discovery.NewResolver(discovery.ResolverOptions{
		Lookup: &stubTokenLookup{result: &marketdata.TokenLookup{
			Token: domain.TokenInfo{Mint: testMint},
			Pools: []marketdata.PoolInfo{
				{Address: testPool, PoolType: domain.PoolTypeBondingCurve, CreatedAt: 6_000},
			},
		}},
		PoolStore:  memory.NewPoolStore(),
		TokenStore: tokens,
		Now:        func() time.Time { return time.Unix(100_000, 0) },
		Logger:     log.New(testWriter{t}, "[discovery] ", 0),
	})

	coord := NewCoordinator(Options{
		Fetcher:       fetcher,
		Resolver:      resolver,
		CandleStore:   candles,
		ProgressStore: progress,
		TokenStore:    tokens,
		Mints:         []string{testMint},
		Timeframes:    []domain.Timeframe{domain.Timeframe1m},
		Staleness:     time.Hour,
		Now:           func() time.Time { return time.Unix(100_000, 0) },
		Logger:        log.New(testWriter{t}, "[backfill] ", 0),
	})

	if err := coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	prog, err := progress.Get(ctx, testPool, domain.Timeframe1m)
	if err != nil {
		t.Fatalf("read checkpoint: %v", err)
	}
	if !prog.Complete {
		t.Errorf("oldest %d reaches the discovered creation time 6000 with fresh data; unit must be complete", prog.OldestTimestamp)
	}
}

func TestCoordinator_ZeroRowsCompletesExistingCheckpoint(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{responses: [][]marketdata.Row{nil}}
	f := newFixture(t, fetcher, nil)

	seed := &domain.BackfillProgress{
		PoolAddress:     testPool,
		Timeframe:       domain.Timeframe1m,
		OldestTimestamp: 96_000,
		NewestTimestamp: 99_960,
	}
	if err := f.progress.Put(ctx, seed); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if err := f.coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !f.checkpoint(t).Complete {
		t.Error("empty response against an existing checkpoint must complete the unit")
	}
}

func TestCoordinator_StaleDataUpdatesBeforeBackfilling(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{responses: [][]marketdata.Row{rowsAt(99_960)}}
	f := newFixture(t, fetcher, nil)

	// Newest bucket is two hours old against a one-hour staleness budget.
	seed := &domain.BackfillProgress{
		PoolAddress:     testPool,
		Timeframe:       domain.Timeframe1m,
		OldestTimestamp: 90_000,
		NewestTimestamp: 100_000 - 7200,
	}
	if err := f.progress.Put(ctx, seed); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if err := f.coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if fetcher.calls[0].before != 0 {
		t.Errorf("cursor = %d, want 0 (stale data must fetch from now, not history)", fetcher.calls[0].before)
	}
	prog := f.checkpoint(t)
	if prog.NewestTimestamp != 99_960 || prog.OldestTimestamp != 90_000 {
		t.Errorf("checkpoint bounds = [%d, %d]", prog.OldestTimestamp, prog.NewestTimestamp)
	}
}

func TestCoordinator_FetchErrorLeavesTimestampsUntouched(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{errs: []error{errors.New("upstream down")}}
	f := newFixture(t, fetcher, nil)

	seed := &domain.BackfillProgress{
		PoolAddress:     testPool,
		Timeframe:       domain.Timeframe1m,
		OldestTimestamp: 90_000,
		NewestTimestamp: 99_960,
		FetchCount:      4,
	}
	if err := f.progress.Put(ctx, seed); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	// Unit errors are logged, never returned.
	if err := f.coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	prog := f.checkpoint(t)
	if prog.ErrorCount != 1 || prog.LastError == "" {
		t.Errorf("error not recorded: %+v", prog)
	}
	if prog.OldestTimestamp != 90_000 || prog.NewestTimestamp != 99_960 {
		t.Errorf("timestamps moved on a failed fetch: [%d, %d]", prog.OldestTimestamp, prog.NewestTimestamp)
	}
	if prog.FetchCount != 4 || prog.Complete {
		t.Errorf("checkpoint = %+v", prog)
	}
}

// failingCandleStore fails the nth UpsertBulk call and passes the rest
// through to the in-memory store.
type failingCandleStore struct {
	*memory.CandleStore
	failOn int
	calls  int
}

func (s *failingCandleStore) UpsertBulk(ctx context.Context, candles []domain.Candle) error {
	s.calls++
	if s.calls == s.failOn {
		return errors.New("storage unavailable")
	}
	return s.CandleStore.UpsertBulk(ctx, candles)
}

func TestCoordinator_CheckpointNeverCoversUnstoredRows(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{
		responses: [][]marketdata.Row{rowsAt(99_960, 99_900, 99_840, 99_780, 99_720)},
	}
	inner := memory.NewCandleStore()
	failing := &failingCandleStore{CandleStore: inner, failOn: 2}
	f := newFixture(t, fetcher, func(o *Options) {
		o.CandleStore = failing
		o.CheckpointEvery = 2
	})

	if err := f.coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}

	// The first sub-batch of two rows landed and was checkpointed; the
	// second failed before its checkpoint write.
	stored, err := inner.GetRange(ctx, testPool, domain.Timeframe1m, 0, 200_000)
	if err != nil {
		t.Fatalf("read candles: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d candles, want 2", len(stored))
	}
	prog := f.checkpoint(t)
	if prog.OldestTimestamp != 99_900 || prog.NewestTimestamp != 99_960 {
		t.Errorf("checkpoint [%d, %d] covers rows that were never stored", prog.OldestTimestamp, prog.NewestTimestamp)
	}
}

func TestCoordinator_NoProgressGuard(t *testing.T) {
	ctx := context.Background()
	// The backfill fetch returns only buckets already covered, so the oldest
	// bound cannot move.
	fetcher := &scriptedFetcher{responses: [][]marketdata.Row{rowsAt(96_000, 96_060)}}
	f := newFixture(t, fetcher, nil)

	seed := &domain.BackfillProgress{
		PoolAddress:     testPool,
		Timeframe:       domain.Timeframe1m,
		OldestTimestamp: 96_000,
		NewestTimestamp: 99_960,
	}
	if err := f.progress.Put(ctx, seed); err != nil {
		t.Fatalf("seed checkpoint: %v", err)
	}

	if err := f.coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if !f.checkpoint(t).Complete {
		t.Error("an unmoved oldest bound must complete the unit")
	}
}

func TestCoordinator_MigrationBoundaryFlagsCandles(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{responses: [][]marketdata.Row{rowsAt(99_960, 99_900)}}
	f := newFixture(t, fetcher, func(o *Options) {
		o.Resolver = &stubResolver{
			pools:    []*domain.Pool{{TokenMint: testMint, Address: testPool}},
			boundary: 99_960,
		}
	})

	if err := f.coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	stored, err := f.candles.GetRange(ctx, testPool, domain.Timeframe1m, 0, 200_000)
	if err != nil {
		t.Fatalf("read candles: %v", err)
	}
	if stored[0].PostMigration {
		t.Error("bucket before the boundary flagged post-migration")
	}
	if !stored[1].PostMigration {
		t.Error("bucket at the boundary not flagged post-migration")
	}
}

func TestCoordinator_StopBetweenUnits(t *testing.T) {
	ctx := context.Background()
	fetcher := &scriptedFetcher{}
	f := newFixture(t, fetcher, func(o *Options) {
		o.Timeframes = domain.AllTimeframes
	})

	f.coord.Stop()
	if err := f.coord.RunCycle(ctx); err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if len(fetcher.calls) != 0 {
		t.Errorf("stopped coordinator made %d fetches", len(fetcher.calls))
	}
}

package backfill

import (
	"context"
	"log"
	"math"
	"strconv"
	"testing"

	"github.com/mr-tron/base58"

	"solana-candle-lab/internal/discovery"
	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/solana"
	"solana-candle-lab/internal/storage/memory"
	"solana-candle-lab/internal/swaps"
)

// stubChain replays scripted signature pages and serves transactions by
// signature, recording the cursors and fetch batches it saw.
type stubChain struct {
	pages   [][]solana.SignatureInfo
	txs     map[string]*solana.TransactionDetail
	befores []string
	fetched [][]string
}

func (c *stubChain) GetSignaturesForAddress(_ context.Context, _ string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error) {
	c.befores = append(c.befores, opts.Before)
	if i := len(c.befores) - 1; i < len(c.pages) {
		return c.pages[i], nil
	}
	return nil, nil
}

func (c *stubChain) GetTransactions(_ context.Context, sigs []string) ([]*solana.TransactionDetail, error) {
	c.fetched = append(c.fetched, sigs)
	out := make([]*solana.TransactionDetail, len(sigs))
	for i, s := range sigs {
		out[i] = c.txs[s]
	}
	return out, nil
}

// buySwapTx models a curve buy: the curve account gains lamportsIn and its
// token account loses tokenOut base units (6 decimals).
func buySwapTx(curveAddr, sig string, slot, ts int64, tokenOut, lamportsIn uint64) *solana.TransactionDetail {
	const user = "UserAddr11111111111111111111111111111111111"
	const preTokens = uint64(10_000_000)
	return &solana.TransactionDetail{
		Signature: sig,
		Slot:      slot,
		BlockTime: ts,
		Message: &solana.TransactionMessage{
			AccountKeys: []string{user, curveAddr, swaps.PumpFunProgram},
			Instructions: []solana.Instruction{
				{ProgramIDIndex: 2, Accounts: []int{0, 1}, Data: base58.Encode([]byte{102, 6, 61, 18, 1, 218, 235, 234, 0})},
			},
		},
		Meta: &solana.TransactionMeta{
			PreBalances:  []uint64{10_000_000_000, 1_000_000_000, 1},
			PostBalances: []uint64{10_000_000_000 - lamportsIn - 5_000, 1_000_000_000 + lamportsIn, 1},
			PreTokenBalances: []solana.TokenBalance{
				{AccountIndex: 1, Mint: testMint, Owner: curveAddr, Amount: strconv.FormatUint(preTokens, 10), Decimals: 6},
			},
			PostTokenBalances: []solana.TokenBalance{
				{AccountIndex: 1, Mint: testMint, Owner: curveAddr, Amount: strconv.FormatUint(preTokens-tokenOut, 10), Decimals: 6},
			},
		},
	}
}

func testCurveAddr(t *testing.T) string {
	t.Helper()
	addr, err := discovery.CurveAddress(testMint, swaps.PumpFunProgram)
	if err != nil || addr == "" {
		t.Fatalf("derive curve address: %q, %v", addr, err)
	}
	return addr
}

func newSwapBackfiller(t *testing.T, chain *stubChain, store *memory.CandleStore, boundary int64, mutate func(*SwapBackfillerOptions)) *SwapBackfiller {
	t.Helper()
	opts := SwapBackfillerOptions{
		Chain:       chain,
		CandleStore: store,
		Resolver:    &stubResolver{boundary: boundary},
		Timeframes:  []domain.Timeframe{domain.Timeframe1m},
		Logger:      log.New(testWriter{t}, "[swaps] ", 0),
	}
	if mutate != nil {
		mutate(&opts)
	}
	return NewSwapBackfiller(opts)
}

// TestSwapBackfiller_BuildsCandlesFromChainHistory pages two signature
// batches off the curve account and checks the resulting one-minute candles:
// opens chained across buckets, highs and lows clamped to the open, volume
// summed in SOL.
func TestSwapBackfiller_BuildsCandlesFromChainHistory(t *testing.T) {
	ctx := context.Background()
	curveAddr := testCurveAddr(t)

	// Newest first, as the RPC returns them: 0.2 SOL/token at 99_930,
	// 0.1 at 99_900, 0.05 at 99_860.
	chain := &stubChain{
		pages: [][]solana.SignatureInfo{
			{{Signature: "sigB", Slot: 110}, {Signature: "sigA", Slot: 105}},
			{{Signature: "sigC", Slot: 100}},
		},
		txs: map[string]*solana.TransactionDetail{
			"sigB": buySwapTx(curveAddr, "sigB", 110, 99_930, 1_000_000, 200_000_000),
			"sigA": buySwapTx(curveAddr, "sigA", 105, 99_900, 1_000_000, 100_000_000),
			"sigC": buySwapTx(curveAddr, "sigC", 100, 99_860, 1_000_000, 50_000_000),
		},
	}
	store := memory.NewCandleStore()
	b := newSwapBackfiller(t, chain, store, 0, func(o *SwapBackfillerOptions) {
		o.PageSize = 2
	})

	if err := b.BackfillMint(ctx, testMint); err != nil {
		t.Fatalf("BackfillMint failed: %v", err)
	}

	// The second page's cursor is the last signature of the first page.
	if len(chain.befores) != 2 || chain.befores[0] != "" || chain.befores[1] != "sigA" {
		t.Errorf("cursors = %v", chain.befores)
	}

	stored, err := store.GetRange(ctx, curveAddr, domain.Timeframe1m, 0, 200_000)
	if err != nil {
		t.Fatalf("read candles: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("stored %d candles, want 2", len(stored))
	}

	first := stored[0]
	if first.BucketStart != 99_840 || math.Abs(first.Open-0.05) > 1e-9 || math.Abs(first.Close-0.05) > 1e-9 {
		t.Errorf("first bucket = %+v", first)
	}
	if math.Abs(first.Volume-0.05) > 1e-9 {
		t.Errorf("first bucket volume = %v, want 0.05", first.Volume)
	}

	second := stored[1]
	if second.BucketStart != 99_900 {
		t.Fatalf("second bucket start = %d", second.BucketStart)
	}
	// Open chains from the previous bucket's close; the low is clamped down
	// to include it.
	if math.Abs(second.Open-0.05) > 1e-9 || math.Abs(second.Low-0.05) > 1e-9 {
		t.Errorf("second bucket open/low = %v/%v, want 0.05", second.Open, second.Low)
	}
	if math.Abs(second.High-0.2) > 1e-9 || math.Abs(second.Close-0.2) > 1e-9 {
		t.Errorf("second bucket high/close = %v/%v, want 0.2", second.High, second.Close)
	}
	if math.Abs(second.Volume-0.3) > 1e-9 {
		t.Errorf("second bucket volume = %v, want 0.3", second.Volume)
	}
}

// TestSwapBackfiller_SwapCandlesWinOverFetchedRows pre-stores an API row in
// a bucket the swap record covers: the swap-built candle must replace it,
// with its open seeded from the stored candle just before the batch.
func TestSwapBackfiller_SwapCandlesWinOverFetchedRows(t *testing.T) {
	ctx := context.Background()
	curveAddr := testCurveAddr(t)

	store := memory.NewCandleStore()
	seed := []domain.Candle{
		{PoolAddress: curveAddr, Timeframe: domain.Timeframe1m, BucketStart: 99_780, Open: 0.04, High: 0.04, Low: 0.04, Close: 0.04},
		{PoolAddress: curveAddr, Timeframe: domain.Timeframe1m, BucketStart: 99_900, Open: 9.9, High: 9.9, Low: 9.9, Close: 9.9},
	}
	if err := store.UpsertBulk(ctx, seed); err != nil {
		t.Fatalf("seed candles: %v", err)
	}

	chain := &stubChain{
		pages: [][]solana.SignatureInfo{{{Signature: "sigA", Slot: 105}}},
		txs: map[string]*solana.TransactionDetail{
			"sigA": buySwapTx(curveAddr, "sigA", 105, 99_910, 1_000_000, 100_000_000),
		},
	}
	b := newSwapBackfiller(t, chain, store, 0, nil)

	if err := b.BackfillMint(ctx, testMint); err != nil {
		t.Fatalf("BackfillMint failed: %v", err)
	}

	stored, err := store.GetRange(ctx, curveAddr, domain.Timeframe1m, 99_900, 99_900)
	if err != nil || len(stored) != 1 {
		t.Fatalf("read candles: %d rows, err %v", len(stored), err)
	}
	got := stored[0]
	if math.Abs(got.Close-0.1) > 1e-9 {
		t.Errorf("close = %v, want 0.1 from the swap record, not the fetched row", got.Close)
	}
	if math.Abs(got.Open-0.04) > 1e-9 {
		t.Errorf("open = %v, want 0.04 seeded from the prior stored close", got.Open)
	}
}

func TestSwapBackfiller_FlagsMigrationBoundary(t *testing.T) {
	ctx := context.Background()
	curveAddr := testCurveAddr(t)

	chain := &stubChain{
		pages: [][]solana.SignatureInfo{
			{{Signature: "sigB", Slot: 110}, {Signature: "sigA", Slot: 100}},
		},
		txs: map[string]*solana.TransactionDetail{
			"sigB": buySwapTx(curveAddr, "sigB", 110, 99_910, 1_000_000, 100_000_000),
			"sigA": buySwapTx(curveAddr, "sigA", 100, 99_860, 1_000_000, 50_000_000),
		},
	}
	store := memory.NewCandleStore()
	b := newSwapBackfiller(t, chain, store, 99_900, nil)

	if err := b.BackfillMint(ctx, testMint); err != nil {
		t.Fatalf("BackfillMint failed: %v", err)
	}

	stored, err := store.GetRange(ctx, curveAddr, domain.Timeframe1m, 0, 200_000)
	if err != nil || len(stored) != 2 {
		t.Fatalf("read candles: %d rows, err %v", len(stored), err)
	}
	if stored[0].PostMigration {
		t.Error("bucket before the boundary flagged post-migration")
	}
	if !stored[1].PostMigration {
		t.Error("bucket at the boundary not flagged post-migration")
	}
}

func TestSwapBackfiller_SkipsFailedSignatures(t *testing.T) {
	ctx := context.Background()
	curveAddr := testCurveAddr(t)

	chain := &stubChain{
		pages: [][]solana.SignatureInfo{
			{
				{Signature: "sigOK", Slot: 105},
				{Signature: "sigBad", Slot: 104, Err: map[string]interface{}{"InstructionError": []interface{}{}}},
			},
		},
		txs: map[string]*solana.TransactionDetail{
			"sigOK": buySwapTx(curveAddr, "sigOK", 105, 99_900, 1_000_000, 100_000_000),
		},
	}
	store := memory.NewCandleStore()
	b := newSwapBackfiller(t, chain, store, 0, nil)

	if err := b.BackfillMint(ctx, testMint); err != nil {
		t.Fatalf("BackfillMint failed: %v", err)
	}
	if len(chain.fetched) != 1 || len(chain.fetched[0]) != 1 || chain.fetched[0][0] != "sigOK" {
		t.Errorf("fetched batches = %v, want only sigOK", chain.fetched)
	}
}

func TestSwapBackfiller_NoHistory(t *testing.T) {
	ctx := context.Background()
	chain := &stubChain{}
	store := memory.NewCandleStore()
	b := newSwapBackfiller(t, chain, store, 0, nil)

	if err := b.BackfillMint(ctx, testMint); err != nil {
		t.Fatalf("BackfillMint failed: %v", err)
	}
	if len(chain.fetched) != 0 {
		t.Errorf("fetched %d transaction batches for an empty history", len(chain.fetched))
	}
}

package backfill

import (
	"context"
	"fmt"
	"log"

	"solana-candle-lab/internal/candles"
	"solana-candle-lab/internal/discovery"
	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/observability"
	"solana-candle-lab/internal/solana"
	"solana-candle-lab/internal/storage"
	"solana-candle-lab/internal/swaps"
)

// ChainHistory is the chain RPC slice the swap backfiller uses: signature
// pagination plus batched transaction fetch.
type ChainHistory interface {
	GetSignaturesForAddress(ctx context.Context, address string, opts *solana.SignaturesOpts) ([]solana.SignatureInfo, error)
	GetTransactions(ctx context.Context, signatures []string) ([]*solana.TransactionDetail, error)
}

// SwapBackfiller reconstructs a token's bonding-curve trading history from
// raw chain transactions. It pages the curve account's signatures
// newest-first, batch-fetches the transactions, extracts and tags swaps, and
// folds them into candles. Swap-built candles are the higher-fidelity source
// and take precedence over rows fetched from the market-data API for the
// same buckets.
type SwapBackfiller struct {
	chain       ChainHistory
	extractor   *swaps.Extractor
	candleStore storage.CandleStore
	resolver    PoolResolver

	program    string
	timeframes []domain.Timeframe
	pageSize   int
	maxPages   int

	logger *log.Logger
}

// SwapBackfillerOptions contains configuration for creating a SwapBackfiller.
type SwapBackfillerOptions struct {
	Chain       ChainHistory
	CandleStore storage.CandleStore
	Resolver    PoolResolver

	// Program is the launchpad program whose swaps are extracted.
	// Defaults to pump.fun.
	Program string
	// Timeframes defaults to every supported timeframe.
	Timeframes []domain.Timeframe
	// PageSize is the signature page size. Defaults to 100, capped at 1000.
	PageSize int
	// MaxPages bounds the history walk per mint and cycle. Defaults to 10.
	MaxPages int

	Logger *log.Logger
}

// NewSwapBackfiller creates a chain-history swap backfiller.
func NewSwapBackfiller(opts SwapBackfillerOptions) *SwapBackfiller {
	program := opts.Program
	if program == "" {
		program = swaps.PumpFunProgram
	}
	timeframes := opts.Timeframes
	if len(timeframes) == 0 {
		timeframes = domain.AllTimeframes
	}
	pageSize := opts.PageSize
	if pageSize <= 0 || pageSize > 1000 {
		pageSize = 100
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 10
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &SwapBackfiller{
		chain:       opts.Chain,
		extractor:   swaps.NewExtractor(program),
		candleStore: opts.CandleStore,
		resolver:    opts.Resolver,
		program:     program,
		timeframes:  timeframes,
		pageSize:    pageSize,
		maxPages:    maxPages,
		logger:      logger,
	}
}

// BackfillMint walks the mint's bonding-curve transaction history and stores
// the resulting candles for every configured timeframe.
func (b *SwapBackfiller) BackfillMint(ctx context.Context, mint string) error {
	curveAddr, err := discovery.CurveAddress(mint, b.program)
	if err != nil {
		return fmt.Errorf("derive curve address for %s: %w", mint, err)
	}

	batch, err := b.collectSwaps(ctx, curveAddr, mint)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}
	swaps.TagSwaps(batch)

	boundary, err := b.resolver.MigrationBoundaryFor(ctx, mint)
	if err != nil {
		b.logger.Printf("migration boundary for %s: %v", mint, err)
		boundary = 0
	}

	earliest := batch[0].Timestamp
	for _, s := range batch {
		if s.Timestamp < earliest {
			earliest = s.Timestamp
		}
	}

	for _, tf := range b.timeframes {
		built := candles.AggregateSwaps(batch, curveAddr, tf, b.priorClose(ctx, curveAddr, tf, earliest))
		if len(built) == 0 {
			continue
		}

		// Rows already fetched from the market-data API fill buckets the
		// swap record does not cover; inside the covered range the
		// swap-built candles win.
		stored, err := b.candleStore.GetRange(ctx, curveAddr, tf,
			built[0].BucketStart, built[len(built)-1].BucketStart)
		if err != nil {
			return fmt.Errorf("load stored candles: %w", err)
		}
		merged := candles.MergeFetched(built, stored)
		candles.FlagMigration(merged, boundary)

		if err := b.candleStore.UpsertBulk(ctx, merged); err != nil {
			observability.RecordBackfillError("store")
			return fmt.Errorf("store swap candles: %w", err)
		}
		observability.RecordCandlesStored(string(tf), len(merged))
	}

	b.logger.Printf("swap history for %s: %d swaps across %d timeframes", mint, len(batch), len(b.timeframes))
	return nil
}

// collectSwaps pages signatures newest-first with a before cursor and
// extracts swaps from the batched transactions. Errored signatures are
// skipped before the fetch.
func (b *SwapBackfiller) collectSwaps(ctx context.Context, curveAddr, mint string) ([]*domain.Swap, error) {
	var out []*domain.Swap
	before := ""

	for page := 0; page < b.maxPages; page++ {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}

		sigs, err := b.chain.GetSignaturesForAddress(ctx, curveAddr, &solana.SignaturesOpts{
			Before: before,
			Limit:  b.pageSize,
		})
		if err != nil {
			return nil, fmt.Errorf("signatures for %s: %w", curveAddr, err)
		}
		if len(sigs) == 0 {
			break
		}

		wanted := make([]string, 0, len(sigs))
		for _, si := range sigs {
			if si.Err == nil {
				wanted = append(wanted, si.Signature)
			}
		}

		if len(wanted) > 0 {
			txs, err := b.chain.GetTransactions(ctx, wanted)
			if err != nil {
				return nil, fmt.Errorf("transactions for %s: %w", curveAddr, err)
			}
			for _, tx := range txs {
				if swap, ok := b.extractor.ExtractSwap(tx, mint, curveAddr); ok {
					out = append(out, swap)
				}
			}
		}

		before = sigs[len(sigs)-1].Signature
		if len(sigs) < b.pageSize {
			break
		}
	}
	return out, nil
}

// priorClose returns the close of the newest stored candle older than the
// batch, seeding the first bucket's open so the series stays continuous with
// history already persisted.
func (b *SwapBackfiller) priorClose(ctx context.Context, pool string, tf domain.Timeframe, earliest int64) *float64 {
	to := tf.BucketStart(earliest) - 1
	if to <= 0 {
		return nil
	}
	prior, err := b.candleStore.GetRange(ctx, pool, tf, 0, to)
	if err != nil || len(prior) == 0 {
		return nil
	}
	cl := prior[len(prior)-1].Close
	return &cl
}

// Command live watches bonding-curve reserve accounts over WebSocket and
// folds the decoded prices into realtime one-minute candles. It complements
// the backfill command: backfill owns history, live owns the current bucket.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-candle-lab/internal/candles"
	"solana-candle-lab/internal/config"
	"solana-candle-lab/internal/curve"
	"solana-candle-lab/internal/discovery"
	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/observability"
	"solana-candle-lab/internal/scheduler"
	"solana-candle-lab/internal/solana"
	"solana-candle-lab/internal/storage"
	"solana-candle-lab/internal/storage/memory"
	"solana-candle-lab/internal/storage/migrations"
	pgstore "solana-candle-lab/internal/storage/postgres"
	"solana-candle-lab/internal/swaps"
)

func main() {
	mints := flag.String("mints", "", "Comma-separated token mints (overrides MINTS env)")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	flag.Parse()

	logger := log.New(os.Stdout, "[live] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if *mints != "" {
		cfg.Mints = splitMints(*mints)
	}
	if len(cfg.Mints) == 0 {
		logger.Fatal("No mints configured. Use --mints or MINTS env")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Printf("Received signal %v, shutting down...", sig)
		cancel()
	}()

	var candleStore storage.CandleStore = memory.NewCandleStore()
	if !*useMemory {
		pool, err := pgstore.NewPool(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Fatalf("Connect to postgres: %v", err)
		}
		defer pool.Close()
		if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
			logger.Fatalf("Run postgres migrations: %v", err)
		}
		candleStore = pgstore.NewCandleStore(pool)
	}

	// Chain RPC gets its own scheduler profile, independent of the
	// market-data window the backfill command uses.
	rpcSched := scheduler.New(scheduler.Profile{
		Name:        "rpc",
		Window:      cfg.RPCWindow,
		MaxInWindow: cfg.RPCMaxInWindow,
		MinDelay:    cfg.RPCMinDelay,
	})
	rpc := solana.NewHTTPClient(cfg.SolanaRPCURL, solana.WithLimiter(rpcSched))

	ws, err := solana.NewWSClient(ctx, cfg.SolanaWSURL, nil)
	if err != nil {
		logger.Fatalf("Create websocket client: %v", err)
	}
	defer ws.Close()

	g, ctx := errgroup.WithContext(ctx)
	for _, mint := range cfg.Mints {
		mint := mint
		g.Go(func() error {
			return watchMint(ctx, logger, rpc, ws, candleStore, mint)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

// watchMint streams one token's bonding-curve account and maintains its
// realtime one-minute candle.
func watchMint(ctx context.Context, logger *log.Logger, rpc *solana.HTTPClient, ws solana.WSClient, store storage.CandleStore, mint string) error {
	curveAddr, err := discovery.CurveAddress(mint, swaps.PumpFunProgram)
	if err != nil {
		return err
	}
	logger.Printf("Watching curve %s for mint %s", curveAddr, mint)

	builder := candles.NewLiveBuilder(curveAddr, domain.Timeframe1m)

	// Seed the builder from the current on-chain state so the first bucket
	// opens at the live price rather than the first change.
	if info, err := rpc.GetAccountInfo(ctx, curveAddr); err == nil {
		if state, derr := curve.Decode(info.Data); derr == nil {
			if price, perr := state.Price(); perr == nil {
				flush(ctx, logger, store, builder.Add(time.Now().Unix(), price, 0))
			}
		}
	} else {
		logger.Printf("Initial account fetch for %s: %v", curveAddr, err)
	}

	ch, err := ws.SubscribeAccount(ctx, curveAddr)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			flush(context.Background(), logger, store, builder.Flush())
			return ctx.Err()
		case note, ok := <-ch:
			if !ok {
				flush(context.Background(), logger, store, builder.Flush())
				return nil
			}
			observability.DefaultMetrics.CurveNotifications.Inc()

			state, err := curve.Decode(note.Data)
			if err != nil {
				// Not a curve layout; skip the notification.
				continue
			}
			price, err := state.Price()
			if err != nil {
				continue
			}
			flush(ctx, logger, store, builder.Add(time.Now().Unix(), price, 0))
		}
	}
}

func flush(ctx context.Context, logger *log.Logger, store storage.CandleStore, closed []domain.Candle) {
	if len(closed) == 0 {
		return
	}
	if err := store.UpsertBulk(ctx, closed); err != nil {
		logger.Printf("Store %d live candles: %v", len(closed), err)
		return
	}
	observability.DefaultMetrics.LiveCandlesFlushed.Add(float64(len(closed)))
}

func splitMints(s string) []string {
	var out []string
	for _, m := range strings.Split(s, ",") {
		m = strings.TrimSpace(m)
		if m != "" {
			out = append(out, m)
		}
	}
	return out
}

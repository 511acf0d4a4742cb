// Command backfill keeps the candle history of a token set complete and
// fresh. It resolves each token's pools, then walks every (pool, timeframe)
// pair with resumable checkpoints, rate-limited through a shared scheduler.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"solana-candle-lab/internal/backfill"
	"solana-candle-lab/internal/config"
	"solana-candle-lab/internal/discovery"
	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/marketdata"
	"solana-candle-lab/internal/observability"
	"solana-candle-lab/internal/scheduler"
	"solana-candle-lab/internal/solana"
	"solana-candle-lab/internal/storage"
	chstore "solana-candle-lab/internal/storage/clickhouse"
	"solana-candle-lab/internal/storage/memory"
	"solana-candle-lab/internal/storage/migrations"
	pgstore "solana-candle-lab/internal/storage/postgres"
)

func main() {
	mints := flag.String("mints", "", "Comma-separated token mints (overrides MINTS env)")
	once := flag.Bool("once", false, "Run a single cycle and exit")
	swapHistory := flag.Bool("swap-history", false, "Rebuild bonding-curve candles from raw chain transactions before the fetch loop")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics HTTP address (overrides METRICS_ADDR)")
	flag.Parse()

	logger := log.New(os.Stdout, "[backfill] ", log.LstdFlags|log.Lshortfile)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Load config: %v", err)
	}
	if *mints != "" {
		cfg.Mints = splitMints(*mints)
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}
	if len(cfg.Mints) == 0 {
		logger.Fatal("No mints configured. Use --mints or MINTS env")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Stores: in-memory for dry runs, PostgreSQL (plus an optional
	// ClickHouse mirror for candles) otherwise.
	var (
		candleStore   storage.CandleStore   = memory.NewCandleStore()
		poolStore     storage.PoolStore     = memory.NewPoolStore()
		progressStore storage.ProgressStore = memory.NewProgressStore()
		tokenStore    storage.TokenStore    = memory.NewTokenStore()
	)
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
		poolStore = pgstore.NewPoolStore(pool)
		progressStore = pgstore.NewProgressStore(pool)
		tokenStore = pgstore.NewTokenStore(pool)

		if cfg.ClickhouseDSN != "" {
			conn, err := migrations.RunClickhouseMigrations(ctx, cfg.ClickhouseDSN)
			if err != nil {
				logger.Fatalf("Run clickhouse migrations: %v", err)
			}
			defer conn.Close()
			candleStore = storage.NewFanoutCandleStore(candleStore, chstore.NewCandleStore(conn))
			logger.Println("Mirroring candles to ClickHouse")
		}
	}

	// One scheduler per rate-limit profile; every market-data request in
	// the process goes through this instance.
	marketSched := scheduler.New(scheduler.Profile{
		Name:        "market",
		Window:      cfg.MarketWindow,
		MaxInWindow: cfg.MarketMaxInWindow,
		MinDelay:    cfg.MarketMinDelay,
	})

	client := marketdata.NewClient(cfg.MarketDataURL,
		marketdata.WithLimiter(marketSched),
		marketdata.WithLogger(logger),
	)

	resolver := discovery.NewResolver(discovery.ResolverOptions{
		Lookup:     client,
		PoolStore:  poolStore,
		TokenStore: tokenStore,
		Logger:     logger,
	})

	coordinator := backfill.NewCoordinator(backfill.Options{
		Fetcher:         client,
		Resolver:        resolver,
		CandleStore:     candleStore,
		ProgressStore:   progressStore,
		TokenStore:      tokenStore,
		Mints:           cfg.Mints,
		Staleness:       cfg.Staleness,
		FetchLimit:      cfg.FetchLimit,
		CheckpointEvery: cfg.CheckpointEvery,
		Interval:        cfg.CycleInterval,
		Logger:          logger,
	})

	var swapBackfiller *backfill.SwapBackfiller
	if *swapHistory {
		rpcSched := scheduler.New(scheduler.Profile{
			Name:        "rpc",
			Window:      cfg.RPCWindow,
			MaxInWindow: cfg.RPCMaxInWindow,
			MinDelay:    cfg.RPCMinDelay,
		})
		rpc := solana.NewHTTPClient(cfg.SolanaRPCURL, solana.WithLimiter(rpcSched))
		swapBackfiller = backfill.NewSwapBackfiller(backfill.SwapBackfillerOptions{
			Chain:       rpc,
			CandleStore: candleStore,
			Resolver:    resolver,
			Logger:      logger,
		})
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		srv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux()}
		g.Go(func() error {
			logger.Printf("Starting metrics server on %s", cfg.MetricsAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	g.Go(func() error {
		if swapBackfiller != nil {
			for _, mint := range cfg.Mints {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if err := swapBackfiller.BackfillMint(ctx, mint); err != nil {
					logger.Printf("Swap history for %s: %v", mint, err)
				}
			}
		}
		if *once {
			return coordinator.RunCycle(ctx)
		}
		return coordinator.Run(ctx)
	})

	g.Go(func() error {
		select {
		case sig := <-sigCh:
			logger.Printf("Received signal %v, initiating graceful shutdown...", sig)
			coordinator.Stop()
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	logger.Printf("Tracking %d mint(s) across %d timeframe(s)", len(cfg.Mints), len(domain.AllTimeframes))
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatalf("Error: %v", err)
	}
	logger.Println("Shutdown complete")
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
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

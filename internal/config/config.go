// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all runtime settings.
type Config struct {
	// PostgresDSN is the primary store. Required.
	PostgresDSN string `env:"POSTGRES_DSN,required"`
	// ClickhouseDSN enables the analytics candle copy when set.
	ClickhouseDSN string `env:"CLICKHOUSE_DSN"`

	// SolanaRPCURL is the chain RPC endpoint.
	SolanaRPCURL string `env:"SOLANA_RPC_URL" envDefault:"https://api.mainnet-beta.solana.com"`
	// SolanaWSURL is the websocket endpoint for account subscriptions.
	SolanaWSURL string `env:"SOLANA_WS_URL" envDefault:"wss://api.mainnet-beta.solana.com"`
	// MarketDataURL overrides the market-data API root.
	MarketDataURL string `env:"MARKET_DATA_URL"`

	// Mints is the comma-separated token set to track.
	Mints []string `env:"MINTS" envSeparator:","`

	// Market-data rate-limit profile.
	MarketWindow      time.Duration `env:"MARKET_WINDOW" envDefault:"60s"`
	MarketMaxInWindow int           `env:"MARKET_MAX_IN_WINDOW" envDefault:"30"`
	MarketMinDelay    time.Duration `env:"MARKET_MIN_DELAY" envDefault:"500ms"`

	// Chain RPC rate-limit profile.
	RPCWindow      time.Duration `env:"RPC_WINDOW" envDefault:"1s"`
	RPCMaxInWindow int           `env:"RPC_MAX_IN_WINDOW" envDefault:"10"`
	RPCMinDelay    time.Duration `env:"RPC_MIN_DELAY" envDefault:"50ms"`

	// Backfill tuning.
	Staleness       time.Duration `env:"BACKFILL_STALENESS" envDefault:"1h"`
	FetchLimit      int           `env:"BACKFILL_FETCH_LIMIT" envDefault:"1000"`
	CheckpointEvery int           `env:"BACKFILL_CHECKPOINT_EVERY" envDefault:"250"`
	CycleInterval   time.Duration `env:"BACKFILL_CYCLE_INTERVAL" envDefault:"30s"`

	// MetricsAddr serves /metrics when non-empty.
	MetricsAddr string `env:"METRICS_ADDR" envDefault:":9091"`
}

// Load reads .env (when present) and the process environment.
func Load() (*Config, error) {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("load .env: %w", err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	for i, m := range cfg.Mints {
		cfg.Mints[i] = strings.TrimSpace(m)
	}
	return cfg, nil
}

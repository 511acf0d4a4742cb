// Package discovery resolves the trading venues of a token and the
// migration boundary that splits its candle history between launchpad and
// DEX phases.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"solana-candle-lab/internal/domain"
	"solana-candle-lab/internal/marketdata"
	"solana-candle-lab/internal/storage"
)

// Lookup is the slice of the market-data client the resolver needs.
type Lookup interface {
	LookupToken(ctx context.Context, mint string) (*marketdata.TokenLookup, error)
}

// Resolver answers "which pools trade this token, in what priority order"
// from the pool store, falling back to one market-data lookup on cache miss.
type Resolver struct {
	lookup     Lookup
	poolStore  storage.PoolStore
	tokenStore storage.TokenStore
	now        func() time.Time
	logger     *log.Logger
}

// ResolverOptions contains configuration for creating a Resolver.
type ResolverOptions struct {
	Lookup     Lookup
	PoolStore  storage.PoolStore
	TokenStore storage.TokenStore
	Now        func() time.Time
	Logger     *log.Logger
}

// NewResolver creates a pool resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Resolver{
		lookup:     opts.Lookup,
		poolStore:  opts.PoolStore,
		tokenStore: opts.TokenStore,
		now:        now,
		logger:     logger,
	}
}

// PoolsForToken returns the token's pools in backfill priority order: the
// recorded migrated pool first, then DEX pools over bonding curves, then
// descending 24h volume. A cache miss triggers one metadata lookup whose
// results are persisted before being returned.
func (r *Resolver) PoolsForToken(ctx context.Context, mint string) ([]*domain.Pool, error) {
	pools, err := r.poolStore.GetByToken(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("load cached pools: %w", err)
	}
	if len(pools) == 0 {
		pools, err = r.discover(ctx, mint)
		if err != nil {
			return nil, err
		}
	}

	token, err := r.tokenStore.Get(ctx, mint)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load token metadata: %w", err)
	}
	r.orderPools(pools, token)
	return pools, nil
}

// MigrationBoundaryFor returns the unix-second timestamp splitting pre- and
// post-migration history, 0 when the token has not graduated. The boundary
// is read from token metadata only, never inferred from candles.
func (r *Resolver) MigrationBoundaryFor(ctx context.Context, mint string) (int64, error) {
	token, err := r.tokenStore.Get(ctx, mint)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("load token metadata: %w", err)
	}
	return token.MigrationBoundary(), nil
}

// discover performs one market-data lookup and persists every returned
// venue. A migrated pool named by the token metadata but absent from the
// venue list is appended with zero stats so backfill can still reach it.
func (r *Resolver) discover(ctx context.Context, mint string) ([]*domain.Pool, error) {
	result, err := r.lookup.LookupToken(ctx, mint)
	if err != nil {
		return nil, fmt.Errorf("lookup token %s: %w", mint, err)
	}

	now := r.now().Unix()
	if result.Token.CreatedAt == 0 {
		result.Token.CreatedAt = tokenCreationFrom(result.Pools)
	}
	if err := r.tokenStore.Upsert(ctx, &result.Token); err != nil {
		return nil, fmt.Errorf("store token metadata: %w", err)
	}

	var pools []*domain.Pool
	seen := make(map[string]bool, len(result.Pools))
	for _, pi := range result.Pools {
		p := &domain.Pool{
			TokenMint:    mint,
			Address:      pi.Address,
			DexID:        pi.DexID,
			PoolType:     pi.PoolType,
			Volume24h:    pi.Volume24hUSD,
			LiquidityUSD: pi.ReserveUSD,
			DiscoveredAt: now,
		}
		if err := r.poolStore.Upsert(ctx, p); err != nil {
			return nil, fmt.Errorf("store pool %s: %w", p.Address, err)
		}
		seen[p.Address] = true
		pools = append(pools, p)
	}

	if migrated := result.Token.MigratedPoolAddress; migrated != "" && !seen[migrated] {
		p := &domain.Pool{
			TokenMint:    mint,
			Address:      migrated,
			PoolType:     domain.PoolTypeDex,
			DiscoveredAt: now,
		}
		if err := r.poolStore.Upsert(ctx, p); err != nil {
			return nil, fmt.Errorf("store migrated pool %s: %w", migrated, err)
		}
		pools = append(pools, p)
		r.logger.Printf("appended migrated pool %s for mint %s not present in lookup", migrated, mint)
	}

	return pools, nil
}

// tokenCreationFrom derives the token's creation time from its venues. The
// bonding curve is the token's first venue, so its creation time stands in
// for the token's; without one the earliest pool creation wins. This anchors
// the backfill completion check.
func tokenCreationFrom(pools []marketdata.PoolInfo) int64 {
	var earliest int64
	for _, p := range pools {
		if p.CreatedAt <= 0 {
			continue
		}
		if p.PoolType == domain.PoolTypeBondingCurve {
			return p.CreatedAt
		}
		if earliest == 0 || p.CreatedAt < earliest {
			earliest = p.CreatedAt
		}
	}
	return earliest
}

// orderPools sorts in place: migrated pool, then DEX pools, then bonding
// curves, descending volume within each class.
func (r *Resolver) orderPools(pools []*domain.Pool, token *domain.TokenInfo) {
	migrated := ""
	if token != nil {
		migrated = token.MigratedPoolAddress
	}
	rank := func(p *domain.Pool) int {
		switch {
		case migrated != "" && p.Address == migrated:
			return 0
		case p.PoolType == domain.PoolTypeDex:
			return 1
		case p.PoolType == domain.PoolTypeBondingCurve:
			return 2
		default:
			return 3
		}
	}
	sort.SliceStable(pools, func(i, j int) bool {
		ri, rj := rank(pools[i]), rank(pools[j])
		if ri != rj {
			return ri < rj
		}
		if pools[i].Volume24h != pools[j].Volume24h {
			return pools[i].Volume24h > pools[j].Volume24h
		}
		return pools[i].Address < pools[j].Address
	})
}

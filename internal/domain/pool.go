package domain

// Pool type constants.
const (
	PoolTypeBondingCurve = "bonding_curve"
	PoolTypeDex          = "dex"
	PoolTypeUnknown      = "unknown"
)

// Pool represents a trading venue for a token. A token may have zero, one,
// or many pools concurrently (pre- and post-migration). Pools are never
// deleted, only re-verified; DiscoveredAt is set once.
type Pool struct {
	TokenMint    string  // token mint this pool trades
	Address      string  // pool or bonding-curve account address
	DexID        string  // e.g. "pumpfun", "raydium", "pumpswap"
	PoolType     string  // PoolType* constant
	Volume24h    float64 // 24h volume in USD, refreshed on re-discovery
	LiquidityUSD float64 // reserve in USD, refreshed on re-discovery
	DiscoveredAt int64   // Unix seconds, immutable after first insert
}

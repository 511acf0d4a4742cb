package domain

// Swap represents a single parsed trade against a token's trading venue.
// Produced by the swaps extractor, consumed by the candle aggregator.
// Immutable once created.
type Swap struct {
	Signature   string  // Solana transaction signature (unique)
	Slot        int64   // Solana slot number
	Timestamp   int64   // Unix timestamp in seconds
	Side        string  // "buy" | "sell"
	TokenAmount float64 // token amount, decimals applied
	QuoteAmount float64 // SOL amount, decimals applied
	Price       float64 // QuoteAmount / TokenAmount
	MintTx      bool    // the transaction also created the token
	Tag         string  // informational actor tag, see Tag* constants
}

// Swap side constants
const (
	SwapSideBuy  = "buy"
	SwapSideSell = "sell"
)

// Actor tags assigned during batch ordering. These are informational
// metadata only and never influence candle aggregation.
const (
	TagMintCreator = "mint_creator" // first swap at the lowest observed slot
	TagBundler     = "bundler"      // other swaps sharing the creation slot
	TagEarlySniper = "early_sniper" // swaps within the next two slots
	TagVolumeBot   = "volume_bot"   // buy and sell present in one transaction
)

package domain

// TokenInfo holds per-token metadata needed to drive backfill and to stitch
// candle history across a launchpad graduation.
type TokenInfo struct {
	Mint                string
	Name                string
	Symbol              string
	Decimals            int
	CreatedAt           int64  // Unix seconds; backfill completion anchor
	Graduated           bool   // bonding curve completed
	MigratedAt          *int64 // Unix seconds of the migration, nil if not graduated
	MigratedPoolAddress string // DEX pool address after graduation, empty if none
}

// MigrationBoundary returns the migration timestamp, or 0 when the token has
// not graduated. Candles at or after the boundary count as post-migration.
// The boundary comes from token metadata only and is never recomputed from
// candle data.
func (t *TokenInfo) MigrationBoundary() int64 {
	if t == nil || !t.Graduated || t.MigratedAt == nil {
		return 0
	}
	return *t.MigratedAt
}

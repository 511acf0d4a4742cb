package domain

// Candle represents one OHLCV bucket for a (pool, timeframe) pair.
// Corresponds to the candles table in PostgreSQL and the candle
// timeseries table in ClickHouse.
type Candle struct {
	PoolAddress   string    // trading venue address
	Timeframe     Timeframe // bucket width
	BucketStart   int64     // Unix seconds, aligned to the timeframe
	Open          float64
	High          float64
	Low           float64
	Close         float64
	Volume        float64 // quote-currency volume in the bucket
	PostMigration bool    // true when BucketStart >= the token's migration boundary
}

// Valid reports whether the candle satisfies the OHLC invariant:
// low <= {open, close} <= high, all values positive and finite.
func (c Candle) Valid() bool {
	if !(c.High >= c.Low) {
		return false
	}
	if c.Open > c.High || c.Open < c.Low {
		return false
	}
	if c.Close > c.High || c.Close < c.Low {
		return false
	}
	return c.Open > 0 && c.High > 0 && c.Low > 0 && c.Close > 0 && c.Volume >= 0
}

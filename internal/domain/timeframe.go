package domain

import "fmt"

// Timeframe identifies a fixed candle bucket width.
type Timeframe string

// Supported timeframes, matching the market-data API's resolutions.
const (
	Timeframe1m  Timeframe = "1m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
)

// AllTimeframes lists every supported timeframe in ascending width order.
var AllTimeframes = []Timeframe{Timeframe1m, Timeframe15m, Timeframe1h, Timeframe4h, Timeframe1d}

var timeframeSeconds = map[Timeframe]int64{
	Timeframe1m:  60,
	Timeframe15m: 900,
	Timeframe1h:  3600,
	Timeframe4h:  14400,
	Timeframe1d:  86400,
}

// Seconds returns the bucket width in seconds, or 0 for an unknown timeframe.
func (t Timeframe) Seconds() int64 {
	return timeframeSeconds[t]
}

// BucketStart aligns ts (unix seconds) down to the timeframe boundary.
func (t Timeframe) BucketStart(ts int64) int64 {
	w := t.Seconds()
	if w <= 0 {
		return ts
	}
	return ts / w * w
}

// ParseTimeframe validates and returns a timeframe from its string form.
func ParseTimeframe(s string) (Timeframe, error) {
	t := Timeframe(s)
	if _, ok := timeframeSeconds[t]; !ok {
		return "", fmt.Errorf("unknown timeframe %q", s)
	}
	return t, nil
}

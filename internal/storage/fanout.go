package storage

import (
	"context"

	"solana-candle-lab/internal/domain"
)

// FanoutCandleStore writes candles to a primary store and mirrors them to
// secondaries (the ClickHouse analytics copy). Reads always come from the
// primary; a secondary write failure fails the whole upsert so the copies
// cannot silently diverge.
type FanoutCandleStore struct {
	primary     CandleStore
	secondaries []CandleStore
}

// NewFanoutCandleStore creates a fanout over primary plus secondaries.
func NewFanoutCandleStore(primary CandleStore, secondaries ...CandleStore) *FanoutCandleStore {
	return &FanoutCandleStore{primary: primary, secondaries: secondaries}
}

// Compile-time interface check.
var _ CandleStore = (*FanoutCandleStore)(nil)

// UpsertBulk writes to the primary first, then every secondary.
func (s *FanoutCandleStore) UpsertBulk(ctx context.Context, candles []domain.Candle) error {
	if err := s.primary.UpsertBulk(ctx, candles); err != nil {
		return err
	}
	for _, sec := range s.secondaries {
		if err := sec.UpsertBulk(ctx, candles); err != nil {
			return err
		}
	}
	return nil
}

// GetRange reads from the primary.
func (s *FanoutCandleStore) GetRange(ctx context.Context, poolAddress string, tf domain.Timeframe, from, to int64) ([]domain.Candle, error) {
	return s.primary.GetRange(ctx, poolAddress, tf, from, to)
}

// GetLatest reads from the primary.
func (s *FanoutCandleStore) GetLatest(ctx context.Context, poolAddress string, tf domain.Timeframe) (*domain.Candle, error) {
	return s.primary.GetLatest(ctx, poolAddress, tf)
}

// GetOldest reads from the primary.
func (s *FanoutCandleStore) GetOldest(ctx context.Context, poolAddress string, tf domain.Timeframe) (*domain.Candle, error) {
	return s.primary.GetOldest(ctx, poolAddress, tf)
}

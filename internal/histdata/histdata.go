// Package histdata loads historical bar data and replays it as market events
// for backtests. Bars come either from the local Parquet store or straight
// from the Alpaca market-data API.
package histdata

import (
	"context"
	"fmt"
	"time"

	"meridian/internal/domain"
	"meridian/internal/store"
)

// BarSource loads daily bars for a set of symbols.
type BarSource interface {
	// GetBarData returns bars per symbol within [start, end]. Symbols with
	// no data in the range are absent from the result.
	GetBarData(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.Bar, error)

	// GetBenchmarkData returns bars for the benchmark symbol within
	// [start, end].
	GetBenchmarkData(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)
}

// Compile-time interface check.
var _ BarSource = (*StoreSource)(nil)

// StoreSource reads bars from a local bar store.
type StoreSource struct {
	store store.BarStore
}

// NewStoreSource creates a StoreSource backed by the given bar store.
func NewStoreSource(s store.BarStore) *StoreSource {
	return &StoreSource{store: s}
}

// GetBarData reads bars for every symbol from the store.
func (s *StoreSource) GetBarData(ctx context.Context, symbols []string, start, end time.Time) (map[string][]domain.Bar, error) {
	result := make(map[string][]domain.Bar, len(symbols))
	for _, symbol := range symbols {
		bars, err := s.store.ReadBars(ctx, symbol, start, end)
		if err != nil {
			return nil, fmt.Errorf("reading bars for %s: %w", symbol, err)
		}
		if len(bars) == 0 {
			continue
		}
		result[symbol] = bars
	}
	return result, nil
}

// GetBenchmarkData reads bars for the benchmark symbol from the store.
func (s *StoreSource) GetBenchmarkData(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	bars, err := s.store.ReadBars(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("reading benchmark %s: %w", symbol, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no benchmark data for %s in range", symbol)
	}
	return bars, nil
}

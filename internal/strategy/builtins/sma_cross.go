// Package builtins provides built-in strategy implementations that ship with
// the meridian engine.
package builtins

import (
	"context"
	"fmt"

	"meridian/internal/domain"
	"meridian/internal/strategy"
)

// Compile-time interface check.
var _ strategy.Strategy = (*SMACross)(nil)

// SMACross implements a simple moving average crossover strategy. It opens a
// long position when the short-period SMA crosses above the long-period SMA
// and closes it when the short SMA crosses back below.
type SMACross struct {
	shortPeriod int
	longPeriod  int
	weight      float64

	closes map[string][]float64
	long   map[string]bool
	trades int
}

// NewSMACross creates a new SMACross strategy with the specified short and
// long moving average periods. weight is the capital-allocation fraction
// attached to each entry leg.
func NewSMACross(short, long int, weight float64) *SMACross {
	return &SMACross{
		shortPeriod: short,
		longPeriod:  long,
		weight:      weight,
		closes:      make(map[string][]float64),
		long:        make(map[string]bool),
	}
}

// Name returns "sma-cross".
func (s *SMACross) Name() string {
	return "sma-cross"
}

// Init validates the period configuration.
func (s *SMACross) Init(_ context.Context) error {
	if s.shortPeriod <= 0 || s.longPeriod <= s.shortPeriod {
		return fmt.Errorf("sma-cross: invalid periods short=%d long=%d", s.shortPeriod, s.longPeriod)
	}
	return nil
}

// OnMarket appends each ticker's close and emits a signal when the SMAs
// cross. Crossover detection compares the current relation against the
// previous bar's, so a flat start never fires a phantom entry.
func (s *SMACross) OnMarket(_ context.Context, ev domain.MarketEvent) ([]domain.Signal, error) {
	var signals []domain.Signal

	for ticker, bar := range ev.Bars {
		history := append(s.closes[ticker], bar.Close)
		if keep := s.longPeriod + 1; len(history) > keep {
			history = history[len(history)-keep:]
		}
		s.closes[ticker] = history

		if len(history) < s.longPeriod+1 {
			continue
		}

		nowAbove := sma(history, s.shortPeriod) > sma(history, s.longPeriod)
		prev := history[:len(history)-1]
		wasAbove := sma(prev, s.shortPeriod) > sma(prev, s.longPeriod)
		if nowAbove == wasAbove {
			continue
		}

		switch {
		case nowAbove && !s.long[ticker]:
			s.trades++
			s.long[ticker] = true
			signals = append(signals, domain.Signal{
				Timestamp: ev.TS,
				Instructions: []domain.TradeInstruction{{
					Ticker:    ticker,
					Action:    domain.ActionLong,
					OrderType: domain.OrderTypeMarket,
					TradeID:   s.trades,
					LegID:     1,
					Weight:    s.weight,
				}},
			})
		case !nowAbove && s.long[ticker]:
			s.long[ticker] = false
			signals = append(signals, domain.Signal{
				Timestamp: ev.TS,
				Instructions: []domain.TradeInstruction{{
					Ticker:    ticker,
					Action:    domain.ActionSell,
					OrderType: domain.OrderTypeMarket,
					TradeID:   s.trades,
					LegID:     1,
					Weight:    s.weight,
				}},
			})
		}
	}
	return signals, nil
}

// sma averages the trailing n values of prices.
func sma(prices []float64, n int) float64 {
	var sum float64
	for _, p := range prices[len(prices)-n:] {
		sum += p
	}
	return sum / float64(n)
}

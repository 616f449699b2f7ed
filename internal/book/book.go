// Package book holds the last known price per instrument. It is a plain
// last-price cache, not a matching engine: insert and lookup only.
package book

import (
	"fmt"
	"time"

	"meridian/internal/domain"
)

// PriceBook caches the most recent bar per ticker. The dispatcher updates it
// on every market event before any other handler runs, so downstream
// components always price against the latest batch.
type PriceBook struct {
	bars        map[string]domain.Bar
	lastUpdated time.Time
}

// NewPriceBook creates an empty price book.
func NewPriceBook() *PriceBook {
	return &PriceBook{bars: make(map[string]domain.Bar)}
}

// Update inserts every bar in the batch and advances the book timestamp.
func (b *PriceBook) Update(ev domain.MarketEvent) {
	for ticker, bar := range ev.Bars {
		b.bars[ticker] = bar
	}
	b.lastUpdated = ev.TS
}

// CurrentPrice returns the latest close for ticker.
func (b *PriceBook) CurrentPrice(ticker string) (float64, error) {
	bar, ok := b.bars[ticker]
	if !ok {
		return 0, fmt.Errorf("no price for %q", ticker)
	}
	return bar.Close, nil
}

// CurrentPrices returns the latest close for every ticker in the book.
func (b *PriceBook) CurrentPrices() map[string]float64 {
	prices := make(map[string]float64, len(b.bars))
	for ticker, bar := range b.bars {
		prices[ticker] = bar.Close
	}
	return prices
}

// Bar returns the full latest bar for ticker.
func (b *PriceBook) Bar(ticker string) (domain.Bar, bool) {
	bar, ok := b.bars[ticker]
	return bar, ok
}

// LastUpdated returns the timestamp of the most recent market event applied.
func (b *PriceBook) LastUpdated() time.Time {
	return b.lastUpdated
}

// Package store defines storage interfaces for historical bar data and
// persisted backtest results.
package store

import (
	"context"
	"errors"
	"time"

	"meridian/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end].
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in storage.
	ListSymbols(ctx context.Context) ([]string, error)
}

// TradeSummary is the per-trade aggregate saved with a backtest run. A trade
// groups every fill sharing a trade id, from first entry to last exit.
type TradeSummary struct {
	TradeID   int
	Ticker    string
	EntryTime time.Time
	ExitTime  time.Time
	Quantity  float64
	Pnl       float64
	Fees      float64
}

// SignalRecord is one emitted trade instruction saved with a backtest run,
// flattened to a row per leg.
type SignalRecord struct {
	Timestamp time.Time
	TradeID   int
	LegID     int
	Ticker    string
	Action    string
	OrderType string
	Weight    float64
}

// BacktestRun is a completed backtest: identity, headline statistics, the
// closed trades, the signal log, and the equity curve.
type BacktestRun struct {
	ID        string
	Strategy  string
	StartDate time.Time
	EndDate   time.Time
	CreatedAt time.Time
	Stats     map[string]float64
	Trades    []TradeSummary
	Signals   []SignalRecord
	Equity    []domain.EquityPoint
}

// ResultStore persists backtest runs.
type ResultStore interface {
	// CreateBacktest saves a completed run with its trades, signals, and
	// equity curve.
	CreateBacktest(ctx context.Context, run *BacktestRun) error

	// GetBacktest loads a run by id, including trades, signals, and equity
	// curve.
	GetBacktest(ctx context.Context, id string) (*BacktestRun, error)

	// ListBacktests returns run headers (no trades or equity) most recent
	// first.
	ListBacktests(ctx context.Context) ([]BacktestRun, error)
}

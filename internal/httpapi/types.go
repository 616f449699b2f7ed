// Package httpapi provides an HTTP REST API over persisted backtest
// results, serving run headers, trade logs, signal logs, and equity
// curves in JSON.
package httpapi

import (
	"meridian/internal/store"
	"meridian/pkg/meridian"
)

func headerJSON(run *store.BacktestRun) meridian.RunHeaderJSON {
	return meridian.RunHeaderJSON{
		ID:        run.ID,
		Strategy:  run.Strategy,
		StartDate: run.StartDate.Format("2006-01-02"),
		EndDate:   run.EndDate.Format("2006-01-02"),
		CreatedAt: run.CreatedAt,
		Stats:     run.Stats,
	}
}

func runJSON(run *store.BacktestRun) meridian.RunJSON {
	out := meridian.RunJSON{
		RunHeaderJSON: headerJSON(run),
		Trades:        make([]meridian.TradeJSON, 0, len(run.Trades)),
		Signals:       make([]meridian.SignalJSON, 0, len(run.Signals)),
		Equity:        make([]meridian.EquityPointJSON, 0, len(run.Equity)),
	}
	for _, tr := range run.Trades {
		out.Trades = append(out.Trades, meridian.TradeJSON{
			TradeID:   tr.TradeID,
			Ticker:    tr.Ticker,
			EntryTime: tr.EntryTime,
			ExitTime:  tr.ExitTime,
			Quantity:  tr.Quantity,
			Pnl:       tr.Pnl,
			Fees:      tr.Fees,
		})
	}
	for _, sig := range run.Signals {
		out.Signals = append(out.Signals, meridian.SignalJSON{
			Timestamp: sig.Timestamp,
			TradeID:   sig.TradeID,
			LegID:     sig.LegID,
			Ticker:    sig.Ticker,
			Action:    sig.Action,
			OrderType: sig.OrderType,
			Weight:    sig.Weight,
		})
	}
	for _, p := range run.Equity {
		out.Equity = append(out.Equity, meridian.EquityPointJSON{Timestamp: p.Timestamp, Value: p.Value})
	}
	return out
}

// Package portfolio holds the account and position ledger shared between
// the broker side and the rest of the engine.
package portfolio

import (
	"log/slog"
	"sync"

	"meridian/internal/domain"
)

// Ledger is the single source of truth for positions, account balances, and
// open orders. Only the active broker component (simulated broker or live
// bridge) writes to it; every other component reads snapshots. Updates are
// idempotent: storing a value identical to the current one is a no-op and
// produces no log line, which keeps live "account update on every tick"
// gateways from flooding the log.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
	account   domain.Account
	orders    map[string]domain.ActiveOrder
	log       *slog.Logger
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		positions: make(map[string]domain.Position),
		orders:    make(map[string]domain.ActiveOrder),
		log:       slog.Default().With("component", "ledger"),
	}
}

// UpdatePosition stores the position for ticker. A zero-quantity position is
// treated as a close and removes the entry. Returns true when the stored
// state changed.
func (l *Ledger) UpdatePosition(ticker string, pos domain.Position) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if pos.Quantity == 0 {
		if _, ok := l.positions[ticker]; !ok {
			return false
		}
		delete(l.positions, ticker)
		l.log.Info("position closed", "ticker", ticker)
		return true
	}

	if current, ok := l.positions[ticker]; ok && current.Equal(pos) {
		return false
	}
	l.positions[ticker] = pos
	l.log.Info("position updated",
		"ticker", ticker,
		"side", string(pos.Side),
		"quantity", pos.Quantity,
		"avgCost", pos.AvgCost,
	)
	return true
}

// RemovePosition deletes the position for ticker if present.
func (l *Ledger) RemovePosition(ticker string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.positions[ticker]; !ok {
		return false
	}
	delete(l.positions, ticker)
	l.log.Info("position closed", "ticker", ticker)
	return true
}

// Position returns the position for ticker, if any.
func (l *Ledger) Position(ticker string) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[ticker]
	return pos, ok
}

// Positions returns a snapshot copy of all open positions.
func (l *Ledger) Positions() map[string]domain.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]domain.Position, len(l.positions))
	for ticker, pos := range l.positions {
		out[ticker] = pos
	}
	return out
}

// UpdateAccount stores the account snapshot. Identical monetary values are
// a no-op regardless of the snapshot timestamp. Returns true on change.
func (l *Ledger) UpdateAccount(acct domain.Account) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.account.EqualValues(acct) {
		// Keep the freshest timestamp without treating it as a change.
		l.account.Timestamp = acct.Timestamp
		return false
	}
	l.account = acct
	l.log.Info("account updated",
		"availableFunds", acct.AvailableFunds,
		"equityValue", acct.EquityValue,
		"requiredMargin", acct.RequiredMargin,
		"currentMargin", acct.CurrentMargin,
		"unrealizedPnl", acct.UnrealizedPnl,
	)
	return true
}

// Account returns a snapshot of the account state.
func (l *Ledger) Account() domain.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.account
}

// UpdateOrder upserts an open order, removing it once it reaches a terminal
// status. Identical updates are no-ops. Returns true on change.
func (l *Ledger) UpdateOrder(order domain.ActiveOrder) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch order.Status {
	case "filled", "canceled", "cancelled", "expired":
		if _, ok := l.orders[order.OrderID]; !ok {
			return false
		}
		delete(l.orders, order.OrderID)
		l.log.Info("order closed", "orderID", order.OrderID, "status", order.Status)
		return true
	}

	if current, ok := l.orders[order.OrderID]; ok && current == order {
		return false
	}
	l.orders[order.OrderID] = order
	l.log.Info("order updated", "orderID", order.OrderID, "ticker", order.Ticker, "status", order.Status)
	return true
}

// OpenOrders returns a snapshot copy of all open orders.
func (l *Ledger) OpenOrders() map[string]domain.ActiveOrder {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make(map[string]domain.ActiveOrder, len(l.orders))
	for id, o := range l.orders {
		out[id] = o
	}
	return out
}

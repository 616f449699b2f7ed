package broker

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"meridian/internal/book"
	"meridian/internal/domain"
	"meridian/internal/portfolio"
)

// Compile-time interface check.
var _ Broker = (*SimBroker)(nil)

// SimBroker fills orders against the price book during backtests. It owns
// the authoritative position and account state and reconciles it into the
// ledger after every execution, mirroring how a live brokerage pushes
// snapshots.
type SimBroker struct {
	instruments    domain.InstrumentMap
	slippageFactor float64
	queue          EventSink
	book           *book.PriceBook
	ledger         *portfolio.Ledger
	log            *slog.Logger

	positions map[string]domain.Position
	account   domain.Account
	lastFill  map[string]domain.ExecutionDetail
}

// NewSimBroker creates a simulated broker seeded with the starting capital.
// slippageFactor is multiplied by the instrument tick size and applied
// against the order's direction on every fill.
func NewSimBroker(instruments domain.InstrumentMap, capital, slippageFactor float64, queue EventSink, priceBook *book.PriceBook, ledger *portfolio.Ledger) *SimBroker {
	b := &SimBroker{
		instruments:    instruments,
		slippageFactor: slippageFactor,
		queue:          queue,
		book:           priceBook,
		ledger:         ledger,
		log:            slog.Default().With("component", "simbroker"),
		positions:      make(map[string]domain.Position),
		account: domain.Account{
			AvailableFunds: capital,
			EquityValue:    capital,
		},
		lastFill: make(map[string]domain.ExecutionDetail),
	}
	ledger.UpdateAccount(b.account)
	return b
}

// OnOrder fills the order at the current book price adjusted for slippage,
// applies fees and the position/account update, and emits an ExecutionEvent.
func (b *SimBroker) OnOrder(ev domain.OrderEvent) error {
	inst, err := b.instruments.Get(ev.Instruction.Ticker)
	if err != nil {
		return fmt.Errorf("place order: %w", err)
	}

	fillPrice, err := b.fillPrice(inst, ev.Instruction.Action)
	if err != nil {
		return fmt.Errorf("place order %s: %w", inst.Ticker, err)
	}

	quantity := ev.Order.Quantity
	fees := math.Abs(quantity) * inst.FeeRate

	if err := b.applyFill(inst, quantity, fillPrice, fees); err != nil {
		return fmt.Errorf("place order %s: %w", inst.Ticker, err)
	}
	b.revalueEquity(ev.TS)

	detail := domain.ExecutionDetail{
		TradeID:   ev.Instruction.TradeID,
		LegID:     ev.Instruction.LegID,
		Timestamp: ev.TS,
		Ticker:    inst.Ticker,
		Quantity:  quantity,
		Price:     fillPrice,
		Cost:      fillPrice * quantity * inst.ContractSize,
		Fees:      fees,
		Action:    ev.Instruction.Action,
	}
	b.lastFill[inst.Ticker] = detail

	if err := b.queue.Push(domain.ExecutionEvent{Detail: detail}); err != nil {
		return fmt.Errorf("queueing execution for %s: %w", inst.Ticker, err)
	}
	return nil
}

// OnExecution reconciles the broker's positions and account into the ledger.
func (b *SimBroker) OnExecution(_ domain.ExecutionEvent) error {
	b.syncLedger()
	return nil
}

// fillPrice applies direction-aware slippage: buys fill higher, sells lower.
func (b *SimBroker) fillPrice(inst *domain.Instrument, action domain.Action) (float64, error) {
	current, err := b.book.CurrentPrice(inst.Ticker)
	if err != nil {
		return 0, err
	}
	side, err := action.BrokerSide()
	if err != nil {
		return 0, err
	}
	slip := inst.TickSize * b.slippageFactor
	if side == domain.SideBuy {
		return current + slip, nil
	}
	return current - slip, nil
}

// applyFill runs the position-update policy and the per-asset-class account
// accounting for one fill.
func (b *SimBroker) applyFill(inst *domain.Instrument, quantity, fillPrice, fees float64) error {
	a := &b.account
	a.AvailableFunds -= fees
	cs := inst.ContractSize

	// Equities settle cash by notional regardless of branch: buys debit,
	// sells credit, realized P&L arrives embedded in the proceeds.
	if inst.Class == domain.AssetEquity {
		a.AvailableFunds -= fillPrice * quantity * cs
	}

	pos, exists := b.positions[inst.Ticker]
	switch {
	case !exists:
		b.positions[inst.Ticker] = domain.Position{
			Side:          sideOf(quantity),
			Quantity:      quantity,
			AvgCost:       fillPrice,
			ContractSize:  cs,
			MarginPerUnit: inst.MarginPerUnit,
		}
		b.lockMargin(inst, math.Abs(quantity))

	case sameSign(pos.Quantity, quantity):
		// Same-direction add: re-weight the average cost.
		newQty := pos.Quantity + quantity
		pos.AvgCost = (pos.AvgCost*pos.Quantity + fillPrice*quantity) / newQty
		pos.Quantity = newQty
		b.positions[inst.Ticker] = pos
		b.lockMargin(inst, math.Abs(quantity))

	case math.Abs(quantity) < math.Abs(pos.Quantity):
		// Partial reduce: quantity nets down, basis stays, the closed
		// portion realizes prorated P&L.
		closed := -quantity // same sign as the position
		realized := (fillPrice - pos.AvgCost) * closed * cs
		pos.Quantity += quantity
		b.positions[inst.Ticker] = pos
		b.releaseMargin(inst, math.Abs(quantity), realized)

	case math.Abs(quantity) == math.Abs(pos.Quantity):
		// Exact net-to-zero: position removed, full P&L realized.
		realized := (fillPrice - pos.AvgCost) * pos.Quantity * cs
		delete(b.positions, inst.Ticker)
		b.releaseMargin(inst, math.Abs(quantity), realized)

	default:
		// Flip: the old position closes fully at the fill price and the
		// remainder opens a new position with the fill as its basis.
		realized := (fillPrice - pos.AvgCost) * pos.Quantity * cs
		b.releaseMargin(inst, math.Abs(pos.Quantity), realized)

		netQty := pos.Quantity + quantity
		b.positions[inst.Ticker] = domain.Position{
			Side:          sideOf(netQty),
			Quantity:      netQty,
			AvgCost:       fillPrice,
			ContractSize:  cs,
			MarginPerUnit: inst.MarginPerUnit,
		}
		b.lockMargin(inst, math.Abs(netQty))
	}
	return nil
}

// lockMargin posts initial margin for newly opened future contracts.
func (b *SimBroker) lockMargin(inst *domain.Instrument, contracts float64) {
	if inst.Class != domain.AssetFuture {
		return
	}
	m := contracts * inst.MarginPerUnit
	b.account.AvailableFunds -= m
	b.account.RequiredMargin += m
	b.account.CurrentMargin += m
}

// releaseMargin returns margin for closed future contracts and credits the
// realized P&L. Equities realize through the notional cash flow instead.
func (b *SimBroker) releaseMargin(inst *domain.Instrument, contracts, realized float64) {
	if inst.Class != domain.AssetFuture {
		return
	}
	m := contracts * inst.MarginPerUnit
	b.account.AvailableFunds += m + realized
	b.account.RequiredMargin -= m
	b.account.CurrentMargin -= m
}

// revalueEquity recomputes the account equity from available funds plus the
// value of every open position at current prices.
func (b *SimBroker) revalueEquity(ts time.Time) {
	total := b.account.AvailableFunds
	prices := b.book.CurrentPrices()
	for ticker, pos := range b.positions {
		price, ok := prices[ticker]
		if !ok {
			continue
		}
		total += positionValue(pos, price)
	}
	b.account.EquityValue = total
	b.account.Timestamp = ts
}

// positionValue is posted margin plus unrealized P&L for futures, and plain
// market value for equities.
func positionValue(pos domain.Position, price float64) float64 {
	pnl := (price - pos.AvgCost) * pos.Quantity * pos.ContractSize
	if pos.MarginPerUnit > 0 {
		return pnl + pos.MarginPerUnit*math.Abs(pos.Quantity)
	}
	return price * pos.Quantity * pos.ContractSize
}

// RevalueEquity updates the equity value from the latest prices. The
// dispatcher calls this after every market event so the equity curve tracks
// each price change.
func (b *SimBroker) RevalueEquity(ts time.Time) {
	b.revalueEquity(ts)
}

// EquitySnapshot returns the current equity curve sample.
func (b *SimBroker) EquitySnapshot() domain.EquityPoint {
	return domain.EquityPoint{Timestamp: b.account.Timestamp, Value: b.account.EquityValue}
}

// MarkToMarket recomputes unrealized P&L and current margin from the latest
// prices across all open positions. It never touches AvailableFunds.
func (b *SimBroker) MarkToMarket() {
	var pnl, futuresPnl float64
	prices := b.book.CurrentPrices()
	for ticker, pos := range b.positions {
		price, ok := prices[ticker]
		if !ok {
			continue
		}
		p := (price - pos.AvgCost) * pos.Quantity * pos.ContractSize
		pnl += p
		if pos.MarginPerUnit > 0 {
			futuresPnl += p
		}
	}
	b.account.UnrealizedPnl = pnl
	b.account.CurrentMargin = b.account.RequiredMargin + futuresPnl
	b.log.Info("marked to market", "unrealizedPnl", pnl)
}

// CheckMarginCall reports whether the account is in a margin-call state.
// It only logs; liquidation is never triggered automatically.
func (b *SimBroker) CheckMarginCall() bool {
	if b.account.MarginCall() {
		b.log.Warn("margin call",
			"availableFunds", b.account.AvailableFunds,
			"currentMargin", b.account.CurrentMargin,
			"requiredMargin", b.account.RequiredMargin,
		)
		return true
	}
	return false
}

// EODUpdate runs the end-of-day revaluation: mark-to-market, margin-call
// check, and an account snapshot into the ledger.
func (b *SimBroker) EODUpdate() error {
	b.MarkToMarket()
	b.CheckMarginCall()
	b.account.Timestamp = b.book.LastUpdated()
	b.syncLedger()
	return nil
}

// LiquidateAll flattens every open position with a synthetic opposite fill
// at the last known price: no slippage, no fees. The resulting execution
// details feed the performance recorder's final statistics.
func (b *SimBroker) LiquidateAll() []domain.ExecutionDetail {
	ts := b.book.LastUpdated()
	details := make([]domain.ExecutionDetail, 0, len(b.positions))

	for ticker, pos := range b.positions {
		inst, err := b.instruments.Get(ticker)
		if err != nil {
			// Positions only exist for registered instruments.
			continue
		}
		price, err := b.book.CurrentPrice(ticker)
		if err != nil {
			b.log.Error("liquidation skipped: no price", "ticker", ticker)
			continue
		}

		quantity := -pos.Quantity
		action := domain.ActionSell
		if pos.Quantity < 0 {
			action = domain.ActionCover
		}

		if err := b.applyFill(inst, quantity, price, 0); err != nil {
			b.log.Error("liquidation failed", "ticker", ticker, "error", err)
			continue
		}

		detail := domain.ExecutionDetail{
			Timestamp: ts,
			Ticker:    ticker,
			Quantity:  quantity,
			Price:     price,
			Cost:      price * quantity * pos.ContractSize,
			Fees:      0,
			Action:    action,
		}
		if last, ok := b.lastFill[ticker]; ok {
			detail.TradeID = last.TradeID
			detail.LegID = last.LegID
		}
		b.lastFill[ticker] = detail
		details = append(details, detail)
	}

	b.revalueEquity(ts)
	b.syncLedger()
	b.log.Info("liquidated all positions", "fills", len(details))
	return details
}

// Account returns a copy of the internal account state.
func (b *SimBroker) Account() domain.Account {
	return b.account
}

// Position returns the internal position for ticker, if open.
func (b *SimBroker) Position(ticker string) (domain.Position, bool) {
	pos, ok := b.positions[ticker]
	return pos, ok
}

// syncLedger pushes the broker's positions and account into the ledger,
// removing ledger entries for positions that have closed.
func (b *SimBroker) syncLedger() {
	for ticker := range b.ledger.Positions() {
		if _, ok := b.positions[ticker]; !ok {
			b.ledger.RemovePosition(ticker)
		}
	}
	for ticker, pos := range b.positions {
		b.ledger.UpdatePosition(ticker, pos)
	}
	b.ledger.UpdateAccount(b.account)
}

func sideOf(quantity float64) domain.Side {
	if quantity < 0 {
		return domain.SideSell
	}
	return domain.SideBuy
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}

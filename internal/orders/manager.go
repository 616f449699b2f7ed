// Package orders turns strategy signals into broker-ready orders under a
// capital and margin budget.
package orders

import (
	"fmt"
	"log/slog"
	"math"

	"meridian/internal/book"
	"meridian/internal/domain"
	"meridian/internal/portfolio"
)

// EventSink is where sized orders are emitted. Satisfied by engine.EventQueue.
type EventSink interface {
	Push(e domain.Event) error
}

// Manager sizes the legs of each signal and applies the group margin gate.
// A multi-leg signal (e.g. a spread) is only valid as a unit, so either
// every leg is emitted or none is.
type Manager struct {
	allocation  float64 // fraction of AvailableFunds budgeted per signal
	instruments domain.InstrumentMap
	queue       EventSink
	book        *book.PriceBook
	ledger      *portfolio.Ledger
	log         *slog.Logger
}

// NewManager creates a Manager. allocation is the trade allocation fraction,
// e.g. 0.10 to budget 10% of available funds per signal.
func NewManager(allocation float64, instruments domain.InstrumentMap, queue EventSink, priceBook *book.PriceBook, ledger *portfolio.Ledger) *Manager {
	return &Manager{
		allocation:  allocation,
		instruments: instruments,
		queue:       queue,
		book:        priceBook,
		ledger:      ledger,
		log:         slog.Default().With("component", "orders"),
	}
}

// sizedLeg pairs a candidate order with its originating instruction and the
// capital it would consume.
type sizedLeg struct {
	instruction domain.TradeInstruction
	instrument  *domain.Instrument
	order       domain.Order
	required    float64
}

// OnSignal sizes every leg of the signal and either emits one OrderEvent per
// leg or drops the whole signal when the combined requirement exceeds the
// account's capacity. The budget is captured once at signal arrival.
func (m *Manager) OnSignal(ev domain.SignalEvent) error {
	signal := ev.Signal
	if err := signal.Validate(); err != nil {
		return fmt.Errorf("on signal: %w", err)
	}

	acct := m.ledger.Account()
	budget := m.allocation * acct.AvailableFunds

	legs := make([]sizedLeg, 0, len(signal.Instructions))
	totalRequired := 0.0
	for _, instruction := range signal.Instructions {
		leg, err := m.sizeLeg(instruction, budget)
		if err != nil {
			return fmt.Errorf("sizing %s leg %d: %w", instruction.Ticker, instruction.LegID, err)
		}
		if leg == nil {
			// A leg that sizes to zero invalidates the group.
			m.log.Info("signal dropped: leg sized to zero",
				"ticker", instruction.Ticker,
				"tradeID", instruction.TradeID,
				"budget", budget,
			)
			return nil
		}
		legs = append(legs, *leg)
		totalRequired += leg.required
	}

	// Group gate: all legs or none.
	if totalRequired+acct.RequiredMargin > acct.AvailableFunds+acct.CurrentMargin {
		m.log.Info("signal dropped: insufficient capital for all legs",
			"required", totalRequired,
			"requiredMargin", acct.RequiredMargin,
			"availableFunds", acct.AvailableFunds,
			"currentMargin", acct.CurrentMargin,
		)
		return nil
	}

	for _, leg := range legs {
		orderEv := domain.OrderEvent{
			TS:          signal.Timestamp,
			Instruction: leg.instruction,
			Instrument:  leg.instrument,
			Order:       leg.order,
		}
		if err := m.queue.Push(orderEv); err != nil {
			return fmt.Errorf("queueing order for %s: %w", leg.instruction.Ticker, err)
		}
	}
	return nil
}

// sizeLeg computes the candidate order for one instruction. Returns nil when
// an entry leg sizes to zero quantity under the current budget.
func (m *Manager) sizeLeg(instruction domain.TradeInstruction, budget float64) (*sizedLeg, error) {
	inst, err := m.instruments.Get(instruction.Ticker)
	if err != nil {
		return nil, err
	}

	price, err := m.book.CurrentPrice(instruction.Ticker)
	if err != nil {
		return nil, err
	}

	var quantity float64
	switch {
	case instruction.Action.IsEntry():
		notional := budget * math.Abs(instruction.Weight)
		quantity = math.Floor(notional / (price * inst.ContractSize))
		if instruction.Action == domain.ActionShort {
			quantity = -quantity
		}
	case instruction.Action.IsExit():
		// Exits always flatten the whole position.
		pos, ok := m.ledger.Position(instruction.Ticker)
		if !ok {
			return nil, fmt.Errorf("exit action %s with no open position", instruction.Action)
		}
		quantity = -pos.Quantity
	default:
		return nil, fmt.Errorf("invalid action %q", string(instruction.Action))
	}

	if quantity == 0 {
		return nil, nil
	}

	order, err := domain.NewOrder(instruction.OrderType, quantity, price, price)
	if err != nil {
		return nil, err
	}

	required := m.capitalRequired(inst, quantity, price)
	return &sizedLeg{
		instruction: instruction,
		instrument:  inst,
		order:       order,
		required:    required,
	}, nil
}

// capitalRequired is what the leg consumes for the group gate: initial
// margin for futures, full notional for equities.
func (m *Manager) capitalRequired(inst *domain.Instrument, quantity, price float64) float64 {
	if inst.Class == domain.AssetFuture {
		return math.Abs(quantity) * inst.MarginPerUnit
	}
	return math.Abs(quantity) * price * inst.ContractSize
}

// Allocation returns the configured per-signal allocation fraction.
func (m *Manager) Allocation() float64 { return m.allocation }

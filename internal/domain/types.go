// Package domain defines the core types shared across the trading engine:
// instruments, signals, orders, executions, positions, account state, and
// the event union that flows through the dispatcher queue.
package domain

import (
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Enums
// ---------------------------------------------------------------------------

// AssetClass identifies the kind of instrument being traded.
type AssetClass string

const (
	AssetEquity AssetClass = "equity"
	AssetFuture AssetClass = "future"
)

// Side is the broker-level direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Action is the strategy-level intent of a trade instruction. LONG and SHORT
// open positions; SELL and COVER flatten them.
type Action string

const (
	ActionLong  Action = "LONG"
	ActionShort Action = "SHORT"
	ActionSell  Action = "SELL"
	ActionCover Action = "COVER"
)

// BrokerSide maps the action to the broker-standard buy/sell direction.
// LONG and COVER buy; SHORT and SELL sell.
func (a Action) BrokerSide() (Side, error) {
	switch a {
	case ActionLong, ActionCover:
		return SideBuy, nil
	case ActionShort, ActionSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid action %q", string(a))
	}
}

// IsEntry reports whether the action opens a position.
func (a Action) IsEntry() bool { return a == ActionLong || a == ActionShort }

// IsExit reports whether the action flattens an existing position.
func (a Action) IsExit() bool { return a == ActionSell || a == ActionCover }

// OrderType distinguishes market, limit, and stop orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
	OrderTypeStop   OrderType = "stop"
)

// ---------------------------------------------------------------------------
// Instruments
// ---------------------------------------------------------------------------

// Instrument describes a tradable contract. Instances are constructed once
// at startup and never mutated afterwards.
type Instrument struct {
	Ticker   string
	Class    AssetClass
	Currency string
	Venue    string
	FeeRate  float64 // commission per unit traded

	// Future-only fields. Zero for equities.
	ContractSize  float64
	TickSize      float64
	MarginPerUnit float64 // initial margin per contract
}

// NewEquity constructs an equity instrument. Contract size is 1 so that
// notional arithmetic is uniform across asset classes.
func NewEquity(ticker, currency, venue string, feeRate float64) *Instrument {
	return &Instrument{
		Ticker:       ticker,
		Class:        AssetEquity,
		Currency:     currency,
		Venue:        venue,
		FeeRate:      feeRate,
		ContractSize: 1,
	}
}

// NewFuture constructs a futures instrument.
func NewFuture(ticker, currency, venue string, feeRate, contractSize, tickSize, marginPerUnit float64) *Instrument {
	return &Instrument{
		Ticker:        ticker,
		Class:         AssetFuture,
		Currency:      currency,
		Venue:         venue,
		FeeRate:       feeRate,
		ContractSize:  contractSize,
		TickSize:      tickSize,
		MarginPerUnit: marginPerUnit,
	}
}

// InstrumentMap is the process-wide registry of instruments, keyed by ticker.
type InstrumentMap map[string]*Instrument

// Get returns the instrument for ticker, or an error if it is unknown.
func (m InstrumentMap) Get(ticker string) (*Instrument, error) {
	inst, ok := m[ticker]
	if !ok {
		return nil, fmt.Errorf("unknown instrument %q", ticker)
	}
	return inst, nil
}

// Tickers returns all registered tickers in map order.
func (m InstrumentMap) Tickers() []string {
	tickers := make([]string, 0, len(m))
	for t := range m {
		tickers = append(tickers, t)
	}
	return tickers
}

// ---------------------------------------------------------------------------
// Market data
// ---------------------------------------------------------------------------

// Bar is a single OHLCV bar for one symbol.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// ---------------------------------------------------------------------------
// Signals and orders
// ---------------------------------------------------------------------------

// TradeInstruction is one instrument-level leg of a signal. Legs sharing a
// TradeID form one logical trade; LegID is unique within it. Weight is the
// signed capital-allocation fraction for the leg.
type TradeInstruction struct {
	Ticker    string
	Action    Action
	OrderType OrderType
	TradeID   int
	LegID     int
	Weight    float64
}

// Validate checks the instruction's structural invariants.
func (ti TradeInstruction) Validate() error {
	if ti.Ticker == "" {
		return fmt.Errorf("trade instruction: empty ticker")
	}
	if _, err := ti.Action.BrokerSide(); err != nil {
		return fmt.Errorf("trade instruction %s: %w", ti.Ticker, err)
	}
	if ti.TradeID < 0 || ti.LegID < 0 {
		return fmt.Errorf("trade instruction %s: negative trade/leg id", ti.Ticker)
	}
	return nil
}

// Signal is an immutable set of trade instructions produced by a strategy
// and consumed exactly once by the order manager.
type Signal struct {
	Timestamp    time.Time
	Instructions []TradeInstruction
}

// Validate checks every instruction in the signal.
func (s Signal) Validate() error {
	if len(s.Instructions) == 0 {
		return fmt.Errorf("signal at %s: no trade instructions", s.Timestamp.Format(time.RFC3339))
	}
	for _, ti := range s.Instructions {
		if err := ti.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Order is a broker-ready order. Quantity is signed: positive buys,
// negative sells.
type Order struct {
	Type       OrderType
	Quantity   float64
	LimitPrice float64 // limit orders only
	StopPrice  float64 // stop orders only
}

// NewOrder builds an order of the given type, validating that the type is
// known and the quantity is non-zero.
func NewOrder(typ OrderType, quantity, limitPrice, stopPrice float64) (Order, error) {
	if quantity == 0 {
		return Order{}, fmt.Errorf("order quantity must be non-zero")
	}
	switch typ {
	case OrderTypeMarket:
		return Order{Type: typ, Quantity: quantity}, nil
	case OrderTypeLimit:
		if limitPrice <= 0 {
			return Order{}, fmt.Errorf("limit order requires a positive limit price")
		}
		return Order{Type: typ, Quantity: quantity, LimitPrice: limitPrice}, nil
	case OrderTypeStop:
		if stopPrice <= 0 {
			return Order{}, fmt.Errorf("stop order requires a positive stop price")
		}
		return Order{Type: typ, Quantity: quantity, StopPrice: stopPrice}, nil
	default:
		return Order{}, fmt.Errorf("invalid order type %q", string(typ))
	}
}

// ---------------------------------------------------------------------------
// Executions, positions, account
// ---------------------------------------------------------------------------

// ExecutionDetail is the canonical record of a realized fill. Immutable once
// created.
type ExecutionDetail struct {
	TradeID   int
	LegID     int
	Timestamp time.Time
	Ticker    string
	Quantity  float64 // signed
	Price     float64
	Cost      float64 // price × quantity × contract size, signed
	Fees      float64
	Action    Action
}

// Position is the per-instrument holding. Quantity is signed; a position
// that nets to zero is removed from the ledger rather than stored.
type Position struct {
	Side          Side
	Quantity      float64
	AvgCost       float64
	ContractSize  float64
	MarginPerUnit float64
}

// Equal reports whether two positions carry identical values. Used by the
// ledger to suppress redundant update notifications.
func (p Position) Equal(other Position) bool {
	return p == other
}

// Account holds the broker-side account balances and margin figures.
type Account struct {
	AvailableFunds float64
	EquityValue    float64
	RequiredMargin float64
	CurrentMargin  float64
	UnrealizedPnl  float64
	Timestamp      time.Time
}

// EqualValues reports whether the monetary fields match, ignoring the
// timestamp. Live gateways resend unchanged snapshots on every tick; the
// ledger uses this to make those updates idempotent.
func (a Account) EqualValues(other Account) bool {
	return a.AvailableFunds == other.AvailableFunds &&
		a.EquityValue == other.EquityValue &&
		a.RequiredMargin == other.RequiredMargin &&
		a.CurrentMargin == other.CurrentMargin &&
		a.UnrealizedPnl == other.UnrealizedPnl
}

// MarginCall reports whether posted margin plus funds has fallen below the
// required margin.
func (a Account) MarginCall() bool {
	return a.AvailableFunds+a.CurrentMargin < a.RequiredMargin
}

// ActiveOrder is an open order tracked by the ledger in live mode.
type ActiveOrder struct {
	OrderID  string
	Ticker   string
	Side     Side
	Type     OrderType
	Quantity float64
	Limit    float64
	Status   string
}

// EquityPoint is one sample of the account equity curve.
type EquityPoint struct {
	Timestamp time.Time
	Value     float64
}

package domain

import "time"

// EventKind tags the concrete type of an Event on the dispatcher queue.
type EventKind string

const (
	EventMarket    EventKind = "MARKET_DATA"
	EventSignal    EventKind = "SIGNAL"
	EventOrder     EventKind = "ORDER"
	EventExecution EventKind = "EXECUTION"
)

// Event is the unit passed through the dispatcher queue. Events are created
// by one component, consumed by exactly one other, and never mutated.
type Event interface {
	Kind() EventKind
	Timestamp() time.Time
}

// MarketEvent carries one chronological batch of bars, keyed by ticker.
type MarketEvent struct {
	TS   time.Time
	Bars map[string]Bar
}

func (e MarketEvent) Kind() EventKind      { return EventMarket }
func (e MarketEvent) Timestamp() time.Time { return e.TS }

// SignalEvent carries a strategy signal to the order manager.
type SignalEvent struct {
	Signal Signal
}

func (e SignalEvent) Kind() EventKind      { return EventSignal }
func (e SignalEvent) Timestamp() time.Time { return e.Signal.Timestamp }

// OrderEvent carries a sized order to the active broker, together with the
// instruction that produced it for later attribution.
type OrderEvent struct {
	TS          time.Time
	Instruction TradeInstruction
	Instrument  *Instrument
	Order       Order
}

func (e OrderEvent) Kind() EventKind      { return EventOrder }
func (e OrderEvent) Timestamp() time.Time { return e.TS }

// ExecutionEvent reports a realized fill back to the engine.
type ExecutionEvent struct {
	Detail ExecutionDetail
}

func (e ExecutionEvent) Kind() EventKind      { return EventExecution }
func (e ExecutionEvent) Timestamp() time.Time { return e.Detail.Timestamp }

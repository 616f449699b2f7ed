// Package broker provides the execution side of the engine: a simulated
// broker that fills orders against the price book during backtests, and a
// bridge that relays a live brokerage gateway into the event queue and
// ledger.
package broker

import "meridian/internal/domain"

// EventSink is where the broker publishes execution events. Satisfied by
// engine.EventQueue.
type EventSink interface {
	Push(e domain.Event) error
}

// Broker handles order and execution events routed by the dispatcher.
type Broker interface {
	// OnOrder places the order. The simulated broker fills immediately and
	// emits an ExecutionEvent; the live bridge forwards to the gateway.
	OnOrder(ev domain.OrderEvent) error

	// OnExecution reconciles broker state into the ledger after a fill.
	OnExecution(ev domain.ExecutionEvent) error
}

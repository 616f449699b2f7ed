// Package engine contains the event queue and the dispatcher that drives
// market data, signals, orders, and executions through the system in FIFO
// order.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"meridian/internal/book"
	"meridian/internal/domain"
	"meridian/internal/util"
)

// Broker consumes order events and acknowledges executions.
type Broker interface {
	OnOrder(ev domain.OrderEvent) error
	OnExecution(ev domain.ExecutionEvent) error
}

// BacktestBroker extends Broker with the simulation-only lifecycle hooks the
// dispatcher drives between batches.
type BacktestBroker interface {
	Broker
	EODUpdate() error
	RevalueEquity(ts time.Time)
	EquitySnapshot() domain.EquityPoint
	LiquidateAll() []domain.ExecutionDetail
}

// DataFeed yields market events in timestamp order. ok is false once the
// feed is exhausted.
type DataFeed interface {
	NextBatch() (domain.MarketEvent, bool)
}

// Strategy turns market events into signals.
type Strategy interface {
	OnMarket(ctx context.Context, ev domain.MarketEvent) ([]domain.Signal, error)
}

// OrderManager sizes signals into orders.
type OrderManager interface {
	OnSignal(ev domain.SignalEvent) error
}

// Recorder captures the audit trail of a run.
type Recorder interface {
	RecordSignal(sig domain.Signal)
	RecordTrade(d domain.ExecutionDetail)
	RecordEquity(p domain.EquityPoint)
	Finalize() error
}

// Controller owns the event loop. In backtest mode it alternates between
// feeding one batch and draining the queue to empty, so every batch's full
// causal chain settles before the next timestamp is seen. In live mode it
// blocks on the queue and lets the gateway's callbacks push from the other
// side.
type Controller struct {
	queue    *EventQueue
	book     *book.PriceBook
	strategy Strategy
	orders   OrderManager
	broker   Broker
	sim      BacktestBroker // nil in live mode
	feed     DataFeed       // nil in live mode
	recorder Recorder
	log      *slog.Logger

	lastDay time.Time
}

// NewBacktestController wires a controller for deterministic replay.
func NewBacktestController(queue *EventQueue, priceBook *book.PriceBook, strat Strategy, orders OrderManager, sim BacktestBroker, feed DataFeed, recorder Recorder) *Controller {
	return &Controller{
		queue:    queue,
		book:     priceBook,
		strategy: strat,
		orders:   orders,
		broker:   sim,
		sim:      sim,
		feed:     feed,
		recorder: recorder,
		log:      slog.Default().With("component", "dispatcher", "mode", "backtest"),
	}
}

// NewLiveController wires a controller that consumes events pushed by a live
// gateway.
func NewLiveController(queue *EventQueue, priceBook *book.PriceBook, strat Strategy, orders OrderManager, broker Broker, recorder Recorder) *Controller {
	return &Controller{
		queue:    queue,
		book:     priceBook,
		strategy: strat,
		orders:   orders,
		broker:   broker,
		recorder: recorder,
		log:      slog.Default().With("component", "dispatcher", "mode", "live"),
	}
}

// RunBacktest replays the feed to exhaustion, fires the end-of-day hook on
// every calendar-day boundary, then liquidates and finalizes the recorder.
func (c *Controller) RunBacktest(ctx context.Context) error {
	start := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, ok := c.feed.NextBatch()
		if !ok {
			break
		}

		// Day boundary check happens before the new day's batch enters the
		// queue, so the EOD revaluation sees only the closed day's prices.
		if !c.lastDay.IsZero() && !util.SameDay(c.lastDay, batch.TS) {
			if err := c.sim.EODUpdate(); err != nil {
				return fmt.Errorf("end of day %s: %w", util.DayKey(c.lastDay), err)
			}
		}
		c.lastDay = batch.TS

		if err := c.queue.Push(batch); err != nil {
			return fmt.Errorf("feeding batch at %s: %w", batch.TS, err)
		}
		if err := c.drain(ctx); err != nil {
			return err
		}
	}

	if err := c.sim.EODUpdate(); err != nil {
		return fmt.Errorf("final end of day: %w", err)
	}
	for _, d := range c.sim.LiquidateAll() {
		c.recorder.RecordTrade(d)
	}
	c.recorder.RecordEquity(c.sim.EquitySnapshot())
	if err := c.recorder.Finalize(); err != nil {
		return fmt.Errorf("finalizing recorder: %w", err)
	}

	c.log.Info("backtest complete", "elapsed", time.Since(start).Round(time.Millisecond))
	return nil
}

// RunLive consumes events until ctx is cancelled. Cancellation is the only
// clean way out; every dispatch error is fatal because a skipped event would
// desynchronize the ledger from the brokerage.
func (c *Controller) RunLive(ctx context.Context) error {
	c.log.Info("live dispatch started")
	for {
		ev, err := c.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.log.Info("live dispatch stopped")
				return nil
			}
			return fmt.Errorf("popping event: %w", err)
		}
		if err := c.dispatch(ctx, ev); err != nil {
			return err
		}
	}
}

// drain processes queued events until the queue is empty. Handlers push
// follow-up events while draining, so one batch settles completely here.
func (c *Controller) drain(ctx context.Context) error {
	for {
		ev, ok := c.queue.TryPop()
		if !ok {
			return nil
		}
		if err := c.dispatch(ctx, ev); err != nil {
			return err
		}
	}
}

func (c *Controller) dispatch(ctx context.Context, ev domain.Event) error {
	switch e := ev.(type) {
	case domain.MarketEvent:
		return c.onMarket(ctx, e)
	case domain.SignalEvent:
		c.recorder.RecordSignal(e.Signal)
		if err := c.orders.OnSignal(e); err != nil {
			return fmt.Errorf("dispatching signal: %w", err)
		}
		return nil
	case domain.OrderEvent:
		if err := c.broker.OnOrder(e); err != nil {
			return fmt.Errorf("dispatching order: %w", err)
		}
		return nil
	case domain.ExecutionEvent:
		c.recorder.RecordTrade(e.Detail)
		if err := c.broker.OnExecution(e); err != nil {
			return fmt.Errorf("dispatching execution: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("dispatch: unknown event kind %q", ev.Kind())
	}
}

func (c *Controller) onMarket(ctx context.Context, ev domain.MarketEvent) error {
	c.book.Update(ev)
	if c.sim != nil {
		c.sim.RevalueEquity(ev.TS)
		c.recorder.RecordEquity(c.sim.EquitySnapshot())
	}

	signals, err := c.strategy.OnMarket(ctx, ev)
	if err != nil {
		return fmt.Errorf("strategy at %s: %w", ev.TS, err)
	}
	for _, sig := range signals {
		if err := c.queue.Push(domain.SignalEvent{Signal: sig}); err != nil {
			return fmt.Errorf("queueing signal at %s: %w", ev.TS, err)
		}
	}
	return nil
}

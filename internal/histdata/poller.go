package histdata

import (
	"context"
	"log/slog"
	"time"

	"meridian/internal/domain"
)

// EventSink receives the market events a Poller produces.
type EventSink interface {
	Push(e domain.Event) error
}

// Poller feeds a live engine with daily bars by polling a BarSource on an
// interval. A market event is pushed only when a symbol shows a bar
// timestamp the poller has not seen before, so restarts and quiet polls
// do not produce duplicate events.
type Poller struct {
	source   BarSource
	queue    EventSink
	symbols  []string
	interval time.Duration
	lookback time.Duration
	seen     map[string]time.Time
	log      *slog.Logger
}

// NewPoller returns a poller over the given symbols. interval is how often
// the source is queried; bars older than lookback are ignored on the first
// poll.
func NewPoller(source BarSource, queue EventSink, symbols []string, interval, lookback time.Duration) *Poller {
	return &Poller{
		source:   source,
		queue:    queue,
		symbols:  symbols,
		interval: interval,
		lookback: lookback,
		seen:     make(map[string]time.Time),
		log:      slog.Default().With("component", "poller"),
	}
}

// Run polls until the context is cancelled. Source errors are logged and
// the next tick retried; push errors abort.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.poll(ctx); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) error {
	end := time.Now().UTC()
	start := end.Add(-p.lookback)

	bars, err := p.source.GetBarData(ctx, p.symbols, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		p.log.Warn("poll failed", "error", err)
		return nil
	}

	fresh := p.freshBars(bars)
	if len(fresh) == 0 {
		return nil
	}

	ev := domain.MarketEvent{TS: latestTimestamp(fresh), Bars: fresh}
	if err := p.queue.Push(ev); err != nil {
		return err
	}
	p.log.Info("pushed market event", "symbols", len(fresh), "ts", ev.TS)
	return nil
}

// freshBars returns, per symbol, the newest bar not yet seen.
func (p *Poller) freshBars(bars map[string][]domain.Bar) map[string]domain.Bar {
	fresh := make(map[string]domain.Bar)
	for symbol, symbolBars := range bars {
		for _, b := range symbolBars {
			if !b.Timestamp.After(p.seen[symbol]) {
				continue
			}
			if prev, ok := fresh[symbol]; !ok || b.Timestamp.After(prev.Timestamp) {
				fresh[symbol] = b
			}
		}
	}
	for symbol, b := range fresh {
		p.seen[symbol] = b.Timestamp
	}
	return fresh
}

func latestTimestamp(bars map[string]domain.Bar) time.Time {
	var ts time.Time
	for _, b := range bars {
		if b.Timestamp.After(ts) {
			ts = b.Timestamp
		}
	}
	return ts
}

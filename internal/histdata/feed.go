package histdata

import (
	"sort"
	"time"

	"meridian/internal/domain"
)

// Feed replays loaded bars as market events in timestamp order. One event
// carries every symbol's bar for that timestamp; symbols without a bar on a
// given day are simply absent, and the price book carries their last close
// forward.
type Feed struct {
	events []domain.MarketEvent
	i      int
}

// NewFeed builds a feed from per-symbol bar slices. Duplicate timestamps
// within one symbol keep the last bar seen.
func NewFeed(bars map[string][]domain.Bar) *Feed {
	byTS := make(map[int64]map[string]domain.Bar)
	for symbol, symbolBars := range bars {
		for _, b := range symbolBars {
			key := b.Timestamp.UnixMilli()
			if byTS[key] == nil {
				byTS[key] = make(map[string]domain.Bar)
			}
			byTS[key][symbol] = b
		}
	}

	keys := make([]int64, 0, len(byTS))
	for k := range byTS {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	events := make([]domain.MarketEvent, 0, len(keys))
	for _, k := range keys {
		events = append(events, domain.MarketEvent{
			TS:   time.UnixMilli(k).UTC(),
			Bars: byTS[k],
		})
	}
	return &Feed{events: events}
}

// NextBatch returns the next market event. ok is false once the feed is
// exhausted.
func (f *Feed) NextBatch() (domain.MarketEvent, bool) {
	if f.i >= len(f.events) {
		return domain.MarketEvent{}, false
	}
	ev := f.events[f.i]
	f.i++
	return ev, true
}

// Len returns the total number of market events in the feed.
func (f *Feed) Len() int {
	return len(f.events)
}

// Start returns the timestamp of the first event, or the zero time for an
// empty feed.
func (f *Feed) Start() time.Time {
	if len(f.events) == 0 {
		return time.Time{}
	}
	return f.events[0].TS
}

// End returns the timestamp of the last event, or the zero time for an
// empty feed.
func (f *Feed) End() time.Time {
	if len(f.events) == 0 {
		return time.Time{}
	}
	return f.events[len(f.events)-1].TS
}

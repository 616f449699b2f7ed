package builtins

import (
	"context"
	"testing"
	"time"

	"meridian/internal/domain"
)

func feedCloses(t *testing.T, s *SMACross, ticker string, closes []float64) []domain.Signal {
	t.Helper()
	ts := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)

	var all []domain.Signal
	for i, c := range closes {
		ev := domain.MarketEvent{
			TS:   ts.AddDate(0, 0, i),
			Bars: map[string]domain.Bar{ticker: {Symbol: ticker, Close: c}},
		}
		signals, err := s.OnMarket(context.Background(), ev)
		if err != nil {
			t.Fatalf("OnMarket(%d): %v", i, err)
		}
		all = append(all, signals...)
	}
	return all
}

func TestSMACrossInitRejectsBadPeriods(t *testing.T) {
	if err := NewSMACross(5, 5, 1).Init(context.Background()); err == nil {
		t.Error("long period must exceed short period")
	}
	if err := NewSMACross(0, 3, 1).Init(context.Background()); err == nil {
		t.Error("zero short period should be rejected")
	}
	if err := NewSMACross(2, 3, 1).Init(context.Background()); err != nil {
		t.Errorf("valid periods rejected: %v", err)
	}
}

func TestSMACrossEntersAndExits(t *testing.T) {
	s := NewSMACross(2, 3, 0.5)

	// Flat warmup, a rally crossing up, then a collapse crossing down.
	signals := feedCloses(t, s, "SPY", []float64{10, 10, 10, 10, 20, 30, 5})

	if len(signals) != 2 {
		t.Fatalf("got %d signals, want entry and exit", len(signals))
	}

	entry := signals[0].Instructions[0]
	if entry.Action != domain.ActionLong || entry.Ticker != "SPY" {
		t.Errorf("first signal = %+v, want LONG SPY", entry)
	}
	if entry.TradeID != 1 || entry.LegID != 1 || entry.Weight != 0.5 {
		t.Errorf("entry ids/weight = %+v", entry)
	}

	exit := signals[1].Instructions[0]
	if exit.Action != domain.ActionSell {
		t.Errorf("second signal = %+v, want SELL", exit)
	}
	// The exit closes the trade the entry opened.
	if exit.TradeID != entry.TradeID {
		t.Errorf("exit trade id = %d, want %d", exit.TradeID, entry.TradeID)
	}
}

func TestSMACrossNoSignalDuringWarmup(t *testing.T) {
	s := NewSMACross(2, 3, 1)
	signals := feedCloses(t, s, "SPY", []float64{10, 20, 30})
	if len(signals) != 0 {
		t.Errorf("warmup produced %d signals, want 0", len(signals))
	}
}

func TestSMACrossIndependentPerTicker(t *testing.T) {
	s := NewSMACross(2, 3, 1)
	ts := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)

	rising := []float64{10, 10, 10, 10, 20}
	flat := []float64{10, 10, 10, 10, 10}

	var signals []domain.Signal
	for i := range rising {
		ev := domain.MarketEvent{
			TS: ts.AddDate(0, 0, i),
			Bars: map[string]domain.Bar{
				"SPY": {Symbol: "SPY", Close: rising[i]},
				"TLT": {Symbol: "TLT", Close: flat[i]},
			},
		}
		got, err := s.OnMarket(context.Background(), ev)
		if err != nil {
			t.Fatalf("OnMarket(%d): %v", i, err)
		}
		signals = append(signals, got...)
	}

	if len(signals) != 1 {
		t.Fatalf("got %d signals, want 1", len(signals))
	}
	if signals[0].Instructions[0].Ticker != "SPY" {
		t.Errorf("signal for %s, want SPY", signals[0].Instructions[0].Ticker)
	}
}

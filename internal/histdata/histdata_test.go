package histdata

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"meridian/internal/domain"
	"meridian/internal/store"
	"meridian/internal/util"
)

func utcDay(day int) time.Time {
	return time.Date(2024, 3, day, 0, 0, 0, 0, time.UTC)
}

func bar(symbol string, day int, close float64) domain.Bar {
	return domain.Bar{Symbol: symbol, Timestamp: utcDay(day), Close: close}
}

func TestStoreSourceReadsPerSymbol(t *testing.T) {
	ps := store.NewParquetStore(t.TempDir())
	ctx := context.Background()
	if err := ps.WriteBars(ctx, []domain.Bar{bar("HE", 1, 100), bar("ZC", 1, 440)}); err != nil {
		t.Fatalf("WriteBars: %v", err)
	}

	src := NewStoreSource(ps)
	data, err := src.GetBarData(ctx, []string{"HE", "ZC", "NG"}, utcDay(1), utcDay(31))
	if err != nil {
		t.Fatalf("GetBarData: %v", err)
	}
	if len(data) != 2 {
		t.Fatalf("got %d symbols, want 2", len(data))
	}
	if _, ok := data["NG"]; ok {
		t.Error("symbol with no data should be absent")
	}

	if _, err := src.GetBenchmarkData(ctx, "SPY", utcDay(1), utcDay(31)); err == nil {
		t.Error("missing benchmark should be an error")
	}
}

func TestFeedOrdersAndGroupsBars(t *testing.T) {
	feed := NewFeed(map[string][]domain.Bar{
		"HE": {bar("HE", 4, 101), bar("HE", 1, 100)},
		"ZC": {bar("ZC", 1, 440)},
	})

	if feed.Len() != 2 {
		t.Fatalf("feed has %d events, want 2", feed.Len())
	}
	if feed.Start() != utcDay(1) || feed.End() != utcDay(4) {
		t.Errorf("range = %v..%v, want day 1..4", feed.Start(), feed.End())
	}

	first, ok := feed.NextBatch()
	if !ok {
		t.Fatal("first NextBatch exhausted")
	}
	if first.TS != utcDay(1) {
		t.Errorf("first batch at %v, want day 1", first.TS)
	}
	if len(first.Bars) != 2 {
		t.Errorf("first batch has %d bars, want both symbols", len(first.Bars))
	}

	second, _ := feed.NextBatch()
	if len(second.Bars) != 1 {
		t.Errorf("second batch has %d bars, want only HE", len(second.Bars))
	}
	if _, ok := second.Bars["HE"]; !ok {
		t.Error("second batch missing HE")
	}

	if _, ok := feed.NextBatch(); ok {
		t.Error("feed should be exhausted after two batches")
	}
}

func TestFeedEmpty(t *testing.T) {
	feed := NewFeed(nil)
	if feed.Len() != 0 {
		t.Errorf("empty feed Len = %d", feed.Len())
	}
	if _, ok := feed.NextBatch(); ok {
		t.Error("empty feed should report exhaustion immediately")
	}
}

// fakeBarsClient scripts GetMultiBars responses and records batch sizes.
type fakeBarsClient struct {
	bars     map[string][]marketdata.Bar
	batches  [][]string
	failures int
}

func (c *fakeBarsClient) GetMultiBars(symbols []string, _ marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	if c.failures > 0 {
		c.failures--
		return nil, errors.New("transient")
	}
	c.batches = append(c.batches, symbols)
	out := make(map[string][]marketdata.Bar)
	for _, s := range symbols {
		if bars, ok := c.bars[s]; ok {
			out[s] = bars
		}
	}
	return out, nil
}

func newTestAlpacaSource(client barsClient, batchSize int) *AlpacaSource {
	return &AlpacaSource{
		client:    client,
		batchSize: batchSize,
		limiter:   util.NewRateLimiter(6000),
		log:       util.NewLogger("error"),
	}
}

func TestAlpacaSourceBatchesSymbols(t *testing.T) {
	fake := &fakeBarsClient{
		bars: map[string][]marketdata.Bar{
			"HE": {{Timestamp: utcDay(1), Close: 100, Volume: 10}},
			"ZC": {{Timestamp: utcDay(1), Close: 440, Volume: 20}},
			"NG": {{Timestamp: utcDay(1), Close: 2.5, Volume: 30}},
		},
	}
	src := newTestAlpacaSource(fake, 2)

	data, err := src.GetBarData(context.Background(), []string{"HE", "ZC", "NG"}, utcDay(1), utcDay(31))
	if err != nil {
		t.Fatalf("GetBarData: %v", err)
	}
	if len(fake.batches) != 2 {
		t.Errorf("made %d API calls, want 2", len(fake.batches))
	}
	if len(data) != 3 {
		t.Errorf("got %d symbols, want 3", len(data))
	}
	if data["HE"][0].Close != 100 {
		t.Errorf("HE close = %v, want 100", data["HE"][0].Close)
	}
}

func TestAlpacaSourceRetriesTransientErrors(t *testing.T) {
	fake := &fakeBarsClient{
		bars:     map[string][]marketdata.Bar{"SPY": {{Timestamp: utcDay(1), Close: 510}}},
		failures: 2,
	}
	src := newTestAlpacaSource(fake, 10)

	bars, err := src.GetBenchmarkData(context.Background(), "SPY", utcDay(1), utcDay(31))
	if err != nil {
		t.Fatalf("GetBenchmarkData after retries: %v", err)
	}
	if len(bars) != 1 || bars[0].Close != 510 {
		t.Errorf("benchmark bars = %+v", bars)
	}
}

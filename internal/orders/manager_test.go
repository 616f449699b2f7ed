package orders

import (
	"testing"
	"time"

	"meridian/internal/book"
	"meridian/internal/domain"
	"meridian/internal/portfolio"
)

type captureSink struct {
	events []domain.Event
}

func (c *captureSink) Push(e domain.Event) error {
	c.events = append(c.events, e)
	return nil
}

func fixture(t *testing.T, capital float64) (*captureSink, *book.PriceBook, *portfolio.Ledger, domain.InstrumentMap) {
	t.Helper()
	sink := &captureSink{}
	pb := book.NewPriceBook()
	ledger := portfolio.NewLedger()
	ledger.UpdateAccount(domain.Account{AvailableFunds: capital, EquityValue: capital})

	instruments := domain.InstrumentMap{
		"HE":   domain.NewFuture("HE", "USD", "CME", 0.85, 1, 0.01, 1000),
		"ZC":   domain.NewFuture("ZC", "USD", "CBOT", 0.85, 1, 0.01, 1000),
		"AAPL": domain.NewEquity("AAPL", "USD", "NASDAQ", 0.005),
	}

	ts := time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC)
	pb.Update(domain.MarketEvent{TS: ts, Bars: map[string]domain.Bar{
		"HE":   {Symbol: "HE", Timestamp: ts, Close: 100},
		"ZC":   {Symbol: "ZC", Timestamp: ts, Close: 100},
		"AAPL": {Symbol: "AAPL", Timestamp: ts, Close: 200},
	}})
	return sink, pb, ledger, instruments
}

func TestOnSignalEntrySizing(t *testing.T) {
	sink, pb, ledger, instruments := fixture(t, 100000)
	m := NewManager(0.1, instruments, sink, pb, ledger)

	// Budget 10000, weight 1.0, price 100, contract size 1 → quantity 100.
	// Required margin 100×1000 = 100000 does not exceed available capacity,
	// so the order goes out.
	sig := domain.Signal{
		Timestamp: time.Date(2024, 3, 4, 14, 30, 0, 0, time.UTC),
		Instructions: []domain.TradeInstruction{
			{Ticker: "HE", Action: domain.ActionLong, OrderType: domain.OrderTypeMarket, TradeID: 1, LegID: 1, Weight: 1.0},
		},
	}
	if err := m.OnSignal(domain.SignalEvent{Signal: sig}); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	if len(sink.events) != 1 {
		t.Fatalf("emitted %d events, want 1", len(sink.events))
	}
	ev, ok := sink.events[0].(domain.OrderEvent)
	if !ok {
		t.Fatalf("emitted event is %T, want OrderEvent", sink.events[0])
	}
	if ev.Order.Quantity != 100 {
		t.Errorf("order quantity = %v, want 100", ev.Order.Quantity)
	}
	if ev.Instruction.TradeID != 1 || ev.Instruction.LegID != 1 {
		t.Errorf("instruction attribution lost: %+v", ev.Instruction)
	}
}

func TestOnSignalShortQuantityNegative(t *testing.T) {
	sink, pb, ledger, instruments := fixture(t, 100000)
	m := NewManager(0.05, instruments, sink, pb, ledger)

	sig := domain.Signal{
		Timestamp: time.Now().UTC(),
		Instructions: []domain.TradeInstruction{
			{Ticker: "ZC", Action: domain.ActionShort, OrderType: domain.OrderTypeMarket, TradeID: 2, LegID: 1, Weight: 1.0},
		},
	}
	if err := m.OnSignal(domain.SignalEvent{Signal: sig}); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	ev := sink.events[0].(domain.OrderEvent)
	if ev.Order.Quantity != -50 {
		t.Errorf("short order quantity = %v, want -50", ev.Order.Quantity)
	}
}

func TestOnSignalGroupGateDropsAllLegs(t *testing.T) {
	sink, pb, ledger, instruments := fixture(t, 100000)
	m := NewManager(1.0, instruments, sink, pb, ledger)

	// Each leg sizes to 500 contracts at 1000 margin per unit: 1,000,000
	// combined, far beyond 100,000 available. No leg may go out.
	sig := domain.Signal{
		Timestamp: time.Now().UTC(),
		Instructions: []domain.TradeInstruction{
			{Ticker: "HE", Action: domain.ActionLong, OrderType: domain.OrderTypeMarket, TradeID: 3, LegID: 1, Weight: 0.5},
			{Ticker: "ZC", Action: domain.ActionShort, OrderType: domain.OrderTypeMarket, TradeID: 3, LegID: 2, Weight: -0.5},
		},
	}
	if err := m.OnSignal(domain.SignalEvent{Signal: sig}); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	if len(sink.events) != 0 {
		t.Fatalf("emitted %d events, want 0 (atomic drop)", len(sink.events))
	}
	if got := ledger.Account().AvailableFunds; got != 100000 {
		t.Errorf("AvailableFunds = %v, want untouched 100000", got)
	}
}

func TestOnSignalExitFlattensPosition(t *testing.T) {
	sink, pb, ledger, instruments := fixture(t, 100000)
	ledger.UpdatePosition("HE", domain.Position{
		Side: domain.SideBuy, Quantity: 4, AvgCost: 95, ContractSize: 1, MarginPerUnit: 1000,
	})
	m := NewManager(0.1, instruments, sink, pb, ledger)

	sig := domain.Signal{
		Timestamp: time.Now().UTC(),
		Instructions: []domain.TradeInstruction{
			{Ticker: "HE", Action: domain.ActionSell, OrderType: domain.OrderTypeMarket, TradeID: 4, LegID: 1, Weight: 1.0},
		},
	}
	if err := m.OnSignal(domain.SignalEvent{Signal: sig}); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	ev := sink.events[0].(domain.OrderEvent)
	if ev.Order.Quantity != -4 {
		t.Errorf("exit quantity = %v, want -4 (full flatten)", ev.Order.Quantity)
	}
}

func TestOnSignalExitWithoutPositionFails(t *testing.T) {
	sink, pb, ledger, instruments := fixture(t, 100000)
	m := NewManager(0.1, instruments, sink, pb, ledger)

	sig := domain.Signal{
		Timestamp: time.Now().UTC(),
		Instructions: []domain.TradeInstruction{
			{Ticker: "HE", Action: domain.ActionCover, OrderType: domain.OrderTypeMarket, TradeID: 5, LegID: 1, Weight: 1.0},
		},
	}
	if err := m.OnSignal(domain.SignalEvent{Signal: sig}); err == nil {
		t.Error("exit with no open position should be an error")
	}
	if len(sink.events) != 0 {
		t.Errorf("emitted %d events, want 0", len(sink.events))
	}
}

func TestOnSignalZeroQuantityLegDropsSignal(t *testing.T) {
	sink, pb, ledger, instruments := fixture(t, 100)
	m := NewManager(0.1, instruments, sink, pb, ledger)

	// Budget 10 cannot buy one contract at price 100.
	sig := domain.Signal{
		Timestamp: time.Now().UTC(),
		Instructions: []domain.TradeInstruction{
			{Ticker: "HE", Action: domain.ActionLong, OrderType: domain.OrderTypeMarket, TradeID: 6, LegID: 1, Weight: 1.0},
		},
	}
	if err := m.OnSignal(domain.SignalEvent{Signal: sig}); err != nil {
		t.Fatalf("OnSignal: %v", err)
	}
	if len(sink.events) != 0 {
		t.Errorf("emitted %d events, want 0", len(sink.events))
	}
}

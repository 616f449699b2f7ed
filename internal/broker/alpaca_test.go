package broker

import (
	"context"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"meridian/internal/domain"
	"meridian/internal/portfolio"
)

type fakeTradingClient struct {
	account   *alpaca.Account
	positions []alpaca.Position
	orders    []alpaca.Order

	placed       []alpaca.PlaceOrderRequest
	streamed     bool
	accountCalls int
	blockAccount chan struct{} // if set, GetAccount blocks until closed
}

func (c *fakeTradingClient) GetAccount() (*alpaca.Account, error) {
	if c.blockAccount != nil {
		<-c.blockAccount
	}
	c.accountCalls++
	return c.account, nil
}

func (c *fakeTradingClient) GetPositions() ([]alpaca.Position, error) {
	return c.positions, nil
}

func (c *fakeTradingClient) GetOrders(_ alpaca.GetOrdersRequest) ([]alpaca.Order, error) {
	return c.orders, nil
}

func (c *fakeTradingClient) PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error) {
	c.placed = append(c.placed, req)
	qty := *req.Qty
	return &alpaca.Order{
		ID:            "srv-1",
		ClientOrderID: req.ClientOrderID,
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          req.Side,
		Type:          req.Type,
		Status:        "new",
	}, nil
}

func (c *fakeTradingClient) StreamTradeUpdatesInBackground(_ context.Context, _ func(alpaca.TradeUpdate)) {
	c.streamed = true
}

func newTestBridge(client tradingClient) (*LiveBridge, *portfolio.Ledger, *sinkRecorder) {
	ledger := portfolio.NewLedger()
	sink := &sinkRecorder{}
	b := NewLiveBridge("key", "secret", "https://paper-api.example", domain.InstrumentMap{}, sink, ledger, time.Second)
	b.client = client
	return b, ledger, sink
}

func TestConnectPrimesLedger(t *testing.T) {
	qty := decimal.NewFromInt(5)
	fake := &fakeTradingClient{
		account: &alpaca.Account{
			Cash:   decimal.NewFromInt(50_000),
			Equity: decimal.NewFromInt(52_000),
		},
		positions: []alpaca.Position{
			{Symbol: "AAPL", Qty: decimal.NewFromInt(10), AvgEntryPrice: decimal.NewFromInt(150)},
		},
		orders: []alpaca.Order{
			{ID: "o-1", ClientOrderID: "meridian-3-1-7", Symbol: "MSFT", Qty: &qty, Side: alpaca.Buy, Type: alpaca.Limit, Status: "accepted"},
		},
	}
	b, ledger, _ := newTestBridge(fake)

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	a := ledger.Account()
	if a.AvailableFunds != 50_000 || a.EquityValue != 52_000 {
		t.Errorf("account = %+v, want funds 50000 equity 52000", a)
	}
	pos, ok := ledger.Position("AAPL")
	if !ok || pos.Quantity != 10 || pos.AvgCost != 150 {
		t.Errorf("position = %+v, want 10 @ 150", pos)
	}
	if len(ledger.OpenOrders()) != 1 {
		t.Errorf("open orders = %d, want 1", len(ledger.OpenOrders()))
	}
	if !fake.streamed {
		t.Error("trade-update stream not started")
	}

	// The counter must advance past the sequence seen in existing orders.
	if got := b.newClientOrderID(1, 1); got != "meridian-1-1-8" {
		t.Errorf("next client order id = %q, want meridian-1-1-8", got)
	}
}

func TestConnectTimesOut(t *testing.T) {
	fake := &fakeTradingClient{blockAccount: make(chan struct{})}
	defer close(fake.blockAccount)

	b, _, _ := newTestBridge(fake)
	b.handshakeTimeout = 10 * time.Millisecond

	err := b.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect should fail when a handshake step stalls")
	}
}

func TestOnOrderForwardsToBrokerage(t *testing.T) {
	fake := &fakeTradingClient{}
	b, ledger, _ := newTestBridge(fake)

	order, err := domain.NewOrder(domain.OrderTypeMarket, -50, 0, 0)
	if err != nil {
		t.Fatalf("NewOrder: %v", err)
	}
	ev := domain.OrderEvent{
		TS:          time.Now(),
		Instruction: domain.TradeInstruction{Ticker: "TLT", Action: domain.ActionShort, OrderType: domain.OrderTypeMarket, TradeID: 2, LegID: 1},
		Order:       order,
	}
	if err := b.OnOrder(ev); err != nil {
		t.Fatalf("OnOrder: %v", err)
	}

	if len(fake.placed) != 1 {
		t.Fatalf("placed %d orders, want 1", len(fake.placed))
	}
	req := fake.placed[0]
	if req.Symbol != "TLT" || req.Side != alpaca.Sell || req.Type != alpaca.Market {
		t.Errorf("request = %+v, want TLT sell market", req)
	}
	// Brokerage quantities are unsigned; direction rides on the side.
	if !req.Qty.Equal(decimal.NewFromInt(50)) {
		t.Errorf("qty = %v, want 50", req.Qty)
	}
	if req.ClientOrderID != "meridian-2-1-1" {
		t.Errorf("client order id = %q, want meridian-2-1-1", req.ClientOrderID)
	}
	if len(ledger.OpenOrders()) != 1 {
		t.Errorf("open orders = %d, want 1", len(ledger.OpenOrders()))
	}
}

func TestTradeUpdateFillBecomesExecution(t *testing.T) {
	fake := &fakeTradingClient{}
	b, ledger, sink := newTestBridge(fake)

	price := decimal.NewFromInt(110)
	qty := decimal.NewFromInt(4)
	posQty := decimal.NewFromInt(6)
	ts := time.Date(2024, 3, 1, 15, 30, 0, 0, time.UTC)

	b.onTradeUpdate(alpaca.TradeUpdate{
		Event:       "fill",
		Price:       &price,
		Qty:         &qty,
		PositionQty: &posQty,
		Timestamp:   &ts,
		Order: alpaca.Order{
			ID:            "srv-9",
			ClientOrderID: "meridian-7-2-3",
			Symbol:        "AAPL",
			Side:          alpaca.Sell,
			Status:        "filled",
		},
	})

	if len(sink.events) != 1 {
		t.Fatalf("queued %d events, want 1", len(sink.events))
	}
	exec := sink.events[0].(domain.ExecutionEvent).Detail
	if exec.TradeID != 7 || exec.LegID != 2 {
		t.Errorf("trade/leg = %d/%d, want 7/2", exec.TradeID, exec.LegID)
	}
	if exec.Quantity != -4 || exec.Price != 110 {
		t.Errorf("fill = %+v, want -4 @ 110", exec)
	}
	if exec.Timestamp != ts {
		t.Errorf("timestamp = %v, want %v", exec.Timestamp, ts)
	}

	pos, ok := ledger.Position("AAPL")
	if !ok || pos.Quantity != 6 {
		t.Errorf("ledger position = %+v, want qty 6", pos)
	}
	// Filled orders leave the open-order table.
	if len(ledger.OpenOrders()) != 0 {
		t.Errorf("open orders = %d, want 0", len(ledger.OpenOrders()))
	}
}

func TestTradeUpdateFlatPositionRemovesLedgerEntry(t *testing.T) {
	fake := &fakeTradingClient{}
	b, ledger, _ := newTestBridge(fake)

	ledger.UpdatePosition("AAPL", domain.Position{Side: domain.SideBuy, Quantity: 4, AvgCost: 100, ContractSize: 1})

	price := decimal.NewFromInt(110)
	qty := decimal.NewFromInt(4)
	flat := decimal.Zero

	b.onTradeUpdate(alpaca.TradeUpdate{
		Event:       "fill",
		Price:       &price,
		Qty:         &qty,
		PositionQty: &flat,
		Order:       alpaca.Order{ID: "srv-2", ClientOrderID: "meridian-1-1-1", Symbol: "AAPL", Side: alpaca.Sell, Status: "filled"},
	})

	if _, ok := ledger.Position("AAPL"); ok {
		t.Error("flat position should be removed from the ledger")
	}
}

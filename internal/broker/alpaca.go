package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"meridian/internal/domain"
	"meridian/internal/portfolio"
)

// Compile-time interface check.
var _ Broker = (*LiveBridge)(nil)

// tradingClient is the subset of the Alpaca trading API the bridge uses.
// *alpaca.Client satisfies it; tests substitute a fake.
type tradingClient interface {
	GetAccount() (*alpaca.Account, error)
	GetPositions() ([]alpaca.Position, error)
	GetOrders(req alpaca.GetOrdersRequest) ([]alpaca.Order, error)
	PlaceOrder(req alpaca.PlaceOrderRequest) (*alpaca.Order, error)
	StreamTradeUpdatesInBackground(ctx context.Context, handler func(alpaca.TradeUpdate))
}

// LiveBridge relays orders to the Alpaca brokerage and feeds fills from its
// trade-update stream back into the event queue and ledger. The stream
// callbacks run on the SDK's goroutine; the queue is the hand-off point back
// into the dispatcher, so the bridge itself never mutates dispatcher state
// directly.
type LiveBridge struct {
	client           tradingClient
	queue            EventSink
	ledger           *portfolio.Ledger
	instruments      domain.InstrumentMap
	handshakeTimeout time.Duration
	log              *slog.Logger

	mu     sync.Mutex
	nextID int64
}

// NewLiveBridge creates a bridge against the Alpaca trading API. The
// handshake timeout bounds each step of Connect; zero selects 30 seconds.
func NewLiveBridge(apiKey, apiSecret, baseURL string, instruments domain.InstrumentMap, queue EventSink, ledger *portfolio.Ledger, handshakeTimeout time.Duration) *LiveBridge {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 30 * time.Second
	}
	return &LiveBridge{
		client: alpaca.NewClient(alpaca.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
			BaseURL:   baseURL,
		}),
		queue:            queue,
		ledger:           ledger,
		instruments:      instruments,
		handshakeTimeout: handshakeTimeout,
		log:              slog.Default().With("component", "livebridge"),
		nextID:           1,
	}
}

// Connect performs the startup handshake in a fixed order: account snapshot,
// open positions, open orders, then the trade-update stream. Each step must
// complete within the handshake timeout before the next begins, so the
// ledger is fully primed before the first live fill can arrive.
func (b *LiveBridge) Connect(ctx context.Context) error {
	if err := b.step(ctx, "account", b.loadAccount); err != nil {
		return err
	}
	if err := b.step(ctx, "positions", b.loadPositions); err != nil {
		return err
	}
	if err := b.step(ctx, "orders", b.loadOpenOrders); err != nil {
		return err
	}
	b.client.StreamTradeUpdatesInBackground(ctx, b.onTradeUpdate)
	b.log.Info("connected", "openOrders", len(b.ledger.OpenOrders()), "positions", len(b.ledger.Positions()))
	return nil
}

// step runs one handshake stage with a deadline. The SDK calls are not
// context-aware, so the stage runs in its own goroutine and the deadline is
// enforced on the wait.
func (b *LiveBridge) step(ctx context.Context, name string, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("handshake %s: %w", name, err)
		}
		b.log.Info("handshake step complete", "step", name)
		return nil
	case <-time.After(b.handshakeTimeout):
		return fmt.Errorf("handshake %s: timed out after %s", name, b.handshakeTimeout)
	case <-ctx.Done():
		return fmt.Errorf("handshake %s: %w", name, ctx.Err())
	}
}

func (b *LiveBridge) loadAccount() error {
	acct, err := b.client.GetAccount()
	if err != nil {
		return fmt.Errorf("GetAccount: %w", err)
	}
	b.ledger.UpdateAccount(domain.Account{
		AvailableFunds: acct.Cash.InexactFloat64(),
		EquityValue:    acct.Equity.InexactFloat64(),
		Timestamp:      time.Now().UTC(),
	})
	return nil
}

func (b *LiveBridge) loadPositions() error {
	positions, err := b.client.GetPositions()
	if err != nil {
		return fmt.Errorf("GetPositions: %w", err)
	}
	for _, p := range positions {
		qty := p.Qty.InexactFloat64()
		side := domain.SideBuy
		if qty < 0 {
			side = domain.SideSell
		}
		b.ledger.UpdatePosition(p.Symbol, domain.Position{
			Side:         side,
			Quantity:     qty,
			AvgCost:      p.AvgEntryPrice.InexactFloat64(),
			ContractSize: 1,
		})
	}
	return nil
}

func (b *LiveBridge) loadOpenOrders() error {
	orders, err := b.client.GetOrders(alpaca.GetOrdersRequest{Status: "open"})
	if err != nil {
		return fmt.Errorf("GetOrders: %w", err)
	}
	for _, o := range orders {
		b.ledger.UpdateOrder(activeOrderFrom(o, string(o.Status)))
		b.noteClientOrderID(o.ClientOrderID)
	}
	return nil
}

// OnOrder forwards the sized order to the brokerage. The client order id
// encodes the trade and leg ids so fills can be attributed when they come
// back on the stream.
func (b *LiveBridge) OnOrder(ev domain.OrderEvent) error {
	qty := decimal.NewFromFloat(math.Abs(ev.Order.Quantity))
	side, err := ev.Instruction.Action.BrokerSide()
	if err != nil {
		return fmt.Errorf("placing order %s: %w", ev.Instruction.Ticker, err)
	}

	req := alpaca.PlaceOrderRequest{
		Symbol:        ev.Instruction.Ticker,
		Qty:           &qty,
		Side:          alpacaSide(side),
		Type:          alpacaOrderType(ev.Order.Type),
		TimeInForce:   alpaca.Day,
		ClientOrderID: b.newClientOrderID(ev.Instruction.TradeID, ev.Instruction.LegID),
	}
	if ev.Order.Type == domain.OrderTypeLimit {
		limit := decimal.NewFromFloat(ev.Order.LimitPrice)
		req.LimitPrice = &limit
	}
	if ev.Order.Type == domain.OrderTypeStop {
		stop := decimal.NewFromFloat(ev.Order.StopPrice)
		req.StopPrice = &stop
	}

	placed, err := b.client.PlaceOrder(req)
	if err != nil {
		return fmt.Errorf("placing order %s: %w", ev.Instruction.Ticker, err)
	}

	b.ledger.UpdateOrder(activeOrderFrom(*placed, string(placed.Status)))
	b.log.Info("order placed",
		"ticker", ev.Instruction.Ticker,
		"side", side,
		"qty", ev.Order.Quantity,
		"clientOrderId", req.ClientOrderID,
	)
	return nil
}

// OnExecution refreshes the account snapshot after a fill has been
// dispatched. Positions are already up to date from the stream callback.
func (b *LiveBridge) OnExecution(_ domain.ExecutionEvent) error {
	if err := b.loadAccount(); err != nil {
		return fmt.Errorf("refreshing account: %w", err)
	}
	return nil
}

// onTradeUpdate runs on the stream goroutine. It records order status in the
// ledger and converts fills into ExecutionEvents for the dispatcher.
func (b *LiveBridge) onTradeUpdate(tu alpaca.TradeUpdate) {
	b.ledger.UpdateOrder(activeOrderFrom(tu.Order, tu.Event))

	if tu.Event != "fill" && tu.Event != "partial_fill" {
		b.log.Info("trade update", "event", tu.Event, "orderId", tu.Order.ID)
		return
	}
	if tu.Price == nil || tu.Qty == nil {
		b.log.Error("fill update missing price or quantity", "orderId", tu.Order.ID)
		return
	}

	quantity := tu.Qty.InexactFloat64()
	action := domain.ActionLong
	if tu.Order.Side == alpaca.Sell {
		quantity = -quantity
		action = domain.ActionSell
	}

	ts := time.Now().UTC()
	if tu.Timestamp != nil {
		ts = *tu.Timestamp
	}
	price := tu.Price.InexactFloat64()
	tradeID, legID := parseClientOrderID(tu.Order.ClientOrderID)

	detail := domain.ExecutionDetail{
		TradeID:   tradeID,
		LegID:     legID,
		Timestamp: ts,
		Ticker:    tu.Order.Symbol,
		Quantity:  quantity,
		Price:     price,
		Cost:      price * quantity,
		Action:    action,
	}
	if err := b.queue.Push(domain.ExecutionEvent{Detail: detail}); err != nil {
		b.log.Error("dropping fill: queue rejected execution", "orderId", tu.Order.ID, "error", err)
		return
	}

	if tu.PositionQty != nil {
		b.syncStreamPosition(tu.Order.Symbol, tu.PositionQty.InexactFloat64(), price)
	}
}

// syncStreamPosition reconciles the ledger position from the post-fill
// quantity the stream reports.
func (b *LiveBridge) syncStreamPosition(ticker string, qty, price float64) {
	if qty == 0 {
		b.ledger.RemovePosition(ticker)
		return
	}
	side := domain.SideBuy
	if qty < 0 {
		side = domain.SideSell
	}
	pos, ok := b.ledger.Position(ticker)
	avg := price
	if ok && sameSign(pos.Quantity, qty) {
		avg = pos.AvgCost
	}
	b.ledger.UpdatePosition(ticker, domain.Position{
		Side:         side,
		Quantity:     qty,
		AvgCost:      avg,
		ContractSize: 1,
	})
}

// newClientOrderID issues a monotonically increasing order id. The counter
// is mutex-guarded because the dispatcher and reconnect paths can race.
func (b *LiveBridge) newClientOrderID(tradeID, legID int) string {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.mu.Unlock()
	return fmt.Sprintf("meridian-%d-%d-%d", tradeID, legID, id)
}

// noteClientOrderID advances the counter past ids seen on existing orders so
// a restart never reuses one.
func (b *LiveBridge) noteClientOrderID(clientOrderID string) {
	parts := strings.Split(clientOrderID, "-")
	if len(parts) != 4 || parts[0] != "meridian" {
		return
	}
	seq, err := strconv.ParseInt(parts[3], 10, 64)
	if err != nil {
		return
	}
	b.mu.Lock()
	if seq >= b.nextID {
		b.nextID = seq + 1
	}
	b.mu.Unlock()
}

func parseClientOrderID(clientOrderID string) (tradeID, legID int) {
	parts := strings.Split(clientOrderID, "-")
	if len(parts) != 4 || parts[0] != "meridian" {
		return 0, 0
	}
	tradeID, _ = strconv.Atoi(parts[1])
	legID, _ = strconv.Atoi(parts[2])
	return tradeID, legID
}

func activeOrderFrom(o alpaca.Order, status string) domain.ActiveOrder {
	ao := domain.ActiveOrder{
		OrderID: o.ID,
		Ticker:  o.Symbol,
		Side:    domain.Side(o.Side),
		Type:    domain.OrderType(o.Type),
		Status:  status,
	}
	if o.Qty != nil {
		ao.Quantity = o.Qty.InexactFloat64()
	}
	if o.LimitPrice != nil {
		ao.Limit = o.LimitPrice.InexactFloat64()
	}
	return ao
}

func alpacaSide(s domain.Side) alpaca.Side {
	if s == domain.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func alpacaOrderType(t domain.OrderType) alpaca.OrderType {
	switch t {
	case domain.OrderTypeLimit:
		return alpaca.Limit
	case domain.OrderTypeStop:
		return alpaca.Stop
	default:
		return alpaca.Market
	}
}

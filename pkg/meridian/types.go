package meridian

import "time"

// RunHeaderJSON is the JSON representation of a backtest run without its
// trade log, signal log, or equity curve.
type RunHeaderJSON struct {
	ID        string             `json:"id"`
	Strategy  string             `json:"strategy"`
	StartDate string             `json:"startDate"`
	EndDate   string             `json:"endDate"`
	CreatedAt time.Time          `json:"createdAt"`
	Stats     map[string]float64 `json:"stats"`
}

// TradeJSON is the JSON representation of one closed trade.
type TradeJSON struct {
	TradeID   int       `json:"tradeId"`
	Ticker    string    `json:"ticker"`
	EntryTime time.Time `json:"entryTime"`
	ExitTime  time.Time `json:"exitTime"`
	Quantity  float64   `json:"quantity"`
	Pnl       float64   `json:"pnl"`
	Fees      float64   `json:"fees"`
}

// SignalJSON is one emitted instruction leg from the signal log.
type SignalJSON struct {
	Timestamp time.Time `json:"timestamp"`
	TradeID   int       `json:"tradeId"`
	LegID     int       `json:"legId"`
	Ticker    string    `json:"ticker"`
	Action    string    `json:"action"`
	OrderType string    `json:"orderType"`
	Weight    float64   `json:"weight"`
}

// EquityPointJSON is one point of the equity curve.
type EquityPointJSON struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// RunJSON is the full JSON representation of a backtest run.
type RunJSON struct {
	RunHeaderJSON
	Trades  []TradeJSON       `json:"trades"`
	Signals []SignalJSON      `json:"signals"`
	Equity  []EquityPointJSON `json:"equity"`
}

package perf

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"meridian/internal/domain"
	"meridian/internal/store"
	"meridian/internal/util"
)

// Recorder accumulates the trades, signals, and equity samples of one run
// and computes the run statistics when finalized. Trade and equity updates
// are idempotent: an entry identical to one already recorded is dropped, so
// replayed broker notifications never double-count.
type Recorder struct {
	strategy     string
	benchmark    []domain.Bar
	riskFreeRate float64
	sink         store.ResultStore // nil disables persistence
	log          *slog.Logger

	signals []domain.Signal
	trades  []domain.ExecutionDetail
	equity  []domain.EquityPoint

	result *store.BacktestRun
}

// NewRecorder creates a recorder for one run. benchmark supplies the daily
// closes the portfolio is regressed against; sink may be nil to skip
// persistence.
func NewRecorder(strategy string, benchmark []domain.Bar, riskFreeRate float64, sink store.ResultStore) *Recorder {
	return &Recorder{
		strategy:     strategy,
		benchmark:    benchmark,
		riskFreeRate: riskFreeRate,
		sink:         sink,
		log:          slog.Default().With("component", "recorder"),
	}
}

// RecordSignal appends a strategy signal to the signal log.
func (r *Recorder) RecordSignal(sig domain.Signal) {
	r.signals = append(r.signals, sig)
}

// RecordTrade appends a fill unless an identical one is already recorded.
func (r *Recorder) RecordTrade(d domain.ExecutionDetail) {
	for _, existing := range r.trades {
		if existing == d {
			return
		}
	}
	r.trades = append(r.trades, d)
}

// RecordEquity appends an equity sample unless identical to one already
// recorded.
func (r *Recorder) RecordEquity(p domain.EquityPoint) {
	for _, existing := range r.equity {
		if existing == p {
			return
		}
	}
	r.equity = append(r.equity, p)
}

// Result returns the finalized run, or nil before Finalize.
func (r *Recorder) Result() *store.BacktestRun {
	return r.result
}

// Finalize aggregates fills into trades, computes the run statistics, and
// persists the run if a sink is configured. Persistence failure is surfaced,
// not retried.
func (r *Recorder) Finalize() error {
	trades := r.aggregateTrades()
	equity, benchmark := r.alignWithBenchmark()

	nets := make([]float64, len(trades))
	returnsPct := make([]float64, len(trades))
	var wins, losses int
	var totalFees float64
	for i, t := range trades {
		nets[i] = t.Pnl
		returnsPct[i] = t.returnPct
		if t.Pnl > 0 {
			wins++
		} else if t.Pnl < 0 {
			losses++
		}
	}
	for _, d := range r.trades {
		totalFees += d.Fees
	}

	stats := map[string]float64{
		"net_profit":         sum(nets),
		"total_return":       TotalReturn(equity),
		"max_drawdown":       MaxDrawdown(equity),
		"annual_std_dev":     AnnualStdDev(equity),
		"total_fees":         totalFees,
		"total_trades":       float64(len(trades)),
		"winning_trades":     float64(wins),
		"losing_trades":      float64(losses),
		"avg_win_pct":        meanPositive(returnsPct),
		"avg_loss_pct":       meanNegative(returnsPct),
		"percent_profitable": percentProfitable(wins, len(trades)),
		"avg_trade_profit":   safeDiv(sum(nets), float64(len(trades))),
		"profit_factor":      ProfitFactor(nets),
		"pnl_ratio":          PnlRatio(nets),
		"sharpe_ratio":       SharpeRatio(equity, r.riskFreeRate),
		"sortino_ratio":      SortinoRatio(returnsPct),
		"alpha":              Alpha(equity, benchmark, r.riskFreeRate),
		"beta":               Beta(equity, benchmark),
	}
	if len(equity) > 0 {
		stats["ending_equity"] = equity[len(equity)-1]
	}
	if len(r.equity) > 1 {
		years := util.Years(r.equity[0].Timestamp, r.equity[len(r.equity)-1].Timestamp)
		if years > 0 {
			stats["annualized_return"] = math.Pow(1+stats["total_return"], 1/years) - 1
		}
	}

	summaries := make([]store.TradeSummary, len(trades))
	for i, t := range trades {
		summaries[i] = t.TradeSummary
	}

	run := &store.BacktestRun{
		ID:        uuid.New().String(),
		Strategy:  r.strategy,
		CreatedAt: time.Now().UTC(),
		Stats:     stats,
		Trades:    summaries,
		Signals:   r.signalRecords(),
		Equity:    r.equity,
	}
	if len(r.equity) > 0 {
		run.StartDate = r.equity[0].Timestamp
		run.EndDate = r.equity[len(r.equity)-1].Timestamp
	}
	r.result = run

	r.log.Info("run finalized",
		"trades", len(trades),
		"netProfit", stats["net_profit"],
		"totalReturn", stats["total_return"],
		"maxDrawdown", stats["max_drawdown"],
	)

	if r.sink != nil {
		if err := r.sink.CreateBacktest(context.Background(), run); err != nil {
			return fmt.Errorf("saving run %s: %w", run.ID, err)
		}
	}
	return nil
}

// signalRecords flattens the captured signals into one row per instruction
// leg, in emission order.
func (r *Recorder) signalRecords() []store.SignalRecord {
	var records []store.SignalRecord
	for _, sig := range r.signals {
		for _, ti := range sig.Instructions {
			records = append(records, store.SignalRecord{
				Timestamp: sig.Timestamp,
				TradeID:   ti.TradeID,
				LegID:     ti.LegID,
				Ticker:    ti.Ticker,
				Action:    string(ti.Action),
				OrderType: string(ti.OrderType),
				Weight:    ti.Weight,
			})
		}
	}
	return records
}

type aggregatedTrade struct {
	store.TradeSummary
	returnPct float64
}

// aggregateTrades groups fills by trade id into round trips. Net P&L is the
// negated sum of signed notional cash flows: entries pay cash out, exits
// bring it back, so a profitable round trip nets positive.
func (r *Recorder) aggregateTrades() []aggregatedTrade {
	type group struct {
		fills []domain.ExecutionDetail
	}
	groups := make(map[int]*group)
	order := []int{}
	for _, d := range r.trades {
		g, ok := groups[d.TradeID]
		if !ok {
			g = &group{}
			groups[d.TradeID] = g
			order = append(order, d.TradeID)
		}
		g.fills = append(g.fills, d)
	}
	sort.Ints(order)

	trades := make([]aggregatedTrade, 0, len(groups))
	for _, id := range order {
		g := groups[id]
		var entryValue, exitValue, quantity, fees float64
		first, last := g.fills[0], g.fills[len(g.fills)-1]
		for _, d := range g.fills {
			if d.Action.IsEntry() {
				entryValue += d.Cost
				quantity += d.Quantity
			} else {
				exitValue += d.Cost
			}
			fees += d.Fees
		}

		net := -(entryValue + exitValue)
		t := aggregatedTrade{
			TradeSummary: store.TradeSummary{
				TradeID:   id,
				Ticker:    first.Ticker,
				EntryTime: first.Timestamp,
				ExitTime:  last.Timestamp,
				Quantity:  quantity,
				Pnl:       net,
				Fees:      fees,
			},
		}
		if entryValue != 0 {
			t.returnPct = net / abs(entryValue) * 100
		}
		trades = append(trades, t)
	}
	return trades
}

// alignWithBenchmark resamples the equity curve and the benchmark closes to
// one value per calendar day (last wins) and inner-joins them on day, so the
// regression compares the same dates.
func (r *Recorder) alignWithBenchmark() (equity, benchmark []float64) {
	eqByDay := make(map[string]float64)
	var eqDays []string
	for _, p := range r.equity {
		day := util.DayKey(p.Timestamp)
		if _, seen := eqByDay[day]; !seen {
			eqDays = append(eqDays, day)
		}
		eqByDay[day] = p.Value
	}

	benchByDay := make(map[string]float64)
	for _, b := range r.benchmark {
		benchByDay[util.DayKey(b.Timestamp)] = b.Close
	}

	sort.Strings(eqDays)
	for _, day := range eqDays {
		bench, ok := benchByDay[day]
		if !ok {
			continue
		}
		equity = append(equity, eqByDay[day])
		benchmark = append(benchmark, bench)
	}

	// Without benchmark data, fall back to the raw curve so return and
	// drawdown statistics still compute; alpha and beta come out zero.
	if len(equity) == 0 {
		for _, day := range eqDays {
			equity = append(equity, eqByDay[day])
		}
	}
	return equity, benchmark
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

func meanPositive(xs []float64) float64 {
	var pos []float64
	for _, x := range xs {
		if x > 0 {
			pos = append(pos, x)
		}
	}
	return mean(pos)
}

func meanNegative(xs []float64) float64 {
	var neg []float64
	for _, x := range xs {
		if x < 0 {
			neg = append(neg, x)
		}
	}
	return mean(neg)
}

func percentProfitable(wins, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}

func safeDiv(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return a / b
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}

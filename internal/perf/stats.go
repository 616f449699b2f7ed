// Package perf accumulates the audit trail of a run (signals, fills, equity
// samples) and computes return and risk statistics at finalization.
package perf

import (
	"math"
)

// Trading days per year, used to annualize daily statistics.
const tradingDays = 252

// DailyReturns converts an equity curve into simple period returns. The
// result has one fewer element than the curve.
func DailyReturns(equity []float64) []float64 {
	if len(equity) < 2 {
		return nil
	}
	returns := make([]float64, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		returns[i-1] = (equity[i] - equity[i-1]) / equity[i-1]
	}
	return returns
}

// TotalReturn is the compounded return over the whole curve.
func TotalReturn(equity []float64) float64 {
	cum := 1.0
	for _, r := range DailyReturns(equity) {
		cum *= 1 + r
	}
	return cum - 1
}

// Drawdown returns the per-sample drawdown from the running peak, in
// decimal form (non-positive values).
func Drawdown(equity []float64) []float64 {
	if len(equity) == 0 {
		return nil
	}
	drawdowns := make([]float64, len(equity))
	peak := equity[0]
	for i, v := range equity {
		if v > peak {
			peak = v
		}
		drawdowns[i] = (v - peak) / peak
	}
	return drawdowns
}

// MaxDrawdown is the deepest drawdown over the curve (most negative value).
func MaxDrawdown(equity []float64) float64 {
	var maxDD float64
	for _, d := range Drawdown(equity) {
		if d < maxDD {
			maxDD = d
		}
	}
	return maxDD
}

// AnnualStdDev is the sample standard deviation of daily returns scaled to a
// trading year.
func AnnualStdDev(equity []float64) float64 {
	return stdDev(DailyReturns(equity)) * math.Sqrt(tradingDays)
}

// SharpeRatio is the mean daily excess return over its sample standard
// deviation. riskFreeRate is annual and spread evenly over trading days.
func SharpeRatio(equity []float64, riskFreeRate float64) float64 {
	returns := DailyReturns(equity)
	if len(returns) == 0 {
		return 0
	}
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - riskFreeRate/tradingDays
	}
	sd := stdDev(excess)
	if sd == 0 {
		return 0
	}
	return mean(excess) / sd
}

// SortinoRatio is the mean trade return over the downside deviation of the
// losing trades, computed on per-trade percentage returns against a zero
// target.
func SortinoRatio(tradeReturns []float64) float64 {
	if len(tradeReturns) == 0 {
		return 0
	}
	var downside []float64
	for _, r := range tradeReturns {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	dd := stdDev(downside)
	if dd == 0 {
		return 0
	}
	return mean(tradeReturns) / dd
}

// Beta regresses portfolio daily returns against benchmark daily returns.
// Both curves must be aligned to the same days before calling.
func Beta(equity, benchmark []float64) float64 {
	pr := DailyReturns(equity)
	br := DailyReturns(benchmark)
	if len(pr) != len(br) || len(pr) < 2 {
		return 0
	}
	v := variance(br)
	if v == 0 {
		return 0
	}
	return covariance(pr, br) / v
}

// Alpha is the annualized portfolio return in excess of CAPM expectation.
func Alpha(equity, benchmark []float64, riskFreeRate float64) float64 {
	pr := DailyReturns(equity)
	br := DailyReturns(benchmark)
	if len(pr) == 0 || len(br) == 0 {
		return 0
	}
	annualPortfolio := mean(pr) * tradingDays
	annualBenchmark := mean(br) * tradingDays
	beta := Beta(equity, benchmark)
	return annualPortfolio - (riskFreeRate + beta*(annualBenchmark-riskFreeRate))
}

// ProfitFactor is gross profit over gross loss across per-trade net P&Ls.
func ProfitFactor(nets []float64) float64 {
	var profits, losses float64
	for _, n := range nets {
		if n > 0 {
			profits += n
		} else {
			losses -= n
		}
	}
	if losses == 0 {
		return 0
	}
	return profits / losses
}

// PnlRatio is |average win / average loss| across per-trade net P&Ls.
func PnlRatio(nets []float64) float64 {
	var wins, losses []float64
	for _, n := range nets {
		switch {
		case n > 0:
			wins = append(wins, n)
		case n < 0:
			losses = append(losses, n)
		}
	}
	avgLoss := mean(losses)
	if avgLoss == 0 {
		return 0
	}
	return math.Abs(mean(wins) / avgLoss)
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// stdDev is the sample standard deviation (n-1 denominator).
func stdDev(xs []float64) float64 {
	return math.Sqrt(variance(xs))
}

func variance(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		sum += (x - m) * (x - m)
	}
	return sum / float64(len(xs)-1)
}

func covariance(xs, ys []float64) float64 {
	if len(xs) != len(ys) || len(xs) < 2 {
		return 0
	}
	mx, my := mean(xs), mean(ys)
	var sum float64
	for i := range xs {
		sum += (xs[i] - mx) * (ys[i] - my)
	}
	return sum / float64(len(xs)-1)
}

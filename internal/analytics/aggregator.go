// Package analytics derives summary statistics from a backtest trade
// log. Aggregate is a pure function of its inputs: given the same trade
// log and initial capital it always produces the identical result.
//
// Annualization convention: equity points are treated as daily periods
// and ratios are annualized with sqrt(252) (252 trading days); the
// risk-free rate is taken as zero.
package analytics

import (
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/yourorg/derivatives-dashboard/internal/model"
)

const tradingDaysPerYear = 252.0

// Aggregate computes the full BacktestResult for a trade log and
// starting capital. The input slice is not mutated; trades are ordered
// by timestamp before accumulation so cumulative fields are consistent
// regardless of input order.
func Aggregate(trades []model.Trade, initialCapital decimal.Decimal) *model.BacktestResult {
	ordered := make([]model.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	result := &model.BacktestResult{
		TotalTrades:  len(ordered),
		FinalCapital: initialCapital,
		Trades:       ordered,
	}

	if len(ordered) == 0 {
		result.EquityCurve = []model.EquityPoint{}
		result.DrawdownCurve = []model.DrawdownPoint{}
		return result
	}

	// Cumulative PnL and the equity curve. The curve is anchored at the
	// first trade's timestamp with value == initialCapital, then gains a
	// point per trade.
	equity := initialCapital
	cumulative := decimal.Zero
	curve := make([]model.EquityPoint, 0, len(ordered)+1)
	curve = append(curve, model.EquityPoint{
		Date:  ordered[0].Timestamp,
		Value: initialCapital,
	})
	for i := range ordered {
		cumulative = cumulative.Add(ordered[i].PnL)
		ordered[i].CumulativePnL = cumulative
		equity = initialCapital.Add(cumulative)
		curve = append(curve, model.EquityPoint{
			Date:             ordered[i].Timestamp,
			Value:            equity,
			CumulativeReturn: ratio(equity.Sub(initialCapital), initialCapital),
		})
	}
	result.EquityCurve = curve
	result.FinalCapital = equity
	result.TotalReturn = ratio(equity.Sub(initialCapital), initialCapital)

	// Drawdown curve against the running peak. Every point is <= 0 and
	// maxDrawdown is the minimum over the curve.
	peak := curve[0].Value
	drawdowns := make([]model.DrawdownPoint, 0, len(curve))
	maxDD := 0.0
	for _, p := range curve {
		if p.Value.GreaterThan(peak) {
			peak = p.Value
		}
		dd := ratio(p.Value.Sub(peak), peak)
		if dd > 0 {
			dd = 0
		}
		if dd < maxDD {
			maxDD = dd
		}
		drawdowns = append(drawdowns, model.DrawdownPoint{
			Date:        p.Date,
			Value:       p.Value,
			DrawdownPct: dd,
		})
	}
	result.DrawdownCurve = drawdowns
	result.MaxDrawdown = maxDD

	result.WinRate = winRate(ordered)
	result.ProfitFactor = profitFactor(ordered)

	returns := periodReturns(curve)
	annualized := annualizedReturn(result.TotalReturn, len(returns))
	result.SharpeRatio = sharpe(returns)
	result.SortinoRatio = sortino(returns)
	if maxDD < 0 {
		result.CalmarRatio = annualized / math.Abs(maxDD)
	}

	return result
}

// winRate is the fraction of closing trades with positive pnl
func winRate(trades []model.Trade) float64 {
	closing, wins := 0, 0
	for _, t := range trades {
		if !t.Side.Closing() {
			continue
		}
		closing++
		if t.PnL.IsPositive() {
			wins++
		}
	}
	if closing == 0 {
		return 0
	}
	return float64(wins) / float64(closing)
}

// profitFactor is gross profit over gross loss. With no losing trades
// the ratio is undefined and reported as nil.
func profitFactor(trades []model.Trade) *float64 {
	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, t := range trades {
		if t.PnL.IsPositive() {
			grossProfit = grossProfit.Add(t.PnL)
		} else if t.PnL.IsNegative() {
			grossLoss = grossLoss.Add(t.PnL.Abs())
		}
	}
	if grossLoss.IsZero() {
		return nil
	}
	pf := ratio(grossProfit, grossLoss)
	return &pf
}

// periodReturns converts the equity curve into simple per-period returns
func periodReturns(curve []model.EquityPoint) []float64 {
	if len(curve) < 2 {
		return nil
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Value
		if prev.IsZero() {
			returns = append(returns, 0)
			continue
		}
		returns = append(returns, ratio(curve[i].Value.Sub(prev), prev))
	}
	return returns
}

// sharpe is the annualized mean period return over its standard deviation
func sharpe(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	sd := stddev(returns, m)
	if sd == 0 {
		return 0
	}
	return m / sd * math.Sqrt(tradingDaysPerYear)
}

// sortino normalizes by downside deviation only
func sortino(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	m := mean(returns)
	var downSq float64
	for _, r := range returns {
		if r < 0 {
			downSq += r * r
		}
	}
	dd := math.Sqrt(downSq / float64(len(returns)))
	if dd == 0 {
		return 0
	}
	return m / dd * math.Sqrt(tradingDaysPerYear)
}

// annualizedReturn compounds the total return over the observed number
// of daily periods
func annualizedReturn(totalReturn float64, periods int) float64 {
	if periods == 0 {
		return 0
	}
	growth := 1 + totalReturn
	if growth <= 0 {
		return -1
	}
	return math.Pow(growth, tradingDaysPerYear/float64(periods)) - 1
}

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, m float64) float64 {
	var sq float64
	for _, x := range xs {
		d := x - m
		sq += d * d
	}
	return math.Sqrt(sq / float64(len(xs)-1))
}

// ratio divides two decimals and returns the quotient as a float
func ratio(num, den decimal.Decimal) float64 {
	if den.IsZero() {
		return 0
	}
	f, _ := num.Div(den).Float64()
	return f
}

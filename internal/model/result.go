package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeSide represents the direction and intent of a trade
type TradeSide string

const (
	TradeSideBuyToOpen   TradeSide = "BUY_TO_OPEN"
	TradeSideSellToOpen  TradeSide = "SELL_TO_OPEN"
	TradeSideBuyToClose  TradeSide = "BUY_TO_CLOSE"
	TradeSideSellToClose TradeSide = "SELL_TO_CLOSE"
)

// Closing reports whether the trade closes a position. Win rate is
// computed over closing trades only.
func (s TradeSide) Closing() bool {
	return s == TradeSideBuyToClose || s == TradeSideSellToClose
}

// Trade represents a single fill in a backtest trade log
type Trade struct {
	ID            string          `json:"id"`
	Timestamp     time.Time       `json:"timestamp"`
	Symbol        string          `json:"symbol"`
	Side          TradeSide       `json:"side"`
	Quantity      decimal.Decimal `json:"quantity"`
	Price         decimal.Decimal `json:"price"`
	Commission    decimal.Decimal `json:"commission"`
	Slippage      decimal.Decimal `json:"slippage"`
	PnL           decimal.Decimal `json:"pnl"`
	CumulativePnL decimal.Decimal `json:"cumulative_pnl"`
}

// EquityPoint represents one point on the equity curve
type EquityPoint struct {
	Date             time.Time       `json:"date"`
	Value            decimal.Decimal `json:"value"`
	CumulativeReturn float64         `json:"cumulative_return"`
}

// DrawdownPoint represents one point on the drawdown curve.
// DrawdownPct is always <= 0.
type DrawdownPoint struct {
	Date        time.Time       `json:"date"`
	Value       decimal.Decimal `json:"value"`
	DrawdownPct float64         `json:"drawdown_pct"`
}

// BacktestResult represents the performance result of a completed run.
// It is created exactly once, when the run reaches COMPLETED, and is
// immutable afterwards. ProfitFactor is nil when the trade log contains
// no losing trades.
type BacktestResult struct {
	TotalReturn   float64         `json:"total_return"`
	SharpeRatio   float64         `json:"sharpe_ratio"`
	SortinoRatio  float64         `json:"sortino_ratio"`
	CalmarRatio   float64         `json:"calmar_ratio"`
	MaxDrawdown   float64         `json:"max_drawdown"`
	WinRate       float64         `json:"win_rate"`
	ProfitFactor  *float64        `json:"profit_factor"`
	TotalTrades   int             `json:"total_trades"`
	FinalCapital  decimal.Decimal `json:"final_capital"`
	EquityCurve   []EquityPoint   `json:"equity_curve"`
	DrawdownCurve []DrawdownPoint `json:"drawdown_curve"`
	Trades        []Trade         `json:"trades"`
}

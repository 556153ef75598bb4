package service

import (
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/yourorg/derivatives-dashboard/internal/model"
	"github.com/yourorg/derivatives-dashboard/internal/simulator"
)

var simSymbols = []string{"SPX", "NDX", "RUT", "VIX"}

// SimulateTrades produces a plausible round-trip trade log for a run's
// date range and capital. Prices follow a bounded random walk; each
// position is opened with a zero-pnl trade and closed with a trade
// carrying the round trip's realized pnl. Deterministic for a fixed
// seed.
func SimulateTrades(cfg model.BacktestConfig, seed int64) []model.Trade {
	rng := rand.New(rand.NewSource(seed))
	walk := simulator.NewRandomWalk(1000, 9000, 120, seed+1)

	days := int(cfg.EndDate.Sub(cfg.StartDate).Hours()/24) + 1
	if days < 1 {
		days = 1
	}
	roundTrips := days / 5
	if roundTrips < 4 {
		roundTrips = 4
	}
	if roundTrips > 60 {
		roundTrips = 60
	}

	// Per-trade risk scales with capital so pnl magnitudes stay sane
	// for any initialCapital.
	risk, _ := cfg.InitialCapital.Div(decimal.NewFromInt(int64(roundTrips * 4))).Float64()

	span := cfg.EndDate.Sub(cfg.StartDate)
	step := span / time.Duration(roundTrips+1)
	price := 5000.0

	trades := make([]model.Trade, 0, roundTrips*2)
	for i := 0; i < roundTrips; i++ {
		symbol := simSymbols[rng.Intn(len(simSymbols))]
		entryAt := cfg.StartDate.Add(step * time.Duration(i+1))
		exitAt := entryAt.Add(step / 2)

		price = walk.Next(price)
		entryPrice := decimal.NewFromFloat(price).Round(2)
		qty := decimal.NewFromInt(int64(1 + rng.Intn(20)))

		// Slight positive drift, fat losing tail.
		pnl := decimal.NewFromFloat((rng.Float64()*1.6 - 0.7) * risk).Round(2)
		commission := decimal.NewFromFloat(1.5).Mul(qty)
		slippage := decimal.NewFromFloat(rng.Float64() * 2).Round(2)

		long := rng.Intn(2) == 0
		openSide, closeSide := model.TradeSideBuyToOpen, model.TradeSideSellToClose
		openQty := qty
		if !long {
			openSide, closeSide = model.TradeSideSellToOpen, model.TradeSideBuyToClose
			openQty = qty.Neg()
		}

		trades = append(trades, model.Trade{
			ID:         uuid.NewString(),
			Timestamp:  entryAt,
			Symbol:     symbol,
			Side:       openSide,
			Quantity:   openQty,
			Price:      entryPrice,
			Commission: commission,
			Slippage:   slippage,
			PnL:        decimal.Zero,
		})

		price = walk.Next(price)
		exitPrice := decimal.NewFromFloat(price).Round(2)
		trades = append(trades, model.Trade{
			ID:         uuid.NewString(),
			Timestamp:  exitAt,
			Symbol:     symbol,
			Side:       closeSide,
			Quantity:   openQty.Neg(),
			Price:      exitPrice,
			Commission: commission,
			Slippage:   slippage,
			PnL:        pnl.Sub(commission),
		})
	}

	return trades
}

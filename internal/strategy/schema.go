// Package strategy holds the strategy parameter-schema table. The
// schema is the single source of truth both for configuration-time
// validation and for rendering parameter controls in the UI.
package strategy

import "fmt"

// ParamKind represents the type of a strategy parameter
type ParamKind string

const (
	ParamNumber ParamKind = "NUMBER"
	ParamEnum   ParamKind = "ENUM"
)

// ParamSpec describes one strategy parameter: its kind, display
// metadata, default, and the constraint used during validation
// ([Min, Max] for NUMBER, Options for ENUM).
type ParamSpec struct {
	Name        string      `json:"name"`
	Kind        ParamKind   `json:"kind"`
	Label       string      `json:"label"`
	Description string      `json:"description"`
	Default     interface{} `json:"default"`
	Min         *float64    `json:"min,omitempty"`
	Max         *float64    `json:"max,omitempty"`
	Step        *float64    `json:"step,omitempty"`
	Options     []string    `json:"options,omitempty"`
}

// Strategy represents one backtestable strategy and its ordered
// parameter descriptors
type Strategy struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamSpec `json:"parameters"`
}

// Param returns the descriptor for the named parameter, if declared
func (s *Strategy) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

func fp(v float64) *float64 { return &v }

var strategies = []Strategy{
	{
		ID:          "DELTA_NEUTRAL_VOLATILITY",
		Name:        "Delta-Neutral Volatility",
		Description: "Harvests volatility premium while keeping portfolio delta inside a neutral band",
		Parameters: []ParamSpec{
			{Name: "volatility_threshold", Kind: ParamNumber, Label: "Volatility Threshold", Description: "Minimum implied volatility required to open a position", Default: 0.3, Min: fp(0.05), Max: fp(1.0), Step: fp(0.05)},
			{Name: "delta_band", Kind: ParamNumber, Label: "Delta Band", Description: "Absolute portfolio delta tolerated before rebalancing", Default: 0.1, Min: fp(0.01), Max: fp(0.5), Step: fp(0.01)},
			{Name: "rebalance_interval", Kind: ParamEnum, Label: "Rebalance Interval", Description: "How often the hedge is rebalanced", Default: "1h", Options: []string{"15m", "1h", "4h", "1d"}},
			{Name: "max_positions", Kind: ParamNumber, Label: "Max Positions", Description: "Maximum simultaneous open positions", Default: 10.0, Min: fp(1), Max: fp(50), Step: fp(1)},
		},
	},
	{
		ID:          "GAMMA_SCALPING",
		Name:        "Gamma Scalping",
		Description: "Long-gamma book scalped against realized moves in the underlying",
		Parameters: []ParamSpec{
			{Name: "gamma_target", Kind: ParamNumber, Label: "Gamma Target", Description: "Target portfolio gamma per unit of capital", Default: 0.05, Min: fp(0.01), Max: fp(0.25), Step: fp(0.01)},
			{Name: "scalp_threshold", Kind: ParamNumber, Label: "Scalp Threshold", Description: "Underlying move, in percent, that triggers a scalp", Default: 0.5, Min: fp(0.1), Max: fp(5.0), Step: fp(0.1)},
			{Name: "hedge_instrument", Kind: ParamEnum, Label: "Hedge Instrument", Description: "Instrument used to flatten delta", Default: "futures", Options: []string{"futures", "spot", "options"}},
		},
	},
	{
		ID:          "VOLATILITY_ARBITRAGE",
		Name:        "Volatility Arbitrage",
		Description: "Trades the spread between implied and forecast realized volatility",
		Parameters: []ParamSpec{
			{Name: "spread_entry", Kind: ParamNumber, Label: "Spread Entry", Description: "IV-RV spread, in vol points, required to enter", Default: 3.0, Min: fp(0.5), Max: fp(15.0), Step: fp(0.5)},
			{Name: "spread_exit", Kind: ParamNumber, Label: "Spread Exit", Description: "IV-RV spread at which positions are unwound", Default: 1.0, Min: fp(0.0), Max: fp(10.0), Step: fp(0.5)},
			{Name: "vol_model", Kind: ParamEnum, Label: "Volatility Model", Description: "Forecast model for realized volatility", Default: "garch", Options: []string{"garch", "ewma", "close_to_close"}},
		},
	},
	{
		ID:          "MOMENTUM_BREAKOUT",
		Name:        "Momentum Breakout",
		Description: "Enters on range breakouts confirmed by volume expansion",
		Parameters: []ParamSpec{
			{Name: "lookback_days", Kind: ParamNumber, Label: "Lookback Days", Description: "Days of history defining the breakout range", Default: 20.0, Min: fp(5), Max: fp(120), Step: fp(1)},
			{Name: "breakout_pct", Kind: ParamNumber, Label: "Breakout Percent", Description: "Percent beyond the range that confirms a breakout", Default: 1.0, Min: fp(0.1), Max: fp(10.0), Step: fp(0.1)},
			{Name: "stop_mode", Kind: ParamEnum, Label: "Stop Mode", Description: "Stop-loss placement policy", Default: "atr", Options: []string{"atr", "fixed", "trailing"}},
		},
	},
}

var byID = func() map[string]*Strategy {
	m := make(map[string]*Strategy, len(strategies))
	for i := range strategies {
		m[strategies[i].ID] = &strategies[i]
	}
	return m
}()

// Get returns the strategy declared under the given identifier
func Get(id string) (*Strategy, error) {
	s, ok := byID[id]
	if !ok {
		return nil, fmt.Errorf("unknown strategy: %s", id)
	}
	return s, nil
}

// List returns all declared strategies in a stable order
func List() []Strategy {
	out := make([]Strategy, len(strategies))
	copy(out, strategies)
	return out
}

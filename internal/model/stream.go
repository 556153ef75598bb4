package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ChannelKind identifies one logical real-time feed
type ChannelKind string

const (
	ChannelMarketData      ChannelKind = "MARKET_DATA"
	ChannelPositions       ChannelKind = "POSITIONS"
	ChannelRiskAlerts      ChannelKind = "RISK_ALERTS"
	ChannelStrategySignals ChannelKind = "STRATEGY_SIGNALS"
)

// Valid reports whether the kind names a known channel type
func (k ChannelKind) Valid() bool {
	switch k {
	case ChannelMarketData, ChannelPositions, ChannelRiskAlerts, ChannelStrategySignals:
		return true
	}
	return false
}

// ConnectionStatus represents the health of a channel's underlying transport
type ConnectionStatus string

const (
	StatusConnecting   ConnectionStatus = "CONNECTING"
	StatusConnected    ConnectionStatus = "CONNECTED"
	StatusDisconnected ConnectionStatus = "DISCONNECTED"
	StatusError        ConnectionStatus = "ERROR"
)

// AlertSeverity represents the severity of a risk alert
type AlertSeverity string

const (
	SeverityLow      AlertSeverity = "LOW"
	SeverityMedium   AlertSeverity = "MEDIUM"
	SeverityHigh     AlertSeverity = "HIGH"
	SeverityCritical AlertSeverity = "CRITICAL"
)

// SignalType represents the action a strategy signal recommends
type SignalType string

const (
	SignalBuy   SignalType = "BUY"
	SignalSell  SignalType = "SELL"
	SignalHedge SignalType = "HEDGE"
	SignalClose SignalType = "CLOSE"
)

// MarketTick represents the latest known quote for a symbol. Ticks
// replace the previous value per symbol rather than accumulating.
type MarketTick struct {
	Symbol    string          `json:"symbol"`
	Price     decimal.Decimal `json:"price"`
	Timestamp time.Time       `json:"timestamp"`
}

// PositionUpdate represents a portfolio position snapshot. Greeks are
// carried as opaque numeric fields, never computed here.
type PositionUpdate struct {
	Symbol        string             `json:"symbol"`
	Quantity      decimal.Decimal    `json:"quantity"`
	AvgPrice      decimal.Decimal    `json:"avg_price"`
	UnrealizedPnL decimal.Decimal    `json:"unrealized_pnl"`
	Greeks        map[string]float64 `json:"greeks,omitempty"`
	Timestamp     time.Time          `json:"timestamp"`
}

// RiskAlert represents one alert on a RISK_ALERTS channel. Alerts are
// append-only per channel session and cleared only by explicit user action.
type RiskAlert struct {
	ID        string        `json:"id"`
	Type      string        `json:"type"`
	Message   string        `json:"message"`
	Source    string        `json:"source"`
	Severity  AlertSeverity `json:"severity"`
	Resolved  bool          `json:"resolved"`
	Timestamp time.Time     `json:"timestamp"`
}

// StrategySignal represents one signal on a STRATEGY_SIGNALS channel
type StrategySignal struct {
	StrategyID string     `json:"strategy_id"`
	Symbol     string     `json:"symbol"`
	Type       SignalType `json:"type"`
	Strength   float64    `json:"strength"`
	Confidence float64    `json:"confidence"`
	Timestamp  time.Time  `json:"timestamp"`
}

// StreamEvent is the typed envelope a channel delivers to subscribers.
// Exactly one payload field is set, matching the channel kind.
type StreamEvent struct {
	Kind       ChannelKind     `json:"kind"`
	ReceivedAt time.Time       `json:"received_at"`
	Tick       *MarketTick     `json:"tick,omitempty"`
	Position   *PositionUpdate `json:"position,omitempty"`
	Alert      *RiskAlert      `json:"alert,omitempty"`
	Signal     *StrategySignal `json:"signal,omitempty"`
}

// ChannelSnapshot is the read model the presentation layer consumes:
// current status plus a copy of the buffered events.
type ChannelSnapshot struct {
	Kind      ChannelKind           `json:"kind"`
	Key       string                `json:"key"`
	Status    ConnectionStatus      `json:"status"`
	Enabled   bool                  `json:"enabled"`
	Saturated bool                  `json:"saturated"`
	Events    []StreamEvent         `json:"events"`
	Latest    map[string]MarketTick `json:"latest,omitempty"`
}

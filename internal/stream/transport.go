// Package stream implements the real-time channel subsystem: one
// reference-counted Channel per (kind, key) subscription, a Registry
// that multiplexes them, and the Transport boundary the channels
// consume.
package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/derivatives-dashboard/internal/model"
	"github.com/yourorg/derivatives-dashboard/internal/simulator"
)

// Handlers carries the callbacks a transport invokes for one open
// connection. OnMessage is called sequentially, in the order the
// transport produced the messages.
type Handlers struct {
	OnMessage func(data []byte)
	OnError   func(err error)
	OnClose   func()
}

// Conn is an open transport connection. Closing it releases the
// underlying resources and suppresses further callbacks.
type Conn interface {
	Close() error
}

// Transport opens one duplex message stream per distinct channel URL.
// Reconnect and backoff are the channel's responsibility, not the
// transport's.
type Transport interface {
	Open(ctx context.Context, rawURL string, h Handlers) (Conn, error)
}

// WebSocketTransport dials real websocket endpoints
type WebSocketTransport struct {
	dialer *websocket.Dialer
	logger *zap.Logger
}

// NewWebSocketTransport creates a websocket-backed transport
func NewWebSocketTransport(logger *zap.Logger) *WebSocketTransport {
	return &WebSocketTransport{
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		logger: logger,
	}
}

type wsConn struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *wsConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return c.conn.Close()
}

func (c *wsConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Open dials the endpoint and starts a read pump that feeds OnMessage
// until the connection drops
func (t *WebSocketTransport) Open(ctx context.Context, rawURL string, h Handlers) (Conn, error) {
	conn, _, err := t.dialer.DialContext(ctx, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket dial %s: %w", rawURL, err)
	}

	wc := &wsConn{conn: conn}
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if wc.isClosed() {
					// Deliberate close from our side, not a failure.
					if h.OnClose != nil {
						h.OnClose()
					}
					return
				}
				if h.OnError != nil {
					h.OnError(err)
				}
				return
			}
			if h.OnMessage != nil {
				h.OnMessage(data)
			}
		}
	}()

	return wc, nil
}

// SimTransport fabricates feed traffic locally so the server runs with
// no upstream at all. Each opened connection emits events for its
// channel kind on a fixed cadence, with values perturbed through
// simulator sources the same way the dashboard panels are.
type SimTransport struct {
	interval time.Duration
	logger   *zap.Logger
}

// NewSimTransport creates a simulated transport emitting on the given cadence
func NewSimTransport(interval time.Duration, logger *zap.Logger) *SimTransport {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &SimTransport{interval: interval, logger: logger}
}

type simConn struct {
	stop chan struct{}
	once sync.Once
}

func (c *simConn) Close() error {
	c.once.Do(func() { close(c.stop) })
	return nil
}

// Open starts a generator goroutine for the kind encoded in the URL path
func (t *SimTransport) Open(ctx context.Context, rawURL string, h Handlers) (Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse stream url: %w", err)
	}
	kind := model.ChannelKind(strings.ToUpper(strings.Trim(u.Path, "/")))
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown channel kind in url: %s", rawURL)
	}
	key := u.Query().Get("key")

	conn := &simConn{stop: make(chan struct{})}
	go t.generate(kind, key, conn.stop, h)
	return conn, nil
}

func (t *SimTransport) generate(kind model.ChannelKind, key string, stop chan struct{}, h Handlers) {
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	seed := time.Now().UnixNano()
	price := simulator.NewRandomWalk(3000, 7000, 25, seed)
	strength := simulator.NewRandomWalk(0, 1, 0.2, seed+1)

	symbols := strings.Split(key, ",")
	if len(symbols) == 0 || symbols[0] == "" {
		symbols = []string{"SPX"}
	}

	px := 5100.0
	sig := 0.5
	i := 0
	for {
		select {
		case <-stop:
			if h.OnClose != nil {
				h.OnClose()
			}
			return
		case <-ticker.C:
			var payload interface{}
			now := time.Now().UTC()
			switch kind {
			case model.ChannelMarketData:
				px = price.Next(px)
				payload = model.MarketTick{
					Symbol:    symbols[i%len(symbols)],
					Price:     decimal.NewFromFloat(px).Round(2),
					Timestamp: now,
				}
			case model.ChannelPositions:
				px = price.Next(px)
				payload = model.PositionUpdate{
					Symbol:        symbols[i%len(symbols)],
					Quantity:      decimal.NewFromInt(int64(1 + i%7)),
					AvgPrice:      decimal.NewFromFloat(px).Round(2),
					UnrealizedPnL: decimal.NewFromFloat((strength.Next(sig) - 0.5) * 10000).Round(2),
					Greeks:        map[string]float64{"delta": strength.Next(sig), "gamma": 0.02, "theta": -14.2, "vega": 86.1},
					Timestamp:     now,
				}
			case model.ChannelRiskAlerts:
				sig = strength.Next(sig)
				payload = model.RiskAlert{
					ID:        uuid.NewString(),
					Type:      "EXPOSURE",
					Message:   fmt.Sprintf("portfolio exposure at %.0f%% of limit", sig*100),
					Source:    "risk-engine",
					Severity:  severityFor(sig),
					Timestamp: now,
				}
			case model.ChannelStrategySignals:
				sig = strength.Next(sig)
				payload = model.StrategySignal{
					StrategyID: key,
					Symbol:     symbols[i%len(symbols)],
					Type:       signalFor(sig),
					Strength:   sig,
					Confidence: strength.Next(sig),
					Timestamp:  now,
				}
			}
			data, err := json.Marshal(payload)
			if err != nil {
				continue
			}
			if h.OnMessage != nil {
				h.OnMessage(data)
			}
			i++
		}
	}
}

func severityFor(v float64) model.AlertSeverity {
	switch {
	case v > 0.9:
		return model.SeverityCritical
	case v > 0.7:
		return model.SeverityHigh
	case v > 0.4:
		return model.SeverityMedium
	}
	return model.SeverityLow
}

func signalFor(v float64) model.SignalType {
	switch {
	case v > 0.75:
		return model.SignalBuy
	case v > 0.5:
		return model.SignalHedge
	case v > 0.25:
		return model.SignalSell
	}
	return model.SignalClose
}

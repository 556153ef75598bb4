package stream

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/yourorg/derivatives-dashboard/internal/model"
)

// Config holds the stream subsystem settings
type Config struct {
	BaseURL              string
	BufferCapacity       int
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	MaxReconnectAttempts int // 0 means retry indefinitely
}

func (c Config) withDefaults() Config {
	if c.BufferCapacity <= 0 {
		c.BufferCapacity = 200
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = 500 * time.Millisecond
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	return c
}

// Channel wraps one logical real-time feed. It owns the connection
// state machine (CONNECTING -> CONNECTED -> {DISCONNECTED, ERROR}), the
// bounded inbound buffer, and the reconnect schedule. A channel lives
// exactly as long as it has subscribers.
type Channel struct {
	kind      model.ChannelKind
	key       string
	url       string
	transport Transport
	cfg       Config
	logger    *zap.Logger
	notify    func(model.BufferOverflow)

	mu        sync.Mutex
	status    model.ConnectionStatus
	refs      int
	closed    bool
	enabled   bool
	saturated bool
	gen       int
	attempts  int
	conn      Conn
	bo        *backoff.ExponentialBackOff

	events      []model.StreamEvent
	latest      map[string]model.MarketTick
	subscribers map[int]func(model.StreamEvent)
}

func newChannel(kind model.ChannelKind, key, url string, transport Transport, cfg Config, logger *zap.Logger, notify func(model.BufferOverflow)) *Channel {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.BackoffInitial
	bo.MaxInterval = cfg.BackoffMax
	bo.Multiplier = 2
	bo.RandomizationFactor = 1 // full jitter
	bo.MaxElapsedTime = 0      // the attempt cap is enforced separately
	bo.Reset()

	c := &Channel{
		kind:        kind,
		key:         key,
		url:         url,
		transport:   transport,
		cfg:         cfg,
		logger:      logger,
		notify:      notify,
		status:      model.StatusDisconnected,
		enabled:     true,
		bo:          bo,
		latest:      make(map[string]model.MarketTick),
		subscribers: make(map[int]func(model.StreamEvent)),
	}
	return c
}

// retain registers a subscriber and kicks off the connection if the
// channel is not connected yet. Returns immediately; CONNECTED is
// observed eventually through Status. A channel that has already been
// closed by its last release refuses the subscriber and reports false
// so the registry can hand out a fresh channel instead.
func (c *Channel) retain(id int, fn func(model.StreamEvent)) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return false
	}
	c.refs++
	if fn != nil {
		c.subscribers[id] = fn
	}
	needConnect := c.conn == nil && c.status != model.StatusConnecting
	c.mu.Unlock()

	if needConnect {
		c.connect()
	}
	return true
}

// release drops a subscriber. When the last one leaves, the channel
// transitions straight to DISCONNECTED, closes the transport, and never
// reconnects; it reports true so the registry can remove it.
func (c *Channel) release(id int) bool {
	c.mu.Lock()
	delete(c.subscribers, id)
	if c.refs > 0 {
		c.refs--
	}
	last := c.refs == 0
	var conn Conn
	if last {
		c.closed = true
		c.status = model.StatusDisconnected
		c.gen++ // invalidate in-flight callbacks and reconnects
		conn = c.conn
		c.conn = nil
	}
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	return last
}

// connect starts an asynchronous connection attempt
func (c *Channel) connect() {
	c.mu.Lock()
	if c.closed || c.refs == 0 {
		c.mu.Unlock()
		return
	}
	c.status = model.StatusConnecting
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	go c.dial(gen)
}

func (c *Channel) dial(gen int) {
	h := Handlers{
		OnMessage: func(data []byte) { c.onMessage(gen, data) },
		OnError:   func(err error) { c.onTransportError(gen, err) },
		OnClose:   func() { /* deliberate close, nothing to do */ },
	}

	conn, err := c.transport.Open(context.Background(), c.url, h)
	if err != nil {
		c.onTransportError(gen, err)
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.status = model.StatusConnected
	c.attempts = 0
	c.bo.Reset()
	c.mu.Unlock()

	c.logger.Info("Stream channel connected",
		zap.String("kind", string(c.kind)),
		zap.String("key", c.key))
}

// onTransportError absorbs a transport failure into channel status and
// schedules a reconnect. Errors are never propagated to subscribers.
func (c *Channel) onTransportError(gen int, err error) {
	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.status = model.StatusError
	c.conn = nil
	c.attempts++
	attempts := c.attempts

	if c.cfg.MaxReconnectAttempts > 0 && attempts > c.cfg.MaxReconnectAttempts {
		c.mu.Unlock()
		c.logger.Error("Stream channel reconnect cap reached",
			zap.Error(err),
			zap.String("kind", string(c.kind)),
			zap.String("key", c.key),
			zap.Int("attempts", attempts))
		return
	}

	delay := c.bo.NextBackOff()
	c.mu.Unlock()

	c.logger.Warn("Stream transport error, reconnect scheduled",
		zap.Error(err),
		zap.String("kind", string(c.kind)),
		zap.String("key", c.key),
		zap.Duration("delay", delay),
		zap.Int("attempt", attempts))

	time.AfterFunc(delay, func() {
		c.mu.Lock()
		abort := c.closed || c.refs == 0 || gen != c.gen
		c.mu.Unlock()
		if abort {
			return
		}
		c.connect()
	})
}

// onMessage decodes one inbound transport message and applies the
// channel's buffering policy. Market data replaces the latest slot per
// symbol; everything else appends with drop-oldest on overflow. When
// the channel is disabled the buffer still updates but subscribers are
// not notified.
func (c *Channel) onMessage(gen int, data []byte) {
	event, ok := c.decode(data)
	if !ok {
		return
	}

	c.mu.Lock()
	if c.closed || gen != c.gen {
		c.mu.Unlock()
		return
	}

	var overflow *model.BufferOverflow
	if event.Tick != nil {
		c.latest[event.Tick.Symbol] = *event.Tick
	} else {
		if len(c.events) >= c.cfg.BufferCapacity {
			drop := len(c.events) - c.cfg.BufferCapacity + 1
			c.events = append(c.events[:0], c.events[drop:]...)
			c.saturated = true
			overflow = &model.BufferOverflow{Kind: c.kind, Key: c.key, Dropped: drop}
		}
		c.events = append(c.events, event)
	}

	var targets []func(model.StreamEvent)
	if c.enabled {
		targets = make([]func(model.StreamEvent), 0, len(c.subscribers))
		for _, fn := range c.subscribers {
			targets = append(targets, fn)
		}
	}
	c.mu.Unlock()

	if overflow != nil && c.notify != nil {
		c.notify(*overflow)
	}
	for _, fn := range targets {
		fn(event)
	}
}

// decode parses the transport payload into the typed event for this
// channel's kind
func (c *Channel) decode(data []byte) (model.StreamEvent, bool) {
	event := model.StreamEvent{Kind: c.kind, ReceivedAt: time.Now().UTC()}
	var err error
	switch c.kind {
	case model.ChannelMarketData:
		var tick model.MarketTick
		if err = json.Unmarshal(data, &tick); err == nil {
			event.Tick = &tick
		}
	case model.ChannelPositions:
		var pos model.PositionUpdate
		if err = json.Unmarshal(data, &pos); err == nil {
			event.Position = &pos
		}
	case model.ChannelRiskAlerts:
		var alert model.RiskAlert
		if err = json.Unmarshal(data, &alert); err == nil {
			event.Alert = &alert
		}
	case model.ChannelStrategySignals:
		var sig model.StrategySignal
		if err = json.Unmarshal(data, &sig); err == nil {
			event.Signal = &sig
		}
	}
	if err != nil {
		c.logger.Warn("Dropping undecodable stream message",
			zap.Error(err),
			zap.String("kind", string(c.kind)),
			zap.String("key", c.key))
		return model.StreamEvent{}, false
	}
	return event, true
}

// Status returns the current connection status without blocking
func (c *Channel) Status() model.ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetEnabled toggles client-side forwarding. Disabled channels keep
// receiving and buffering events so state stays current.
func (c *Channel) SetEnabled(enabled bool) {
	c.mu.Lock()
	c.enabled = enabled
	c.mu.Unlock()
}

// Clear drops the buffered events. It is destructive for the buffer
// only and does not affect the upstream connection.
func (c *Channel) Clear() {
	c.mu.Lock()
	c.events = nil
	c.latest = make(map[string]model.MarketTick)
	c.saturated = false
	c.mu.Unlock()
}

// Snapshot returns a copy of the channel's state for the presentation
// layer. Readers never see the live buffer.
func (c *Channel) Snapshot() model.ChannelSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := model.ChannelSnapshot{
		Kind:      c.kind,
		Key:       c.key,
		Status:    c.status,
		Enabled:   c.enabled,
		Saturated: c.saturated,
		Events:    make([]model.StreamEvent, len(c.events)),
	}
	copy(snap.Events, c.events)
	if c.kind == model.ChannelMarketData {
		snap.Latest = make(map[string]model.MarketTick, len(c.latest))
		for sym, tick := range c.latest {
			snap.Latest[sym] = tick
		}
	}
	return snap
}

package stream

import (
	"fmt"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/derivatives-dashboard/internal/model"
)

// Handle identifies one live subscription. It is required to
// unsubscribe and is invalid afterwards.
type Handle struct {
	Kind model.ChannelKind
	Key  string

	id int
	ch *Channel
}

type channelKey struct {
	kind model.ChannelKind
	key  string
}

// Registry tracks all active stream channels, creating them on first
// subscription and destroying them when the last subscriber leaves. It
// holds non-owning references for status reporting; each channel owns
// its own buffer and connection.
type Registry struct {
	transport Transport
	cfg       Config
	logger    *zap.Logger

	mu        sync.Mutex
	channels  map[channelKey]*Channel
	nextID    int
	overflows []model.BufferOverflow
}

// NewRegistry creates a stream registry over the given transport
func NewRegistry(transport Transport, cfg Config, logger *zap.Logger) *Registry {
	return &Registry{
		transport: transport,
		cfg:       cfg.withDefaults(),
		logger:    logger,
		channels:  make(map[channelKey]*Channel),
	}
}

// Subscribe returns a handle to a live or newly created channel for
// (kind, key) and increments its reference count. The handle is usable
// immediately; connection status converges asynchronously. fn, when
// non-nil, receives every forwarded event in transport order.
func (r *Registry) Subscribe(kind model.ChannelKind, key string, fn func(model.StreamEvent)) (*Handle, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown channel kind: %s", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	ck := channelKey{kind: kind, key: key}
	for {
		ch, ok := r.channels[ck]
		if !ok {
			ch = newChannel(kind, key, r.channelURL(kind, key), r.transport, r.cfg, r.logger, r.recordOverflow)
			r.channels[ck] = ch
			r.logger.Info("Stream channel created",
				zap.String("kind", string(kind)),
				zap.String("key", key))
		}
		r.nextID++
		id := r.nextID
		if ch.retain(id, fn) {
			return &Handle{Kind: kind, Key: key, id: id, ch: ch}, nil
		}
		// The map entry was closed by a concurrent last unsubscribe
		// that has not removed it yet. Drop it and start fresh.
		delete(r.channels, ck)
	}
}

// Unsubscribe decrements the channel's reference count. At zero the
// channel closes its connection and is removed from the registry.
func (r *Registry) Unsubscribe(h *Handle) {
	if h == nil || h.ch == nil {
		return
	}
	ch := h.ch
	h.ch = nil
	if !ch.release(h.id) {
		return
	}

	// Remove the entry only if it is still this channel; Subscribe may
	// already have replaced a closed channel with a fresh one.
	r.mu.Lock()
	ck := channelKey{kind: h.Kind, key: h.Key}
	if cur, ok := r.channels[ck]; ok && cur == ch {
		delete(r.channels, ck)
	}
	r.mu.Unlock()

	r.logger.Info("Stream channel destroyed",
		zap.String("kind", string(h.Kind)),
		zap.String("key", h.Key))
}

// Status is a pure read of a channel's connection state. Unknown
// channels report DISCONNECTED.
func (r *Registry) Status(kind model.ChannelKind, key string) model.ConnectionStatus {
	r.mu.Lock()
	ch, ok := r.channels[channelKey{kind: kind, key: key}]
	r.mu.Unlock()
	if !ok {
		return model.StatusDisconnected
	}
	return ch.Status()
}

// Snapshot returns the read model for one channel
func (r *Registry) Snapshot(kind model.ChannelKind, key string) (*model.ChannelSnapshot, error) {
	ch, err := r.channel(kind, key)
	if err != nil {
		return nil, err
	}
	snap := ch.Snapshot()
	return &snap, nil
}

// Snapshots returns read models for every live channel
func (r *Registry) Snapshots() []model.ChannelSnapshot {
	r.mu.Lock()
	chans := make([]*Channel, 0, len(r.channels))
	for _, ch := range r.channels {
		chans = append(chans, ch)
	}
	r.mu.Unlock()

	out := make([]model.ChannelSnapshot, 0, len(chans))
	for _, ch := range chans {
		out = append(out, ch.Snapshot())
	}
	return out
}

// Clear drops a channel's buffered events without touching its connection
func (r *Registry) Clear(kind model.ChannelKind, key string) error {
	ch, err := r.channel(kind, key)
	if err != nil {
		return err
	}
	ch.Clear()
	return nil
}

// SetEnabled toggles event forwarding for a channel
func (r *Registry) SetEnabled(kind model.ChannelKind, key string, enabled bool) error {
	ch, err := r.channel(kind, key)
	if err != nil {
		return err
	}
	ch.SetEnabled(enabled)
	return nil
}

// ChannelCount returns the number of live channels
func (r *Registry) ChannelCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.channels)
}

func (r *Registry) channel(kind model.ChannelKind, key string) (*Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch, ok := r.channels[channelKey{kind: kind, key: key}]
	if !ok {
		return nil, model.ErrChannelNotFound
	}
	return ch, nil
}

// channelURL builds the transport endpoint for one (kind, key) pair
func (r *Registry) channelURL(kind model.ChannelKind, key string) string {
	base := strings.TrimRight(r.cfg.BaseURL, "/")
	return fmt.Sprintf("%s/%s?key=%s", base, strings.ToLower(string(kind)), url.QueryEscape(key))
}

// recordOverflow keeps the saturation notices the UI polls to flag
// potential event loss
func (r *Registry) recordOverflow(o model.BufferOverflow) {
	r.mu.Lock()
	if len(r.overflows) >= 100 {
		r.overflows = r.overflows[1:]
	}
	r.overflows = append(r.overflows, o)
	r.mu.Unlock()

	r.logger.Warn("Stream buffer saturated, oldest events evicted",
		zap.String("kind", string(o.Kind)),
		zap.String("key", o.Key),
		zap.Int("dropped", o.Dropped))
}

// Overflows drains the pending saturation notices
func (r *Registry) Overflows() []model.BufferOverflow {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.overflows
	r.overflows = nil
	return out
}

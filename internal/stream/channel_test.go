package stream

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/yourorg/derivatives-dashboard/internal/model"
)

type fakeConn struct {
	mu     sync.Mutex
	closed bool
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeTransport hands the test direct control over the transport
// callbacks so failures and messages can be injected deterministically.
type fakeTransport struct {
	mu       sync.Mutex
	opens    int
	failures int
	handlers Handlers
	conns    []*fakeConn
}

func (t *fakeTransport) Open(ctx context.Context, rawURL string, h Handlers) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	if t.failures > 0 {
		t.failures--
		return nil, errors.New("dial refused")
	}
	t.handlers = h
	conn := &fakeConn{}
	t.conns = append(t.conns, conn)
	return conn, nil
}

func (t *fakeTransport) openCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *fakeTransport) lastConn() *fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.conns) == 0 {
		return nil
	}
	return t.conns[len(t.conns)-1]
}

func (t *fakeTransport) push(tt *testing.T, v interface{}) {
	tt.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		tt.Fatalf("marshal: %v", err)
	}
	t.mu.Lock()
	h := t.handlers
	t.mu.Unlock()
	if h.OnMessage == nil {
		tt.Fatal("no open connection to push into")
	}
	h.OnMessage(data)
}

func (t *fakeTransport) dropConnection(err error) {
	t.mu.Lock()
	h := t.handlers
	t.mu.Unlock()
	if h.OnError != nil {
		h.OnError(err)
	}
}

func newTestRegistry(transport Transport, capacity int) *Registry {
	return NewRegistry(transport, Config{
		BaseURL:        "ws://feeds.test",
		BufferCapacity: capacity,
		BackoffInitial: time.Millisecond,
		BackoffMax:     5 * time.Millisecond,
	}, zap.NewNop())
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func tick(symbol string, price int64) model.MarketTick {
	return model.MarketTick{
		Symbol:    symbol,
		Price:     decimal.NewFromInt(price),
		Timestamp: time.Now().UTC(),
	}
}

func alert(id string) model.RiskAlert {
	return model.RiskAlert{
		ID:        id,
		Type:      "EXPOSURE",
		Message:   "limit approached",
		Severity:  model.SeverityHigh,
		Timestamp: time.Now().UTC(),
	}
}

func TestSubscribeConnectsChannel(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, 10)

	h, err := reg.Subscribe(model.ChannelMarketData, "SPX", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reg.Unsubscribe(h)

	waitFor(t, "channel to connect", func() bool {
		return reg.Status(model.ChannelMarketData, "SPX") == model.StatusConnected
	})
	if transport.openCount() != 1 {
		t.Fatalf("open count: got %d, want 1", transport.openCount())
	}
}

func TestSubscribeRejectsUnknownKind(t *testing.T) {
	reg := newTestRegistry(&fakeTransport{}, 10)
	if _, err := reg.Subscribe(model.ChannelKind("FUNDING_RATES"), "SPX", nil); err == nil {
		t.Fatal("unknown kind accepted")
	}
}

func TestChannelSharedByReferenceCount(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, 10)

	var handles []*Handle
	for i := 0; i < 3; i++ {
		h, err := reg.Subscribe(model.ChannelPositions, "main", nil)
		if err != nil {
			t.Fatalf("subscribe %d: %v", i, err)
		}
		handles = append(handles, h)
	}

	waitFor(t, "channel to connect", func() bool {
		return reg.Status(model.ChannelPositions, "main") == model.StatusConnected
	})
	if transport.openCount() != 1 {
		t.Fatalf("three subscribers opened %d connections, want 1", transport.openCount())
	}
	if reg.ChannelCount() != 1 {
		t.Fatalf("channel count: got %d, want 1", reg.ChannelCount())
	}

	// Releasing all but the last keeps the channel alive.
	reg.Unsubscribe(handles[0])
	reg.Unsubscribe(handles[1])
	if reg.ChannelCount() != 1 {
		t.Fatal("channel destroyed while a subscriber remains")
	}
	if transport.lastConn().isClosed() {
		t.Fatal("connection closed while subscribers remain")
	}

	// The last release tears everything down.
	reg.Unsubscribe(handles[2])
	if reg.ChannelCount() != 0 {
		t.Fatalf("channel count after last release: got %d, want 0", reg.ChannelCount())
	}
	if !transport.lastConn().isClosed() {
		t.Fatal("connection not closed after last release")
	}
	if got := reg.Status(model.ChannelPositions, "main"); got != model.StatusDisconnected {
		t.Fatalf("absent channel status: got %s, want DISCONNECTED", got)
	}
}

func TestMarketDataReplacesPerSymbol(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, 10)

	h, err := reg.Subscribe(model.ChannelMarketData, "SPX,VIX", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reg.Unsubscribe(h)
	waitFor(t, "channel to connect", func() bool {
		return reg.Status(model.ChannelMarketData, "SPX,VIX") == model.StatusConnected
	})

	transport.push(t, tick("SPX", 5100))
	transport.push(t, tick("SPX", 5150))
	transport.push(t, tick("VIX", 18))

	snap, err := reg.Snapshot(model.ChannelMarketData, "SPX,VIX")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Events) != 0 {
		t.Fatalf("ticks must not accumulate in the event buffer, found %d", len(snap.Events))
	}
	if len(snap.Latest) != 2 {
		t.Fatalf("latest slots: got %d, want 2", len(snap.Latest))
	}
	if !snap.Latest["SPX"].Price.Equal(decimal.NewFromInt(5150)) {
		t.Fatalf("SPX latest price: got %s, want 5150", snap.Latest["SPX"].Price)
	}
}

func TestAppendBufferDropsOldest(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, 3)

	h, err := reg.Subscribe(model.ChannelRiskAlerts, "default", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reg.Unsubscribe(h)
	waitFor(t, "channel to connect", func() bool {
		return reg.Status(model.ChannelRiskAlerts, "default") == model.StatusConnected
	})

	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		transport.push(t, alert(id))
	}

	snap, err := reg.Snapshot(model.ChannelRiskAlerts, "default")
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Events) != 3 {
		t.Fatalf("buffered events: got %d, want capacity 3", len(snap.Events))
	}
	for i, want := range []string{"a3", "a4", "a5"} {
		if snap.Events[i].Alert.ID != want {
			t.Fatalf("event %d: got %s, want %s (newest kept, oldest dropped)", i, snap.Events[i].Alert.ID, want)
		}
	}
	if !snap.Saturated {
		t.Fatal("saturation flag not set after overflow")
	}

	overflows := reg.Overflows()
	if len(overflows) != 2 {
		t.Fatalf("overflow notices: got %d, want 2", len(overflows))
	}
	if len(reg.Overflows()) != 0 {
		t.Fatal("overflow notices were not drained")
	}
}

func TestDisableSuppressesForwardingButKeepsBuffering(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, 10)

	var mu sync.Mutex
	var received []string
	fn := func(ev model.StreamEvent) {
		mu.Lock()
		received = append(received, ev.Alert.ID)
		mu.Unlock()
	}

	h, err := reg.Subscribe(model.ChannelRiskAlerts, "default", fn)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reg.Unsubscribe(h)
	waitFor(t, "channel to connect", func() bool {
		return reg.Status(model.ChannelRiskAlerts, "default") == model.StatusConnected
	})

	if err := reg.SetEnabled(model.ChannelRiskAlerts, "default", false); err != nil {
		t.Fatalf("disable: %v", err)
	}
	transport.push(t, alert("muted"))

	snap, _ := reg.Snapshot(model.ChannelRiskAlerts, "default")
	if len(snap.Events) != 1 {
		t.Fatalf("disabled channel stopped buffering: %d events", len(snap.Events))
	}
	mu.Lock()
	n := len(received)
	mu.Unlock()
	if n != 0 {
		t.Fatalf("disabled channel forwarded %d events", n)
	}

	if err := reg.SetEnabled(model.ChannelRiskAlerts, "default", true); err != nil {
		t.Fatalf("enable: %v", err)
	}
	transport.push(t, alert("audible"))

	mu.Lock()
	got := append([]string(nil), received...)
	mu.Unlock()
	if len(got) != 1 || got[0] != "audible" {
		t.Fatalf("re-enabled channel forwarded %v, want [audible]", got)
	}
}

func TestClearDropsBufferOnly(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, 2)

	h, err := reg.Subscribe(model.ChannelRiskAlerts, "default", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reg.Unsubscribe(h)
	waitFor(t, "channel to connect", func() bool {
		return reg.Status(model.ChannelRiskAlerts, "default") == model.StatusConnected
	})

	for _, id := range []string{"a1", "a2", "a3"} {
		transport.push(t, alert(id))
	}
	if err := reg.Clear(model.ChannelRiskAlerts, "default"); err != nil {
		t.Fatalf("clear: %v", err)
	}

	snap, _ := reg.Snapshot(model.ChannelRiskAlerts, "default")
	if len(snap.Events) != 0 {
		t.Fatalf("events after clear: got %d, want 0", len(snap.Events))
	}
	if snap.Saturated {
		t.Fatal("saturation flag survived clear")
	}
	if snap.Status != model.StatusConnected {
		t.Fatalf("clear touched the connection: status %s", snap.Status)
	}

	// The buffer keeps working after a clear.
	transport.push(t, alert("a4"))
	snap, _ = reg.Snapshot(model.ChannelRiskAlerts, "default")
	if len(snap.Events) != 1 {
		t.Fatalf("events after clear and push: got %d, want 1", len(snap.Events))
	}
}

func TestClearUnknownChannel(t *testing.T) {
	reg := newTestRegistry(&fakeTransport{}, 10)
	if err := reg.Clear(model.ChannelRiskAlerts, "nobody"); !errors.Is(err, model.ErrChannelNotFound) {
		t.Fatalf("got %v, want ErrChannelNotFound", err)
	}
}

func TestReconnectAfterTransportError(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, 10)

	h, err := reg.Subscribe(model.ChannelStrategySignals, "GAMMA_SCALPING", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reg.Unsubscribe(h)
	waitFor(t, "initial connect", func() bool {
		return reg.Status(model.ChannelStrategySignals, "GAMMA_SCALPING") == model.StatusConnected
	})

	transport.dropConnection(errors.New("peer reset"))

	waitFor(t, "reconnect", func() bool {
		return transport.openCount() >= 2 &&
			reg.Status(model.ChannelStrategySignals, "GAMMA_SCALPING") == model.StatusConnected
	})
}

func TestReconnectSurvivesRepeatedDialFailures(t *testing.T) {
	transport := &fakeTransport{failures: 3}
	reg := newTestRegistry(transport, 10)

	h, err := reg.Subscribe(model.ChannelMarketData, "SPX", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reg.Unsubscribe(h)

	waitFor(t, "connect after dial failures", func() bool {
		return reg.Status(model.ChannelMarketData, "SPX") == model.StatusConnected
	})
	if transport.openCount() != 4 {
		t.Fatalf("open count: got %d, want 4 (3 failures then success)", transport.openCount())
	}
}

func TestReconnectStopsAtAttemptCap(t *testing.T) {
	transport := &fakeTransport{failures: 100}
	reg := NewRegistry(transport, Config{
		BaseURL:              "ws://feeds.test",
		BufferCapacity:       10,
		BackoffInitial:       time.Millisecond,
		BackoffMax:           2 * time.Millisecond,
		MaxReconnectAttempts: 3,
	}, zap.NewNop())

	h, err := reg.Subscribe(model.ChannelMarketData, "SPX", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reg.Unsubscribe(h)

	waitFor(t, "channel to give up", func() bool {
		return transport.openCount() >= 3
	})
	time.Sleep(50 * time.Millisecond)
	if got := transport.openCount(); got > 4 {
		t.Fatalf("open count: got %d, want at most the attempt cap", got)
	}
	if got := reg.Status(model.ChannelMarketData, "SPX"); got != model.StatusError {
		t.Fatalf("exhausted channel status: got %s, want ERROR", got)
	}
}

func TestReconnectAbortsWhenLastSubscriberLeaves(t *testing.T) {
	transport := &fakeTransport{failures: 1000}
	reg := newTestRegistry(transport, 10)

	h, err := reg.Subscribe(model.ChannelMarketData, "SPX", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, "first dial attempt", func() bool {
		return transport.openCount() >= 1
	})

	reg.Unsubscribe(h)

	// Any scheduled reconnect fires within a few backoff periods; after
	// that the open count must stop growing.
	time.Sleep(30 * time.Millisecond)
	settled := transport.openCount()
	time.Sleep(50 * time.Millisecond)
	if got := transport.openCount(); got != settled {
		t.Fatalf("released channel kept reconnecting: %d -> %d", settled, got)
	}
}

func TestSubscribeDuringFinalUnsubscribe(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, 10)

	h1, err := reg.Subscribe(model.ChannelMarketData, "SPX", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitFor(t, "channel to connect", func() bool {
		return reg.Status(model.ChannelMarketData, "SPX") == model.StatusConnected
	})
	old := h1.ch

	// The last subscriber's release runs before the registry removes
	// the entry, leaving a closed channel in the map for a moment.
	if last := old.release(h1.id); !last {
		t.Fatal("sole subscriber's release did not report last")
	}

	// A subscriber arriving in that window must get a live channel,
	// not the closed leftover.
	h2, err := reg.Subscribe(model.ChannelMarketData, "SPX", nil)
	if err != nil {
		t.Fatalf("subscribe during teardown: %v", err)
	}
	if h2.ch == old {
		t.Fatal("new subscriber joined a closed channel")
	}
	waitFor(t, "replacement channel to connect", func() bool {
		return reg.Status(model.ChannelMarketData, "SPX") == model.StatusConnected
	})
	if reg.ChannelCount() != 1 {
		t.Fatalf("channel count: got %d, want 1", reg.ChannelCount())
	}

	// The departing subscriber's registry bookkeeping finishes late; it
	// must not tear down the replacement channel.
	reg.Unsubscribe(&Handle{Kind: h1.Kind, Key: h1.Key, id: h1.id, ch: old})
	if reg.ChannelCount() != 1 {
		t.Fatal("late unsubscribe removed the replacement channel")
	}
	if got := reg.Status(model.ChannelMarketData, "SPX"); got != model.StatusConnected {
		t.Fatalf("replacement channel status: got %s, want CONNECTED", got)
	}

	reg.Unsubscribe(h2)
	if reg.ChannelCount() != 0 {
		t.Fatalf("channel count after last release: got %d, want 0", reg.ChannelCount())
	}
}

func TestEventsForwardedInTransportOrder(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, 100)

	var mu sync.Mutex
	var got []string
	h, err := reg.Subscribe(model.ChannelRiskAlerts, "default", func(ev model.StreamEvent) {
		mu.Lock()
		got = append(got, ev.Alert.ID)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reg.Unsubscribe(h)
	waitFor(t, "channel to connect", func() bool {
		return reg.Status(model.ChannelRiskAlerts, "default") == model.StatusConnected
	})

	want := []string{"a1", "a2", "a3", "a4"}
	for _, id := range want {
		transport.push(t, alert(id))
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != len(want) {
		t.Fatalf("forwarded %d events, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d out of order: got %s, want %s", i, got[i], want[i])
		}
	}
}

func TestUndecodableMessageIsDropped(t *testing.T) {
	transport := &fakeTransport{}
	reg := newTestRegistry(transport, 10)

	h, err := reg.Subscribe(model.ChannelRiskAlerts, "default", nil)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer reg.Unsubscribe(h)
	waitFor(t, "channel to connect", func() bool {
		return reg.Status(model.ChannelRiskAlerts, "default") == model.StatusConnected
	})

	transport.mu.Lock()
	handlers := transport.handlers
	transport.mu.Unlock()
	handlers.OnMessage([]byte("{not json"))

	snap, _ := reg.Snapshot(model.ChannelRiskAlerts, "default")
	if len(snap.Events) != 0 {
		t.Fatalf("undecodable message buffered: %d events", len(snap.Events))
	}
	if snap.Status != model.StatusConnected {
		t.Fatalf("undecodable message changed status to %s", snap.Status)
	}
}

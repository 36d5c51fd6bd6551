package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dixelmedia/wabridge/internal/classify"
	"github.com/dixelmedia/wabridge/internal/identity"
	"github.com/dixelmedia/wabridge/internal/wire"
)

type fakeTransport struct {
	dials     atomic.Int32
	dialDelay time.Duration
	dialErr   error

	mu   sync.Mutex
	self identity.SelfInfo

	updates chan wire.ConnectionUpdate
	batches chan wire.MessageBatch
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		updates: make(chan wire.ConnectionUpdate, 8),
		batches: make(chan wire.MessageBatch, 8),
	}
}

func (f *fakeTransport) Dial(ctx context.Context) error {
	f.dials.Add(1)
	if f.dialDelay > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(f.dialDelay):
		}
	}
	return f.dialErr
}

func (f *fakeTransport) Send(context.Context, identity.JID, string, *wire.SendOptions) error {
	return nil
}

func (f *fakeTransport) Self() identity.SelfInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.self
}

func (f *fakeTransport) setSelf(info identity.SelfInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.self = info
}

func (f *fakeTransport) Updates() <-chan wire.ConnectionUpdate { return f.updates }
func (f *fakeTransport) Batches() <-chan wire.MessageBatch     { return f.batches }
func (f *fakeTransport) Close() error                          { return nil }

type recordingHandler struct {
	mu     sync.Mutex
	events []classify.Event
}

func (h *recordingHandler) Handle(_ context.Context, ev classify.Event, _ wire.InboundMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func mentionMsg(t *testing.T, chat, sender, text string, mentions ...string) wire.InboundMessage {
	t.Helper()
	body := map[string]any{
		"extendedTextMessage": map[string]any{
			"text":        text,
			"contextInfo": map[string]any{"mentionedJid": mentions},
		},
	}
	raw, _ := json.Marshal(body)
	var p wire.Payload
	if err := json.Unmarshal(raw, &p); err != nil {
		t.Fatal(err)
	}
	return wire.InboundMessage{
		OriginID: "MSG1",
		ChatID:   identity.JID(chat),
		Sender:   identity.JID(sender),
		IsGroup:  true,
		Message:  &p,
	}
}

func TestStart_SingleFlight(t *testing.T) {
	tr := newFakeTransport()
	tr.dialDelay = 80 * time.Millisecond
	c := NewController(tr, 0)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Start(context.Background())
		}()
	}
	wg.Wait()

	if got := tr.dials.Load(); got != 1 {
		t.Errorf("dials = %d, want exactly 1 handshake attempt", got)
	}
}

func TestStart_NoopWhileOpen(t *testing.T) {
	tr := newFakeTransport()
	c := NewController(tr, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	tr.updates <- wire.ConnectionUpdate{Connection: wire.ConnectionOpen}
	waitFor(t, time.Second, func() bool { return c.State() == StateOpen })

	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if got := tr.dials.Load(); got != 1 {
		t.Errorf("dials = %d, start while open must be a no-op", got)
	}
}

func TestDisconnect_SchedulesOneRetry(t *testing.T) {
	tr := newFakeTransport()
	c := NewController(tr, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_ = c.Start(ctx)
	tr.updates <- wire.ConnectionUpdate{Connection: wire.ConnectionOpen}
	waitFor(t, time.Second, func() bool { return c.State() == StateOpen })

	tr.updates <- wire.ConnectionUpdate{
		Connection:       wire.ConnectionClose,
		DisconnectReason: wire.ReasonConnectionLost,
	}
	waitFor(t, time.Second, func() bool { return tr.dials.Load() == 2 })

	tr.updates <- wire.ConnectionUpdate{Connection: wire.ConnectionOpen}
	waitFor(t, time.Second, func() bool { return c.State() == StateOpen })
}

func TestDisconnect_LoggedOutIsTerminal(t *testing.T) {
	tr := newFakeTransport()
	c := NewController(tr, 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_ = c.Start(ctx)
	tr.updates <- wire.ConnectionUpdate{Connection: wire.ConnectionOpen}
	waitFor(t, time.Second, func() bool { return c.State() == StateOpen })

	tr.updates <- wire.ConnectionUpdate{
		Connection:       wire.ConnectionClose,
		DisconnectReason: wire.ReasonLoggedOut,
	}
	waitFor(t, time.Second, func() bool { return c.State() == StateIdle })

	time.Sleep(50 * time.Millisecond) // past any would-be retry delay
	if got := tr.dials.Load(); got != 1 {
		t.Errorf("dials = %d, logged-out must not retry", got)
	}
}

func TestDisconnect_FailedDialReschedules(t *testing.T) {
	tr := newFakeTransport()
	tr.dialErr = errors.New("refused")
	c := NewController(tr, 15*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	if err := c.Start(ctx); err == nil {
		t.Fatal("expected dial error")
	}
	// Each failed attempt re-enters disconnect handling and re-schedules.
	waitFor(t, time.Second, func() bool { return tr.dials.Load() >= 3 })
}

func TestRetry_SupersededByExplicitStart(t *testing.T) {
	tr := newFakeTransport()
	tr.dialDelay = 60 * time.Millisecond
	c := NewController(tr, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_ = c.Start(ctx)
	waitFor(t, time.Second, func() bool { return tr.dials.Load() == 1 })
	tr.updates <- wire.ConnectionUpdate{Connection: wire.ConnectionOpen}
	waitFor(t, time.Second, func() bool { return c.State() == StateOpen })

	tr.updates <- wire.ConnectionUpdate{
		Connection:       wire.ConnectionClose,
		DisconnectReason: wire.ReasonConnectionLost,
	}
	waitFor(t, time.Second, func() bool { return c.State() == StateReconnecting })

	// An explicit start lands before the scheduled retry fires; the retry
	// must then find the session already connecting and do nothing.
	go c.Start(ctx)
	time.Sleep(100 * time.Millisecond)
	if got := tr.dials.Load(); got != 2 {
		t.Errorf("dials = %d, want 2 (pending retry must not double-dial)", got)
	}
}

func TestHandleBatch_ClassifiesInOrder(t *testing.T) {
	tr := newFakeTransport()
	tr.setSelf(identity.SelfInfo{DeviceJID: "555:3@s.whatsapp.net"})
	h := &recordingHandler{}
	c := NewController(tr, 0)
	c.SetHandler(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_ = c.Start(ctx)
	tr.updates <- wire.ConnectionUpdate{Connection: wire.ConnectionOpen}
	waitFor(t, time.Second, func() bool { return c.State() == StateOpen })

	tr.batches <- wire.MessageBatch{
		Kind: wire.BatchNotify,
		Messages: []wire.InboundMessage{
			mentionMsg(t, "g1@g.us", "777@s.whatsapp.net", "first @bot", "555@s.whatsapp.net"),
			mentionMsg(t, "g1@g.us", "888@s.whatsapp.net", "not for you", "999@s.whatsapp.net"),
			mentionMsg(t, "g2@g.us", "777@s.whatsapp.net", "second @bot", "555@s.whatsapp.net"),
		},
	}
	waitFor(t, time.Second, func() bool { return h.count() == 2 })

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.events[0].Text != "first @bot" || h.events[1].Text != "second @bot" {
		t.Errorf("events out of order: %+v", h.events)
	}
}

func TestHandleBatch_IgnoresOtherKinds(t *testing.T) {
	tr := newFakeTransport()
	tr.setSelf(identity.SelfInfo{DeviceJID: "555@s.whatsapp.net"})
	h := &recordingHandler{}
	c := NewController(tr, 0)
	c.SetHandler(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	tr.batches <- wire.MessageBatch{
		Kind: "history",
		Messages: []wire.InboundMessage{
			mentionMsg(t, "g1@g.us", "777@s.whatsapp.net", "old @bot", "555@s.whatsapp.net"),
		},
	}
	tr.batches <- wire.MessageBatch{
		Kind: wire.BatchAppend,
		Messages: []wire.InboundMessage{
			mentionMsg(t, "g1@g.us", "777@s.whatsapp.net", "appended @bot", "555@s.whatsapp.net"),
		},
	}
	waitFor(t, time.Second, func() bool { return h.count() == 1 })

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.events[0].Text != "appended @bot" {
		t.Errorf("events = %+v, history batch must be ignored, append processed", h.events)
	}
}

func TestHandleBatch_ReResolvesIdentitiesPerBatch(t *testing.T) {
	tr := newFakeTransport()
	tr.setSelf(identity.SelfInfo{DeviceJID: "555:3@s.whatsapp.net"})
	h := &recordingHandler{}
	c := NewController(tr, 0)
	c.SetHandler(h)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx)

	_ = c.Start(ctx)
	tr.updates <- wire.ConnectionUpdate{Connection: wire.ConnectionOpen}
	waitFor(t, time.Second, func() bool { return c.State() == StateOpen })

	// The linked alternate id only becomes known after the handshake.
	tr.setSelf(identity.SelfInfo{
		DeviceJID: "555:3@s.whatsapp.net",
		LinkedJID: "987654@lid",
	})
	tr.batches <- wire.MessageBatch{
		Kind: wire.BatchNotify,
		Messages: []wire.InboundMessage{
			mentionMsg(t, "g1@g.us", "777@s.whatsapp.net", "via lid @bot", "987654@lid"),
		},
	}
	waitFor(t, time.Second, func() bool { return h.count() == 1 })
}

func TestRun_ShutdownOnContextCancel(t *testing.T) {
	tr := newFakeTransport()
	c := NewController(tr, 0)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop")
	}
	if c.State() != StateIdle {
		t.Errorf("State = %v, want idle after shutdown", c.State())
	}
}

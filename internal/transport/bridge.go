// Package transport connects to the protocol bridge over WebSocket. The
// bridge speaks the actual chat protocol; this side exchanges JSON frames
// with it and surfaces connection updates and message batches as channels.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dixelmedia/wabridge/internal/config"
	"github.com/dixelmedia/wabridge/internal/identity"
	"github.com/dixelmedia/wabridge/internal/wire"
)

// Bridge is a WebSocket client for the protocol bridge. Dial performs a
// single connection attempt; whoever owns the Bridge decides when to retry.
type Bridge struct {
	url              string
	handshakeTimeout time.Duration

	mu   sync.Mutex
	conn *websocket.Conn
	self identity.SelfInfo

	updates chan wire.ConnectionUpdate
	batches chan wire.MessageBatch

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Bridge from config. The bridge URL is required.
func New(cfg *config.Config) (*Bridge, error) {
	_, bc, _ := cfg.Snapshot()
	if bc.URL == "" {
		return nil, fmt.Errorf("bridge url is required")
	}
	return &Bridge{
		url:              bc.URL,
		handshakeTimeout: bc.HandshakeTimeout(),
		updates:          make(chan wire.ConnectionUpdate, 16),
		batches:          make(chan wire.MessageBatch, 16),
		done:             make(chan struct{}),
	}, nil
}

// frame is the envelope for everything crossing the bridge socket, both
// directions. Type selects which of the remaining fields are meaningful.
type frame struct {
	Type string `json:"type"`

	// type "connection" (inbound)
	Connection  string            `json:"connection,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	PairingCode string            `json:"pairing_code,omitempty"`
	Self        *selfFrame        `json:"self,omitempty"`

	// type "messages" (inbound)
	Kind     string                `json:"kind,omitempty"`
	Messages []wire.InboundMessage `json:"messages,omitempty"`

	// type "send" (outbound)
	To     string       `json:"to,omitempty"`
	Text   string       `json:"text,omitempty"`
	Quoted *quotedFrame `json:"quoted,omitempty"`
}

type selfFrame struct {
	Device string `json:"device,omitempty"`
	User   string `json:"user,omitempty"`
	Linked string `json:"lid,omitempty"`
}

type quotedFrame struct {
	ID     string `json:"id"`
	Sender string `json:"sender,omitempty"`
}

// Dial performs one connection attempt against the bridge and starts the
// read loop on success.
func (b *Bridge) Dial(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: b.handshakeTimeout}

	conn, _, err := dialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return fmt.Errorf("dial bridge %s: %w", b.url, err)
	}

	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.conn = conn
	b.mu.Unlock()

	slog.Info("bridge connected", "url", b.url)
	go b.readLoop(conn)
	return nil
}

// Send writes one outbound message frame. opts, when set, quotes an earlier
// message in the reply.
func (b *Bridge) Send(_ context.Context, to identity.JID, text string, opts *wire.SendOptions) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return fmt.Errorf("bridge not connected")
	}

	f := frame{Type: "send", To: string(to), Text: text}
	if opts != nil && opts.QuotedID != "" {
		f.Quoted = &quotedFrame{ID: opts.QuotedID, Sender: string(opts.QuotedSender)}
	}

	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal send frame: %w", err)
	}
	if err := b.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write to bridge: %w", err)
	}
	return nil
}

// Self returns the identity information received from the bridge so far.
// Partial before the session is open.
func (b *Bridge) Self() identity.SelfInfo {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.self
}

func (b *Bridge) Updates() <-chan wire.ConnectionUpdate { return b.updates }
func (b *Bridge) Batches() <-chan wire.MessageBatch     { return b.batches }

// Close tears the socket down for good. Further Dial calls are not expected
// after Close.
func (b *Bridge) Close() error {
	b.stopOnce.Do(func() { close(b.done) })

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn != nil {
		err := b.conn.Close()
		b.conn = nil
		return err
	}
	return nil
}

// readLoop decodes frames from one connection until it fails or the bridge
// is closed. A read failure surfaces as a connection-lost update; it is the
// session controller's job to decide whether to redial.
func (b *Bridge) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			b.mu.Lock()
			stale := b.conn != conn
			if !stale {
				b.conn = nil
			}
			b.mu.Unlock()

			// A replaced connection's loop dies quietly; only the live one
			// reports the loss.
			if !stale && !b.closed() {
				slog.Warn("bridge read failed", "error", err)
				b.emitUpdate(wire.ConnectionUpdate{
					Connection:       wire.ConnectionClose,
					DisconnectReason: wire.ReasonConnectionLost,
				})
			}
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("invalid bridge frame", "error", err)
			continue
		}
		b.handleFrame(f)
	}
}

func (b *Bridge) handleFrame(f frame) {
	switch f.Type {
	case "connection":
		if f.Self != nil {
			b.mu.Lock()
			b.self = identity.SelfInfo{
				DeviceJID: identity.JID(f.Self.Device),
				UserJID:   identity.JID(f.Self.User),
				LinkedJID: identity.JID(f.Self.Linked),
			}
			b.mu.Unlock()
		}
		b.emitUpdate(wire.ConnectionUpdate{
			Connection:       f.Connection,
			DisconnectReason: f.Reason,
			PairingChallenge: f.PairingCode,
		})

	case "messages":
		b.emitBatch(wire.MessageBatch{Kind: f.Kind, Messages: f.Messages})

	default:
		slog.Debug("ignoring bridge frame", "type", f.Type)
	}
}

func (b *Bridge) emitUpdate(upd wire.ConnectionUpdate) {
	select {
	case b.updates <- upd:
	case <-b.done:
	}
}

func (b *Bridge) emitBatch(batch wire.MessageBatch) {
	select {
	case b.batches <- batch:
	case <-b.done:
	}
}

func (b *Bridge) closed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// Package session owns the connection lifecycle of the single logical
// protocol session: connect, open, close and reconnect transitions, with a
// single-flight guard so involuntary disconnects never produce duplicate
// concurrent start attempts.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dixelmedia/wabridge/internal/classify"
	"github.com/dixelmedia/wabridge/internal/identity"
	"github.com/dixelmedia/wabridge/internal/wire"
)

// State is the connection state of the bridge's one session. Process-wide
// single instance, mutated only by the Controller.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateReconnecting:
		return "reconnecting"
	}
	return "unknown"
}

// Transport abstracts the external protocol-session provider. Dial performs
// one connection attempt; reconnect policy lives in the Controller, not the
// transport.
type Transport interface {
	Dial(ctx context.Context) error
	Send(ctx context.Context, to identity.JID, text string, opts *wire.SendOptions) error

	// Self returns whatever identity information is currently known. May be
	// partial before the connection is open; the controller re-resolves per
	// batch because the set can gain members mid-session.
	Self() identity.SelfInfo

	Updates() <-chan wire.ConnectionUpdate
	Batches() <-chan wire.MessageBatch
	Close() error
}

// Handler receives classified events together with the originating message
// (needed to quote it in the acknowledgement).
type Handler interface {
	Handle(ctx context.Context, ev classify.Event, src wire.InboundMessage)
}

// Controller is the session state machine. One per process.
type Controller struct {
	transport  Transport
	handler    Handler
	retryDelay time.Duration

	mu       sync.Mutex
	state    State
	starting bool        // single-flight guard: one start/reconnect sequence at a time
	retry    *time.Timer // pending reconnect; cancelled when a connect lands first

	// selves is confined to the Run goroutine (merged on open and per
	// batch), so it needs no locking of its own.
	selves identity.Set
}

// NewController creates the controller around a transport. retryDelay <= 0
// uses the 1.5s default.
func NewController(t Transport, retryDelay time.Duration) *Controller {
	if retryDelay <= 0 {
		retryDelay = 1500 * time.Millisecond
	}
	return &Controller{
		transport:  t,
		retryDelay: retryDelay,
		state:      StateIdle,
	}
}

// SetHandler wires the dispatch gateway. Must be called before Run.
func (c *Controller) SetHandler(h Handler) { c.handler = h }

// State returns the current connection state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Start performs one connection attempt. A start request while already
// connecting or open is a no-op, not an error. A failed attempt enters the
// regular disconnect-handling path and schedules a retry.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.starting || c.state == StateConnecting || c.state == StateOpen {
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	c.state = StateConnecting
	c.cancelRetryLocked()
	c.mu.Unlock()

	slog.Info("session connecting")
	if err := c.transport.Dial(ctx); err != nil {
		c.handleDisconnect(ctx, wire.ConnectionUpdate{
			Connection:       wire.ConnectionClose,
			DisconnectReason: wire.ReasonDialFailed,
		})
		return fmt.Errorf("session dial: %w", err)
	}
	return nil
}

// Run consumes transport events until ctx is cancelled. Message batches are
// handled sequentially, one message at a time, in arrival order.
func (c *Controller) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()
		case upd, ok := <-c.transport.Updates():
			if !ok {
				c.shutdown()
				return nil
			}
			c.handleUpdate(ctx, upd)
		case batch, ok := <-c.transport.Batches():
			if !ok {
				c.shutdown()
				return nil
			}
			c.handleBatch(ctx, batch)
		}
	}
}

func (c *Controller) handleUpdate(ctx context.Context, upd wire.ConnectionUpdate) {
	if upd.PairingChallenge != "" {
		// Surfaced for the operator to link the device; nothing to render here.
		slog.Info("pairing challenge received, link the device to proceed",
			"challenge", upd.PairingChallenge)
	}

	switch upd.Connection {
	case wire.ConnectionConnecting:
		// Transport-side progress note; state already Connecting via Start.

	case wire.ConnectionOpen:
		c.mu.Lock()
		c.state = StateOpen
		c.starting = false
		c.cancelRetryLocked()
		c.mu.Unlock()

		c.selves.Merge(c.transport.Self())
		slog.Info("session open", "identities", c.selves.Len())

	case wire.ConnectionClose:
		c.handleDisconnect(ctx, upd)
	}
}

// handleDisconnect applies the close transition: logged-out is terminal and
// goes to Idle with no retry; every other reason schedules exactly one retry
// after the fixed delay. Scheduling itself never fails.
func (c *Controller) handleDisconnect(ctx context.Context, upd wire.ConnectionUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.state = StateClosing
	c.starting = false

	if upd.DisconnectReason == wire.ReasonLoggedOut {
		c.state = StateIdle
		c.cancelRetryLocked()
		slog.Error("session logged out, re-authentication required — not retrying",
			"reason", upd.DisconnectReason)
		return
	}

	c.state = StateReconnecting
	c.cancelRetryLocked()
	slog.Warn("session closed, reconnect scheduled",
		"reason", upd.DisconnectReason, "delay", c.retryDelay)

	c.retry = time.AfterFunc(c.retryDelay, func() {
		if ctx.Err() != nil {
			return
		}
		if err := c.Start(ctx); err != nil {
			// Start already re-entered disconnect handling and re-scheduled.
			slog.Warn("reconnect attempt failed", "error", err)
		}
	})
}

// cancelRetryLocked stops any pending reconnect. Caller holds mu.
func (c *Controller) cancelRetryLocked() {
	if c.retry != nil {
		c.retry.Stop()
		c.retry = nil
	}
}

func (c *Controller) handleBatch(ctx context.Context, batch wire.MessageBatch) {
	if !batch.Processable() {
		slog.Debug("ignoring message batch", "kind", batch.Kind)
		return
	}

	// Re-resolve self identities per batch: the protocol layer may have
	// surfaced a new alternate form since the handshake.
	c.selves.Merge(c.transport.Self())

	for _, msg := range batch.Messages {
		ev, ok := classify.Classify(msg, &c.selves)
		if !ok {
			continue
		}
		slog.Info("mention received",
			"chat_id", ev.ChatID,
			"participant", ev.Participant,
			"preview", truncate(ev.Text, 50),
		)
		if c.handler != nil {
			c.handler.Handle(ctx, ev, msg)
		}
	}
}

func (c *Controller) shutdown() {
	c.mu.Lock()
	c.state = StateClosing
	c.cancelRetryLocked()
	c.state = StateIdle
	c.mu.Unlock()

	if err := c.transport.Close(); err != nil {
		slog.Debug("transport close", "error", err)
	}
	slog.Info("session stopped")
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Package dispatch turns classified mention events into outbound effects:
// an in-chat acknowledgement followed by a webhook delivery, and relays
// operator-initiated sends back into the chat session.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/dixelmedia/wabridge/internal/classify"
	"github.com/dixelmedia/wabridge/internal/config"
	"github.com/dixelmedia/wabridge/internal/identity"
	"github.com/dixelmedia/wabridge/internal/session"
	"github.com/dixelmedia/wabridge/internal/wire"
)

var (
	// ErrNotReady reports that the chat session is not open, so nothing can
	// be sent right now.
	ErrNotReady = errors.New("session not connected")

	// ErrBadInput reports a malformed relay request (missing recipient or
	// empty message).
	ErrBadInput = errors.New("invalid send request")
)

// Sender is the outbound half of the chat transport.
type Sender interface {
	Send(ctx context.Context, to identity.JID, text string, opts *wire.SendOptions) error
}

// Gateway forwards mention events to the automation webhook and relays
// messages from the HTTP API into the chat session.
type Gateway struct {
	cfg    *config.Config
	sender Sender
	state  func() session.State
	client *http.Client
}

// New builds a Gateway. state reports the live session state so relay
// requests can be refused while disconnected.
func New(cfg *config.Config, sender Sender, state func() session.State) *Gateway {
	return &Gateway{
		cfg:    cfg,
		sender: sender,
		state:  state,
		client: &http.Client{},
	}
}

// webhookPayload is the contract with the automation flow. Field names are
// load-bearing: the receiving workflow selects on them.
type webhookPayload struct {
	GroupID     string `json:"group_id"`
	Participant string `json:"participant"`
	Message     string `json:"message"`
}

// Handle acknowledges the mention in-chat, then posts the event to the
// configured webhook. The two steps are independent: a failed ack never
// blocks the webhook, and the webhook is attempted exactly once per event
// regardless of outcome.
func (g *Gateway) Handle(ctx context.Context, ev classify.Event, src wire.InboundMessage) {
	eventID := uuid.NewString()

	if ack := g.cfg.AckText(); ack != "" {
		opts := &wire.SendOptions{QuotedID: src.OriginID, QuotedSender: src.Sender}
		if err := g.sender.Send(ctx, ev.ChatID, ack, opts); err != nil {
			slog.Warn("mention ack failed",
				"event_id", eventID, "chat_id", ev.ChatID, "error", err)
		}
	}

	g.deliver(ctx, eventID, ev)
}

// deliver makes the single webhook attempt for one event. Failures are
// logged with status and response body; there is no retry and no queue.
func (g *Gateway) deliver(ctx context.Context, eventID string, ev classify.Event) {
	url := g.cfg.WebhookURL()
	if url == "" {
		slog.Debug("webhook url not configured, dropping event", "event_id", eventID)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, g.cfg.WebhookTimeout())
	defer cancel()

	ctx, span := otel.Tracer("wabridge/dispatch").Start(ctx, "webhook.deliver")
	defer span.End()
	span.SetAttributes(
		attribute.String("event.id", eventID),
		attribute.String("chat.id", string(ev.ChatID)),
	)

	body, err := json.Marshal(webhookPayload{
		GroupID:     string(ev.ChatID),
		Participant: string(ev.Participant),
		Message:     ev.Text,
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("webhook payload encode failed", "event_id", eventID, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("webhook request build failed", "event_id", eventID, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-ID", eventID)

	resp, err := g.client.Do(req)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		slog.Error("webhook delivery failed", "event_id", eventID, "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		span.SetStatus(codes.Error, resp.Status)
		slog.Error("webhook rejected event",
			"event_id", eventID,
			"status", resp.StatusCode,
			"body", strings.TrimSpace(string(respBody)),
		)
		return
	}

	slog.Info("event delivered", "event_id", eventID, "chat_id", ev.ChatID)
}

// Relay sends an operator-supplied message into the chat session. A bare
// phone number is promoted to a user address; anything already containing
// '@' passes through untouched.
func (g *Gateway) Relay(ctx context.Context, to, text string) error {
	if strings.TrimSpace(to) == "" || strings.TrimSpace(text) == "" {
		return fmt.Errorf("%w: to and message are required", ErrBadInput)
	}
	if g.state() != session.StateOpen {
		return ErrNotReady
	}

	if !strings.Contains(to, "@") {
		to = to + "@" + identity.DefaultUserServer
	}
	if err := g.sender.Send(ctx, identity.JID(to), text, nil); err != nil {
		return fmt.Errorf("relay send: %w", err)
	}
	return nil
}

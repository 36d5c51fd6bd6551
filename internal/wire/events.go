package wire

import "github.com/dixelmedia/wabridge/internal/identity"

// Connection phases reported by the protocol layer.
const (
	ConnectionConnecting = "connecting"
	ConnectionOpen       = "open"
	ConnectionClose      = "close"
)

// Disconnect reasons. ReasonLoggedOut is terminal: the session requires
// external re-authentication and must not be retried automatically.
const (
	ReasonLoggedOut      = "logged_out"
	ReasonConnectionLost = "connection_lost"
	ReasonDialFailed     = "dial_failed"
)

// ConnectionUpdate is a connection-state change event from the protocol
// layer.
type ConnectionUpdate struct {
	Connection       string `json:"connection"`
	DisconnectReason string `json:"reason,omitempty"`
	PairingChallenge string `json:"pairing_code,omitempty"` // QR/pairing payload to surface to the operator
}

// Batch kinds. Only notify and append batches are classified; other kinds
// (history sync, status) are ignored.
const (
	BatchNotify = "notify"
	BatchAppend = "append"
)

// MessageBatch is a message-upsert event from the protocol layer. Messages
// are handled sequentially in arrival order: later messages in a batch may
// be replies to earlier ones.
type MessageBatch struct {
	Kind     string           `json:"kind"`
	Messages []InboundMessage `json:"messages"`
}

// Processable reports whether this batch kind participates in
// classification.
func (b MessageBatch) Processable() bool {
	return b.Kind == BatchNotify || b.Kind == BatchAppend
}

// InboundMessage is a single received message. Immutable once received;
// produced by the protocol layer and consumed once by the classifier.
type InboundMessage struct {
	OriginID string       `json:"id"`        // protocol message id, used to quote the original in the ack
	ChatID   identity.JID `json:"chat"`      // chat the message arrived in
	Sender   identity.JID `json:"sender"`    // speaking participant (may be empty outside groups)
	IsGroup  bool         `json:"is_group"`  // group-style chat
	FromSelf bool         `json:"from_self"` // sent by the session's own account
	Message  *Payload     `json:"message"`   // raw payload tree; nil for content-less events
}

// SendOptions carries optional outbound send parameters.
type SendOptions struct {
	// QuotedID references the original message the send replies to.
	QuotedID string `json:"quoted_id,omitempty"`
	// QuotedSender is the participant who sent the quoted message.
	QuotedSender identity.JID `json:"quoted_sender,omitempty"`
}

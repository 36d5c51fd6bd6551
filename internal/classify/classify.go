// Package classify decides whether an inbound message is something the
// bridge must act on: a group message explicitly addressed to the session's
// own account.
package classify

import (
	"github.com/dixelmedia/wabridge/internal/identity"
	"github.com/dixelmedia/wabridge/internal/wire"
)

// Event is the normalized result of inbound processing, ready for
// downstream forwarding. Derived, never persisted: created, forwarded and
// discarded within one handling cycle.
type Event struct {
	ChatID          identity.JID
	Participant     identity.JID
	Text            string
	AddressedToSelf bool
}

// Classify applies the skip policy in order and returns the classified
// event with ok=true when the message must be forwarded:
//
//  1. skip content-less and self-sent messages
//  2. skip direct (non-group) chats
//  3. skip unless a collected mention resolves to a self identity
//
// Mention matching ignores device-instance suffixes, so a mention of the
// bare user form matches a device-scoped self identity. The participant
// falls back to the chat id when the protocol supplies none.
func Classify(msg wire.InboundMessage, selves *identity.Set) (Event, bool) {
	if msg.Message == nil || msg.FromSelf {
		return Event{}, false
	}
	if !msg.IsGroup {
		return Event{}, false
	}

	addressed := false
	for _, mention := range msg.Message.Mentions() {
		if selves.MatchesUser(mention) {
			addressed = true
			break
		}
	}
	if !addressed {
		return Event{}, false
	}

	participant := msg.Sender
	if participant == "" {
		participant = msg.ChatID
	}

	return Event{
		ChatID:          msg.ChatID,
		Participant:     participant,
		Text:            msg.Message.Text(),
		AddressedToSelf: true,
	}, true
}

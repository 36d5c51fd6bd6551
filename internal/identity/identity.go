// Package identity normalizes WhatsApp-style addresses (JIDs) and tracks the
// set of address forms that refer to the running session's own account.
package identity

import "strings"

const (
	// DefaultUserServer is the server part for user-scoped JIDs.
	DefaultUserServer = "s.whatsapp.net"

	// GroupServer is the server part for group-scoped JIDs.
	GroupServer = "g.us"
)

// JID is a protocol-level address like "15551234567:3@s.whatsapp.net" or
// "120363041234567890@g.us". The optional ":N" suffix in the user part
// identifies a device session and is irrelevant for same-user comparison.
type JID string

// User returns the user part without any device suffix.
func (j JID) User() string {
	s := string(j)
	if at := strings.IndexByte(s, '@'); at >= 0 {
		s = s[:at]
	}
	if colon := strings.IndexByte(s, ':'); colon >= 0 {
		s = s[:colon]
	}
	return s
}

// Server returns the server part, lowercased. Empty if no separator present.
// Device suffixes appear on either side of the separator depending on the
// protocol layer's version ("user:3@server" vs "user@server:3"); both are
// stripped.
func (j JID) Server() string {
	s := string(j)
	at := strings.IndexByte(s, '@')
	if at < 0 {
		return ""
	}
	s = s[at+1:]
	if colon := strings.IndexByte(s, ':'); colon >= 0 {
		s = s[:colon]
	}
	return strings.ToLower(s)
}

// IsGroup reports whether the JID addresses a group chat.
func (j JID) IsGroup() bool { return j.Server() == GroupServer }

// Normalize strips the device suffix and lowercases the server part,
// producing the canonical comparable form.
func (j JID) Normalize() JID {
	user := j.User()
	if user == "" {
		return ""
	}
	server := j.Server()
	if server == "" {
		return JID(user)
	}
	return JID(user + "@" + server)
}

// SameUser reports whether two JIDs refer to the same account, ignoring
// device-instance suffixes. JIDs without a server part compare by user only.
func SameUser(a, b JID) bool {
	if a.User() == "" || b.User() == "" {
		return false
	}
	if a.User() != b.User() {
		return false
	}
	as, bs := a.Server(), b.Server()
	if as == "" || bs == "" {
		return true
	}
	return as == bs
}

// SelfInfo is whatever identity information the protocol layer currently
// exposes. Fields may be empty before the connection is fully open; the
// linked alternate JID can appear only after the first handshake.
type SelfInfo struct {
	DeviceJID JID `json:"device_jid,omitempty"` // device-scoped, e.g. "555:3@s.whatsapp.net"
	UserJID   JID `json:"user_jid,omitempty"`   // bare user form
	LinkedJID JID `json:"linked_jid,omitempty"` // optional alternate linked id (e.g. LID)
}

// Set is an ordered, grow-only collection of the session's own normalized
// identities. It never shrinks during a session's lifetime: the protocol
// layer may surface new alternate forms after reconnect, and callers merge
// them in with Add/Merge.
type Set struct {
	ids []JID
}

// Add normalizes raw and inserts it unless empty or already present.
func (s *Set) Add(raw JID) {
	n := raw.Normalize()
	if n == "" {
		return
	}
	for _, existing := range s.ids {
		if existing == n {
			return
		}
	}
	s.ids = append(s.ids, n)
}

// Merge folds every known form from info into the set. Missing fields are
// tolerated, not errors.
func (s *Set) Merge(info SelfInfo) {
	s.Add(info.DeviceJID)
	s.Add(info.UserJID)
	s.Add(info.LinkedJID)
}

// MatchesUser reports whether raw refers to the same account as any member,
// under device-suffix-insensitive comparison.
func (s *Set) MatchesUser(raw JID) bool {
	n := raw.Normalize()
	for _, id := range s.ids {
		if SameUser(id, n) {
			return true
		}
	}
	return false
}

// Len returns the number of distinct identities known so far.
func (s *Set) Len() int { return len(s.ids) }

// All returns a copy of the normalized identities in insertion order.
func (s *Set) All() []JID {
	out := make([]JID, len(s.ids))
	copy(out, s.ids)
	return out
}

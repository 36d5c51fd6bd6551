package wire

import (
	"encoding/json"

	"github.com/dixelmedia/wabridge/internal/identity"
)

// maxMentionDepth bounds the recursive payload walk. Legitimate payloads
// nest a handful of levels (reply inside reply inside flow wrapper);
// anything deeper is malformed or adversarial and that branch is dropped
// silently rather than failing the whole collection.
const maxMentionDepth = 32

// Mentions walks the payload tree depth-first and collects every address
// reference found in contextInfo blocks, including those buried inside
// quoted sub-messages and unrecognized variants. Output is in traversal
// order; duplicates are preserved — callers deduplicate after
// normalization.
func (p *Payload) Mentions() []identity.JID {
	return p.collectMentions(0)
}

func (p *Payload) collectMentions(depth int) []identity.JID {
	if p == nil || depth >= maxMentionDepth {
		return nil
	}

	var out []identity.JID
	for _, ci := range p.contextInfos() {
		out = append(out, ci.MentionedJID...)
		out = append(out, ci.Quoted.collectMentions(depth+1)...)
	}

	// Unknown variants still get walked: the addressing signal may sit
	// under any message-type-specific key this build does not model.
	for _, raw := range p.Unknown {
		out = append(out, collectRawMentions(raw, depth+1)...)
	}
	return out
}

// rawContextInfo is the loosely-typed view of a contextInfo block found
// inside an unrecognized variant.
type rawContextInfo struct {
	MentionedJID []identity.JID  `json:"mentionedJid,omitempty"`
	Quoted       json.RawMessage `json:"quotedMessage,omitempty"`
}

// collectRawMentions descends into an arbitrary JSON value. Object nodes
// are checked for a contextInfo field first, then every nested object or
// array is visited regardless of key name.
func collectRawMentions(raw json.RawMessage, depth int) []identity.JID {
	if depth >= maxMentionDepth || len(raw) == 0 {
		return nil
	}

	switch raw[0] {
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil
		}

		var out []identity.JID
		if ciRaw, ok := obj["contextInfo"]; ok {
			var ci rawContextInfo
			if err := json.Unmarshal(ciRaw, &ci); err == nil {
				out = append(out, ci.MentionedJID...)
				// The quoted sub-message may itself hold known variants;
				// decode it as a Payload to reuse the typed walk.
				if len(ci.Quoted) > 0 {
					var quoted Payload
					if err := json.Unmarshal(ci.Quoted, &quoted); err == nil {
						out = append(out, quoted.collectMentions(depth+1)...)
					}
				}
			}
		}
		for key, val := range obj {
			if key == "contextInfo" {
				continue
			}
			out = append(out, collectRawMentions(val, depth+1)...)
		}
		return out

	case '[':
		var arr []json.RawMessage
		if err := json.Unmarshal(raw, &arr); err != nil {
			return nil
		}
		var out []identity.JID
		for _, item := range arr {
			out = append(out, collectRawMentions(item, depth+1)...)
		}
		return out
	}
	return nil
}

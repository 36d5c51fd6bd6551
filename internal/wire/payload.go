// Package wire models the message payloads and session events exchanged with
// the external protocol layer. Payload variants mirror the protocol's nested
// JSON shapes; unrecognized variants are preserved raw so traversal can still
// reach addressing metadata buried inside them.
package wire

import (
	"encoding/json"
	"slices"

	"github.com/dixelmedia/wabridge/internal/identity"
)

// ContextInfo carries addressing metadata attached to a message variant:
// the mention list and, for replies, the quoted original message.
type ContextInfo struct {
	MentionedJID []identity.JID `json:"mentionedJid,omitempty"`
	StanzaID     string         `json:"stanzaId,omitempty"`
	Participant  identity.JID   `json:"participant,omitempty"`
	Quoted       *Payload       `json:"quotedMessage,omitempty"`
}

// ExtendedText is a text message with formatting, links or a reply context.
type ExtendedText struct {
	Text        string       `json:"text"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// Media is the shared shape of image/video/document variants; only the
// caption and context are relevant here.
type Media struct {
	Caption     string       `json:"caption,omitempty"`
	ContextInfo *ContextInfo `json:"contextInfo,omitempty"`
}

// ButtonsResponse is the reply to a button template.
type ButtonsResponse struct {
	SelectedButtonID    string       `json:"selectedButtonId,omitempty"`
	SelectedDisplayText string       `json:"selectedDisplayText,omitempty"`
	ContextInfo         *ContextInfo `json:"contextInfo,omitempty"`
}

// ListResponse is the reply to a list menu.
type ListResponse struct {
	Title             string       `json:"title,omitempty"`
	SingleSelectReply *ListReply   `json:"singleSelectReply,omitempty"`
	ContextInfo       *ContextInfo `json:"contextInfo,omitempty"`
}

// ListReply holds the selected row of a list response.
type ListReply struct {
	SelectedRowID string `json:"selectedRowId"`
}

// TemplateButtonReply is the reply to a quick-reply template button.
type TemplateButtonReply struct {
	SelectedID          string       `json:"selectedId,omitempty"`
	SelectedDisplayText string       `json:"selectedDisplayText,omitempty"`
	ContextInfo         *ContextInfo `json:"contextInfo,omitempty"`
}

// InteractiveResponse is the reply to an interactive flow.
type InteractiveResponse struct {
	NativeFlowResponse *NativeFlowResponse `json:"nativeFlowResponseMessage,omitempty"`
	ContextInfo        *ContextInfo        `json:"contextInfo,omitempty"`
}

// NativeFlowResponse carries the flow's response parameters as a JSON string.
type NativeFlowResponse struct {
	ParamsJSON string `json:"paramsJson,omitempty"`
}

// Payload is the union of known message variants plus a raw fallback for
// everything else. Exactly which field is set depends on the message type;
// the protocol layer sends one variant key per message, but nothing enforces
// that, so all set variants are honored during traversal.
type Payload struct {
	Conversation        *string
	ExtendedText        *ExtendedText
	Image               *Media
	Video               *Media
	Document            *Media
	ButtonsResponse     *ButtonsResponse
	ListResponse        *ListResponse
	TemplateButtonReply *TemplateButtonReply
	InteractiveResponse *InteractiveResponse

	// Unknown holds variants this build does not model, keyed by their wire
	// name. Kept raw so mention traversal can still descend into them.
	Unknown map[string]json.RawMessage
}

// Variant keys as they appear on the wire.
const (
	keyConversation        = "conversation"
	keyExtendedText        = "extendedTextMessage"
	keyImage               = "imageMessage"
	keyVideo               = "videoMessage"
	keyDocument            = "documentMessage"
	keyButtonsResponse     = "buttonsResponseMessage"
	keyListResponse        = "listResponseMessage"
	keyTemplateButtonReply = "templateButtonReplyMessage"
	keyInteractiveResponse = "interactiveResponseMessage"
)

// UnmarshalJSON decodes known variant keys into their typed fields and
// collects everything else into Unknown.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	for key, val := range raw {
		var err error
		switch key {
		case keyConversation:
			err = json.Unmarshal(val, &p.Conversation)
		case keyExtendedText:
			err = json.Unmarshal(val, &p.ExtendedText)
		case keyImage:
			err = json.Unmarshal(val, &p.Image)
		case keyVideo:
			err = json.Unmarshal(val, &p.Video)
		case keyDocument:
			err = json.Unmarshal(val, &p.Document)
		case keyButtonsResponse:
			err = json.Unmarshal(val, &p.ButtonsResponse)
		case keyListResponse:
			err = json.Unmarshal(val, &p.ListResponse)
		case keyTemplateButtonReply:
			err = json.Unmarshal(val, &p.TemplateButtonReply)
		case keyInteractiveResponse:
			err = json.Unmarshal(val, &p.InteractiveResponse)
		default:
			if p.Unknown == nil {
				p.Unknown = make(map[string]json.RawMessage)
			}
			p.Unknown[key] = slices.Clone(val)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// MarshalJSON re-emits the variant keys. Used by tests and debug logging;
// the bridge never round-trips payloads back to the protocol layer.
func (p Payload) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, 1+len(p.Unknown))
	if p.Conversation != nil {
		out[keyConversation] = p.Conversation
	}
	if p.ExtendedText != nil {
		out[keyExtendedText] = p.ExtendedText
	}
	if p.Image != nil {
		out[keyImage] = p.Image
	}
	if p.Video != nil {
		out[keyVideo] = p.Video
	}
	if p.Document != nil {
		out[keyDocument] = p.Document
	}
	if p.ButtonsResponse != nil {
		out[keyButtonsResponse] = p.ButtonsResponse
	}
	if p.ListResponse != nil {
		out[keyListResponse] = p.ListResponse
	}
	if p.TemplateButtonReply != nil {
		out[keyTemplateButtonReply] = p.TemplateButtonReply
	}
	if p.InteractiveResponse != nil {
		out[keyInteractiveResponse] = p.InteractiveResponse
	}
	for key, val := range p.Unknown {
		out[key] = val
	}
	return json.Marshal(out)
}

// contextInfos returns the context blocks of every set known variant,
// in fallback-chain order.
func (p *Payload) contextInfos() []*ContextInfo {
	var infos []*ContextInfo
	add := func(ci *ContextInfo) {
		if ci != nil {
			infos = append(infos, ci)
		}
	}
	if p.ExtendedText != nil {
		add(p.ExtendedText.ContextInfo)
	}
	if p.Image != nil {
		add(p.Image.ContextInfo)
	}
	if p.Video != nil {
		add(p.Video.ContextInfo)
	}
	if p.Document != nil {
		add(p.Document.ContextInfo)
	}
	if p.ButtonsResponse != nil {
		add(p.ButtonsResponse.ContextInfo)
	}
	if p.ListResponse != nil {
		add(p.ListResponse.ContextInfo)
	}
	if p.TemplateButtonReply != nil {
		add(p.TemplateButtonReply.ContextInfo)
	}
	if p.InteractiveResponse != nil {
		add(p.InteractiveResponse.ContextInfo)
	}
	return infos
}

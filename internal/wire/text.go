package wire

// Text extracts a single display text from the payload by applying an
// ordered fallback chain over the known variants. The first non-empty match
// wins. Empty string is a valid result (e.g. pure media with no caption),
// not an error.
func (p *Payload) Text() string {
	if p == nil {
		return ""
	}
	if p.Conversation != nil && *p.Conversation != "" {
		return *p.Conversation
	}
	if p.ExtendedText != nil && p.ExtendedText.Text != "" {
		return p.ExtendedText.Text
	}
	for _, m := range []*Media{p.Image, p.Video, p.Document} {
		if m != nil && m.Caption != "" {
			return m.Caption
		}
	}
	if p.ButtonsResponse != nil && p.ButtonsResponse.SelectedDisplayText != "" {
		return p.ButtonsResponse.SelectedDisplayText
	}
	if p.ListResponse != nil {
		if r := p.ListResponse.SingleSelectReply; r != nil && r.SelectedRowID != "" {
			return r.SelectedRowID
		}
		if p.ListResponse.Title != "" {
			return p.ListResponse.Title
		}
	}
	if p.TemplateButtonReply != nil && p.TemplateButtonReply.SelectedDisplayText != "" {
		return p.TemplateButtonReply.SelectedDisplayText
	}
	if p.InteractiveResponse != nil {
		if r := p.InteractiveResponse.NativeFlowResponse; r != nil && r.ParamsJSON != "" {
			return r.ParamsJSON
		}
	}
	return ""
}

package llmadapter

// flattenMessages walks a generic messages array (as decoded from JSON or
// built directly as []any of map[string]any) into canonical messages. A
// message's content may be a plain string or a list of content blocks
// (Anthropic and the OpenAI Responses API both allow this).
func flattenMessages(raw any) []FormattedMessage {
	items, _ := raw.([]any)
	out := make([]FormattedMessage, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		if role == "" {
			role = "user"
		}
		out = append(out, flattenContentBlocks(role, m["content"])...)
	}
	return out
}

// flattenContentBlocks turns one message's content (string, or a list of
// {type, text|thinking} blocks) into one FormattedMessage per text-bearing
// block. Non-text blocks (tool_use, tool_result, image, redacted_thinking)
// are dropped — they carry nothing the recall/summarization path can use.
func flattenContentBlocks(role string, content any) []FormattedMessage {
	switch c := content.(type) {
	case string:
		if c == "" {
			return nil
		}
		return []FormattedMessage{{Role: role, Text: c, Type: "text"}}
	case []any:
		var out []FormattedMessage
		for _, b := range c {
			block, ok := b.(map[string]any)
			if !ok {
				continue
			}
			switch block["type"] {
			case "thinking":
				if t, ok := block["thinking"].(string); ok && t != "" {
					out = append(out, FormattedMessage{Role: role, Text: t, Type: "thinking"})
				}
			case "text", "":
				if t, ok := block["text"].(string); ok && t != "" {
					out = append(out, FormattedMessage{Role: role, Text: t, Type: "text"})
				}
			}
		}
		return out
	default:
		return nil
	}
}

package llmadapter

// FormatAnthropicQuery implements get_formatted_query for the Anthropic
// Messages API shape: an optional top-level system string, followed by
// the messages array.
func FormatAnthropicQuery(payload map[string]any) []FormattedMessage {
	messages := StripInjected(payload, flattenMessages(payload["messages"]))

	var out []FormattedMessage
	if sys, ok := payload["system"].(string); ok && sys != "" {
		out = append(out, FormattedMessage{Role: "system", Text: sys, Type: "text"})
	}
	return append(out, messages...)
}

// FormatAnthropicResponse implements get_formatted_response for one
// Anthropic Message result: role defaults to "assistant", content is a
// list of blocks.
func FormatAnthropicResponse(payload map[string]any) []FormattedMessage {
	role, _ := payload["role"].(string)
	if role == "" {
		role = "assistant"
	}
	return flattenContentBlocks(role, payload["content"])
}

func init() {
	Default.Register(Adapter{
		Name:           "anthropic",
		FormatQuery:    FormatAnthropicQuery,
		FormatResponse: FormatAnthropicResponse,
	})
}

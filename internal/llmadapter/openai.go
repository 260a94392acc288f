package llmadapter

// FormatOpenAIQuery implements get_formatted_query for the OpenAI
// Chat Completions / Responses shape: a plain messages array with an
// optional leading system message, no separate top-level system field.
func FormatOpenAIQuery(payload map[string]any) []FormattedMessage {
	out := flattenMessages(payload["messages"])
	return StripInjected(payload, out)
}

// FormatOpenAIResponse implements get_formatted_response for one
// completion choice's message: {role, content}.
func FormatOpenAIResponse(payload map[string]any) []FormattedMessage {
	role, _ := payload["role"].(string)
	if role == "" {
		role = "assistant"
	}
	return flattenContentBlocks(role, payload["content"])
}

func init() {
	Default.Register(Adapter{
		Name:           "openai",
		FormatQuery:    FormatOpenAIQuery,
		FormatResponse: FormatOpenAIResponse,
	})
}

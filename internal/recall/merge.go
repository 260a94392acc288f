package recall

import "strings"

// Inject folds addendum into payload's outbound kwargs following the
// provider-family rules: Anthropic-shaped payloads carry a top-level
// "system" string; OpenAI-shaped payloads carry a "messages" array with
// an optional leading system message. payload is mutated in place and
// also returned for chaining. An empty addendum is a no-op.
func Inject(payload map[string]any, addendum string) map[string]any {
	if addendum == "" || payload == nil {
		return payload
	}

	if sys, ok := payload["system"]; ok {
		if s, ok := sys.(string); ok {
			payload["system"] = strings.TrimRight(s, "\n") + "\n\n" + addendum
			return payload
		}
	}

	messages, _ := payload["messages"].([]any)
	if len(messages) > 0 {
		if first, ok := messages[0].(map[string]any); ok && first["role"] == "system" {
			if content, ok := first["content"].(string); ok {
				first["content"] = strings.TrimRight(content, "\n") + "\n\n" + addendum
				return payload
			}
		}
	}

	newSystem := map[string]any{
		"role":    "system",
		"content": strings.TrimLeft(addendum, "\n"),
	}
	payload["messages"] = append([]any{newSystem}, messages...)
	return payload
}

// LastUserMessage finds the most recent role=user message's text content
// in an OpenAI-shaped messages array, returning "" if there is none.
func LastUserMessage(payload map[string]any) string {
	messages, _ := payload["messages"].([]any)
	for i := len(messages) - 1; i >= 0; i-- {
		m, ok := messages[i].(map[string]any)
		if !ok || m["role"] != "user" {
			continue
		}
		switch content := m["content"].(type) {
		case string:
			return content
		case []any:
			var b strings.Builder
			for _, block := range content {
				bm, ok := block.(map[string]any)
				if !ok {
					continue
				}
				if text, ok := bm["text"].(string); ok {
					b.WriteString(text)
				}
			}
			return b.String()
		}
	}
	return ""
}

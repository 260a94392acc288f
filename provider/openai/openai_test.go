package openai

import (
	"testing"

	openaisdk "github.com/openai/openai-go/v2"

	"github.com/memori-go/memori/internal/interceptor"
)

func TestRegisterIsIdempotentPerClient(t *testing.T) {
	client := &openaisdk.Client{}
	it := &interceptor.Interceptor{}

	w1 := Register(client, it)
	w2 := Register(client, it)
	if w1 != w2 {
		t.Fatal("expected a second Register on the same client to return the existing wrapper")
	}

	other := &openaisdk.Client{}
	w3 := Register(other, it)
	if w3 == w1 {
		t.Fatal("expected a different client to get its own wrapper")
	}
}

func TestParamsToKwargsFlattensMessages(t *testing.T) {
	params := openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel("gpt-4o"),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage("be helpful"),
			openaisdk.UserMessage("hello"),
		},
	}

	kwargs := paramsToKwargs(params)
	messages, ok := kwargs["messages"].([]any)
	if !ok || len(messages) != 2 {
		t.Fatalf("expected 2 flattened messages, got %+v", kwargs["messages"])
	}
	sysMsg := messages[0].(map[string]any)
	if sysMsg["role"] != "system" || sysMsg["content"] != "be helpful" {
		t.Fatalf("unexpected system message: %+v", sysMsg)
	}
	userMsg := messages[1].(map[string]any)
	if userMsg["role"] != "user" || userMsg["content"] != "hello" {
		t.Fatalf("unexpected user message: %+v", userMsg)
	}
}

func TestKwargsToParamsRebuildsMessagesIncludingInjectedSystemEntries(t *testing.T) {
	base := openaisdk.ChatCompletionNewParams{Model: openaisdk.ChatModel("gpt-4o")}
	kwargs := map[string]any{
		"messages": []any{
			map[string]any{"role": "system", "content": "be helpful\n\n<memori_context>\n- likes tea\n</memori_context>"},
			map[string]any{"role": "user", "content": "hi"},
			map[string]any{"role": "assistant", "content": "hello"},
		},
	}

	out := kwargsToParams(base, kwargs)
	if len(out.Messages) != 3 {
		t.Fatalf("expected 3 rebuilt messages, got %d", len(out.Messages))
	}
	if out.Messages[0].OfSystem == nil {
		t.Fatal("expected the first rebuilt message to be a system message")
	}
}

func TestCompletionToMapHandlesEmptyChoices(t *testing.T) {
	got := completionToMap(nil)
	if got["role"] != "assistant" || got["content"] != "" {
		t.Fatalf("expected a safe empty-assistant fallback, got %+v", got)
	}

	got = completionToMap(&openaisdk.ChatCompletion{})
	if got["content"] != "" {
		t.Fatalf("expected empty content for a response with no choices, got %+v", got)
	}
}

// Package anthropic wires an *anthropic.Client into the memory pipeline:
// Register builds a WrappedClient whose CreateMessage method runs every
// call through the interceptor before delegating to the real SDK.
//
// The source this was ported from monkey-patches the provider SDK's
// client object in place (duck-typed hasattr probes, method
// replacement). Go has no equivalent for a generated client struct whose
// methods aren't fields — spec.md's own design notes call this out
// (§9, "Replacing dynamic dispatch over SDKs") and prescribe a typed
// Client variant with its own constructor instead. Register here returns
// that wrapper; callers use it in place of the client's own
// Messages.New.
package anthropic

import (
	"context"
	"fmt"
	"sync"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/memori-go/memori/internal/interceptor"
)

// installed tracks which *anthropicsdk.Client pointers already have a
// WrappedClient, so a second Register call on the same client returns the
// existing wrapper instead of building a second one — the Go equivalent
// of the source's `_memori_installed` idempotency flag (spec.md §6, §8).
var (
	mu        sync.Mutex
	installed = map[*anthropicsdk.Client]*WrappedClient{}
)

// WrappedClient wraps one *anthropicsdk.Client's Messages.New so every
// call flows through recall injection, history injection, persistence,
// and augmentation.
type WrappedClient struct {
	sdk *anthropicsdk.Client
	it  *interceptor.Interceptor
}

// Register wraps client in place of direct SDK use. Calling Register
// twice on the same client is a no-op: it returns the wrapper built on
// the first call.
func Register(client *anthropicsdk.Client, it *interceptor.Interceptor) *WrappedClient {
	mu.Lock()
	defer mu.Unlock()
	if w, ok := installed[client]; ok {
		return w
	}
	w := &WrappedClient{sdk: client, it: it}
	installed[client] = w
	return w
}

// CreateMessage runs the full memory pipeline around client.Messages.New:
// recall injection, prior-turn injection, the real call, then persistence
// and augmentation enqueue.
func (w *WrappedClient) CreateMessage(ctx context.Context, params anthropicsdk.MessageNewParams) (*anthropicsdk.Message, error) {
	kwargs := paramsToKwargs(params)

	var resp *anthropicsdk.Message
	_, err := w.it.Invoke(ctx, kwargs, func(kwargs map[string]any) (map[string]any, error) {
		augmented := kwargsToParams(params, kwargs)
		r, err := w.sdk.Messages.New(ctx, augmented)
		if err != nil {
			return nil, fmt.Errorf("anthropic: create message: %w", err)
		}
		resp = r
		return messageToMap(r), nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func paramsToKwargs(params anthropicsdk.MessageNewParams) map[string]any {
	messages := make([]any, 0, len(params.Messages))
	for _, m := range params.Messages {
		messages = append(messages, map[string]any{
			"role":    string(m.Role),
			"content": blocksToText(m.Content),
		})
	}
	return map[string]any{
		"model":      string(params.Model),
		"system":     systemToText(params.System),
		"messages":   messages,
		"max_tokens": params.MaxTokens,
	}
}

// kwargsToParams rebuilds real SDK params from the (possibly
// recall/history-augmented) generic kwargs map, keeping everything else
// from the original call (model, max_tokens) unchanged.
func kwargsToParams(base anthropicsdk.MessageNewParams, kwargs map[string]any) anthropicsdk.MessageNewParams {
	out := base

	if sys, _ := kwargs["system"].(string); sys != "" {
		out.System = []anthropicsdk.TextBlockParam{{Text: sys}}
	}

	rawMessages, _ := kwargs["messages"].([]any)
	msgs := make([]anthropicsdk.MessageParam, 0, len(rawMessages))
	for _, rm := range rawMessages {
		m, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		text, _ := m["content"].(string)
		block := anthropicsdk.NewTextBlock(text)
		switch role {
		case "assistant":
			msgs = append(msgs, anthropicsdk.NewAssistantMessage(block))
		default:
			msgs = append(msgs, anthropicsdk.NewUserMessage(block))
		}
	}
	out.Messages = msgs
	return out
}

func systemToText(system []anthropicsdk.TextBlockParam) string {
	var out string
	for i, b := range system {
		if i > 0 {
			out += "\n\n"
		}
		out += b.Text
	}
	return out
}

func blocksToText(blocks []anthropicsdk.ContentBlockParamUnion) string {
	var out string
	for _, b := range blocks {
		if b.OfText != nil {
			out += b.OfText.Text
		}
	}
	return out
}

// messageToMap converts the SDK's response Message into the generic
// {role, content:[{type,text}]} shape the adapter registry expects.
func messageToMap(msg *anthropicsdk.Message) map[string]any {
	if msg == nil {
		return map[string]any{"role": "assistant"}
	}
	blocks := make([]any, 0, len(msg.Content))
	for _, b := range msg.Content {
		switch v := b.AsAny().(type) {
		case anthropicsdk.TextBlock:
			blocks = append(blocks, map[string]any{"type": "text", "text": v.Text})
		case anthropicsdk.ThinkingBlock:
			blocks = append(blocks, map[string]any{"type": "thinking", "thinking": v.Thinking})
		}
	}
	return map[string]any{
		"role":    string(msg.Role),
		"content": blocks,
	}
}

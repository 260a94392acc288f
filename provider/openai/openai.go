// Package openai wires an *openai.Client into the memory pipeline: Register
// builds a WrappedClient whose CreateChatCompletion method runs every call
// through the interceptor before delegating to the real SDK.
//
// See provider/anthropic for why this is a wrapper type rather than an
// in-place method patch (openai-go/v2's Client.Chat.Completions is a
// generated service struct, not a replaceable function field).
package openai

import (
	"context"
	"fmt"
	"sync"

	openaisdk "github.com/openai/openai-go/v2"

	"github.com/memori-go/memori/internal/interceptor"
)

var (
	mu        sync.Mutex
	installed = map[*openaisdk.Client]*WrappedClient{}
)

// WrappedClient wraps one *openai.Client's Chat.Completions.New so every
// call flows through recall injection, history injection, persistence, and
// augmentation.
type WrappedClient struct {
	sdk *openaisdk.Client
	it  *interceptor.Interceptor
}

// Register wraps client in place of direct SDK use. Calling Register twice
// on the same client is a no-op: it returns the wrapper built on the first
// call.
func Register(client *openaisdk.Client, it *interceptor.Interceptor) *WrappedClient {
	mu.Lock()
	defer mu.Unlock()
	if w, ok := installed[client]; ok {
		return w
	}
	w := &WrappedClient{sdk: client, it: it}
	installed[client] = w
	return w
}

// CreateChatCompletion runs the full memory pipeline around
// client.Chat.Completions.New.
func (w *WrappedClient) CreateChatCompletion(ctx context.Context, params openaisdk.ChatCompletionNewParams) (*openaisdk.ChatCompletion, error) {
	kwargs := paramsToKwargs(params)

	var resp *openaisdk.ChatCompletion
	_, err := w.it.Invoke(ctx, kwargs, func(kwargs map[string]any) (map[string]any, error) {
		augmented := kwargsToParams(params, kwargs)
		r, err := w.sdk.Chat.Completions.New(ctx, augmented)
		if err != nil {
			return nil, fmt.Errorf("openai: create chat completion: %w", err)
		}
		resp = r
		return completionToMap(r), nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// CreateChatCompletionStream runs the pipeline around a streaming call.
// next is pulled (via the caller's own loop over the SDK's ssestream.Stream)
// until it signals exhaustion by returning a nil chunk and nil error.
func (w *WrappedClient) CreateChatCompletionStream(
	ctx context.Context,
	params openaisdk.ChatCompletionNewParams,
	startStream func(openaisdk.ChatCompletionNewParams) error,
	next func() (map[string]any, error),
) (map[string]any, error) {
	kwargs := paramsToKwargs(params)
	kwargs["stream"] = true

	return w.it.InvokeStream(ctx, kwargs, func(kwargs map[string]any) (map[string]any, error) {
		augmented := kwargsToParams(params, kwargs)
		if err := startStream(augmented); err != nil {
			return nil, fmt.Errorf("openai: start chat completion stream: %w", err)
		}
		return nil, nil
	}, next)
}

func paramsToKwargs(params openaisdk.ChatCompletionNewParams) map[string]any {
	messages := make([]any, 0, len(params.Messages))
	for _, m := range params.Messages {
		role, text := messageRoleText(m)
		messages = append(messages, map[string]any{"role": role, "content": text})
	}
	return map[string]any{
		"model":    string(params.Model),
		"messages": messages,
	}
}

// kwargsToParams rebuilds real SDK params from the (possibly augmented)
// generic kwargs map. The spec's "system message at messages[0]" shape for
// OpenAI-family providers means recall/history injection shows up as
// ordinary entries in kwargs["messages"], so every entry — including any
// role "system" ones — round-trips through the generic union constructors.
func kwargsToParams(base openaisdk.ChatCompletionNewParams, kwargs map[string]any) openaisdk.ChatCompletionNewParams {
	out := base

	rawMessages, _ := kwargs["messages"].([]any)
	msgs := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(rawMessages))
	for _, rm := range rawMessages {
		m, ok := rm.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)
		text, _ := m["content"].(string)
		switch role {
		case "system":
			msgs = append(msgs, openaisdk.SystemMessage(text))
		case "assistant":
			msgs = append(msgs, openaisdk.AssistantMessage(text))
		default:
			msgs = append(msgs, openaisdk.UserMessage(text))
		}
	}
	out.Messages = msgs
	return out
}

func messageRoleText(m openaisdk.ChatCompletionMessageParamUnion) (role, text string) {
	switch {
	case m.OfSystem != nil:
		return "system", m.OfSystem.Content.OfString.Value
	case m.OfUser != nil:
		return "user", m.OfUser.Content.OfString.Value
	case m.OfAssistant != nil:
		return "assistant", m.OfAssistant.Content.OfString.Value
	default:
		return "user", ""
	}
}

// completionToMap converts the SDK's response into the generic
// {role, content} shape the adapter registry expects.
func completionToMap(resp *openaisdk.ChatCompletion) map[string]any {
	if resp == nil || len(resp.Choices) == 0 {
		return map[string]any{"role": "assistant", "content": ""}
	}
	msg := resp.Choices[0].Message
	return map[string]any{
		"role":    "assistant",
		"content": msg.Content,
	}
}

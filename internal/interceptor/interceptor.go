// Package interceptor implements the Invoke wrapper: the pipeline that
// turns one call to a provider method into recall injection, prior-turn
// injection, the underlying call, transactional persistence, and
// augmentation enqueue.
package interceptor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/memori-go/memori/internal/augment"
	"github.com/memori-go/memori/internal/llmadapter"
	"github.com/memori-go/memori/internal/logging"
	"github.com/memori-go/memori/internal/recall"
	"github.com/memori-go/memori/internal/session"
	"github.com/memori-go/memori/internal/storage"
)

// ProviderInterceptError signals that a provider payload could not be
// turned into anything persistable: either no adapter is registered for
// the provider, or the adapter's formatters yielded nothing at all once
// the injected prefix was stripped off. The pipeline refuses to persist
// data it cannot make sense of (spec.md §7) rather than writing an empty
// exchange.
type ProviderInterceptError struct {
	Provider string
	Reason   string
}

func (e *ProviderInterceptError) Error() string {
	return fmt.Sprintf("interceptor: cannot intercept provider %q: %s", e.Provider, e.Reason)
}

// AttributionSource is the narrow slice of the owning Handle the
// interceptor reads on every call — the configured entity/process
// external ids and the current session uuid, all of which can change
// between calls (NewSession, SetSession, Attribution).
type AttributionSource interface {
	Attribution() (entityExternalID, processExternalID string)
	SessionUUID() string
}

// Call invokes the underlying provider method with the (possibly
// augmented) kwargs and returns its raw response payload.
type Call func(kwargs map[string]any) (map[string]any, error)

// Interceptor wraps one provider method, running the full pipeline
// described in spec.md §4.9 around a caller-supplied Call.
type Interceptor struct {
	Provider        string // adapter registry key, e.g. "anthropic"
	ProviderVersion string

	Driver  storage.Driver
	Adapter storage.Adapter
	Cache   *session.Cache
	Writer  *session.Writer
	Recall  *recall.Engine
	Registry *llmadapter.Registry
	AugPool *augment.Pool

	SessionTimeoutMinutes int
	Attribution           AttributionSource

	Now func() time.Time
}

func (i *Interceptor) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

// Invoke runs the full synchronous pipeline around one non-streaming
// call.
func (i *Interceptor) Invoke(ctx context.Context, kwargs map[string]any, call Call) (map[string]any, error) {
	start := i.now()

	kwargs = configureStreamingUsage(kwargs)
	kwargs = i.injectRecalledFacts(ctx, kwargs)
	injectedCount := i.injectConversationMessages(kwargs)
	kwargs["_memori_injected_count"] = injectedCount

	response, err := call(kwargs)
	if err != nil {
		return response, err
	}
	logging.Debug("interceptor", "%s call took %s", i.Provider, i.now().Sub(start))

	if perr := i.persistAndAugment(kwargs, response); perr != nil {
		return response, perr
	}
	return response, nil
}

// InvokeStream runs the pipeline around a streaming call: chunks is
// pulled from the caller until it is exhausted (nil, io.EOF-equivalent
// signaled by the caller returning a nil chunk and nil error), merged via
// the provider's deep-merge accumulator, and only then persisted.
func (i *Interceptor) InvokeStream(ctx context.Context, kwargs map[string]any, call Call, next func() (map[string]any, error)) (map[string]any, error) {
	start := i.now()

	kwargs = configureStreamingUsage(kwargs)
	kwargs = i.injectRecalledFacts(ctx, kwargs)
	injectedCount := i.injectConversationMessages(kwargs)
	kwargs["_memori_injected_count"] = injectedCount

	if _, err := call(kwargs); err != nil {
		return nil, err
	}

	var acc map[string]any
	for {
		chunk, err := next()
		if err != nil {
			return acc, err
		}
		if chunk == nil {
			break
		}
		acc = llmadapter.MergeChunk(acc, chunk)
	}

	logging.Debug("interceptor", "%s stream took %s", i.Provider, i.now().Sub(start))
	if perr := i.persistAndAugment(kwargs, acc); perr != nil {
		return acc, perr
	}
	return acc, nil
}

// configureStreamingUsage forces stream_options.include_usage=true for
// OpenAI-family streaming calls, so the usage block is present on the
// final chunk.
func configureStreamingUsage(kwargs map[string]any) map[string]any {
	stream, _ := kwargs["stream"].(bool)
	if !stream {
		return kwargs
	}
	opts, _ := kwargs["stream_options"].(map[string]any)
	if opts == nil {
		opts = map[string]any{}
	}
	opts["include_usage"] = true
	kwargs["stream_options"] = opts
	return kwargs
}

// injectRecalledFacts folds relevant facts about the configured entity
// into the outbound payload. Any failure here (no entity configured,
// storage unavailable, nothing relevant) degrades to "inject nothing"
// rather than failing the call — recall is best-effort by design.
func (i *Interceptor) injectRecalledFacts(ctx context.Context, kwargs map[string]any) map[string]any {
	entityExternalID, _ := i.Attribution.Attribution()
	if entityExternalID == "" || i.Recall == nil {
		return kwargs
	}

	entityID, err := i.ensureEntityID(entityExternalID)
	if err != nil {
		logging.Debug("interceptor", "recall: could not resolve entity: %v", err)
		return kwargs
	}

	query := recall.LastUserMessage(kwargs)
	if query == "" {
		return kwargs
	}

	facts, err := i.Recall.SearchFacts(ctx, query, entityID)
	if err != nil {
		logging.Debug("interceptor", "recall: search failed: %v", err)
		return kwargs
	}
	addendum := recall.Addendum(facts)
	return recall.Inject(kwargs, addendum)
}

func (i *Interceptor) ensureEntityID(entityExternalID string) (int64, error) {
	if i.Cache.EntityID != nil {
		return *i.Cache.EntityID, nil
	}
	id, err := i.Driver.EntityCreate(entityExternalID)
	if err != nil {
		return 0, err
	}
	i.Cache.EntityID = &id
	return id, nil
}

// injectConversationMessages prepends the conversation's prior turns
// (provider-shaped) ahead of the caller's own messages, returning the
// number of messages it prepended so the adapter can strip them back off
// before persistence. It re-resolves the conversation id through the same
// rollover check the writer uses rather than trusting the cached id
// as-is, so a timed-out conversation rolls over here too — otherwise a
// stale cached id would inject turns from a conversation the writer is
// about to abandon.
func (i *Interceptor) injectConversationMessages(kwargs map[string]any) int {
	if i.Cache.SessionID == nil {
		return 0
	}
	convID, err := i.Driver.ConversationCreate(*i.Cache.SessionID, i.SessionTimeoutMinutes)
	if err != nil {
		logging.Debug("interceptor", "history injection: could not resolve conversation: %v", err)
		return 0
	}
	i.Cache.ConversationID = &convID

	rows, err := i.Driver.ConversationMessagesRead(convID)
	if err != nil {
		logging.Debug("interceptor", "history injection: could not read prior messages: %v", err)
		return 0
	}
	if len(rows) == 0 {
		return 0
	}

	prior := make([]any, 0, len(rows))
	for _, r := range rows {
		prior = append(prior, map[string]any{"role": r.Role, "content": r.Content})
	}

	messages, _ := kwargs["messages"].([]any)
	kwargs["messages"] = append(prior, messages...)
	return len(rows)
}

// persistAndAugment runs the write transaction and, on success, enqueues
// an augmentation task for the same exchange.
func (i *Interceptor) persistAndAugment(kwargs, response map[string]any) error {
	adapter, ok := i.Registry.Get(i.Provider)
	if !ok {
		return &ProviderInterceptError{Provider: i.Provider, Reason: "no llm adapter registered"}
	}

	queryFormatted := adapter.FormatQuery(kwargs)
	responseFormatted := adapter.FormatResponse(response)
	if len(queryFormatted) == 0 && len(responseFormatted) == 0 {
		return &ProviderInterceptError{Provider: i.Provider, Reason: "payload yielded no persistable messages after stripping the injected prefix"}
	}

	entityExternalID, processExternalID := i.Attribution.Attribution()
	exchange := session.Exchange{
		EntityExternalID:      entityExternalID,
		ProcessExternalID:     processExternalID,
		SessionUUID:           i.Attribution.SessionUUID(),
		SessionTimeoutMinutes: i.SessionTimeoutMinutes,
		QueryMessages:         toSessionMessages(queryFormatted),
		ResponseMessages:      toSessionMessages(responseFormatted),
	}

	conversationID, err := i.Writer.Execute(exchange)
	if err != nil {
		return fmt.Errorf("interceptor: persist exchange: %w", err)
	}

	if i.AugPool == nil {
		return nil
	}

	systemPrompt := ""
	for _, m := range queryFormatted {
		if m.Role == "system" {
			systemPrompt = stripMemoriContext(m.Text)
			break
		}
	}

	input := augment.Input{
		EntityID:        i.Cache.EntityID,
		ProcessID:       i.Cache.ProcessID,
		ConversationID:  conversationID,
		Provider:        i.Provider,
		ProviderVersion: i.ProviderVersion,
		SystemPrompt:    systemPrompt,
		QueryMessages:   toAugmentMessages(queryFormatted),
		ResponseMessages: toAugmentMessages(responseFormatted),
		StorageDialect:  string(i.Driver.Dialect()),
	}
	if err := i.AugPool.Enqueue(input); err != nil {
		logging.Debug("interceptor", "augmentation enqueue declined: %v", err)
	}
	return nil
}

// stripMemoriContext drops the injected <memori_context> block from a
// system prompt before it is handed to augmentation, so the pipeline
// never learns from its own recall injections.
func stripMemoriContext(systemPrompt string) string {
	if idx := strings.Index(systemPrompt, "<memori_context>"); idx >= 0 {
		return strings.TrimRight(systemPrompt[:idx], "\n")
	}
	return systemPrompt
}

func toSessionMessages(in []llmadapter.FormattedMessage) []session.Message {
	out := make([]session.Message, len(in))
	for i, m := range in {
		typ := m.Type
		var typePtr *string
		if typ != "" && typ != "text" {
			typePtr = &typ
		}
		out[i] = session.Message{Role: m.Role, Type: typePtr, Content: m.Text}
	}
	return out
}

func toAugmentMessages(in []llmadapter.FormattedMessage) []augment.Message {
	out := make([]augment.Message, 0, len(in))
	for _, m := range in {
		if m.Role == "system" {
			continue
		}
		out = append(out, augment.Message{Role: m.Role, Text: m.Text})
	}
	return out
}

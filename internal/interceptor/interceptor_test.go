package interceptor

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/memori-go/memori/internal/augment"
	"github.com/memori-go/memori/internal/embedding"
	"github.com/memori-go/memori/internal/llmadapter"
	"github.com/memori-go/memori/internal/recall"
	"github.com/memori-go/memori/internal/session"
	"github.com/memori-go/memori/internal/storage"
)

type fakeAdapter struct{}

func (fakeAdapter) Exec(string, ...any) (sql.Result, error) { return nil, nil }
func (fakeAdapter) Query(string, ...any) (*sql.Rows, error) { return nil, nil }
func (fakeAdapter) QueryRow(string, ...any) *sql.Row        { return nil }
func (fakeAdapter) Commit() error                           { return nil }
func (fakeAdapter) Rollback() error                         { return nil }
func (fakeAdapter) Flush() error                             { return nil }
func (fakeAdapter) Close() error                              { return nil }
func (fakeAdapter) Dialect() storage.Dialect                  { return storage.DialectSQLite }

type fakeDriver struct {
	entityID int64

	// conversationID, when set, is what ConversationCreate returns —
	// standing in for the writer's own rollover decision. Zero means
	// "no rollover configured", falling back to the fixed id 4 most
	// tests rely on.
	conversationID int64

	conversationMessages []storage.ConversationMessage
	// conversationMessagesByID, when set, overrides conversationMessages
	// with per-conversation-id history, letting a test simulate a fresh
	// (post-rollover) conversation id that has no prior messages.
	conversationMessagesByID map[int64][]storage.ConversationMessage

	persisted []storage.ConversationMessage
}

func (d *fakeDriver) Dialect() storage.Dialect      { return storage.DialectSQLite }
func (d *fakeDriver) RequiresRollbackOnError() bool { return false }
func (d *fakeDriver) EntityCreate(string) (int64, error) {
	d.entityID = 1
	return 1, nil
}
func (d *fakeDriver) ProcessCreate(string) (int64, error)              { return 2, nil }
func (d *fakeDriver) SessionCreate(string, *int64, *int64) (int64, error) { return 3, nil }
func (d *fakeDriver) ConversationCreate(int64, int) (int64, error) {
	if d.conversationID != 0 {
		return d.conversationID, nil
	}
	return 4, nil
}
func (d *fakeDriver) ConversationReadSummary(int64) (string, error) { return "", nil }
func (d *fakeDriver) ConversationUpdateSummary(int64, string) error { return nil }
func (d *fakeDriver) ConversationMessageCreate(_ int64, role string, msgType *string, content string) error {
	d.persisted = append(d.persisted, storage.ConversationMessage{Role: role, Type: msgType, Content: content})
	return nil
}
func (d *fakeDriver) ConversationMessagesRead(id int64) ([]storage.ConversationMessage, error) {
	if d.conversationMessagesByID != nil {
		return d.conversationMessagesByID[id], nil
	}
	return d.conversationMessages, nil
}
func (d *fakeDriver) EntityFactCreate(int64, []storage.FactInput) error { return nil }
func (d *fakeDriver) EntityFactGetEmbeddings(int64, int) ([]storage.EmbeddingRow, error) {
	return nil, nil
}
func (d *fakeDriver) EntityFactGetByIDs([]int64) ([]storage.FactRow, error) { return nil, nil }
func (d *fakeDriver) KnowledgeGraphCreate(int64, []storage.Triple) error    { return nil }
func (d *fakeDriver) ProcessAttributeCreate(int64, []storage.FactInput) error {
	return nil
}
func (d *fakeDriver) SchemaVersionRead() (int, error) { return 0, nil }
func (d *fakeDriver) SchemaVersionCreate(int) error   { return nil }
func (d *fakeDriver) SchemaVersionDelete() error      { return nil }

type fakeAttribution struct {
	entity, process, sessionUUID string
}

func (a fakeAttribution) Attribution() (string, string) { return a.entity, a.process }
func (a fakeAttribution) SessionUUID() string           { return a.sessionUUID }

func newTestInterceptor(drv *fakeDriver, attr AttributionSource) *Interceptor {
	cache := &session.Cache{}
	return &Interceptor{
		Provider:              "anthropic",
		Driver:                drv,
		Adapter:               fakeAdapter{},
		Cache:                 cache,
		Writer:                session.NewWriter(drv, fakeAdapter{}, cache),
		Recall:                recall.NewEngine(drv, embedding.NewService()),
		Registry:              llmadapter.Default,
		SessionTimeoutMinutes: 30,
		Attribution:           attr,
	}
}

func TestInvokePersistsExchangeAndStripsInjectedHistory(t *testing.T) {
	drv := &fakeDriver{}
	it := newTestInterceptor(drv, fakeAttribution{entity: "user-1", sessionUUID: "sess-1"})

	kwargs := map[string]any{
		"model": "claude",
		"messages": []any{
			map[string]any{"role": "user", "content": "hello"},
		},
	}

	resp, err := it.Invoke(context.Background(), kwargs, func(kwargs map[string]any) (map[string]any, error) {
		return map[string]any{"role": "assistant", "content": []any{map[string]any{"type": "text", "text": "hi there"}}}, nil
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if resp["role"] != "assistant" {
		t.Fatalf("unexpected response: %+v", resp)
	}

	if len(drv.persisted) != 2 {
		t.Fatalf("expected 2 persisted messages (user + assistant), got %d: %+v", len(drv.persisted), drv.persisted)
	}
	if drv.persisted[0].Role != "user" || drv.persisted[0].Content != "hello" {
		t.Fatalf("unexpected first persisted message: %+v", drv.persisted[0])
	}
	if drv.persisted[1].Role != "assistant" || drv.persisted[1].Content != "hi there" {
		t.Fatalf("unexpected second persisted message: %+v", drv.persisted[1])
	}
}

func TestInjectConversationMessagesPrependsPriorTurnsAndStripsOnPersist(t *testing.T) {
	drv := &fakeDriver{
		conversationMessages: []storage.ConversationMessage{
			{ID: 1, Role: "user", Content: "hello"},
			{ID: 2, Role: "assistant", Content: "hi"},
		},
	}
	cache := &session.Cache{}
	sessionID := int64(3)
	cache.SessionID = &sessionID
	convID := int64(4)
	cache.ConversationID = &convID

	it := newTestInterceptor(drv, fakeAttribution{entity: "user-1", sessionUUID: "sess-1"})
	it.Cache = cache
	it.Writer = session.NewWriter(drv, fakeAdapter{}, cache)

	kwargs := map[string]any{
		"messages": []any{map[string]any{"role": "user", "content": "and again"}},
	}

	_, err := it.Invoke(context.Background(), kwargs, func(kwargs map[string]any) (map[string]any, error) {
		messages, _ := kwargs["messages"].([]any)
		if len(messages) != 3 {
			t.Fatalf("expected 3 outbound messages (2 prior + 1 new), got %d: %+v", len(messages), messages)
		}
		return map[string]any{"role": "assistant", "content": []any{map[string]any{"type": "text", "text": "ok"}}}, nil
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}

	// Only the caller's own new message plus the response should be
	// persisted — the two injected prior turns are not re-persisted.
	if len(drv.persisted) != 2 {
		t.Fatalf("expected injected history stripped before persistence, got %d messages: %+v", len(drv.persisted), drv.persisted)
	}
	if drv.persisted[0].Content != "and again" {
		t.Fatalf("expected first persisted message to be the caller's new turn, got %+v", drv.persisted[0])
	}
}

// TestInjectConversationMessagesSkipsStaleHistoryAfterRollover covers
// scenario 3 (spec.md §8): injection must re-evaluate the rollover
// decision itself rather than trusting a cache.ConversationID populated
// by the previous exchange — otherwise it would inject turns from a
// conversation the writer is about to abandon.
func TestInjectConversationMessagesSkipsStaleHistoryAfterRollover(t *testing.T) {
	drv := &fakeDriver{
		conversationID: 5, // the writer would create a new conversation here, post-timeout
		conversationMessagesByID: map[int64][]storage.ConversationMessage{
			4: {{ID: 1, Role: "user", Content: "hello"}, {ID: 2, Role: "assistant", Content: "hi"}},
			5: nil,
		},
	}
	cache := &session.Cache{}
	sessionID := int64(3)
	cache.SessionID = &sessionID
	staleConvID := int64(4)
	cache.ConversationID = &staleConvID

	it := newTestInterceptor(drv, fakeAttribution{entity: "user-1", sessionUUID: "sess-1"})
	it.Cache = cache
	it.Writer = session.NewWriter(drv, fakeAdapter{}, cache)

	kwargs := map[string]any{
		"messages": []any{map[string]any{"role": "user", "content": "third turn"}},
	}
	_, err := it.Invoke(context.Background(), kwargs, func(kwargs map[string]any) (map[string]any, error) {
		messages, _ := kwargs["messages"].([]any)
		if len(messages) != 1 {
			t.Fatalf("expected no prior-history injection after rollover, got %d messages: %+v", len(messages), messages)
		}
		return map[string]any{"role": "assistant", "content": []any{map[string]any{"type": "text", "text": "ok"}}}, nil
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if cache.ConversationID == nil || *cache.ConversationID != 5 {
		t.Fatalf("expected cache to roll onto the new conversation id, got %+v", cache.ConversationID)
	}
}

func TestConfigureStreamingUsageForcesIncludeUsage(t *testing.T) {
	kwargs := map[string]any{"stream": true}
	out := configureStreamingUsage(kwargs)
	opts, ok := out["stream_options"].(map[string]any)
	if !ok {
		t.Fatalf("expected stream_options to be set, got %+v", out)
	}
	if opts["include_usage"] != true {
		t.Fatalf("expected include_usage=true, got %+v", opts)
	}
}

func TestConfigureStreamingUsageNoOpWithoutStream(t *testing.T) {
	kwargs := map[string]any{"model": "claude"}
	out := configureStreamingUsage(kwargs)
	if _, ok := out["stream_options"]; ok {
		t.Fatal("expected stream_options untouched when stream is not set")
	}
}

func TestStripMemoriContextDropsInjectedBlock(t *testing.T) {
	in := "you are helpful\n\n<memori_context>\n- likes tea\n</memori_context>"
	got := stripMemoriContext(in)
	if got != "you are helpful" {
		t.Fatalf("expected the memori_context block stripped, got %q", got)
	}
}

func TestInvokeToleratesADisabledAugmentationPool(t *testing.T) {
	drv := &fakeDriver{}
	it := newTestInterceptor(drv, fakeAttribution{sessionUUID: "sess"})
	it.AugPool = &augment.Pool{} // zero value: active defaults false, Enqueue always declines

	kwargs := map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hi"}}}
	_, err := it.Invoke(context.Background(), kwargs, func(kwargs map[string]any) (map[string]any, error) {
		return map[string]any{"role": "assistant", "content": []any{map[string]any{"type": "text", "text": "ok"}}}, nil
	})
	if err != nil {
		t.Fatalf("a declined augmentation enqueue must not fail the call, got %v", err)
	}
}

func TestInvokeUsesInjectedClockForTiming(t *testing.T) {
	drv := &fakeDriver{}
	it := newTestInterceptor(drv, fakeAttribution{sessionUUID: "sess"})

	called := 0
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	it.Now = func() time.Time {
		called++
		return base.Add(time.Duration(called) * time.Second)
	}

	kwargs := map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hi"}}}
	_, err := it.Invoke(context.Background(), kwargs, func(kwargs map[string]any) (map[string]any, error) {
		return map[string]any{"role": "assistant", "content": []any{map[string]any{"type": "text", "text": "ok"}}}, nil
	})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if called < 2 {
		t.Fatalf("expected the injected clock to be consulted at least twice (start + finish), got %d calls", called)
	}
}

func TestInvokeRejectsUnregisteredProvider(t *testing.T) {
	drv := &fakeDriver{}
	it := newTestInterceptor(drv, fakeAttribution{sessionUUID: "sess"})
	it.Provider = "does-not-exist"

	kwargs := map[string]any{"messages": []any{map[string]any{"role": "user", "content": "hi"}}}
	_, err := it.Invoke(context.Background(), kwargs, func(kwargs map[string]any) (map[string]any, error) {
		return map[string]any{"role": "assistant", "content": []any{map[string]any{"type": "text", "text": "ok"}}}, nil
	})
	var perr *ProviderInterceptError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderInterceptError, got %T: %v", err, err)
	}
	if len(drv.persisted) != 0 {
		t.Fatalf("expected nothing persisted for an unregistered provider, got %+v", drv.persisted)
	}
}

func TestInvokeRejectsPayloadThatYieldsNoPersistableMessages(t *testing.T) {
	drv := &fakeDriver{}
	it := newTestInterceptor(drv, fakeAttribution{sessionUUID: "sess"})

	// An empty messages list and a content-free response: nothing for
	// either formatter to turn into a persistable message.
	kwargs := map[string]any{"messages": []any{}}
	_, err := it.Invoke(context.Background(), kwargs, func(kwargs map[string]any) (map[string]any, error) {
		return map[string]any{"role": "assistant", "content": []any{}}, nil
	})
	var perr *ProviderInterceptError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ProviderInterceptError, got %T: %v", err, err)
	}
	if len(drv.persisted) != 0 {
		t.Fatalf("expected nothing persisted for a garbage payload, got %+v", drv.persisted)
	}
}

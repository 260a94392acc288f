package augment

import (
	"context"
	"fmt"
	"strings"

	"github.com/memori-go/memori/internal/augment/prefilter"
	"github.com/memori-go/memori/internal/embedding"
	"github.com/memori-go/memori/internal/remote"
	"github.com/memori-go/memori/internal/storage"
)

// AdvancedAugmentation is the one augmentation the core ships: it POSTs
// the exchange (plus the conversation's running summary) to the remote
// derive-memories service, then stages the facts, triples, process
// attributes, and updated summary it returns.
type AdvancedAugmentation struct {
	Remote    *remote.Client
	Embed     *embedding.Service
	ModelName string
	Prefilter *prefilter.Filter // nil disables pre-filtering
}

func (a *AdvancedAugmentation) Name() string { return "advanced_augmentation" }

func (a *AdvancedAugmentation) Process(ctx context.Context, actx *Context, driver storage.Driver) error {
	input := actx.Input

	if a.Prefilter != nil {
		if !a.Prefilter.ShouldAugment(lastUserText(input.QueryMessages)) {
			return nil
		}
	}

	summary, err := driver.ConversationReadSummary(input.ConversationID)
	if err != nil {
		return fmt.Errorf("advanced augmentation: read conversation summary: %w", err)
	}

	req := remote.Request{
		Conversation: remote.RequestConversation{
			Messages: toWireMessages(input.QueryMessages, input.ResponseMessages),
			Summary:  summary,
		},
		Meta: remote.RequestMeta{
			LLM: remote.RequestLLM{
				Model: remote.RequestModel{Provider: input.Provider, Version: input.ProviderVersion},
			},
			SDK:     remote.RequestSDK{Lang: "go", Version: "1"},
			Storage: remote.RequestStorage{Dialect: input.StorageDialect},
		},
	}

	resp, err := a.Remote.Augment(ctx, req)
	if err != nil {
		return err // may be *remote.QuotaExceededError; let the pool classify it
	}

	facts := resp.Entity.Facts
	if len(facts) == 0 && len(resp.Entity.Triples) > 0 {
		for _, t := range resp.Entity.Triples {
			facts = append(facts, fmt.Sprintf("%s %s %s", t.Subject.Name, t.Predicate, t.Object.Name))
		}
	}

	if len(facts) > 0 && input.EntityID != nil {
		a.stageFacts(ctx, actx, *input.EntityID, facts)
	}
	if len(resp.Entity.Triples) > 0 && input.EntityID != nil {
		a.stageTriples(actx, *input.EntityID, resp.Entity.Triples)
	}
	if len(resp.Process.Attributes) > 0 && input.ProcessID != nil {
		a.stageProcessAttributes(actx, *input.ProcessID, resp.Process.Attributes)
	}
	if resp.Conversation.Summary != "" {
		a.stageSummary(actx, input.ConversationID, resp.Conversation.Summary)
	}
	return nil
}

func (a *AdvancedAugmentation) stageFacts(ctx context.Context, actx *Context, entityID int64, facts []string) {
	vectors := a.Embed.Encode(ctx, a.ModelName, facts)
	inputs := make([]storage.FactInput, len(facts))
	for i, f := range facts {
		inputs[i] = storage.FactInput{Content: f, Embedding: embedding.Pack(vectors[i])}
	}
	actx.Stage("entity_fact.create", func(d storage.Driver) error {
		return d.EntityFactCreate(entityID, inputs)
	})
}

func (a *AdvancedAugmentation) stageTriples(actx *Context, entityID int64, wire []remote.Triple) {
	triples := make([]storage.Triple, len(wire))
	for i, t := range wire {
		triples[i] = storage.Triple{
			Subject:   storage.NamedTyped{Name: t.Subject.Name, Type: strings.ToLower(t.Subject.Type)},
			Predicate: t.Predicate,
			Object:    storage.NamedTyped{Name: t.Object.Name, Type: strings.ToLower(t.Object.Type)},
		}
	}
	actx.Stage("knowledge_graph.create", func(d storage.Driver) error {
		return d.KnowledgeGraphCreate(entityID, triples)
	})
}

func (a *AdvancedAugmentation) stageProcessAttributes(actx *Context, processID int64, attrs []string) {
	inputs := make([]storage.FactInput, len(attrs))
	for i, c := range attrs {
		inputs[i] = storage.FactInput{Content: c}
	}
	actx.Stage("process_attribute.create", func(d storage.Driver) error {
		return d.ProcessAttributeCreate(processID, inputs)
	})
}

func (a *AdvancedAugmentation) stageSummary(actx *Context, conversationID int64, summary string) {
	actx.Stage("conversation.update_summary", func(d storage.Driver) error {
		return d.ConversationUpdateSummary(conversationID, summary)
	})
}

func toWireMessages(query, response []Message) []remote.RequestMessage {
	out := make([]remote.RequestMessage, 0, len(query)+len(response))
	for _, m := range query {
		out = append(out, remote.RequestMessage{Role: m.Role, Content: m.Text})
	}
	for _, m := range response {
		out = append(out, remote.RequestMessage{Role: m.Role, Content: m.Text})
	}
	return out
}

func lastUserText(messages []Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			return messages[i].Text
		}
	}
	return ""
}

// Package memori is a memory substrate for conversational agents: it
// observes request/response pairs flowing through a chat provider,
// persists them as ordered conversation history, derives durable facts
// and semantic triples about the entities it talks about, and on every
// subsequent call recalls relevant prior context back into the outbound
// prompt.
//
// A Handle owns one storage connection, one session Cache, one
// background worker pool and one batched writer. Construct one with Open, attach a provider client through
// provider/anthropic or provider/openai, and use Recall directly for
// out-of-band lookups.
package memori

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/memori-go/memori/internal/augment"
	"github.com/memori-go/memori/internal/augment/prefilter"
	"github.com/memori-go/memori/internal/embedding"
	"github.com/memori-go/memori/internal/embedding/ollama"
	"github.com/memori-go/memori/internal/interceptor"
	"github.com/memori-go/memori/internal/llmadapter"
	"github.com/memori-go/memori/internal/logging"
	"github.com/memori-go/memori/internal/recall"
	"github.com/memori-go/memori/internal/remote"
	"github.com/memori-go/memori/internal/session"
	"github.com/memori-go/memori/internal/storage"
	"github.com/memori-go/memori/internal/storage/sqlite"
	"github.com/memori-go/memori/internal/writer"
)

const maxAttributionLen = 100

// Handle is the public entry point: one storage connection, one cached
// session identity, and one worker pool and one batched writer running
// in the background.
type Handle struct {
	config Config

	adapter storage.Adapter
	driver  storage.Driver
	factory storage.ConnectionFactory

	cache  *session.Cache
	writer *session.Writer

	embed    *embedding.Service
	recall   *recall.Engine
	registry *llmadapter.Registry

	augPool       *augment.Pool
	batchedWriter *writer.Writer

	entityExternalID  string
	processExternalID string
	sessionUUID       string
}

// Open builds a Handle against the SQLite database file at path, applying
// any Options over the documented defaults. It migrates the schema to the
// latest revision and wires the background augmentation pool and batched
// writer; TestMode only makes the augmentation client log its requests
// instead of sending them.
func Open(path string, opts ...Option) (*Handle, error) {
	if path == "" {
		return nil, &ConfigurationError{Reason: "connection factory: empty database path"}
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := sqlite.ConnectionFactory(path)
	adapter, driverIface, err := factory()
	if err != nil {
		return nil, fmt.Errorf("memori: open storage: %w", err)
	}
	driver := driverIface.(*sqlite.Driver)
	if err := driver.Migrate(func(format string, args ...any) { logging.Info("migrate", format, args...) }); err != nil {
		adapter.Close()
		return nil, fmt.Errorf("memori: migrate schema: %w", err)
	}

	cache := &session.Cache{}
	h := &Handle{
		config:      cfg,
		adapter:     adapter,
		driver:      driver,
		factory:     factory,
		cache:       cache,
		writer:      session.NewWriter(driver, adapter, cache),
		embed:       embedding.NewService(),
		registry:    llmadapter.Default,
		sessionUUID: uuid.NewString(),
	}

	if cfg.EmbeddingOllamaURL != "" {
		h.embed.Register(embedding.DefaultModel, func() (embedding.Model, error) {
			return ollama.New(cfg.EmbeddingOllamaURL, "", embedding.DefaultDimension), nil
		})
	}

	h.recall = recall.NewEngine(driver, h.embed)
	h.recall.FactsLimit = cfg.RecallFactsLimit
	h.recall.EmbeddingsLimit = cfg.RecallEmbeddingsLimit
	h.recall.RelevanceThreshold = cfg.RecallRelevanceThresh

	h.batchedWriter = writer.New(factory, cfg.DBWriterQueueSize, cfg.DBWriterBatchSize, cfg.DBWriterBatchTimeout)
	h.batchedWriter.Start()

	h.augPool = augment.NewPool(factory, cfg.AugmentationWorkers, h.batchedWriter)
	h.augPool.Register(&augment.AdvancedAugmentation{
		Remote:    remote.NewClient(cfg.APIURLBase, cfg.APIKey, cfg.TestMode),
		Embed:     h.embed,
		ModelName: embedding.DefaultModel,
		Prefilter: prefilter.New(),
	})

	return h, nil
}

// Attribution sets the principals new exchanges and recalls are scoped
// to. Either id may be empty (unscoped); a non-empty id longer than 100
// characters is a ConfigurationError.
func (h *Handle) Attribution(entityExternalID, processExternalID string) error {
	if len(entityExternalID) > maxAttributionLen {
		return &ConfigurationError{Reason: "entity external id exceeds 100 characters"}
	}
	if len(processExternalID) > maxAttributionLen {
		return &ConfigurationError{Reason: "process external id exceeds 100 characters"}
	}
	h.entityExternalID = entityExternalID
	h.processExternalID = processExternalID
	h.cache.Clear()
	return nil
}

// NewSession generates a fresh session uuid and clears the cache, so the
// next exchange resolves a brand new session/conversation.
func (h *Handle) NewSession() string {
	h.sessionUUID = uuid.NewString()
	h.cache.Clear()
	return h.sessionUUID
}

// SetSession adopts a caller-supplied session uuid. If it differs from
// the currently cached one, the cached session and conversation ids are
// dropped — entity/process resolution is preserved.
func (h *Handle) SetSession(sessionUUID string) {
	if sessionUUID == h.sessionUUID {
		return
	}
	h.sessionUUID = sessionUUID
	h.cache.SessionID = nil
	h.cache.ClearConversation()
}

// Recall returns the facts relevant to query for the configured entity,
// without going through any provider. limit <= 0 uses the configured
// default.
func (h *Handle) Recall(ctx context.Context, query string, limit int) ([]recall.Fact, error) {
	if h.entityExternalID == "" {
		return nil, nil
	}
	entityID, err := h.ensureEntityID()
	if err != nil {
		return nil, fmt.Errorf("memori: recall: %w", err)
	}

	factsLimit := h.recall.FactsLimit
	if limit > 0 {
		factsLimit = limit
	}
	prior := h.recall.FactsLimit
	h.recall.FactsLimit = factsLimit
	defer func() { h.recall.FactsLimit = prior }()

	return h.recall.SearchFacts(ctx, query, entityID)
}

func (h *Handle) ensureEntityID() (int64, error) {
	if h.cache.EntityID != nil {
		return *h.cache.EntityID, nil
	}
	id, err := h.driver.EntityCreate(h.entityExternalID)
	if err != nil {
		return 0, err
	}
	h.cache.EntityID = &id
	return id, nil
}

// attributionPair returns the configured entity and process external ids;
// handleAttribution exposes it as interceptor.AttributionSource.
func (h *Handle) attributionPair() (entityExternalID, processExternalID string) {
	return h.entityExternalID, h.processExternalID
}

// SessionUUID returns the current session uuid.
func (h *Handle) SessionUUID() string { return h.sessionUUID }

// Interceptor builds an *interceptor.Interceptor bound to this handle for
// the named provider (registered in the LLM adapter registry) and SDK
// version string, for provider/anthropic or provider/openai's Register to
// wrap a client with.
func (h *Handle) Interceptor(provider, providerVersion string) *interceptor.Interceptor {
	return &interceptor.Interceptor{
		Provider:              provider,
		ProviderVersion:       providerVersion,
		Driver:                h.driver,
		Adapter:               h.adapter,
		Cache:                 h.cache,
		Writer:                h.writer,
		Recall:                h.recall,
		Registry:              h.registry,
		AugPool:               h.augPool,
		SessionTimeoutMinutes: h.config.SessionTimeoutMinutes,
		Attribution:           handleAttribution{h},
	}
}

// handleAttribution adapts Handle to interceptor.AttributionSource
// without exporting Handle's own Attribution(string,string) setter under
// the interface's zero-arg getter shape.
type handleAttribution struct{ h *Handle }

func (a handleAttribution) Attribution() (string, string) { return a.h.attributionPair() }
func (a handleAttribution) SessionUUID() string           { return a.h.SessionUUID() }

// Close stops the batched writer and releases the handle's own storage
// connection. The augmentation pool is not stopped: in-flight tasks are
// not canceled, the pool does not reject tasks enqueued after Close, and
// the writes such tasks stage are never applied once the writer has
// stopped.
func (h *Handle) Close() error {
	h.batchedWriter.Stop()
	return h.adapter.Close()
}

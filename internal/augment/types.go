// Package augment implements the Augmentation Worker Pool: a bounded
// pool of background tasks that derive durable facts, triples, and
// summaries from a completed exchange and stage them as writes for the
// batched DB writer.
package augment

import (
	"context"

	"github.com/memori-go/memori/internal/storage"
	"github.com/memori-go/memori/internal/writer"
)

// Message is one already-flattened (role, text) turn handed to
// augmentation — the interceptor strips the injected recall/history
// prefix and the <memori_context> block before building this.
type Message struct {
	Role string
	Text string
}

// Input is everything one task needs to derive memories from a completed
// exchange.
type Input struct {
	EntityID        *int64
	ProcessID       *int64
	ConversationID  int64
	Provider        string
	ProviderVersion string
	SystemPrompt    string
	QueryMessages   []Message
	ResponseMessages []Message
	StorageDialect  string
}

// Context is the mutable state one task's augmentations cooperate
// through. Writes are staged, never executed inline — the pool hands
// them to the batched writer once every augmentation has run.
type Context struct {
	Input  Input
	Writes []writer.Task
}

// Stage appends a deferred write to the context.
func (c *Context) Stage(methodPath string, apply func(storage.Driver) error) {
	c.Writes = append(c.Writes, writer.Task{MethodPath: methodPath, Apply: apply})
}

// Augmentation derives memories from one AugmentationContext, staging any
// writes it wants durable via ctx.Stage. Returning a *QuotaExceededError
// disables the whole pool; any other error is logged and swallowed,
// leaving the rest of the pipeline (and the rest of the registry) intact.
type Augmentation interface {
	Name() string
	Process(ctx context.Context, actx *Context, driver storage.Driver) error
}

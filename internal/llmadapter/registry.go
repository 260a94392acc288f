// Package llmadapter translates provider-shaped request/response payloads
// into the canonical message list the session writer persists, and back.
// Every adapter exposes two pure functions, get_formatted_query and
// get_formatted_response, and nothing else — no I/O, no provider SDK
// dependency, so the interceptor and writer never need to know which
// provider produced a payload beyond its registered name.
package llmadapter

import "sync"

// FormattedMessage is one canonical, persist-ready message.
type FormattedMessage struct {
	Role string
	Text string
	Type string // "text" by default; "thinking" for Anthropic's extended-thinking blocks
}

// Adapter is the translation pair registered per provider.
type Adapter struct {
	Name           string
	FormatQuery    func(payload map[string]any) []FormattedMessage
	FormatResponse func(payload map[string]any) []FormattedMessage
}

// Registry is a process-wide, name-keyed set of registered adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// Register adds or replaces the adapter for a.Name.
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name] = a
}

// Get looks up the adapter registered under name.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Default is the process-wide registry this package's own anthropic and
// openai adapters register themselves into at init, mirroring the
// teacher's single shared client-registry pattern.
var Default = NewRegistry()

// injectedCountKey is the kwargs field the interceptor stamps with the
// number of recalled-history messages it prepended, so the query
// formatter can strip them back off before persistence.
const injectedCountKey = "_memori_injected_count"

// StripInjected drops the first n messages where n = payload[injectedCountKey],
// preventing previously-recalled turns from being re-persisted as if they
// were new.
func StripInjected(payload map[string]any, messages []FormattedMessage) []FormattedMessage {
	n, _ := payload[injectedCountKey].(int)
	if n <= 0 || n > len(messages) {
		return messages
	}
	return messages[n:]
}

// Package session holds the per-process Cache (the IDs a Memori handle
// has already resolved) and the transactional exchange Writer.
package session

// Cache holds the IDs a Memori handle has resolved so far. It is never
// shared between handles. NewSession clears it; everything else
// populates it lazily on first reference.
type Cache struct {
	EntityID       *int64
	ProcessID      *int64
	SessionID      *int64
	ConversationID *int64
}

// Clear resets every cached id, as NewSession does.
func (c *Cache) Clear() {
	c.EntityID = nil
	c.ProcessID = nil
	c.SessionID = nil
	c.ConversationID = nil
}

// ClearConversation drops only the conversation id, leaving entity,
// process, and session cached — used when adopting a caller-supplied
// session uuid that differs from the cached one.
func (c *Cache) ClearConversation() {
	c.ConversationID = nil
}

// Package storage defines the backend-agnostic data model and the two
// abstractions (Adapter, Driver) every dialect implements against it.
package storage

import "database/sql"

// Dialect identifies the backend a Driver/Adapter pair targets.
type Dialect string

const (
	DialectSQLite      Dialect = "sqlite"
	DialectMySQL       Dialect = "mysql"
	DialectPostgreSQL  Dialect = "postgresql"
	DialectOracle      Dialect = "oracle"
	DialectCockroachDB Dialect = "cockroachdb"
	DialectMongoDB     Dialect = "mongodb"
)

// ConversationMessage is one persisted utterance.
type ConversationMessage struct {
	ID      int64
	Role    string
	Type    *string
	Content string
}

// FactInput is one durable fact (or process attribute) awaiting upsert.
// Embedding is nil for ProcessAttribute, which carries no embedding.
type FactInput struct {
	Content   string
	Embedding []byte
}

// EmbeddingRow is a stored fact's id and its packed embedding bytes, as
// streamed back by EntityFactGetEmbeddings.
type EmbeddingRow struct {
	ID        int64
	Embedding []byte
}

// FactRow is a stored fact's id and content, as returned by
// EntityFactGetByIDs.
type FactRow struct {
	ID      int64
	Content string
}

// NamedTyped is a knowledge-graph subject or object: a name plus a
// lowercased type tag.
type NamedTyped struct {
	Name string
	Type string
}

// Triple is one (subject, predicate, object) tuple awaiting upsert into
// the knowledge graph.
type Triple struct {
	Subject   NamedTyped
	Predicate string
	Object    NamedTyped
}

// Executor is the minimal relational surface a Driver needs from an
// Adapter. Document-store adapters expose an equivalent doc-op surface
// behind their own Driver implementation instead of this interface.
type Executor interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Adapter normalizes a raw database handle into a uniform operation
// surface: commit, rollback, flush (a no-op where the backend has no
// separate flush step), close, and dialect reporting.
type Adapter interface {
	Executor
	Commit() error
	Rollback() error
	Flush() error
	Close() error
	Dialect() Dialect
}

// Driver exposes the fixed, dialect-specific CRUD surface over one
// Adapter-bound connection. A Driver is always constructed against a
// single live Adapter; callers that need a fresh connection (the batched
// writer, an augmentation task) go back through a ConnectionFactory.
type Driver interface {
	Dialect() Dialect
	// RequiresRollbackOnError reports whether this dialect aborts a
	// transaction on a failed statement and needs an explicit ROLLBACK
	// before further statements can run (true for PostgreSQL, CockroachDB,
	// Oracle; false for MySQL, SQLite, MongoDB).
	RequiresRollbackOnError() bool

	EntityCreate(externalID string) (int64, error)
	ProcessCreate(externalID string) (int64, error)
	SessionCreate(sessionUUID string, entityID, processID *int64) (int64, error)

	ConversationCreate(sessionID int64, timeoutMinutes int) (int64, error)
	ConversationReadSummary(conversationID int64) (string, error)
	ConversationUpdateSummary(conversationID int64, summary string) error
	ConversationMessageCreate(conversationID int64, role string, msgType *string, content string) error
	ConversationMessagesRead(conversationID int64) ([]ConversationMessage, error)

	EntityFactCreate(entityID int64, facts []FactInput) error
	EntityFactGetEmbeddings(entityID int64, limit int) ([]EmbeddingRow, error)
	EntityFactGetByIDs(ids []int64) ([]FactRow, error)

	KnowledgeGraphCreate(entityID int64, triples []Triple) error
	ProcessAttributeCreate(processID int64, attrs []FactInput) error

	SchemaVersionRead() (int, error)
	SchemaVersionCreate(version int) error
	SchemaVersionDelete() error
}

// ConnectionFactory produces a fresh, Adapter-bound Driver. The batched
// writer calls it once at startup; each augmentation task calls it once
// per task (connection-per-task).
type ConnectionFactory func() (Adapter, Driver, error)

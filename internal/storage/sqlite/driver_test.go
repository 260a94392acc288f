package sqlite

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/memori-go/memori/internal/storage"
)

func openTestDriver(t *testing.T) (*Adapter, *Driver) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memori.db")
	a, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	d := NewDriver(a)
	if err := d.Migrate(nil); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return a, d
}

func TestMigrateIsIdempotentAndOffByOne(t *testing.T) {
	_, d := openTestDriver(t)

	num, err := d.SchemaVersionRead()
	if err != nil {
		t.Fatalf("schema version read: %v", err)
	}
	if num != 0 {
		t.Fatalf("expected schema version 0 (max applied revision 1, minus one), got %d", num)
	}

	if err := d.Migrate(nil); err != nil {
		t.Fatalf("re-migrate: %v", err)
	}
	num2, err := d.SchemaVersionRead()
	if err != nil {
		t.Fatalf("schema version read after re-migrate: %v", err)
	}
	if num2 != num {
		t.Fatalf("expected re-running migration to be a no-op on schema version, got %d then %d", num, num2)
	}
}

func TestEntityCreateIsIdempotent(t *testing.T) {
	_, d := openTestDriver(t)

	id1, err := d.EntityCreate("user-123")
	if err != nil {
		t.Fatalf("entity create: %v", err)
	}
	id2, err := d.EntityCreate("user-123")
	if err != nil {
		t.Fatalf("entity create again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected same id for repeated create, got %d and %d", id1, id2)
	}
}

func TestConversationRollover(t *testing.T) {
	_, d := openTestDriver(t)

	entityID, err := d.EntityCreate("user-123")
	if err != nil {
		t.Fatalf("entity create: %v", err)
	}
	sessionID, err := d.SessionCreate("session-abc", &entityID, nil)
	if err != nil {
		t.Fatalf("session create: %v", err)
	}

	convA, err := d.ConversationCreate(sessionID, 30)
	if err != nil {
		t.Fatalf("conversation create: %v", err)
	}
	if err := d.ConversationMessageCreate(convA, "user", nil, "hello"); err != nil {
		t.Fatalf("message create: %v", err)
	}
	if err := d.a.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	convB, err := d.ConversationCreate(sessionID, 30)
	if err != nil {
		t.Fatalf("conversation create (within timeout): %v", err)
	}
	if convB != convA {
		t.Fatalf("expected conversation reuse within timeout, got %d vs %d", convA, convB)
	}

	// Simulate rollover: the last message's timestamp is "now", so a
	// negative timeout forces every conversation to look stale.
	convC, err := d.ConversationCreate(sessionID, -1)
	if err != nil {
		t.Fatalf("conversation create (after timeout): %v", err)
	}
	if convC == convA {
		t.Fatalf("expected a new conversation after rollover, got the same id %d", convC)
	}

	msgs, err := d.ConversationMessagesRead(convA)
	if err != nil {
		t.Fatalf("read old conversation messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected old conversation's message count unchanged, got %d", len(msgs))
	}
}

func TestEntityFactDedupCounts(t *testing.T) {
	_, d := openTestDriver(t)

	entityID, err := d.EntityCreate("user-123")
	if err != nil {
		t.Fatalf("entity create: %v", err)
	}

	fact := []byte{0, 0, 0, 0}
	for i := 0; i < 3; i++ {
		if err := d.EntityFactCreate(entityID, []storage.FactInput{
			{Content: "favorite color is blue", Embedding: fact},
		}); err != nil {
			t.Fatalf("entity fact create (iteration %d): %v", i, err)
		}
	}

	rows, err := d.EntityFactGetEmbeddings(entityID, 10)
	if err != nil {
		t.Fatalf("get embeddings: %v", err)
	}
	if len(rows) != 1 {
		t.Fatalf("expected exactly one deduplicated entity_fact row, got %d", len(rows))
	}

	facts, err := d.EntityFactGetByIDs([]int64{rows[0].ID})
	if err != nil {
		t.Fatalf("get facts by ids: %v", err)
	}
	if len(facts) != 1 || facts[0].Content != "favorite color is blue" {
		t.Fatalf("unexpected fact content: %+v", facts)
	}
}

func TestConversationCreateFallsBackWithoutMessages(t *testing.T) {
	_, d := openTestDriver(t)
	entityID, err := d.EntityCreate("user-456")
	if err != nil {
		t.Fatalf("entity create: %v", err)
	}
	sessionID, err := d.SessionCreate("session-xyz", &entityID, nil)
	if err != nil {
		t.Fatalf("session create: %v", err)
	}
	id1, err := d.ConversationCreate(sessionID, 30)
	if err != nil {
		t.Fatalf("conversation create: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	id2, err := d.ConversationCreate(sessionID, 30)
	if err != nil {
		t.Fatalf("conversation create again: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected conversation reuse via own date_created when no messages exist")
	}
}

package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memori-go/memori/internal/fingerprint"
	"github.com/memori-go/memori/internal/storage"
)

// Driver implements storage.Driver against one Adapter-bound SQLite
// connection.
type Driver struct {
	a *Adapter
}

// NewDriver binds a Driver to an already-open Adapter.
func NewDriver(a *Adapter) *Driver {
	return &Driver{a: a}
}

func (d *Driver) Dialect() storage.Dialect { return storage.DialectSQLite }

func (d *Driver) RequiresRollbackOnError() bool { return false }

// Migrate brings this connection's schema up to date using Migrations.
func (d *Driver) Migrate(logf func(string, ...any)) error {
	b := storage.Builder{Adapter: d.a, Driver: d, Migrations: Migrations, Log: logf}
	return b.Execute()
}

func (d *Driver) EntityCreate(externalID string) (int64, error) {
	if _, err := d.a.Exec(`
		INSERT OR IGNORE INTO memori_entity (uuid, external_id) VALUES (?, ?)
	`, uuid.NewString(), externalID); err != nil {
		return 0, fmt.Errorf("entity create: %w", err)
	}
	if err := d.a.Commit(); err != nil {
		return 0, fmt.Errorf("entity create commit: %w", err)
	}
	var id int64
	if err := d.a.QueryRow(`SELECT id FROM memori_entity WHERE external_id = ?`, externalID).Scan(&id); err != nil {
		return 0, fmt.Errorf("entity lookup: %w", err)
	}
	return id, nil
}

func (d *Driver) ProcessCreate(externalID string) (int64, error) {
	if _, err := d.a.Exec(`
		INSERT OR IGNORE INTO memori_process (uuid, external_id) VALUES (?, ?)
	`, uuid.NewString(), externalID); err != nil {
		return 0, fmt.Errorf("process create: %w", err)
	}
	if err := d.a.Commit(); err != nil {
		return 0, fmt.Errorf("process create commit: %w", err)
	}
	var id int64
	if err := d.a.QueryRow(`SELECT id FROM memori_process WHERE external_id = ?`, externalID).Scan(&id); err != nil {
		return 0, fmt.Errorf("process lookup: %w", err)
	}
	return id, nil
}

func (d *Driver) SessionCreate(sessionUUID string, entityID, processID *int64) (int64, error) {
	if _, err := d.a.Exec(`
		INSERT OR IGNORE INTO memori_session (uuid, entity_id, process_id) VALUES (?, ?, ?)
	`, sessionUUID, entityID, processID); err != nil {
		return 0, fmt.Errorf("session create: %w", err)
	}
	if err := d.a.Commit(); err != nil {
		return 0, fmt.Errorf("session create commit: %w", err)
	}
	var id int64
	if err := d.a.QueryRow(`SELECT id FROM memori_session WHERE uuid = ?`, sessionUUID).Scan(&id); err != nil {
		return 0, fmt.Errorf("session lookup: %w", err)
	}
	return id, nil
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

// ConversationCreate looks up the most recently created conversation row
// for the session and the max date_created across its messages (falling
// back to the conversation's own date_created when it has none). If that
// last-activity timestamp is within timeout_minutes of now, the existing
// id is returned; otherwise a new conversation row is inserted and its id
// returned. See the note on Migrations for why this requires
// UNIQUE(session_id, id) rather than UNIQUE(session_id) on the table.
func (d *Driver) ConversationCreate(sessionID int64, timeoutMinutes int) (int64, error) {
	var existingID sql.NullInt64
	var lastActivity sql.NullString
	err := d.a.QueryRow(`
		SELECT c.id,
		       COALESCE(MAX(m.date_created), c.date_created) AS last_activity
		  FROM memori_conversation c
		  LEFT JOIN memori_conversation_message m ON m.conversation_id = c.id
		 WHERE c.session_id = ?
		 GROUP BY c.id, c.date_created
		 ORDER BY c.id DESC
		 LIMIT 1
	`, sessionID).Scan(&existingID, &lastActivity)

	switch {
	case err == nil && existingID.Valid:
		last, perr := time.Parse(sqliteTimeLayout, lastActivity.String)
		if perr == nil && time.Since(last) <= time.Duration(timeoutMinutes)*time.Minute {
			return existingID.Int64, nil
		}
	case err != nil && err != sql.ErrNoRows:
		return 0, fmt.Errorf("conversation lookup: %w", err)
	}

	convUUID := uuid.NewString()
	if _, err := d.a.Exec(`
		INSERT INTO memori_conversation (uuid, session_id) VALUES (?, ?)
	`, convUUID, sessionID); err != nil {
		return 0, fmt.Errorf("conversation create: %w", err)
	}
	if err := d.a.Commit(); err != nil {
		return 0, fmt.Errorf("conversation create commit: %w", err)
	}
	var id int64
	if err := d.a.QueryRow(`SELECT id FROM memori_conversation WHERE uuid = ?`, convUUID).Scan(&id); err != nil {
		return 0, fmt.Errorf("conversation lookup after create: %w", err)
	}
	return id, nil
}

func (d *Driver) ConversationReadSummary(conversationID int64) (string, error) {
	var summary sql.NullString
	err := d.a.QueryRow(`SELECT summary FROM memori_conversation WHERE id = ?`, conversationID).Scan(&summary)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("conversation read: %w", err)
	}
	return summary.String, nil
}

func (d *Driver) ConversationUpdateSummary(conversationID int64, summary string) error {
	if summary == "" {
		return nil
	}
	if _, err := d.a.Exec(`
		UPDATE memori_conversation SET summary = ?, date_updated = datetime('now') WHERE id = ?
	`, summary, conversationID); err != nil {
		return fmt.Errorf("conversation update summary: %w", err)
	}
	return d.a.Commit()
}

func (d *Driver) ConversationMessageCreate(conversationID int64, role string, msgType *string, content string) error {
	_, err := d.a.Exec(`
		INSERT INTO memori_conversation_message (uuid, conversation_id, role, type, content)
		VALUES (?, ?, ?, ?, ?)
	`, uuid.NewString(), conversationID, role, msgType, content)
	if err != nil {
		return fmt.Errorf("conversation message create: %w", err)
	}
	return nil
}

func (d *Driver) ConversationMessagesRead(conversationID int64) ([]storage.ConversationMessage, error) {
	rows, err := d.a.Query(`
		SELECT id, role, type, content FROM memori_conversation_message
		 WHERE conversation_id = ? ORDER BY id
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("conversation messages read: %w", err)
	}
	defer rows.Close()

	var out []storage.ConversationMessage
	for rows.Next() {
		var m storage.ConversationMessage
		var msgType sql.NullString
		if err := rows.Scan(&m.ID, &m.Role, &msgType, &m.Content); err != nil {
			return nil, fmt.Errorf("scan conversation message: %w", err)
		}
		if msgType.Valid {
			m.Type = &msgType.String
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (d *Driver) EntityFactCreate(entityID int64, facts []storage.FactInput) error {
	if len(facts) == 0 {
		return nil
	}
	for _, f := range facts {
		u := fingerprint.Uniq(f.Content)
		_, err := d.a.Exec(`
			INSERT INTO memori_entity_fact (uuid, entity_id, content, content_embedding, num_times, date_last_time, uniq)
			VALUES (?, ?, ?, ?, 1, datetime('now'), ?)
			ON CONFLICT(entity_id, uniq) DO UPDATE SET
				num_times = num_times + 1,
				date_last_time = datetime('now')
		`, uuid.NewString(), entityID, f.Content, f.Embedding, u)
		if err != nil {
			return fmt.Errorf("entity fact create: %w", err)
		}
	}
	return d.a.Commit()
}

func (d *Driver) EntityFactGetEmbeddings(entityID int64, limit int) ([]storage.EmbeddingRow, error) {
	rows, err := d.a.Query(`
		SELECT id, content_embedding FROM memori_entity_fact WHERE entity_id = ? LIMIT ?
	`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("entity fact embeddings: %w", err)
	}
	defer rows.Close()

	var out []storage.EmbeddingRow
	for rows.Next() {
		var r storage.EmbeddingRow
		if err := rows.Scan(&r.ID, &r.Embedding); err != nil {
			return nil, fmt.Errorf("scan entity fact embedding: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Driver) EntityFactGetByIDs(ids []int64) ([]storage.FactRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]byte, 0, len(ids)*2)
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
		args[i] = id
	}
	rows, err := d.a.Query(fmt.Sprintf(`
		SELECT id, content FROM memori_entity_fact WHERE id IN (%s)
	`, string(placeholders)), args...)
	if err != nil {
		return nil, fmt.Errorf("entity facts by ids: %w", err)
	}
	defer rows.Close()

	var out []storage.FactRow
	for rows.Next() {
		var r storage.FactRow
		if err := rows.Scan(&r.ID, &r.Content); err != nil {
			return nil, fmt.Errorf("scan entity fact: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (d *Driver) KnowledgeGraphCreate(entityID int64, triples []storage.Triple) error {
	if len(triples) == 0 {
		return nil
	}
	for _, t := range triples {
		subjectID, err := d.upsertVocab("memori_subject", t.Subject.Name, t.Subject.Type)
		if err != nil {
			return err
		}
		predicateID, err := d.upsertPredicate(t.Predicate)
		if err != nil {
			return err
		}
		objectID, err := d.upsertVocab("memori_object", t.Object.Name, t.Object.Type)
		if err != nil {
			return err
		}

		_, err = d.a.Exec(`
			INSERT INTO memori_knowledge_graph (uuid, entity_id, subject_id, predicate_id, object_id, num_times, date_last_time)
			VALUES (?, ?, ?, ?, ?, 1, datetime('now'))
			ON CONFLICT(entity_id, subject_id, predicate_id, object_id) DO UPDATE SET
				num_times = num_times + 1,
				date_last_time = datetime('now')
		`, uuid.NewString(), entityID, subjectID, predicateID, objectID)
		if err != nil {
			return fmt.Errorf("knowledge graph create: %w", err)
		}
	}
	return d.a.Commit()
}

func (d *Driver) upsertVocab(table, name, typ string) (int64, error) {
	u := fingerprint.Uniq(name, typ)
	if _, err := d.a.Exec(fmt.Sprintf(`
		INSERT OR IGNORE INTO %s (uuid, name, type, uniq) VALUES (?, ?, ?, ?)
	`, table), uuid.NewString(), name, typ, u); err != nil {
		return 0, fmt.Errorf("%s upsert: %w", table, err)
	}
	var id int64
	if err := d.a.QueryRow(fmt.Sprintf(`SELECT id FROM %s WHERE uniq = ?`, table), u).Scan(&id); err != nil {
		return 0, fmt.Errorf("%s lookup: %w", table, err)
	}
	return id, nil
}

func (d *Driver) upsertPredicate(content string) (int64, error) {
	u := fingerprint.Uniq(content)
	if _, err := d.a.Exec(`
		INSERT OR IGNORE INTO memori_predicate (uuid, content, uniq) VALUES (?, ?, ?)
	`, uuid.NewString(), content, u); err != nil {
		return 0, fmt.Errorf("predicate upsert: %w", err)
	}
	var id int64
	if err := d.a.QueryRow(`SELECT id FROM memori_predicate WHERE uniq = ?`, u).Scan(&id); err != nil {
		return 0, fmt.Errorf("predicate lookup: %w", err)
	}
	return id, nil
}

func (d *Driver) ProcessAttributeCreate(processID int64, attrs []storage.FactInput) error {
	if len(attrs) == 0 {
		return nil
	}
	for _, a := range attrs {
		u := fingerprint.Uniq(a.Content)
		_, err := d.a.Exec(`
			INSERT INTO memori_process_attribute (uuid, process_id, content, num_times, date_last_time, uniq)
			VALUES (?, ?, ?, 1, datetime('now'), ?)
			ON CONFLICT(process_id, uniq) DO UPDATE SET
				num_times = num_times + 1,
				date_last_time = datetime('now')
		`, uuid.NewString(), processID, a.Content, u)
		if err != nil {
			return fmt.Errorf("process attribute create: %w", err)
		}
	}
	return d.a.Commit()
}

func (d *Driver) SchemaVersionRead() (int, error) {
	var num int
	err := d.a.QueryRow(`SELECT num FROM memori_schema_version LIMIT 1`).Scan(&num)
	if err != nil {
		return 0, err
	}
	return num, nil
}

func (d *Driver) SchemaVersionCreate(version int) error {
	_, err := d.a.Exec(`INSERT INTO memori_schema_version (num) VALUES (?)`, version)
	if err != nil {
		return fmt.Errorf("schema version create: %w", err)
	}
	return nil
}

func (d *Driver) SchemaVersionDelete() error {
	_, err := d.a.Exec(`DELETE FROM memori_schema_version`)
	if err != nil {
		return fmt.Errorf("schema version delete: %w", err)
	}
	return nil
}

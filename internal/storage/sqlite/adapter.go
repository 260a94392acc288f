// Package sqlite is the only concretely implemented Storage Driver: a
// SQLite-backed Adapter + Driver pair, plus the migration set that
// creates the full memori_* schema.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"

	"github.com/memori-go/memori/internal/storage"
)

// Adapter wraps one *sql.DB and the single live *sql.Tx statements run
// against, auto-beginning a new transaction immediately after each
// Commit/Rollback so callers never see a nil transaction mid-pipeline.
type Adapter struct {
	db *sql.DB
	tx *sql.Tx
}

// Open opens (creating if necessary) a SQLite database file at path.
func Open(path string) (*Adapter, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	a := &Adapter{db: db}
	if err := a.beginTx(); err != nil {
		db.Close()
		return nil, err
	}
	return a, nil
}

func (a *Adapter) beginTx() error {
	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	a.tx = tx
	return nil
}

func (a *Adapter) Exec(query string, args ...any) (sql.Result, error) {
	return a.tx.Exec(query, args...)
}

func (a *Adapter) Query(query string, args ...any) (*sql.Rows, error) {
	return a.tx.Query(query, args...)
}

func (a *Adapter) QueryRow(query string, args ...any) *sql.Row {
	return a.tx.QueryRow(query, args...)
}

func (a *Adapter) Commit() error {
	if a.tx == nil {
		return nil
	}
	err := a.tx.Commit()
	a.tx = nil
	if beginErr := a.beginTx(); beginErr != nil && err == nil {
		err = beginErr
	}
	return err
}

func (a *Adapter) Rollback() error {
	if a.tx == nil {
		return nil
	}
	err := a.tx.Rollback()
	a.tx = nil
	if beginErr := a.beginTx(); beginErr != nil && err == nil {
		err = beginErr
	}
	return err
}

// Flush is a no-op: SQLite has no separate flush step.
func (a *Adapter) Flush() error { return nil }

func (a *Adapter) Close() error {
	if a.tx != nil {
		_ = a.tx.Rollback()
		a.tx = nil
	}
	return a.db.Close()
}

func (a *Adapter) Dialect() storage.Dialect { return storage.DialectSQLite }

// ConnectionFactory returns a storage.ConnectionFactory that opens a
// fresh Adapter+Driver pair against the same file path on every call —
// used by the augmentation pool (connection-per-task) and the batched
// writer (one long-lived connection).
func ConnectionFactory(path string) storage.ConnectionFactory {
	return func() (storage.Adapter, storage.Driver, error) {
		a, err := Open(path)
		if err != nil {
			return nil, nil, err
		}
		return a, NewDriver(a), nil
	}
}

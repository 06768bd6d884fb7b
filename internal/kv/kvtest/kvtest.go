// Package kvtest opens throwaway SQLite-backed stores for tests in other packages.
package kvtest

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/haukened/storyline/internal/kv"
	"github.com/haukened/storyline/internal/kv/sqlite"

	_ "github.com/mattn/go-sqlite3"
)

// OpenDB opens a transient SQLite database file in a temp dir with WAL enabled.
func OpenDB(t testing.TB) *sql.DB {
	t.Helper()
	dir := t.TempDir()
	dsn := "file:" + filepath.Join(dir, "test.db") + "?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// OpenStore returns a SQLite store with the given secondary indexes.
func OpenStore(t testing.TB, indexes ...kv.Index) *sqlite.Store {
	t.Helper()
	st, err := sqlite.New(OpenDB(t), indexes...)
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	return st
}

// Package testutil provides shared helpers for setting up workspace and
// store fixtures in tests.
package testutil

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// Workspace is a temporary on-disk workspace with the standard layout.
type Workspace struct {
	WorkRoot string
	DataRoot string
}

// NewWorkspace creates a temporary work root (with the worker subdirectory)
// and data root. Everything is removed when the test finishes.
func NewWorkspace(t *testing.T) Workspace {
	t.Helper()
	ws := Workspace{
		WorkRoot: t.TempDir(),
		DataRoot: t.TempDir(),
	}
	if err := os.MkdirAll(filepath.Join(ws.WorkRoot, "worker"), 0o755); err != nil {
		t.Fatalf("failed to create worker subdir: %v", err)
	}
	return ws
}

// HandoffPath returns the handoff file path inside the workspace.
func (w Workspace) HandoffPath() string {
	return filepath.Join(w.WorkRoot, "worker", "artists.txt")
}

// SourceDBPath returns the candidate source store path.
func (w Workspace) SourceDBPath() string {
	return filepath.Join(w.DataRoot, "artistNames.db")
}

// ProgressDBPath returns the progress store path.
func (w Workspace) ProgressDBPath() string {
	return filepath.Join(w.DataRoot, "process_artists.db")
}

// MetadataDBPath returns the metadata store path.
func (w Workspace) MetadataDBPath() string {
	return filepath.Join(w.DataRoot, "am_metadata.sqlite")
}

// SeedSource creates the source store with the given names in insertion
// order. Duplicate and NULL entries can be injected by the caller
// afterwards via ExecDB.
func SeedSource(t *testing.T, path string, names ...string) {
	t.Helper()
	db := openDB(t, path)
	defer db.Close()

	mustExec(t, db, `CREATE TABLE IF NOT EXISTS artists (name TEXT)`)
	for _, name := range names {
		mustExec(t, db, `INSERT INTO artists (name) VALUES (?)`, name)
	}
}

// SeedMetadata creates the metadata store with one row per entry.
func SeedMetadata(t *testing.T, path string, rows map[string]struct {
	DisplayName string
	Units       int
}) {
	t.Helper()
	db := openDB(t, path)
	defer db.Close()

	mustExec(t, db, `CREATE TABLE IF NOT EXISTS artist_metadata (
		artist TEXT PRIMARY KEY,
		display_name TEXT,
		track_count INTEGER
	)`)
	for artist, row := range rows {
		mustExec(t, db, `INSERT INTO artist_metadata (artist, display_name, track_count) VALUES (?, ?, ?)`,
			artist, row.DisplayName, row.Units)
	}
}

// ExecDB runs a single statement against the store at path.
func ExecDB(t *testing.T, path, stmt string, args ...any) {
	t.Helper()
	db := openDB(t, path)
	defer db.Close()
	mustExec(t, db, stmt, args...)
}

func openDB(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatalf("failed to open %s: %v", path, err)
	}
	return db
}

func mustExec(t *testing.T, db *sql.DB, stmt string, args ...any) {
	t.Helper()
	if _, err := db.Exec(stmt, args...); err != nil {
		t.Fatalf("exec %q: %v", stmt, err)
	}
}

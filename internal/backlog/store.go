// Package backlog owns the durable task stores: the candidate source (all
// known task ids), the progress store (task ids already completed), and an
// optional metadata store for display enrichment. The pending backlog is
// always derived, never stored: source minus completed, in source order.
package backlog

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "artistbatch/internal/errors"
	"artistbatch/internal/logging"
)

// Paths locates the three stores. Metadata may be absent; the other two
// are required for the store to open.
type Paths struct {
	Source   string
	Progress string
	Metadata string
}

// Metrics is the optional enrichment for one task id. It is informational
// only and never affects control flow.
type Metrics struct {
	DisplayName string
	Units       int
}

// Store provides read access to the candidate source and read/write access
// to the progress store. Safe for use from a single goroutine; the session
// loop is the only caller.
type Store struct {
	paths    Paths
	source   *sql.DB
	progress *sql.DB
	metadata *sql.DB
	log      *logging.Logger
}

// Open opens the source and progress stores and prepares the progress
// schema. A missing or unreadable source yields ErrSourceUnavailable; a
// progress store that cannot be opened or migrated yields
// ErrProgressUnavailable. Both are environment-level failures. The
// metadata store is opened lazily on first lookup and is never required.
func Open(ctx context.Context, paths Paths, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.NopLogger()
	}

	if _, err := os.Stat(paths.Source); err != nil {
		return nil, fmt.Errorf("source store %s: %w: %w", paths.Source, apperrors.ErrSourceUnavailable, err)
	}
	source, err := sql.Open("sqlite3", paths.Source+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("source store %s: %w: %w", paths.Source, apperrors.ErrSourceUnavailable, err)
	}
	if err := source.PingContext(ctx); err != nil {
		source.Close()
		return nil, fmt.Errorf("source store %s: %w: %w", paths.Source, apperrors.ErrSourceUnavailable, err)
	}

	progress, err := sql.Open("sqlite3", paths.Progress)
	if err != nil {
		source.Close()
		return nil, fmt.Errorf("progress store %s: %w: %w", paths.Progress, apperrors.ErrProgressUnavailable, err)
	}
	if _, err := progress.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS processed_artists (
			id TEXT PRIMARY KEY,
			processed_at TEXT
		)`); err != nil {
		source.Close()
		progress.Close()
		return nil, fmt.Errorf("progress store %s: %w: %w", paths.Progress, apperrors.ErrProgressUnavailable, err)
	}

	return &Store{
		paths:    paths,
		source:   source,
		progress: progress,
		log:      log,
	}, nil
}

// Close releases all database handles.
func (s *Store) Close() error {
	var firstErr error
	for _, db := range []*sql.DB{s.source, s.progress, s.metadata} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Pending returns the task ids not yet completed, in the source's natural
// enumeration order, with duplicates removed (first occurrence wins). Given
// identical stores it always returns the same sequence.
func (s *Store) Pending(ctx context.Context) ([]string, error) {
	completed, err := s.completedSet(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.source.QueryContext(ctx,
		`SELECT name FROM artists WHERE name IS NOT NULL ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("query source store: %w: %w", apperrors.ErrSourceUnavailable, err)
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var pending []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan source store: %w: %w", apperrors.ErrSourceUnavailable, err)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if _, done := completed[id]; done {
			continue
		}
		pending = append(pending, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source store: %w: %w", apperrors.ErrSourceUnavailable, err)
	}
	return pending, nil
}

// MarkComplete durably records that id finished successfully. Marking an
// already-completed id is a no-op, so replays after a crash are harmless.
func (s *Store) MarkComplete(ctx context.Context, id string) error {
	_, err := s.progress.ExecContext(ctx,
		`INSERT OR IGNORE INTO processed_artists (id, processed_at) VALUES (?, ?)`,
		id, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("%w: %w", apperrors.ErrPersistence, apperrors.NewStoreError("progress", "mark complete", err))
	}
	return nil
}

// CompletedCount reports how many task ids the progress store holds.
func (s *Store) CompletedCount(ctx context.Context) (int, error) {
	var n int
	err := s.progress.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM processed_artists`).Scan(&n)
	if err != nil {
		return 0, apperrors.NewStoreError("progress", "count", err)
	}
	return n, nil
}

// TaskMetrics looks up display enrichment for id in the metadata store.
// Any failure degrades to a placeholder carrying the id itself and zero
// units; it never returns an error.
func (s *Store) TaskMetrics(ctx context.Context, id string) Metrics {
	placeholder := Metrics{DisplayName: id, Units: 0}

	db, err := s.metadataDB()
	if err != nil {
		s.log.Debug("metadata store unavailable", "error", err)
		return placeholder
	}

	var m Metrics
	err = db.QueryRowContext(ctx,
		`SELECT display_name, track_count FROM artist_metadata WHERE artist = ?`,
		id).Scan(&m.DisplayName, &m.Units)
	if err != nil {
		if err != sql.ErrNoRows {
			s.log.Debug("metadata lookup failed", "task", id, "error", err)
		}
		return placeholder
	}
	if m.DisplayName == "" {
		m.DisplayName = id
	}
	return m
}

func (s *Store) metadataDB() (*sql.DB, error) {
	if s.metadata != nil {
		return s.metadata, nil
	}
	if _, err := os.Stat(s.paths.Metadata); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite3", s.paths.Metadata+"?mode=ro")
	if err != nil {
		return nil, err
	}
	s.metadata = db
	return db, nil
}

func (s *Store) completedSet(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.progress.QueryContext(ctx, `SELECT id FROM processed_artists`)
	if err != nil {
		return nil, fmt.Errorf("query progress store: %w: %w", apperrors.ErrProgressUnavailable, err)
	}
	defer rows.Close()

	set := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan progress store: %w: %w", apperrors.ErrProgressUnavailable, err)
		}
		set[id] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate progress store: %w: %w", apperrors.ErrProgressUnavailable, err)
	}
	return set, nil
}

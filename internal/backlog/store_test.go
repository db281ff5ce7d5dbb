package backlog

import (
	"context"
	"testing"

	apperrors "artistbatch/internal/errors"
	"artistbatch/internal/testutil"
)

func openStore(t *testing.T, ws testutil.Workspace) *Store {
	t.Helper()
	s, err := Open(context.Background(), Paths{
		Source:   ws.SourceDBPath(),
		Progress: ws.ProgressDBPath(),
		Metadata: ws.MetadataDBPath(),
	}, nil)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenMissingSource(t *testing.T) {
	ws := testutil.NewWorkspace(t)

	_, err := Open(context.Background(), Paths{
		Source:   ws.SourceDBPath(),
		Progress: ws.ProgressDBPath(),
	}, nil)
	if !apperrors.Is(err, apperrors.ErrSourceUnavailable) {
		t.Errorf("error %v does not wrap ErrSourceUnavailable", err)
	}
}

func TestPendingOrderAndDedup(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	testutil.SeedSource(t, ws.SourceDBPath(), "Alpha", "Beta", "Alpha", "Gamma")

	s := openStore(t, ws)
	pending, err := s.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}

	want := []string{"Alpha", "Beta", "Gamma"}
	if len(pending) != len(want) {
		t.Fatalf("Pending() = %v, want %v", pending, want)
	}
	for i := range want {
		if pending[i] != want[i] {
			t.Errorf("pending[%d] = %q, want %q", i, pending[i], want[i])
		}
	}
}

func TestPendingSkipsNullNames(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	testutil.SeedSource(t, ws.SourceDBPath(), "Alpha")
	testutil.ExecDB(t, ws.SourceDBPath(), `INSERT INTO artists (name) VALUES (NULL)`)

	s := openStore(t, ws)
	pending, err := s.Pending(context.Background())
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 1 || pending[0] != "Alpha" {
		t.Errorf("Pending() = %v, want [Alpha]", pending)
	}
}

func TestMarkCompleteExcludesFromPending(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	testutil.SeedSource(t, ws.SourceDBPath(), "Alpha", "Beta", "Gamma")

	s := openStore(t, ws)
	ctx := context.Background()

	if err := s.MarkComplete(ctx, "Beta"); err != nil {
		t.Fatalf("MarkComplete() error: %v", err)
	}

	pending, err := s.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() error: %v", err)
	}
	if len(pending) != 2 || pending[0] != "Alpha" || pending[1] != "Gamma" {
		t.Errorf("Pending() = %v, want [Alpha Gamma]", pending)
	}
}

func TestMarkCompleteIdempotent(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	testutil.SeedSource(t, ws.SourceDBPath(), "Alpha")

	s := openStore(t, ws)
	ctx := context.Background()

	if err := s.MarkComplete(ctx, "Alpha"); err != nil {
		t.Fatalf("first MarkComplete() error: %v", err)
	}
	if err := s.MarkComplete(ctx, "Alpha"); err != nil {
		t.Fatalf("repeated MarkComplete() error: %v", err)
	}

	n, err := s.CompletedCount(ctx)
	if err != nil {
		t.Fatalf("CompletedCount() error: %v", err)
	}
	if n != 1 {
		t.Errorf("CompletedCount() = %d, want 1", n)
	}
}

func TestProgressSurvivesReopen(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	testutil.SeedSource(t, ws.SourceDBPath(), "A", "B", "C", "D", "E")
	ctx := context.Background()

	s := openStore(t, ws)
	if err := s.MarkComplete(ctx, "A"); err != nil {
		t.Fatalf("MarkComplete() error: %v", err)
	}
	if err := s.MarkComplete(ctx, "B"); err != nil {
		t.Fatalf("MarkComplete() error: %v", err)
	}
	s.Close()

	// A fresh open must see the prior completions: a restarted run resumes
	// where the previous one stopped.
	s2 := openStore(t, ws)
	pending, err := s2.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending() after reopen error: %v", err)
	}
	if len(pending) != 3 {
		t.Fatalf("Pending() after reopen = %v, want 3 items", pending)
	}
	want := []string{"C", "D", "E"}
	for i := range want {
		if pending[i] != want[i] {
			t.Errorf("pending[%d] = %q, want %q", i, pending[i], want[i])
		}
	}
}

func TestTaskMetricsPlaceholderWhenStoreMissing(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	testutil.SeedSource(t, ws.SourceDBPath(), "Alpha")

	s := openStore(t, ws)
	m := s.TaskMetrics(context.Background(), "Alpha")
	if m.DisplayName != "Alpha" || m.Units != 0 {
		t.Errorf("TaskMetrics() = %+v, want placeholder {Alpha 0}", m)
	}
}

func TestTaskMetricsLookup(t *testing.T) {
	ws := testutil.NewWorkspace(t)
	testutil.SeedSource(t, ws.SourceDBPath(), "Alpha")
	testutil.SeedMetadata(t, ws.MetadataDBPath(), map[string]struct {
		DisplayName string
		Units       int
	}{
		"Alpha": {DisplayName: "Alpha (Deluxe)", Units: 42},
	})

	s := openStore(t, ws)
	ctx := context.Background()

	m := s.TaskMetrics(ctx, "Alpha")
	if m.DisplayName != "Alpha (Deluxe)" || m.Units != 42 {
		t.Errorf("TaskMetrics(Alpha) = %+v, want {Alpha (Deluxe) 42}", m)
	}

	// Unknown ids degrade to the placeholder.
	m = s.TaskMetrics(ctx, "Unknown")
	if m.DisplayName != "Unknown" || m.Units != 0 {
		t.Errorf("TaskMetrics(Unknown) = %+v, want placeholder", m)
	}
}

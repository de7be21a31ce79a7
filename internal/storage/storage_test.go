package storage

import (
	"errors"
	"path/filepath"
	"testing"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openStore(t)

	rec := RunRecord{ID: "run-1", Source: "cli", InputPath: "/in/cells.tif", OutputPath: "/out", ParamsJSON: `{"psf":4}`}
	if err := s.RecordRunQueued(rec); err != nil {
		t.Fatalf("RecordRunQueued: %v", err)
	}
	got, err := s.Run("run-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != StatusQueued || got.InputPath != rec.InputPath || got.StartedAt != nil {
		t.Fatalf("queued record = %+v", got)
	}

	if err := s.RecordRunStart("run-1"); err != nil {
		t.Fatalf("RecordRunStart: %v", err)
	}
	meta := map[string]any{"slices": 3, "magnification": 2.5}
	if err := s.RecordRunResult("run-1", StatusCompleted, meta, ""); err != nil {
		t.Fatalf("RecordRunResult: %v", err)
	}

	got, err = s.Run("run-1")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got.Status != StatusCompleted || got.StartedAt == nil || got.CompletedAt == nil {
		t.Fatalf("completed record = %+v", got)
	}

	m, err := s.RunMeta("run-1")
	if err != nil {
		t.Fatalf("RunMeta: %v", err)
	}
	if m["slices"] != float64(3) || m["magnification"] != 2.5 {
		t.Fatalf("meta = %v", m)
	}
}

func TestRecentRunsNewestFirst(t *testing.T) {
	s := openStore(t)
	for _, id := range []string{"a", "b", "c"} {
		if err := s.RecordRunQueued(RunRecord{ID: id, Source: "http"}); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.RecordRunResult("b", StatusFailed, nil, "decode: bad tiff"); err != nil {
		t.Fatal(err)
	}

	runs, err := s.RecentRuns(2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "c" || runs[1].ID != "b" {
		t.Fatalf("unexpected order %+v", runs)
	}
	if runs[1].Error != "decode: bad tiff" || runs[1].Status != StatusFailed {
		t.Fatalf("failed run = %+v", runs[1])
	}
}

func TestUnknownRun(t *testing.T) {
	s := openStore(t)
	if _, err := s.Run("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := s.RunMeta("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestNilStoreIsNoop(t *testing.T) {
	var s *Store
	if err := s.RecordRunQueued(RunRecord{ID: "x"}); err != nil {
		t.Fatalf("nil store queued: %v", err)
	}
	if err := s.RecordRunStart("x"); err != nil {
		t.Fatalf("nil store start: %v", err)
	}
	if _, err := s.RecentRuns(1); err == nil {
		t.Fatalf("nil store should refuse queries")
	}
}

func TestOpenDrivers(t *testing.T) {
	s, err := Open("", filepath.Join(t.TempDir(), "default.db"))
	if err != nil {
		t.Fatalf("Open default driver: %v", err)
	}
	defer s.Close()
	if err := s.RecordRunQueued(RunRecord{ID: "run-1", Source: "cli"}); err != nil {
		t.Fatalf("RecordRunQueued: %v", err)
	}

	if _, err := Open("postgres", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}

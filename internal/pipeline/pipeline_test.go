package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dpr/internal/dpr"
	"dpr/internal/imageio"
	"dpr/internal/imgproc"
	"dpr/internal/storage"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubProcessor reports two progress ticks and returns err.
type stubProcessor struct {
	mu    sync.Mutex
	calls int
	err   error
	block chan struct{}
}

func (s *stubProcessor) Process(ctx context.Context, job Job, progress dpr.ProgressFunc) Result {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return Result{Job: job, Error: fmt.Errorf("%w: %w", dpr.ErrCancelled, ctx.Err())}
		}
	}
	if progress != nil {
		progress(1, 2)
		progress(2, 2)
	}
	return Result{Job: job, Error: s.err, Meta: map[string]any{"slices": 2}}
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.New(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func waitFinished(t *testing.T, events <-chan Event, id string) (Event, []Event) {
	t.Helper()
	var seen []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("event channel closed before %s finished", id)
			}
			if ev.JobID != id {
				continue
			}
			seen = append(seen, ev)
			if ev.Type == EventFinished {
				return ev, seen
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", id)
		}
	}
}

func TestPipelineRecordsAndBroadcasts(t *testing.T) {
	store := openStore(t)
	p := New(context.Background(), Options{Workers: 1, Logger: quietLogger(), Store: store, Processor: &stubProcessor{}})
	defer p.Stop()

	events, unsub := p.Subscribe()
	defer unsub()

	if err := p.Submit(Job{ID: "run-ok", Source: "test", InputPath: "in.tif", Params: dpr.DefaultParams(4)}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	done, seen := waitFinished(t, events, "run-ok")
	if done.Result == nil || done.Result.Status != storage.StatusCompleted {
		t.Fatalf("unexpected final event %+v", done)
	}

	var types []string
	for _, ev := range seen {
		types = append(types, ev.Type)
	}
	want := []string{EventQueued, EventStarted, EventProgress, EventProgress, EventFinished}
	if fmt.Sprint(types) != fmt.Sprint(want) {
		t.Fatalf("event sequence = %v, want %v", types, want)
	}

	rec, err := store.Run("run-ok")
	if err != nil {
		t.Fatalf("store.Run: %v", err)
	}
	if rec.Status != storage.StatusCompleted || rec.Source != "test" {
		t.Fatalf("stored run = %+v", rec)
	}
	meta, err := store.RunMeta("run-ok")
	if err != nil || meta["slices"] != float64(2) {
		t.Fatalf("stored meta = %v (%v)", meta, err)
	}
}

func TestPipelineFailureStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"failed", fmt.Errorf("%w: boom", dpr.ErrSliceFailed), storage.StatusFailed},
		{"cancelled", fmt.Errorf("%w: %w", dpr.ErrCancelled, context.DeadlineExceeded), storage.StatusCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := openStore(t)
			p := New(context.Background(), Options{Logger: quietLogger(), Store: store, Processor: &stubProcessor{err: tc.err}})
			defer p.Stop()
			events, unsub := p.Subscribe()
			defer unsub()

			if err := p.Submit(Job{ID: "run-" + tc.name}); err != nil {
				t.Fatalf("Submit: %v", err)
			}
			done, _ := waitFinished(t, events, "run-"+tc.name)
			res := done.Result
			if res.Status != tc.want || !errors.Is(res.Error, tc.err) {
				t.Fatalf("result = %+v", res)
			}
			rec, err := store.Run("run-" + tc.name)
			if err != nil {
				t.Fatal(err)
			}
			if rec.Status != tc.want || rec.Error == "" {
				t.Fatalf("stored run = %+v", rec)
			}
		})
	}
}

func TestSubmitQueueFullAndStopped(t *testing.T) {
	stub := &stubProcessor{block: make(chan struct{})}
	p := New(context.Background(), Options{Workers: 1, QueueDepth: 1, Logger: quietLogger(), Processor: stub})

	// first job occupies the worker, second fills the queue
	var err error
	for i := 0; i < 10 && err == nil; i++ {
		err = p.Submit(Job{ID: fmt.Sprintf("j%d", i)})
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	close(stub.block)
	p.Stop()
	if err := p.Submit(Job{ID: "late"}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestStopClosesSubscribers(t *testing.T) {
	p := New(context.Background(), Options{Logger: quietLogger(), Processor: &stubProcessor{}})
	events, _ := p.Subscribe()
	p.Stop()
	select {
	case _, ok := <-events:
		if ok {
			t.Fatalf("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatalf("subscriber channel not closed")
	}
}

func writeStack(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		f := imgproc.NewFrame(6, 6)
		for j := range f.Pix {
			f.Pix[j] = float32(100 + (j*7+i*13)%50)
		}
		if err := imageio.SaveRaw(filepath.Join(dir, fmt.Sprintf("slice_%02d%s", i, imageio.RawExt)), f); err != nil {
			t.Fatal(err)
		}
	}
}

func TestStackRunnerWritesOutputs(t *testing.T) {
	in := filepath.Join(t.TempDir(), "cells")
	if err := os.MkdirAll(in, 0o755); err != nil {
		t.Fatal(err)
	}
	writeStack(t, in, 3)
	out := t.TempDir()

	cases := []struct {
		temporal dpr.TemporalMode
		files    []string
	}{
		{dpr.TemporalMean, []string{"cells_DPR_Mean.tif", "cells_Magnified_Mean.tif"}},
		{dpr.TemporalVariance, []string{"cells_DPR_Var.tif", "cells_Magnified_Mean.tif"}},
		{dpr.TemporalNone, []string{"cells_DPR_Stack_0001.tif", "cells_DPR_Stack_0002.tif", "cells_DPR_Stack_0003.tif", "cells_Magnified_Mean.tif"}},
	}
	for _, tc := range cases {
		t.Run(tc.temporal.String(), func(t *testing.T) {
			r := NewStackRunner(quietLogger())
			r.Workers = 2
			p := dpr.Params{PSF: 2, Gain: 1, Background: 3, Temporal: tc.temporal}
			dir := filepath.Join(out, tc.temporal.String())

			res := r.Process(context.Background(), Job{ID: "r", InputPath: in, Output: dir, Params: p,
				Calibration: dpr.Calibration{PixelWidth: 0.1, PixelHeight: 0.1, Unit: "micron"}}, nil)
			if res.Error != nil {
				t.Fatalf("Process: %v", res.Error)
			}
			for _, name := range tc.files {
				if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
					t.Fatalf("missing output %s: %v", name, err)
				}
			}
			if got := res.Meta["outputs"].([]string); len(got) != len(tc.files) {
				t.Fatalf("outputs = %v", got)
			}
			if res.Meta["slices"] != 3 || res.Meta["unit"] != "micron" {
				t.Fatalf("meta = %v", res.Meta)
			}
		})
	}
}

func TestStackRunnerRejectsBadInput(t *testing.T) {
	r := NewStackRunner(quietLogger())
	res := r.Process(context.Background(), Job{ID: "bad", InputPath: "x", Params: dpr.Params{PSF: -1}}, nil)
	if !errors.Is(res.Error, dpr.ErrInvalidParams) {
		t.Fatalf("expected ErrInvalidParams, got %v", res.Error)
	}

	loaded := false
	r.load = func(string) ([]imgproc.Frame, error) { loaded = true; return nil, nil }
	out := t.TempDir()
	res = r.Process(context.Background(), Job{ID: "escape", InputPath: "x", Output: out, Title: "../../escaped", Params: dpr.DefaultParams(4)}, nil)
	if res.Error == nil || loaded {
		t.Fatalf("expected a title error before loading, got err=%v loaded=%v", res.Error, loaded)
	}

	res = r.Process(context.Background(), Job{ID: "empty", InputPath: "x", Params: dpr.DefaultParams(4)}, nil)
	if !errors.Is(res.Error, dpr.ErrNoInput) {
		t.Fatalf("expected ErrNoInput, got %v", res.Error)
	}
}

func TestCheckTitle(t *testing.T) {
	for _, ok := range []string{"cells", "cells.v2", "run 7"} {
		if err := CheckTitle(ok); err != nil {
			t.Fatalf("CheckTitle(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"", "..", "../x", "a/b", `a\b`, "/abs"} {
		if err := CheckTitle(bad); err == nil {
			t.Fatalf("CheckTitle(%q): expected error", bad)
		}
	}
}

func TestTitle(t *testing.T) {
	if got := Title(Job{InputPath: "/data/cells.tif"}); got != "cells" {
		t.Fatalf("Title = %q", got)
	}
	if got := Title(Job{InputPath: "/data/run7/"}); got != "run7" {
		t.Fatalf("Title = %q", got)
	}
	if got := Title(Job{InputPath: "/data/x.tif", Title: "named"}); got != "named" {
		t.Fatalf("Title = %q", got)
	}
}

package dpr

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"dpr/internal/imgproc"
)

// DefaultTimeout bounds a whole stack run.
const DefaultTimeout = time.Hour

// ProgressFunc is told the 1-based index of each slice as its task starts.
// It is called from worker goroutines.
type ProgressFunc func(current, total int)

// Stack fans a sequence of frames out to parallel slice tasks and combines the
// results. The zero value is ready to use.
type Stack struct {
	Workers  int           // <= 0 means runtime.NumCPU()
	Timeout  time.Duration // <= 0 means DefaultTimeout
	Resizer  imgproc.Resizer
	Progress ProgressFunc
	Logger   *slog.Logger
}

// StackResult holds per-slice results in input order and the combined outputs.
type StackResult struct {
	Slices []SliceResult
	// Reconstructed is either every per-slice reconstruction (Projected false)
	// or a single temporal projection.
	Reconstructed []imgproc.Frame
	Projected     bool
	MagnifiedMean imgproc.Frame
	Geometry      Geometry
	Params        Params
}

// Run processes frames with p. It returns either a complete result or an
// error; partial stacks are never returned. Run returns as soon as ctx is done
// or the timeout elapses, without waiting for slices still in flight.
func (s *Stack) Run(ctx context.Context, frames []imgproc.Frame, p Params) (*StackResult, error) {
	if len(frames) == 0 {
		return nil, ErrNoInput
	}
	for i, f := range frames[1:] {
		if !f.SameSize(frames[0]) {
			return nil, fmt.Errorf("%w: slice %d is %s, slice 0 is %s", ErrDimensionMismatch, i+1, f.Size(), frames[0].Size())
		}
	}

	log := s.Logger
	if log == nil {
		log = slog.Default()
	}
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	timeout := s.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	n := len(frames)
	geom := DeriveGeometry(p, frames[0].Width, frames[0].Height)
	log.Debug("dpr stack started",
		"slices", n,
		"workers", workers,
		"input", frames[0].Size(),
		"output", fmt.Sprintf("%dx%d", geom.NewWidth, geom.NewHeight),
		"magnification", geom.Magnification,
	)

	proc := &Processor{Params: p, Resizer: s.Resizer}
	results := make([]SliceResult, n)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := range frames {
		g.Go(func() (err error) {
			if err := gctx.Err(); err != nil {
				return err
			}
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("slice %d: panic: %v", i, r)
				}
			}()
			if s.Progress != nil {
				s.Progress(i+1, n)
			}
			res, err := proc.Process(gctx, frames[i])
			if err != nil {
				return fmt.Errorf("slice %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	// Tasks still running after the deadline finish in the background; their
	// results are discarded.
	done := make(chan error, 1)
	go func() { done <- g.Wait() }()
	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			log.Warn("dpr stack cancelled", "slices", n, "error", ctxErr)
			return nil, fmt.Errorf("%w: %w", ErrCancelled, ctxErr)
		}
		log.Error("dpr stack failed", "slices", n, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrSliceFailed, err)
	}

	return assemble(results, p, geom)
}

func assemble(results []SliceResult, p Params, geom Geometry) (*StackResult, error) {
	recon := make([]imgproc.Frame, len(results))
	raw := make([]imgproc.Frame, len(results))
	for i, r := range results {
		recon[i] = r.Reconstructed
		raw[i] = r.MagnifiedRaw
	}

	out := &StackResult{Slices: results, Geometry: geom, Params: p}
	switch {
	case len(results) == 1 || p.Temporal == TemporalNone:
		out.Reconstructed = recon
	case p.Temporal == TemporalMean:
		m, err := Mean(recon)
		if err != nil {
			return nil, err
		}
		out.Reconstructed = []imgproc.Frame{m}
		out.Projected = true
	case p.Temporal == TemporalVariance:
		v, err := Variance(recon)
		if err != nil {
			return nil, err
		}
		out.Reconstructed = []imgproc.Frame{v}
		out.Projected = true
	default:
		return nil, fmt.Errorf("%w: unknown temporal mode %d", ErrInvalidParams, int(p.Temporal))
	}

	mag, err := Mean(raw)
	if err != nil {
		return nil, err
	}
	out.MagnifiedMean = mag
	return out, nil
}

// Run processes frames with a default Stack.
func Run(ctx context.Context, frames []imgproc.Frame, p Params) (*StackResult, error) {
	var s Stack
	return s.Run(ctx, frames, p)
}

// IsCancelled reports whether err came from a timed-out or cancelled run.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"dpr/internal/dpr"
	"dpr/internal/imageio"
	"dpr/internal/imgproc"
	"dpr/internal/logging"
)

type loadFunc func(path string) ([]imgproc.Frame, error)

type saveFunc func(path string, f imgproc.Frame) (imageio.Scale, error)

// StackRunner implements Processor: it loads the input stack, reconstructs
// it and writes the outputs into the job's output directory.
type StackRunner struct {
	Workers int
	Timeout time.Duration
	Resizer imgproc.Resizer
	// Format is the output extension, ".tif" when empty.
	Format string
	// KeepRaw also writes lossless float32 copies next to the 16-bit images.
	KeepRaw bool

	log  *slog.Logger
	load loadFunc
	save saveFunc
}

// NewStackRunner returns a runner reading and writing through imageio.
func NewStackRunner(logger *slog.Logger) *StackRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &StackRunner{log: logger, load: imageio.LoadStack, save: imageio.SaveFrame}
}

// Process implements Processor.
func (r *StackRunner) Process(ctx context.Context, job Job, progress dpr.ProgressFunc) Result {
	res := Result{Job: job, Meta: map[string]any{}}
	if err := job.Params.Validate(); err != nil {
		res.Error = err
		return res
	}
	if err := CheckTitle(Title(job)); err != nil {
		res.Error = err
		return res
	}

	logging.LogProcessingStep(r.log, job.ID, "load", "running", map[string]any{"input": job.InputPath})
	frames, err := r.load(job.InputPath)
	if err != nil {
		res.Error = fmt.Errorf("load %s: %w", job.InputPath, err)
		return res
	}
	res.Meta["slices"] = len(frames)

	stack := &dpr.Stack{
		Workers:  r.Workers,
		Timeout:  r.Timeout,
		Resizer:  r.Resizer,
		Progress: progress,
		Logger:   r.log.With("job", job.ID),
	}
	if job.Workers > 0 {
		stack.Workers = job.Workers
	}
	if job.Timeout > 0 {
		stack.Timeout = job.Timeout
	}
	logging.LogProcessingStep(r.log, job.ID, "reconstruct", "running", map[string]any{"slices": len(frames)})
	out, err := stack.Run(ctx, frames, job.Params)
	if err != nil {
		res.Error = err
		return res
	}

	outputs, err := r.write(job, out)
	if err != nil {
		res.Error = err
		return res
	}
	for k, v := range Describe(out, job.Calibration) {
		res.Meta[k] = v
	}
	res.Meta["outputs"] = outputs
	return res
}

func (r *StackRunner) write(job Job, out *dpr.StackResult) ([]string, error) {
	dir := job.Output
	if dir == "" {
		dir = filepath.Dir(job.InputPath)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	ext := r.Format
	if ext == "" {
		ext = ".tif"
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}

	reconTitle, magTitle := dpr.OutputTitles(Title(job), out)
	var paths []string
	writeOne := func(name string, f imgproc.Frame) error {
		path := filepath.Join(dir, name+ext)
		if _, err := r.save(path, f); err != nil {
			return err
		}
		paths = append(paths, path)
		if r.KeepRaw && ext != imageio.RawExt {
			raw := filepath.Join(dir, name+imageio.RawExt)
			if _, err := r.save(raw, f); err != nil {
				return err
			}
			paths = append(paths, raw)
		}
		return nil
	}

	if len(out.Reconstructed) == 1 {
		if err := writeOne(reconTitle, out.Reconstructed[0]); err != nil {
			return paths, err
		}
	} else {
		for i, f := range out.Reconstructed {
			if err := writeOne(fmt.Sprintf("%s_%04d", reconTitle, i+1), f); err != nil {
				return paths, err
			}
		}
	}
	if err := writeOne(magTitle, out.MagnifiedMean); err != nil {
		return paths, err
	}
	return paths, nil
}

// CheckTitle rejects titles that are not a plain file name, so outputs stay
// inside the job's output directory.
func CheckTitle(title string) error {
	if strings.ContainsAny(title, `/\`) || !filepath.IsLocal(title) {
		return fmt.Errorf("invalid title %q: must be a plain file name", title)
	}
	return nil
}

// Title is the job title, or the input's base name without extension.
func Title(job Job) string {
	if job.Title != "" {
		return job.Title
	}
	base := filepath.Base(filepath.Clean(job.InputPath))
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Describe summarizes a finished run for logs, storage and API responses.
func Describe(out *dpr.StackResult, cal dpr.Calibration) map[string]any {
	g := out.Geometry
	meta := map[string]any{
		"slices":        len(out.Slices),
		"projected":     out.Projected,
		"temporal":      out.Params.Temporal.String(),
		"magnification": g.Magnification,
		"psf_1e":        g.PSF1e,
		"input_size":    fmt.Sprintf("%dx%d", g.Width, g.Height),
		"output_size":   fmt.Sprintf("%dx%d", g.NewWidth, g.NewHeight),
	}
	if cal.PixelWidth > 0 {
		mag := cal.Magnify(g.Magnification)
		meta["pixel_width"] = mag.PixelWidth
		meta["pixel_height"] = mag.PixelHeight
		meta["unit"] = mag.Unit
	}
	stats := make([]imgproc.Summary, len(out.Reconstructed))
	for i, f := range out.Reconstructed {
		stats[i] = imgproc.Stats(f)
	}
	meta["stats"] = stats
	meta["magnified_stats"] = imgproc.Stats(out.MagnifiedMean)
	return meta
}

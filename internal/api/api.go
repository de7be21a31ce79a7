// Package api holds the request and response shapes shared by the HTTP and
// gRPC surfaces.
package api

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"dpr/internal/dpr"
	"dpr/internal/imgproc"
	"dpr/internal/pipeline"
)

// Frame is the JSON form of a single image.
type Frame struct {
	Width  int       `json:"width"`
	Height int       `json:"height"`
	Pixels []float32 `json:"pixels"`
}

// ToFrame validates and converts the wire frame.
func (f Frame) ToFrame() (imgproc.Frame, error) {
	return imgproc.FromPixels(f.Width, f.Height, f.Pixels)
}

// FromFrame converts a frame for the wire.
func FromFrame(f imgproc.Frame) Frame {
	return Frame{Width: f.Width, Height: f.Height, Pixels: f.Pix}
}

// ReconstructRequest carries an inline stack. Options accepts gain,
// background and temporal on top of the PSF defaults.
type ReconstructRequest struct {
	PSF     float64        `json:"psf"`
	Options map[string]any `json:"options,omitempty"`
	Frames  []Frame        `json:"frames"`
}

// ReconstructResponse carries the reconstruction and the magnified reference.
type ReconstructResponse struct {
	Params        dpr.Params      `json:"params"`
	Geometry      dpr.Geometry    `json:"geometry"`
	Projected     bool            `json:"projected"`
	Reconstructed []Frame         `json:"reconstructed"`
	MagnifiedMean Frame           `json:"magnified_mean"`
	Stats         imgproc.Summary `json:"stats"`
}

// SubmitRequest asks for a stack on disk to be reconstructed in the background.
type SubmitRequest struct {
	Input       string          `json:"input"`
	Output      string          `json:"output,omitempty"`
	Title       string          `json:"title,omitempty"`
	PSF         float64         `json:"psf"`
	Options     map[string]any  `json:"options,omitempty"`
	Calibration dpr.Calibration `json:"calibration"`
}

// Job validates the request and builds a pipeline job. An empty output
// directory stays empty; callers fill in their own default.
func (r SubmitRequest) Job(id, source string) (pipeline.Job, error) {
	if r.Input == "" {
		return pipeline.Job{}, fmt.Errorf("%w: input is required", ErrBadRequest)
	}
	params, err := dpr.ParseOptions(r.PSF, r.Options)
	if err != nil {
		return pipeline.Job{}, err
	}
	if err := params.Validate(); err != nil {
		return pipeline.Job{}, err
	}
	if r.Title != "" {
		if err := pipeline.CheckTitle(r.Title); err != nil {
			return pipeline.Job{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
	}
	return pipeline.Job{
		ID:          id,
		Source:      source,
		InputPath:   r.Input,
		Output:      r.Output,
		Title:       r.Title,
		Params:      params,
		Calibration: r.Calibration,
	}, nil
}

// ErrBadRequest marks malformed requests that never reached the core.
var ErrBadRequest = errors.New("bad request")

// Roots confines the files a remote caller may name. Inputs lists the
// directories submitted inputs must live under; Output is the directory all
// outputs must live under.
type Roots struct {
	Inputs []string
	Output string
}

// Confine checks job's input against r.Inputs and resolves its output
// directory under r.Output. A relative output is taken relative to r.Output
// and an empty one becomes r.Output/<title>. Paths are compared lexically
// after conversion to absolute form.
func (r Roots) Confine(job *pipeline.Job) error {
	if err := pipeline.CheckTitle(pipeline.Title(*job)); err != nil {
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}

	input, err := filepath.Abs(job.InputPath)
	if err != nil {
		return fmt.Errorf("%w: input %q: %w", ErrBadRequest, job.InputPath, err)
	}
	allowed := false
	for _, root := range r.Inputs {
		if root != "" && within(root, input) {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: input %q is outside the allowed input directories", ErrBadRequest, job.InputPath)
	}

	if r.Output == "" {
		return fmt.Errorf("%w: no output directory is configured", ErrBadRequest)
	}
	output := job.Output
	switch {
	case output == "":
		output = filepath.Join(r.Output, pipeline.Title(*job))
	case !filepath.IsAbs(output):
		output = filepath.Join(r.Output, output)
	}
	if !within(r.Output, output) {
		return fmt.Errorf("%w: output %q is outside %q", ErrBadRequest, job.Output, r.Output)
	}
	job.InputPath = input
	job.Output = output
	return nil
}

func within(root, path string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absPath)
	if err != nil {
		return false
	}
	return rel == "." || filepath.IsLocal(rel)
}

// Params resolves the request's parameters.
func (r ReconstructRequest) Params() (dpr.Params, error) {
	p, err := dpr.ParseOptions(r.PSF, r.Options)
	if err != nil {
		return dpr.Params{}, err
	}
	return p, p.Validate()
}

// Reconstruct runs s on the request's frames.
func Reconstruct(ctx context.Context, s *dpr.Stack, req ReconstructRequest) (*ReconstructResponse, error) {
	p, err := req.Params()
	if err != nil {
		return nil, err
	}
	frames := make([]imgproc.Frame, len(req.Frames))
	for i, wf := range req.Frames {
		f, err := wf.ToFrame()
		if err != nil {
			return nil, fmt.Errorf("%w: frame %d: %v", ErrBadRequest, i, err)
		}
		frames[i] = f
	}

	out, err := s.Run(ctx, frames, p)
	if err != nil {
		return nil, err
	}
	resp := &ReconstructResponse{
		Params:        out.Params,
		Geometry:      out.Geometry,
		Projected:     out.Projected,
		Reconstructed: make([]Frame, len(out.Reconstructed)),
		MagnifiedMean: FromFrame(out.MagnifiedMean),
	}
	for i, f := range out.Reconstructed {
		resp.Reconstructed[i] = FromFrame(f)
	}
	if len(out.Reconstructed) > 0 {
		resp.Stats = imgproc.Stats(out.Reconstructed[0])
	}
	return resp, nil
}

// IsClientError reports whether err was caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrBadRequest) ||
		errors.Is(err, dpr.ErrInvalidParams) ||
		errors.Is(err, dpr.ErrNoInput) ||
		errors.Is(err, dpr.ErrDimensionMismatch)
}

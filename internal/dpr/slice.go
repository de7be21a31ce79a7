package dpr

import (
	"context"

	"dpr/internal/imgproc"
)

var (
	// gradientYKernel differentiates along columns and feeds the column
	// displacement; gradientXKernel differentiates along rows and feeds the
	// row displacement. This pairing reproduces the reference output.
	gradientYKernel = imgproc.Kernel3x3{-1, 0, 1, -2, 0, 2, -1, 0, 1}
	gradientXKernel = imgproc.Kernel3x3{-1, -2, -1, 0, 0, 0, 1, 2, 1}
)

// SliceResult is the output of one processed frame.
type SliceResult struct {
	Reconstructed imgproc.Frame
	MagnifiedRaw  imgproc.Frame
}

// DisplacementField holds per-pixel row (DX) and column (DY) offsets.
type DisplacementField struct {
	DX imgproc.Frame
	DY imgproc.Frame
}

// Processor runs the single-frame pipeline with a fixed parameter set.
type Processor struct {
	Params  Params
	Resizer imgproc.Resizer
}

// NewProcessor returns a Processor using the default bicubic resizer.
func NewProcessor(p Params) *Processor {
	return &Processor{Params: p, Resizer: imgproc.BicubicResizer{}}
}

// ProcessSlice runs the pipeline on f with the default resizer.
func ProcessSlice(f imgproc.Frame, p Params) SliceResult {
	res, _ := NewProcessor(p).Process(context.Background(), f)
	return res
}

// Process reconstructs one frame. The input is not modified. The only error
// is ctx.Err(), checked between stages and per row of the local minimum pass.
func (p *Processor) Process(ctx context.Context, f imgproc.Frame) (SliceResult, error) {
	resizer := p.Resizer
	if resizer == nil {
		resizer = imgproc.BicubicResizer{}
	}
	geom := DeriveGeometry(p.Params, f.Width, f.Height)

	shifted := SubtractMinimum(f)
	background, err := localMinimum(ctx, shifted, p.Params.Background)
	if err != nil {
		return SliceResult{}, err
	}

	bgMagnified := PostProcessAndPad(resizer.Resize(background, geom.NewWidth, geom.NewHeight), Padding)
	rawMagnified := PostProcessAndPad(resizer.Resize(shifted, geom.NewWidth, geom.NewHeight), Padding)
	if err := ctx.Err(); err != nil {
		return SliceResult{}, err
	}

	normalized := Normalize(bgMagnified)
	field := Displacements(normalized, p.Params.GainValue())
	if err := ctx.Err(); err != nil {
		return SliceResult{}, err
	}

	out := Scatter(rawMagnified, field)
	return SliceResult{
		Reconstructed: out.Crop(Padding, Padding, geom.NewWidth, geom.NewHeight),
		MagnifiedRaw:  rawMagnified.Crop(Padding, Padding, geom.NewWidth, geom.NewHeight),
	}, nil
}

// PostProcessAndPad clips negative values of f to zero and surrounds it with
// a zero border of the given width. f itself is left untouched.
func PostProcessAndPad(f imgproc.Frame, padding int) imgproc.Frame {
	clipped := f.Clone()
	clipped.ClipNegative()
	return clipped.Pad(padding)
}

// Normalize divides f by its Gaussian-blurred self (sigma 10) so gradients
// follow local structure rather than overall brightness.
func Normalize(f imgproc.Frame) imgproc.Frame {
	blurred := imgproc.GaussianBlur(f, normalizationSigma, normalizationSigma, normalizationAccuracy)
	out := imgproc.NewFrame(f.Width, f.Height)
	for i, v := range f.Pix {
		out.Pix[i] = v / (blurred.Pix[i] + epsilon)
	}
	return out
}

// Gradients returns the intensity-scaled row and column gradients of a
// normalized frame.
func Gradients(normalized imgproc.Frame) (gradX, gradY imgproc.Frame) {
	gradY = imgproc.Convolve3x3(normalized, gradientYKernel)
	gradX = imgproc.Convolve3x3(normalized, gradientXKernel)
	for i, v := range normalized.Pix {
		gradX.Pix[i] /= v + epsilon
		gradY.Pix[i] /= v + epsilon
	}
	return gradX, gradY
}

// Displacements scales the gradients of normalized by gain and discards
// (sets to exactly zero) every offset larger than DisplacementLimit.
func Displacements(normalized imgproc.Frame, gain float32) DisplacementField {
	gradX, gradY := Gradients(normalized)
	field := DisplacementField{
		DX: imgproc.NewFrame(gradX.Width, gradX.Height),
		DY: imgproc.NewFrame(gradY.Width, gradY.Height),
	}
	for i := range gradX.Pix {
		field.DX.Pix[i] = limit(gain*gradX.Pix[i], DisplacementLimit)
		field.DY.Pix[i] = limit(gain*gradY.Pix[i], DisplacementLimit)
	}
	return field
}

func limit(v, bound float32) float32 {
	if v > bound || v < -bound {
		return 0
	}
	return v
}

// Scatter pushes every interior pixel of raw to the four cells around its
// displaced position with bilinear weights. raw and the field share the
// padded size; the result has that size too.
//
// The accumulator carries an extra one-cell ring: an offset of exactly
// +-DisplacementLimit plus a sign step reaches one cell past the padding.
// Such writes always carry zero weight and the ring is dropped.
func Scatter(raw imgproc.Frame, field DisplacementField) imgproc.Frame {
	pw, ph := raw.Width, raw.Height
	aw := pw + 2
	acc := make([]float32, aw*(ph+2))
	add := func(row, col int, v float32) {
		acc[(row+1)*aw+col+1] += v
	}

	for nx := Padding; nx < ph-Padding; nx++ {
		for ny := Padding; ny < pw-Padding; ny++ {
			idx := nx*pw + ny
			dx := field.DX.Pix[idx]
			dy := field.DY.Pix[idx]

			ix, iy := trunc(dx), trunc(dy)
			sx, sy := sign(dx), sign(dy)
			fx := abs32(dx - float32(ix))
			fy := abs32(dy - float32(iy))

			w1 := (1 - fx) * (1 - fy)
			w2 := (1 - fx) * fy
			w3 := fx * (1 - fy)
			w4 := fx * fy

			v := raw.Pix[idx]
			add(nx+ix, ny+iy, w1*v)
			add(nx+ix, ny+iy+sy, w2*v)
			add(nx+ix+sx, ny+iy, w3*v)
			add(nx+ix+sx, ny+iy+sy, w4*v)
		}
	}

	out := imgproc.NewFrame(pw, ph)
	for row := 0; row < ph; row++ {
		copy(out.Pix[row*pw:(row+1)*pw], acc[(row+1)*aw+1:(row+1)*aw+1+pw])
	}
	return out
}

// trunc rounds toward zero; NaN maps to 0.
func trunc(v float32) int {
	if v != v {
		return 0
	}
	return int(v)
}

func sign(v float32) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}

func abs32(v float32) float32 {
	if v < 0 {
		return -v
	}
	return v
}

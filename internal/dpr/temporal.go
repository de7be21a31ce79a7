package dpr

import (
	"fmt"

	"dpr/internal/imgproc"
)

// Mean returns the pixelwise arithmetic mean of frames.
func Mean(frames []imgproc.Frame) (imgproc.Frame, error) {
	if err := checkSequence(frames); err != nil {
		return imgproc.Frame{}, err
	}
	out := imgproc.NewFrame(frames[0].Width, frames[0].Height)
	for _, f := range frames {
		for j, v := range f.Pix {
			out.Pix[j] += v
		}
	}
	scale(out, 1.0/float64(len(frames)))
	return out, nil
}

// Variance returns the pixelwise sample variance (Bessel-corrected) of frames.
// A single frame is returned unchanged.
func Variance(frames []imgproc.Frame) (imgproc.Frame, error) {
	if err := checkSequence(frames); err != nil {
		return imgproc.Frame{}, err
	}
	if len(frames) == 1 {
		return frames[0].Clone(), nil
	}
	mean, err := Mean(frames)
	if err != nil {
		return imgproc.Frame{}, err
	}
	out := imgproc.NewFrame(mean.Width, mean.Height)
	for _, f := range frames {
		for j, v := range f.Pix {
			d := v - mean.Pix[j]
			out.Pix[j] += d * d
		}
	}
	scale(out, 1.0/float64(len(frames)-1))
	return out, nil
}

// scale multiplies in double precision and rounds back, like the reference.
func scale(f imgproc.Frame, s float64) {
	for i, v := range f.Pix {
		f.Pix[i] = float32(float64(v) * s)
	}
}

func checkSequence(frames []imgproc.Frame) error {
	if len(frames) == 0 {
		return ErrNoFrames
	}
	first := frames[0]
	for i, f := range frames[1:] {
		if !f.SameSize(first) || len(f.Pix) != len(first.Pix) {
			return fmt.Errorf("%w: frame %d is %s, frame 0 is %s", ErrDimensionMismatch, i+1, f.Size(), first.Size())
		}
	}
	return nil
}

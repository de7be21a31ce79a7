package imgproc

import (
	"fmt"
	"math"
)

// Frame is a single-channel float32 image stored row-major.
type Frame struct {
	Width  int
	Height int
	Pix    []float32
}

// NewFrame allocates a zeroed frame.
func NewFrame(width, height int) Frame {
	if width < 0 {
		width = 0
	}
	if height < 0 {
		height = 0
	}
	return Frame{Width: width, Height: height, Pix: make([]float32, width*height)}
}

// FromPixels wraps pix without copying. len(pix) must equal width*height.
func FromPixels(width, height int, pix []float32) (Frame, error) {
	if width < 0 || height < 0 || len(pix) != width*height {
		return Frame{}, fmt.Errorf("frame %dx%d does not match %d pixels", width, height, len(pix))
	}
	return Frame{Width: width, Height: height, Pix: pix}, nil
}

// Clone returns a deep copy.
func (f Frame) Clone() Frame {
	out := Frame{Width: f.Width, Height: f.Height, Pix: make([]float32, len(f.Pix))}
	copy(out.Pix, f.Pix)
	return out
}

// Empty reports whether the frame holds no pixels.
func (f Frame) Empty() bool {
	return f.Width == 0 || f.Height == 0
}

// At returns the pixel at column x, row y.
func (f Frame) At(x, y int) float32 {
	return f.Pix[y*f.Width+x]
}

// Set writes the pixel at column x, row y.
func (f Frame) Set(x, y int, v float32) {
	f.Pix[y*f.Width+x] = v
}

// SameSize reports whether both frames share dimensions.
func (f Frame) SameSize(o Frame) bool {
	return f.Width == o.Width && f.Height == o.Height
}

// Size formats the dimensions as WxH.
func (f Frame) Size() string {
	return fmt.Sprintf("%dx%d", f.Width, f.Height)
}

// Min returns the smallest pixel value, or 0 for an empty frame.
func (f Frame) Min() float32 {
	if len(f.Pix) == 0 {
		return 0
	}
	m := float32(math.MaxFloat32)
	for _, p := range f.Pix {
		if p < m {
			m = p
		}
	}
	return m
}

// Max returns the largest pixel value, or 0 for an empty frame.
func (f Frame) Max() float32 {
	if len(f.Pix) == 0 {
		return 0
	}
	m := float32(-math.MaxFloat32)
	for _, p := range f.Pix {
		if p > m {
			m = p
		}
	}
	return m
}

// Add adds v to every pixel in place.
func (f Frame) Add(v float32) {
	for i := range f.Pix {
		f.Pix[i] += v
	}
}

// Scale multiplies every pixel by v in place.
func (f Frame) Scale(v float32) {
	for i := range f.Pix {
		f.Pix[i] *= v
	}
}

// ClipNegative sets negative pixels to zero in place.
func (f Frame) ClipNegative() {
	for i, p := range f.Pix {
		if p < 0 {
			f.Pix[i] = 0
		}
	}
}

// Crop copies the w x h region whose top-left corner is (x, y).
// The region is clipped to the frame bounds.
func (f Frame) Crop(x, y, w, h int) Frame {
	if x < 0 {
		w += x
		x = 0
	}
	if y < 0 {
		h += y
		y = 0
	}
	if x+w > f.Width {
		w = f.Width - x
	}
	if y+h > f.Height {
		h = f.Height - y
	}
	if w <= 0 || h <= 0 {
		return NewFrame(0, 0)
	}
	out := NewFrame(w, h)
	for row := 0; row < out.Height; row++ {
		src := (y+row)*f.Width + x
		copy(out.Pix[row*out.Width:(row+1)*out.Width], f.Pix[src:src+out.Width])
	}
	return out
}

// Pad returns a copy surrounded by n zero pixels on every side.
func (f Frame) Pad(n int) Frame {
	if n < 0 {
		n = 0
	}
	out := NewFrame(f.Width+2*n, f.Height+2*n)
	for row := 0; row < f.Height; row++ {
		dst := (row+n)*out.Width + n
		copy(out.Pix[dst:dst+f.Width], f.Pix[row*f.Width:(row+1)*f.Width])
	}
	return out
}

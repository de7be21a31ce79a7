package imgproc

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func constFrame(w, h int, v float32) Frame {
	f := NewFrame(w, h)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func rampFrame(w, h int) Frame {
	f := NewFrame(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			f.Set(x, y, float32(x+10*y))
		}
	}
	return f
}

func TestPadCropRoundTrip(t *testing.T) {
	src := rampFrame(5, 3)
	padded := src.Pad(10)
	if padded.Width != 25 || padded.Height != 23 {
		t.Fatalf("expected 25x23, got %s", padded.Size())
	}
	for y := 0; y < padded.Height; y++ {
		for x := 0; x < padded.Width; x++ {
			inside := x >= 10 && x < 15 && y >= 10 && y < 13
			if !inside && padded.At(x, y) != 0 {
				t.Fatalf("border pixel (%d,%d) = %v, want 0", x, y, padded.At(x, y))
			}
		}
	}
	back := padded.Crop(10, 10, 5, 3)
	if diff := cmp.Diff(src, back); diff != "" {
		t.Fatalf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestCropClipsToBounds(t *testing.T) {
	f := rampFrame(4, 4)
	c := f.Crop(2, 2, 10, 10)
	if c.Width != 2 || c.Height != 2 {
		t.Fatalf("expected 2x2, got %s", c.Size())
	}
	if c.At(0, 0) != f.At(2, 2) {
		t.Fatalf("crop origin mismatch")
	}
	if e := f.Crop(8, 8, 2, 2); !e.Empty() {
		t.Fatalf("expected empty crop outside frame, got %s", e.Size())
	}
}

func TestFromPixelsValidatesLength(t *testing.T) {
	if _, err := FromPixels(2, 2, make([]float32, 3)); err == nil {
		t.Fatalf("expected error for short pixel slice")
	}
	if _, err := FromPixels(2, 2, make([]float32, 4)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestMinMaxClip(t *testing.T) {
	f, _ := FromPixels(2, 2, []float32{-3, 1, 7, 2})
	if f.Min() != -3 || f.Max() != 7 {
		t.Fatalf("min/max = %v/%v", f.Min(), f.Max())
	}
	f.ClipNegative()
	if f.Pix[0] != 0 || f.Pix[2] != 7 {
		t.Fatalf("unexpected clip result %v", f.Pix)
	}
}

func TestResizeBicubicDimensionsAndConstant(t *testing.T) {
	cases := []struct {
		name         string
		w, h, nw, nh int
	}{
		{"upscale", 4, 4, 8, 8},
		{"non-square", 6, 3, 17, 9},
		{"single-row", 5, 1, 12, 2},
		{"downscale", 10, 10, 4, 4},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := ResizeBicubic(constFrame(tc.w, tc.h, 42), tc.nw, tc.nh)
			if out.Width != tc.nw || out.Height != tc.nh {
				t.Fatalf("expected %dx%d, got %s", tc.nw, tc.nh, out.Size())
			}
			for i, p := range out.Pix {
				if math.Abs(float64(p)-42) > 1e-3 {
					t.Fatalf("pixel %d = %v, want 42", i, p)
				}
			}
		})
	}
}

func TestResizeBicubicSameSizeCopies(t *testing.T) {
	src := rampFrame(3, 3)
	out := ResizeBicubic(src, 3, 3)
	out.Pix[0] = 99
	if src.Pix[0] == 99 {
		t.Fatalf("same-size resize must not alias the source")
	}
}

func TestResizeBicubicPreservesOrientation(t *testing.T) {
	out := ResizeBicubic(rampFrame(6, 6), 12, 12)
	if !(out.At(11, 6) > out.At(0, 6)) {
		t.Fatalf("expected increasing values along x")
	}
	if !(out.At(6, 11) > out.At(6, 0)) {
		t.Fatalf("expected increasing values along y")
	}
}

func TestGaussianKernelNormalized(t *testing.T) {
	k := GaussianKernel(10, 0.01)
	if len(k) != 32 {
		t.Fatalf("expected radius 32, got %d", len(k))
	}
	sum := k[0]
	for _, v := range k[1:] {
		sum += 2 * v
	}
	if math.Abs(sum-1) > 1e-12 {
		t.Fatalf("kernel sum = %v", sum)
	}
}

func TestGaussianBlurConstantAndImpulse(t *testing.T) {
	flat := GaussianBlur(constFrame(7, 5, 3), 2, 2, 0.01)
	opt := cmpopts.EquateApprox(0, 1e-5)
	if diff := cmp.Diff(constFrame(7, 5, 3).Pix, flat.Pix, opt); diff != "" {
		t.Fatalf("constant frame changed by blur:\n%s", diff)
	}

	imp := NewFrame(21, 21)
	imp.Set(10, 10, 1)
	out := GaussianBlur(imp, 2, 2, 0.01)
	var total float64
	for _, p := range out.Pix {
		total += float64(p)
	}
	if math.Abs(total-1) > 1e-4 {
		t.Fatalf("impulse energy = %v, want 1", total)
	}
	if out.At(10, 10) <= out.At(11, 10) || out.At(11, 10) != out.At(9, 10) {
		t.Fatalf("blurred impulse is not symmetric around the centre")
	}
	if imp.At(10, 10) != 1 {
		t.Fatalf("blur must not modify its input")
	}
}

// The sampled kernel is close to, not identical with, the continuous Gaussian;
// comparisons against other implementations need a tolerance.
func TestGaussianBlurMatchesAnalyticPeak(t *testing.T) {
	imp := NewFrame(41, 41)
	imp.Set(20, 20, 1)
	const sigma = 3.0
	out := GaussianBlur(imp, sigma, sigma, 0.002)
	want := 1 / (2 * math.Pi * sigma * sigma)
	got := float64(out.At(20, 20))
	if math.Abs(got-want)/want > 0.01 {
		t.Fatalf("peak = %v, want %v within 1%%", got, want)
	}
}

func TestConvolve3x3(t *testing.T) {
	horizontal := Kernel3x3{-1, 0, 1, -2, 0, 2, -1, 0, 1}
	vertical := Kernel3x3{-1, -2, -1, 0, 0, 0, 1, 2, 1}
	f := rampFrame(5, 5)

	gx := Convolve3x3(f, horizontal)
	if got := gx.At(2, 2); got != 8 {
		t.Fatalf("horizontal response = %v, want 8", got)
	}
	// replicated edge: left neighbour equals the pixel itself
	if got := gx.At(0, 2); got != 4 {
		t.Fatalf("edge response = %v, want 4", got)
	}
	gy := Convolve3x3(f, vertical)
	if got := gy.At(2, 2); got != 80 {
		t.Fatalf("vertical response = %v, want 80", got)
	}

	box := Convolve3x3(constFrame(3, 3, 5), Kernel3x3{1, 1, 1, 1, 1, 1, 1, 1, 1})
	for _, p := range box.Pix {
		if math.Abs(float64(p)-5) > 1e-6 {
			t.Fatalf("normalized box filter changed constant frame: %v", box.Pix)
		}
	}
}

func TestStats(t *testing.T) {
	f, _ := FromPixels(2, 2, []float32{1, 2, 3, 4})
	s := Stats(f)
	if s.Min != 1 || s.Max != 4 || s.Mean != 2.5 {
		t.Fatalf("unexpected summary %+v", s)
	}
	if math.Abs(s.StdDev-math.Sqrt(5.0/3.0)) > 1e-9 {
		t.Fatalf("stddev = %v", s.StdDev)
	}
	if (Stats(Frame{}) != Summary{}) {
		t.Fatalf("empty frame should give zero summary")
	}
}

func TestNewResizer(t *testing.T) {
	r, err := NewResizer("")
	if err != nil {
		t.Fatalf("default backend: %v", err)
	}
	if _, ok := r.(BicubicResizer); !ok {
		t.Fatalf("expected BicubicResizer, got %T", r)
	}
	if _, err := NewResizer("lanczos-9000"); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
}

package dpr

import (
	"context"
	"errors"
	"testing"

	"dpr/internal/imgproc"
)

func filled(w, h int, v float32) imgproc.Frame {
	f := imgproc.NewFrame(w, h)
	for i := range f.Pix {
		f.Pix[i] = v
	}
	return f
}

func TestLocalMinimumConstantIsZero(t *testing.T) {
	for _, r := range []int{0, 1, 3, 50} {
		out := LocalMinimum(filled(6, 4, 12.5), r)
		for i, p := range out.Pix {
			if p != 0 {
				t.Fatalf("radius %d: pixel %d = %v, want 0", r, i, p)
			}
		}
	}
}

func TestLocalMinimumWindow(t *testing.T) {
	// 1 2 3
	// 4 5 6
	// 7 8 9
	f, _ := imgproc.FromPixels(3, 3, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9})
	out := LocalMinimum(f, 1)
	want := []float32{0, 1, 1, 3, 4, 4, 3, 4, 4}
	for i := range want {
		if out.Pix[i] != want[i] {
			t.Fatalf("got %v, want %v", out.Pix, want)
		}
	}
	if zero := LocalMinimum(f, 0); zero.Max() != 0 {
		t.Fatalf("radius 0 must yield zeros, got %v", zero.Pix)
	}
	if neg := LocalMinimum(f, -4); neg.Max() != 0 {
		t.Fatalf("negative radius must act as 0, got %v", neg.Pix)
	}
	if f.Pix[4] != 5 {
		t.Fatalf("input modified")
	}
}

func TestSubtractMinimum(t *testing.T) {
	f, _ := imgproc.FromPixels(2, 2, []float32{-3.25, 10, 4, 7})
	out := SubtractMinimum(f)
	if out.Min() != 0 {
		t.Fatalf("min after shift = %v", out.Min())
	}
	if out.Pix[1] != 13.25 {
		t.Fatalf("unexpected shift %v", out.Pix)
	}
	if f.Pix[0] != -3.25 {
		t.Fatalf("input modified")
	}
}

func TestLocalMinimumStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := localMinimum(ctx, filled(300, 300, 1), 68); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	out, err := localMinimum(context.Background(), filled(5, 5, 2), 1)
	if err != nil || out.Max() != 0 {
		t.Fatalf("uncancelled pass: max=%v err=%v", out.Max(), err)
	}
}

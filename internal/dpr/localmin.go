package dpr

import (
	"context"
	"math"

	"dpr/internal/imgproc"
)

// LocalMinimum returns f minus the minimum of the (2r+1)x(2r+1) window around
// each pixel. The window is clipped at the frame border. A negative radius is
// treated as zero.
func LocalMinimum(f imgproc.Frame, radius int) imgproc.Frame {
	out, _ := localMinimum(context.Background(), f, radius)
	return out
}

// localMinimum is LocalMinimum with ctx checked once per output row.
func localMinimum(ctx context.Context, f imgproc.Frame, radius int) (imgproc.Frame, error) {
	if radius < 0 {
		radius = 0
	}
	w, h := f.Width, f.Height
	out := imgproc.NewFrame(w, h)
	for y := 0; y < h; y++ {
		if err := ctx.Err(); err != nil {
			return imgproc.Frame{}, err
		}
		uMin := max(0, y-radius)
		uMax := min(h-1, y+radius)
		for x := 0; x < w; x++ {
			vMin := max(0, x-radius)
			vMax := min(w-1, x+radius)
			localMin := float32(math.MaxFloat32)
			for u := uMin; u <= uMax; u++ {
				row := f.Pix[u*w : (u+1)*w]
				for v := vMin; v <= vMax; v++ {
					if row[v] < localMin {
						localMin = row[v]
					}
				}
			}
			out.Pix[y*w+x] = f.Pix[y*w+x] - localMin
		}
	}
	return out, nil
}

// SubtractMinimum returns a copy of f shifted so its smallest value is zero.
func SubtractMinimum(f imgproc.Frame) imgproc.Frame {
	out := f.Clone()
	out.Add(-f.Min())
	return out
}

package imgproc

// Kernel3x3 is a row-major 3x3 filter kernel.
type Kernel3x3 [9]float32

// Convolve3x3 applies k to f without flipping the kernel, so k[0] weights the
// upper-left neighbour. Edge pixels are replicated beyond the frame. When the
// kernel sum is non-zero the result is divided by it.
func Convolve3x3(f Frame, k Kernel3x3) Frame {
	out := NewFrame(f.Width, f.Height)
	if f.Empty() {
		return out
	}
	var sum float64
	for _, v := range k {
		sum += float64(v)
	}
	scale := 1.0
	if sum != 0 {
		scale = 1 / sum
	}

	w, h := f.Width, f.Height
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var acc float64
			i := 0
			for v := -1; v <= 1; v++ {
				yy := clampIndex(y+v, h)
				for u := -1; u <= 1; u++ {
					xx := clampIndex(x+u, w)
					acc += float64(f.Pix[yy*w+xx]) * float64(k[i])
					i++
				}
			}
			out.Pix[y*w+x] = float32(acc * scale)
		}
	}
	return out
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i >= n {
		return n - 1
	}
	return i
}

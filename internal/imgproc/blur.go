package imgproc

import "math"

// GaussianKernel returns the one-sided Gaussian kernel for sigma, where
// element 0 is the centre weight. The radius is ceil(sigma*sqrt(-2 ln accuracy))+1
// and the full (two-sided) kernel sums to 1.
func GaussianKernel(sigma, accuracy float64) []float64 {
	if sigma <= 0 {
		return []float64{1}
	}
	if accuracy <= 0 || accuracy >= 1 {
		accuracy = 0.002
	}
	radius := int(math.Ceil(sigma*math.Sqrt(-2*math.Log(accuracy)))) + 1
	k := make([]float64, radius)
	for i := range k {
		k[i] = math.Exp(-0.5 * float64(i*i) / (sigma * sigma))
	}
	sum := k[0]
	for _, v := range k[1:] {
		sum += 2 * v
	}
	for i := range k {
		k[i] /= sum
	}
	return k
}

// GaussianBlur applies a separable Gaussian blur and returns a new frame.
// Pixels outside the frame take the value of the nearest edge pixel.
// The kernel is a plain truncated Gaussian, so results match ImageJ's
// blurFloat closely but not bit for bit.
func GaussianBlur(f Frame, sigmaX, sigmaY, accuracy float64) Frame {
	out := f.Clone()
	if f.Empty() {
		return out
	}
	if sigmaX > 0 {
		k := GaussianKernel(sigmaX, accuracy)
		line := make([]float64, f.Width)
		for y := 0; y < f.Height; y++ {
			row := out.Pix[y*f.Width : (y+1)*f.Width]
			for i, v := range row {
				line[i] = float64(v)
			}
			blurLine(line, row, k)
		}
	}
	if sigmaY > 0 {
		k := GaussianKernel(sigmaY, accuracy)
		line := make([]float64, f.Height)
		col := make([]float32, f.Height)
		for x := 0; x < f.Width; x++ {
			for y := 0; y < f.Height; y++ {
				line[y] = float64(out.Pix[y*f.Width+x])
			}
			blurLine(line, col, k)
			for y := 0; y < f.Height; y++ {
				out.Pix[y*f.Width+x] = col[y]
			}
		}
	}
	return out
}

func blurLine(in []float64, out []float32, k []float64) {
	n := len(in)
	last := n - 1
	for i := 0; i < n; i++ {
		sum := k[0] * in[i]
		for j := 1; j < len(k); j++ {
			left := i - j
			if left < 0 {
				left = 0
			}
			right := i + j
			if right > last {
				right = last
			}
			sum += k[j] * (in[left] + in[right])
		}
		out[i] = float32(sum)
	}
}

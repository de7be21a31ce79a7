package imgproc

import (
	"gonum.org/v1/gonum/stat"
)

// Summary holds descriptive statistics of a frame.
type Summary struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"stddev"`
}

// Stats summarizes the pixel distribution of f.
func Stats(f Frame) Summary {
	if len(f.Pix) == 0 {
		return Summary{}
	}
	xs := make([]float64, len(f.Pix))
	for i, p := range f.Pix {
		xs[i] = float64(p)
	}
	mean, std := stat.MeanStdDev(xs, nil)
	if len(xs) < 2 {
		std = 0
	}
	return Summary{
		Min:    float64(f.Min()),
		Max:    float64(f.Max()),
		Mean:   mean,
		StdDev: std,
	}
}

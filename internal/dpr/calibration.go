package dpr

import "strings"

// Calibration describes the physical size of one pixel.
type Calibration struct {
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
	Unit        string  `json:"unit"`
}

// Magnify returns the calibration of an image upsampled by m. Missing or
// pixel units become microns.
func (c Calibration) Magnify(m float64) Calibration {
	out := c
	switch strings.ToLower(strings.TrimSpace(c.Unit)) {
	case "", "pixel", "pixels":
		out.Unit = "µm"
	}
	if m > 0 {
		out.PixelWidth = c.PixelWidth / m
		out.PixelHeight = c.PixelHeight / m
	}
	return out
}

// OutputTitles returns the display names of the reconstructed output and the
// magnified reference for an input called title.
func OutputTitles(title string, res *StackResult) (reconstructed, magnified string) {
	suffix := "_DPR_Stack"
	if res != nil && res.Projected {
		switch res.Params.Temporal {
		case TemporalMean:
			suffix = "_DPR_Mean"
		case TemporalVariance:
			suffix = "_DPR_Var"
		}
	}
	return title + suffix, title + "_Magnified_Mean"
}

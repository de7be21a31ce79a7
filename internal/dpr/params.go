package dpr

import (
	"fmt"
	"math"
	"strings"
)

const (
	// Padding is the zero border added around magnified frames.
	Padding = 10
	// DisplacementLimit is the magnitude above which displacements are discarded.
	DisplacementLimit = 10
	// FWHMToRadius converts a PSF FWHM to its 1/e radius.
	FWHMToRadius = 1.6651

	normalizationSigma    = 10
	normalizationAccuracy = 0.01
	epsilon               = float32(1e-5)
)

// TemporalMode selects how per-slice reconstructions are combined.
type TemporalMode int

const (
	TemporalNone TemporalMode = iota
	TemporalMean
	TemporalVariance
)

func (m TemporalMode) String() string {
	switch m {
	case TemporalNone:
		return "none"
	case TemporalMean:
		return "mean"
	case TemporalVariance:
		return "var"
	default:
		return fmt.Sprintf("TemporalMode(%d)", int(m))
	}
}

// ParseTemporalMode accepts none, mean, var and variance (case-insensitive).
// The empty string maps to TemporalNone.
func ParseTemporalMode(s string) (TemporalMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return TemporalNone, nil
	case "mean":
		return TemporalMean, nil
	case "var", "variance":
		return TemporalVariance, nil
	default:
		return TemporalNone, fmt.Errorf("%w: unknown temporal mode %q", ErrInvalidParams, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (m TemporalMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *TemporalMode) UnmarshalText(b []byte) error {
	v, err := ParseTemporalMode(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Params is the immutable parameter set of one run.
type Params struct {
	PSF        float64      `json:"psf" yaml:"psf"`               // FWHM in pixels
	Gain       float64      `json:"gain" yaml:"gain"`             // displacement gain
	Background int          `json:"background" yaml:"background"` // local-minimum radius
	Temporal   TemporalMode `json:"temporal" yaml:"temporal"`
}

// DefaultParams mirrors the reference defaults for a given PSF: gain 1,
// background radius ceil(17*psf) and no temporal combination.
func DefaultParams(psf float64) Params {
	return Params{
		PSF:        psf,
		Gain:       1,
		Background: int(math.Ceil(17 * psf)),
		Temporal:   TemporalNone,
	}
}

// Validate rejects parameter sets a host should never hand to the core.
func (p Params) Validate() error {
	if math.IsNaN(p.PSF) || math.IsInf(p.PSF, 0) || p.PSF <= 0 {
		return fmt.Errorf("%w: psf must be a positive number, got %v", ErrInvalidParams, p.PSF)
	}
	if math.IsNaN(p.Gain) || math.IsInf(p.Gain, 0) {
		return fmt.Errorf("%w: gain must be finite, got %v", ErrInvalidParams, p.Gain)
	}
	if p.Background < 0 {
		return fmt.Errorf("%w: background radius must be >= 0, got %d", ErrInvalidParams, p.Background)
	}
	if p.Temporal < TemporalNone || p.Temporal > TemporalVariance {
		return fmt.Errorf("%w: unknown temporal mode %d", ErrInvalidParams, int(p.Temporal))
	}
	return nil
}

// GainValue is the multiplier applied to normalized gradients.
func (p Params) GainValue() float32 {
	return float32(0.5*p.Gain + 1.0)
}

// ParseOptions overlays opts on DefaultParams(psf). Recognized keys are
// gain, background and temporal; any other key is an error.
func ParseOptions(psf float64, opts map[string]any) (Params, error) {
	p := DefaultParams(psf)
	for key, value := range opts {
		switch key {
		case "gain":
			v, err := toFloat(value)
			if err != nil {
				return Params{}, fmt.Errorf("%w: gain: %v", ErrInvalidParams, err)
			}
			p.Gain = v
		case "background":
			v, err := toFloat(value)
			if err != nil {
				return Params{}, fmt.Errorf("%w: background: %v", ErrInvalidParams, err)
			}
			p.Background = int(math.Ceil(v))
		case "temporal":
			switch v := value.(type) {
			case nil:
				p.Temporal = TemporalNone
			case string:
				m, err := ParseTemporalMode(v)
				if err != nil {
					return Params{}, err
				}
				p.Temporal = m
			case TemporalMode:
				p.Temporal = v
			default:
				return Params{}, fmt.Errorf("%w: temporal: unsupported type %T", ErrInvalidParams, value)
			}
		default:
			return Params{}, fmt.Errorf("%w: unknown parameter %q", ErrInvalidParams, key)
		}
	}
	return p, p.Validate()
}

func toFloat(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// Geometry holds the sizes derived from the PSF for one input size.
type Geometry struct {
	PSF1e         float64 `json:"psf_1e"`
	Magnification float64 `json:"magnification"`
	Width         int     `json:"width"`
	Height        int     `json:"height"`
	NewWidth      int     `json:"new_width"`
	NewHeight     int     `json:"new_height"`
}

// DeriveGeometry computes the magnification and target size for a w x h input.
// A non-positive 1/e radius falls back to magnification 1 and the input size.
func DeriveGeometry(p Params, w, h int) Geometry {
	g := Geometry{PSF1e: p.PSF / FWHMToRadius, Width: w, Height: h}
	if g.PSF1e > 0 {
		g.Magnification = 5.0 / g.PSF1e
		g.NewWidth = roundHalfUp(5 * float64(w) / g.PSF1e)
		g.NewHeight = roundHalfUp(5 * float64(h) / g.PSF1e)
	} else {
		g.Magnification = 1.0
		g.NewWidth, g.NewHeight = w, h
	}
	return g
}

// PaddedWidth is the width of the padded working grid.
func (g Geometry) PaddedWidth() int { return g.NewWidth + 2*Padding }

// PaddedHeight is the height of the padded working grid.
func (g Geometry) PaddedHeight() int { return g.NewHeight + 2*Padding }

func roundHalfUp(v float64) int {
	return int(math.Floor(v + 0.5))
}

// PixelSize converts an input pixel size to the output pixel size.
func (g Geometry) PixelSize(original float64) float64 {
	if g.Magnification <= 0 {
		return original
	}
	return original / g.Magnification
}

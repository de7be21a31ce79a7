//go:build imagick

package imgproc

import (
	"fmt"
	"sync"

	"gopkg.in/gographics/imagick.v3/imagick"
)

var imagickOnce sync.Once

// MagickResizer resizes through ImageMagick's Catmull-Rom filter. Pixels are
// normalized to [0,1] on the way in and rescaled on the way out, so non-HDRI
// builds of ImageMagick do not clip.
type MagickResizer struct{}

func init() {
	resizers["imagick"] = func() Resizer { return MagickResizer{} }
}

// Resize implements Resizer. On any ImageMagick failure it falls back to
// ResizeBicubic.
func (MagickResizer) Resize(f Frame, width, height int) Frame {
	out, err := magickResize(f, width, height)
	if err != nil {
		return ResizeBicubic(f, width, height)
	}
	return out
}

func magickResize(f Frame, width, height int) (Frame, error) {
	if f.Empty() || width <= 0 || height <= 0 {
		return NewFrame(width, height), nil
	}
	imagickOnce.Do(imagick.Initialize)

	lo, hi := f.Min(), f.Max()
	span := hi - lo
	if span == 0 {
		span = 1
	}
	norm := make([]float32, len(f.Pix))
	for i, p := range f.Pix {
		norm[i] = (p - lo) / span
	}

	mw := imagick.NewMagickWand()
	defer mw.Destroy()
	if err := mw.ConstituteImage(uint(f.Width), uint(f.Height), "I", imagick.PIXEL_FLOAT, norm); err != nil {
		return Frame{}, fmt.Errorf("constitute image: %w", err)
	}
	if err := mw.ResizeImage(uint(width), uint(height), imagick.FILTER_CATROM); err != nil {
		return Frame{}, fmt.Errorf("resize image: %w", err)
	}
	raw, err := mw.ExportImagePixels(0, 0, uint(width), uint(height), "I", imagick.PIXEL_FLOAT)
	if err != nil {
		return Frame{}, fmt.Errorf("export pixels: %w", err)
	}
	pix, ok := raw.([]float32)
	if !ok || len(pix) != width*height {
		return Frame{}, fmt.Errorf("unexpected pixel export %T", raw)
	}
	for i := range pix {
		pix[i] = pix[i]*span + lo
	}
	return FromPixels(width, height, pix)
}

// Package imageio reads and writes the frames of a reconstruction run.
package imageio

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/image/tiff"

	"dpr/internal/imgproc"
)

// RawExt is the extension of lossless float32 frame files.
const RawExt = ".f32"

var rawMagic = [4]byte{'D', 'P', 'R', 'F'}

var imageExts = map[string]struct{}{
	".png":  {},
	".tif":  {},
	".tiff": {},
	RawExt:  {},
}

// ErrNoImages is returned when a directory holds no readable images.
var ErrNoImages = errors.New("no images found")

// ErrMultiPage is returned for TIFF files holding more than one image.
// The decoder only reads the first page, so such stacks must be split
// into one file per slice.
var ErrMultiPage = errors.New("multi-page TIFF not supported")

// IsImageFile checks if a file has a supported image extension.
func IsImageFile(path string) bool {
	_, ok := imageExts[strings.ToLower(filepath.Ext(path))]
	return ok
}

// ListImages returns the image files directly inside dir, sorted by name.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if IsImageFile(e.Name()) {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// LoadStack reads path as a stack. A file is a single slice; a directory
// contributes one slice per image in name order. Multi-page TIFFs are
// rejected with ErrMultiPage.
func LoadStack(path string) ([]imgproc.Frame, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		f, err := LoadFrame(path)
		if err != nil {
			return nil, err
		}
		return []imgproc.Frame{f}, nil
	}

	files, err := ListImages(path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoImages, path)
	}
	frames := make([]imgproc.Frame, 0, len(files))
	for _, file := range files {
		f, err := LoadFrame(file)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// LoadFrame decodes a single image. Colour images are reduced to luminance.
func LoadFrame(path string) (imgproc.Frame, error) {
	if strings.EqualFold(filepath.Ext(path), RawExt) {
		return LoadRaw(path)
	}
	file, err := os.Open(path)
	if err != nil {
		return imgproc.Frame{}, err
	}
	defer file.Close()

	var img image.Image
	switch strings.ToLower(filepath.Ext(path)) {
	case ".tif", ".tiff":
		if err := singlePage(file); err != nil {
			return imgproc.Frame{}, fmt.Errorf("%s: %w", path, err)
		}
		img, err = tiff.Decode(bufio.NewReader(file))
	default:
		img, err = png.Decode(bufio.NewReader(file))
	}
	if err != nil {
		return imgproc.Frame{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return FromImage(img), nil
}

// singlePage reports ErrMultiPage when the first IFD links to another.
// Malformed headers are left for the decoder to report.
func singlePage(r io.ReaderAt) error {
	var hdr [8]byte
	if _, err := r.ReadAt(hdr[:], 0); err != nil {
		return nil
	}
	var order binary.ByteOrder
	switch string(hdr[:2]) {
	case "II":
		order = binary.LittleEndian
	case "MM":
		order = binary.BigEndian
	default:
		return nil
	}
	ifd := int64(order.Uint32(hdr[4:]))
	var count [2]byte
	if _, err := r.ReadAt(count[:], ifd); err != nil {
		return nil
	}
	var next [4]byte
	if _, err := r.ReadAt(next[:], ifd+2+12*int64(order.Uint16(count[:]))); err != nil {
		return nil
	}
	if order.Uint32(next[:]) != 0 {
		return ErrMultiPage
	}
	return nil
}

// FromImage converts img to a float32 frame holding its native sample values
// (0-255 for 8-bit, 0-65535 for 16-bit).
func FromImage(img image.Image) imgproc.Frame {
	b := img.Bounds()
	f := imgproc.NewFrame(b.Dx(), b.Dy())
	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				f.Set(x, y, float32(src.GrayAt(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	case *image.Gray16:
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				f.Set(x, y, float32(src.Gray16At(b.Min.X+x, b.Min.Y+y).Y))
			}
		}
	default:
		for y := 0; y < f.Height; y++ {
			for x := 0; x < f.Width; x++ {
				g := color.Gray16Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.Gray16)
				f.Set(x, y, float32(g.Y))
			}
		}
	}
	return f
}

// Scale records how frame values were mapped to 16-bit samples.
type Scale struct {
	Min float32 `json:"min"`
	Max float32 `json:"max"`
}

// ToGray16 maps f linearly from [min, max] to [0, 65535]. A flat frame
// becomes all zeros.
func ToGray16(f imgproc.Frame) (*image.Gray16, Scale) {
	s := Scale{Min: f.Min(), Max: f.Max()}
	img := image.NewGray16(image.Rect(0, 0, f.Width, f.Height))
	span := float64(s.Max) - float64(s.Min)
	for y := 0; y < f.Height; y++ {
		for x := 0; x < f.Width; x++ {
			var v float64
			if span > 0 {
				v = (float64(f.At(x, y)) - float64(s.Min)) / span * math.MaxUint16
			}
			img.SetGray16(x, y, color.Gray16{Y: uint16(math.Round(v))})
		}
	}
	return img, s
}

// SaveFrame writes f as a 16-bit grayscale TIFF or PNG chosen by extension,
// or as a raw float32 file for RawExt.
func SaveFrame(path string, f imgproc.Frame) (Scale, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == RawExt {
		return Scale{Min: f.Min(), Max: f.Max()}, SaveRaw(path, f)
	}
	img, s := ToGray16(f)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return s, err
	}
	out, err := os.Create(path)
	if err != nil {
		return s, err
	}
	w := bufio.NewWriter(out)
	switch ext {
	case ".tif", ".tiff":
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case ".png":
		err = png.Encode(w, img)
	default:
		err = fmt.Errorf("unsupported output format %q", ext)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return s, fmt.Errorf("write %s: %w", path, err)
	}
	return s, nil
}

// SaveRaw writes f losslessly: a "DPRF" tag, little-endian uint32 width and
// height, then the pixels as little-endian float32.
func SaveRaw(path string, f imgproc.Frame) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(out)
	err = WriteRaw(w, f)
	if err == nil {
		err = w.Flush()
	}
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	return err
}

// WriteRaw encodes f in the SaveRaw layout.
func WriteRaw(w io.Writer, f imgproc.Frame) error {
	header := struct {
		Magic         [4]byte
		Width, Height uint32
	}{rawMagic, uint32(f.Width), uint32(f.Height)}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, f.Pix)
}

// LoadRaw reads a file written by SaveRaw.
func LoadRaw(path string) (imgproc.Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return imgproc.Frame{}, err
	}
	defer file.Close()
	f, err := ReadRaw(bufio.NewReader(file))
	if err != nil {
		return imgproc.Frame{}, fmt.Errorf("read %s: %w", path, err)
	}
	return f, nil
}

// ReadRaw decodes the SaveRaw layout.
func ReadRaw(r io.Reader) (imgproc.Frame, error) {
	var header struct {
		Magic         [4]byte
		Width, Height uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return imgproc.Frame{}, err
	}
	if header.Magic != rawMagic {
		return imgproc.Frame{}, fmt.Errorf("not a raw frame (magic %q)", header.Magic[:])
	}
	const maxPixels = 1 << 30
	if uint64(header.Width)*uint64(header.Height) > maxPixels {
		return imgproc.Frame{}, fmt.Errorf("raw frame %dx%d too large", header.Width, header.Height)
	}
	f := imgproc.NewFrame(int(header.Width), int(header.Height))
	if err := binary.Read(r, binary.LittleEndian, f.Pix); err != nil {
		return imgproc.Frame{}, err
	}
	return f, nil
}

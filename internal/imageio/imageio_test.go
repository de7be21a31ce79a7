package imageio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/tiff"

	"dpr/internal/imgproc"
)

func ramp(w, h int) imgproc.Frame {
	f := imgproc.NewFrame(w, h)
	for i := range f.Pix {
		f.Pix[i] = float32(i) * 0.25
	}
	return f
}

func TestRawRoundTrip(t *testing.T) {
	f := ramp(5, 3)
	f.Pix[4] = -12.5

	path := filepath.Join(t.TempDir(), "nested", "slice"+RawExt)
	if err := SaveRaw(path, f); err != nil {
		t.Fatalf("SaveRaw: %v", err)
	}
	got, err := LoadFrame(path)
	if err != nil {
		t.Fatalf("LoadFrame: %v", err)
	}
	if diff := cmp.Diff(f, got); diff != "" {
		t.Fatalf("raw round trip mismatch:\n%s", diff)
	}
}

func TestReadRawRejectsGarbage(t *testing.T) {
	if _, err := ReadRaw(bytes.NewReader([]byte("NOPE\x01\x00\x00\x00\x01\x00\x00\x00\x00\x00\x00\x00"))); err == nil {
		t.Fatalf("expected magic error")
	}
	var buf bytes.Buffer
	if err := WriteRaw(&buf, ramp(4, 4)); err != nil {
		t.Fatal(err)
	}
	if _, err := ReadRaw(bytes.NewReader(buf.Bytes()[:buf.Len()-3])); err == nil {
		t.Fatalf("expected truncation error")
	}
}

func TestSaveFrameScalesToSixteenBit(t *testing.T) {
	for _, name := range []string{"out.tif", "out.png"} {
		t.Run(name, func(t *testing.T) {
			f, _ := imgproc.FromPixels(3, 1, []float32{-1, 0.5, 2})
			path := filepath.Join(t.TempDir(), name)
			s, err := SaveFrame(path, f)
			if err != nil {
				t.Fatalf("SaveFrame: %v", err)
			}
			if s.Min != -1 || s.Max != 2 {
				t.Fatalf("scale = %+v", s)
			}
			back, err := LoadFrame(path)
			if err != nil {
				t.Fatalf("LoadFrame: %v", err)
			}
			want := []float32{0, 32768, 65535}
			if diff := cmp.Diff(want, back.Pix); diff != "" {
				t.Fatalf("samples mismatch:\n%s", diff)
			}
		})
	}
}

func TestSaveFrameRejectsUnknownFormat(t *testing.T) {
	if _, err := SaveFrame(filepath.Join(t.TempDir(), "out.bmp"), ramp(2, 2)); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}

func TestFromImageColourUsesLuminance(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.Set(0, 0, color.RGBA{255, 255, 255, 255})
	img.Set(1, 0, color.RGBA{0, 0, 0, 255})
	f := FromImage(img)
	if f.Pix[0] != 65535 || f.Pix[1] != 0 {
		t.Fatalf("luminance = %v", f.Pix)
	}
}

func TestLoadStackDirectoryOrder(t *testing.T) {
	dir := t.TempDir()
	for i, name := range []string{"b.png", "a.png", "c.png"} {
		img := image.NewGray(image.Rect(0, 0, 2, 2))
		for j := range img.Pix {
			img.Pix[j] = uint8(10 * (i + 1))
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), buf.Bytes(), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatal(err)
	}

	frames, err := LoadStack(dir)
	if err != nil {
		t.Fatalf("LoadStack: %v", err)
	}
	var got []float32
	for _, f := range frames {
		got = append(got, f.Pix[0])
	}
	// a.png was written second, b.png first, c.png third
	if diff := cmp.Diff([]float32{20, 10, 30}, got); diff != "" {
		t.Fatalf("slice order mismatch:\n%s", diff)
	}

	single, err := LoadStack(filepath.Join(dir, "c.png"))
	if err != nil || len(single) != 1 {
		t.Fatalf("single file stack = %d frames, err %v", len(single), err)
	}
}

func TestLoadStackEmptyDirectory(t *testing.T) {
	if _, err := LoadStack(t.TempDir()); !errors.Is(err, ErrNoImages) {
		t.Fatalf("expected ErrNoImages, got %v", err)
	}
}

func TestLoadStackRejectsMultiPageTIFF(t *testing.T) {
	img := image.NewGray16(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := tiff.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	data := buf.Bytes()
	dir := t.TempDir()

	single := filepath.Join(dir, "single.tif")
	if err := os.WriteFile(single, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if frames, err := LoadStack(single); err != nil || len(frames) != 1 {
		t.Fatalf("single page: %d frames, err %v", len(frames), err)
	}

	// link the first IFD to a second one so the file claims two pages
	var order binary.ByteOrder = binary.LittleEndian
	if string(data[:2]) == "MM" {
		order = binary.BigEndian
	}
	ifd := order.Uint32(data[4:])
	entries := uint32(order.Uint16(data[ifd:]))
	order.PutUint32(data[ifd+2+12*entries:], ifd)

	multi := filepath.Join(dir, "multi.tif")
	if err := os.WriteFile(multi, data, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadStack(multi); !errors.Is(err, ErrMultiPage) {
		t.Fatalf("expected ErrMultiPage, got %v", err)
	}
}

package testsupport

import (
	"bytes"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
)

// Pattern returns a w×h image where every pixel has a distinct colour, so
// any rotation or flip is detectable.
func Pattern(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 40), G: uint8(y * 40), B: uint8((x + y*w) * 7), A: 255})
		}
	}
	return img
}

// Blocks returns a w×h image made of four solid quadrants. JPEG keeps such
// content close to the source, so rotations can be compared with a small
// tolerance.
func Blocks(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	quadrant := []color.NRGBA{
		{R: 250, A: 255},
		{G: 250, A: 255},
		{B: 250, A: 255},
		{R: 250, G: 250, B: 250, A: 255},
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := 0
			if x >= w/2 {
				idx++
			}
			if y >= h/2 {
				idx += 2
			}
			img.SetNRGBA(x, y, quadrant[idx])
		}
	}
	return img
}

// EncodeImage encodes img for the extension in name (jpg/jpeg or png).
func EncodeImage(t testing.TB, name string, img image.Image) []byte {
	t.Helper()
	format, err := imaging.FormatFromFilename(name)
	if err != nil {
		t.Fatalf("format for %s: %v", name, err)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, format, imaging.JPEGQuality(100)); err != nil {
		t.Fatalf("encode %s: %v", name, err)
	}
	return buf.Bytes()
}

// WriteImage encodes img according to the path's extension and writes it,
// creating parent directories.
func WriteImage(t testing.TB, path string, img image.Image) []byte {
	t.Helper()
	data := EncodeImage(t, path, img)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return data
}

// MaxChannelDelta returns the largest per-channel difference between two
// images, or -1 when their bounds differ.
func MaxChannelDelta(a, b image.Image) int {
	if a.Bounds().Dx() != b.Bounds().Dx() || a.Bounds().Dy() != b.Bounds().Dy() {
		return -1
	}
	na, nb := imaging.Clone(a), imaging.Clone(b)
	maxDelta := 0
	for i := range na.Pix {
		d := int(na.Pix[i]) - int(nb.Pix[i])
		if d < 0 {
			d = -d
		}
		if d > maxDelta {
			maxDelta = d
		}
	}
	return maxDelta
}

// Pattern16 returns a w×h image of the given 16-bit model ("rgba64",
// "nrgba64", or "gray16") whose samples differ in their low byte, so any
// truncation to 8 bits is detectable.
func Pattern16(model string, w, h int) image.Image {
	rect := image.Rect(0, 0, w, h)
	sample := func(x, y, k int) uint16 {
		return uint16(0x1234 + x*0x0f01 + y*0x3311 + k*0x0101)
	}
	switch model {
	case "nrgba64":
		img := image.NewNRGBA64(rect)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetNRGBA64(x, y, color.NRGBA64{R: sample(x, y, 0), G: sample(x, y, 1), B: sample(x, y, 2), A: 0x8001 + uint16(x*0x11)})
			}
		}
		return img
	case "gray16":
		img := image.NewGray16(rect)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetGray16(x, y, color.Gray16{Y: sample(x, y, 0)})
			}
		}
		return img
	default:
		img := image.NewRGBA64(rect)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetRGBA64(x, y, color.RGBA64{R: sample(x, y, 0), G: sample(x, y, 1), B: sample(x, y, 2), A: 0xffff})
			}
		}
		return img
	}
}

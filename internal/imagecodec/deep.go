package imagecodec

import (
	"image"
	"image/draw"
)

// remap describes a lossless quarter-turn or flip. to maps a source pixel in
// a w×h image to its destination; swap reports whether the destination is
// h×w.
type remap struct {
	swap bool
	to   func(x, y, w, h int) (int, int)
}

// Keyed by EXIF orientation value.
var orientationRemaps = map[int]remap{
	2: {to: func(x, y, w, h int) (int, int) { return w - 1 - x, y }},
	3: {to: func(x, y, w, h int) (int, int) { return w - 1 - x, h - 1 - y }},
	4: {to: func(x, y, w, h int) (int, int) { return x, h - 1 - y }},
	5: {swap: true, to: func(x, y, w, h int) (int, int) { return y, x }},
	6: {swap: true, to: func(x, y, w, h int) (int, int) { return h - 1 - y, x }},
	7: {swap: true, to: func(x, y, w, h int) (int, int) { return h - 1 - y, w - 1 - x }},
	8: {swap: true, to: func(x, y, w, h int) (int, int) { return y, w - 1 - x }},
}

// clockwiseOrientation maps a clockwise correction onto the orientation
// transform that performs it.
var clockwiseOrientation = map[int]int{90: 6, 180: 3, 270: 8}

// remapDeep applies op to 16-bit images, keeping their concrete pixel model.
// imaging converts everything to 8-bit NRGBA, which would truncate samples.
// ok is false for other models.
func remapDeep(img image.Image, op remap) (image.Image, bool) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	rect := image.Rect(0, 0, w, h)
	if op.swap {
		rect = image.Rect(0, 0, h, w)
	}

	var dst draw.Image
	switch img.(type) {
	case *image.RGBA64:
		dst = image.NewRGBA64(rect)
	case *image.NRGBA64:
		dst = image.NewNRGBA64(rect)
	case *image.Gray16:
		dst = image.NewGray16(rect)
	default:
		return nil, false
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			dx, dy := op.to(x, y, w, h)
			dst.Set(dx, dy, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return dst, true
}

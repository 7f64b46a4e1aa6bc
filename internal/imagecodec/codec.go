// Package imagecodec decodes, rotates, and re-encodes images in their
// original format.
package imagecodec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"golang.org/x/image/tiff"

	"upright/internal/imagefmt"
)

// ErrUnsupportedCodec is returned when a format is accepted by the filter but
// cannot be decoded or encoded in-process.
var ErrUnsupportedCodec = errors.New("unsupported codec")

// Options controls encoding and orientation handling.
type Options struct {
	JPEGQuality int
	// NormalizeEXIF bakes the EXIF orientation tag into pixels before
	// rotating, since re-encoded output carries no EXIF.
	NormalizeEXIF bool
}

// Decode reads an image of the given format.
func Decode(data []byte, format imagefmt.Format) (image.Image, error) {
	switch format {
	case imagefmt.JPEG, imagefmt.PNG, imagefmt.TIFF:
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", format, err)
		}
		return img, nil
	case imagefmt.WebP:
		img, err := webp.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decode webp: %w", err)
		}
		return img, nil
	default:
		return nil, fmt.Errorf("decode %s: %w", displayFormat(format), ErrUnsupportedCodec)
	}
}

// Encode writes img in the given format. WebP output is lossless and TIFF
// output is deflate-compressed so neither loses pixels.
func Encode(w io.Writer, img image.Image, format imagefmt.Format, opts Options) error {
	var err error
	switch format {
	case imagefmt.JPEG:
		quality := opts.JPEGQuality
		if quality <= 0 || quality > 100 {
			quality = 95
		}
		err = imaging.Encode(w, img, imaging.JPEG, imaging.JPEGQuality(quality))
	case imagefmt.PNG:
		err = imaging.Encode(w, img, imaging.PNG, imaging.PNGCompressionLevel(-1))
	case imagefmt.TIFF:
		err = tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
	case imagefmt.WebP:
		err = webp.Encode(w, img, &webp.Options{Lossless: true})
	default:
		return fmt.Errorf("encode %s: %w", displayFormat(format), ErrUnsupportedCodec)
	}
	if err != nil {
		return fmt.Errorf("encode %s: %w", format, err)
	}
	return nil
}

// RotateClockwise turns img by a multiple of 90 degrees clockwise. 16-bit
// images keep their sample depth. Other angles return the image unchanged.
func RotateClockwise(img image.Image, degrees int) image.Image {
	if orientation, ok := clockwiseOrientation[degrees]; ok {
		if out, ok := remapDeep(img, orientationRemaps[orientation]); ok {
			return out
		}
	}
	// imaging rotates counter-clockwise.
	switch degrees {
	case 90:
		return imaging.Rotate270(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// Rotate decodes data, applies EXIF normalization when requested, rotates
// clockwise by degrees, and re-encodes in the same format.
func Rotate(data []byte, format imagefmt.Format, degrees int, opts Options) ([]byte, error) {
	img, err := Decode(data, format)
	if err != nil {
		return nil, err
	}
	if opts.NormalizeEXIF {
		img = ApplyOrientation(img, ReadOrientation(data))
	}
	img = RotateClockwise(img, degrees)

	var buf bytes.Buffer
	buf.Grow(len(data))
	if err := Encode(&buf, img, format, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func displayFormat(format imagefmt.Format) string {
	if format == imagefmt.Unknown {
		return "unknown format"
	}
	return string(format)
}

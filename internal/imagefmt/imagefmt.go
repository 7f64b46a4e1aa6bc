// Package imagefmt recognizes the image formats the pipeline accepts by
// file extension.
package imagefmt

import (
	"path/filepath"
	"strings"
)

// Format identifies an accepted image encoding.
type Format string

const (
	JPEG    Format = "jpeg"
	PNG     Format = "png"
	HEIC    Format = "heic"
	TIFF    Format = "tiff"
	WebP    Format = "webp"
	Unknown Format = ""
)

var extensions = map[string]Format{
	".jpg":  JPEG,
	".jpeg": JPEG,
	".png":  PNG,
	".heic": HEIC,
	".heif": HEIC,
	".tif":  TIFF,
	".tiff": TIFF,
	".webp": WebP,
}

// Detect returns the format implied by the path's extension, compared
// case-insensitively. Paths without a recognized extension return Unknown.
func Detect(path string) Format {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == "" {
		return Unknown
	}
	return extensions[ext]
}

// IsSupported reports whether the path names an accepted image file.
func IsSupported(path string) bool {
	return Detect(path) != Unknown
}

// Extensions lists the accepted extensions in a stable order.
func Extensions() []string {
	return []string{".jpg", ".jpeg", ".png", ".heic", ".heif", ".tif", ".tiff", ".webp"}
}

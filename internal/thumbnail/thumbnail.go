// Package thumbnail renders scaled PNG previews of raster images.
package thumbnail

import (
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var ErrUnsupported = errors.New("thumbnail: unsupported media type")

// Supported reports whether a thumbnail can be rendered for the MIME type.
func Supported(mimeType string) bool {
	base, _, _ := strings.Cut(mimeType, ";")
	switch strings.ToLower(strings.TrimSpace(base)) {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return true
	}
	return false
}

// Size computes the target dimensions for a src image bounded by width x height.
// A zero bound is unconstrained; aspect ratio is preserved and images are never enlarged.
func Size(srcW, srcH, width, height int) (int, int) {
	if srcW <= 0 || srcH <= 0 {
		return 0, 0
	}
	scale := 1.0
	if width > 0 && srcW > width {
		scale = float64(width) / float64(srcW)
	}
	if height > 0 && srcH > height {
		if s := float64(height) / float64(srcH); s < scale {
			scale = s
		}
	}
	w := int(float64(srcW)*scale + 0.5)
	h := int(float64(srcH)*scale + 0.5)
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h
}

// Generate decodes an image from src and writes a PNG thumbnail bounded by width x height to dst.
func Generate(src io.Reader, dst io.Writer, width, height int) error {
	img, _, err := image.Decode(src)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	}
	b := img.Bounds()
	w, h := Size(b.Dx(), b.Dy(), width, height)
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(out, out.Bounds(), img, b, draw.Over, nil)
	if err := png.Encode(dst, out); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}
	return nil
}

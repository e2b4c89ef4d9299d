package thumbnail

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

func TestSize(t *testing.T) {
	cases := []struct {
		name             string
		srcW, srcH, w, h int
		wantW, wantH     int
	}{
		{name: "height bound only", srcW: 800, srcH: 400, w: 0, h: 200, wantW: 400, wantH: 200},
		{name: "no enlargement", srcW: 100, srcH: 50, w: 0, h: 200, wantW: 100, wantH: 50},
		{name: "both bounds", srcW: 1000, srcH: 1000, w: 100, h: 200, wantW: 100, wantH: 100},
		{name: "unconstrained", srcW: 30, srcH: 20, w: 0, h: 0, wantW: 30, wantH: 20},
		{name: "degenerate", srcW: 0, srcH: 20, w: 0, h: 10, wantW: 0, wantH: 0},
		{name: "tiny", srcW: 5000, srcH: 1, w: 0, h: 0, wantW: 5000, wantH: 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, h := Size(tc.srcW, tc.srcH, tc.w, tc.h)
			if w != tc.wantW || h != tc.wantH {
				t.Fatalf("Size() = %dx%d, want %dx%d", w, h, tc.wantW, tc.wantH)
			}
		})
	}
}

func TestGeneratePNG(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 300))
	for x := 0; x < 400; x++ {
		for y := 0; y < 300; y++ {
			src.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xff})
		}
	}
	var in bytes.Buffer
	if err := png.Encode(&in, src); err != nil {
		t.Fatalf("encode source: %v", err)
	}

	var out bytes.Buffer
	if err := Generate(&in, &out, 0, 200); err != nil {
		t.Fatalf("Generate returned error: %v", err)
	}
	thumb, err := png.Decode(&out)
	if err != nil {
		t.Fatalf("decode thumbnail: %v", err)
	}
	if got := thumb.Bounds().Dy(); got != 200 {
		t.Fatalf("thumbnail height = %d, want 200", got)
	}
	if got := thumb.Bounds().Dx(); got != 267 {
		t.Fatalf("thumbnail width = %d, want 267", got)
	}
}

func TestGenerateRejectsNonImage(t *testing.T) {
	err := Generate(strings.NewReader("%PDF-1.4"), &bytes.Buffer{}, 0, 200)
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}

func TestSupported(t *testing.T) {
	if !Supported("IMAGE/PNG") {
		t.Fatal("png should be supported")
	}
	if Supported("application/pdf") {
		t.Fatal("pdf should not be supported")
	}
}

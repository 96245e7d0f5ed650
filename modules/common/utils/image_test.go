package utils

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestDimensions(t *testing.T) {
	w, h, err := Dimensions(pngBytes(t, 64, 48))
	if err != nil {
		t.Fatalf("Dimensions returned error: %v", err)
	}
	if w != 64 || h != 48 {
		t.Fatalf("Dimensions = %dx%d, want 64x48", w, h)
	}

	if _, _, err := Dimensions([]byte("not an image")); err == nil {
		t.Fatal("expected error for garbage input")
	}
}

func TestPreviewKeepsAspectRatio(t *testing.T) {
	out, err := Preview(pngBytes(t, 400, 100), 200)
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	w, h, err := Dimensions(out)
	if err != nil {
		t.Fatalf("Dimensions on preview: %v", err)
	}
	if w != 200 || h != 50 {
		t.Fatalf("preview = %dx%d, want 200x50", w, h)
	}
}

func TestPreviewDoesNotUpscale(t *testing.T) {
	out, err := Preview(pngBytes(t, 20, 10), 200)
	if err != nil {
		t.Fatalf("Preview returned error: %v", err)
	}
	w, h, _ := Dimensions(out)
	if w != 20 || h != 10 {
		t.Fatalf("preview = %dx%d, want 20x10", w, h)
	}
}

func TestResizeImageLetterboxes(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 20))
	fill := color.RGBA{R: 200, G: 40, B: 10, A: 255}
	for y := 0; y < 20; y++ {
		for x := 0; x < 40; x++ {
			src.Set(x, y, fill)
		}
	}

	out := ResizeImage(src, 20, 20)
	if b := out.Bounds(); b.Dx() != 20 || b.Dy() != 20 {
		t.Fatalf("resized bounds = %v", b)
	}
	// 40x20 -> 20x10, 세로 중앙 정렬 (위아래 5px 투명)
	if _, _, _, a := out.At(10, 2).RGBA(); a != 0 {
		t.Fatalf("letterbox pixel should be transparent, alpha=%d", a)
	}
	got := color.RGBAModel.Convert(out.At(10, 10)).(color.RGBA)
	if got.A < 254 || absDiff(got.R, fill.R) > 1 || absDiff(got.G, fill.G) > 1 || absDiff(got.B, fill.B) > 1 {
		t.Fatalf("scaled pixel = %+v, want about %+v", got, fill)
	}
}

func absDiff(a, b uint8) uint8 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestDetectMIME(t *testing.T) {
	data := pngBytes(t, 2, 2)
	if got := DetectMIME(data, ""); got != "image/png" {
		t.Fatalf("DetectMIME = %q, want image/png", got)
	}
	if got := DetectMIME(data, "application/octet-stream"); got != "image/png" {
		t.Fatalf("DetectMIME = %q, want image/png", got)
	}
	if got := DetectMIME(data, "image/jpeg"); got != "image/jpeg" {
		t.Fatalf("declared type should win, got %q", got)
	}
}

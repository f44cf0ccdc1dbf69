package pageproc

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"docRender/internal/errcode"
	"docRender/internal/raster"
)

func blankPage(n, w, h int) raster.RawPage {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	// a dark rule so pages are not uniform
	for x := 0; x < w; x++ {
		img.Set(x, h/10, color.Black)
	}
	return raster.RawPage{PageNumber: n, Image: img, Width: w, Height: h}
}

func diffPixels(t *testing.T, a, b []byte) int {
	t.Helper()
	ia, err := jpeg.Decode(bytes.NewReader(a))
	if err != nil {
		t.Fatalf("decode a: %v", err)
	}
	ib, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		t.Fatalf("decode b: %v", err)
	}
	diff := 0
	bounds := ia.Bounds()
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r1, g1, b1, _ := ia.At(x, y).RGBA()
			r2, g2, b2, _ := ib.At(x, y).RGBA()
			if absDiff(r1, r2) > 0x0800 || absDiff(g1, g2) > 0x0800 || absDiff(b1, b2) > 0x0800 {
				diff++
			}
		}
	}
	return diff
}

func absDiff(a, b uint32) uint32 {
	if a > b {
		return a - b
	}
	return b - a
}

func TestProcessEncodesJPEG(t *testing.T) {
	p := NewProcessor(0, 0)
	if p.Quality() != DefaultQuality {
		t.Fatalf("quality = %d", p.Quality())
	}

	out, err := p.Process(blankPage(1, 320, 400), VisibilityPolicy{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if out.ContentType != ContentType || out.Width != 320 || out.Height != 400 {
		t.Fatalf("unexpected page %+v", out)
	}
	cfg, err := jpeg.DecodeConfig(bytes.NewReader(out.Data))
	if err != nil {
		t.Fatalf("output is not jpeg: %v", err)
	}
	if cfg.Width != 320 || cfg.Height != 400 {
		t.Fatalf("decoded size %dx%d", cfg.Width, cfg.Height)
	}
}

func TestWatermarkIsDeterministicAndVisible(t *testing.T) {
	p := NewProcessor(90, 2)
	page := blankPage(1, 400, 520)
	policy := VisibilityPolicy{WatermarkEnabled: true, WatermarkText: "Confidential"}

	first, err := p.Process(page, policy)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	second, err := p.Process(page, policy)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !bytes.Equal(first.Data, second.Data) {
		t.Fatal("watermarked output is not deterministic")
	}

	plain, err := p.Process(page, VisibilityPolicy{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if n := diffPixels(t, first.Data, plain.Data); n < 100 {
		t.Fatalf("watermark changed only %d pixels", n)
	}
}

func TestWatermarkSkippedWhenDisabledOrBlank(t *testing.T) {
	p := NewProcessor(90, 1)
	page := blankPage(1, 200, 260)

	plain, err := p.Process(page, VisibilityPolicy{})
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	for _, policy := range []VisibilityPolicy{
		{WatermarkEnabled: true, WatermarkText: "   "},
		{WatermarkEnabled: false, WatermarkText: "Confidential"},
	} {
		out, err := p.Process(page, policy)
		if err != nil {
			t.Fatalf("process: %v", err)
		}
		if !bytes.Equal(out.Data, plain.Data) {
			t.Fatalf("policy %+v should not watermark", policy)
		}
	}
}

func TestProcessAllKeepsOrder(t *testing.T) {
	p := NewProcessor(80, 3)
	pages := []raster.RawPage{blankPage(3, 100, 120), blankPage(1, 110, 130), blankPage(2, 120, 140)}

	out, err := p.ProcessAll(context.Background(), pages, VisibilityPolicy{WatermarkEnabled: true, WatermarkText: "Draft"})
	if err != nil {
		t.Fatalf("process all: %v", err)
	}
	for i := range pages {
		if out[i].PageNumber != pages[i].PageNumber || out[i].Width != pages[i].Width {
			t.Fatalf("position %d holds page %d (%dpx)", i, out[i].PageNumber, out[i].Width)
		}
	}
}

func TestProcessMissingBitmapFails(t *testing.T) {
	p := NewProcessor(90, 1)
	_, err := p.ProcessAll(context.Background(), []raster.RawPage{blankPage(1, 10, 10), {PageNumber: 2}}, VisibilityPolicy{})
	if !errors.Is(err, errcode.ErrConversion) {
		t.Fatalf("expected ErrConversion, got %v", err)
	}
}

package imaging

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		img.Set(x, 0, color.NRGBA{R: 200, A: 255})
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

func TestOptimizeFitsWithinBounds(t *testing.T) {
	o := NewOptimizer(Config{MaxWidth: 100, MaxHeight: 100, Quality: 80})

	res, err := o.Optimize(pngBytes(t, 400, 200))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if res.Width != 100 || res.Height != 50 {
		t.Fatalf("expected 100x50, got %dx%d", res.Width, res.Height)
	}
	if res.ContentType != "image/jpeg" {
		t.Fatalf("expected jpeg output, got %s", res.ContentType)
	}
}

func TestOptimizeKeepsPNG(t *testing.T) {
	o := NewOptimizer(Config{KeepPNG: true})

	res, err := o.Optimize(pngBytes(t, 10, 10))
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if res.ContentType != "image/png" || res.Width != 10 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestOptimizeAllPreservesOrder(t *testing.T) {
	o := NewOptimizer(DefaultConfig())
	inputs := [][]byte{pngBytes(t, 10, 10), pngBytes(t, 20, 20), pngBytes(t, 30, 30)}

	results, err := o.OptimizeAll(context.Background(), inputs)
	if err != nil {
		t.Fatalf("OptimizeAll: %v", err)
	}
	for i, want := range []int{10, 20, 30} {
		if results[i].Width != want {
			t.Fatalf("result %d: expected width %d, got %d", i, want, results[i].Width)
		}
	}
}

func TestOptimizeAllFailsOnBadInput(t *testing.T) {
	o := NewOptimizer(DefaultConfig())
	_, err := o.OptimizeAll(context.Background(), [][]byte{pngBytes(t, 5, 5), []byte("not an image")})
	if err == nil {
		t.Fatal("expected error for undecodable input")
	}
}

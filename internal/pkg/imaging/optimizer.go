// Package imaging normalises images before they are sent to vision models
// and optimises generated images for export.
package imaging

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	"golang.org/x/sync/errgroup"

	_ "golang.org/x/image/webp"
)

// Result is one optimised image.
type Result struct {
	Data        []byte
	ContentType string
	Width       int
	Height      int
}

// Config for image optimisation
type Config struct {
	MaxWidth  int // default 2000
	MaxHeight int // default 2000
	Quality   int // JPEG quality 1-100, default 85
	// KeepPNG preserves PNG input (sketches with transparency).
	KeepPNG bool
	// Concurrency bounds OptimizeAll. Zero means 4.
	Concurrency int
}

// DefaultConfig returns the export settings.
func DefaultConfig() Config {
	return Config{
		MaxWidth:    2000,
		MaxHeight:   2000,
		Quality:     85,
		Concurrency: 4,
	}
}

// VisionConfig returns the settings used before vision calls.
func VisionConfig() Config {
	return Config{
		MaxWidth:    1536,
		MaxHeight:   1536,
		Quality:     90,
		Concurrency: 4,
	}
}

// Optimizer resizes and re-encodes images
type Optimizer struct {
	config Config
}

// NewOptimizer creates an optimizer
func NewOptimizer(config Config) *Optimizer {
	if config.MaxWidth <= 0 {
		config.MaxWidth = 2000
	}
	if config.MaxHeight <= 0 {
		config.MaxHeight = 2000
	}
	if config.Quality <= 0 || config.Quality > 100 {
		config.Quality = 85
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	return &Optimizer{config: config}
}

// Optimize fits data inside the configured bounds and re-encodes it. Images
// already within bounds are re-encoded only.
func (o *Optimizer) Optimize(data []byte) (*Result, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := img.Bounds()
	if b.Dx() > o.config.MaxWidth || b.Dy() > o.config.MaxHeight {
		img = imaging.Fit(img, o.config.MaxWidth, o.config.MaxHeight, imaging.Lanczos)
	}

	var buf bytes.Buffer
	contentType := "image/jpeg"
	if format == "png" && o.config.KeepPNG {
		contentType = "image/png"
		err = png.Encode(&buf, img)
	} else {
		// JPEG has no alpha; flatten onto white.
		flat := imaging.New(img.Bounds().Dx(), img.Bounds().Dy(), image.White)
		flat = imaging.Overlay(flat, img, image.Pt(0, 0), 1.0)
		err = jpeg.Encode(&buf, flat, &jpeg.Options{Quality: o.config.Quality})
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}

	return &Result{
		Data:        buf.Bytes(),
		ContentType: contentType,
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
	}, nil
}

// OptimizeAll optimises every input concurrently. Results keep input order.
// The first failure cancels the remaining work and is returned.
func (o *Optimizer) OptimizeAll(ctx context.Context, inputs [][]byte) ([]*Result, error) {
	results := make([]*Result, len(inputs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.config.Concurrency)

	for i, data := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := o.Optimize(data)
			if err != nil {
				return fmt.Errorf("image %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

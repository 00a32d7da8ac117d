// Package mupdf rasterizes PDF pages with MuPDF (go-fitz).
package mupdf

import (
	"context"
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// DefaultDPI is the rendering resolution used for recognition.
const DefaultDPI = 300

// Rasterizer implements preprocess.Rasterizer.
type Rasterizer struct {
	DPI      float64
	MaxPages int // 0 means unlimited
}

// New returns a Rasterizer rendering at dpi (DefaultDPI when <= 0).
func New(dpi float64, maxPages int) *Rasterizer {
	if dpi <= 0 {
		dpi = DefaultDPI
	}
	return &Rasterizer{DPI: dpi, MaxPages: maxPages}
}

// Rasterize renders the pages of pdf one at a time.
func (r *Rasterizer) Rasterize(ctx context.Context, pdf []byte, page func(int, image.Image) error) error {
	doc, err := fitz.NewFromMemory(pdf)
	if err != nil {
		return fmt.Errorf("mupdf: open: %w", err)
	}
	defer doc.Close()

	n := doc.NumPage()
	if r.MaxPages > 0 && n > r.MaxPages {
		return fmt.Errorf("mupdf: %d pages exceeds limit of %d", n, r.MaxPages)
	}
	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		img, err := doc.ImageDPI(i, r.DPI)
		if err != nil {
			return fmt.Errorf("mupdf: render page %d: %w", i+1, err)
		}
		if err := page(i, img); err != nil {
			return err
		}
	}
	return nil
}

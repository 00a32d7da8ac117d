// Package textextract recovers the text of an uploaded raster image or PDF
// and produces the processed bytes handed to archival conversion.
package textextract

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"

	"github.com/hazyhaar/courrier/docerr"
	"github.com/hazyhaar/courrier/preprocess"
)

// MIMEPDF is the only non-image type the stage handles.
const MIMEPDF = "application/pdf"

// Recognizer is the text recognition engine (see ocrengine.Engine).
type Recognizer interface {
	Recognize(ctx context.Context, img []byte) (string, error)
}

// Result is the outcome of a successful extraction. Text may be empty.
type Result struct {
	Text          string
	Pages         []string // per-page text, in page order
	Processed     []byte
	ProcessedMIME string
}

// Stage runs text extraction.
type Stage struct {
	engine     Recognizer
	rasterizer preprocess.Rasterizer
	logger     *slog.Logger
}

// New returns a Stage. rasterizer may be nil if PDFs are never submitted.
func New(engine Recognizer, rasterizer preprocess.Rasterizer, logger *slog.Logger) *Stage {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stage{engine: engine, rasterizer: rasterizer, logger: logger}
}

// Supports reports whether mimeType goes through extraction.
func Supports(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/") || mimeType == MIMEPDF
}

// Extract recognizes the text of data. Images are normalized and wrapped in
// a single-page PDF; PDFs are rasterized page by page and passed through
// unchanged.
func (s *Stage) Extract(ctx context.Context, data []byte, mimeType string) (*Result, error) {
	t0 := time.Now()
	var (
		res *Result
		err error
	)
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		res, err = s.extractImage(ctx, data)
	case mimeType == MIMEPDF:
		res, err = s.extractPDF(ctx, data)
	default:
		return nil, docerr.Invalidf("text extraction does not support %s", mimeType)
	}
	if err != nil {
		return nil, err
	}
	s.logger.Debug("textextract: done",
		"mime", mimeType, "pages", len(res.Pages), "chars", len(res.Text),
		"duration_ms", time.Since(t0).Milliseconds())
	return res, nil
}

func (s *Stage) extractImage(ctx context.Context, data []byte) (*Result, error) {
	raster, err := preprocess.NormalizeImage(data)
	if err != nil {
		return nil, docerr.Extraction("image could not be decoded", err)
	}
	text, err := s.engine.Recognize(ctx, raster)
	if err != nil {
		return nil, recognitionFailure(err)
	}
	pdf, err := preprocess.ImageToPDF(raster)
	if err != nil {
		return nil, docerr.Extraction("image could not be prepared for archival", err)
	}
	return &Result{
		Text:          text,
		Pages:         []string{text},
		Processed:     pdf,
		ProcessedMIME: MIMEPDF,
	}, nil
}

func (s *Stage) extractPDF(ctx context.Context, data []byte) (*Result, error) {
	if s.rasterizer == nil {
		return nil, docerr.Extraction("PDF rasterizer not configured", nil)
	}
	var pages []string
	err := s.rasterizer.Rasterize(ctx, data, func(i int, img image.Image) error {
		raster, err := preprocess.EncodePNG(img)
		if err != nil {
			return docerr.Extraction(fmt.Sprintf("page %d could not be encoded", i+1), err)
		}
		text, err := s.engine.Recognize(ctx, raster)
		if err != nil {
			return recognitionFailure(err)
		}
		pages = append(pages, text)
		return nil
	})
	if err != nil {
		var derr *docerr.Error
		if errors.As(err, &derr) {
			return nil, err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, docerr.Extraction("text extraction cancelled", ctxErr)
		}
		return nil, docerr.Extraction("PDF could not be rendered", err)
	}
	return &Result{
		Text:          strings.Join(pages, "\n"),
		Pages:         pages,
		Processed:     data,
		ProcessedMIME: MIMEPDF,
	}, nil
}

// recognitionFailure keeps EngineUnavailable reachable through errors.Is
// while classifying the failure as an extraction failure.
func recognitionFailure(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return docerr.Extraction("text extraction cancelled", err)
	}
	return docerr.Extraction("text recognition failed", err)
}

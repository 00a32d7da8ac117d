// Package preprocess turns uploaded rasters and PDFs into the inputs the
// recognition engine and the archival converter expect: normalized
// lossless PNG rasters, single-page PDFs wrapping an image, and page
// rasters of a PDF.
package preprocess

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrUnsupportedImage is returned when the payload is not a decodable raster.
var ErrUnsupportedImage = errors.New("preprocess: unsupported or corrupt image")

// maxPixels bounds decoded image size (about 100 megapixels).
const maxPixels = 100_000_000

// Rasterizer renders the pages of a PDF in page order, handing each one to
// page before rendering the next. The image must not be retained after page
// returns. A page error stops the rendering and is returned as is.
type Rasterizer interface {
	Rasterize(ctx context.Context, pdf []byte, page func(i int, img image.Image) error) error
}

// NormalizeImage decodes a JPEG, PNG, GIF, TIFF, BMP or WebP payload and
// re-encodes it as an 8-bit RGBA PNG.
func NormalizeImage(data []byte) ([]byte, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || cfg.Width*cfg.Height > maxPixels {
		return nil, fmt.Errorf("%w: %s image %dx%d out of bounds", ErrUnsupportedImage, format, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	return EncodePNG(img)
}

// EncodePNG converts img to RGBA and encodes it as PNG.
func EncodePNG(img image.Image) ([]byte, error) {
	rgba, ok := img.(*image.RGBA)
	if !ok {
		b := img.Bounds()
		rgba = image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
		draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, rgba); err != nil {
		return nil, fmt.Errorf("preprocess: encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// ImageToPDF wraps an encoded image in a new single-page PDF.
func ImageToPDF(img []byte) ([]byte, error) {
	var out bytes.Buffer
	conf := model.NewDefaultConfiguration()
	imp := pdfcpu.DefaultImportConfig()
	if err := api.ImportImages(nil, &out, []io.Reader{bytes.NewReader(img)}, imp, conf); err != nil {
		return nil, fmt.Errorf("preprocess: import image: %w", err)
	}
	return out.Bytes(), nil
}

// PageCount returns the number of pages in a PDF.
func PageCount(pdf []byte) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	n, err := api.PageCount(bytes.NewReader(pdf), conf)
	if err != nil {
		return 0, fmt.Errorf("preprocess: page count: %w", err)
	}
	return n, nil
}

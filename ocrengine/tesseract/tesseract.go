// Package tesseract is the gosseract-backed ocrengine.Backend.
package tesseract

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"strings"

	"github.com/otiai10/gosseract/v2"

	"github.com/hazyhaar/courrier/ocrengine"
)

// Config configures the Tesseract client.
type Config struct {
	Languages    []string // e.g. ["eng"]; default eng
	TessdataPath string   // optional TESSDATA_PREFIX override
	PageSegMode  int      // 0 keeps the Tesseract default (PSM_AUTO)
}

type backend struct {
	client *gosseract.Client
}

// Opener returns an ocrengine.Opener that starts one gosseract client.
// The client is warmed up on a blank raster so a missing language pack
// surfaces as a start failure rather than on the first real document.
func Opener(cfg Config) ocrengine.Opener {
	return func() (ocrengine.Backend, error) {
		c := gosseract.NewClient()
		langs := cfg.Languages
		if len(langs) == 0 {
			langs = []string{"eng"}
		}
		if cfg.TessdataPath != "" {
			if err := c.SetTessdataPrefix(cfg.TessdataPath); err != nil {
				c.Close()
				return nil, fmt.Errorf("set tessdata prefix: %w", err)
			}
		}
		if err := c.SetLanguage(langs...); err != nil {
			c.Close()
			return nil, fmt.Errorf("set languages: %w", err)
		}
		if cfg.PageSegMode > 0 {
			if err := c.SetPageSegMode(gosseract.PageSegMode(cfg.PageSegMode)); err != nil {
				c.Close()
				return nil, fmt.Errorf("set page seg mode: %w", err)
			}
		}
		b := &backend{client: c}
		if _, err := b.Recognize(blankPNG()); err != nil {
			c.Close()
			return nil, fmt.Errorf("warm up: %w", err)
		}
		return b, nil
	}
}

func (b *backend) Recognize(img []byte) (string, error) {
	if err := b.client.SetImageFromBytes(img); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := b.client.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return strings.TrimSpace(text), nil
}

func (b *backend) Close() error { return b.client.Close() }

// Version reports the linked Tesseract version.
func Version() string { return gosseract.Version() }

func blankPNG() []byte {
	img := image.NewGray(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	var buf bytes.Buffer
	png.Encode(&buf, img)
	return buf.Bytes()
}

package archival

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// textLayerDesc renders fully transparent text: searchable, never visible.
const textLayerDesc = "fontname:Helvetica, points:6, position:tl, offset:0 0, scalefactor:1 abs, rotation:0, opacity:0, aligntext:left"

// maxLayerChars bounds the text stamped on a single page.
const maxLayerChars = 20_000

// stampTextLayer copies in to out, adding pages[i] as an invisible
// watermark on page i+1. Pages without text are left untouched.
func stampTextLayer(in, out string, pages []string) (int, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	f, err := os.Open(in)
	if err != nil {
		return 0, err
	}
	n, err := api.PageCount(f, conf)
	f.Close()
	if err != nil {
		return 0, fmt.Errorf("text layer: page count: %w", err)
	}

	data, err := os.ReadFile(in)
	if err != nil {
		return 0, err
	}
	if err := os.WriteFile(out, data, 0o600); err != nil {
		return 0, err
	}

	stamped := 0
	for i, text := range pages {
		if i >= n {
			break
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if len(text) > maxLayerChars {
			text = strings.ToValidUTF8(text[:maxLayerChars], "")
		}
		page := []string{strconv.Itoa(i + 1)}
		if err := api.AddTextWatermarksFile(out, out, page, false, text, textLayerDesc, conf); err != nil {
			return stamped, fmt.Errorf("text layer: page %d: %w", i+1, err)
		}
		stamped++
	}
	return stamped, nil
}

// Package archival converts processed documents into PDF/A-3 artifacts and
// verifies their conformance.
//
// Every conversion works inside a fresh scratch namespace named after a
// request-scoped ID; the uploaded filename never reaches the filesystem.
// The artifact lands at <converted>/<id>.pdf. Scratch files are removed on
// every outcome, and a failed attempt leaves no artifact behind.
package archival

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hazyhaar/courrier/docerr"
	"github.com/hazyhaar/courrier/horosafe"
	"github.com/hazyhaar/courrier/idgen"
	"github.com/hazyhaar/courrier/preprocess"
)

// Config configures the converter.
type Config struct {
	ConvertedDir        string
	GhostscriptBin      string
	SofficeBin          string
	TextLayer           bool
	RetainNonconformant bool
}

// Input is a document ready for archival conversion.
type Input struct {
	Data     []byte
	MIME     string   // MIME type of Data
	FileName string   // untrusted, display only
	Pages    []string // extracted text per page, may be empty
}

// Result describes a converted artifact.
type Result struct {
	ID           string
	ArtifactName string // file name under ConvertedDir
	Path         string
	DisplayName  string
	Size         int64
	Conformant   bool
}

var inputExt = map[string]string{
	"application/pdf":    ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": ".xlsx",
}

// IsOffice reports whether mimeType needs the office renderer.
func IsOffice(mimeType string) bool {
	ext := inputExt[mimeType]
	return ext != "" && ext != ".pdf"
}

// Converter runs the conversion stage.
type Converter struct {
	cfg       Config
	runner    Runner
	scratch   *Scratch
	validator *Validator
	newID     idgen.Generator
	logger    *slog.Logger
}

// Option configures a Converter.
type Option func(*Converter)

// WithIDGenerator sets the request-scoped ID generator. Default: UUIDv7.
func WithIDGenerator(g idgen.Generator) Option { return func(c *Converter) { c.newID = g } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Converter) { c.logger = l } }

// NewConverter returns a Converter and creates the converted directory.
func NewConverter(cfg Config, runner Runner, scratch *Scratch, validator *Validator, opts ...Option) (*Converter, error) {
	if cfg.ConvertedDir == "" {
		return nil, errors.New("archival: converted dir is required")
	}
	if cfg.GhostscriptBin == "" {
		cfg.GhostscriptBin = "gs"
	}
	if cfg.SofficeBin == "" {
		cfg.SofficeBin = "soffice"
	}
	if err := os.MkdirAll(cfg.ConvertedDir, 0o755); err != nil {
		return nil, fmt.Errorf("archival: mkdir %s: %w", cfg.ConvertedDir, err)
	}
	c := &Converter{
		cfg:       cfg,
		runner:    runner,
		scratch:   scratch,
		validator: validator,
		newID:     idgen.Default,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ConvertedDir returns the directory holding artifacts.
func (c *Converter) ConvertedDir() string { return c.cfg.ConvertedDir }

// Convert renders in to a PDF/A-3 artifact and validates it.
func (c *Converter) Convert(ctx context.Context, in Input) (*Result, error) {
	t0 := time.Now()
	id := c.newID()
	ns, err := c.scratch.Create(id)
	if err != nil {
		return nil, docerr.Conversion("Failed to convert document to PDF/A-3 format. Please try again.", err)
	}
	defer func() {
		if err := ns.Remove(); err != nil {
			c.logger.Warn("archival: scratch cleanup", "id", id, "error", err)
		}
	}()

	source, err := c.prepare(ctx, ns, in)
	if err != nil {
		return nil, docerr.Conversion("Failed to convert document to PDF/A-3 format. Please try again.", err)
	}

	name := id + ".pdf"
	outPath, err := horosafe.SafePath(c.cfg.ConvertedDir, name)
	if err != nil {
		return nil, docerr.Conversion("Failed to convert document to PDF/A-3 format. Please try again.", err)
	}
	if err := c.render(ctx, source, outPath); err != nil {
		os.Remove(outPath)
		return nil, docerr.Conversion("Failed to convert document to PDF/A-3 format. Please try again.", err)
	}
	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		os.Remove(outPath)
		return nil, docerr.Conversion("Failed to convert document to PDF/A-3 format. Please try again.",
			fmt.Errorf("%s exited 0 but produced no artifact", c.cfg.GhostscriptBin))
	}

	res := &Result{
		ID:           id,
		ArtifactName: name,
		Path:         outPath,
		DisplayName:  horosafe.DisplayName(in.FileName) + ".pdf",
		Size:         info.Size(),
		Conformant:   true,
	}
	if c.validator != nil {
		if verr := c.validator.Validate(ctx, outPath); verr != nil {
			if !c.cfg.RetainNonconformant {
				os.Remove(outPath)
				return nil, verr
			}
			c.logger.Warn("archival: keeping non-conformant artifact", "id", id, "error", verr)
			res.Conformant = false
		}
	}

	c.logger.Info("archival: converted",
		"id", id, "mime", in.MIME, "bytes", res.Size, "conformant", res.Conformant,
		"duration_ms", time.Since(t0).Milliseconds())
	return res, nil
}

// Discard removes a converted artifact. Missing files are not an error.
func (c *Converter) Discard(res *Result) error {
	if res == nil || res.ArtifactName == "" {
		return nil
	}
	path, err := horosafe.SafePath(c.cfg.ConvertedDir, res.ArtifactName)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// prepare writes the input into the namespace and returns the path of the
// PDF handed to the renderer.
func (c *Converter) prepare(ctx context.Context, ns *Namespace, in Input) (string, error) {
	data, mimeType := in.Data, in.MIME
	if strings.HasPrefix(mimeType, "image/") {
		raster, err := preprocess.NormalizeImage(data)
		if err != nil {
			return "", err
		}
		if data, err = preprocess.ImageToPDF(raster); err != nil {
			return "", err
		}
		mimeType = "application/pdf"
	}
	ext, ok := inputExt[mimeType]
	if !ok {
		return "", fmt.Errorf("unsupported input type %s", mimeType)
	}
	input := ns.File("input" + ext)
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return "", fmt.Errorf("write scratch input: %w", err)
	}

	pdf := input
	if ext != ".pdf" {
		var err error
		if pdf, err = c.renderOffice(ctx, ns, input); err != nil {
			return "", err
		}
	}

	if c.cfg.TextLayer && hasText(in.Pages) {
		layered := ns.File("layered.pdf")
		n, err := stampTextLayer(pdf, layered, in.Pages)
		if err != nil {
			c.logger.Warn("archival: text layer skipped", "id", ns.ID, "error", err)
			return pdf, nil
		}
		c.logger.Debug("archival: text layer stamped", "id", ns.ID, "pages", n)
		return layered, nil
	}
	return pdf, nil
}

func (c *Converter) render(ctx context.Context, input, output string) error {
	_, err := c.runner.Run(ctx, Command{
		Name: c.cfg.GhostscriptBin,
		Args: renderArgs(input, output),
		Dir:  filepath.Dir(input),
	})
	return err
}

// renderArgs is the fixed PDF/A-3 Ghostscript profile.
func renderArgs(input, output string) []string {
	return []string{
		"-dPDFA=3", "-dBATCH", "-dNOPAUSE", "-dQUIET",
		"-sProcessColorModel=DeviceRGB", "-dUseCIEColor",
		"-sDEVICE=pdfwrite", "-dPDFACompatibilityPolicy=1",
		"-dAutoRotatePages=/None",
		"-dCompatibilityLevel=1.7",
		"-dPDFSETTINGS=/prepress",
		"-dEmbedAllFonts=true",
		"-dSubsetFonts=true",
		"-dAutoFilterColorImages=false",
		"-dAutoFilterGrayImages=false",
		"-dColorImageFilter=/FlateEncode",
		"-dGrayImageFilter=/FlateEncode",
		"-dMonoImageFilter=/FlateEncode",
		"-sOutputFile=" + output,
		input,
	}
}

func hasText(pages []string) bool {
	for _, p := range pages {
		if strings.TrimSpace(p) != "" {
			return true
		}
	}
	return false
}

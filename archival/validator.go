package archival

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/hazyhaar/courrier/docerr"
)

// Checker engines.
const (
	CheckerGhostscript = "ghostscript"
	CheckerVeraPDF     = "verapdf"
)

// ValidatorConfig selects the conformance checker.
type ValidatorConfig struct {
	Checker        string `yaml:"checker"` // ghostscript | verapdf
	GhostscriptBin string `yaml:"ghostscript_bin"`
	VeraPDFBin     string `yaml:"verapdf_bin"`
	Flavour        string `yaml:"flavour"`    // veraPDF flavour, default 3b
	Structural     bool   `yaml:"structural"` // pdfcpu pre-check
}

// Validator checks that an artifact conforms to PDF/A-3.
type Validator struct {
	cfg    ValidatorConfig
	runner Runner
	logger *slog.Logger
}

// NewValidator returns a Validator running its checker through runner.
func NewValidator(cfg ValidatorConfig, runner Runner, logger *slog.Logger) *Validator {
	if cfg.Checker == "" {
		cfg.Checker = CheckerGhostscript
	}
	if cfg.GhostscriptBin == "" {
		cfg.GhostscriptBin = "gs"
	}
	if cfg.VeraPDFBin == "" {
		cfg.VeraPDFBin = "verapdf"
	}
	if cfg.Flavour == "" {
		cfg.Flavour = "3b"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{cfg: cfg, runner: runner, logger: logger}
}

// Validate returns nil when the file at path passes the checker, and a
// ValidationFailed error otherwise.
func (v *Validator) Validate(ctx context.Context, path string) error {
	if v.cfg.Structural {
		conf := model.NewDefaultConfiguration()
		conf.ValidationMode = model.ValidationRelaxed
		if err := api.ValidateFile(path, conf); err != nil {
			return docerr.Validation("archival artifact failed validation", fmt.Errorf("structure: %w", err))
		}
	}

	cmd := v.command(path)
	out, err := v.runner.Run(ctx, cmd)
	if err != nil {
		return docerr.Validation("archival artifact failed validation", err)
	}
	if v.cfg.Checker == CheckerVeraPDF && !veraPDFPassed(out.Stdout) {
		return docerr.Validation("archival artifact failed validation",
			fmt.Errorf("verapdf: non-compliant: %s", lastLine(out.Stdout)))
	}
	return nil
}

func (v *Validator) command(path string) Command {
	if v.cfg.Checker == CheckerVeraPDF {
		return Command{
			Name: v.cfg.VeraPDFBin,
			Args: []string{"--flavour", v.cfg.Flavour, "--format", "text", path},
		}
	}
	return Command{
		Name: v.cfg.GhostscriptBin,
		Args: []string{
			"-dNODISPLAY", "-dNOSAFER", "-dPDFA=3", "-dBATCH", "-dNOPAUSE",
			"-dPDFSTOPONERROR", "-dShowAnnots=false",
			"-sFile=" + path, path,
		},
	}
}

// veraPDFPassed reads the text report: "PASS <file> <flavour>" per file.
func veraPDFPassed(stdout []byte) bool {
	for _, line := range bytes.Split(stdout, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if bytes.HasPrefix(line, []byte("FAIL")) {
			return false
		}
		if bytes.HasPrefix(line, []byte("PASS")) {
			return true
		}
	}
	return false
}

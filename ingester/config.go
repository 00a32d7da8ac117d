package ingester

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/courrier/archival"
	"github.com/hazyhaar/courrier/mirror"
)

// Config holds the full courrier configuration.
type Config struct {
	Listen       string `yaml:"listen"`
	ConvertedDir string `yaml:"converted_dir"`
	ScratchDir   string `yaml:"scratch_dir"`
	AuditDB      string `yaml:"audit_db"` // empty disables the audit trail

	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Processes  ProcessConfig    `yaml:"processes"`
	OCR        OCRConfig        `yaml:"ocr"`
	Conversion ConversionConfig `yaml:"conversion"`
	Validation ValidationConfig `yaml:"validation"`
	Store      StoreConfig      `yaml:"store"`
	Mirror     mirror.Config    `yaml:"mirror"`
	Suggest    SuggestConfig    `yaml:"suggest"`
	Log        LogConfig        `yaml:"log"`
}

// PipelineConfig bounds admission and duration of requests.
type PipelineConfig struct {
	MaxConcurrent  int           `yaml:"max_concurrent"`
	QueueTimeout   time.Duration `yaml:"queue_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// ProcessConfig bounds external engine invocations.
type ProcessConfig struct {
	MaxConcurrent int           `yaml:"max_concurrent"`
	Timeout       time.Duration `yaml:"timeout"`
}

// OCRConfig configures Tesseract and PDF rasterization.
type OCRConfig struct {
	Languages    []string `yaml:"languages"`
	TessdataPath string   `yaml:"tessdata_path"`
	DPI          float64  `yaml:"dpi"`
	MaxPages     int      `yaml:"max_pages"` // 0 = every page; default 50
}

// ConversionConfig configures the archival renderers.
type ConversionConfig struct {
	GhostscriptBin string `yaml:"ghostscript_bin"`
	SofficeBin     string `yaml:"soffice_bin"`
	TextLayer      bool   `yaml:"text_layer"`
}

// ValidationConfig selects the conformance checker and the policy for
// artifacts that fail it.
type ValidationConfig struct {
	archival.ValidatorConfig `yaml:",inline"`
	RetainNonconformant      bool `yaml:"retain_nonconformant"`
}

// StoreConfig selects the document store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite | memory
	Path   string `yaml:"path"`
}

// SuggestConfig selects the metadata suggestion provider. API keys come
// from the environment.
type SuggestConfig struct {
	Provider string `yaml:"provider"` // openai | vertex | "" (disabled)
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	Region   string `yaml:"region"`
}

// LogConfig configures slog.
type LogConfig struct {
	Level string `yaml:"level"` // debug | info | warn | error
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:       ":5000",
		ConvertedDir: "uploads/converted",
		ScratchDir:   "uploads/tmp",
		AuditDB:      "data/audit.db",
		Pipeline: PipelineConfig{
			MaxConcurrent:  4,
			QueueTimeout:   30 * time.Second,
			RequestTimeout: 5 * time.Minute,
		},
		Processes: ProcessConfig{
			MaxConcurrent: 4,
			Timeout:       2 * time.Minute,
		},
		OCR: OCRConfig{
			Languages: []string{"eng"},
			DPI:       300,
			MaxPages:  50,
		},
		Conversion: ConversionConfig{
			GhostscriptBin: "gs",
			SofficeBin:     "soffice",
			TextLayer:      true,
		},
		Validation: ValidationConfig{
			ValidatorConfig: archival.ValidatorConfig{
				Checker:    archival.CheckerGhostscript,
				Structural: true,
			},
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "data/courrier.db",
		},
		Suggest: SuggestConfig{Provider: "openai"},
		Log:     LogConfig{Level: "info"},
	}
}

// LoadConfig reads a YAML config file merged over DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.ConvertedDir == "" {
		return fmt.Errorf("converted_dir is required")
	}
	if c.ScratchDir == "" {
		return fmt.Errorf("scratch_dir is required")
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("pipeline.max_concurrent must be > 0")
	}
	if c.Pipeline.QueueTimeout < 0 || c.Pipeline.RequestTimeout < 0 {
		return fmt.Errorf("pipeline timeouts must not be negative")
	}
	if c.Processes.MaxConcurrent <= 0 {
		return fmt.Errorf("processes.max_concurrent must be > 0")
	}
	if c.Processes.Timeout <= 0 {
		return fmt.Errorf("processes.timeout must be > 0")
	}
	if c.OCR.DPI < 0 || c.OCR.MaxPages < 0 {
		return fmt.Errorf("ocr.dpi and ocr.max_pages must not be negative")
	}
	switch c.Validation.Checker {
	case "", archival.CheckerGhostscript, archival.CheckerVeraPDF:
	default:
		return fmt.Errorf("validation.checker: unsupported %q (use ghostscript or verapdf)", c.Validation.Checker)
	}
	switch c.Store.Driver {
	case "memory":
	case "sqlite":
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required for the sqlite driver")
		}
	default:
		return fmt.Errorf("store.driver: unsupported %q (use sqlite or memory)", c.Store.Driver)
	}
	switch c.Suggest.Provider {
	case "", "openai", "vertex":
	default:
		return fmt.Errorf("suggest.provider: unsupported %q (use openai or vertex)", c.Suggest.Provider)
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level: unsupported %q", c.Log.Level)
	}
	return nil
}

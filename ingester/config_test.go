package ingester

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hazyhaar/courrier/archival"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should be valid: %v", err)
	}
	if cfg.Validation.RetainNonconformant {
		t.Error("non-conformant artifacts must be discarded by default")
	}
	if cfg.OCR.MaxPages <= 0 {
		t.Errorf("ocr.max_pages = %d, want a finite default", cfg.OCR.MaxPages)
	}
}

func TestLoadConfig(t *testing.T) {
	yaml := `
listen: ":9090"
converted_dir: "/srv/courrier/converted"
pipeline:
  max_concurrent: 8
  queue_timeout: 5s
processes:
  timeout: 90s
validation:
  checker: verapdf
  flavour: 3u
  retain_nonconformant: true
store:
  driver: memory
mirror:
  bucket: archive-eu
`
	path := filepath.Join(t.TempDir(), "courrier.yaml")
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":9090" || cfg.ConvertedDir != "/srv/courrier/converted" {
		t.Errorf("listen = %q, converted = %q", cfg.Listen, cfg.ConvertedDir)
	}
	if cfg.Pipeline.MaxConcurrent != 8 || cfg.Pipeline.QueueTimeout != 5*time.Second {
		t.Errorf("pipeline = %+v", cfg.Pipeline)
	}
	// Unset keys keep their defaults.
	if cfg.Pipeline.RequestTimeout != 5*time.Minute || cfg.ScratchDir != "uploads/tmp" {
		t.Errorf("defaults lost: %+v", cfg)
	}
	if cfg.Processes.Timeout != 90*time.Second || cfg.Processes.MaxConcurrent != 4 {
		t.Errorf("processes = %+v", cfg.Processes)
	}
	if cfg.Validation.Checker != archival.CheckerVeraPDF || cfg.Validation.Flavour != "3u" || !cfg.Validation.RetainNonconformant {
		t.Errorf("validation = %+v", cfg.Validation)
	}
	if cfg.Store.Driver != "memory" || cfg.Mirror.Bucket != "archive-eu" {
		t.Errorf("store = %+v, mirror = %+v", cfg.Store, cfg.Mirror)
	}
}

func TestLoadConfig_Missing(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*Config){
		"checker":     func(c *Config) { c.Validation.Checker = "acrobat" },
		"driver":      func(c *Config) { c.Store.Driver = "mongo" },
		"sqlite path": func(c *Config) { c.Store.Path = "" },
		"slots":       func(c *Config) { c.Pipeline.MaxConcurrent = 0 },
		"timeout":     func(c *Config) { c.Processes.Timeout = 0 },
		"provider":    func(c *Config) { c.Suggest.Provider = "local" },
		"level":       func(c *Config) { c.Log.Level = "verbose" },
		"converted":   func(c *Config) { c.ConvertedDir = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

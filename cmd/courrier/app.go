package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/hazyhaar/courrier/api"
	"github.com/hazyhaar/courrier/archival"
	"github.com/hazyhaar/courrier/dbopen"
	"github.com/hazyhaar/courrier/docstore"
	"github.com/hazyhaar/courrier/ingester"
	"github.com/hazyhaar/courrier/mirror"
	"github.com/hazyhaar/courrier/observability"
	"github.com/hazyhaar/courrier/ocrengine"
	"github.com/hazyhaar/courrier/ocrengine/tesseract"
	"github.com/hazyhaar/courrier/preprocess/mupdf"
	"github.com/hazyhaar/courrier/suggest"
	"github.com/hazyhaar/courrier/textextract"
)

// scratchMaxAge is how long an abandoned scratch namespace may live.
const scratchMaxAge = time.Hour

// app is the wired service. Close releases everything in reverse order.
type app struct {
	cfg      *ingester.Config
	logger   *slog.Logger
	engine   *ocrengine.Engine
	scratch  *archival.Scratch
	store    docstore.Store
	ingester *ingester.Ingester
	server   *api.Server

	closers []func() error
}

// sweepScratch removes namespaces older than scratchMaxAge. Younger ones may
// belong to another courrier process sharing the scratch directory.
func (a *app) sweepScratch() {
	if n, err := a.scratch.Sweep(scratchMaxAge); err != nil {
		a.logger.Warn("scratch sweep failed", "error", err)
	} else if n > 0 {
		a.logger.Info("removed stale scratch namespaces", "count", n)
	}
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// openStore opens the configured document store.
func openStore(cfg ingester.StoreConfig) (docstore.Store, error) {
	switch cfg.Driver {
	case "memory":
		return docstore.NewMemoryStore(), nil
	case "sqlite", "":
		return docstore.OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// newSuggester returns nil when suggestions are disabled.
func newSuggester(ctx context.Context, cfg ingester.SuggestConfig, logger *slog.Logger) (suggest.Suggester, func() error, error) {
	switch cfg.Provider {
	case "":
		return nil, nil, nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			logger.Warn("OPENAI_API_KEY not set, /analyze-document disabled")
			return nil, nil, nil
		}
		s, err := suggest.NewOpenAI(suggest.OpenAIConfig{
			APIKey:  key,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Retry:   suggest.DefaultRetryConfig(),
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	case "vertex":
		s, err := suggest.NewVertex(ctx, suggest.VertexConfig{
			ProjectID: os.Getenv("GOOGLE_CLOUD_PROJECT"),
			Region:    cfg.Region,
			Model:     cfg.Model,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown suggest provider %q", cfg.Provider)
	}
}

func newApp(ctx context.Context, cfg *ingester.Config, logger *slog.Logger) (_ *app, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.engine = ocrengine.New(tesseract.Opener(tesseract.Config{
		Languages:    cfg.OCR.Languages,
		TessdataPath: cfg.OCR.TessdataPath,
	}), ocrengine.WithLogger(logger))
	a.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return a.engine.Shutdown(ctx)
	})
	stage := textextract.New(a.engine, mupdf.New(cfg.OCR.DPI, cfg.OCR.MaxPages), logger)

	runner := archival.NewExecRunner(cfg.Processes.MaxConcurrent, cfg.Processes.Timeout, logger)
	if a.scratch, err = archival.NewScratch(cfg.ScratchDir); err != nil {
		return nil, err
	}
	a.sweepScratch()
	validator := archival.NewValidator(cfg.Validation.ValidatorConfig, runner, logger)
	converter, err := archival.NewConverter(archival.Config{
		ConvertedDir:        cfg.ConvertedDir,
		GhostscriptBin:      cfg.Conversion.GhostscriptBin,
		SofficeBin:          cfg.Conversion.SofficeBin,
		TextLayer:           cfg.Conversion.TextLayer,
		RetainNonconformant: cfg.Validation.RetainNonconformant,
	}, runner, a.scratch, validator, archival.WithLogger(logger))
	if err != nil {
		return nil, err
	}

	if a.store, err = openStore(cfg.Store); err != nil {
		return nil, err
	}
	a.onClose(a.store.Close)

	opts := []ingester.Option{ingester.WithLogger(logger)}

	if cfg.AuditDB != "" {
		db, err := dbopen.Open(cfg.AuditDB, dbopen.WithMkdirAll())
		if err != nil {
			return nil, fmt.Errorf("audit db: %w", err)
		}
		a.onClose(db.Close)
		if err := observability.Init(db); err != nil {
			return nil, fmt.Errorf("audit db: %w", err)
		}
		audit := observability.NewAuditLogger(db, 256, observability.WithAuditLogger(logger))
		a.onClose(audit.Close)
		opts = append(opts, ingester.WithAudit(audit))
	}

	if cfg.Mirror.Bucket != "" {
		gcs, err := mirror.NewGCS(ctx, cfg.Mirror, logger)
		if err != nil {
			return nil, err
		}
		a.onClose(gcs.Close)
		opts = append(opts, ingester.WithMirror(gcs))
	}

	a.ingester = ingester.New(cfg.Pipeline, stage, converter, a.store, opts...)

	var apiOpts []api.Option
	apiOpts = append(apiOpts, api.WithLogger(logger))
	sug, closeSug, err := newSuggester(ctx, cfg.Suggest, logger)
	if err != nil {
		return nil, err
	}
	if closeSug != nil {
		a.onClose(closeSug)
	}
	if sug != nil {
		apiOpts = append(apiOpts, api.WithSuggester(sug))
	}
	a.server = api.New(a.ingester, a.store, cfg.ConvertedDir, apiOpts...)
	return a, nil
}

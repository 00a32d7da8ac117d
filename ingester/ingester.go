// Package ingester is the pipeline orchestrator: it validates an upload,
// extracts its text, converts it to a validated PDF/A-3 artifact and
// commits exactly one record, or fails without storing anything.
package ingester

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hazyhaar/courrier/archival"
	"github.com/hazyhaar/courrier/docerr"
	"github.com/hazyhaar/courrier/docstore"
	"github.com/hazyhaar/courrier/idgen"
	"github.com/hazyhaar/courrier/kit"
	"github.com/hazyhaar/courrier/mirror"
	"github.com/hazyhaar/courrier/observability"
	"github.com/hazyhaar/courrier/textextract"
)

// State is a pipeline state.
type State string

const (
	StateReceived  State = "Received"
	StateValidated State = "Validated"
	StateExtracted State = "Extracted"
	StateConverted State = "Converted"
	StateStored    State = "Stored"
	StateFailed    State = "Failed"
)

const (
	msgExtraction = "Failed to process document text. Please try again."
	msgConversion = "Failed to convert document to PDF/A-3 format. Please try again."
	msgStore      = "Failed to save document. Please try again."
	msgOverloaded = "Server is busy. Please try again later."
)

// Extractor runs text extraction (textextract.Stage).
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (*textextract.Result, error)
}

// Converter produces and discards archival artifacts (archival.Converter).
type Converter interface {
	Convert(ctx context.Context, in archival.Input) (*archival.Result, error)
	Discard(res *archival.Result) error
}

// Ingester is the pipeline orchestrator.
type Ingester struct {
	extractor Extractor
	converter Converter
	store     docstore.Store
	audit     *observability.AuditLogger
	mirror    mirror.Publisher
	newID     idgen.Generator
	logger    *slog.Logger

	slots          *semaphore.Weighted
	queueTimeout   time.Duration
	requestTimeout time.Duration
}

// Option configures an Ingester.
type Option func(*Ingester)

// WithAudit sets the audit logger.
func WithAudit(a *observability.AuditLogger) Option { return func(ing *Ingester) { ing.audit = a } }

// WithMirror publishes every stored artifact before its record is committed.
func WithMirror(p mirror.Publisher) Option { return func(ing *Ingester) { ing.mirror = p } }

// WithIDGenerator sets the generator for record IDs.
func WithIDGenerator(g idgen.Generator) Option { return func(ing *Ingester) { ing.newID = g } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(ing *Ingester) { ing.logger = l } }

// New wires an Ingester.
func New(cfg PipelineConfig, extractor Extractor, converter Converter, store docstore.Store, opts ...Option) *Ingester {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	ing := &Ingester{
		extractor:      extractor,
		converter:      converter,
		store:          store,
		newID:          idgen.Prefixed("doc_", idgen.Default),
		logger:         slog.Default(),
		slots:          semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		queueTimeout:   cfg.QueueTimeout,
		requestTimeout: cfg.RequestTimeout,
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// Store returns the document store.
func (ing *Ingester) Store() docstore.Store { return ing.store }

// Ingest runs the full pipeline for u and returns the stored record.
func (ing *Ingester) Ingest(ctx context.Context, u *Upload) (rec *docstore.Record, err error) {
	t0 := time.Now()
	reached := StateReceived
	defer func() {
		ing.finish(ctx, "upload", u, rec, reached, err, time.Since(t0))
	}()

	md, err := validateUpload(u)
	if err != nil {
		return nil, err
	}
	reached = StateValidated

	release, err := ing.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx, cancel := ing.withDeadline(ctx)
	defer cancel()

	in := archival.Input{Data: u.Data, MIME: u.MIME, FileName: u.FileName}
	var text string
	if textextract.Supports(u.MIME) {
		ex, err := ing.extractor.Extract(ctx, u.Data, u.MIME)
		if err != nil {
			return nil, extractionFailure(err)
		}
		text = ex.Text
		in.Data, in.MIME, in.Pages = ex.Processed, ex.ProcessedMIME, ex.Pages
	}
	reached = StateExtracted

	res, err := ing.converter.Convert(ctx, in)
	if err != nil {
		return nil, asKind(err, docerr.ConversionFailed, msgConversion)
	}
	reached = StateConverted

	if ing.mirror != nil {
		if err := ing.mirror.Publish(ctx, res.ArtifactName, res.Path); err != nil {
			ing.discard(res)
			return nil, docerr.Conversion(msgConversion, err)
		}
	}
	if err := ctx.Err(); err != nil {
		ing.discard(res)
		return nil, docerr.New(docerr.Internal, msgStore, err)
	}

	rec = &docstore.Record{
		ID:            ing.newID(),
		FileName:      u.FileName,
		OriginalMIME:  u.MIME,
		ArtifactName:  res.ArtifactName,
		DisplayName:   res.DisplayName,
		ExtractedText: text,
		Metadata:      md,
		Conformant:    res.Conformant,
	}
	if err := ing.store.Append(ctx, rec); err != nil {
		ing.discard(res)
		return nil, docerr.New(docerr.Internal, msgStore, err)
	}
	reached = StateStored
	return rec, nil
}

// ExtractText runs only the extraction stage, under the same admission
// control as Ingest.
func (ing *Ingester) ExtractText(ctx context.Context, data []byte, mimeType string) (res *textextract.Result, err error) {
	t0 := time.Now()
	reached := StateReceived
	u := &Upload{MIME: mimeType}
	defer func() {
		ing.finish(ctx, "extract_text", u, nil, reached, err, time.Since(t0))
	}()

	switch {
	case len(data) == 0:
		return nil, docerr.Invalid("No file uploaded")
	case len(data) > MaxUploadBytes:
		return nil, docerr.Invalid("File size exceeds 10MB limit")
	case !Allowed(mimeType) || !textextract.Supports(mimeType):
		return nil, docerr.Invalid("Invalid file type. Please upload a supported document format.")
	}
	reached = StateValidated

	release, err := ing.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx, cancel := ing.withDeadline(ctx)
	defer cancel()

	res, err = ing.extractor.Extract(ctx, data, mimeType)
	if err != nil {
		return nil, extractionFailure(err)
	}
	reached = StateExtracted
	return res, nil
}

// admit waits for a pipeline slot for at most queueTimeout.
func (ing *Ingester) admit(ctx context.Context) (func(), error) {
	wait := ctx
	if ing.queueTimeout > 0 {
		var cancel context.CancelFunc
		wait, cancel = context.WithTimeout(ctx, ing.queueTimeout)
		defer cancel()
	}
	if err := ing.slots.Acquire(wait, 1); err != nil {
		if ctx.Err() != nil {
			return nil, docerr.New(docerr.Internal, "request cancelled", ctx.Err())
		}
		return nil, docerr.New(docerr.Overloaded, msgOverloaded, err)
	}
	return func() { ing.slots.Release(1) }, nil
}

func (ing *Ingester) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if ing.requestTimeout > 0 {
		return context.WithTimeout(ctx, ing.requestTimeout)
	}
	return context.WithCancel(ctx)
}

func (ing *Ingester) discard(res *archival.Result) {
	if err := ing.converter.Discard(res); err != nil {
		ing.logger.Error("ingester: discard artifact", "artifact", res.ArtifactName, "error", err)
	}
}

func (ing *Ingester) finish(ctx context.Context, op string, u *Upload, rec *docstore.Record, reached State, err error, d time.Duration) {
	state := reached
	if err != nil {
		state = StateFailed
		ing.logger.Warn("ingester: failed",
			"op", op, "stage", reached, "kind", docerr.KindOf(err), "mime", u.MIME,
			"duration_ms", d.Milliseconds(), "error", err)
	} else {
		ing.logger.Info("ingester: done", "op", op, "state", state, "mime", u.MIME, "duration_ms", d.Milliseconds())
	}
	if ing.audit == nil {
		return
	}
	entry := observability.NewAuditEntry("ingester", op, string(state), err, d)
	entry.RequestID = kit.GetRequestID(ctx)
	entry.FileName = u.FileName
	entry.MIMEType = u.MIME
	if rec != nil {
		entry.DocumentID = rec.ID
	}
	ing.audit.LogAsync(entry)
}

// extractionFailure gives every extraction failure the same public message.
// The stage error stays in the chain, so errors.Is still finds
// ocrengine.ErrEngineUnavailable.
func extractionFailure(err error) error {
	if docerr.KindOf(err) == docerr.InvalidInput {
		return err
	}
	return docerr.New(docerr.ExtractionFailed, msgExtraction, err)
}

// asKind keeps a stage's typed error when it already carries a kind other
// than Internal, and wraps anything else as kind with msg.
func asKind(err error, kind docerr.Kind, msg string) error {
	var de *docerr.Error
	if errors.As(err, &de) && de.Kind != docerr.Internal {
		return err
	}
	return docerr.New(kind, msg, err)
}

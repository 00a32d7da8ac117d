// Package api is the HTTP and MCP surface of courrier.
//
// Routes:
//
//	POST /extract-text         multipart "file" -> {success, text, processedBuffer}
//	POST /analyze-document     {"text": ...}    -> metadata suggestion
//	POST /upload               multipart "file" + metadata -> stored document
//	GET  /documents            records, newest first
//	GET  /uploads/converted/*  archival artifacts (no directory listing)
//	GET  /healthz
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/courrier/docstore"
	"github.com/hazyhaar/courrier/idgen"
	"github.com/hazyhaar/courrier/ingester"
	"github.com/hazyhaar/courrier/shield"
	"github.com/hazyhaar/courrier/suggest"
	"github.com/hazyhaar/courrier/textextract"
)

// formSlack is the multipart overhead allowed on top of the payload limit.
const formSlack = 1 << 20

// Pipeline is the ingestion pipeline (ingester.Ingester).
type Pipeline interface {
	Ingest(ctx context.Context, u *ingester.Upload) (*docstore.Record, error)
	ExtractText(ctx context.Context, data []byte, mimeType string) (*textextract.Result, error)
}

// Server holds the handlers' collaborators.
type Server struct {
	pipeline     Pipeline
	store        docstore.Store
	suggester    suggest.Suggester
	convertedDir string
	requestIDs   idgen.Generator
	logger       *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithSuggester enables POST /analyze-document.
func WithSuggester(s suggest.Suggester) Option { return func(srv *Server) { srv.suggester = s } }

// WithRequestIDs sets the request ID generator used by the trace middleware.
func WithRequestIDs(g idgen.Generator) Option { return func(srv *Server) { srv.requestIDs = g } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(srv *Server) { srv.logger = l } }

// New returns a Server serving artifacts from convertedDir.
func New(pipeline Pipeline, store docstore.Store, convertedDir string, opts ...Option) *Server {
	s := &Server{
		pipeline:     pipeline,
		store:        store,
		convertedDir: convertedDir,
		requestIDs:   idgen.Prefixed("req_", idgen.Default),
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Router returns the chi router with the shield middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(s.requestIDs, ingester.MaxUploadBytes+formSlack) {
		r.Use(mw)
	}

	r.Post("/extract-text", s.handleExtractText)
	r.Post("/analyze-document", s.handleAnalyze)
	r.Post("/upload", s.handleUpload)
	r.Get("/documents", s.handleDocuments)
	r.Get("/healthz", s.handleHealth)
	r.Get(docstore.DefaultPreviewPrefix+"*", http.StripPrefix(docstore.DefaultPreviewPrefix,
		http.FileServer(noListing{http.Dir(s.convertedDir)})).ServeHTTP)
	return r
}

// Package ocrengine owns the process-wide text recognition engine.
//
// The underlying backend (Tesseract) is expensive to start and not safe for
// concurrent use. Engine starts it lazily on first use, exactly once even
// under concurrent first calls, and serializes every recognition through a
// single worker goroutine that owns the backend. After Shutdown the engine
// refuses work with ErrEngineUnavailable; it is never restarted.
package ocrengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/hazyhaar/courrier/docerr"
)

// ErrEngineUnavailable is returned when the engine is shut down or its
// backend failed to start.
var ErrEngineUnavailable = errors.New("ocrengine: engine unavailable")

// Backend is a recognition engine instance. Implementations need not be
// safe for concurrent use.
type Backend interface {
	Recognize(img []byte) (string, error)
	Close() error
}

// Opener starts a Backend.
type Opener func() (Backend, error)

type job struct {
	img   []byte
	reply chan result
}

type result struct {
	text string
	err  error
}

// Engine is the lazily started, serialized recognition engine.
type Engine struct {
	open   Opener
	logger *slog.Logger

	init singleflight.Group

	mu       sync.Mutex
	backend  Backend
	shutDown bool
	starts   int

	jobs     chan job
	done     chan struct{}
	stopped  chan struct{}
	closeErr error
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.logger = l } }

// New returns an Engine that will start its backend with open on first use.
func New(open Opener, opts ...Option) *Engine {
	e := &Engine{
		open:    open,
		logger:  slog.Default(),
		jobs:    make(chan job),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Recognize returns the text found in img (an encoded raster image).
// It blocks until the worker is free, ctx is done, or the engine shuts down.
func (e *Engine) Recognize(ctx context.Context, img []byte) (string, error) {
	if err := e.ensureStarted(ctx); err != nil {
		return "", err
	}

	reply := make(chan result, 1)
	select {
	case e.jobs <- job{img: img, reply: reply}:
	case <-e.done:
		return "", unavailable(nil)
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case r := <-reply:
		return r.text, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Started reports whether the backend has been started.
func (e *Engine) Started() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.backend != nil
}

// Starts returns how many times a backend was started. At most 1.
func (e *Engine) Starts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

// Shutdown stops the worker and closes the backend. Idempotent; a
// never-started engine just becomes unavailable.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.shutDown {
		e.mu.Unlock()
		return nil
	}
	e.shutDown = true
	close(e.done)
	started := e.backend != nil
	e.mu.Unlock()

	if !started {
		return nil
	}
	select {
	case <-e.stopped:
		if e.closeErr != nil {
			return fmt.Errorf("ocrengine: close backend: %w", e.closeErr)
		}
		e.logger.Info("ocrengine: backend closed")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) ensureStarted(ctx context.Context) error {
	e.mu.Lock()
	switch {
	case e.shutDown:
		e.mu.Unlock()
		return unavailable(nil)
	case e.backend != nil:
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	ch := e.init.DoChan("start", func() (any, error) {
		return nil, e.start()
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start runs inside the singleflight group. The re-check covers callers that
// raced past the fast path after a previous start completed.
func (e *Engine) start() error {
	e.mu.Lock()
	if e.shutDown {
		e.mu.Unlock()
		return unavailable(nil)
	}
	if e.backend != nil {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	t0 := time.Now()
	b, err := e.open()
	if err != nil {
		e.logger.Error("ocrengine: backend start failed", "error", err)
		return unavailable(err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.shutDown {
		b.Close()
		return unavailable(nil)
	}
	e.backend = b
	e.starts++
	go e.run(b)
	e.logger.Info("ocrengine: backend started", "duration_ms", time.Since(t0).Milliseconds())
	return nil
}

func (e *Engine) run(b Backend) {
	defer close(e.stopped)
	for {
		select {
		case <-e.done:
			e.closeErr = b.Close()
			return
		case j := <-e.jobs:
			select {
			case <-e.done:
				j.reply <- result{err: unavailable(nil)}
				continue
			default:
			}
			text, err := b.Recognize(j.img)
			if err != nil {
				err = fmt.Errorf("ocrengine: recognize: %w", err)
			}
			j.reply <- result{text: text, err: err}
		}
	}
}

func unavailable(cause error) error {
	err := ErrEngineUnavailable
	if cause != nil {
		err = fmt.Errorf("%w: %v", ErrEngineUnavailable, cause)
	}
	return docerr.Unavailable("text recognition engine unavailable", err)
}

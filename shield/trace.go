package shield

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/courrier/idgen"
	"github.com/hazyhaar/courrier/kit"
)

// TraceID returns middleware that assigns a request ID (from gen) and a short
// random trace ID to every request. Both go into the context (kit keys) and
// the response headers; a structured logger carrying them is stored under
// LoggerKey.
func TraceID(gen idgen.Generator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := make([]byte, 4)
			rand.Read(id)
			traceID := hex.EncodeToString(id)
			reqID := gen()

			ctx := kit.WithTraceID(r.Context(), traceID)
			ctx = kit.WithRequestID(ctx, reqID)
			ctx = kit.WithTransport(ctx, "http")
			ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
			w.Header().Set("X-Trace-ID", traceID)
			w.Header().Set("X-Request-ID", reqID)

			logger := slog.Default().With(
				"trace_id", traceID,
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
			)
			ctx = context.WithValue(ctx, LoggerKey, logger)
			logger.Info("request", "remote_addr", r.RemoteAddr)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetLogger retrieves the per-request logger from the context.
// Returns slog.Default() if no logger was set.
func GetLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(LoggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// Package observability persists the audit trail of ingestion requests.
//
// Every terminal state of the pipeline (stored or failed) produces one
// AuditEntry. Entries are buffered and flushed in batches by a background
// goroutine; Close drains the buffer.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/courrier/docerr"
	"github.com/hazyhaar/courrier/idgen"
)

// AuditEntry is one terminal pipeline outcome.
type AuditEntry struct {
	EntryID   string    `json:"entryId"`
	Timestamp time.Time `json:"timestamp"`
	Component string    `json:"component"` // "ingester", "api"
	Operation string    `json:"operation"` // "upload", "extract_text"

	RequestID  string `json:"requestId,omitempty"`
	DocumentID string `json:"documentId,omitempty"`
	FileName   string `json:"fileName,omitempty"`
	MIMEType   string `json:"mimeType,omitempty"`

	State        string `json:"state"` // last pipeline state reached
	ErrorKind    string `json:"errorKind,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	DurationMs   int64  `json:"durationMs"`

	Status string `json:"status"` // "success" or "error"
}

// AuditFilter controls Query results.
type AuditFilter struct {
	Operation string
	Status    string
	Limit     int // default 100
}

// AuditLogger persists audit entries asynchronously.
type AuditLogger struct {
	db       *sql.DB
	newID    idgen.Generator
	logger   *slog.Logger
	interval time.Duration
	ch       chan *AuditEntry
	stop     chan struct{}
	done     chan struct{}
}

// AuditOption configures an AuditLogger.
type AuditOption func(*AuditLogger)

// WithAuditIDGenerator sets the generator for entry IDs.
func WithAuditIDGenerator(gen idgen.Generator) AuditOption {
	return func(a *AuditLogger) { a.newID = gen }
}

// WithFlushInterval sets how often buffered entries are written. Default 5s.
func WithFlushInterval(d time.Duration) AuditOption {
	return func(a *AuditLogger) { a.interval = d }
}

// WithAuditLogger sets the logger used for flush failures.
func WithAuditLogger(l *slog.Logger) AuditOption {
	return func(a *AuditLogger) { a.logger = l }
}

// NewAuditLogger starts an async audit logger. db must carry Schema.
func NewAuditLogger(db *sql.DB, bufferSize int, opts ...AuditOption) *AuditLogger {
	a := &AuditLogger{
		db:       db,
		newID:    idgen.Prefixed("audit_", idgen.Default),
		logger:   slog.Default(),
		interval: 5 * time.Second,
		ch:       make(chan *AuditEntry, bufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(a)
	}
	go a.flushLoop()
	return a
}

// NewAuditEntry builds an entry from an operation outcome. A nil err is a
// success; otherwise the docerr kind is recorded.
func NewAuditEntry(component, operation, state string, err error, duration time.Duration) *AuditEntry {
	e := &AuditEntry{
		Timestamp:  time.Now(),
		Component:  component,
		Operation:  operation,
		State:      state,
		DurationMs: duration.Milliseconds(),
		Status:     "success",
	}
	if err != nil {
		e.Status = "error"
		e.ErrorKind = string(docerr.KindOf(err))
		e.ErrorMessage = err.Error()
	}
	return e
}

// Log inserts an entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	a.fillDefaults(entry)
	return a.insert(ctx, a.db, entry)
}

// LogAsync queues an entry. Falls back to a synchronous insert when the
// buffer is full.
func (a *AuditLogger) LogAsync(entry *AuditEntry) {
	a.fillDefaults(entry)
	select {
	case a.ch <- entry:
	default:
		a.logger.Warn("audit buffer full, sync fallback", "operation", entry.Operation)
		if err := a.insert(context.Background(), a.db, entry); err != nil {
			a.logger.Error("audit: sync fallback failed", "error", err)
		}
	}
}

// Query returns entries newest first.
func (a *AuditLogger) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, component, operation, request_id, document_id,
		file_name, mime_type, state, error_kind, error_message, duration_ms, status
		FROM audit_log WHERE 1=1`
	var args []any
	if f.Operation != "" {
		q += " AND operation = ?"
		args = append(args, f.Operation)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var (
			e                                         AuditEntry
			ts                                        int64
			requestID, documentID, fileName, mimeType sql.NullString
			errorKind, errorMessage                   sql.NullString
			durationMs                                sql.NullInt64
		)
		if err := rows.Scan(&e.EntryID, &ts, &e.Component, &e.Operation,
			&requestID, &documentID, &fileName, &mimeType, &e.State,
			&errorKind, &errorMessage, &durationMs, &e.Status); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.UnixMilli(ts)
		e.RequestID = requestID.String
		e.DocumentID = documentID.String
		e.FileName = fileName.String
		e.MIMEType = mimeType.String
		e.ErrorKind = errorKind.String
		e.ErrorMessage = errorMessage.String
		e.DurationMs = durationMs.Int64
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Close drains the buffer and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	close(a.stop)
	<-a.done
	return nil
}

func (a *AuditLogger) fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = a.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Status == "" {
		if e.ErrorMessage != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			a.logger.Error("audit: begin tx", "error", err)
			return
		}
		for _, e := range batch {
			if err := a.insert(ctx, tx, e); err != nil {
				a.logger.Error("audit: insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			a.logger.Error("audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (a *AuditLogger) insert(ctx context.Context, db execer, e *AuditEntry) error {
	_, err := db.ExecContext(ctx, `INSERT INTO audit_log
		(entry_id, timestamp, component, operation, request_id, document_id,
		 file_name, mime_type, state, error_kind, error_message, duration_ms, status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.EntryID, e.Timestamp.UnixMilli(), e.Component, e.Operation, e.RequestID, e.DocumentID,
		e.FileName, e.MIMEType, e.State, e.ErrorKind, e.ErrorMessage, e.DurationMs, e.Status)
	return err
}

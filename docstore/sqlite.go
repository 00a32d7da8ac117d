package docstore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/hazyhaar/courrier/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    seq             INTEGER PRIMARY KEY AUTOINCREMENT,
    id              TEXT NOT NULL UNIQUE,
    file_name       TEXT NOT NULL,
    original_mime   TEXT NOT NULL,
    artifact_name   TEXT NOT NULL,
    display_name    TEXT NOT NULL DEFAULT '',
    extracted_text  TEXT NOT NULL DEFAULT '',
    direction       TEXT NOT NULL CHECK (direction IN ('Incoming', 'Outgoing')),
    letter_date     TEXT NOT NULL,
    letter_number   TEXT NOT NULL,
    sender          TEXT NOT NULL,
    recipient       TEXT NOT NULL,
    subject         TEXT NOT NULL,
    reference       TEXT NOT NULL DEFAULT '',
    summary         TEXT NOT NULL,
    conformant      INTEGER NOT NULL DEFAULT 1,
    created_at      INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at DESC, seq DESC);

CREATE TRIGGER IF NOT EXISTS documents_no_update BEFORE UPDATE ON documents
BEGIN SELECT RAISE(ABORT, 'documents are append-only'); END;

CREATE TRIGGER IF NOT EXISTS documents_no_delete BEFORE DELETE ON documents
BEGIN SELECT RAISE(ABORT, 'documents are append-only'); END;
`

const dateLayout = "2006-01-02"

// SQLiteStore persists records in SQLite.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.Mutex
	clock  clock
	prefix string
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
func OpenSQLite(path string, opts ...Option) (*SQLiteStore, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("docstore: %w", err)
	}
	s, err := NewSQLite(db, opts...)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite wraps an open database, applying the schema if needed.
func NewSQLite(db *sql.DB, opts ...Option) (*SQLiteStore, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("docstore: migrate: %w", err)
	}
	o := buildOptions(opts)
	s := &SQLiteStore{db: db, clock: clock{now: o.now}, prefix: o.previewPrefix}

	var last sql.NullInt64
	if err := db.QueryRow(`SELECT MAX(created_at) FROM documents`).Scan(&last); err != nil {
		return nil, fmt.Errorf("docstore: load clock: %w", err)
	}
	if last.Valid {
		s.clock.last = time.Unix(0, last.Int64).UTC()
	}
	return s, nil
}

// DB returns the underlying database.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// Append inserts rec and sets rec.Seq and rec.CreatedAt.
func (s *SQLiteStore) Append(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("docstore: record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	created := s.clock.next()
	m := rec.Metadata
	var seq int64
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO documents
			(id, file_name, original_mime, artifact_name, display_name, extracted_text,
			 direction, letter_date, letter_number, sender, recipient, subject, reference, summary,
			 conformant, created_at)
			VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			rec.ID, rec.FileName, rec.OriginalMIME, rec.ArtifactName, rec.DisplayName, rec.ExtractedText,
			string(m.Direction), m.LetterDate.Format(dateLayout), m.LetterNumber, m.From, m.To,
			m.Subject, m.Reference, m.Summary,
			boolInt(rec.Conformant), created.UnixNano())
		if err != nil {
			return err
		}
		seq, err = res.LastInsertId()
		return err
	})
	if err != nil {
		if dbopen.IsUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, rec.ID)
		}
		return fmt.Errorf("docstore: append: %w", err)
	}
	rec.Seq = seq
	rec.CreatedAt = created
	rec.PreviewURL = PreviewURL(s.prefix, rec.ArtifactName)
	return nil
}

// List returns all records, newest first.
func (s *SQLiteStore) List(ctx context.Context) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT seq, id, file_name, original_mime, artifact_name,
		display_name, extracted_text, direction, letter_date, letter_number, sender, recipient,
		subject, reference, summary, conformant, created_at
		FROM documents ORDER BY created_at DESC, seq DESC`)
	if err != nil {
		return nil, fmt.Errorf("docstore: list: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var (
			r          Record
			direction  string
			letterDate string
			conformant int
			created    int64
		)
		if err := rows.Scan(&r.Seq, &r.ID, &r.FileName, &r.OriginalMIME, &r.ArtifactName,
			&r.DisplayName, &r.ExtractedText, &direction, &letterDate, &r.Metadata.LetterNumber,
			&r.Metadata.From, &r.Metadata.To, &r.Metadata.Subject, &r.Metadata.Reference,
			&r.Metadata.Summary, &conformant, &created); err != nil {
			return nil, fmt.Errorf("docstore: scan: %w", err)
		}
		r.Metadata.Direction = Direction(direction)
		if d, err := time.Parse(dateLayout, letterDate); err == nil {
			r.Metadata.LetterDate = d
		}
		r.Conformant = conformant != 0
		r.CreatedAt = time.Unix(0, created).UTC()
		r.PreviewURL = PreviewURL(s.prefix, r.ArtifactName)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("docstore: count: %w", err)
	}
	return n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

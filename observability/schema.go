package observability

import "database/sql"

// Schema is the DDL of the audit trail.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_log (
    entry_id      TEXT PRIMARY KEY,
    timestamp     INTEGER NOT NULL,
    component     TEXT NOT NULL,
    operation     TEXT NOT NULL,
    request_id    TEXT,
    document_id   TEXT,
    file_name     TEXT,
    mime_type     TEXT,
    state         TEXT NOT NULL,
    error_kind    TEXT,
    error_message TEXT,
    duration_ms   INTEGER,
    status        TEXT NOT NULL,
    created_at    INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_log(timestamp DESC);
CREATE INDEX IF NOT EXISTS idx_audit_status ON audit_log(status);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}

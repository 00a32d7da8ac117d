package observability

import (
	"context"
	"testing"
	"time"

	"github.com/hazyhaar/courrier/dbopen"
	"github.com/hazyhaar/courrier/docerr"
	"github.com/hazyhaar/courrier/idgen"
)

func TestAuditLogger_AsyncDrainOnClose(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	a := NewAuditLogger(db, 10, WithAuditIDGenerator(idgen.Sequence("a")), WithFlushInterval(time.Hour))

	ok := NewAuditEntry("ingester", "upload", "Stored", nil, 120*time.Millisecond)
	ok.DocumentID = "doc_1"
	a.LogAsync(ok)
	a.LogAsync(NewAuditEntry("ingester", "upload", "Failed",
		docerr.Conversion("Failed to convert document to PDF/A-3 format. Please try again.", nil), time.Second))
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	entries, err := a.Query(context.Background(), AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}

	failed, err := a.Query(context.Background(), AuditFilter{Status: "error"})
	if err != nil {
		t.Fatal(err)
	}
	if len(failed) != 1 {
		t.Fatalf("failed entries = %d, want 1", len(failed))
	}
	if failed[0].ErrorKind != string(docerr.ConversionFailed) || failed[0].State != "Failed" {
		t.Errorf("failed entry = %+v", failed[0])
	}
}

func TestAuditLogger_SyncLog(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	a := NewAuditLogger(db, 1)
	defer a.Close()

	e := &AuditEntry{Component: "api", Operation: "extract_text", State: "Extracted", RequestID: "req_9"}
	if err := a.Log(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if e.EntryID == "" || e.Status != "success" {
		t.Fatalf("defaults not filled: %+v", e)
	}
	got, err := a.Query(context.Background(), AuditFilter{Operation: "extract_text", Limit: 5})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].RequestID != "req_9" {
		t.Fatalf("got %+v", got)
	}
}

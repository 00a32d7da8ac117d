package ingester

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/courrier/archival"
	"github.com/hazyhaar/courrier/dbopen"
	"github.com/hazyhaar/courrier/docerr"
	"github.com/hazyhaar/courrier/docstore"
	"github.com/hazyhaar/courrier/idgen"
	"github.com/hazyhaar/courrier/observability"
	"github.com/hazyhaar/courrier/ocrengine"
	"github.com/hazyhaar/courrier/textextract"
)

type fakeExtractor struct {
	calls atomic.Int32
	text  string
	err   error
}

func (f *fakeExtractor) Extract(ctx context.Context, data []byte, mimeType string) (*textextract.Result, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &textextract.Result{
		Text:          f.text,
		Pages:         []string{f.text},
		Processed:     []byte("%PDF-1.7 processed"),
		ProcessedMIME: textextract.MIMEPDF,
	}, nil
}

type fakeConverter struct {
	dir   string
	seq   atomic.Int32
	err   error
	block chan struct{}

	mu        sync.Mutex
	inputs    []archival.Input
	discarded []string
	inFlight  int
	maxFlight int
}

func newFakeConverter(t *testing.T) *fakeConverter {
	return &fakeConverter{dir: t.TempDir()}
}

func (f *fakeConverter) Convert(ctx context.Context, in archival.Input) (*archival.Result, error) {
	f.mu.Lock()
	f.inputs = append(f.inputs, in)
	f.inFlight++
	if f.inFlight > f.maxFlight {
		f.maxFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, docerr.Conversion(msgConversion, ctx.Err())
		}
	} else {
		time.Sleep(5 * time.Millisecond)
	}
	if f.err != nil {
		return nil, f.err
	}
	name := fmt.Sprintf("art-%d.pdf", f.seq.Add(1))
	p := filepath.Join(f.dir, name)
	if err := os.WriteFile(p, in.Data, 0o644); err != nil {
		return nil, err
	}
	return &archival.Result{ArtifactName: name, Path: p, DisplayName: "lettre.pdf", Size: int64(len(in.Data)), Conformant: true}, nil
}

func (f *fakeConverter) Discard(res *archival.Result) error {
	f.mu.Lock()
	f.discarded = append(f.discarded, res.ArtifactName)
	f.mu.Unlock()
	return os.Remove(res.Path)
}

type failingStore struct{ docstore.Store }

func (failingStore) Append(context.Context, *docstore.Record) error { return errors.New("disk full") }

type fakeMirror struct {
	err       error
	published []string
}

func (m *fakeMirror) Publish(_ context.Context, name, _ string) error {
	m.published = append(m.published, name)
	return m.err
}

func validFields() Fields {
	return Fields{
		IncomingOutgoing: "Incoming",
		LetterDate:       "2024-03-14",
		LetterNumber:     "L-42",
		From:             "Ministry of Works",
		To:               "Registry",
		Subject:          "Tender",
		Summary:          "Tender notice",
	}
}

func jpegUpload() *Upload {
	return &Upload{Data: []byte("fake jpeg bytes"), MIME: "image/jpeg", FileName: "scan 12.jpg", Fields: validFields()}
}

func fastPipeline() PipelineConfig {
	return PipelineConfig{MaxConcurrent: 4, QueueTimeout: time.Second, RequestTimeout: 10 * time.Second}
}

func TestIngest_Image(t *testing.T) {
	ex := &fakeExtractor{text: "Dear Sir"}
	conv := newFakeConverter(t)
	store := docstore.NewMemoryStore()
	ing := New(fastPipeline(), ex, conv, store, WithIDGenerator(idgen.Sequence("doc_")))

	rec, err := ing.Ingest(context.Background(), jpegUpload())
	if err != nil {
		t.Fatal(err)
	}
	if rec.ID != "doc_1" || rec.ExtractedText != "Dear Sir" || rec.OriginalMIME != "image/jpeg" {
		t.Fatalf("record = %+v", rec)
	}
	if rec.PreviewURL != "/uploads/converted/art-1.pdf" {
		t.Errorf("PreviewURL = %q", rec.PreviewURL)
	}
	if !rec.Metadata.LetterDate.Equal(time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("LetterDate = %v", rec.Metadata.LetterDate)
	}
	// The converter receives the processed PDF, not the raw image.
	in := conv.inputs[0]
	if in.MIME != textextract.MIMEPDF || string(in.Data) != "%PDF-1.7 processed" || in.Pages[0] != "Dear Sir" {
		t.Errorf("converter input = %+v", in)
	}
	if n, _ := store.Count(context.Background()); n != 1 {
		t.Fatalf("records = %d, want 1", n)
	}
}

func TestIngest_OfficeSkipsExtraction(t *testing.T) {
	ex := &fakeExtractor{text: "unused"}
	conv := newFakeConverter(t)
	ing := New(fastPipeline(), ex, conv, docstore.NewMemoryStore())

	u := jpegUpload()
	u.MIME = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	u.FileName = "lettre.docx"
	rec, err := ing.Ingest(context.Background(), u)
	if err != nil {
		t.Fatal(err)
	}
	if ex.calls.Load() != 0 {
		t.Fatal("extraction must not run for office documents")
	}
	if rec.ExtractedText != "" || conv.inputs[0].MIME != u.MIME {
		t.Fatalf("record = %+v, input mime = %s", rec, conv.inputs[0].MIME)
	}
}

func TestIngest_RejectsBeforeAnyStage(t *testing.T) {
	big := jpegUpload()
	big.Data = make([]byte, MaxUploadBytes+1)

	plain := jpegUpload()
	plain.MIME = "text/plain"

	empty := jpegUpload()
	empty.Data = nil

	missing := jpegUpload()
	missing.Fields.LetterNumber = "  "
	missing.Fields.Summary = ""

	badDate := jpegUpload()
	badDate.Fields.LetterDate = "next tuesday"

	badDir := jpegUpload()
	badDir.Fields.IncomingOutgoing = "Sideways"

	cases := map[string]struct {
		u   *Upload
		msg string
	}{
		"oversize":   {big, "File size exceeds 10MB limit"},
		"text/plain": {plain, "Invalid file type. Please upload a supported document format."},
		"empty":      {empty, "No file uploaded"},
		"missing":    {missing, "Missing required metadata fields: letterNumber, summary"},
		"bad date":   {badDate, "letterDate is not a valid date"},
		"direction":  {badDir, "incomingOutgoing must be Incoming or Outgoing"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			ex := &fakeExtractor{}
			conv := newFakeConverter(t)
			store := docstore.NewMemoryStore()
			ing := New(fastPipeline(), ex, conv, store)

			_, err := ing.Ingest(context.Background(), tc.u)
			if docerr.KindOf(err) != docerr.InvalidInput {
				t.Fatalf("kind = %s (%v), want invalid_input", docerr.KindOf(err), err)
			}
			if docerr.Public(err) != tc.msg {
				t.Errorf("message = %q, want %q", docerr.Public(err), tc.msg)
			}
			if ex.calls.Load() != 0 || len(conv.inputs) != 0 {
				t.Fatal("no stage may run before validation passes")
			}
			if n, _ := store.Count(context.Background()); n != 0 {
				t.Fatal("store changed")
			}
		})
	}
}

func TestIngest_PreviewURLFollowsStorePrefix(t *testing.T) {
	store := docstore.NewMemoryStore(docstore.WithPreviewPrefix("/files/"))
	ing := New(fastPipeline(), &fakeExtractor{}, newFakeConverter(t), store)

	rec, err := ing.Ingest(context.Background(), jpegUpload())
	if err != nil {
		t.Fatal(err)
	}
	recs, err := store.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rec.PreviewURL != "/files/art-1.pdf" || recs[0].PreviewURL != rec.PreviewURL {
		t.Fatalf("upload PreviewURL = %q, listed %q", rec.PreviewURL, recs[0].PreviewURL)
	}
}

func TestIngest_MetadataStoredAsSubmitted(t *testing.T) {
	store := docstore.NewMemoryStore()
	ing := New(fastPipeline(), &fakeExtractor{}, newFakeConverter(t), store)
	u := jpegUpload()
	u.Fields.LetterNumber = "  A&B/12 "
	u.Fields.From = "O'Brien & Sons"
	u.Fields.To = "Acme <ops@acme.example>"
	u.Fields.Subject = `Q3 "report"`
	u.Fields.Reference = "<Acme>"
	u.Fields.Summary = "x < y"
	u.Fields.LetterDate = "2024-03-14T09:30:00Z"

	rec, err := ing.Ingest(context.Background(), u)
	if err != nil {
		t.Fatal(err)
	}
	want := docstore.Metadata{
		Direction:    docstore.Incoming,
		LetterDate:   time.Date(2024, 3, 14, 0, 0, 0, 0, time.UTC),
		LetterNumber: "A&B/12",
		From:         "O'Brien & Sons",
		To:           "Acme <ops@acme.example>",
		Subject:      `Q3 "report"`,
		Reference:    "<Acme>",
		Summary:      "x < y",
	}
	if rec.Metadata != want {
		t.Errorf("metadata = %+v\nwant       %+v", rec.Metadata, want)
	}
	recs, _ := store.List(context.Background())
	if recs[0].Metadata != want {
		t.Errorf("stored metadata = %+v", recs[0].Metadata)
	}
}

func TestIngest_RejectsMarkupInMetadata(t *testing.T) {
	for name, subject := range map[string]string{
		"script":  "<script>alert(1)</script>Tender",
		"element": "<b>Tender</b>",
		"comment": "Tender <!-- hidden -->",
		"handler": `<img src=x onerror="alert(1)">`,
	} {
		t.Run(name, func(t *testing.T) {
			conv := newFakeConverter(t)
			store := docstore.NewMemoryStore()
			ing := New(fastPipeline(), &fakeExtractor{}, conv, store)
			u := jpegUpload()
			u.Fields.Subject = subject

			_, err := ing.Ingest(context.Background(), u)
			if docerr.KindOf(err) != docerr.InvalidInput {
				t.Fatalf("kind = %s (%v), want invalid_input", docerr.KindOf(err), err)
			}
			if docerr.Public(err) != "subject must not contain HTML markup" {
				t.Errorf("message = %q", docerr.Public(err))
			}
			if len(conv.inputs) != 0 {
				t.Fatal("conversion ran for rejected metadata")
			}
		})
	}
}

func TestParseFields_RequiredAfterTrim(t *testing.T) {
	f := validFields()
	f.To = "   "
	_, err := parseFields(f)
	if docerr.Public(err) != "Missing required metadata fields: to" {
		t.Fatalf("err = %v", err)
	}
}

func TestIngest_ExtractionFailure(t *testing.T) {
	cause := docerr.Unavailable("text recognition engine unavailable", ocrengine.ErrEngineUnavailable)
	ex := &fakeExtractor{err: docerr.Extraction("text recognition failed", cause)}
	conv := newFakeConverter(t)
	store := docstore.NewMemoryStore()
	ing := New(fastPipeline(), ex, conv, store)

	_, err := ing.Ingest(context.Background(), jpegUpload())
	if docerr.KindOf(err) != docerr.ExtractionFailed {
		t.Fatalf("kind = %s", docerr.KindOf(err))
	}
	if !errors.Is(err, ocrengine.ErrEngineUnavailable) {
		t.Error("engine unavailability must stay reachable")
	}
	if docerr.Public(err) != "Failed to process document text. Please try again." {
		t.Errorf("message = %q", docerr.Public(err))
	}
	if len(conv.inputs) != 0 {
		t.Fatal("conversion must not run after extraction failed")
	}
}

func TestIngest_ConversionFailureStoresNothing(t *testing.T) {
	conv := newFakeConverter(t)
	conv.err = docerr.Conversion(msgConversion, errors.New("gs exited 0 but produced no artifact"))
	store := docstore.NewMemoryStore()
	ing := New(fastPipeline(), &fakeExtractor{}, conv, store)

	_, err := ing.Ingest(context.Background(), jpegUpload())
	if docerr.KindOf(err) != docerr.ConversionFailed {
		t.Fatalf("kind = %s", docerr.KindOf(err))
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Fatal("store changed")
	}
}

func TestIngest_ValidationFailureKeepsKind(t *testing.T) {
	conv := newFakeConverter(t)
	conv.err = docerr.Validation("archival artifact failed validation", errors.New("exit status 1"))
	ing := New(fastPipeline(), &fakeExtractor{}, conv, docstore.NewMemoryStore())
	if _, err := ing.Ingest(context.Background(), jpegUpload()); docerr.KindOf(err) != docerr.ValidationFailed {
		t.Fatalf("kind = %s", docerr.KindOf(err))
	}
}

func TestIngest_AppendFailureDiscardsArtifact(t *testing.T) {
	conv := newFakeConverter(t)
	ing := New(fastPipeline(), &fakeExtractor{}, conv, failingStore{docstore.NewMemoryStore()})

	_, err := ing.Ingest(context.Background(), jpegUpload())
	if docerr.KindOf(err) != docerr.Internal {
		t.Fatalf("kind = %s", docerr.KindOf(err))
	}
	if strings.Contains(docerr.Public(err), "disk full") {
		t.Error("internal cause leaked into the public message")
	}
	if len(conv.discarded) != 1 {
		t.Fatalf("discarded = %v", conv.discarded)
	}
	if entries, _ := os.ReadDir(conv.dir); len(entries) != 0 {
		t.Fatalf("artifact left behind: %v", entries)
	}
}

func TestIngest_MirrorFailureDiscards(t *testing.T) {
	conv := newFakeConverter(t)
	m := &fakeMirror{err: errors.New("bucket unreachable")}
	store := docstore.NewMemoryStore()
	ing := New(fastPipeline(), &fakeExtractor{}, conv, store, WithMirror(m))

	if _, err := ing.Ingest(context.Background(), jpegUpload()); docerr.KindOf(err) != docerr.ConversionFailed {
		t.Fatalf("kind = %s", docerr.KindOf(err))
	}
	if len(m.published) != 1 || len(conv.discarded) != 1 {
		t.Fatalf("published = %v, discarded = %v", m.published, conv.discarded)
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Fatal("store changed")
	}
}

func TestIngest_ConcurrentUploads(t *testing.T) {
	conv := newFakeConverter(t)
	store := docstore.NewMemoryStore()
	cfg := PipelineConfig{MaxConcurrent: 3, QueueTimeout: 10 * time.Second}
	ing := New(cfg, &fakeExtractor{text: "x"}, conv, store)

	const n = 12
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ing.Ingest(context.Background(), jpegUpload()); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}

	recs, _ := store.List(context.Background())
	if len(recs) != n {
		t.Fatalf("records = %d, want %d", len(recs), n)
	}
	ids, artifacts := map[string]bool{}, map[string]bool{}
	for _, r := range recs {
		ids[r.ID] = true
		artifacts[r.ArtifactName] = true
	}
	if len(ids) != n || len(artifacts) != n {
		t.Fatalf("distinct ids = %d, artifacts = %d", len(ids), len(artifacts))
	}
	if conv.maxFlight > 3 {
		t.Fatalf("max in flight = %d, want <= 3", conv.maxFlight)
	}
}

func TestIngest_Overloaded(t *testing.T) {
	conv := newFakeConverter(t)
	conv.block = make(chan struct{})
	ing := New(PipelineConfig{MaxConcurrent: 1, QueueTimeout: 20 * time.Millisecond}, &fakeExtractor{}, conv, docstore.NewMemoryStore())

	first := make(chan error, 1)
	go func() {
		_, err := ing.Ingest(context.Background(), jpegUpload())
		first <- err
	}()
	for {
		conv.mu.Lock()
		busy := conv.inFlight == 1
		conv.mu.Unlock()
		if busy {
			break
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := ing.Ingest(context.Background(), jpegUpload()); docerr.KindOf(err) != docerr.Overloaded {
		t.Fatalf("kind = %s (%v), want overloaded", docerr.KindOf(err), err)
	}
	close(conv.block)
	if err := <-first; err != nil {
		t.Fatal(err)
	}
}

func TestIngest_RequestTimeout(t *testing.T) {
	conv := newFakeConverter(t)
	conv.block = make(chan struct{})
	store := docstore.NewMemoryStore()
	ing := New(PipelineConfig{MaxConcurrent: 1, RequestTimeout: 20 * time.Millisecond}, &fakeExtractor{}, conv, store)

	if _, err := ing.Ingest(context.Background(), jpegUpload()); err == nil {
		t.Fatal("expected deadline failure")
	}
	if n, _ := store.Count(context.Background()); n != 0 {
		t.Fatal("store changed")
	}
}

func TestIngest_AuditsTerminalStates(t *testing.T) {
	db := dbopen.OpenMemory(t, dbopen.WithSchema(observability.Schema))
	audit := observability.NewAuditLogger(db, 10, observability.WithFlushInterval(time.Hour))
	ing := New(fastPipeline(), &fakeExtractor{}, newFakeConverter(t), docstore.NewMemoryStore(), WithAudit(audit))

	ing.Ingest(context.Background(), jpegUpload())
	bad := jpegUpload()
	bad.MIME = "text/plain"
	ing.Ingest(context.Background(), bad)
	audit.Close()

	entries, err := audit.Query(context.Background(), observability.AuditFilter{Operation: "upload"})
	if err != nil {
		t.Fatal(err)
	}
	states := map[string]int{}
	for _, e := range entries {
		states[e.State]++
	}
	if states["Stored"] != 1 || states["Failed"] != 1 {
		t.Fatalf("states = %v", states)
	}
}

func TestExtractText(t *testing.T) {
	ex := &fakeExtractor{text: "hello"}
	ing := New(fastPipeline(), ex, newFakeConverter(t), docstore.NewMemoryStore())

	res, err := ing.ExtractText(context.Background(), []byte("png"), "image/png")
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "hello" {
		t.Fatalf("text = %q", res.Text)
	}
	if _, err := ing.ExtractText(context.Background(), []byte("doc"), "application/msword"); docerr.KindOf(err) != docerr.InvalidInput {
		t.Fatalf("office extraction kind = %s", docerr.KindOf(err))
	}
	if ex.calls.Load() != 1 {
		t.Fatalf("extractor calls = %d", ex.calls.Load())
	}
}

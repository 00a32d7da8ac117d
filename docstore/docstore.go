// Package docstore is the append-only registry of archived letters.
//
// Records are immutable once appended; there is no update or delete.
// Append assigns an insertion sequence, a creation timestamp that never
// goes backwards, and fills in PreviewURL. List returns a snapshot, newest
// first, with ties broken by insertion order (later insertion first).
package docstore

import (
	"context"
	"errors"
	"path"
	"time"
)

// ErrDuplicate is returned when a record ID is already present.
var ErrDuplicate = errors.New("docstore: duplicate record id")

// Direction of a letter.
type Direction string

const (
	Incoming Direction = "Incoming"
	Outgoing Direction = "Outgoing"
)

// Metadata is the validated descriptive data of a letter.
type Metadata struct {
	Direction    Direction `json:"incomingOutgoing"`
	LetterDate   time.Time `json:"letterDate"`
	LetterNumber string    `json:"letterNumber"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Subject      string    `json:"subject"`
	Reference    string    `json:"reference"`
	Summary      string    `json:"summary"`
}

// Record is one archived document.
type Record struct {
	ID            string    `json:"id"`
	Seq           int64     `json:"-"`
	FileName      string    `json:"fileName"`
	OriginalMIME  string    `json:"originalFormat"`
	ArtifactName  string    `json:"artifact"`
	DisplayName   string    `json:"displayName"`
	ExtractedText string    `json:"extractedText"`
	Metadata      Metadata  `json:"metadata"`
	CreatedAt     time.Time `json:"uploadedAt"`
	Conformant    bool      `json:"conformant"`
	PreviewURL    string    `json:"previewUrl"`
}

// Store is implemented by MemoryStore and SQLiteStore.
type Store interface {
	Append(ctx context.Context, rec *Record) error
	List(ctx context.Context) ([]*Record, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// DefaultPreviewPrefix is the URL path artifacts are served under.
const DefaultPreviewPrefix = "/uploads/converted/"

// PreviewURL derives the access URL of an artifact.
func PreviewURL(prefix, artifact string) string {
	if artifact == "" {
		return ""
	}
	return prefix + path.Base(artifact)
}

// clock yields creation timestamps that never go backwards.
type clock struct {
	now  func() time.Time
	last time.Time
}

// next must be called with the store's write lock held.
func (c *clock) next() time.Time {
	t := c.now().UTC()
	if t.Before(c.last) {
		t = c.last
	}
	c.last = t
	return t
}

// Option configures a store.
type Option func(*options)

type options struct {
	now           func() time.Time
	previewPrefix string
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now, previewPrefix: DefaultPreviewPrefix}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) Option { return func(o *options) { o.now = now } }

// WithPreviewPrefix sets the URL prefix used to derive PreviewURL.
func WithPreviewPrefix(p string) Option { return func(o *options) { o.previewPrefix = p } }

func cloneRecord(r *Record) *Record {
	c := *r
	return &c
}

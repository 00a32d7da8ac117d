package ingester

import (
	"html"
	"io"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	xhtml "golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/courrier/docerr"
	"github.com/hazyhaar/courrier/docstore"
)

// MaxUploadBytes is the largest accepted payload (10 MiB).
const MaxUploadBytes = 10 * 1024 * 1024

// allowedMIME is the fixed upload allow-list.
var allowedMIME = map[string]bool{
	"image/jpeg":         true,
	"image/png":          true,
	"image/gif":          true,
	"image/tiff":         true,
	"image/bmp":          true,
	"image/webp":         true,
	"application/pdf":    true,
	"application/msword": true,
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": true,
	"application/vnd.ms-excel": true,
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// Allowed reports whether mimeType may be uploaded.
func Allowed(mimeType string) bool { return allowedMIME[mimeType] }

// Fields are the raw metadata form values of an upload.
type Fields struct {
	IncomingOutgoing string
	LetterDate       string
	LetterNumber     string
	From             string
	To               string
	Subject          string
	Reference        string
	Summary          string
}

// Upload is one commit request.
type Upload struct {
	Data     []byte
	MIME     string
	FileName string // untrusted
	Fields   Fields
}

var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04"}

var strict = bluemonday.StrictPolicy()

// hasMarkup reports whether s carries HTML: a known element, a comment or a
// doctype. Text the strict policy leaves intact is plain. Angle brackets
// around things that are not HTML elements ("Acme <ops@acme.example>")
// are not markup.
func hasMarkup(s string) bool {
	if html.UnescapeString(strict.Sanitize(s)) == s {
		return false
	}
	z := xhtml.NewTokenizer(strings.NewReader(s))
	for {
		switch z.Next() {
		case xhtml.ErrorToken:
			return z.Err() != io.EOF
		case xhtml.CommentToken, xhtml.DoctypeToken:
			return true
		case xhtml.StartTagToken, xhtml.EndTagToken, xhtml.SelfClosingTagToken:
			name, _ := z.TagName()
			if atom.Lookup(name) != 0 {
				return true
			}
		}
	}
}

// validateUpload checks payload, type and metadata. It touches nothing
// outside its arguments.
func validateUpload(u *Upload) (docstore.Metadata, error) {
	if len(u.Data) == 0 {
		return docstore.Metadata{}, docerr.Invalid("No file uploaded")
	}
	if len(u.Data) > MaxUploadBytes {
		return docstore.Metadata{}, docerr.Invalid("File size exceeds 10MB limit")
	}
	if !Allowed(u.MIME) {
		return docstore.Metadata{}, docerr.Invalid("Invalid file type. Please upload a supported document format.")
	}
	return parseFields(u.Fields)
}

func parseFields(f Fields) (docstore.Metadata, error) {
	m := docstore.Metadata{
		Direction:    docstore.Direction(strings.TrimSpace(f.IncomingOutgoing)),
		LetterNumber: strings.TrimSpace(f.LetterNumber),
		From:         strings.TrimSpace(f.From),
		To:           strings.TrimSpace(f.To),
		Subject:      strings.TrimSpace(f.Subject),
		Reference:    strings.TrimSpace(f.Reference),
		Summary:      strings.TrimSpace(f.Summary),
	}
	date := strings.TrimSpace(f.LetterDate)

	fields := []struct {
		name, value string
		required    bool
	}{
		{"incomingOutgoing", string(m.Direction), true},
		{"letterDate", date, true},
		{"letterNumber", m.LetterNumber, true},
		{"from", m.From, true},
		{"to", m.To, true},
		{"subject", m.Subject, true},
		{"reference", m.Reference, false},
		{"summary", m.Summary, true},
	}
	var missing []string
	for _, fl := range fields {
		if fl.required && fl.value == "" {
			missing = append(missing, fl.name)
		}
	}
	if len(missing) > 0 {
		return docstore.Metadata{}, docerr.Invalid("Missing required metadata fields: " + strings.Join(missing, ", "))
	}
	for _, fl := range fields {
		if hasMarkup(fl.value) {
			return docstore.Metadata{}, docerr.Invalid(fl.name + " must not contain HTML markup")
		}
	}

	switch m.Direction {
	case docstore.Incoming, docstore.Outgoing:
	default:
		return docstore.Metadata{}, docerr.Invalidf("incomingOutgoing must be %s or %s", docstore.Incoming, docstore.Outgoing)
	}

	d, ok := parseDate(date)
	if !ok {
		return docstore.Metadata{}, docerr.Invalid("letterDate is not a valid date")
	}
	m.LetterDate = d
	return m, nil
}

// parseDate keeps only the calendar date.
func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, mo, d := t.Date()
			return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

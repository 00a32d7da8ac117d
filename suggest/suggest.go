// Package suggest asks a language model to propose letter metadata from
// extracted text. Suggestions are advisory: they are shown to the operator
// and never written to the document store directly.
package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyText is returned when there is nothing to analyze.
var ErrEmptyText = errors.New("suggest: empty text")

// Suggestion is the metadata proposed for a letter.
type Suggestion struct {
	Type                string `json:"type"`
	Date                string `json:"date"`
	Reference           string `json:"reference"`
	From                string `json:"from"`
	To                  string `json:"to"`
	Subject             string `json:"subject"`
	AdditionalReference string `json:"additionalReference"`
	Summary             string `json:"summary"`
}

// Suggester proposes metadata for a document text.
type Suggester interface {
	Suggest(ctx context.Context, text string) (*Suggestion, error)
}

const systemPrompt = "You are a document analysis assistant. Extract key information from the document text " +
	"and format it as JSON with the following fields: type (Incoming/Outgoing), date, reference, from, to, " +
	"subject, additionalReference, and summary."

func userPrompt(text string) string {
	return "Please analyze this document text and extract the key information: " + text
}

// parseSuggestion decodes a model reply. Replies wrapped in a markdown code
// fence are accepted.
func parseSuggestion(content string) (*Suggestion, error) {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	if i := strings.IndexByte(s, '{'); i > 0 {
		s = s[i:]
	}
	var out Suggestion
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return nil, fmt.Errorf("suggest: decode model reply: %w", err)
	}
	return &out, nil
}

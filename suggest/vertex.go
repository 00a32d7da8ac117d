package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
)

// VertexConfig configures the Vertex AI provider.
type VertexConfig struct {
	ProjectID string
	Region    string
	Model     string // default gemini-1.5-pro
}

// Vertex asks a Gemini model on Vertex AI for suggestions.
type Vertex struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewVertex connects to Vertex AI with application default credentials.
func NewVertex(ctx context.Context, cfg VertexConfig) (*Vertex, error) {
	if cfg.ProjectID == "" || cfg.Region == "" {
		return nil, errors.New("suggest: vertex project and region are required")
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-pro"
	}
	client, err := genai.NewClient(ctx, cfg.ProjectID, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("suggest: genai.NewClient: %w", err)
	}
	model := client.GenerativeModel(cfg.Model)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(systemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.3),
		MaxOutputTokens:  genai.Ptr[int32](500),
	}
	return &Vertex{client: client, model: model}, nil
}

// Suggest implements Suggester.
func (v *Vertex) Suggest(ctx context.Context, text string) (*Suggestion, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	resp, err := v.model.GenerateContent(ctx, genai.Text(userPrompt(text)))
	if err != nil {
		return nil, fmt.Errorf("suggest: vertex generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, errors.New("suggest: vertex returned no candidates")
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return parseSuggestion(sb.String())
}

// Close releases the Vertex client.
func (v *Vertex) Close() error { return v.client.Close() }

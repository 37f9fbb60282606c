package explain

import (
	"context"
	"fmt"

	"pixelwatch/internal/config"

	"google.golang.org/genai"
)

// GeminiProvider explains diffs with Google's Gemini vision models. JSON
// output is enforced at the API level via the response MIME type.
type GeminiProvider struct {
	apiKey string
	model  string
}

// NewGeminiProvider builds the provider from config.
func NewGeminiProvider(cfg config.ExplainConfig) *GeminiProvider {
	return &GeminiProvider{apiKey: cfg.GeminiAPIKey, model: cfg.GeminiModel}
}

func (p *GeminiProvider) Name() string { return "gemini" }

func (p *GeminiProvider) Available() bool { return p.apiKey != "" }

func (p *GeminiProvider) Explain(ctx context.Context, images Images) (string, error) {
	if p.apiKey == "" {
		return "", fmt.Errorf("API key not configured")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: p.apiKey,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create GenAI client: %w", err)
	}

	parts := []*genai.Part{
		genai.NewPartFromText("Image 1: BASELINE (Original)"),
		genai.NewPartFromBytes(images.Baseline, "image/png"),
		genai.NewPartFromText("Image 2: CURRENT (New)"),
		genai.NewPartFromBytes(images.Current, "image/png"),
		genai.NewPartFromText("Image 3: DIFF (Red areas = changes)"),
		genai.NewPartFromBytes(images.Diff, "image/png"),
		genai.NewPartFromText(analysisRequest),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	result, err := client.Models.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(visualAnalystPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("GenAI generate failed: %w", err)
	}

	text := result.Text()
	if text == "" {
		return "", fmt.Errorf("no completion returned")
	}
	return text, nil
}

// Package gemini implements vision.Provider with Gemini's multimodal
// generateContent call. The image travels as inline bytes.
package gemini

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	llmgemini "github.com/MrWong99/pettry/pkg/provider/llm/gemini"
	"github.com/MrWong99/pettry/pkg/provider/vision"
)

const defaultModel = "gemini-2.0-flash"

var _ vision.Provider = (*Provider)(nil)

// Provider implements vision.Provider.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Provider. An empty model selects gemini-2.0-flash.
func New(ctx context.Context, apiKey, model string, opts ...llmgemini.Option) (*Provider, error) {
	client, err := llmgemini.NewClient(ctx, apiKey, opts...)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultModel
	}
	return &Provider{client: client, model: model}, nil
}

// Analyze implements vision.Provider.
func (p *Provider) Analyze(ctx context.Context, req vision.Request) (string, error) {
	contents := []*genai.Content{
		genai.NewContentFromParts([]*genai.Part{
			genai.NewPartFromText(req.Prompt),
			genai.NewPartFromBytes(req.Image, req.MIMEType),
		}, genai.RoleUser),
	}
	cfg := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini vision: generate content: %w", err)
	}
	text, _, err := llmgemini.ResponseText(resp)
	if err != nil {
		return "", fmt.Errorf("gemini vision: %w", err)
	}
	return text, nil
}

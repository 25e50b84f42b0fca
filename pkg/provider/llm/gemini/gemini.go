// Package gemini provides an LLM provider backed by Google's Gemini API
// through google.golang.org/genai.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/MrWong99/pettry/pkg/provider/llm"
	"github.com/MrWong99/pettry/pkg/types"
)

const defaultModel = "gemini-2.0-flash"

var _ llm.Provider = (*Provider)(nil)

// Option is a functional option for Provider.
type Option func(*genai.ClientConfig)

// WithBaseURL points the client at a different API host. Used by tests.
func WithBaseURL(url string) Option {
	return func(c *genai.ClientConfig) { c.HTTPOptions.BaseURL = url }
}

// NewClient creates a Gemini API client. Shared with the vision provider.
func NewClient(ctx context.Context, apiKey string, opts ...Option) (*genai.Client, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, o := range opts {
		o(cfg)
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return client, nil
}

// Provider implements llm.Provider with Gemini.
type Provider struct {
	client *genai.Client
	model  string
}

// New creates a Provider. An empty model selects gemini-2.0-flash.
func New(ctx context.Context, apiKey, model string, opts ...Option) (*Provider, error) {
	client, err := NewClient(ctx, apiKey, opts...)
	if err != nil {
		return nil, err
	}
	if model == "" {
		model = defaultModel
	}
	return &Provider{client: client, model: model}, nil
}

// Complete implements llm.Provider.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	// Gemini rejects histories that open with a model turn.
	contents, err := convertMessages(llm.Alternate(req.Messages))
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, generateConfig(req))
	if err != nil {
		return nil, fmt.Errorf("gemini: generate content: %w", err)
	}
	text, finish, err := ResponseText(resp)
	if err != nil {
		return nil, err
	}

	out := &llm.CompletionResponse{Content: text, FinishReason: finish}
	if u := resp.UsageMetadata; u != nil {
		out.Usage = llm.Usage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return out, nil
}

// Capabilities implements llm.Provider.
func (p *Provider) Capabilities() types.ModelCapabilities {
	caps := types.ModelCapabilities{
		ContextWindow:     1_048_576,
		MaxOutputTokens:   8_192,
		SupportsVision:    true,
		SupportsStreaming: true,
	}
	if strings.Contains(p.model, "1.5-pro") {
		caps.ContextWindow = 2_097_152
	}
	return caps
}

func generateConfig(req llm.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature != 0 {
		cfg.Temperature = genai.Ptr(float32(req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	return cfg
}

// convertMessages maps chat roles onto Gemini's user/model roles. System
// messages inside the history are sent as user turns.
func convertMessages(msgs []types.Message) ([]*genai.Content, error) {
	if len(msgs) == 0 {
		return nil, errors.New("gemini: no messages")
	}
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		var role genai.Role
		switch m.Role {
		case types.RoleUser, types.RoleSystem:
			role = genai.RoleUser
		case types.RoleAssistant:
			role = genai.RoleModel
		default:
			return nil, fmt.Errorf("gemini: unknown message role %q", m.Role)
		}
		contents = append(contents, genai.NewContentFromText(m.Content, role))
	}
	return contents, nil
}

// ResponseText concatenates the text parts of the first candidate.
func ResponseText(resp *genai.GenerateContentResponse) (text, finishReason string, err error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", "", errors.New("gemini: no candidates in response")
	}
	cand := resp.Candidates[0]
	var sb strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil && part.Text != "" {
			sb.WriteString(part.Text)
		}
	}
	return sb.String(), strings.ToLower(string(cand.FinishReason)), nil
}

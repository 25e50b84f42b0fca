// Package openai answers chat turns with the OpenAI chat completions API.
// Any OpenAI-compatible endpoint works through WithBaseURL. The client
// options are shared with the OpenAI vision and embeddings providers.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/pettry/pkg/provider/llm"
	"github.com/MrWong99/pettry/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

// Provider implements [llm.Provider] using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
}

// Option configures the OpenAI client.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// RequestOptions turns apiKey and opts into SDK request options.
func RequestOptions(apiKey string, opts ...Option) []option.RequestOption {
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return reqOpts
}

// New returns a Provider answering with model.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}
	client := oai.NewClient(RequestOptions(apiKey, opts...)...)
	return &Provider{client: client, model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai: no choices in response")
	}

	choice := resp.Choices[0]
	content := strings.TrimSpace(choice.Message.Content)
	if content == "" && choice.Message.Refusal != "" {
		return nil, fmt.Errorf("openai: model refused: %s", choice.Message.Refusal)
	}
	return &llm.CompletionResponse{
		Content:      content,
		FinishReason: choice.FinishReason,
		Usage: llm.Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
	}, nil
}

// Capabilities implements [llm.Provider].
func (p *Provider) Capabilities() types.ModelCapabilities {
	return lookupModel(p.model).caps
}

type modelFamily struct {
	prefix string
	caps   types.ModelCapabilities

	// reasoning models only accept the default temperature.
	reasoning bool
}

// families is matched in order, so longer prefixes come first.
var families = []modelFamily{
	{prefix: "gpt-4o", caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsVision: true}},
	{prefix: "gpt-4.1", caps: types.ModelCapabilities{ContextWindow: 1_047_576, MaxOutputTokens: 32_768, SupportsVision: true}},
	{prefix: "gpt-4-turbo", caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096, SupportsVision: true}},
	{prefix: "gpt-4", caps: types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 4_096}},
	{prefix: "gpt-3.5-turbo", caps: types.ModelCapabilities{ContextWindow: 16_385, MaxOutputTokens: 4_096}},
	{prefix: "o1-mini", reasoning: true, caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 65_536}},
	{prefix: "o3-mini", reasoning: true, caps: types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000}},
	{prefix: "o1", reasoning: true, caps: types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsVision: true}},
	{prefix: "o3", reasoning: true, caps: types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsVision: true}},
	{prefix: "o4", reasoning: true, caps: types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 100_000, SupportsVision: true}},
}

// unknownModel is assumed for OpenAI-compatible servers hosting other models.
var unknownModel = modelFamily{caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}}

func lookupModel(model string) modelFamily {
	lower := strings.ToLower(model)
	for _, f := range families {
		if strings.HasPrefix(lower, f.prefix) {
			return f
		}
	}
	return unknownModel
}

// ModelCapabilities returns capabilities for known OpenAI model names.
func ModelCapabilities(model string) types.ModelCapabilities {
	return lookupModel(model).caps
}

func (p *Provider) buildParams(req llm.CompletionRequest) (oai.ChatCompletionNewParams, error) {
	if len(req.Messages) == 0 {
		return oai.ChatCompletionNewParams{}, fmt.Errorf("openai: no messages")
	}
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, oai.SystemMessage(req.SystemPrompt))
	}
	for _, m := range req.Messages {
		msg, err := convertMessage(m)
		if err != nil {
			return oai.ChatCompletionNewParams{}, err
		}
		messages = append(messages, msg)
	}

	family := lookupModel(p.model)
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if req.Temperature != 0 && !family.reasoning {
		params.Temperature = param.NewOpt(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(min(req.MaxTokens, family.caps.MaxOutputTokens)))
	}
	return params, nil
}

func convertMessage(m types.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch m.Role {
	case types.RoleSystem:
		return oai.SystemMessage(m.Content), nil
	case types.RoleUser:
		return oai.UserMessage(m.Content), nil
	case types.RoleAssistant:
		return oai.AssistantMessage(m.Content), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("openai: unknown message role %q", m.Role)
	}
}

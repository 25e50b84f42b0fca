// Package anyllm runs the chat model on any backend supported by
// github.com/mozilla-ai/any-llm-go: Anthropic, Gemini, Ollama, DeepSeek,
// Mistral, Groq, llama.cpp and llamafile. OpenAI has a native adapter in
// llm/openai but is accepted here too.
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/pettry/pkg/provider/llm"
	"github.com/MrWong99/pettry/pkg/types"
)

var _ llm.Provider = (*Provider)(nil)

type backendSpec struct {
	create func(...anyllmlib.Option) (anyllmlib.Provider, error)

	// alternating backends reject histories that do not alternate
	// user/assistant turns starting with the user.
	alternating bool

	caps types.ModelCapabilities
}

var backends = map[string]backendSpec{
	"openai":    {create: adapt(anyllmoai.New), caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 16_384, SupportsVision: true}},
	"anthropic": {create: adapt(anthropic.New), alternating: true, caps: types.ModelCapabilities{ContextWindow: 200_000, MaxOutputTokens: 8_192, SupportsVision: true}},
	"gemini":    {create: adapt(gemini.New), alternating: true, caps: types.ModelCapabilities{ContextWindow: 1_048_576, MaxOutputTokens: 8_192, SupportsVision: true}},
	"ollama":    {create: adapt(ollama.New), caps: types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}},
	"deepseek":  {create: adapt(deepseek.New), caps: types.ModelCapabilities{ContextWindow: 64_000, MaxOutputTokens: 8_192}},
	"mistral":   {create: adapt(mistral.New), alternating: true, caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 4_096}},
	"groq":      {create: adapt(groq.New), caps: types.ModelCapabilities{ContextWindow: 128_000, MaxOutputTokens: 8_192}},
	"llamacpp":  {create: adapt(llamacpp.New), caps: types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}},
	"llamafile": {create: adapt(llamafile.New), caps: types.ModelCapabilities{ContextWindow: 8_192, MaxOutputTokens: 2_048}},
}

// adapt converts a backend constructor returning a concrete provider type
// into one returning the anyllmlib.Provider interface.
func adapt[P anyllmlib.Provider](f func(...anyllmlib.Option) (P, error)) func(...anyllmlib.Option) (anyllmlib.Provider, error) {
	return func(opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
		p, err := f(opts...)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Backends lists the provider names New accepts.
var Backends = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

// Provider implements [llm.Provider] over an any-llm-go backend.
type Provider struct {
	backend anyllmlib.Provider
	spec    backendSpec
	model   string
}

// New creates a Provider for the named backend and model. Without an API
// key option the backend reads its usual environment variable
// (ANTHROPIC_API_KEY, MISTRAL_API_KEY, ...).
func New(backend, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}
	spec, ok := backends[strings.ToLower(backend)]
	if !ok {
		return nil, fmt.Errorf("anyllm: unsupported backend %q; supported: %s", backend, strings.Join(Backends, ", "))
	}
	b, err := spec.create(opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", backend, err)
	}
	return &Provider{backend: b, spec: spec, model: model}, nil
}

// Complete implements [llm.Provider].
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}
	resp, err := p.backend.Completion(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("anyllm: no choices in response")
	}

	out := &llm.CompletionResponse{
		Content:      strings.TrimSpace(resp.Choices[0].Message.ContentString()),
		FinishReason: resp.Choices[0].FinishReason,
	}
	if u := resp.Usage; u != nil {
		out.Usage = llm.Usage{PromptTokens: u.PromptTokens, CompletionTokens: u.CompletionTokens, TotalTokens: u.TotalTokens}
	}
	return out, nil
}

// Capabilities implements [llm.Provider]. Values are per backend family;
// individual models may differ.
func (p *Provider) Capabilities() types.ModelCapabilities {
	return p.spec.caps
}

func (p *Provider) buildParams(req llm.CompletionRequest) (anyllmlib.CompletionParams, error) {
	history := req.Messages
	if p.spec.alternating {
		history = llm.Alternate(history)
	}
	if len(history) == 0 {
		return anyllmlib.CompletionParams{}, fmt.Errorf("anyllm: no user message to answer")
	}

	messages := make([]anyllmlib.Message, 0, len(history)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleSystem, Content: req.SystemPrompt})
	}
	for _, m := range history {
		messages = append(messages, anyllmlib.Message{Role: m.Role, Content: m.Content})
	}

	params := anyllmlib.CompletionParams{Model: p.model, Messages: messages}
	if req.Temperature != 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		mt := min(req.MaxTokens, p.spec.caps.MaxOutputTokens)
		params.MaxTokens = &mt
	}
	return params, nil
}

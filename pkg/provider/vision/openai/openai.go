// Package openai implements vision.Provider with an OpenAI multimodal chat
// model. The image is sent inline as a data URL.
package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	llmopenai "github.com/MrWong99/pettry/pkg/provider/llm/openai"
	"github.com/MrWong99/pettry/pkg/provider/vision"
)

var _ vision.Provider = (*Provider)(nil)

// Provider implements vision.Provider.
type Provider struct {
	client oai.Client
	model  string
}

// New creates a Provider. The model must accept image input
// (e.g. "gpt-4o-mini"). Options are shared with the LLM provider.
func New(apiKey, model string, opts ...llmopenai.Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai vision: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("openai vision: model must not be empty")
	}
	if !llmopenai.ModelCapabilities(model).SupportsVision {
		return nil, fmt.Errorf("openai vision: model %q does not accept images", model)
	}
	return &Provider{
		client: oai.NewClient(llmopenai.RequestOptions(apiKey, opts...)...),
		model:  model,
	}, nil
}

// Analyze implements vision.Provider.
func (p *Provider) Analyze(ctx context.Context, req vision.Request) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.buildParams(req))
	if err != nil {
		return "", fmt.Errorf("openai vision: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai vision: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) buildParams(req vision.Request) oai.ChatCompletionNewParams {
	dataURL := "data:" + req.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(req.Image)
	parts := []oai.ChatCompletionContentPartUnionParam{
		oai.TextContentPart(req.Prompt),
		oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{URL: dataURL}),
	}
	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: []oai.ChatCompletionMessageParamUnion{oai.UserMessage(parts)},
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(req.MaxTokens))
	}
	return params
}

// Package llm defines the Provider interface for large language model
// backends.
//
// A provider wraps a hosted model API (OpenAI, Gemini, or any backend reached
// through any-llm) and exposes a single completion call so the chat service
// can build its prompt once and stay independent of any SDK.
//
// Implementors must be safe for concurrent use.
package llm

import (
	"context"

	"github.com/MrWong99/pettry/pkg/types"
)

// Usage holds token accounting returned by the backend.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// CompletionRequest carries everything the model needs to produce a reply.
// Messages must be non-empty.
type CompletionRequest struct {
	// SystemPrompt is injected ahead of the conversation using the backend's
	// native system instruction mechanism.
	SystemPrompt string

	// Messages is the ordered conversation history. The last message is from
	// the user.
	Messages []types.Message

	// Temperature in [0, 2]. Zero leaves the provider default.
	Temperature float64

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Content string

	// FinishReason is the backend's stop reason ("stop", "length", ...).
	FinishReason string

	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req and waits for the full reply. It returns promptly
	// with ctx.Err() when ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Capabilities describes the configured model. Constant for the lifetime
	// of the provider.
	Capabilities() types.ModelCapabilities
}

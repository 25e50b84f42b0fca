// Package vision defines the Provider interface for image understanding
// backends used by the pet photo analysis service.
package vision

import "context"

// Request is one image analysis call.
type Request struct {
	// Prompt instructs the model what to describe.
	Prompt string

	// Image is the raw encoded image.
	Image []byte

	// MIMEType of Image, e.g. "image/jpeg".
	MIMEType string

	// MaxTokens caps the reply length. Zero leaves the provider default.
	MaxTokens int
}

// Provider turns an image and an instruction into a text description.
// Implementations must be safe for concurrent use.
type Provider interface {
	Analyze(ctx context.Context, req Request) (string, error)
}

// Package mock provides a test double for embeddings.Provider.
package mock

import (
	"context"
	"slices"
	"sync"

	"github.com/MrWong99/pettry/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider returns canned vectors and records the texts it was asked to
// embed.
type Provider struct {
	mu sync.Mutex

	// EmbedResult and EmbedErr are returned by Embed.
	EmbedResult []float32
	EmbedErr    error

	// EmbedBatchResult and EmbedBatchErr are returned by EmbedBatch. A nil
	// EmbedBatchResult yields one nil vector per input.
	EmbedBatchResult [][]float32
	EmbedBatchErr    error

	// Vectors, when set, is consulted first by both methods: a text with an
	// entry gets that vector.
	Vectors map[string][]float32

	DimensionsValue int
	ModelIDValue    string

	// EmbedCalls and EmbedBatchCalls record the texts passed in.
	EmbedCalls      []string
	EmbedBatchCalls [][]string
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	if v, ok := p.Vectors[text]; ok {
		return v, nil
	}
	return p.EmbedResult, nil
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, slices.Clone(texts))
	if p.EmbedBatchErr != nil {
		return nil, p.EmbedBatchErr
	}
	if p.Vectors != nil {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = p.Vectors[t]
		}
		return out, nil
	}
	if p.EmbedBatchResult != nil {
		return p.EmbedBatchResult, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int { return p.DimensionsValue }

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return p.ModelIDValue }

// BatchCalls returns a copy of the recorded EmbedBatch inputs.
func (p *Provider) BatchCalls() [][]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.EmbedBatchCalls)
}

// Package embeddings defines the Provider interface for text embedding
// backends. Pettry embeds product descriptions once when the catalog is
// seeded and embeds each search query, then ranks products by vector
// similarity in the product store.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense vectors. Every vector from one Provider has
// length Dimensions; vectors from different models must not be compared.
type Provider interface {
	// Embed returns the vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns one vector per input, in input order. On error no
	// partial result is returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length of the model.
	Dimensions() int

	// ModelID names the embedding model, e.g. "text-embedding-3-small".
	ModelID() string
}

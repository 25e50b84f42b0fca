package catalog

import (
	"cmp"
	"context"
	"math"
	"slices"
	"strings"
	"sync"
)

var (
	_ Store          = (*MemStore)(nil)
	_ VectorSearcher = (*MemStore)(nil)
)

// MemStore is an in-memory Store. It is safe for concurrent use.
type MemStore struct {
	mu       sync.RWMutex
	products map[string]Product
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{products: make(map[string]Product)}
}

// Products implements Store.
func (s *MemStore) Products(_ context.Context) ([]Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.products))
	for _, p := range s.products {
		out = append(out, p)
	}
	slices.SortFunc(out, byName)
	return out, nil
}

// Product implements Store.
func (s *MemStore) Product(_ context.Context, id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

// UpsertProducts implements Store.
func (s *MemStore) UpsertProducts(_ context.Context, products []Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range products {
		p.Embedding = slices.Clone(p.Embedding)
		s.products[p.ID] = p
	}
	return nil
}

// SearchProducts ranks products with an embedding by cosine similarity.
func (s *MemStore) SearchProducts(_ context.Context, embedding []float32, limit int) ([]Product, error) {
	type scored struct {
		p   Product
		sim float64
	}
	s.mu.RLock()
	var hits []scored
	for _, p := range s.products {
		if len(p.Embedding) != len(embedding) {
			continue
		}
		hits = append(hits, scored{p, cosine(p.Embedding, embedding)})
	}
	s.mu.RUnlock()

	slices.SortFunc(hits, func(a, b scored) int {
		if c := cmp.Compare(b.sim, a.sim); c != 0 {
			return c
		}
		return byName(a.p, b.p)
	})
	out := make([]Product, 0, min(limit, len(hits)))
	for _, h := range hits[:min(limit, len(hits))] {
		out = append(out, h.p)
	}
	return out, nil
}

func byName(a, b Product) int {
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return strings.Compare(a.ID, b.ID)
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

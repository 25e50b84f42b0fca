// Package catalog holds Pettry's product catalog: listing, lookup, search
// and the name matching used to resolve products mentioned in speech.
//
// Products live in a [Store]. The in-memory store serves tests and
// single-node deployments; internal/store/postgres adds vector search over
// product embeddings. When an embeddings provider is configured and the
// store can search by vector, [Catalog.Search] is semantic; otherwise it
// falls back to text and fuzzy name matching.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/embeddings"
)

// ErrNotFound is returned by stores for an unknown product ID.
var ErrNotFound = errors.New("catalog: product not found")

// DefaultSearchLimit caps Search results when the caller passes no limit.
const DefaultSearchLimit = 10

// embedBatchSize is the number of products embedded per provider call.
const embedBatchSize = 32

// Product is one item for sale.
type Product struct {
	ID          string `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`

	// PriceCents is the unit price in cents.
	PriceCents int64 `json:"priceCents" yaml:"price_cents"`

	Category string `json:"category" yaml:"category"`
	PetType  string `json:"petType" yaml:"pet_type"`
	ImageURL string `json:"imageUrl,omitempty" yaml:"image_url"`

	// Embedding is the vector of EmbeddingText, when computed.
	Embedding []float32 `json:"-" yaml:"-"`
}

// Price formats PriceCents as dollars, e.g. "$24.99".
func (p Product) Price() string {
	return FormatCents(p.PriceCents)
}

// EmbeddingText is the text embedded for semantic search.
func (p Product) EmbeddingText() string {
	return fmt.Sprintf("%s. %s Category: %s. For: %s.", p.Name, p.Description, p.Category, p.PetType)
}

// FormatCents renders an amount in cents as dollars.
func FormatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign, cents = "-", -cents
	}
	return fmt.Sprintf("%s$%d.%02d", sign, cents/100, cents%100)
}

// Store persists products.
type Store interface {
	// Products returns every product ordered by name.
	Products(ctx context.Context) ([]Product, error)

	// Product returns one product or ErrNotFound.
	Product(ctx context.Context, id string) (Product, error)

	// UpsertProducts inserts or replaces products by ID.
	UpsertProducts(ctx context.Context, products []Product) error
}

// VectorSearcher is implemented by stores that can rank products by
// embedding similarity.
type VectorSearcher interface {
	SearchProducts(ctx context.Context, embedding []float32, limit int) ([]Product, error)
}

// Option configures a [Catalog].
type Option func(*Catalog)

// WithEmbeddings enables semantic search with p.
func WithEmbeddings(p embeddings.Provider) Option {
	return func(c *Catalog) { c.embedder = p }
}

// WithMatcher replaces the default name matcher.
func WithMatcher(m *Matcher) Option {
	return func(c *Catalog) { c.matcher = m }
}

// Catalog is the product service used by chat, cart and the HTTP API.
type Catalog struct {
	store    Store
	embedder embeddings.Provider
	matcher  *Matcher
}

// New returns a Catalog over store.
func New(store Store, opts ...Option) *Catalog {
	c := &Catalog{store: store, matcher: NewMatcher()}
	for _, o := range opts {
		o(c)
	}
	return c
}

// List returns all products.
func (c *Catalog) List(ctx context.Context) ([]Product, error) {
	ps, err := c.store.Products(ctx)
	if err != nil {
		return nil, fmt.Errorf("catalog: list: %w", err)
	}
	return ps, nil
}

// Product returns the product with id, or a [fault.NotFound] error.
func (c *Catalog) Product(ctx context.Context, id string) (Product, error) {
	p, err := c.store.Product(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Product{}, fault.Wrap(fault.NotFound, "That product does not exist.", err)
	}
	if err != nil {
		return Product{}, fmt.Errorf("catalog: product %q: %w", id, err)
	}
	return p, nil
}

// Seed stores products, computing missing embeddings first when an
// embeddings provider is configured. Embedding failures are logged and the
// products are stored without vectors.
func (c *Catalog) Seed(ctx context.Context, products []Product) error {
	if len(products) == 0 {
		return nil
	}
	products = slices.Clone(products)
	if c.embedder != nil {
		if err := c.embed(ctx, products); err != nil {
			slog.Warn("catalog: embedding products failed, semantic search disabled for them", "err", err)
		}
	}
	if err := c.store.UpsertProducts(ctx, products); err != nil {
		return fmt.Errorf("catalog: seed: %w", err)
	}
	slog.Info("catalog seeded", "products", len(products))
	return nil
}

// embed fills Embedding for every product lacking one, in concurrent
// batches.
func (c *Catalog) embed(ctx context.Context, products []Product) error {
	var missing []int
	for i, p := range products {
		if len(p.Embedding) == 0 {
			missing = append(missing, i)
		}
	}

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(4)
	for batch := range slices.Chunk(missing, embedBatchSize) {
		eg.Go(func() error {
			texts := make([]string, len(batch))
			for j, i := range batch {
				texts[j] = products[i].EmbeddingText()
			}
			vecs, err := c.embedder.EmbedBatch(egCtx, texts)
			if err != nil {
				return err
			}
			if len(vecs) != len(batch) {
				return fmt.Errorf("catalog: got %d embeddings for %d products", len(vecs), len(batch))
			}
			for j, i := range batch {
				products[i].Embedding = vecs[j]
			}
			return nil
		})
	}
	return eg.Wait()
}

// Search returns products matching query, best first.
func (c *Catalog) Search(ctx context.Context, query string, limit int) ([]Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fault.New(fault.Validation, "Please enter something to search for.")
	}
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	if vs, ok := c.store.(VectorSearcher); ok && c.embedder != nil {
		vec, err := c.embedder.Embed(ctx, query)
		if err == nil {
			ps, err := vs.SearchProducts(ctx, vec, limit)
			if err == nil {
				return ps, nil
			}
			slog.Warn("catalog: vector search failed, using text search", "err", err)
		} else {
			slog.Warn("catalog: embedding query failed, using text search", "err", err)
		}
	}

	all, err := c.List(ctx)
	if err != nil {
		return nil, err
	}
	return c.matcher.Rank(query, all, limit), nil
}

// Lookup resolves a product name as heard by a speech recogniser, such as
// "premium dog fud", to a catalog product.
func (c *Catalog) Lookup(ctx context.Context, spoken string) (Product, bool, error) {
	all, err := c.List(ctx)
	if err != nil {
		return Product{}, false, err
	}
	p, ok := c.matcher.Best(spoken, all)
	return p, ok, nil
}

// Mentioned returns the products whose name occurs in text, compared
// case-insensitively, in catalog order and capped at limit.
func Mentioned(text string, products []Product, limit int) []Product {
	lower := strings.ToLower(text)
	out := []Product{}
	for _, p := range products {
		if len(out) == limit {
			break
		}
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name != "" && strings.Contains(lower, name) {
			out = append(out, p)
		}
	}
	return out
}

package catalog_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrWong99/pettry/internal/catalog"
	"github.com/MrWong99/pettry/pkg/fault"
	"github.com/MrWong99/pettry/pkg/provider/embeddings/mock"
)

func fixtures() []catalog.Product {
	return []catalog.Product{
		{ID: "p1", Name: "Premium Dog Food", Description: "Grain-free kibble for active dogs.", PriceCents: 4999, Category: "Food", PetType: "Dog"},
		{ID: "p2", Name: "Cozy Dog Bed", Description: "Orthopedic foam bed.", PriceCents: 7950, Category: "Beds", PetType: "Dog"},
		{ID: "p3", Name: "Cat Scratching Post", Description: "Sisal post with a perch.", PriceCents: 2999, Category: "Furniture", PetType: "Cat"},
		{ID: "p4", Name: "Bird Seed Mix", Description: "Seeds for parakeets and finches.", PriceCents: 899, Category: "Food", PetType: "Bird"},
	}
}

func seeded(t *testing.T, opts ...catalog.Option) (*catalog.Catalog, *catalog.MemStore) {
	t.Helper()
	store := catalog.NewMemStore()
	c := catalog.New(store, opts...)
	if err := c.Seed(context.Background(), fixtures()); err != nil {
		t.Fatalf("Seed: %v", err)
	}
	return c, store
}

func names(ps []catalog.Product) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

func TestFormatCents(t *testing.T) {
	tests := []struct {
		cents int64
		want  string
	}{
		{0, "$0.00"},
		{5, "$0.05"},
		{4999, "$49.99"},
		{100000, "$1000.00"},
		{-250, "-$2.50"},
	}
	for _, tc := range tests {
		if got := catalog.FormatCents(tc.cents); got != tc.want {
			t.Errorf("FormatCents(%d) = %q, want %q", tc.cents, got, tc.want)
		}
	}
}

func TestCatalog_ListAndProduct(t *testing.T) {
	c, _ := seeded(t)
	ctx := context.Background()

	all, err := c.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"Bird Seed Mix", "Cat Scratching Post", "Cozy Dog Bed", "Premium Dog Food"}
	if got := names(all); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("List = %v, want %v", got, want)
	}

	p, err := c.Product(ctx, "p1")
	if err != nil || p.Price() != "$49.99" {
		t.Errorf("Product(p1) = %+v, %v", p, err)
	}

	_, err = c.Product(ctx, "nope")
	if !fault.Is(err, fault.NotFound) || !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Product(nope) err = %v, want NotFound", err)
	}
}

func TestCatalog_SearchFallsBackToText(t *testing.T) {
	c, _ := seeded(t)
	ctx := context.Background()

	got, err := c.Search(ctx, "dog", 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if strings.Join(names(got), ",") != "Cozy Dog Bed,Premium Dog Food" {
		t.Errorf("Search(dog) = %v", names(got))
	}

	got, _ = c.Search(ctx, "parakeets", 5)
	if len(got) != 1 || got[0].ID != "p4" {
		t.Errorf("Search(parakeets) = %v", names(got))
	}

	got, _ = c.Search(ctx, "dog", 1)
	if len(got) != 1 {
		t.Errorf("limit ignored: %v", names(got))
	}

	if _, err := c.Search(ctx, "   ", 5); !fault.Is(err, fault.Validation) {
		t.Errorf("blank query err = %v, want Validation", err)
	}
}

func TestCatalog_SemanticSearch(t *testing.T) {
	byID := map[string][]float32{
		"p1": {0.9, 0.1, 0},
		"p2": {0.5, 0.5, 0},
		"p3": {0, 1, 0},
		"p4": {0, 0, 1},
	}
	vectors := map[string][]float32{"something crunchy for my puppy": {1, 0, 0}}
	for _, p := range fixtures() {
		vectors[p.EmbeddingText()] = byID[p.ID]
	}
	emb := &mock.Provider{Vectors: vectors, DimensionsValue: 3}
	c, store := seeded(t, catalog.WithEmbeddings(emb))

	stored, _ := store.Product(context.Background(), "p3")
	if len(stored.Embedding) != 3 {
		t.Fatalf("p3 embedding = %v, want backfilled vector", stored.Embedding)
	}

	got, err := c.Search(context.Background(), "something crunchy for my puppy", 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != 2 || got[0].ID != "p1" || got[1].ID != "p2" {
		t.Errorf("Search = %v, want Premium Dog Food then Cozy Dog Bed", names(got))
	}
}

func TestCatalog_SeedWithoutEmbeddingsOnProviderError(t *testing.T) {
	emb := &mock.Provider{EmbedBatchErr: errors.New("rate limited"), EmbedErr: errors.New("rate limited")}
	c, store := seeded(t, catalog.WithEmbeddings(emb))

	p, err := store.Product(context.Background(), "p1")
	if err != nil || len(p.Embedding) != 0 {
		t.Errorf("p1 = %+v, %v; want stored without embedding", p, err)
	}

	// Query embedding fails too, so Search uses text matching.
	got, err := c.Search(context.Background(), "scratching", 3)
	if err != nil || len(got) != 1 || got[0].ID != "p3" {
		t.Errorf("Search = %v, %v", names(got), err)
	}
}

func TestCatalog_Lookup(t *testing.T) {
	c, _ := seeded(t)
	tests := []struct {
		spoken string
		wantID string
		wantOK bool
	}{
		{"premium dog fud", "p1", true},
		{"the cat scratching post", "p3", true},
		{"bird seed", "p4", true},
		{"cozy dog bead", "p2", true},
		{"xylophone", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.spoken, func(t *testing.T) {
			p, ok, err := c.Lookup(context.Background(), tc.spoken)
			if err != nil {
				t.Fatal(err)
			}
			if ok != tc.wantOK || p.ID != tc.wantID {
				t.Errorf("Lookup(%q) = %q, %v; want %q, %v", tc.spoken, p.ID, ok, tc.wantID, tc.wantOK)
			}
		})
	}
}

func TestMentioned(t *testing.T) {
	all := fixtures()
	reply := "For your Labrador I'd suggest our PREMIUM DOG FOOD and the cozy dog bed!"

	got := catalog.Mentioned(reply, all, 3)
	if strings.Join(names(got), ",") != "Premium Dog Food,Cozy Dog Bed" {
		t.Errorf("Mentioned = %v", names(got))
	}
	if got := catalog.Mentioned(reply, all, 1); len(got) != 1 {
		t.Errorf("limit 1 returned %d", len(got))
	}
	if got := catalog.Mentioned("No products here.", all, 3); got == nil || len(got) != 0 {
		t.Errorf("Mentioned = %v, want empty non-nil", got)
	}
}

func TestLoad(t *testing.T) {
	const good = `
products:
  - id: p1
    name: Premium Dog Food
    description: Grain-free kibble.
    price_cents: 4999
    category: Food
    pet_type: Dog
`
	ps, err := catalog.Load(strings.NewReader(good))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ps) != 1 || ps[0].PriceCents != 4999 || ps[0].PetType != "Dog" {
		t.Errorf("products = %+v", ps)
	}

	bad := map[string]string{
		"duplicate id":  "products:\n  - {id: a, name: A}\n  - {id: a, name: B}\n",
		"missing name":  "products:\n  - {id: a}\n",
		"negative":      "products:\n  - {id: a, name: A, price_cents: -1}\n",
		"unknown field": "products:\n  - {id: a, name: A, colour: red}\n",
	}
	for name, doc := range bad {
		if _, err := catalog.Load(strings.NewReader(doc)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadFile_ExampleCatalog(t *testing.T) {
	t.Parallel()
	products, err := catalog.LoadFile(filepath.Join("..", "..", "configs", "catalog.yaml"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if len(products) == 0 {
		t.Fatal("example catalog is empty")
	}
}

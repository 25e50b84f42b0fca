package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/pettry/internal/catalog"
)

const productColumns = `id, name, description, price_cents, category, pet_type, image_url`

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var p catalog.Product
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Category, &p.PetType, &p.ImageURL)
	return p, err
}

// Products implements [catalog.Store].
func (s *Store) Products(ctx context.Context) ([]catalog.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name, id`)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan products: %w", err)
	}
	if products == nil {
		products = []catalog.Product{}
	}
	return products, nil
}

// Product implements [catalog.Store].
func (s *Store) Product(ctx context.Context, id string) (catalog.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		return catalog.Product{}, fmt.Errorf("postgres store: get product: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if errors.Is(err, pgx.ErrNoRows) {
		return catalog.Product{}, fmt.Errorf("postgres store: product %q: %w", id, catalog.ErrNotFound)
	}
	if err != nil {
		return catalog.Product{}, fmt.Errorf("postgres store: get product: %w", err)
	}
	return p, nil
}

// UpsertProducts implements [catalog.Store]. A product without an embedding
// keeps the one already stored.
func (s *Store) UpsertProducts(ctx context.Context, products []catalog.Product) error {
	const q = `
		INSERT INTO products
		    (id, name, description, price_cents, category, pet_type, image_url, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (id) DO UPDATE SET
		    name        = EXCLUDED.name,
		    description = EXCLUDED.description,
		    price_cents = EXCLUDED.price_cents,
		    category    = EXCLUDED.category,
		    pet_type    = EXCLUDED.pet_type,
		    image_url   = EXCLUDED.image_url,
		    embedding   = COALESCE(EXCLUDED.embedding, products.embedding),
		    updated_at  = now()`

	batch := &pgx.Batch{}
	for _, p := range products {
		var vec *pgvector.Vector
		switch {
		case len(p.Embedding) == s.dims:
			v := pgvector.NewVector(p.Embedding)
			vec = &v
		case len(p.Embedding) > 0:
			slog.Warn("postgres store: embedding dimension mismatch, storing product without it",
				"product", p.ID, "got", len(p.Embedding), "want", s.dims)
		}
		batch.Queue(q, p.ID, p.Name, p.Description, p.PriceCents, p.Category, p.PetType, p.ImageURL, vec)
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("postgres store: upsert products: %w", err)
	}
	return nil
}

// SearchProducts implements [catalog.VectorSearcher]. Products without an
// embedding are never returned.
func (s *Store) SearchProducts(ctx context.Context, embedding []float32, limit int) ([]catalog.Product, error) {
	const q = `
		SELECT ` + productColumns + `
		FROM   products
		WHERE  embedding IS NOT NULL
		ORDER  BY embedding <=> $1
		LIMIT  $2`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, fmt.Errorf("postgres store: search products: %w", err)
	}
	products, err := pgx.CollectRows(rows, scanProduct)
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan products: %w", err)
	}
	if products == nil {
		products = []catalog.Product{}
	}
	return products, nil
}

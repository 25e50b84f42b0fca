// Package postgres stores the Pettry catalog, carts and orders in
// PostgreSQL. Product embeddings live in a pgvector column so catalog
// search can rank by cosine distance inside the database.
//
// The pgvector extension must be available; [Migrate] installs it with
// CREATE EXTENSION IF NOT EXISTS.
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	cat := catalog.New(store, catalog.WithEmbeddings(emb))
//	carts := cart.NewService(store, cat)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlProducts returns the catalog DDL with the embedding dimension
// substituted. The dimension is fixed when the table is first created.
func ddlProducts(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS products (
    id           TEXT         PRIMARY KEY,
    name         TEXT         NOT NULL,
    description  TEXT         NOT NULL DEFAULT '',
    price_cents  BIGINT       NOT NULL CHECK (price_cents >= 0),
    category     TEXT         NOT NULL DEFAULT '',
    pet_type     TEXT         NOT NULL DEFAULT '',
    image_url    TEXT         NOT NULL DEFAULT '',
    embedding    vector(%d),
    updated_at   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_products_name
    ON products (lower(name));

CREATE INDEX IF NOT EXISTS idx_products_embedding
    ON products USING hnsw (embedding vector_cosine_ops);
`, embeddingDimensions)
}

const ddlCart = `
CREATE TABLE IF NOT EXISTS cart_items (
    id          TEXT         PRIMARY KEY,
    session_id  TEXT         NOT NULL,
    product_id  TEXT         NOT NULL,
    quantity    INTEGER      NOT NULL CHECK (quantity > 0),
    added_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_cart_items_session
    ON cart_items (session_id, added_at);
`

const ddlOrders = `
CREATE TABLE IF NOT EXISTS orders (
    id            TEXT         PRIMARY KEY,
    order_number  TEXT         NOT NULL UNIQUE,
    session_id    TEXT         NOT NULL,
    lines         JSONB        NOT NULL DEFAULT '[]',
    total_cents   BIGINT       NOT NULL,
    status        TEXT         NOT NULL,
    created_at    TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_orders_session
    ON orders (session_id, created_at);
`

// Migrate creates all tables, indexes and extensions. It is idempotent and
// safe to call on every start.
//
// embeddingDimensions must match the embedding model (1536 for OpenAI
// text-embedding-3-small, 768 for nomic-embed-text). Changing it after the
// first migration requires a manual schema change.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("postgres migrate: embedding dimensions must be positive, got %d", embeddingDimensions)
	}
	statements := []string{
		ddlProducts(embeddingDimensions),
		ddlCart,
		ddlOrders,
	}
	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}

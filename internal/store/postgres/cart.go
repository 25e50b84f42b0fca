package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/MrWong99/pettry/internal/cart"
)

// AddItem implements [cart.Store].
func (s *Store) AddItem(ctx context.Context, item cart.Item) error {
	const q = `
		INSERT INTO cart_items (id, session_id, product_id, quantity, added_at)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.pool.Exec(ctx, q, item.ID, item.SessionID, item.ProductID, item.Quantity, item.AddedAt); err != nil {
		return fmt.Errorf("postgres store: add cart item: %w", err)
	}
	return nil
}

// Items implements [cart.Store]. Items are returned in the order they were
// added.
func (s *Store) Items(ctx context.Context, sessionID string) ([]cart.Item, error) {
	const q = `
		SELECT id, session_id, product_id, quantity, added_at
		FROM   cart_items
		WHERE  session_id = $1
		ORDER  BY added_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list cart items: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Item, error) {
		var it cart.Item
		err := row.Scan(&it.ID, &it.SessionID, &it.ProductID, &it.Quantity, &it.AddedAt)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan cart items: %w", err)
	}
	return items, nil
}

// DeleteItems implements [cart.Store].
func (s *Store) DeleteItems(ctx context.Context, sessionID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM cart_items WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("postgres store: delete cart items: %w", err)
	}
	return nil
}

// CreateOrder implements [cart.Store]. The order is inserted and the listed
// cart items deleted in one transaction.
func (s *Store) CreateOrder(ctx context.Context, o cart.Order, itemIDs []string) error {
	lines, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("postgres store: marshal order lines: %w", err)
	}
	err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		const insert = `
			INSERT INTO orders (id, order_number, session_id, lines, total_cents, status, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`
		if _, err := tx.Exec(ctx, insert, o.ID, o.Number, o.SessionID, lines, o.TotalCents, o.Status, o.CreatedAt); err != nil {
			return err
		}
		const remove = `DELETE FROM cart_items WHERE session_id = $1 AND id = ANY($2)`
		_, err := tx.Exec(ctx, remove, o.SessionID, itemIDs)
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres store: create order: %w", err)
	}
	return nil
}

// Orders returns the orders placed in a session, oldest first.
func (s *Store) Orders(ctx context.Context, sessionID string) ([]cart.Order, error) {
	const q = `
		SELECT id, order_number, session_id, lines, total_cents, status, created_at
		FROM   orders
		WHERE  session_id = $1
		ORDER  BY created_at, id`

	rows, err := s.pool.Query(ctx, q, sessionID)
	if err != nil {
		return nil, fmt.Errorf("postgres store: list orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (cart.Order, error) {
		var (
			o     cart.Order
			lines []byte
		)
		if err := row.Scan(&o.ID, &o.Number, &o.SessionID, &lines, &o.TotalCents, &o.Status, &o.CreatedAt); err != nil {
			return cart.Order{}, err
		}
		if err := json.Unmarshal(lines, &o.Items); err != nil {
			return cart.Order{}, fmt.Errorf("decode order lines: %w", err)
		}
		return o, nil
	})
	if err != nil {
		return nil, fmt.Errorf("postgres store: scan orders: %w", err)
	}
	return orders, nil
}

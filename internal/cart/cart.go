// Package cart keeps per-session shopping carts and turns them into orders.
//
// A [Service] validates requests against the catalog and persists through a
// [Store]; [MemStore] backs tests and single-node runs and
// internal/store/postgres backs production. Order numbers come from an
// [IDGenerator] so tests can make them deterministic.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/pettry/internal/catalog"
	"github.com/MrWong99/pettry/pkg/fault"
)

// MaxQuantity bounds a single add-to-cart request.
const MaxQuantity = 99

// Order statuses.
const (
	StatusPlaced = "placed"
)

// Item is one product line in a session's cart.
type Item struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId"`
	ProductID string    `json:"productId"`
	Quantity  int       `json:"quantity"`
	AddedAt   time.Time `json:"addedAt"`
}

// OrderLine is a product snapshot taken at checkout.
type OrderLine struct {
	ProductID      string `json:"productId"`
	Name           string `json:"name"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	Quantity       int    `json:"quantity"`
}

// Order is a placed order. Nothing is charged.
type Order struct {
	ID         string      `json:"id"`
	Number     string      `json:"orderNumber"`
	SessionID  string      `json:"sessionId"`
	Items      []OrderLine `json:"items"`
	TotalCents int64       `json:"totalCents"`
	Status     string      `json:"status"`
	CreatedAt  time.Time   `json:"createdAt"`
}

// Total formats TotalCents as dollars.
func (o Order) Total() string { return catalog.FormatCents(o.TotalCents) }

// Store persists cart items and orders.
type Store interface {
	AddItem(ctx context.Context, item Item) error
	Items(ctx context.Context, sessionID string) ([]Item, error)
	DeleteItems(ctx context.Context, sessionID string) error

	// CreateOrder records o and removes the cart items with itemIDs in one
	// step. Items added after the order was built stay in the cart.
	CreateOrder(ctx context.Context, o Order, itemIDs []string) error
}

// Products resolves product IDs. *catalog.Catalog satisfies it.
type Products interface {
	Product(ctx context.Context, id string) (catalog.Product, error)
}

// IDGenerator produces identifiers for rows and orders.
type IDGenerator interface {
	NewID() string
	OrderNumber() string
}

// RandomIDs is the default IDGenerator: UUIDs for rows and order numbers
// of the form PETTRY0042.
type RandomIDs struct{}

// NewID returns a random UUID.
func (RandomIDs) NewID() string { return uuid.NewString() }

// OrderNumber returns "PETTRY" followed by four random digits.
func (RandomIDs) OrderNumber() string { return fmt.Sprintf("PETTRY%04d", rand.IntN(10000)) }

// Option configures a Service.
type Option func(*Service)

// WithIDGenerator replaces RandomIDs.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service implements the cart operations.
type Service struct {
	store    Store
	products Products
	ids      IDGenerator
	now      func() time.Time
}

// NewService returns a Service.
func NewService(store Store, products Products, opts ...Option) *Service {
	s := &Service{store: store, products: products, ids: RandomIDs{}, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AddItem adds quantity units of productID to the session's cart. A zero
// quantity means one.
func (s *Service) AddItem(ctx context.Context, sessionID, productID string, quantity int) (Item, error) {
	if quantity == 0 {
		quantity = 1
	}
	var errs []error
	if strings.TrimSpace(sessionID) == "" {
		errs = append(errs, errors.New("session id is required"))
	}
	if strings.TrimSpace(productID) == "" {
		errs = append(errs, errors.New("product id is required"))
	}
	if quantity < 1 || quantity > MaxQuantity {
		errs = append(errs, fmt.Errorf("quantity must be between 1 and %d", MaxQuantity))
	}
	if err := errors.Join(errs...); err != nil {
		return Item{}, fault.Wrap(fault.Validation, "Invalid cart item.", err)
	}

	if _, err := s.products.Product(ctx, productID); err != nil {
		if fault.Is(err, fault.NotFound) {
			return Item{}, fault.Wrap(fault.Validation, "That product is not in our catalog.", err)
		}
		return Item{}, fmt.Errorf("cart: add item: %w", err)
	}

	item := Item{
		ID:        s.ids.NewID(),
		SessionID: sessionID,
		ProductID: productID,
		Quantity:  quantity,
		AddedAt:   s.now().UTC(),
	}
	if err := s.store.AddItem(ctx, item); err != nil {
		return Item{}, fault.Wrap(fault.Transient, "Could not add to cart. Please try again.", err)
	}
	slog.Debug("cart item added", "session", sessionID, "product", productID, "quantity", quantity)
	return item, nil
}

// Items lists the session's cart, oldest first.
func (s *Service) Items(ctx context.Context, sessionID string) ([]Item, error) {
	items, err := s.store.Items(ctx, sessionID)
	if err != nil {
		return nil, fault.Wrap(fault.Transient, "Could not load the cart.", err)
	}
	return items, nil
}

// Clear empties the session's cart.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	if err := s.store.DeleteItems(ctx, sessionID); err != nil {
		return fault.Wrap(fault.Transient, "Could not clear the cart.", err)
	}
	return nil
}

// Checkout turns the session's cart into an order and removes the items it
// was built from. Lines for the same product are merged.
func (s *Service) Checkout(ctx context.Context, sessionID string) (Order, error) {
	items, err := s.Items(ctx, sessionID)
	if err != nil {
		return Order{}, err
	}
	if len(items) == 0 {
		return Order{}, fault.New(fault.Validation, "Your cart is empty.")
	}

	o := Order{
		ID:        s.ids.NewID(),
		Number:    s.ids.OrderNumber(),
		SessionID: sessionID,
		Status:    StatusPlaced,
		CreatedAt: s.now().UTC(),
	}
	index := make(map[string]int)
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ID)
		if i, ok := index[it.ProductID]; ok {
			o.Items[i].Quantity += it.Quantity
			continue
		}
		p, err := s.products.Product(ctx, it.ProductID)
		if err != nil {
			return Order{}, fmt.Errorf("cart: checkout: %w", err)
		}
		index[it.ProductID] = len(o.Items)
		o.Items = append(o.Items, OrderLine{
			ProductID:      p.ID,
			Name:           p.Name,
			UnitPriceCents: p.PriceCents,
			Quantity:       it.Quantity,
		})
	}
	for _, l := range o.Items {
		o.TotalCents += l.UnitPriceCents * int64(l.Quantity)
	}

	if err := s.store.CreateOrder(ctx, o, ids); err != nil {
		return Order{}, fault.Wrap(fault.Transient, "Could not place the order. Please try again.", err)
	}
	slog.Info("order placed", "session", sessionID, "order", o.Number, "total", o.Total())
	return o, nil
}

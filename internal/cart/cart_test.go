package cart_test

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/MrWong99/pettry/internal/cart"
	"github.com/MrWong99/pettry/internal/catalog"
	"github.com/MrWong99/pettry/pkg/fault"
)

// seqIDs hands out predictable identifiers.
type seqIDs struct{ n int }

func (g *seqIDs) NewID() string       { g.n++; return fmt.Sprintf("id-%d", g.n) }
func (g *seqIDs) OrderNumber() string { return "PETTRY0042" }

// failingStore fails every write.
type failingStore struct{ cart.MemStore }

func (*failingStore) AddItem(context.Context, cart.Item) error { return errors.New("db down") }

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, store cart.Store) *cart.Service {
	t.Helper()
	cs := catalog.NewMemStore()
	_ = cs.UpsertProducts(context.Background(), []catalog.Product{
		{ID: "food", Name: "Premium Dog Food", PriceCents: 4999},
		{ID: "ball", Name: "Squeaky Ball", PriceCents: 550},
	})
	return cart.NewService(store, catalog.New(cs),
		cart.WithIDGenerator(&seqIDs{}),
		cart.WithClock(func() time.Time { return fixedNow }),
	)
}

func TestRandomIDs(t *testing.T) {
	re := regexp.MustCompile(`^PETTRY\d{4}$`)
	var g cart.RandomIDs
	for range 50 {
		if n := g.OrderNumber(); !re.MatchString(n) {
			t.Fatalf("order number %q does not match %s", n, re)
		}
	}
	if a, b := g.NewID(), g.NewID(); a == b || len(a) != 36 {
		t.Errorf("NewID returned %q and %q", a, b)
	}
}

func TestAddItem(t *testing.T) {
	ctx := context.Background()
	s := newService(t, cart.NewMemStore())

	item, err := s.AddItem(ctx, "sess", "food", 0)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	want := cart.Item{ID: "id-1", SessionID: "sess", ProductID: "food", Quantity: 1, AddedAt: fixedNow}
	if item != want {
		t.Errorf("item = %+v, want %+v", item, want)
	}

	items, _ := s.Items(ctx, "sess")
	if len(items) != 1 || items[0] != want {
		t.Errorf("Items = %+v", items)
	}
	if other, _ := s.Items(ctx, "other"); len(other) != 0 {
		t.Errorf("other session sees %d items", len(other))
	}
}

func TestAddItem_Validation(t *testing.T) {
	tests := []struct {
		name             string
		session, product string
		quantity         int
	}{
		{"missing session", "", "food", 1},
		{"missing product", "sess", "", 1},
		{"negative quantity", "sess", "food", -2},
		{"too many", "sess", "food", cart.MaxQuantity + 1},
		{"unknown product", "sess", "unicorn-saddle", 1},
	}
	s := newService(t, cart.NewMemStore())
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.AddItem(context.Background(), tc.session, tc.product, tc.quantity)
			if !fault.Is(err, fault.Validation) {
				t.Errorf("err = %v, want Validation", err)
			}
		})
	}
}

func TestAddItem_StoreFailureIsTransient(t *testing.T) {
	s := newService(t, &failingStore{})
	_, err := s.AddItem(context.Background(), "sess", "food", 1)
	if !fault.Is(err, fault.Transient) {
		t.Errorf("err = %v, want Transient", err)
	}
}

func TestCheckout(t *testing.T) {
	ctx := context.Background()
	store := cart.NewMemStore()
	s := newService(t, store)

	for _, add := range []struct {
		id  string
		qty int
	}{{"food", 1}, {"ball", 3}, {"food", 1}} {
		if _, err := s.AddItem(ctx, "sess", add.id, add.qty); err != nil {
			t.Fatal(err)
		}
	}

	o, err := s.Checkout(ctx, "sess")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if o.Number != "PETTRY0042" || o.Status != cart.StatusPlaced || !o.CreatedAt.Equal(fixedNow) {
		t.Errorf("order = %+v", o)
	}
	if len(o.Items) != 2 || o.Items[0].Quantity != 2 || o.Items[1].Name != "Squeaky Ball" {
		t.Errorf("lines = %+v", o.Items)
	}
	if o.TotalCents != 2*4999+3*550 || o.Total() != "$116.48" {
		t.Errorf("total = %d (%s)", o.TotalCents, o.Total())
	}

	if items, _ := s.Items(ctx, "sess"); len(items) != 0 {
		t.Errorf("cart not cleared: %+v", items)
	}
	if got := store.Orders(); len(got) != 1 || got[0].ID != o.ID {
		t.Errorf("stored orders = %+v", got)
	}
}

// lateAddStore adds an item right after the cart is read, as a second
// request landing during checkout would.
type lateAddStore struct {
	*cart.MemStore
	late cart.Item
	done bool
}

func (s *lateAddStore) Items(ctx context.Context, sessionID string) ([]cart.Item, error) {
	items, err := s.MemStore.Items(ctx, sessionID)
	if err == nil && !s.done {
		s.done = true
		err = s.MemStore.AddItem(ctx, s.late)
	}
	return items, err
}

func TestCheckout_KeepsItemAddedDuringCheckout(t *testing.T) {
	ctx := context.Background()
	store := &lateAddStore{
		MemStore: cart.NewMemStore(),
		late:     cart.Item{ID: "late", SessionID: "sess", ProductID: "ball", Quantity: 1, AddedAt: fixedNow},
	}
	s := newService(t, store)
	if err := store.MemStore.AddItem(ctx, cart.Item{ID: "early", SessionID: "sess", ProductID: "food", Quantity: 1, AddedAt: fixedNow}); err != nil {
		t.Fatal(err)
	}

	o, err := s.Checkout(ctx, "sess")
	if err != nil {
		t.Fatalf("Checkout: %v", err)
	}
	if len(o.Items) != 1 || o.Items[0].ProductID != "food" {
		t.Errorf("lines = %+v", o.Items)
	}
	items, _ := store.MemStore.Items(ctx, "sess")
	if len(items) != 1 || items[0].ID != "late" {
		t.Errorf("cart after checkout = %+v, want only the late item", items)
	}
}

func TestCheckout_EmptyCart(t *testing.T) {
	s := newService(t, cart.NewMemStore())
	if _, err := s.Checkout(context.Background(), "sess"); !fault.Is(err, fault.Validation) {
		t.Errorf("err = %v, want Validation", err)
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	s := newService(t, cart.NewMemStore())
	_, _ = s.AddItem(ctx, "sess", "ball", 2)
	if err := s.Clear(ctx, "sess"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if items, _ := s.Items(ctx, "sess"); len(items) != 0 {
		t.Errorf("items after Clear = %+v", items)
	}
}

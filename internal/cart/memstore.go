package cart

import (
	"context"
	"slices"
	"sync"
)

var _ Store = (*MemStore)(nil)

// MemStore is an in-memory Store. It is safe for concurrent use.
type MemStore struct {
	mu     sync.Mutex
	items  map[string][]Item
	orders []Order
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[string][]Item)}
}

// AddItem implements Store.
func (s *MemStore) AddItem(_ context.Context, item Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.SessionID] = append(s.items[item.SessionID], item)
	return nil
}

// Items implements Store.
func (s *MemStore) Items(_ context.Context, sessionID string) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.items[sessionID]), nil
}

// DeleteItems implements Store.
func (s *MemStore) DeleteItems(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, sessionID)
	return nil
}

// CreateOrder implements Store.
func (s *MemStore) CreateOrder(_ context.Context, o Order, itemIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o.Items = slices.Clone(o.Items)
	s.orders = append(s.orders, o)
	rest := slices.DeleteFunc(s.items[o.SessionID], func(it Item) bool {
		return slices.Contains(itemIDs, it.ID)
	})
	if len(rest) == 0 {
		delete(s.items, o.SessionID)
	} else {
		s.items[o.SessionID] = rest
	}
	return nil
}

// Orders returns every recorded order.
func (s *MemStore) Orders() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.orders)
}

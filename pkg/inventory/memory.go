package inventory

import (
	"context"
	"sort"
	"sync"
)

// MemoryRepository keeps items in process memory.
type MemoryRepository struct {
	mu    sync.RWMutex
	users map[string]map[string]*Item // user -> id -> item
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{users: make(map[string]map[string]*Item)}
}

// Find returns a copy of the matching item.
func (r *MemoryRepository) Find(ctx context.Context, userID, name string) (*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := Key(name)
	for _, it := range r.users[userID] {
		if Key(it.Name) == key {
			cp := *it
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Save stores a copy of item.
func (r *MemoryRepository) Save(ctx context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	items, ok := r.users[item.UserID]
	if !ok {
		items = make(map[string]*Item)
		r.users[item.UserID] = items
	}
	cp := *item
	items[item.ID] = &cp
	return nil
}

// Delete removes the item with id.
func (r *MemoryRepository) Delete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.users[userID], id)
	return nil
}

// List returns copies of the user's items sorted by name.
func (r *MemoryRepository) List(ctx context.Context, userID string) ([]*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Item, 0, len(r.users[userID]))
	for _, it := range r.users[userID] {
		cp := *it
		out = append(out, &cp)
	}
	sortItems(out)
	return out, nil
}

// Close is a no-op.
func (r *MemoryRepository) Close() error { return nil }

func sortItems(items []*Item) {
	sort.Slice(items, func(i, j int) bool {
		ki, kj := Key(items[i].Name), Key(items[j].Name)
		if ki != kj {
			return ki < kj
		}
		return items[i].ID < items[j].ID
	})
}

package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// JSONRepository persists every user's items in one JSON file.
type JSONRepository struct {
	path  string
	items map[string]*Item // id -> item
	mu    sync.RWMutex
}

// fileData is the JSON structure for the store file.
type fileData struct {
	Version   int     `json:"version"`
	UpdatedAt string  `json:"updated_at"`
	Items     []*Item `json:"items"`
}

const fileVersion = 1

// NewJSONRepository opens the repository at path. A missing file is created
// on first write.
func NewJSONRepository(path string) (*JSONRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("inventory: json repository needs a path")
	}
	r := &JSONRepository{
		path:  path,
		items: make(map[string]*Item),
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("inventory: create directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		if err := r.load(); err != nil {
			return nil, fmt.Errorf("inventory: load %s: %w", path, err)
		}
	}

	return r, nil
}

func (r *JSONRepository) load() error {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	var stored fileData
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("parse JSON: %w", err)
	}
	if stored.Version > fileVersion {
		return fmt.Errorf("unsupported file version %d", stored.Version)
	}

	for _, it := range stored.Items {
		r.items[it.ID] = it
	}
	return nil
}

// flush writes the file. Caller holds mu.
func (r *JSONRepository) flush() error {
	items := make([]*Item, 0, len(r.items))
	for _, it := range r.items {
		items = append(items, it)
	}
	sortItems(items)

	data, err := json.MarshalIndent(fileData{
		Version:   fileVersion,
		UpdatedAt: time.Now().UTC().Format(time.RFC3339),
		Items:     items,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	// Write to temp file first, then rename (atomic write)
	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// Find returns a copy of the matching item.
func (r *JSONRepository) Find(ctx context.Context, userID, name string) (*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	key := Key(name)
	for _, it := range r.items {
		if it.UserID == userID && Key(it.Name) == key {
			cp := *it
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

// Save stores item and rewrites the file.
func (r *JSONRepository) Save(ctx context.Context, item *Item) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, had := r.items[item.ID]
	cp := *item
	r.items[item.ID] = &cp
	if err := r.flush(); err != nil {
		if had {
			r.items[item.ID] = prev
		} else {
			delete(r.items, item.ID)
		}
		return err
	}
	return nil
}

// Delete removes the item and rewrites the file.
func (r *JSONRepository) Delete(ctx context.Context, userID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	prev, ok := r.items[id]
	if !ok || prev.UserID != userID {
		return nil
	}
	delete(r.items, id)
	if err := r.flush(); err != nil {
		r.items[id] = prev
		return err
	}
	return nil
}

// List returns copies of the user's items sorted by name.
func (r *JSONRepository) List(ctx context.Context, userID string) ([]*Item, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Item
	for _, it := range r.items {
		if it.UserID == userID {
			cp := *it
			out = append(out, &cp)
		}
	}
	sortItems(out)
	return out, nil
}

// Close is a no-op; every write is already on disk.
func (r *JSONRepository) Close() error { return nil }

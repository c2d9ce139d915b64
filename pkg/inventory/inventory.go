// Package inventory is the record store behind the voice tools: a Service
// that speaks in result sentences, over a pluggable Repository.
package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Errors returned by the Service and repositories.
var (
	ErrNotFound        = errors.New("inventory: item not found")
	ErrEmptyName       = errors.New("inventory: item name must not be empty")
	ErrInvalidQuantity = errors.New("inventory: quantity must be greater than zero")
	ErrNegativePrice   = errors.New("inventory: price must not be negative")
)

// Item is one inventory record. Names are unique per user ignoring case.
type Item struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Name         string    `json:"name"`
	Quantity     float64   `json:"quantity"`
	PricePerItem float64   `json:"price_per_item"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Key returns the case-insensitive lookup key for a name.
func Key(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Store is the contract the tool dispatcher calls. Every method returns a
// sentence suitable for reading back to the user.
type Store interface {
	AddItem(ctx context.Context, userID, name string, quantity, pricePerItem float64) (string, error)
	RemoveItem(ctx context.Context, userID, name string, quantity float64) (string, error)
	GetItemDetails(ctx context.Context, userID, name string) (string, error)
	GetInventorySummary(ctx context.Context, userID string) (string, error)
}

// Repository persists items.
type Repository interface {
	// Find returns the user's item whose name matches ignoring case, or
	// ErrNotFound.
	Find(ctx context.Context, userID, name string) (*Item, error)

	// Save inserts or replaces an item by ID.
	Save(ctx context.Context, item *Item) error

	// Delete removes an item by ID. Deleting a missing item is not an error.
	Delete(ctx context.Context, userID, id string) error

	// List returns the user's items sorted by name.
	List(ctx context.Context, userID string) ([]*Item, error)

	Close() error
}

// Drivers accepted by Open.
const (
	DriverMemory = "memory"
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

// Open returns the repository for driver. path is ignored for memory.
func Open(ctx context.Context, driver, path string) (Repository, error) {
	switch driver {
	case DriverMemory:
		return NewMemoryRepository(), nil
	case DriverJSON:
		return NewJSONRepository(path)
	case DriverSQLite:
		return NewSQLiteRepository(ctx, path)
	default:
		return nil, fmt.Errorf("inventory: unknown driver %q", driver)
	}
}

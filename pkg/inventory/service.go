package inventory

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Service implements Store over a Repository. Read-modify-write sequences are
// serialized so concurrent tool calls cannot lose updates.
type Service struct {
	repo Repository
	mu   sync.Mutex
	now  func() time.Time
}

// NewService creates a service over repo.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// FormatQuantity renders a quantity without trailing zeros.
func FormatQuantity(q float64) string {
	return strconv.FormatFloat(q, 'f', -1, 64)
}

// FormatPrice renders a unit price in dollars.
func FormatPrice(p float64) string {
	return fmt.Sprintf("$%.2f", p)
}

func notFound(name string) string {
	return fmt.Sprintf("Item %q was not found in your inventory.", strings.TrimSpace(name))
}

func validateName(name string) error {
	if strings.TrimSpace(name) == "" {
		return ErrEmptyName
	}
	return nil
}

// AddItem adds quantity to the named item, creating it if needed. The price
// is overwritten with the latest value.
func (s *Service) AddItem(ctx context.Context, userID, name string, quantity, pricePerItem float64) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}
	if pricePerItem < 0 {
		return "", ErrNegativePrice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	item, err := s.repo.Find(ctx, userID, name)
	switch {
	case err == nil:
		item.Quantity += quantity
		item.PricePerItem = pricePerItem
		item.UpdatedAt = now
		if err := s.repo.Save(ctx, item); err != nil {
			return "", fmt.Errorf("inventory: save %s: %w", item.Name, err)
		}
		return fmt.Sprintf("Updated %s: quantity is now %s, price is %s each.",
			item.Name, FormatQuantity(item.Quantity), FormatPrice(item.PricePerItem)), nil

	case errors.Is(err, ErrNotFound):
		item = &Item{
			ID:           uuid.New().String(),
			UserID:       userID,
			Name:         strings.TrimSpace(name),
			Quantity:     quantity,
			PricePerItem: pricePerItem,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := s.repo.Save(ctx, item); err != nil {
			return "", fmt.Errorf("inventory: save %s: %w", item.Name, err)
		}
		return fmt.Sprintf("Added %s %s at %s each.",
			FormatQuantity(quantity), item.Name, FormatPrice(pricePerItem)), nil

	default:
		return "", fmt.Errorf("inventory: find %s: %w", name, err)
	}
}

// RemoveItem takes quantity away from the named item and deletes it when
// nothing remains.
func (s *Service) RemoveItem(ctx context.Context, userID, name string, quantity float64) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}
	if quantity <= 0 {
		return "", ErrInvalidQuantity
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, err := s.repo.Find(ctx, userID, name)
	if errors.Is(err, ErrNotFound) {
		return notFound(name), nil
	}
	if err != nil {
		return "", fmt.Errorf("inventory: find %s: %w", name, err)
	}

	remaining := item.Quantity - quantity
	if remaining <= 0 {
		if err := s.repo.Delete(ctx, userID, item.ID); err != nil {
			return "", fmt.Errorf("inventory: delete %s: %w", item.Name, err)
		}
		return fmt.Sprintf("Removed all %s from your inventory.", item.Name), nil
	}

	item.Quantity = remaining
	item.UpdatedAt = s.now()
	if err := s.repo.Save(ctx, item); err != nil {
		return "", fmt.Errorf("inventory: save %s: %w", item.Name, err)
	}
	return fmt.Sprintf("Removed %s %s. %s remaining.",
		FormatQuantity(quantity), item.Name, FormatQuantity(remaining)), nil
}

// GetItemDetails describes one item.
func (s *Service) GetItemDetails(ctx context.Context, userID, name string) (string, error) {
	if err := validateName(name); err != nil {
		return "", err
	}

	item, err := s.repo.Find(ctx, userID, name)
	if errors.Is(err, ErrNotFound) {
		return notFound(name), nil
	}
	if err != nil {
		return "", fmt.Errorf("inventory: find %s: %w", name, err)
	}
	return fmt.Sprintf("%s: %s in stock at %s each.",
		item.Name, FormatQuantity(item.Quantity), FormatPrice(item.PricePerItem)), nil
}

// GetInventorySummary lists every item.
func (s *Service) GetInventorySummary(ctx context.Context, userID string) (string, error) {
	items, err := s.repo.List(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("inventory: list: %w", err)
	}
	if len(items) == 0 {
		return "Your inventory is empty.", nil
	}

	parts := make([]string, len(items))
	for i, it := range items {
		parts[i] = fmt.Sprintf("%s (%s at %s)", it.Name, FormatQuantity(it.Quantity), FormatPrice(it.PricePerItem))
	}
	noun := "items"
	if len(items) == 1 {
		noun = "item"
	}
	return fmt.Sprintf("You have %d %s in your inventory: %s.", len(items), noun, strings.Join(parts, ", ")), nil
}

// Items returns the user's items sorted by name.
func (s *Service) Items(ctx context.Context, userID string) ([]Item, error) {
	items, err := s.repo.List(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list: %w", err)
	}
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = *it
	}
	return out, nil
}

var _ Store = (*Service)(nil)

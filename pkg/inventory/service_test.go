package inventory

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repositories(t *testing.T) map[string]Repository {
	t.Helper()
	dir := t.TempDir()

	jsonRepo, err := NewJSONRepository(filepath.Join(dir, "items.json"))
	require.NoError(t, err)

	sqliteRepo, err := NewSQLiteRepository(context.Background(), filepath.Join(dir, "items.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteRepo.Close() })

	return map[string]Repository{
		"memory": NewMemoryRepository(),
		"json":   jsonRepo,
		"sqlite": sqliteRepo,
	}
}

func TestServiceScenario(t *testing.T) {
	ctx := context.Background()

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			s := NewService(repo)

			text, err := s.GetInventorySummary(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "Your inventory is empty.", text)

			text, err = s.AddItem(ctx, "u1", "bolt", 5, 2)
			require.NoError(t, err)
			assert.Equal(t, "Added 5 bolt at $2.00 each.", text)

			text, err = s.AddItem(ctx, "u1", "Bolt", 3, 2.5)
			require.NoError(t, err)
			assert.Equal(t, "Updated bolt: quantity is now 8, price is $2.50 each.", text)

			text, err = s.GetItemDetails(ctx, "u1", "BOLT")
			require.NoError(t, err)
			assert.Equal(t, "bolt: 8 in stock at $2.50 each.", text)

			text, err = s.AddItem(ctx, "u1", "nut", 5, 0.1)
			require.NoError(t, err)
			assert.Equal(t, "Added 5 nut at $0.10 each.", text)

			text, err = s.GetInventorySummary(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "You have 2 items in your inventory: bolt (8 at $2.50), nut (5 at $0.10).", text)

			text, err = s.RemoveItem(ctx, "u1", "bolt", 3)
			require.NoError(t, err)
			assert.Equal(t, "Removed 3 bolt. 5 remaining.", text)

			text, err = s.RemoveItem(ctx, "u1", "bolt", 8)
			require.NoError(t, err)
			assert.Equal(t, "Removed all bolt from your inventory.", text)

			text, err = s.RemoveItem(ctx, "u1", "missing", 1)
			require.NoError(t, err)
			assert.Equal(t, `Item "missing" was not found in your inventory.`, text)

			text, err = s.GetItemDetails(ctx, "u1", "bolt")
			require.NoError(t, err)
			assert.Equal(t, `Item "bolt" was not found in your inventory.`, text)

			text, err = s.GetInventorySummary(ctx, "u1")
			require.NoError(t, err)
			assert.Equal(t, "You have 1 item in your inventory: nut (5 at $0.10).", text)
		})
	}
}

func TestServiceUsersAreIsolated(t *testing.T) {
	ctx := context.Background()

	for name, repo := range repositories(t) {
		t.Run(name, func(t *testing.T) {
			s := NewService(repo)

			_, err := s.AddItem(ctx, "alice", "vinyl", 1, 20)
			require.NoError(t, err)

			text, err := s.GetInventorySummary(ctx, "bob")
			require.NoError(t, err)
			assert.Equal(t, "Your inventory is empty.", text)

			text, err = s.RemoveItem(ctx, "bob", "vinyl", 1)
			require.NoError(t, err)
			assert.Contains(t, text, "was not found")

			items, err := s.Items(ctx, "alice")
			require.NoError(t, err)
			require.Len(t, items, 1)
			assert.Equal(t, 1.0, items[0].Quantity)
		})
	}
}

func TestServiceValidation(t *testing.T) {
	ctx := context.Background()
	s := NewService(NewMemoryRepository())

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"add empty name", func() error { _, err := s.AddItem(ctx, "u", "  ", 1, 1); return err }, ErrEmptyName},
		{"add zero quantity", func() error { _, err := s.AddItem(ctx, "u", "bolt", 0, 1); return err }, ErrInvalidQuantity},
		{"add negative price", func() error { _, err := s.AddItem(ctx, "u", "bolt", 1, -1); return err }, ErrNegativePrice},
		{"remove negative quantity", func() error { _, err := s.RemoveItem(ctx, "u", "bolt", -2); return err }, ErrInvalidQuantity},
		{"details empty name", func() error { _, err := s.GetItemDetails(ctx, "u", ""); return err }, ErrEmptyName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(tt.call(), tt.want))
		})
	}

	text, err := s.GetInventorySummary(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "Your inventory is empty.", text)
}

func TestServiceConcurrentAdds(t *testing.T) {
	ctx := context.Background()
	s := NewService(NewMemoryRepository())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.AddItem(ctx, "u", "bolt", 1, 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	text, err := s.GetItemDetails(ctx, "u", "bolt")
	require.NoError(t, err)
	assert.Equal(t, "bolt: 20 in stock at $1.00 each.", text)
}

func TestJSONRepositoryPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "items.json")

	repo, err := NewJSONRepository(path)
	require.NoError(t, err)
	_, err = NewService(repo).AddItem(ctx, "u", "bolt", 2, 1.5)
	require.NoError(t, err)

	reopened, err := NewJSONRepository(path)
	require.NoError(t, err)
	text, err := NewService(reopened).GetItemDetails(ctx, "u", "bolt")
	require.NoError(t, err)
	assert.Equal(t, "bolt: 2 in stock at $1.50 each.", text)
}

func TestSQLiteRepositoryPersists(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "items.db")

	repo, err := NewSQLiteRepository(ctx, path)
	require.NoError(t, err)
	_, err = NewService(repo).AddItem(ctx, "u", "bolt", 2, 1.5)
	require.NoError(t, err)
	require.NoError(t, repo.Close())

	// Reopening runs migrations again, which must be a no-op.
	reopened, err := NewSQLiteRepository(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	items, err := NewService(reopened).Items(ctx, "u")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "bolt", items[0].Name)
	assert.False(t, items[0].CreatedAt.IsZero())
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	repo, err := Open(ctx, DriverMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryRepository{}, repo)

	repo, err = Open(ctx, DriverSQLite, ":memory:")
	require.NoError(t, err)
	defer repo.Close()
	assert.IsType(t, &SQLiteRepository{}, repo)

	_, err = Open(ctx, "postgres", "")
	assert.Error(t, err)
}

package inventory

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/pressly/goose/v3"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteRepository persists items in a sqlite database. The schema is
// managed by goose migrations embedded in the binary.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository opens (or creates) the database at path and applies
// pending migrations. Use ":memory:" for a throwaway database.
func NewSQLiteRepository(ctx context.Context, path string) (*SQLiteRepository, error) {
	if path == "" {
		return nil, fmt.Errorf("inventory: sqlite repository needs a path")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("inventory: open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteRepository{db: db}, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("inventory: migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		return fmt.Errorf("inventory: migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("inventory: migrate: %w", err)
	}
	return nil
}

const itemColumns = `id, user_id, name, quantity, price_per_item, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*Item, error) {
	var it Item
	if err := row.Scan(&it.ID, &it.UserID, &it.Name, &it.Quantity, &it.PricePerItem, &it.CreatedAt, &it.UpdatedAt); err != nil {
		return nil, err
	}
	return &it, nil
}

// Find returns the matching item.
func (r *SQLiteRepository) Find(ctx context.Context, userID, name string) (*Item, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE user_id = ? AND name_key = ?`,
		userID, Key(name))
	it, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("inventory: query item: %w", err)
	}
	return it, nil
}

// Save upserts item by ID.
func (r *SQLiteRepository) Save(ctx context.Context, item *Item) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO items (id, user_id, name, name_key, quantity, price_per_item, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			name_key = excluded.name_key,
			quantity = excluded.quantity,
			price_per_item = excluded.price_per_item,
			updated_at = excluded.updated_at`,
		item.ID, item.UserID, item.Name, Key(item.Name), item.Quantity, item.PricePerItem,
		item.CreatedAt.UTC(), item.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inventory: save item: %w", err)
	}
	return nil
}

// Delete removes the item with id.
func (r *SQLiteRepository) Delete(ctx context.Context, userID, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM items WHERE user_id = ? AND id = ?`, userID, id); err != nil {
		return fmt.Errorf("inventory: delete item: %w", err)
	}
	return nil
}

// List returns the user's items sorted by name.
func (r *SQLiteRepository) List(ctx context.Context, userID string) ([]*Item, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE user_id = ? ORDER BY name_key, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("inventory: list items: %w", err)
	}
	defer rows.Close()

	var out []*Item
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("inventory: scan item: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// Close closes the database.
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

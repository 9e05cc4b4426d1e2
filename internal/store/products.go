package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"

	"github.com/jmoiron/sqlx"
)

const productColumns = `id, name, slug, price, stock, category_id, is_published, created_at, updated_at`

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProductsByIDs retrieves multiple products by IDs without locking
func (s *Store) GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	err = s.db.SelectContext(ctx, &products, query, args...)
	return products, err
}

// RestockProduct adds units to a product's stock and returns the new level
func (s *Store) RestockProduct(ctx context.Context, id string, quantity int) (int, error) {
	var stock int
	err := s.db.GetContext(ctx, &stock,
		"UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2 RETURNING stock",
		quantity, id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return stock, err
}

// DeleteCategory removes a category that no longer has products
func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	return s.WithTx(ctx, func(t Tx) error {
		tx := t.(*sqlTx).tx

		var inUse bool
		if err := tx.GetContext(ctx, &inUse,
			"SELECT EXISTS(SELECT 1 FROM products WHERE category_id = $1)", id); err != nil {
			return err
		}
		if inUse {
			return ErrCategoryInUse
		}

		res, err := tx.ExecContext(ctx, "DELETE FROM categories WHERE id = $1", id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// LockProducts reads products with FOR UPDATE. Rows are locked in id order so
// concurrent checkouts over overlapping carts cannot deadlock.
func (t *sqlTx) LockProducts(ctx context.Context, ids []string) (map[string]models.Product, error) {
	out := make(map[string]models.Product, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?) ORDER BY id FOR UPDATE", ids)
	if err != nil {
		return nil, err
	}
	query = t.tx.Rebind(query)

	var products []models.Product
	if err := t.tx.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, fmt.Errorf("failed to lock products: %w", err)
	}
	for _, p := range products {
		out[p.ID] = p
	}
	return out, nil
}

// DecrementStock takes quantity units only if that many are left.
// It returns false when the conditional update matched no row.
func (t *sqlTx) DecrementStock(ctx context.Context, productID string, quantity int) (bool, error) {
	res, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock - $1, updated_at = NOW() WHERE id = $2 AND stock >= $1",
		quantity, productID)
	if err != nil {
		return false, fmt.Errorf("failed to decrement stock: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// IncrementStock returns units to stock (compensation)
func (t *sqlTx) IncrementStock(ctx context.Context, productID string, quantity int) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE products SET stock = stock + $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
	return err
}

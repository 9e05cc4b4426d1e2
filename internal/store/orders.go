package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

const orderColumns = `id, customer_name, customer_email, customer_phone,
	shipping_address, shipping_city, shipping_postal_code, shipping_country,
	total_amount, status, payment_method, payment_status, payment_reference,
	COALESCE(idempotency_key, '') AS idempotency_key, internal_notes, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, product_name, quantity, unit_price, subtotal,
	selected_material, selected_color`

// GetOrderByID retrieves an order by ID
func (s *Store) GetOrderByID(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderByIdempotencyKey retrieves an order by idempotency key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrderItemsByOrderID retrieves all items for an order
func (s *Store) GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// ListOrders returns orders newest first
func (s *Store) ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	var orders []models.Order
	var err error
	if filter.Status != "" {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3",
			filter.Status, limit, filter.Offset)
	} else {
		err = s.db.SelectContext(ctx, &orders,
			"SELECT "+orderColumns+" FROM orders ORDER BY created_at DESC LIMIT $1 OFFSET $2",
			limit, filter.Offset)
	}
	return orders, err
}

// InsertOrder creates a new order. An empty idempotency key is stored as NULL.
func (t *sqlTx) InsertOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (id, customer_name, customer_email, customer_phone,
			shipping_address, shipping_city, shipping_postal_code, shipping_country,
			total_amount, status, payment_method, payment_status, payment_reference,
			idempotency_key, internal_notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NULLIF($14, ''), $15)
		RETURNING created_at, updated_at`

	err := t.tx.QueryRowxContext(ctx, query,
		order.ID, order.CustomerName, order.CustomerEmail, order.CustomerPhone,
		order.ShippingAddress, order.ShippingCity, order.ShippingPostalCode, order.ShippingCountry,
		order.TotalAmount, order.Status, order.PaymentMethod, order.PaymentStatus, order.PaymentReference,
		order.IdempotencyKey, order.InternalNotes,
	).Scan(&order.CreatedAt, &order.UpdatedAt)
	if isUniqueViolation(err, constraintOrderIdempotency) {
		return ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

// InsertOrderItems creates the order's line items
func (t *sqlTx) InsertOrderItems(ctx context.Context, items []models.OrderItem) error {
	query := `
		INSERT INTO order_items (order_id, product_id, product_name, quantity, unit_price, subtotal,
			selected_material, selected_color)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`

	for i := range items {
		it := &items[i]
		if err := t.tx.GetContext(ctx, &it.ID, query,
			it.OrderID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.Subtotal,
			it.SelectedMaterial, it.SelectedColor); err != nil {
			return fmt.Errorf("failed to insert order item: %w", err)
		}
	}
	return nil
}

// GetOrderForUpdate reads an order and locks its row until the tx ends
func (t *sqlTx) GetOrderForUpdate(ctx context.Context, id string) (*models.Order, error) {
	var order models.Order
	err := t.tx.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1 FOR UPDATE", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (t *sqlTx) GetOrderItems(ctx context.Context, orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := t.tx.SelectContext(ctx, &items,
		"SELECT "+orderItemColumns+" FROM order_items WHERE order_id = $1 ORDER BY id", orderID)
	return items, err
}

// UpdateOrderStatus updates order status and, when notes is non-nil, the internal notes
func (t *sqlTx) UpdateOrderStatus(ctx context.Context, id string, status models.OrderStatus, notes *string) error {
	var err error
	if notes != nil {
		_, err = t.tx.ExecContext(ctx,
			"UPDATE orders SET status = $1, internal_notes = $2, updated_at = NOW() WHERE id = $3",
			status, *notes, id)
	} else {
		_, err = t.tx.ExecContext(ctx,
			"UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2",
			status, id)
	}
	return err
}

func (t *sqlTx) UpdatePaymentStatus(ctx context.Context, id string, status models.PaymentStatus) error {
	_, err := t.tx.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2",
		status, id)
	return err
}

// DeleteOrder purges an order; order_items cascade
func (t *sqlTx) DeleteOrder(ctx context.Context, id string) error {
	res, err := t.tx.ExecContext(ctx, "DELETE FROM orders WHERE id = $1", id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

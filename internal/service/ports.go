package service

import (
	"context"

	"storefront/internal/cart"
	"storefront/internal/models"
	"storefront/internal/store"
)

// Store is the persistence the services need. *store.Store satisfies it.
type Store interface {
	WithTx(ctx context.Context, fn func(tx store.Tx) error) error

	GetProductByID(ctx context.Context, id string) (*models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []string) ([]models.Product, error)
	RestockProduct(ctx context.Context, id string, quantity int) (int, error)
	DeleteCategory(ctx context.Context, id string) error

	GetOrderByID(ctx context.Context, id string) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID string) ([]models.OrderItem, error)
	ListOrders(ctx context.Context, filter models.OrderFilter) ([]models.Order, error)

	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBookingByID(ctx context.Context, id string) (*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]models.Booking, error)

	SaveCheckoutIntent(ctx context.Context, intent *models.CheckoutIntent) error
	GetCheckoutIntent(ctx context.Context, sessionID string) (*models.CheckoutIntent, error)
	GetCheckoutIntentByIdempotencyKey(ctx context.Context, key string) (*models.CheckoutIntent, error)
	CompleteCheckoutIntent(ctx context.Context, sessionID, orderID string) error
}

// Notifier queues notification events. It must not block.
type Notifier interface {
	Enqueue(event models.Event) bool
}

// OrderCache holds customer order views. redisclient.Client satisfies it.
type OrderCache interface {
	GetOrderView(ctx context.Context, orderID string) (*models.OrderView, string, bool, error)
	SetOrderView(ctx context.Context, email string, view *models.OrderView) error
	InvalidateOrderView(ctx context.Context, orderID string) error
}

// CartStore persists carts by token. redisclient.Client satisfies it.
type CartStore interface {
	LoadCart(ctx context.Context, token string) (*cart.Cart, error)
	SaveCart(ctx context.Context, token string, c *cart.Cart) error
	DeleteCart(ctx context.Context, token string) error
}

func recipient(o *models.Order) models.Recipient {
	return models.Recipient{Name: o.CustomerName, Email: o.CustomerEmail, Phone: o.CustomerPhone}
}

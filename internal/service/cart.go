package service

import (
	"context"
	"errors"

	"storefront/internal/apperr"
	"storefront/internal/cart"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

type CartItemRequest struct {
	ProductID        string `json:"product_id" validate:"required,max=64"`
	Quantity         int    `json:"quantity" validate:"min=1,max=1000"`
	SelectedMaterial string `json:"selected_material,omitempty" validate:"max=100"`
	SelectedColor    string `json:"selected_color,omitempty" validate:"max=100"`
}

func (r CartItemRequest) key() cart.Key {
	return cart.Key{ProductID: r.ProductID, SelectedMaterial: r.SelectedMaterial, SelectedColor: r.SelectedColor}
}

// CartService keeps guest carts keyed by an opaque token
type CartService struct {
	carts  CartStore
	store  Store
	logger *zap.Logger
}

func NewCartService(carts CartStore, store Store) *CartService {
	return &CartService{carts: carts, store: store, logger: util.GetLogger()}
}

func (s *CartService) Get(ctx context.Context, token string) (*cart.Cart, error) {
	c, err := s.carts.LoadCart(ctx, token)
	if err != nil {
		return nil, s.infra("load cart", err)
	}
	return c, nil
}

// AddItem adds a line using the catalog's current price and stock as the snapshot
func (s *CartService) AddItem(ctx context.Context, token string, req *CartItemRequest) (*cart.Cart, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	product, err := s.store.GetProductByID(ctx, req.ProductID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !product.IsPublished) {
		return nil, apperr.ProductUnavailable(apperr.LineIssue{ProductID: req.ProductID, Requested: req.Quantity, Reason: "unavailable"})
	}
	if err != nil {
		return nil, s.infra("load product", err)
	}

	c, err := s.carts.LoadCart(ctx, token)
	if err != nil {
		return nil, s.infra("load cart", err)
	}
	if err := c.Add(cart.Line{
		ProductID:        product.ID,
		Name:             product.Name,
		Quantity:         req.Quantity,
		SelectedMaterial: req.SelectedMaterial,
		SelectedColor:    req.SelectedColor,
		UnitPrice:        product.Price,
		StockSnapshot:    product.Stock,
	}); err != nil {
		return nil, cartError(err, req)
	}

	if err := s.carts.SaveCart(ctx, token, c); err != nil {
		return nil, s.infra("save cart", err)
	}
	return c, nil
}

// UpdateItem sets the quantity of an existing line
func (s *CartService) UpdateItem(ctx context.Context, token string, req *CartItemRequest) (*cart.Cart, error) {
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	c, err := s.carts.LoadCart(ctx, token)
	if err != nil {
		return nil, s.infra("load cart", err)
	}
	if err := c.UpdateQuantity(req.key(), req.Quantity); err != nil {
		return nil, cartError(err, req)
	}

	if err := s.carts.SaveCart(ctx, token, c); err != nil {
		return nil, s.infra("save cart", err)
	}
	return c, nil
}

func (s *CartService) RemoveItem(ctx context.Context, token string, key cart.Key) (*cart.Cart, error) {
	c, err := s.carts.LoadCart(ctx, token)
	if err != nil {
		return nil, s.infra("load cart", err)
	}
	if err := c.Remove(key); err != nil {
		return nil, apperr.NotFound("cart line")
	}
	if err := s.carts.SaveCart(ctx, token, c); err != nil {
		return nil, s.infra("save cart", err)
	}
	return c, nil
}

func (s *CartService) Clear(ctx context.Context, token string) error {
	if err := s.carts.DeleteCart(ctx, token); err != nil {
		return s.infra("clear cart", err)
	}
	return nil
}

func cartError(err error, req *CartItemRequest) error {
	switch {
	case errors.Is(err, cart.ErrInvalidQuantity):
		return apperr.Validation("invalid request", map[string]string{"quantity": "must be at least 1"})
	case errors.Is(err, cart.ErrLineNotFound):
		return apperr.NotFound("cart line")
	case errors.Is(err, cart.ErrExceedsStock):
		return apperr.StockConflict(apperr.LineIssue{ProductID: req.ProductID, Requested: req.Quantity, Reason: "insufficient_stock"})
	}
	return err
}

func (s *CartService) infra(op string, err error) error {
	s.logger.Error("Cart operation failed", zap.String("op", op), zap.Error(err))
	return apperr.Infrastructure(op, err)
}

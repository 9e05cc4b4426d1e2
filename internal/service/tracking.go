package service

import (
	"context"
	"errors"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// TrackingService serves the customer-facing order view
type TrackingService struct {
	store  Store
	cache  OrderCache
	logger *zap.Logger
}

// NewTrackingService creates the tracking service. cache may be nil.
func NewTrackingService(store Store, cache OrderCache) *TrackingService {
	return &TrackingService{store: store, cache: cache, logger: util.GetLogger()}
}

// Track returns the order view when email matches the order's customer.
// A mismatch looks exactly like a missing order.
func (s *TrackingService) Track(ctx context.Context, orderID, email string) (*models.OrderView, error) {
	ctx, span := util.StartSpan(ctx, "TrackingService.Track")
	defer span.End()

	email = strings.TrimSpace(email)
	if email == "" {
		return nil, apperr.Validation("email is required", map[string]string{"email": "is required"})
	}

	if s.cache != nil {
		view, owner, found, err := s.cache.GetOrderView(ctx, orderID)
		if err != nil {
			s.logger.Warn("Order cache read failed", zap.String("order_id", orderID), zap.Error(err))
		} else if found {
			if !strings.EqualFold(owner, email) {
				return nil, apperr.NotFound("order")
			}
			return view, nil
		}
	}

	order, err := s.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.NotFound("order")
	}
	if err != nil {
		s.logger.Error("Failed to load order", zap.String("order_id", orderID), zap.Error(err))
		return nil, apperr.Infrastructure("track order", err)
	}
	if !strings.EqualFold(order.CustomerEmail, email) {
		return nil, apperr.NotFound("order")
	}

	items, err := s.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		s.logger.Error("Failed to load order items", zap.String("order_id", orderID), zap.Error(err))
		return nil, apperr.Infrastructure("track order", err)
	}

	view := models.NewOrderView(order, items)
	if s.cache != nil {
		if err := s.cache.SetOrderView(ctx, order.CustomerEmail, view); err != nil {
			s.logger.Warn("Order cache write failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}
	return view, nil
}

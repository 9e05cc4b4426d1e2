package service

import (
	"context"
	"errors"
	"time"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// OrderStateMachine applies admin changes to existing orders
type OrderStateMachine struct {
	store    Store
	notifier Notifier
	cache    OrderCache
	currency string
	logger   *zap.Logger
}

// NewOrderStateMachine creates the admin order service. cache may be nil.
func NewOrderStateMachine(store Store, notifier Notifier, cache OrderCache, currency string) *OrderStateMachine {
	return &OrderStateMachine{
		store:    store,
		notifier: notifier,
		cache:    cache,
		currency: currency,
		logger:   util.GetLogger(),
	}
}

// TransitionStatus moves an order to newStatus. Moving to the current status
// changes nothing except an attached note. Cancelling returns the order's
// units to stock in the same transaction.
func (m *OrderStateMachine) TransitionStatus(ctx context.Context, orderID string, newStatus models.OrderStatus, note *string, actor string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderStateMachine.TransitionStatus")
	defer span.End()

	if !newStatus.Valid() {
		return nil, apperr.Validation("invalid status", map[string]string{"status": "unknown order status"})
	}

	var (
		updated   *models.Order
		event     *models.OrderStatusUpdateEvent
		restocked int
	)
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("order")
		}
		if err != nil {
			return err
		}

		if order.Status == newStatus {
			if note != nil {
				if err := tx.UpdateOrderStatus(ctx, order.ID, order.Status, note); err != nil {
					return err
				}
				order.InternalNotes = *note
				order.UpdatedAt = time.Now().UTC()
			}
			updated = order
			return nil
		}

		if !order.Status.CanTransition(newStatus) {
			return apperr.InvalidTransition(string(order.Status), string(newStatus))
		}

		if newStatus == models.OrderStatusCancelled {
			items, err := tx.GetOrderItems(ctx, order.ID)
			if err != nil {
				return err
			}
			for _, it := range items {
				if err := tx.IncrementStock(ctx, it.ProductID, it.Quantity); err != nil {
					return err
				}
				restocked += it.Quantity
			}
		}

		if err := tx.UpdateOrderStatus(ctx, order.ID, newStatus, note); err != nil {
			return err
		}

		oldStatus := order.Status
		order.Status = newStatus
		order.UpdatedAt = time.Now().UTC()
		if note != nil {
			order.InternalNotes = *note
		}
		updated = order
		event = &models.OrderStatusUpdateEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeOrderStatusUpdate),
			OrderID:   order.ID,
			Customer:  recipient(order),
			OldStatus: oldStatus,
			NewStatus: newStatus,
		}
		return nil
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, m.wrap(ctx, "transition order", orderID, err)
	}

	if event == nil {
		return updated, nil
	}

	util.OrderTransitionsTotal.WithLabelValues(string(event.OldStatus), string(event.NewStatus)).Inc()
	if restocked > 0 {
		util.StockRestockedUnitsTotal.WithLabelValues("cancel").Add(float64(restocked))
	}
	m.logger.Info("Order status changed",
		zap.String("order_id", orderID),
		zap.String("old_status", string(event.OldStatus)),
		zap.String("new_status", string(event.NewStatus)),
		zap.Int("restocked_units", restocked),
		zap.String("actor", actor))

	m.invalidate(ctx, orderID)
	m.notifier.Enqueue(event)
	return updated, nil
}

// MarkPaid records a manual payment confirmation
func (m *OrderStateMachine) MarkPaid(ctx context.Context, orderID, actor string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderStateMachine.MarkPaid")
	defer span.End()

	var (
		updated *models.Order
		changed bool
	)
	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("order")
		}
		if err != nil {
			return err
		}
		updated = order

		if order.PaymentStatus == models.PaymentStatusPaid {
			return nil
		}
		if order.Status == models.OrderStatusCancelled {
			return apperr.InvalidTransition(string(order.Status), string(models.PaymentStatusPaid))
		}

		if err := tx.UpdatePaymentStatus(ctx, order.ID, models.PaymentStatusPaid); err != nil {
			return err
		}
		order.PaymentStatus = models.PaymentStatusPaid
		order.UpdatedAt = time.Now().UTC()
		changed = true
		return nil
	})
	if err != nil {
		util.SpanError(span, err)
		return nil, m.wrap(ctx, "mark paid", orderID, err)
	}
	if !changed {
		return updated, nil
	}

	m.logger.Info("Order marked paid", zap.String("order_id", orderID), zap.String("actor", actor))
	m.invalidate(ctx, orderID)
	m.notifier.Enqueue(&models.PaymentConfirmationEvent{
		BaseEvent:     models.NewBaseEvent(models.EventTypePaymentConfirmation),
		OrderID:       updated.ID,
		Customer:      recipient(updated),
		PaymentMethod: updated.PaymentMethod,
		Amount:        updated.TotalAmount,
		AmountDisplay: models.FormatAmount(updated.TotalAmount, m.currency),
		Reference:     updated.PaymentReference,
	})
	return updated, nil
}

// Purge deletes a completed or cancelled order and its items
func (m *OrderStateMachine) Purge(ctx context.Context, orderID, actor string) error {
	ctx, span := util.StartSpan(ctx, "OrderStateMachine.Purge")
	defer span.End()

	err := m.store.WithTx(ctx, func(tx store.Tx) error {
		order, err := tx.GetOrderForUpdate(ctx, orderID)
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("order")
		}
		if err != nil {
			return err
		}
		if !order.Status.Terminal() {
			return apperr.InvalidTransition(string(order.Status), "PURGED")
		}
		return tx.DeleteOrder(ctx, order.ID)
	})
	if err != nil {
		util.SpanError(span, err)
		return m.wrap(ctx, "purge order", orderID, err)
	}

	m.logger.Info("Order purged", zap.String("order_id", orderID), zap.String("actor", actor))
	m.invalidate(ctx, orderID)
	return nil
}

func (m *OrderStateMachine) List(ctx context.Context, filter models.OrderFilter) ([]models.Order, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("invalid filter", map[string]string{"status": "unknown order status"})
	}
	orders, err := m.store.ListOrders(ctx, filter)
	if err != nil {
		return nil, m.wrap(ctx, "list orders", "", err)
	}
	if orders == nil {
		orders = []models.Order{}
	}
	return orders, nil
}

// Get returns the full order, internal notes included
func (m *OrderStateMachine) Get(ctx context.Context, orderID string) (*models.Order, []models.OrderItem, error) {
	order, err := m.store.GetOrderByID(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil, apperr.NotFound("order")
	}
	if err != nil {
		return nil, nil, m.wrap(ctx, "get order", orderID, err)
	}
	items, err := m.store.GetOrderItemsByOrderID(ctx, orderID)
	if err != nil {
		return nil, nil, m.wrap(ctx, "get order items", orderID, err)
	}
	return order, items, nil
}

func (m *OrderStateMachine) invalidate(ctx context.Context, orderID string) {
	if m.cache == nil {
		return
	}
	if err := m.cache.InvalidateOrderView(ctx, orderID); err != nil {
		m.logger.Warn("Failed to invalidate order cache", zap.String("order_id", orderID), zap.Error(err))
	}
}

// wrap passes typed errors through and hides everything else behind Infrastructure
func (m *OrderStateMachine) wrap(ctx context.Context, op, orderID string, err error) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	util.LoggerFor(ctx).Error("Order operation failed", zap.String("op", op), zap.String("order_id", orderID), zap.Error(err))
	return apperr.Infrastructure(op, err)
}

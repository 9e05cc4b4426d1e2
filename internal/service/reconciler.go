package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"storefront/internal/apperr"
	"storefront/internal/models"
	"storefront/internal/payment"
	"storefront/internal/store"
	"storefront/internal/util"

	"go.uber.org/zap"
)

// Confirmation is the outcome of a confirmed card payment
type Confirmation struct {
	OrderID  string
	Existing bool
	Session  *payment.SessionStatus
}

// PaymentReconciler turns paid gateway sessions into orders. The gateway is
// always re-queried; redirects and webhooks only say which session to check.
type PaymentReconciler struct {
	gateway  payment.Gateway
	store    Store
	checkout *CheckoutService
	notifier Notifier
	currency string
	logger   *zap.Logger
}

func NewPaymentReconciler(gateway payment.Gateway, store Store, checkout *CheckoutService, notifier Notifier, currency string) *PaymentReconciler {
	return &PaymentReconciler{
		gateway:  gateway,
		store:    store,
		checkout: checkout,
		notifier: notifier,
		currency: currency,
		logger:   util.GetLogger(),
	}
}

// Retrieve returns the normalized session, or PaymentIncomplete unless it is paid
func (r *PaymentReconciler) Retrieve(ctx context.Context, sessionID string) (*payment.SessionStatus, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.Retrieve")
	defer span.End()

	if sessionID == "" {
		return nil, apperr.Validation("session_id is required", map[string]string{"session_id": "is required"})
	}
	if r.gateway == nil {
		return nil, apperr.Infrastructure("retrieve session", errors.New("payment gateway not configured"))
	}

	status, err := r.gateway.RetrieveSession(ctx, sessionID)
	if errors.Is(err, payment.ErrSessionNotFound) {
		return nil, apperr.NotFound("payment session")
	}
	if err != nil {
		util.SpanError(span, err)
		r.logger.Error("Failed to retrieve payment session", zap.String("session_id", sessionID), zap.Error(err))
		return nil, apperr.Infrastructure("retrieve session", err)
	}

	if !status.Paid {
		util.PaymentReconciliationsTotal.WithLabelValues("incomplete").Inc()
		return nil, apperr.PaymentIncomplete("payment has not been completed")
	}
	return status, nil
}

// Confirm places the order for a paid session. Repeated calls for the same
// session return the same order.
func (r *PaymentReconciler) Confirm(ctx context.Context, sessionID string) (*Confirmation, error) {
	ctx, span := util.StartSpan(ctx, "PaymentReconciler.Confirm")
	defer span.End()

	status, err := r.Retrieve(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	intent, err := r.store.GetCheckoutIntent(ctx, sessionID)
	if errors.Is(err, store.ErrNotFound) {
		util.PaymentReconciliationsTotal.WithLabelValues("unknown_session").Inc()
		return nil, apperr.NotFound("checkout")
	}
	if err != nil {
		return nil, r.infra(ctx, "load checkout intent", sessionID, err)
	}

	if status.Amount != intent.Amount || !strings.EqualFold(status.Currency, intent.Currency) {
		util.PaymentReconciliationsTotal.WithLabelValues("amount_mismatch").Inc()
		r.logger.Error("Paid amount does not match checkout",
			zap.String("session_id", sessionID),
			zap.Int64("paid_amount", status.Amount),
			zap.Int64("expected_amount", intent.Amount),
			zap.String("currency", status.Currency))
		return nil, apperr.PaymentIncomplete("paid amount does not match checkout")
	}

	if intent.CompletedAt != nil {
		return r.completed(ctx, sessionID, status)
	}

	var req CheckoutRequest
	if err := json.Unmarshal(intent.Payload, &req); err != nil {
		return nil, r.infra(ctx, "decode checkout intent", sessionID, err)
	}

	order, existing, err := r.checkout.PlaceOrder(ctx, &req, Placement{
		PaymentStatus:    models.PaymentStatusPaid,
		PaymentReference: sessionID,
		IdempotencyKey:   cardKey(sessionID),
	})
	if err != nil {
		util.SpanError(span, err)
		util.PaymentReconciliationsTotal.WithLabelValues("order_failed").Inc()
		// the customer has paid; this needs a refund or manual follow-up
		r.logger.Error("Paid session could not be turned into an order",
			zap.String("session_id", sessionID), zap.Error(err))
		return nil, err
	}

	if !existing || intent.OrderID == "" {
		if err := r.store.CompleteCheckoutIntent(ctx, sessionID, order.ID); err != nil {
			r.logger.Warn("Failed to complete checkout intent",
				zap.String("session_id", sessionID), zap.String("order_id", order.ID), zap.Error(err))
		}
	}

	if existing {
		util.PaymentReconciliationsTotal.WithLabelValues("replayed").Inc()
	} else {
		util.PaymentReconciliationsTotal.WithLabelValues("confirmed").Inc()
		r.logger.Info("Card payment confirmed", zap.String("session_id", sessionID), zap.String("order_id", order.ID))
		r.notifier.Enqueue(&models.PaymentConfirmationEvent{
			BaseEvent:     models.NewBaseEvent(models.EventTypePaymentConfirmation),
			OrderID:       order.ID,
			Customer:      recipient(order),
			PaymentMethod: order.PaymentMethod,
			Amount:        status.Amount,
			AmountDisplay: models.FormatAmount(status.Amount, status.Currency),
			Reference:     sessionID,
		})
	}

	return &Confirmation{OrderID: order.ID, Existing: existing, Session: status}, nil
}

// completed answers a session that already produced an order. The order may
// have been purged since; a paid session never places a second one.
func (r *PaymentReconciler) completed(ctx context.Context, sessionID string, status *payment.SessionStatus) (*Confirmation, error) {
	order, err := r.store.GetOrderByIdempotencyKey(ctx, cardKey(sessionID))
	if err != nil {
		return nil, r.infra(ctx, "load confirmed order", sessionID, err)
	}
	if order == nil {
		util.PaymentReconciliationsTotal.WithLabelValues("purged").Inc()
		r.logger.Warn("Confirmation for a session whose order was purged",
			zap.String("session_id", sessionID))
		return nil, apperr.NotFound("order")
	}

	util.PaymentReconciliationsTotal.WithLabelValues("replayed").Inc()
	return &Confirmation{OrderID: order.ID, Existing: true, Session: status}, nil
}

func cardKey(sessionID string) string { return "card:" + sessionID }

func (r *PaymentReconciler) infra(ctx context.Context, op, sessionID string, err error) error {
	util.PaymentReconciliationsTotal.WithLabelValues("error").Inc()
	util.LoggerFor(ctx).Error("Payment reconciliation failed", zap.String("op", op), zap.String("session_id", sessionID), zap.Error(err))
	return apperr.Infrastructure(op, err)
}

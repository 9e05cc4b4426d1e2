package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront/internal/models"
)

const intentColumns = `session_id, payload, amount, currency, payment_url, COALESCE(order_id, '') AS order_id,
	COALESCE(idempotency_key, '') AS idempotency_key, created_at, completed_at`

// SaveCheckoutIntent records the validated request behind a card session. A
// second intent for the same idempotency key returns ErrDuplicateIdempotencyKey.
func (s *Store) SaveCheckoutIntent(ctx context.Context, intent *models.CheckoutIntent) error {
	query := `
		INSERT INTO checkout_intents (session_id, payload, amount, currency, payment_url, idempotency_key)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		ON CONFLICT (session_id) DO NOTHING
		RETURNING created_at`

	err := s.db.QueryRowxContext(ctx, query,
		intent.SessionID, intent.Payload, intent.Amount, intent.Currency, intent.PaymentURL, intent.IdempotencyKey,
	).Scan(&intent.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		// already recorded
		return nil
	}
	if isUniqueViolation(err, constraintIntentIdempotency) {
		return ErrDuplicateIdempotencyKey
	}
	if err != nil {
		return fmt.Errorf("failed to save checkout intent: %w", err)
	}
	return nil
}

// GetCheckoutIntent retrieves the intent for a gateway session
func (s *Store) GetCheckoutIntent(ctx context.Context, sessionID string) (*models.CheckoutIntent, error) {
	var intent models.CheckoutIntent
	err := s.db.GetContext(ctx, &intent,
		"SELECT "+intentColumns+" FROM checkout_intents WHERE session_id = $1", sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// GetCheckoutIntentByIdempotencyKey returns nil when no card checkout used key
func (s *Store) GetCheckoutIntentByIdempotencyKey(ctx context.Context, key string) (*models.CheckoutIntent, error) {
	var intent models.CheckoutIntent
	err := s.db.GetContext(ctx, &intent,
		"SELECT "+intentColumns+" FROM checkout_intents WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// CompleteCheckoutIntent links the placed order to its intent. Only the first
// completion sticks.
func (s *Store) CompleteCheckoutIntent(ctx context.Context, sessionID, orderID string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE checkout_intents SET order_id = $1, completed_at = NOW() WHERE session_id = $2 AND completed_at IS NULL",
		orderID, sessionID)
	return err
}

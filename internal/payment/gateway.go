// Package payment talks to the hosted checkout gateway. Nothing here decides
// whether an order is paid; callers re-query the gateway before trusting it.
package payment

import (
	"context"
	"errors"
)

var ErrSessionNotFound = errors.New("payment session not found")

// Webhook events that can mean a session is now paid. Delayed methods such as
// bank debits complete unpaid and settle later with the async event.
const (
	EventCheckoutCompleted      = "checkout.session.completed"
	EventCheckoutAsyncSucceeded = "checkout.session.async_payment_succeeded"
)

// Confirms reports whether a webhook event of this type should trigger confirmation
func Confirms(eventType string) bool {
	return eventType == EventCheckoutCompleted || eventType == EventCheckoutAsyncSucceeded
}

type SessionLine struct {
	Name       string
	UnitAmount int64
	Quantity   int
}

// SessionRequest describes a hosted checkout. A non-empty IdempotencyKey makes
// the gateway return the same session for a retried request.
type SessionRequest struct {
	Lines          []SessionLine
	Currency       string
	CustomerEmail  string
	Metadata       map[string]string
	IdempotencyKey string
}

type Session struct {
	ID  string
	URL string
}

// SessionStatus is the normalized gateway view of a checkout session
type SessionStatus struct {
	ID            string `json:"session_id"`
	Paid          bool   `json:"paid"`
	PaymentStatus string `json:"payment_status"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	CustomerEmail string `json:"customer_email"`
}

type Gateway interface {
	CreateSession(ctx context.Context, req SessionRequest) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*SessionStatus, error)
}

type WebhookEvent struct {
	Type      string
	SessionID string
}

type WebhookVerifier interface {
	Verify(payload []byte, signature string) (*WebhookEvent, error)
}

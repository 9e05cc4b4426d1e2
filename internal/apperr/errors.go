// Package apperr defines the client-safe error taxonomy returned by services.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation         Kind = "validation"
	KindStockConflict      Kind = "stock_conflict"
	KindProductUnavailable Kind = "product_unavailable"
	KindPaymentIncomplete  Kind = "payment_incomplete"
	KindInvalidTransition  Kind = "invalid_transition"
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindConflict           Kind = "conflict"
	KindRateLimited        Kind = "rate_limited"
	KindInfrastructure     Kind = "infrastructure"
)

// Client-facing codes
const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeInsufficientStock  = "INSUFFICIENT_STOCK"
	CodeProductUnavailable = "PRODUCT_UNAVAILABLE"
	CodePaymentIncomplete  = "PAYMENT_INCOMPLETE"
	CodeInvalidTransition  = "INVALID_TRANSITION"
	CodeNotFound           = "NOT_FOUND"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeSlotTaken          = "SLOT_TAKEN"
	CodeCategoryInUse      = "CATEGORY_IN_USE"
	CodeRateLimited        = "RATE_LIMITED"
	CodeInternal           = "INTERNAL"
)

// LineIssue identifies the checkout line that failed
type LineIssue struct {
	Index     int    `json:"index"`
	ProductID string `json:"product_id"`
	Requested int    `json:"requested,omitempty"`
	Available int    `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Fields  map[string]string
	Lines   []LineIssue
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindInfrastructure for untyped errors
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindInfrastructure
}

// Is reports whether err carries the given kind
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

func Validation(msg string, fields map[string]string) *Error {
	return &Error{Kind: KindValidation, Code: CodeValidation, Message: msg, Fields: fields}
}

func StockConflict(lines ...LineIssue) *Error {
	return &Error{Kind: KindStockConflict, Code: CodeInsufficientStock, Message: "insufficient stock", Lines: lines}
}

func ProductUnavailable(lines ...LineIssue) *Error {
	return &Error{Kind: KindProductUnavailable, Code: CodeProductUnavailable, Message: "product unavailable", Lines: lines}
}

func PaymentIncomplete(msg string) *Error {
	return &Error{Kind: KindPaymentIncomplete, Code: CodePaymentIncomplete, Message: msg}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Code:    CodeInvalidTransition,
		Message: fmt.Sprintf("cannot transition from %s to %s", from, to),
	}
}

func NotFound(what string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: what + " not found"}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Code: CodeUnauthorized, Message: msg}
}

func Conflict(code, msg string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: msg}
}

// Infrastructure wraps datastore or gateway failures. The message never reaches clients.
func Infrastructure(op string, err error) *Error {
	return &Error{Kind: KindInfrastructure, Code: CodeInternal, Message: op, Err: err}
}

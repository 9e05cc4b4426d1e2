// Package ratelimit throttles public form endpoints per client IP and
// endpoint class.
package ratelimit

import (
	"context"
	"time"
)

type Class string

const (
	ClassCheckout Class = "checkout"
	ClassContact  Class = "contact"
	ClassBooking  Class = "booking"
)

// Rule allows Limit hits per sliding Window
type Rule struct {
	Limit  int
	Window time.Duration
}

type Rules map[Class]Rule

type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is how long a rejected client should wait, rounded up to whole seconds
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		return time.Second
	}
	return wait.Truncate(time.Second) + time.Second
}

// Limiter decides whether key may make another request in class.
// Classes without a rule are always allowed.
type Limiter interface {
	Allow(ctx context.Context, class Class, key string) (Decision, error)
}

func windowKey(class Class, key string) string {
	return string(class) + ":" + key
}

package payment

import (
	"context"
	"errors"
)

var ErrUnavailable = errors.New("payment provider unavailable")

// Request asks the provider to capture a single amount.
type Request struct {
	AmountMinor int64
	Currency    string
	Description string
	UserID      uint
	// IdempotencyKey makes retries of the same purchase safe.
	IdempotencyKey string
}

// Result reports the outcome. A declined payment is not an error.
type Result struct {
	Succeeded bool
	Reference string
}

// Gateway captures payments synchronously.
type Gateway interface {
	RequestPayment(ctx context.Context, req Request) (Result, error)
}

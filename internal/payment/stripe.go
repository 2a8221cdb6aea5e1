package payment

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"pickup-bot/internal/logger"
)

// ErrNoPaymentMethod means the gateway was built without a payment method to charge.
var ErrNoPaymentMethod = errors.New("stripe payment method not configured")

type StripeConfig struct {
	SecretKey     string
	PaymentMethod string
	// BaseURL overrides the API endpoint, mostly for tests.
	BaseURL string
}

// StripeGateway confirms a PaymentIntent against a stored payment method.
type StripeGateway struct {
	api           *client.API
	paymentMethod string
	log           *logger.Logger
}

func NewStripeGateway(cfg StripeConfig, log *logger.Logger) *StripeGateway {
	log = logger.OrNop(log)

	var backends *stripe.Backends
	if cfg.BaseURL != "" {
		backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL:               stripe.String(cfg.BaseURL),
			MaxNetworkRetries: stripe.Int64(0),
			LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
		})
		backends = &stripe.Backends{API: backend, Connect: backend, Uploads: backend}
	}

	api := &client.API{}
	api.Init(cfg.SecretKey, backends)

	return &StripeGateway{api: api, paymentMethod: strings.TrimSpace(cfg.PaymentMethod), log: log}
}

func (g *StripeGateway) RequestPayment(ctx context.Context, req Request) (Result, error) {
	if req.AmountMinor <= 0 {
		return Result{}, fmt.Errorf("invalid amount %d", req.AmountMinor)
	}
	if g.paymentMethod == "" {
		return Result{}, ErrNoPaymentMethod
	}

	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountMinor),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		PaymentMethod: stripe.String(g.paymentMethod),
		Confirm:       stripe.Bool(true),
		Description:   stripe.String(req.Description),
	}
	params.Context = ctx
	params.AddMetadata("user_id", strconv.FormatUint(uint64(req.UserID), 10))
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := g.api.PaymentIntents.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Type == stripe.ErrorTypeCard {
			g.log.Infow("payment declined", "user_id", req.UserID, "code", stripeErr.Code)
			return Result{Succeeded: false}, nil
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if intent.Status != stripe.PaymentIntentStatusSucceeded {
		g.log.Infow("payment not captured", "user_id", req.UserID, "intent", intent.ID, "status", intent.Status)
		return Result{Succeeded: false, Reference: intent.ID}, nil
	}
	return Result{Succeeded: true, Reference: intent.ID}, nil
}

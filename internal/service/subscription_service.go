package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"pickup-bot/internal/config"
	"pickup-bot/internal/logger"
	"pickup-bot/internal/model"
	"pickup-bot/internal/payment"
	"pickup-bot/internal/repository"
)

var (
	ErrUnknownPlan        = errors.New("unknown plan")
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrPaymentUnavailable = errors.New("payment unavailable")
)

// Plan is a purchasable subscription with its price in minor currency units.
type Plan struct {
	ID           string
	Title        string
	PriceMinor   int64
	Currency     string
	DurationDays int
}

// Catalog lists plans cheapest first.
type Catalog struct {
	plans []Plan
	byID  map[string]Plan
}

func NewCatalog(currency string, plans map[string]config.Plan) Catalog {
	c := Catalog{byID: make(map[string]Plan, len(plans))}
	for id, p := range plans {
		plan := Plan{ID: id, Title: p.Title, PriceMinor: p.PriceMinor, Currency: currency, DurationDays: p.DurationDays}
		c.plans = append(c.plans, plan)
		c.byID[id] = plan
	}
	sort.Slice(c.plans, func(i, j int) bool {
		if c.plans[i].PriceMinor != c.plans[j].PriceMinor {
			return c.plans[i].PriceMinor < c.plans[j].PriceMinor
		}
		return c.plans[i].ID < c.plans[j].ID
	})
	return c
}

func (c Catalog) Plans() []Plan {
	return append([]Plan(nil), c.plans...)
}

func (c Catalog) Lookup(id string) (Plan, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// SubscriptionService sells plans: payment first, grant only on success.
type SubscriptionService struct {
	subs    *repository.SubscriptionRepository
	gateway payment.Gateway
	catalog Catalog
	timeout time.Duration
	log     *logger.Logger
}

func NewSubscriptionService(subs *repository.SubscriptionRepository, gateway payment.Gateway, catalog Catalog, timeout time.Duration, log *logger.Logger) *SubscriptionService {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &SubscriptionService{subs: subs, gateway: gateway, catalog: catalog, timeout: timeout, log: logger.OrNop(log)}
}

func (s *SubscriptionService) Catalog() Catalog {
	return s.catalog
}

// Purchase charges the user for planID and records the grant.
func (s *SubscriptionService) Purchase(ctx context.Context, userID uint, planID string) (*model.Subscription, error) {
	plan, ok := s.catalog.Lookup(planID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, planID)
	}

	payCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := uuid.NewString()
	res, err := s.gateway.RequestPayment(payCtx, payment.Request{
		AmountMinor:    plan.PriceMinor,
		Currency:       plan.Currency,
		Description:    "Подписка: " + plan.Title,
		UserID:         userID,
		IdempotencyKey: key,
	})
	if err != nil {
		s.log.Errorw("payment request failed", "user_id", userID, "plan", planID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}
	if !res.Succeeded {
		return nil, ErrPaymentDeclined
	}

	ref := res.Reference
	if ref == "" {
		ref = key
	}
	sub, err := s.subs.Grant(ctx, repository.GrantInput{
		UserID:       userID,
		Plan:         plan.ID,
		PriceMinor:   plan.PriceMinor,
		Currency:     plan.Currency,
		DurationDays: plan.DurationDays,
		PaymentRef:   ref,
	})
	if err != nil {
		// The charge went through; the reference is needed to reconcile by hand.
		s.log.Errorw("grant after payment failed", "user_id", userID, "plan", planID, "payment_ref", ref, "error", err)
		return nil, fmt.Errorf("grant subscription: %w", err)
	}
	s.log.Infow("subscription granted", "user_id", userID, "plan", planID, "expires_at", sub.ExpiresAt)
	return sub, nil
}

// Current returns the user's active subscription or repository.ErrNoSubscription.
func (s *SubscriptionService) Current(ctx context.Context, userID uint) (*model.Subscription, error) {
	return s.subs.Current(ctx, userID)
}

// History returns up to limit grants of the user, newest first.
func (s *SubscriptionService) History(ctx context.Context, userID uint, limit int) ([]model.Subscription, error) {
	subs, err := s.subs.ListForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(subs) > limit {
		subs = subs[:limit]
	}
	return subs, nil
}

// Deactivate revokes a grant; the user loses entitlement if it was their only active one.
func (s *SubscriptionService) Deactivate(ctx context.Context, id uint) error {
	if err := s.subs.Deactivate(ctx, id); err != nil {
		return fmt.Errorf("deactivate subscription %d: %w", id, err)
	}
	s.log.Infow("subscription deactivated", "subscription_id", id)
	return nil
}

// PlanTitle resolves a stored plan id for display.
func (s *SubscriptionService) PlanTitle(id string) string {
	if p, ok := s.catalog.Lookup(id); ok {
		return p.Title
	}
	return id
}

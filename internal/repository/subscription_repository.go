package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pickup-bot/internal/model"
)

var (
	ErrNoSubscription       = errors.New("no active subscription")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrInvalidGrant         = errors.New("invalid subscription grant")
)

// Clock returns the current instant. Repositories store it in UTC.
type Clock func() time.Time

// GrantInput describes a paid entitlement.
type GrantInput struct {
	UserID       uint
	Plan         string
	PriceMinor   int64
	Currency     string
	DurationDays int
	PaymentRef   string
}

// SubscriptionRepository records grants. Rows are only ever appended or deactivated.
type SubscriptionRepository struct {
	db  *gorm.DB
	now Clock
}

func NewSubscriptionRepository(db *gorm.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db, now: time.Now}
}

// WithClock returns a copy that reads time from now.
func (r *SubscriptionRepository) WithClock(now Clock) *SubscriptionRepository {
	cp := *r
	cp.now = now
	return &cp
}

// Grant appends a subscription valid from now for in.DurationDays days.
// A repeated PaymentRef returns the row granted for it the first time.
func (r *SubscriptionRepository) Grant(ctx context.Context, in GrantInput) (*model.Subscription, error) {
	if in.UserID == 0 || strings.TrimSpace(in.Plan) == "" || in.DurationDays <= 0 || in.PriceMinor < 0 {
		return nil, ErrInvalidGrant
	}

	now := r.now().UTC()
	sub := model.Subscription{
		UserID:     in.UserID,
		Plan:       in.Plan,
		PriceMinor: in.PriceMinor,
		Currency:   in.Currency,
		GrantedAt:  now,
		ExpiresAt:  now.AddDate(0, 0, in.DurationDays),
		Active:     true,
		CreatedAt:  now,
	}

	db := r.db.WithContext(ctx)
	ref := strings.TrimSpace(in.PaymentRef)
	if ref == "" {
		if err := db.Omit(clause.Associations).Create(&sub).Error; err != nil {
			return nil, fmt.Errorf("create subscription: %w", err)
		}
		return &sub, nil
	}

	sub.PaymentRef = &ref
	res := db.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "payment_ref"}},
		DoNothing: true,
	}).Create(&sub)
	if res.Error != nil {
		return nil, fmt.Errorf("create subscription: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return &sub, nil
	}

	var existing model.Subscription
	if err := db.Where("payment_ref = ?", ref).First(&existing).Error; err != nil {
		return nil, fmt.Errorf("find subscription by payment ref: %w", err)
	}
	return &existing, nil
}

// IsEntitled reports whether the user holds an active, unexpired grant right now.
func (r *SubscriptionRepository) IsEntitled(ctx context.Context, userID uint) (bool, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.Subscription{}).
		Where("user_id = ? AND active = ? AND expires_at > ?", userID, true, r.now().UTC()).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check entitlement: %w", err)
	}
	return n > 0, nil
}

// Current returns the entitled grant that expires last.
func (r *SubscriptionRepository) Current(ctx context.Context, userID uint) (*model.Subscription, error) {
	var sub model.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND active = ? AND expires_at > ?", userID, true, r.now().UTC()).
		Order("expires_at DESC").
		Order("id DESC").
		First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNoSubscription
	}
	if err != nil {
		return nil, fmt.Errorf("current subscription: %w", err)
	}
	return &sub, nil
}

func (r *SubscriptionRepository) ListForUser(ctx context.Context, userID uint) ([]model.Subscription, error) {
	var subs []model.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("granted_at DESC").
		Order("id DESC").
		Find(&subs).Error; err != nil {
		return nil, fmt.Errorf("list subscriptions: %w", err)
	}
	return subs, nil
}

// Deactivate clears the active flag of a grant.
func (r *SubscriptionRepository) Deactivate(ctx context.Context, id uint) error {
	db := r.db.WithContext(ctx)
	var sub model.Subscription
	err := db.First(&sub, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrSubscriptionNotFound
	}
	if err != nil {
		return fmt.Errorf("find subscription: %w", err)
	}
	if !sub.Active {
		return nil
	}
	if err := db.Model(&model.Subscription{}).Where("id = ?", id).Update("active", false).Error; err != nil {
		return fmt.Errorf("deactivate subscription: %w", err)
	}
	return nil
}

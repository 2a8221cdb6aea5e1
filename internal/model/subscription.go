package model

import "time"

// Subscription is one paid grant. Rows are append-only; superseding grants add new rows.
type Subscription struct {
	ID         uint      `gorm:"primaryKey"`
	UserID     uint      `gorm:"not null;index:idx_subscriptions_user_expiry,priority:1"`
	User       User      `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	Plan       string    `gorm:"size:64;not null"`
	PriceMinor int64     `gorm:"not null"`
	Currency   string    `gorm:"size:3;not null"`
	PaymentRef *string   `gorm:"size:128;uniqueIndex"`
	GrantedAt  time.Time `gorm:"not null"`
	ExpiresAt  time.Time `gorm:"not null;index:idx_subscriptions_user_expiry,priority:2"`
	Active     bool      `gorm:"not null"`
	CreatedAt  time.Time
}

// EntitledAt reports whether the grant covers the given instant.
func (s Subscription) EntitledAt(now time.Time) bool {
	return s.Active && s.ExpiresAt.After(now)
}

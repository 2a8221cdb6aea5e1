package model

import "time"

type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderFulfilled OrderStatus = "fulfilled"
	OrderCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderFulfilled || s == OrderCancelled
}

// Order is a single pickup request.
type Order struct {
	ID        uint        `gorm:"primaryKey"`
	UserID    uint        `gorm:"not null;index:idx_orders_user_created,priority:1"`
	User      User        `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;" json:"-"`
	CreatedAt time.Time   `gorm:"not null;index:idx_orders_user_created,priority:2"`
	Slot      string      `gorm:"size:64;not null"`
	Address   string      `gorm:"type:text;not null"`
	Comment   string      `gorm:"type:text"`
	Status    OrderStatus `gorm:"size:16;not null;index"`
	UpdatedAt time.Time
}

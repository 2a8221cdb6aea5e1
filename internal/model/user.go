package model

import "time"

// User stores the Telegram identity behind every subscription and order.
type User struct {
	ID          uint   `gorm:"primaryKey"`
	ExternalID  int64  `gorm:"uniqueIndex;not null"`
	DisplayName string `gorm:"size:255"`
	Username    string `gorm:"size:64"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

package notify

import (
	"context"
	"errors"
	"time"

	"pickup-bot/internal/model"
)

type Event string

const (
	EventOrderCreated       Event = "order.created"
	EventOrderStatusChanged Event = "order.status_changed"
)

// OrderNotice is what downstream consumers learn about an order.
type OrderNotice struct {
	Event           Event     `json:"event"`
	OrderID         uint      `json:"order_id"`
	UserID          uint      `json:"user_id"`
	UserDisplayName string    `json:"user_display_name"`
	UserExternalID  int64     `json:"user_external_id"`
	Username        string    `json:"username,omitempty"`
	Address         string    `json:"address"`
	Comment         string    `json:"comment,omitempty"`
	Slot            string    `json:"slot"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
}

// Notifier delivers order notices. Implementations must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, notice OrderNotice) error
}

// NoticeFor builds a notice from a stored order and its owner.
func NoticeFor(event Event, order model.Order, user model.User) OrderNotice {
	return OrderNotice{
		Event:           event,
		OrderID:         order.ID,
		UserID:          user.ID,
		UserDisplayName: user.DisplayName,
		UserExternalID:  user.ExternalID,
		Username:        user.Username,
		Address:         order.Address,
		Comment:         order.Comment,
		Slot:            order.Slot,
		Status:          string(order.Status),
		CreatedAt:       order.CreatedAt,
	}
}

// Multi fans a notice out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, notice OrderNotice) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, notice); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop drops every notice.
type Nop struct{}

func (Nop) Notify(context.Context, OrderNotice) error { return nil }

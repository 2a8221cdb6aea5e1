package service

import (
	"context"
	"fmt"

	"pickup-bot/internal/logger"
	"pickup-bot/internal/model"
	"pickup-bot/internal/notify"
	"pickup-bot/internal/repository"
)

// OrderService backs the operator surfaces: pending queue and status changes.
type OrderService struct {
	orders   *repository.OrderRepository
	notifier notify.Notifier
	log      *logger.Logger
}

func NewOrderService(orders *repository.OrderRepository, notifier notify.Notifier, log *logger.Logger) *OrderService {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &OrderService{orders: orders, notifier: notifier, log: logger.OrNop(log)}
}

func (s *OrderService) Pending(ctx context.Context, limit int) ([]model.Order, error) {
	return s.orders.ListPending(ctx, limit)
}

// Complete marks a pending order fulfilled.
func (s *OrderService) Complete(ctx context.Context, id uint) (*model.Order, error) {
	return s.SetStatus(ctx, id, model.OrderFulfilled)
}

// Reject cancels a pending order.
func (s *OrderService) Reject(ctx context.Context, id uint) (*model.Order, error) {
	return s.SetStatus(ctx, id, model.OrderCancelled)
}

// SetStatus applies a terminal status and tells the customer about it.
// Notification failures are logged; the transition itself stands.
func (s *OrderService) SetStatus(ctx context.Context, id uint, status model.OrderStatus) (*model.Order, error) {
	order, err := s.orders.SetStatus(ctx, id, status)
	if err != nil {
		return nil, fmt.Errorf("set order %d status: %w", id, err)
	}
	s.log.Infow("order status changed", "order_id", order.ID, "status", order.Status)

	notice := notify.NoticeFor(notify.EventOrderStatusChanged, *order, order.User)
	if err := s.notifier.Notify(ctx, notice); err != nil {
		s.log.Warnw("status notification failed", "order_id", order.ID, "error", err)
	}
	return order, nil
}

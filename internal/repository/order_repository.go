package repository

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pickup-bot/internal/model"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrOrderNotPending = errors.New("order is not pending")
	ErrInvalidOrder    = errors.New("invalid order")
	ErrInvalidStatus   = errors.New("invalid order status")
)

const orderPageSize = 50

// OrderInput carries the fields collected by the conversation.
type OrderInput struct {
	Address string
	Comment string
	Slot    string
}

// OrderRepository persists pickup orders.
type OrderRepository struct {
	db       *gorm.DB
	now      Clock
	pageSize int
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db, now: time.Now, pageSize: orderPageSize}
}

// WithClock returns a copy that reads time from now.
func (r *OrderRepository) WithClock(now Clock) *OrderRepository {
	cp := *r
	cp.now = now
	return &cp
}

// Create inserts a pending order. Entitlement is the caller's concern.
func (r *OrderRepository) Create(ctx context.Context, userID uint, in OrderInput) (*model.Order, error) {
	if userID == 0 || strings.TrimSpace(in.Address) == "" || strings.TrimSpace(in.Slot) == "" {
		return nil, ErrInvalidOrder
	}
	now := r.now().UTC()
	order := model.Order{
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
		Slot:      in.Slot,
		Address:   in.Address,
		Comment:   in.Comment,
		Status:    model.OrderPending,
	}
	if err := r.db.WithContext(ctx).Omit(clause.Associations).Create(&order).Error; err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	return &order, nil
}

// ListForUser yields the user's orders newest first, at most limit of them
// (no cap when limit <= 0). Pages are fetched lazily by (created_at, id), and
// every range over the sequence starts a fresh query.
func (r *OrderRepository) ListForUser(ctx context.Context, userID uint, limit int) iter.Seq2[model.Order, error] {
	return func(yield func(model.Order, error) bool) {
		var (
			cursor  *model.Order
			emitted int
		)
		for {
			size := r.pageSize
			if limit > 0 && limit-emitted < size {
				size = limit - emitted
			}
			if size <= 0 {
				return
			}

			q := r.db.WithContext(ctx).Where("user_id = ?", userID)
			if cursor != nil {
				q = q.Where("(created_at < ? OR (created_at = ? AND id < ?))", cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
			}
			var page []model.Order
			if err := q.Order("created_at DESC").Order("id DESC").Limit(size).Find(&page).Error; err != nil {
				yield(model.Order{}, fmt.Errorf("list orders: %w", err))
				return
			}

			for _, o := range page {
				if !yield(o, nil) {
					return
				}
				emitted++
			}
			if len(page) < size {
				return
			}
			last := page[len(page)-1]
			cursor = &last
		}
	}
}

// Recent collects up to limit orders of the user, newest first.
func (r *OrderRepository) Recent(ctx context.Context, userID uint, limit int) ([]model.Order, error) {
	var orders []model.Order
	for o, err := range r.ListForUser(ctx, userID, limit) {
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, nil
}

func (r *OrderRepository) FindByID(ctx context.Context, id uint) (*model.Order, error) {
	var order model.Order
	err := r.db.WithContext(ctx).Preload("User").First(&order, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find order: %w", err)
	}
	return &order, nil
}

// ListPending returns pending orders, oldest first.
func (r *OrderRepository) ListPending(ctx context.Context, limit int) ([]model.Order, error) {
	q := r.db.WithContext(ctx).Preload("User").
		Where("status = ?", model.OrderPending).
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var orders []model.Order
	if err := q.Find(&orders).Error; err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	return orders, nil
}

// SetStatus moves a pending order into a terminal status.
func (r *OrderRepository) SetStatus(ctx context.Context, id uint, status model.OrderStatus) (*model.Order, error) {
	if !status.Terminal() {
		return nil, ErrInvalidStatus
	}
	db := r.db.WithContext(ctx)
	res := db.Model(&model.Order{}).
		Where("id = ? AND status = ?", id, model.OrderPending).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": r.now().UTC(),
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update order status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := r.FindByID(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrOrderNotPending
	}
	return r.FindByID(ctx, id)
}

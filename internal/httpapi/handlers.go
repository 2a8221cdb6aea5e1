package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"pickup-bot/internal/model"
	"pickup-bot/internal/repository"
	"pickup-bot/internal/service"
)

const (
	defaultPendingLimit = 50
	maxPendingLimit     = 200
)

type handler struct {
	orders *service.OrderService
	digest *service.DigestService
	subs   *service.SubscriptionService
	users  *repository.UserRepository
}

type orderView struct {
	ID              uint      `json:"id"`
	UserID          uint      `json:"user_id"`
	UserExternalID  int64     `json:"user_external_id,omitempty"`
	UserDisplayName string    `json:"user_display_name,omitempty"`
	Username        string    `json:"username,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Slot            string    `json:"slot"`
	Address         string    `json:"address"`
	Comment         string    `json:"comment,omitempty"`
	Status          string    `json:"status"`
}

func newOrderView(o model.Order) orderView {
	return orderView{
		ID:              o.ID,
		UserID:          o.UserID,
		UserExternalID:  o.User.ExternalID,
		UserDisplayName: o.User.DisplayName,
		Username:        o.User.Username,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		Slot:            o.Slot,
		Address:         o.Address,
		Comment:         o.Comment,
		Status:          string(o.Status),
	}
}

type subscriptionView struct {
	ID         uint      `json:"id"`
	Plan       string    `json:"plan"`
	PriceMinor int64     `json:"price_minor"`
	Currency   string    `json:"currency"`
	GrantedAt  time.Time `json:"granted_at"`
	ExpiresAt  time.Time `json:"expires_at"`
	Active     bool      `json:"active"`
	Entitled   bool      `json:"entitled"`
}

type setStatusReq struct {
	Status string `json:"status" binding:"required,oneof=fulfilled cancelled"`
}

func (h *handler) ping(c *gin.Context) {
	ok(c, gin.H{"pong": true})
}

func (h *handler) pendingOrders(c *gin.Context) {
	limit := defaultPendingLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxPendingLimit {
			fail(c, http.StatusBadRequest, codeInvalidRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	orders, err := h.orders.Pending(c.Request.Context(), limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, codeInternal, "failed to list orders")
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, newOrderView(o))
	}
	ok(c, gin.H{"orders": views})
}

func (h *handler) setOrderStatus(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		fail(c, http.StatusBadRequest, codeInvalidID, "invalid order id")
		return
	}
	var req setStatusReq
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, codeInvalidRequest, "status must be fulfilled or cancelled")
		return
	}

	order, err := h.orders.SetStatus(c.Request.Context(), id, model.OrderStatus(req.Status))
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		fail(c, http.StatusNotFound, codeOrderNotFound, "order not found")
		return
	case errors.Is(err, repository.ErrOrderNotPending):
		fail(c, http.StatusConflict, codeOrderClosed, "order is not pending")
		return
	case err != nil:
		fail(c, http.StatusInternalServerError, codeInternal, "failed to update order")
		return
	}
	ok(c, newOrderView(*order))
}

func (h *handler) pendingDigest(c *gin.Context) {
	text, err := h.digest.PendingSummary(c.Request.Context(), time.Now())
	if err != nil {
		fail(c, http.StatusInternalServerError, codeInternal, "failed to build digest")
		return
	}
	ok(c, gin.H{"text": text})
}

func (h *handler) userSubscriptions(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		fail(c, http.StatusBadRequest, codeInvalidID, "invalid user id")
		return
	}
	user, err := h.users.FindByID(c.Request.Context(), id)
	if errors.Is(err, repository.ErrUserNotFound) {
		fail(c, http.StatusNotFound, codeUserNotFound, "user not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, codeInternal, "failed to load user")
		return
	}

	subs, err := h.subs.History(c.Request.Context(), user.ID, 0)
	if err != nil {
		fail(c, http.StatusInternalServerError, codeInternal, "failed to list subscriptions")
		return
	}
	now := time.Now()
	views := make([]subscriptionView, 0, len(subs))
	for _, s := range subs {
		views = append(views, subscriptionView{
			ID:         s.ID,
			Plan:       s.Plan,
			PriceMinor: s.PriceMinor,
			Currency:   s.Currency,
			GrantedAt:  s.GrantedAt,
			ExpiresAt:  s.ExpiresAt,
			Active:     s.Active,
			Entitled:   s.EntitledAt(now),
		})
	}
	ok(c, gin.H{"user_id": user.ID, "external_id": user.ExternalID, "subscriptions": views})
}

func (h *handler) deactivateSubscription(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		fail(c, http.StatusBadRequest, codeInvalidID, "invalid subscription id")
		return
	}
	err := h.subs.Deactivate(c.Request.Context(), id)
	if errors.Is(err, repository.ErrSubscriptionNotFound) {
		fail(c, http.StatusNotFound, codeSubscriptionNotFound, "subscription not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, codeInternal, "failed to deactivate subscription")
		return
	}
	ok(c, gin.H{"id": id, "active": false})
}

func pathID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

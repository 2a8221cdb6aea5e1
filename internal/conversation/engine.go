package conversation

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"pickup-bot/internal/logger"
	"pickup-bot/internal/model"
	"pickup-bot/internal/notify"
	"pickup-bot/internal/repository"
)

// MaxFieldRunes bounds address and comment length.
const MaxFieldRunes = 512

// Entitlements answers whether a user may start an order.
type Entitlements interface {
	IsEntitled(ctx context.Context, userID uint) (bool, error)
}

// Orders commits confirmed drafts.
type Orders interface {
	Create(ctx context.Context, userID uint, in repository.OrderInput) (*model.Order, error)
}

// SlotAssigner picks the pickup window for a moment in time.
type SlotAssigner interface {
	Assign(now time.Time) string
}

// Locker serializes one user's transitions across processes sharing a Store.
type Locker interface {
	Lock(ctx context.Context, userID uint) (unlock func(), err error)
}

// Engine drives the order form. Transitions for one user never overlap.
type Engine struct {
	subs     Entitlements
	orders   Orders
	slots    SlotAssigner
	notifier notify.Notifier
	store    Store
	locks    *keyedMutex
	locker   Locker
	idle     time.Duration
	now      func() time.Time
	log      *logger.Logger
}

type Option func(*Engine)

// WithIdleTimeout silently drops sessions untouched for d. Zero disables expiry.
func WithIdleTimeout(d time.Duration) Option {
	return func(e *Engine) { e.idle = d }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithStore(s Store) Option {
	return func(e *Engine) { e.store = s }
}

// WithLocker adds a cross-process lock around each transition, on top of the in-process one.
func WithLocker(l Locker) Option {
	return func(e *Engine) { e.locker = l }
}

func WithLogger(l *logger.Logger) Option {
	return func(e *Engine) { e.log = logger.OrNop(l) }
}

func NewEngine(subs Entitlements, orders Orders, slots SlotAssigner, notifier notify.Notifier, opts ...Option) *Engine {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	e := &Engine{
		subs:     subs,
		orders:   orders,
		slots:    slots,
		notifier: notifier,
		store:    NewMemoryStore(),
		locks:    newKeyedMutex(),
		now:      time.Now,
		log:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle applies one event and reports the outcome. It never fails; errors become replies.
func (e *Engine) Handle(ctx context.Context, ev Event) Reply {
	unlock := e.locks.Lock(ev.UserID)
	defer unlock()

	if e.locker != nil {
		release, err := e.locker.Lock(ctx, ev.UserID)
		if err != nil {
			e.log.Errorw("acquire session lock", "user_id", ev.UserID, "error", err)
			return Reply{Kind: ReplyFailure, State: StateIdle}
		}
		defer release()
	}

	at := ev.At
	if at.IsZero() {
		at = e.now()
	}

	sess, ok, err := e.load(ctx, ev.UserID, at)
	if err != nil {
		e.log.Errorw("load session", "user_id", ev.UserID, "error", err)
		return Reply{Kind: ReplyFailure, State: StateIdle}
	}
	if !ok {
		return e.handleIdle(ctx, ev, at)
	}

	if ev.Input == InputCancel {
		if err := e.store.Delete(ctx, ev.UserID); err != nil {
			e.log.Errorw("delete session", "user_id", ev.UserID, "error", err)
			return Reply{Kind: ReplyFailure, State: sess.State, Draft: sess.Draft}
		}
		return Reply{Kind: ReplyCancelled, State: StateIdle}
	}

	switch sess.State {
	case StateAwaitingAddress:
		if ev.Input != InputText {
			return reprompt(sess)
		}
		addr, valid := normalizeAddress(ev.Text)
		if !valid {
			return Reply{Kind: ReplyInvalidAddress, State: sess.State, Draft: sess.Draft}
		}
		next := sess
		next.Draft.Address = addr
		next.State = StateAwaitingComment
		return e.advance(ctx, sess, next, at, ReplyAskComment)

	case StateAwaitingComment:
		if ev.Input != InputText {
			return reprompt(sess)
		}
		comment, valid := normalizeComment(ev.Text)
		if !valid {
			return Reply{Kind: ReplyInvalidComment, State: sess.State, Draft: sess.Draft}
		}
		next := sess
		next.Draft.Comment = comment
		next.Draft.Slot = e.slots.Assign(at)
		next.Draft.SlotAssignedAt = at
		next.State = StateAwaitingConfirmation
		return e.advance(ctx, sess, next, at, ReplySummary)

	case StateAwaitingConfirmation:
		if ev.Input != InputConfirm {
			return reprompt(sess)
		}
		return e.confirm(ctx, ev, sess)
	}

	e.log.Warnw("dropping session in unexpected state", "user_id", ev.UserID, "state", sess.State)
	_ = e.store.Delete(ctx, ev.UserID)
	return Reply{Kind: ReplyUnknownInput, State: StateIdle}
}

func (e *Engine) handleIdle(ctx context.Context, ev Event, at time.Time) Reply {
	if ev.Input != InputStartOrder {
		return Reply{Kind: ReplyUnknownInput, State: StateIdle}
	}

	entitled, err := e.subs.IsEntitled(ctx, ev.UserID)
	if err != nil {
		e.log.Errorw("check entitlement", "user_id", ev.UserID, "error", err)
		return Reply{Kind: ReplyFailure, State: StateIdle}
	}
	if !entitled {
		return Reply{Kind: ReplyNoSubscription, State: StateIdle}
	}

	sess := Session{
		UserID:    ev.UserID,
		State:     StateAwaitingAddress,
		StartedAt: at,
		UpdatedAt: at,
	}
	if err := e.store.Save(ctx, sess); err != nil {
		e.log.Errorw("save session", "user_id", ev.UserID, "error", err)
		return Reply{Kind: ReplyFailure, State: StateIdle}
	}
	return Reply{Kind: ReplyAskAddress, State: StateAwaitingAddress}
}

func (e *Engine) advance(ctx context.Context, prev, next Session, at time.Time, kind ReplyKind) Reply {
	next.UpdatedAt = at
	if err := e.store.Save(ctx, next); err != nil {
		e.log.Errorw("save session", "user_id", next.UserID, "error", err)
		return Reply{Kind: ReplyFailure, State: prev.State, Draft: prev.Draft}
	}
	return Reply{Kind: kind, State: next.State, Draft: next.Draft}
}

func (e *Engine) confirm(ctx context.Context, ev Event, sess Session) Reply {
	order, err := e.orders.Create(ctx, sess.UserID, repository.OrderInput{
		Address: sess.Draft.Address,
		Comment: sess.Draft.Comment,
		Slot:    sess.Draft.Slot,
	})
	if err != nil {
		e.log.Errorw("create order", "user_id", sess.UserID, "error", err)
		return Reply{Kind: ReplyFailure, State: sess.State, Draft: sess.Draft}
	}

	if err := e.store.Delete(ctx, sess.UserID); err != nil {
		e.log.Errorw("delete session after order", "user_id", sess.UserID, "order_id", order.ID, "error", err)
	}
	e.log.Infow("order created", "user_id", sess.UserID, "order_id", order.ID, "slot", order.Slot)

	user := model.User{ID: ev.UserID, ExternalID: ev.ExternalID, DisplayName: ev.DisplayName, Username: ev.Username}
	if err := e.notifier.Notify(ctx, notify.NoticeFor(notify.EventOrderCreated, *order, user)); err != nil {
		e.log.Errorw("notify operator", "order_id", order.ID, "error", err)
	}
	return Reply{Kind: ReplyOrderCreated, State: StateIdle, Draft: sess.Draft, Order: order}
}

// load returns the live session for userID, discarding it when idle too long.
func (e *Engine) load(ctx context.Context, userID uint, at time.Time) (Session, bool, error) {
	sess, ok, err := e.store.Load(ctx, userID)
	if err != nil || !ok {
		return Session{}, false, err
	}
	if e.idle > 0 && at.Sub(sess.UpdatedAt) >= e.idle {
		if err := e.store.Delete(ctx, userID); err != nil {
			return Session{}, false, err
		}
		e.log.Debugw("session expired", "user_id", userID, "state", sess.State)
		return Session{}, false, nil
	}
	return sess, true, nil
}

// State reports where the user currently is in the form.
func (e *Engine) State(ctx context.Context, userID uint) (State, error) {
	unlock := e.locks.Lock(userID)
	defer unlock()

	sess, ok, err := e.load(ctx, userID, e.now())
	if err != nil {
		return StateIdle, err
	}
	if !ok {
		return StateIdle, nil
	}
	return sess.State, nil
}

// Sweep drops sessions idle longer than the timeout.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	if e.idle <= 0 {
		return 0, nil
	}
	n, err := e.store.Sweep(ctx, e.now().Add(-e.idle))
	if n > 0 {
		e.log.Infow("expired sessions swept", "count", n)
	}
	return n, err
}

func reprompt(sess Session) Reply {
	kind := ReplyUnknownInput
	switch sess.State {
	case StateAwaitingAddress:
		kind = ReplyAskAddress
	case StateAwaitingComment:
		kind = ReplyAskComment
	case StateAwaitingConfirmation:
		kind = ReplySummary
	}
	return Reply{Kind: kind, State: sess.State, Draft: sess.Draft}
}

func normalizeAddress(text string) (string, bool) {
	addr := strings.TrimSpace(text)
	if addr == "" || utf8.RuneCountInString(addr) > MaxFieldRunes {
		return "", false
	}
	return addr, true
}

var noCommentWords = map[string]struct{}{
	"no":   {},
	"none": {},
	"нет":  {},
	"-":    {},
	"skip": {},
}

func normalizeComment(text string) (string, bool) {
	comment := strings.TrimSpace(text)
	if utf8.RuneCountInString(comment) > MaxFieldRunes {
		return "", false
	}
	if _, ok := noCommentWords[strings.ToLower(comment)]; ok {
		return "", true
	}
	return comment, true
}

package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pickup-bot/internal/config"
	"pickup-bot/internal/conversation"
	"pickup-bot/internal/logger"
	"pickup-bot/internal/model"
	"pickup-bot/internal/repository"
	"pickup-bot/internal/service"
)

const (
	recentOrdersLimit        = 5
	subscriptionHistoryLimit = 5
)

// Sender is the part of the Telegram API the bot writes through.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Deps are the services behind the chat surface.
type Deps struct {
	Users         *repository.UserRepository
	Engine        *conversation.Engine
	Subscriptions *service.SubscriptionService
	Orders        *repository.OrderRepository
	OrderService  *service.OrderService
	Digest        *service.DigestService
}

// Bot routes Telegram updates to the conversation engine and the account screens.
type Bot struct {
	api        *tgbotapi.BotAPI
	out        Sender
	deps       Deps
	config     *config.Config
	loc        *time.Location
	log        *logger.Logger
	purchasing map[int64]bool
	mu         sync.Mutex
}

// NewAPI authorizes against Telegram.
func NewAPI(token string, debug bool, log *logger.Logger) (*tgbotapi.BotAPI, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create bot api: %w", err)
	}
	api.Debug = debug
	logger.OrNop(log).Infow("bot authorized", "account", api.Self.UserName)
	return api, nil
}

func New(api *tgbotapi.BotAPI, out Sender, deps Deps, cfg *config.Config, log *logger.Logger) (*Bot, error) {
	loc, err := cfg.Slots.Location()
	if err != nil {
		return nil, fmt.Errorf("slots timezone: %w", err)
	}
	if out == nil {
		out = api
	}
	return &Bot{
		api:        api,
		out:        out,
		deps:       deps,
		config:     cfg,
		loc:        loc,
		log:        logger.OrNop(log),
		purchasing: make(map[int64]bool),
	}, nil
}

// Start polls updates until ctx is cancelled.
func (b *Bot) Start(ctx context.Context) error {
	updateConfig := tgbotapi.NewUpdate(0)
	updateConfig.Timeout = 60
	updates := b.api.GetUpdatesChan(updateConfig)

	b.log.Info("start polling updates")

	go func() {
		<-ctx.Done()
		b.api.StopReceivingUpdates()
	}()

	b.serve(ctx, updates)
	return ctx.Err()
}

// serve handles updates until the channel is closed. Each sender's updates are
// handled one at a time in arrival order; different senders proceed in parallel.
func (b *Bot) serve(ctx context.Context, updates <-chan tgbotapi.Update) {
	queue := newUpdateQueue(func(update tgbotapi.Update) {
		b.handleUpdate(ctx, update)
	})
	for update := range updates {
		queue.Push(update)
	}
	queue.Wait()
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("recovered from panic while processing update", "update_id", update.UpdateID, "panic", r)
		}
	}()

	var err error
	switch {
	case update.CallbackQuery != nil:
		err = b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		err = b.handleMessage(ctx, update.Message)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		b.log.Errorw("handle update", "update_id", update.UpdateID, "error", err)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) error {
	if msg.From == nil || msg.Chat == nil {
		return nil
	}

	if msg.Chat.ID == b.config.Operator.ChatID && msg.IsCommand() {
		if handled, err := b.handleOperatorCommand(ctx, msg); handled {
			return err
		}
	}
	if !msg.Chat.IsPrivate() {
		return nil
	}

	user, err := b.ensureUser(ctx, msg.From)
	if err != nil {
		_ = b.sendText(msg.Chat.ID, "⚠️ Сервис временно недоступен. Попробуйте позже.")
		return err
	}

	if msg.IsCommand() {
		b.log.Infow("command", "user_id", user.ID, "command", msg.Command())
		return b.handleCommand(ctx, msg, user)
	}

	switch strings.TrimSpace(msg.Text) {
	case menuLabelPlans:
		return b.sendPlans(msg.Chat.ID)
	case menuLabelSubscription:
		return b.sendSubscription(ctx, msg.Chat.ID, user)
	case menuLabelOrders:
		return b.sendOrders(ctx, msg.Chat.ID, user)
	}

	ev, _ := classifyText(msg.Text)
	return b.dispatch(ctx, msg.Chat.ID, msg.From, user, ev, msg.Time())
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *model.User) error {
	switch msg.Command() {
	case "start", "menu":
		return b.sendWithReplyMarkup(msg.Chat.ID, welcomeText(strings.TrimSpace(msg.From.FirstName), b.config.Slots), mainMenuKeyboard())
	case "help":
		return b.sendText(msg.Chat.ID, helpText)
	case "order":
		return b.dispatch(ctx, msg.Chat.ID, msg.From, user, conversation.Event{Input: conversation.InputStartOrder}, msg.Time())
	case "cancel":
		return b.dispatch(ctx, msg.Chat.ID, msg.From, user, conversation.Event{Input: conversation.InputCancel}, msg.Time())
	case "plans":
		return b.sendPlans(msg.Chat.ID)
	case "subscription":
		return b.sendSubscription(ctx, msg.Chat.ID, user)
	case "orders":
		return b.sendOrders(ctx, msg.Chat.ID, user)
	default:
		return b.sendText(msg.Chat.ID, "Команда не поддерживается. Загляните в /help.")
	}
}

func (b *Bot) dispatch(ctx context.Context, chatID int64, from *tgbotapi.User, user *model.User, ev conversation.Event, at time.Time) error {
	ev.UserID = user.ID
	ev.ExternalID = user.ExternalID
	ev.DisplayName = displayName(from)
	ev.Username = from.UserName
	ev.At = at

	reply := b.deps.Engine.Handle(ctx, ev)
	b.log.Debugw("conversation step", "user_id", user.ID, "input", ev.Input, "reply", reply.Kind, "state", reply.State)

	_, err := b.out.Send(renderReply(chatID, reply, b.loc))
	return err
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) error {
	if cb == nil || cb.From == nil || cb.Message == nil || cb.Message.Chat == nil {
		return nil
	}
	if _, err := b.out.Request(tgbotapi.NewCallback(cb.ID, "")); err != nil {
		b.log.Warnw("callback ack", "error", err)
	}

	data := cb.Data
	chatID := cb.Message.Chat.ID

	if strings.HasPrefix(data, cbOperatorDone) || strings.HasPrefix(data, cbOperatorReject) {
		if chatID != b.config.Operator.ChatID {
			return nil
		}
		return b.handleOperatorCallback(ctx, chatID, data)
	}

	user, err := b.ensureUser(ctx, cb.From)
	if err != nil {
		return err
	}
	now := time.Now()

	switch {
	case data == cbOrderConfirm:
		return b.dispatch(ctx, chatID, cb.From, user, conversation.Event{Input: conversation.InputConfirm}, now)
	case data == cbOrderCancel:
		return b.dispatch(ctx, chatID, cb.From, user, conversation.Event{Input: conversation.InputCancel}, now)
	case data == cbMenuPrefix+menuOrder:
		return b.dispatch(ctx, chatID, cb.From, user, conversation.Event{Input: conversation.InputStartOrder}, now)
	case data == cbMenuPrefix+menuPlans:
		return b.sendPlans(chatID)
	case data == cbMenuPrefix+menuSubscription:
		return b.sendSubscription(ctx, chatID, user)
	case data == cbMenuPrefix+menuOrders:
		return b.sendOrders(ctx, chatID, user)
	case strings.HasPrefix(data, cbPlanPrefix):
		return b.purchase(ctx, chatID, user, strings.TrimPrefix(data, cbPlanPrefix))
	default:
		return nil
	}
}

func (b *Bot) sendPlans(chatID int64) error {
	plans := b.deps.Subscriptions.Catalog().Plans()
	if len(plans) == 0 {
		return b.sendText(chatID, "Тарифы пока не настроены.")
	}
	return b.sendWithReplyMarkup(chatID, "💳 <b>Выберите тариф подписки:</b>", plansKeyboard(plans))
}

// purchase charges for a plan. A second tap while the first payment runs is ignored.
func (b *Bot) purchase(ctx context.Context, chatID int64, user *model.User, planID string) error {
	if !b.beginPurchase(user.ExternalID) {
		return b.sendText(chatID, "⏳ Оплата уже обрабатывается.")
	}
	defer b.endPurchase(user.ExternalID)

	sub, err := b.deps.Subscriptions.Purchase(ctx, user.ID, planID)
	switch {
	case err == nil:
		text := fmt.Sprintf("✅ Подписка «%s» оформлена!\nДействует до %s.",
			escape(b.deps.Subscriptions.PlanTitle(sub.Plan)),
			sub.ExpiresAt.In(b.loc).Format("02.01.2006 15:04"))
		return b.sendWithReplyMarkup(chatID, text, mainMenuKeyboard())
	case errors.Is(err, service.ErrUnknownPlan):
		return b.sendText(chatID, "Такого тарифа нет. Выберите тариф из списка: /plans")
	case errors.Is(err, service.ErrPaymentDeclined):
		return b.sendWithReplyMarkup(chatID, "❌ Оплата отклонена. Подписка не оформлена.", plansKeyboard(b.deps.Subscriptions.Catalog().Plans()))
	case errors.Is(err, service.ErrPaymentUnavailable):
		return b.sendText(chatID, "⚠️ Платёжный сервис недоступен. Попробуйте позже.")
	default:
		_ = b.sendText(chatID, "⚠️ Оплата прошла, но подписку не удалось сохранить. Мы уже разбираемся.")
		return err
	}
}

func (b *Bot) sendSubscription(ctx context.Context, chatID int64, user *model.User) error {
	current, err := b.deps.Subscriptions.Current(ctx, user.ID)
	if err != nil && !errors.Is(err, repository.ErrNoSubscription) {
		_ = b.sendText(chatID, "⚠️ Не удалось получить подписку. Попробуйте позже.")
		return err
	}
	history, err := b.deps.Subscriptions.History(ctx, user.ID, subscriptionHistoryLimit)
	if err != nil {
		_ = b.sendText(chatID, "⚠️ Не удалось получить подписку. Попробуйте позже.")
		return err
	}

	text := formatSubscription(current, history, b.deps.Subscriptions.PlanTitle, time.Now(), b.loc)
	if current == nil {
		return b.sendWithReplyMarkup(chatID, text, buyKeyboard())
	}
	return b.sendText(chatID, text)
}

func (b *Bot) sendOrders(ctx context.Context, chatID int64, user *model.User) error {
	orders, err := b.deps.Orders.Recent(ctx, user.ID, recentOrdersLimit)
	if err != nil {
		_ = b.sendText(chatID, "⚠️ Не удалось получить заказы. Попробуйте позже.")
		return err
	}
	return b.sendText(chatID, formatOrders(orders, b.loc))
}

func (b *Bot) ensureUser(ctx context.Context, from *tgbotapi.User) (*model.User, error) {
	return b.deps.Users.Resolve(ctx, from.ID, displayName(from), from.UserName)
}

func (b *Bot) beginPurchase(externalID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.purchasing[externalID] {
		return false
	}
	b.purchasing[externalID] = true
	return true
}

func (b *Bot) endPurchase(externalID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.purchasing, externalID)
}

func (b *Bot) sendText(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	_, err := b.out.Send(msg)
	return err
}

func (b *Bot) sendWithReplyMarkup(chatID int64, text string, markup interface{}) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	_, err := b.out.Send(msg)
	return err
}

func parseOrderID(s string) (uint, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 10, 64)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("invalid order id %q", s)
	}
	return uint(id), nil
}

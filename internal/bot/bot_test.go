package bot

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pickup-bot/internal/config"
	"pickup-bot/internal/conversation"
	"pickup-bot/internal/model"
	"pickup-bot/internal/notify"
	"pickup-bot/internal/payment"
	"pickup-bot/internal/repository"
	"pickup-bot/internal/service"
)

const operatorChatID int64 = -1001

type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last() tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return tgbotapi.MessageConfig{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeSender) to(chatID int64) []tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, m := range f.sent {
		if m.ChatID == chatID {
			out = append(out, m)
		}
	}
	return out
}

type testEnv struct {
	bot    *Bot
	out    *fakeSender
	db     *gorm.DB
	subs   *repository.SubscriptionRepository
	orders *repository.OrderRepository
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := repository.NewDB(repository.Options{Driver: repository.DriverSQLite, DSN: filepath.Join(t.TempDir(), "pickup.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Operator: config.OperatorConfig{ChatID: operatorChatID},
		Slots:    config.SlotsConfig{MorningCutoffHour: 10, MorningLabel: "10:00 - 14:00", EveningLabel: "18:00 - 20:00", Timezone: "UTC"},
		Plans: map[string]config.Plan{
			"1_day":   {Title: "1 день", PriceMinor: 10000, DurationDays: 1},
			"1_month": {Title: "1 месяц", PriceMinor: 100000, DurationDays: 30},
		},
		Payment: config.PaymentConfig{Provider: "demo", Currency: "RUB", Timeout: time.Second},
	}

	out := &fakeSender{}
	users := repository.NewUserRepository(db, nil)
	subs := repository.NewSubscriptionRepository(db)
	orders := repository.NewOrderRepository(db)
	notifier := NewOperatorNotifier(out, operatorChatID, time.UTC, nil)
	engine := conversation.NewEngine(subs, orders, service.NewSlotPolicy(10, cfg.Slots.MorningLabel, cfg.Slots.EveningLabel, time.UTC), notifier)

	deps := Deps{
		Users:         users,
		Engine:        engine,
		Subscriptions: service.NewSubscriptionService(subs, payment.NewDemoGateway(), service.NewCatalog("RUB", cfg.Plans), time.Second, nil),
		Orders:        orders,
		OrderService:  service.NewOrderService(orders, notifier, nil),
		Digest:        service.NewDigestService(orders, time.UTC),
	}
	b, err := New(nil, out, deps, cfg, nil)
	require.NoError(t, err)

	return &testEnv{bot: b, out: out, db: db, subs: subs, orders: orders}
}

var testUser = &tgbotapi.User{ID: 5001, FirstName: "Anna", UserName: "anna"}

func privateMessage(text string) tgbotapi.Update {
	msg := &tgbotapi.Message{
		MessageID: 1,
		From:      testUser,
		Chat:      &tgbotapi.Chat{ID: testUser.ID, Type: "private"},
		Date:      int(time.Now().Unix()),
		Text:      text,
	}
	if strings.HasPrefix(text, "/") {
		cmd := strings.SplitN(text, " ", 2)[0]
		msg.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}}
	}
	return tgbotapi.Update{UpdateID: 1, Message: msg}
}

func operatorMessage(text string) tgbotapi.Update {
	u := privateMessage(text)
	u.Message.From = &tgbotapi.User{ID: 9, FirstName: "Op"}
	u.Message.Chat = &tgbotapi.Chat{ID: operatorChatID, Type: "supergroup"}
	return u
}

func callback(chatID int64, data string) tgbotapi.Update {
	return tgbotapi.Update{UpdateID: 2, CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		From:    testUser,
		Message: &tgbotapi.Message{MessageID: 2, Chat: &tgbotapi.Chat{ID: chatID, Type: "private"}},
		Data:    data,
	}}
}

func (e *testEnv) send(u tgbotapi.Update) {
	e.bot.handleUpdate(context.Background(), u)
}

func (e *testEnv) grant(t *testing.T) {
	t.Helper()
	user, err := e.bot.deps.Users.Resolve(context.Background(), testUser.ID, "Anna", "anna")
	require.NoError(t, err)
	_, err = e.subs.Grant(context.Background(), repository.GrantInput{UserID: user.ID, Plan: "1_month", PriceMinor: 100000, Currency: "RUB", DurationDays: 30})
	require.NoError(t, err)
}

func TestStartShowsMenu(t *testing.T) {
	env := newTestEnv(t)
	env.send(privateMessage("/start"))

	msg := env.out.last()
	assert.Equal(t, testUser.ID, msg.ChatID)
	assert.Contains(t, msg.Text, "Anna")
	assert.Contains(t, msg.Text, "10:00 - 14:00")
	assert.IsType(t, tgbotapi.ReplyKeyboardMarkup{}, msg.ReplyMarkup)

	var count int64
	require.NoError(t, env.db.Model(&model.User{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestOrderWithoutSubscription(t *testing.T) {
	env := newTestEnv(t)
	env.send(privateMessage(menuLabelOrder))

	msg := env.out.last()
	assert.Contains(t, msg.Text, "нет активной подписки")
	assert.IsType(t, tgbotapi.InlineKeyboardMarkup{}, msg.ReplyMarkup)
}

func TestOrderFlowOverTelegram(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t)

	env.send(privateMessage(menuLabelOrder))
	assert.Contains(t, env.out.last().Text, "адрес")

	env.send(privateMessage("12 Main St"))
	assert.Contains(t, env.out.last().Text, "комментарий")

	env.send(privateMessage(btnNoComment))
	summary := env.out.last()
	assert.Contains(t, summary.Text, "12 Main St")
	assert.IsType(t, tgbotapi.InlineKeyboardMarkup{}, summary.ReplyMarkup)

	env.send(callback(testUser.ID, cbOrderConfirm))
	assert.Contains(t, env.out.to(testUser.ID)[len(env.out.to(testUser.ID))-1].Text, "создан")

	ops := env.out.to(operatorChatID)
	require.Len(t, ops, 1)
	assert.Contains(t, ops[0].Text, "Новый заказ #1")
	assert.Contains(t, ops[0].Text, "12 Main St")
	assert.Contains(t, ops[0].Text, "@anna")

	var orders []model.Order
	require.NoError(t, env.db.Find(&orders).Error)
	require.Len(t, orders, 1)
	assert.Equal(t, "12 Main St", orders[0].Address)
	assert.Empty(t, orders[0].Comment)
}

func TestCancelCommandDuringFlow(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t)

	env.send(privateMessage("/order"))
	env.send(privateMessage("/cancel"))
	assert.Contains(t, env.out.last().Text, "отменён")

	env.send(privateMessage("some text"))
	assert.Contains(t, env.out.last().Text, "не понял")
}

func TestPurchasePlan(t *testing.T) {
	env := newTestEnv(t)
	env.send(privateMessage(menuLabelPlans))
	plans := env.out.last()
	kb, ok := plans.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, kb.InlineKeyboard, 2)
	assert.Equal(t, "1 день — 100 ₽", kb.InlineKeyboard[0][0].Text)

	env.send(callback(testUser.ID, cbPlanPrefix+"1_month"))
	assert.Contains(t, env.out.last().Text, "оформлена")
	assert.Equal(t, 1, env.out.requests)

	env.send(privateMessage(menuLabelSubscription))
	assert.Contains(t, env.out.last().Text, "активна подписка «1 месяц»")
	assert.Contains(t, env.out.last().Text, "История подписок")

	env.send(callback(testUser.ID, cbPlanPrefix+"forever"))
	assert.Contains(t, env.out.last().Text, "Такого тарифа нет")
}

func TestMyOrdersShowsRecent(t *testing.T) {
	env := newTestEnv(t)
	env.send(privateMessage(menuLabelOrders))
	assert.Contains(t, env.out.last().Text, "нет заказов")

	user, err := env.bot.deps.Users.FindByExternalID(context.Background(), testUser.ID)
	require.NoError(t, err)
	for i := 0; i < 7; i++ {
		_, err := env.orders.Create(context.Background(), user.ID, repository.OrderInput{Address: "addr", Slot: "18:00 - 20:00"})
		require.NoError(t, err)
	}

	env.send(privateMessage("/orders"))
	text := env.out.last().Text
	assert.Equal(t, 5, strings.Count(text, "Статус:"))
	assert.Contains(t, text, "#7")
	assert.NotContains(t, text, "<b>#2</b>")
}

func TestOperatorCommands(t *testing.T) {
	env := newTestEnv(t)
	env.send(privateMessage("/start"))
	user, err := env.bot.deps.Users.FindByExternalID(context.Background(), testUser.ID)
	require.NoError(t, err)
	order, err := env.orders.Create(context.Background(), user.ID, repository.OrderInput{Address: "Lenina 1", Slot: "10:00 - 14:00"})
	require.NoError(t, err)

	env.send(operatorMessage("/pending"))
	assert.Contains(t, env.out.last().Text, "Lenina 1")

	env.send(operatorMessage("/done abc"))
	assert.Contains(t, env.out.last().Text, "Укажите номер")

	env.send(operatorMessage("/done 1"))
	ops := env.out.to(operatorChatID)
	assert.Contains(t, ops[len(ops)-1].Text, "выполнен")

	customer := env.out.to(testUser.ID)
	assert.Contains(t, customer[len(customer)-1].Text, "Ваш заказ #1")

	env.send(operatorMessage("/reject 1"))
	assert.Contains(t, env.out.last().Text, "уже закрыт")

	stored, err := env.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFulfilled, stored.Status)
}

func TestOperatorCallbackIgnoredOutsideOperatorChat(t *testing.T) {
	env := newTestEnv(t)
	env.send(privateMessage("/start"))
	user, err := env.bot.deps.Users.FindByExternalID(context.Background(), testUser.ID)
	require.NoError(t, err)
	order, err := env.orders.Create(context.Background(), user.ID, repository.OrderInput{Address: "a", Slot: "s"})
	require.NoError(t, err)

	env.send(callback(testUser.ID, cbOperatorDone+"1"))
	stored, err := env.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderPending, stored.Status)

	env.send(callback(operatorChatID, cbOperatorReject+"1"))
	stored, err = env.orders.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, stored.Status)
}

func TestGroupMessagesFromCustomersIgnored(t *testing.T) {
	env := newTestEnv(t)
	u := privateMessage("hello")
	u.Message.Chat = &tgbotapi.Chat{ID: 77, Type: "group"}
	env.send(u)
	assert.Empty(t, env.out.sent)
}

func TestOperatorNotifierStatusChange(t *testing.T) {
	out := &fakeSender{}
	n := NewOperatorNotifier(out, operatorChatID, time.UTC, nil)

	require.NoError(t, n.Notify(context.Background(), notify.OrderNotice{Event: notify.EventOrderStatusChanged, OrderID: 3, UserExternalID: 42, Status: "cancelled"}))
	require.Len(t, out.sent, 1)
	assert.Equal(t, int64(42), out.sent[0].ChatID)
	assert.Contains(t, out.sent[0].Text, "отменён")

	require.NoError(t, n.Notify(context.Background(), notify.OrderNotice{Event: "unknown"}))
	assert.Len(t, out.sent, 1)
}

func TestServeKeepsAddressAndCommentInOrder(t *testing.T) {
	env := newTestEnv(t)
	env.grant(t)

	const rounds = 30
	updates := make(chan tgbotapi.Update, rounds*4)
	for i := 0; i < rounds; i++ {
		updates <- privateMessage("/order")
		updates <- privateMessage(fmt.Sprintf("%d Main St", i))
		updates <- privateMessage(fmt.Sprintf("leave at gate %d", i))
		updates <- callback(testUser.ID, cbOrderConfirm)
	}
	close(updates)

	env.bot.serve(context.Background(), updates)

	var orders []model.Order
	require.NoError(t, env.db.Order("id ASC").Find(&orders).Error)
	require.Len(t, orders, rounds)
	for i, o := range orders {
		assert.Equal(t, fmt.Sprintf("%d Main St", i), o.Address)
		assert.Equal(t, fmt.Sprintf("leave at gate %d", i), o.Comment)
	}
}

package bot

import (
	"fmt"
	"html"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pickup-bot/internal/config"
	"pickup-bot/internal/conversation"
	"pickup-bot/internal/model"
)

// classifyText maps a free-text message to an engine input.
// Menu labels that are not part of the order form return ok=false.
func classifyText(text string) (conversation.Event, bool) {
	trimmed := strings.TrimSpace(text)
	switch trimmed {
	case menuLabelOrder:
		return conversation.Event{Input: conversation.InputStartOrder}, true
	case btnConfirm:
		return conversation.Event{Input: conversation.InputConfirm}, true
	case btnCancel:
		return conversation.Event{Input: conversation.InputCancel}, true
	case btnNoComment:
		return conversation.Event{Input: conversation.InputText, Text: ""}, true
	case menuLabelPlans, menuLabelSubscription, menuLabelOrders:
		return conversation.Event{}, false
	}
	return conversation.Event{Input: conversation.InputText, Text: text}, true
}

// renderReply turns an engine outcome into a Telegram message.
func renderReply(chatID int64, r conversation.Reply, loc *time.Location) tgbotapi.MessageConfig {
	var (
		text   string
		markup interface{} = mainMenuKeyboard()
	)

	switch r.Kind {
	case conversation.ReplyNoSubscription:
		text = "❌ У вас нет активной подписки!\nПриобретите подписку для заказа выноса мусора."
		markup = buyKeyboard()
	case conversation.ReplyAskAddress:
		text = "📍 <b>Шаг 1:</b> укажите адрес, откуда забрать мусор."
		markup = cancelKeyboard()
	case conversation.ReplyInvalidAddress:
		text = fmt.Sprintf("Адрес не должен быть пустым или длиннее %d символов. Попробуйте ещё раз.", conversation.MaxFieldRunes)
		markup = cancelKeyboard()
	case conversation.ReplyAskComment:
		text = "💬 <b>Шаг 2:</b> комментарий для курьера (подъезд, код домофона) или «Без комментария»."
		markup = commentKeyboard()
	case conversation.ReplyInvalidComment:
		text = fmt.Sprintf("Комментарий не должен быть длиннее %d символов.", conversation.MaxFieldRunes)
		markup = commentKeyboard()
	case conversation.ReplySummary:
		text = formatSummary(r.Draft)
		markup = confirmOrderKeyboard()
	case conversation.ReplyOrderCreated:
		text = formatCreated(r, loc)
	case conversation.ReplyCancelled:
		text = "↩️ Заказ отменён."
	case conversation.ReplyFailure:
		text = "⚠️ Не удалось выполнить действие. Попробуйте ещё раз."
		if r.State == conversation.StateAwaitingConfirmation {
			markup = confirmOrderKeyboard()
		}
	default:
		text = "Я пока не понял сообщение. Выберите действие в меню или наберите /help."
		switch r.State {
		case conversation.StateAwaitingAddress:
			markup = cancelKeyboard()
		case conversation.StateAwaitingComment:
			markup = commentKeyboard()
		case conversation.StateAwaitingConfirmation:
			markup = confirmOrderKeyboard()
		}
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = markup
	return msg
}

func formatSummary(d conversation.Draft) string {
	var sb strings.Builder
	sb.WriteString("📝 <b>Проверьте заказ</b>\n\n")
	sb.WriteString(fmt.Sprintf("📍 Адрес: %s\n", escape(d.Address)))
	if d.Comment != "" {
		sb.WriteString(fmt.Sprintf("💬 Комментарий: %s\n", escape(d.Comment)))
	}
	sb.WriteString(fmt.Sprintf("🕐 Интервал вывоза: %s", escape(d.Slot)))
	return sb.String()
}

func formatCreated(r conversation.Reply, loc *time.Location) string {
	if r.Order == nil {
		return "✅ Заказ создан!"
	}
	return fmt.Sprintf(
		"✅ Заказ #%d создан!\n\n📅 Время заказа: %s\n🕐 Интервал вывоза: %s\n\nСпасибо за заказ!",
		r.Order.ID,
		r.Order.CreatedAt.In(loc).Format("15:04"),
		escape(r.Order.Slot),
	)
}

func welcomeText(name string, slots config.SlotsConfig) string {
	if name == "" {
		name = "друг"
	}
	return fmt.Sprintf(
		"👋 Привет, %s! Добро пожаловать в сервис выноса мусора.\n\n"+
			"✅ С подпиской вы можете заказывать вынос:\n"+
			"• до %02d:00 — вывоз %s\n"+
			"• после %02d:00 — вывоз %s\n\n"+
			"Выберите действие:",
		escape(name),
		slots.MorningCutoffHour, escape(slots.MorningLabel),
		slots.MorningCutoffHour, escape(slots.EveningLabel),
	)
}

const helpText = "ℹ️ <b>Подсказки</b>\n" +
	"• /order — заказать вынос мусора\n" +
	"• /plans — тарифы и покупка подписки\n" +
	"• /subscription — моя подписка\n" +
	"• /orders — мои последние заказы\n" +
	"• /cancel — отменить текущий заказ"

func formatOrders(orders []model.Order, loc *time.Location) string {
	if len(orders) == 0 {
		return "📭 У вас ещё нет заказов."
	}
	var sb strings.Builder
	sb.WriteString("📋 <b>Ваши последние заказы</b>\n\n")
	for _, o := range orders {
		sb.WriteString(fmt.Sprintf("<b>#%d</b> 📅 %s\n", o.ID, o.CreatedAt.In(loc).Format("02.01.2006 15:04")))
		sb.WriteString(fmt.Sprintf("   ⏰ %s\n", escape(o.Slot)))
		sb.WriteString(fmt.Sprintf("   📍 %s\n", escape(shorten(o.Address, 60))))
		sb.WriteString(fmt.Sprintf("   Статус: %s\n\n", statusLabel(o.Status)))
	}
	return strings.TrimSpace(sb.String())
}

// formatSubscription shows the active grant, if any, followed by recent grants.
func formatSubscription(current *model.Subscription, history []model.Subscription, title func(string) string, now time.Time, loc *time.Location) string {
	var sb strings.Builder
	if current == nil {
		sb.WriteString("❌ У вас нет активной подписки.\nПриобретите подписку для доступа к услуге.")
	} else {
		sb.WriteString(fmt.Sprintf("✅ У вас активна подписка «%s».\nДействует до %s.",
			escape(title(current.Plan)),
			current.ExpiresAt.In(loc).Format("02.01.2006 15:04")))
	}
	if len(history) == 0 {
		return sb.String()
	}

	sb.WriteString("\n\n🧾 <b>История подписок</b>\n")
	for _, s := range history {
		mark := "⌛ истекла"
		if !s.Active {
			mark = "🚫 отключена"
		} else if s.EntitledAt(now) {
			mark = "✅ активна"
		}
		sb.WriteString(fmt.Sprintf("• %s, %s – %s: %s\n",
			escape(title(s.Plan)),
			s.GrantedAt.In(loc).Format("02.01.2006"),
			s.ExpiresAt.In(loc).Format("02.01.2006"),
			mark))
	}
	return strings.TrimSpace(sb.String())
}

func statusLabel(s model.OrderStatus) string {
	switch s {
	case model.OrderPending:
		return "⏳ в обработке"
	case model.OrderFulfilled:
		return "✅ выполнен"
	case model.OrderCancelled:
		return "🚫 отменён"
	default:
		return string(s)
	}
}

// formatPrice renders minor units; roubles get the ₽ sign.
func formatPrice(minor int64, currency string) string {
	major, rest := minor/100, minor%100
	amount := fmt.Sprintf("%d", major)
	if rest != 0 {
		amount = fmt.Sprintf("%d.%02d", major, rest)
	}
	if strings.EqualFold(currency, "RUB") {
		return amount + " ₽"
	}
	return amount + " " + strings.ToUpper(currency)
}

func shorten(s string, maxLen int) string {
	runes := []rune(strings.TrimSpace(s))
	if len(runes) <= maxLen {
		return string(runes)
	}
	return string(runes[:maxLen-1]) + "…"
}

func escape(s string) string {
	return html.EscapeString(s)
}

func displayName(u *tgbotapi.User) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(u.FirstName) + " " + strings.TrimSpace(u.LastName))
}

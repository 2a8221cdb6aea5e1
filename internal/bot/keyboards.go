package bot

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pickup-bot/internal/service"
)

const (
	cbMenuPrefix     = "menu:"
	cbPlanPrefix     = "plan:"
	cbOrderConfirm   = "order:confirm"
	cbOrderCancel    = "order:cancel"
	cbOperatorDone   = "op:done:"
	cbOperatorReject = "op:reject:"
)

const (
	menuOrder        = "order"
	menuPlans        = "plans"
	menuSubscription = "subscription"
	menuOrders       = "orders"
)

const (
	btnConfirm            = "✅ Подтвердить"
	btnCancel             = "❌ Отменить"
	btnNoComment          = "⏭️ Без комментария"
	btnBuy                = "🛒 Купить подписку"
	menuLabelOrder        = "🗑️ Заказать вынос"
	menuLabelPlans        = btnBuy
	menuLabelSubscription = "📊 Моя подписка"
	menuLabelOrders       = "📋 Мои заказы"
)

func mainMenuKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelOrder),
			tgbotapi.NewKeyboardButton(menuLabelPlans),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(menuLabelSubscription),
			tgbotapi.NewKeyboardButton(menuLabelOrders),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = false
	return kb
}

func cancelKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func commentKeyboard() tgbotapi.ReplyKeyboardMarkup {
	kb := tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnNoComment),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton(btnCancel),
		),
	)
	kb.ResizeKeyboard = true
	kb.OneTimeKeyboard = true
	return kb
}

func confirmOrderKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnConfirm, cbOrderConfirm),
			tgbotapi.NewInlineKeyboardButtonData(btnCancel, cbOrderCancel),
		),
	)
}

func buyKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(btnBuy, cbMenuPrefix+menuPlans),
		),
	)
}

func plansKeyboard(plans []service.Plan) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(plans))
	for _, p := range plans {
		label := fmt.Sprintf("%s — %s", p.Title, formatPrice(p.PriceMinor, p.Currency))
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(label, cbPlanPrefix+p.ID),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func operatorOrderKeyboard(orderID uint) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✅ Выполнен", fmt.Sprintf("%s%d", cbOperatorDone, orderID)),
			tgbotapi.NewInlineKeyboardButtonData("🚫 Отклонить", fmt.Sprintf("%s%d", cbOperatorReject, orderID)),
		),
	)
}

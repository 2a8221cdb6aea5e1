package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"pickup-bot/internal/logger"
	"pickup-bot/internal/model"
	"pickup-bot/internal/notify"
	"pickup-bot/internal/repository"
)

// handleOperatorCommand serves /pending, /done and /reject in the operator chat.
func (b *Bot) handleOperatorCommand(ctx context.Context, msg *tgbotapi.Message) (bool, error) {
	switch msg.Command() {
	case "pending":
		return true, b.SendDigest(ctx)
	case "done":
		return true, b.operatorSetStatus(ctx, msg.Chat.ID, msg.CommandArguments(), model.OrderFulfilled)
	case "reject":
		return true, b.operatorSetStatus(ctx, msg.Chat.ID, msg.CommandArguments(), model.OrderCancelled)
	default:
		return false, nil
	}
}

func (b *Bot) handleOperatorCallback(ctx context.Context, chatID int64, data string) error {
	switch {
	case strings.HasPrefix(data, cbOperatorDone):
		return b.operatorSetStatus(ctx, chatID, strings.TrimPrefix(data, cbOperatorDone), model.OrderFulfilled)
	case strings.HasPrefix(data, cbOperatorReject):
		return b.operatorSetStatus(ctx, chatID, strings.TrimPrefix(data, cbOperatorReject), model.OrderCancelled)
	}
	return nil
}

func (b *Bot) operatorSetStatus(ctx context.Context, chatID int64, arg string, status model.OrderStatus) error {
	id, err := parseOrderID(arg)
	if err != nil {
		return b.sendText(chatID, "Укажите номер заказа, например: /done 12")
	}

	order, err := b.deps.OrderService.SetStatus(ctx, id, status)
	switch {
	case errors.Is(err, repository.ErrOrderNotFound):
		return b.sendText(chatID, fmt.Sprintf("Заказ #%d не найден.", id))
	case errors.Is(err, repository.ErrOrderNotPending):
		return b.sendText(chatID, fmt.Sprintf("Заказ #%d уже закрыт.", id))
	case err != nil:
		_ = b.sendText(chatID, fmt.Sprintf("Не удалось обновить заказ #%d.", id))
		return err
	}
	return b.sendText(chatID, fmt.Sprintf("Заказ #%d: %s", order.ID, statusLabel(order.Status)))
}

// SendDigest posts the pending-orders summary to the operator chat.
func (b *Bot) SendDigest(ctx context.Context) error {
	text, err := b.deps.Digest.PendingSummary(ctx, time.Now())
	if err != nil {
		return fmt.Errorf("build digest: %w", err)
	}
	return b.sendText(b.config.Operator.ChatID, text)
}

// OperatorNotifier tells the operator about new orders and customers about status changes.
type OperatorNotifier struct {
	out    Sender
	chatID int64
	loc    *time.Location
	log    *logger.Logger
}

func NewOperatorNotifier(out Sender, operatorChatID int64, loc *time.Location, log *logger.Logger) *OperatorNotifier {
	if loc == nil {
		loc = time.Local
	}
	return &OperatorNotifier{out: out, chatID: operatorChatID, loc: loc, log: logger.OrNop(log)}
}

func (n *OperatorNotifier) Notify(ctx context.Context, notice notify.OrderNotice) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var msg tgbotapi.MessageConfig
	switch notice.Event {
	case notify.EventOrderCreated:
		msg = tgbotapi.NewMessage(n.chatID, formatOperatorNotice(notice, n.loc))
		msg.ReplyMarkup = operatorOrderKeyboard(notice.OrderID)
	case notify.EventOrderStatusChanged:
		if notice.UserExternalID == 0 {
			return nil
		}
		msg = tgbotapi.NewMessage(notice.UserExternalID, fmt.Sprintf("Ваш заказ #%d: %s", notice.OrderID, statusLabel(model.OrderStatus(notice.Status))))
	default:
		return nil
	}
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := n.out.Send(msg); err != nil {
		return fmt.Errorf("telegram notify order %d: %w", notice.OrderID, err)
	}
	n.log.Debugw("order notice sent", "order_id", notice.OrderID, "event", notice.Event)
	return nil
}

func formatOperatorNotice(n notify.OrderNotice, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("🆕 <b>Новый заказ #%d</b>\n\n", n.OrderID))

	who := escape(n.UserDisplayName)
	if n.Username != "" {
		who += " @" + escape(n.Username)
	}
	sb.WriteString(fmt.Sprintf("👤 %s (id %d)\n", strings.TrimSpace(who), n.UserExternalID))
	sb.WriteString(fmt.Sprintf("📍 %s\n", escape(n.Address)))
	if n.Comment != "" {
		sb.WriteString(fmt.Sprintf("💬 %s\n", escape(n.Comment)))
	}
	sb.WriteString(fmt.Sprintf("🕐 %s\n", escape(n.Slot)))
	sb.WriteString(fmt.Sprintf("📅 %s", n.CreatedAt.In(loc).Format("02.01.2006 15:04")))
	return sb.String()
}

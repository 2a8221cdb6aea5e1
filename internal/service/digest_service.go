package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"pickup-bot/internal/model"
	"pickup-bot/internal/repository"
)

const digestLimit = 50

// DigestService builds the operator's daily summary of open orders.
type DigestService struct {
	orders *repository.OrderRepository
	loc    *time.Location
}

func NewDigestService(orders *repository.OrderRepository, loc *time.Location) *DigestService {
	if loc == nil {
		loc = time.Local
	}
	return &DigestService{orders: orders, loc: loc}
}

func (s *DigestService) PendingSummary(ctx context.Context, now time.Time) (string, error) {
	orders, err := s.orders.ListPending(ctx, digestLimit)
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	builder.WriteString("📋 <b>Заявки на вывоз</b>\n")
	builder.WriteString(fmt.Sprintf("🗓 %s\n\n", now.In(s.loc).Format("02.01.2006")))

	if len(orders) == 0 {
		builder.WriteString("— открытых заявок нет\n")
		return strings.TrimSpace(builder.String()), nil
	}

	bySlot := make(map[string][]model.Order)
	var slots []string
	for _, o := range orders {
		if _, ok := bySlot[o.Slot]; !ok {
			slots = append(slots, o.Slot)
		}
		bySlot[o.Slot] = append(bySlot[o.Slot], o)
	}

	for _, slot := range slots {
		builder.WriteString(fmt.Sprintf("🕒 <b>%s</b>\n", html.EscapeString(slot)))
		for _, o := range bySlot[slot] {
			builder.WriteString(FormatOrderLine(o, s.loc))
		}
		builder.WriteByte('\n')
	}
	if len(orders) == digestLimit {
		builder.WriteString(fmt.Sprintf("… показаны первые %d\n", digestLimit))
	}
	return strings.TrimSpace(builder.String()), nil
}

// FormatOrderLine renders one pending order for operator messages.
func FormatOrderLine(o model.Order, loc *time.Location) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("#%d %s", o.ID, html.EscapeString(strings.TrimSpace(o.Address))))

	name := strings.TrimSpace(o.User.DisplayName)
	if o.User.Username != "" {
		name = strings.TrimSpace(name + " @" + o.User.Username)
	}
	if name != "" {
		sb.WriteString(fmt.Sprintf(" <i>(%s)</i>", html.EscapeString(name)))
	}

	sb.WriteString(fmt.Sprintf("\n   ⏰ %s", o.CreatedAt.In(loc).Format("02.01 15:04")))
	if o.Comment != "" {
		sb.WriteString(fmt.Sprintf("\n   📝 %s", html.EscapeString(strings.TrimSpace(o.Comment))))
	}
	sb.WriteByte('\n')
	return sb.String()
}

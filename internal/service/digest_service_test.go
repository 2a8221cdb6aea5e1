package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pickup-bot/internal/repository"
)

func TestPendingSummaryEmpty(t *testing.T) {
	db := openTestDB(t)
	svc := NewDigestService(repository.NewOrderRepository(db), time.UTC)

	text, err := svc.PendingSummary(context.Background(), time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Contains(t, text, "01.03.2024")
	assert.Contains(t, text, "открытых заявок нет")
}

func TestPendingSummaryGroupsBySlotAndEscapes(t *testing.T) {
	db := openTestDB(t)
	user := seedUser(t, db, 1, "Anna <admin>")
	orders := repository.NewOrderRepository(db)
	ctx := context.Background()

	_, err := orders.Create(ctx, user.ID, repository.OrderInput{Address: "Lenina 1", Slot: "10:00 - 14:00"})
	require.NoError(t, err)
	_, err = orders.Create(ctx, user.ID, repository.OrderInput{Address: "Mira <b>2</b>", Comment: "gate code 12", Slot: "18:00 - 20:00"})
	require.NoError(t, err)
	done, err := orders.Create(ctx, user.ID, repository.OrderInput{Address: "Done st", Slot: "10:00 - 14:00"})
	require.NoError(t, err)
	_, err = orders.SetStatus(ctx, done.ID, "fulfilled")
	require.NoError(t, err)

	text, err := NewDigestService(orders, time.UTC).PendingSummary(ctx, time.Now())
	require.NoError(t, err)

	assert.Contains(t, text, "<b>10:00 - 14:00</b>")
	assert.Contains(t, text, "<b>18:00 - 20:00</b>")
	assert.Contains(t, text, "Mira &lt;b&gt;2&lt;/b&gt;")
	assert.Contains(t, text, "Anna &lt;admin&gt;")
	assert.Contains(t, text, "gate code 12")
	assert.NotContains(t, text, "Done st")
	assert.Less(t, strings.Index(text, "10:00 - 14:00"), strings.Index(text, "18:00 - 20:00"))
}

package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pickup-bot/internal/model"
)

func TestCreateOrder(t *testing.T) {
	db := openTestDB(t)
	clock := newTestClock()
	repo := NewOrderRepository(db).WithClock(clock.Now)
	user := seedUser(t, db, 1)

	order, err := repo.Create(context.Background(), user.ID, OrderInput{Address: "Lenina 1", Comment: "", Slot: "10:00 - 14:00"})
	require.NoError(t, err)
	assert.NotZero(t, order.ID)
	assert.Equal(t, model.OrderPending, order.Status)
	assert.Equal(t, clock.Now(), order.CreatedAt)

	stored, err := repo.FindByID(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "Lenina 1", stored.Address)
	assert.Equal(t, user.ExternalID, stored.User.ExternalID)

	_, err = repo.Create(context.Background(), user.ID, OrderInput{Address: "  ", Slot: "x"})
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestListForUserNewestFirstAcrossPages(t *testing.T) {
	db := openTestDB(t)
	clock := newTestClock()
	repo := NewOrderRepository(db).WithClock(clock.Now)
	repo.pageSize = 2
	ctx := context.Background()
	alice := seedUser(t, db, 1)
	bob := seedUser(t, db, 2)

	var want []uint
	for i := 0; i < 5; i++ {
		o, err := repo.Create(ctx, alice.ID, OrderInput{Address: fmt.Sprintf("addr %d", i), Slot: "s"})
		require.NoError(t, err)
		want = append([]uint{o.ID}, want...)
		_, err = repo.Create(ctx, bob.ID, OrderInput{Address: "bob", Slot: "s"})
		require.NoError(t, err)
		clock.Advance(time.Minute)
	}
	// Same timestamp: id breaks the tie.
	tie, err := repo.Create(ctx, alice.ID, OrderInput{Address: "tie", Slot: "s"})
	require.NoError(t, err)
	tie2, err := repo.Create(ctx, alice.ID, OrderInput{Address: "tie2", Slot: "s"})
	require.NoError(t, err)
	want = append([]uint{tie2.ID, tie.ID}, want...)

	got, err := repo.Recent(ctx, alice.ID, 0)
	require.NoError(t, err)
	var ids []uint
	for _, o := range got {
		assert.Equal(t, alice.ID, o.UserID)
		ids = append(ids, o.ID)
	}
	assert.Equal(t, want, ids)

	limited, err := repo.Recent(ctx, alice.ID, 3)
	require.NoError(t, err)
	require.Len(t, limited, 3)
	assert.Equal(t, want[:3], []uint{limited[0].ID, limited[1].ID, limited[2].ID})
}

func TestListForUserIsRestartableAndIsolated(t *testing.T) {
	db := openTestDB(t)
	clock := newTestClock()
	repo := NewOrderRepository(db).WithClock(clock.Now)
	repo.pageSize = 1
	ctx := context.Background()
	alice := seedUser(t, db, 1)
	bob := seedUser(t, db, 2)

	for i := 0; i < 3; i++ {
		_, err := repo.Create(ctx, alice.ID, OrderInput{Address: "a", Slot: "s"})
		require.NoError(t, err)
		clock.Advance(time.Second)
	}

	seq := repo.ListForUser(ctx, alice.ID, 0)
	seen := 0
	for o, err := range seq {
		require.NoError(t, err)
		require.Equal(t, alice.ID, o.UserID)
		// Concurrent writes by other users never show up in this listing.
		_, err = repo.Create(ctx, bob.ID, OrderInput{Address: "b", Slot: "s"})
		require.NoError(t, err)
		seen++
	}
	assert.Equal(t, 3, seen)

	again := 0
	for _, err := range seq {
		require.NoError(t, err)
		again++
	}
	assert.Equal(t, 3, again)

	var orders int64
	require.NoError(t, db.Model(&model.Order{}).Count(&orders).Error)
	assert.Equal(t, int64(6), orders, "listing has no side effects")
}

func TestSetStatus(t *testing.T) {
	db := openTestDB(t)
	repo := NewOrderRepository(db)
	ctx := context.Background()
	user := seedUser(t, db, 1)

	order, err := repo.Create(ctx, user.ID, OrderInput{Address: "a", Slot: "s"})
	require.NoError(t, err)

	pending, err := repo.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	updated, err := repo.SetStatus(ctx, order.ID, model.OrderFulfilled)
	require.NoError(t, err)
	assert.Equal(t, model.OrderFulfilled, updated.Status)

	_, err = repo.SetStatus(ctx, order.ID, model.OrderCancelled)
	assert.ErrorIs(t, err, ErrOrderNotPending)

	_, err = repo.SetStatus(ctx, 9999, model.OrderCancelled)
	assert.ErrorIs(t, err, ErrOrderNotFound)

	_, err = repo.SetStatus(ctx, order.ID, model.OrderPending)
	assert.ErrorIs(t, err, ErrInvalidStatus)

	pending, err = repo.ListPending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

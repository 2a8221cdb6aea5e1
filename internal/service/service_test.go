package service

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"pickup-bot/internal/model"
	"pickup-bot/internal/notify"
	"pickup-bot/internal/payment"
	"pickup-bot/internal/repository"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.NewDB(repository.Options{Driver: repository.DriverSQLite, DSN: filepath.Join(t.TempDir(), "pickup.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func seedUser(t *testing.T, db *gorm.DB, externalID int64, name string) *model.User {
	t.Helper()
	user, err := repository.NewUserRepository(db, nil).Resolve(context.Background(), externalID, name, "")
	require.NoError(t, err)
	return user
}

type fakeGateway struct {
	result   payment.Result
	err      error
	requests []payment.Request
}

func (g *fakeGateway) RequestPayment(_ context.Context, req payment.Request) (payment.Result, error) {
	g.requests = append(g.requests, req)
	return g.result, g.err
}

type recordingNotifier struct {
	notices []notify.OrderNotice
	err     error
}

func (r *recordingNotifier) Notify(_ context.Context, n notify.OrderNotice) error {
	r.notices = append(r.notices, n)
	return r.err
}

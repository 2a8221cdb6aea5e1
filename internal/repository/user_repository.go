package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"pickup-bot/internal/logger"
	"pickup-bot/internal/model"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepository maps chat identities to internal users.
type UserRepository struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewUserRepository(db *gorm.DB, log *logger.Logger) *UserRepository {
	return &UserRepository{db: db, log: logger.OrNop(log)}
}

// Resolve returns the user for externalID, creating it on first contact.
// Concurrent calls for the same identity always end up with a single row.
func (r *UserRepository) Resolve(ctx context.Context, externalID int64, displayName, username string) (*model.User, error) {
	db := r.db.WithContext(ctx)

	candidate := model.User{
		ExternalID:  externalID,
		DisplayName: displayName,
		Username:    username,
	}
	if err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "external_id"}},
		DoNothing: true,
	}).Create(&candidate).Error; err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}

	var user model.User
	if err := db.Where("external_id = ?", externalID).First(&user).Error; err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if user.DisplayName != displayName || user.Username != username {
		err := db.Model(&user).Updates(map[string]interface{}{
			"display_name": displayName,
			"username":     username,
		}).Error
		if err != nil {
			r.log.Warnw("refresh user profile", "user_id", user.ID, "error", err)
		} else {
			user.DisplayName = displayName
			user.Username = username
		}
	}
	return &user, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).First(&user, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

func (r *UserRepository) FindByExternalID(ctx context.Context, externalID int64) (*model.User, error) {
	var user model.User
	err := r.db.WithContext(ctx).Where("external_id = ?", externalID).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &user, nil
}

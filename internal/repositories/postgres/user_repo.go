package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/babililo/relay/internal/models"
	"github.com/babililo/relay/internal/utils"

	"gorm.io/gorm"
)

type UserRepo interface {
	GetOrCreate(ctx context.Context, user *models.User) (*models.User, error)
	Get(ctx context.Context, entityID string) (*models.User, error)
	SetModel(ctx context.Context, entityID, model string) error
	SetBanned(ctx context.Context, entityID string, banned bool) error
	IncrementMessages(ctx context.Context, entityID string) error
}

type userRepo struct {
	db *gorm.DB
}

func NewUserRepo(db *gorm.DB) UserRepo {
	return &userRepo{db: db}
}

func (r *userRepo) GetOrCreate(ctx context.Context, user *models.User) (*models.User, error) {
	var existing models.User
	err := r.db.WithContext(ctx).Where("entity_id = ?", user.EntityID).Take(&existing).Error
	if err == nil {
		return &existing, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

func (r *userRepo) Get(ctx context.Context, entityID string) (*models.User, error) {
	var row models.User
	err := r.db.WithContext(ctx).Where("entity_id = ?", entityID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *userRepo) SetModel(ctx context.Context, entityID, model string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("entity_id = ?", entityID).
		Updates(map[string]any{"selected_model": model, "updated_at": time.Now().UTC()}).Error
}

func (r *userRepo) SetBanned(ctx context.Context, entityID string, banned bool) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("entity_id = ?", entityID).
		Updates(map[string]any{"banned": banned, "updated_at": time.Now().UTC()}).Error
}

func (r *userRepo) IncrementMessages(ctx context.Context, entityID string) error {
	return r.db.WithContext(ctx).
		Model(&models.User{}).
		Where("entity_id = ?", entityID).
		UpdateColumn("message_count", gorm.Expr("message_count + 1")).Error
}

package postgres

import (
	"context"
	"errors"

	"github.com/babililo/relay/internal/models"
	"github.com/babililo/relay/internal/utils"

	"gorm.io/gorm"
)

type PersonaRepo interface {
	ActiveByEntity(ctx context.Context, entityID string) (*models.Persona, error)
	Upsert(ctx context.Context, persona *models.Persona) error
	Deactivate(ctx context.Context, entityID string) error
}

type personaRepo struct {
	db *gorm.DB
}

func NewPersonaRepo(db *gorm.DB) PersonaRepo {
	return &personaRepo{db: db}
}

func (r *personaRepo) ActiveByEntity(ctx context.Context, entityID string) (*models.Persona, error) {
	var row models.Persona
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND active", entityID).
		Order("updated_at DESC").
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

func (r *personaRepo) Upsert(ctx context.Context, persona *models.Persona) error {
	return r.db.WithContext(ctx).Save(persona).Error
}

func (r *personaRepo) Deactivate(ctx context.Context, entityID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Persona{}).
		Where("entity_id = ? AND active", entityID).
		Update("active", false).Error
}

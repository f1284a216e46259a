package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/babililo/relay/internal/models"
	"github.com/babililo/relay/internal/utils"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ConversationRepo interface {
	GetOrCreateActive(ctx context.Context, entityID string) (*models.Conversation, error)
	AppendTurn(ctx context.Context, turn *models.Turn) error
	// RecentTurns returns the most recent n turns of the conversation
	// in chronological order.
	RecentTurns(ctx context.Context, conversationID string, n int) ([]models.Turn, error)
	EndActive(ctx context.Context, entityID string) error
	GetTurn(ctx context.Context, id string) (*models.Turn, error)
}

type conversationRepo struct {
	db *gorm.DB
}

func NewConversationRepo(db *gorm.DB) ConversationRepo {
	return &conversationRepo{db: db}
}

func (r *conversationRepo) GetOrCreateActive(ctx context.Context, entityID string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Where("entity_id = ? AND active", entityID).
		Order("created_at DESC").
		Take(&conv).Error
	if err == nil {
		return &conv, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	conv = models.Conversation{
		ID:        uuid.NewString(),
		EntityID:  entityID,
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(&conv).Error; err != nil {
		return nil, err
	}
	return &conv, nil
}

func (r *conversationRepo) AppendTurn(ctx context.Context, turn *models.Turn) error {
	if turn.Timestamp.IsZero() {
		turn.Timestamp = time.Now().UTC()
	}
	return r.db.WithContext(ctx).Create(turn).Error
}

func (r *conversationRepo) RecentTurns(ctx context.Context, conversationID string, n int) ([]models.Turn, error) {
	if n <= 0 {
		n = 20
	}

	var rows []models.Turn
	err := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("seq DESC").
		Limit(n).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// Repo reads DESC for the limit; callers want chronological.
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

func (r *conversationRepo) EndActive(ctx context.Context, entityID string) error {
	now := time.Now().UTC()
	return r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("entity_id = ? AND active", entityID).
		Updates(map[string]any{"active": false, "ended_at": now}).Error
}

func (r *conversationRepo) GetTurn(ctx context.Context, id string) (*models.Turn, error) {
	var row models.Turn
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

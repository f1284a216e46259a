package services

import (
	"context"
	"errors"
	"time"

	"github.com/babililo/relay/internal/models"
	pgrepo "github.com/babililo/relay/internal/repositories/postgres"
	"github.com/babililo/relay/internal/utils"

	"github.com/google/uuid"
)

type ConversationService interface {
	// AppendTurn stores a turn on the entity's active conversation,
	// creating one if needed. Append order is submission order: the
	// store's sequence column gives the total order.
	AppendTurn(ctx context.Context, entityID, role, content string, tokensUsed int, modelUsed string) (*models.Turn, error)
	// RecentTurns returns the last limit turns of the active
	// conversation in chronological order, plus the conversation id.
	RecentTurns(ctx context.Context, entityID string, limit int) ([]models.Turn, string, error)
	// Turn resolves a turn by id, for action callbacks that reference
	// a delivered response.
	Turn(ctx context.Context, id string) (*models.Turn, error)
	// Clear ends the active conversation; the next message starts a
	// fresh one.
	Clear(ctx context.Context, entityID string) error
}

type conversationService struct {
	convos pgrepo.ConversationRepo
	users  pgrepo.UserRepo
}

func NewConversationService(convos pgrepo.ConversationRepo, users pgrepo.UserRepo) ConversationService {
	return &conversationService{convos: convos, users: users}
}

func (s *conversationService) AppendTurn(ctx context.Context, entityID, role, content string, tokensUsed int, modelUsed string) (*models.Turn, error) {
	const op = "ConversationService.AppendTurn"

	if entityID == "" || role == "" || content == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "entity_id, role, and content are required", nil)
	}
	if role != models.RoleUser && role != models.RoleAssistant {
		return nil, utils.E(utils.CodeInvalidArgument, op, "role must be user or assistant", nil)
	}

	conv, err := s.convos.GetOrCreateActive(ctx, entityID)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to resolve active conversation", err)
	}

	turn := &models.Turn{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		Role:           role,
		Content:        content,
		TokensUsed:     tokensUsed,
		ModelUsed:      modelUsed,
		Timestamp:      time.Now().UTC(),
	}
	if err := s.convos.AppendTurn(ctx, turn); err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to append turn", err)
	}

	if role == models.RoleUser {
		_ = s.users.IncrementMessages(ctx, entityID)
	}
	return turn, nil
}

func (s *conversationService) RecentTurns(ctx context.Context, entityID string, limit int) ([]models.Turn, string, error) {
	const op = "ConversationService.RecentTurns"

	if entityID == "" {
		return nil, "", utils.E(utils.CodeInvalidArgument, op, "entity_id is required", nil)
	}

	conv, err := s.convos.GetOrCreateActive(ctx, entityID)
	if err != nil {
		return nil, "", utils.E(utils.CodeInternal, op, "failed to resolve active conversation", err)
	}

	turns, err := s.convos.RecentTurns(ctx, conv.ID, limit)
	if err != nil {
		return nil, "", utils.E(utils.CodeInternal, op, "failed to list turns", err)
	}
	return turns, conv.ID, nil
}

func (s *conversationService) Turn(ctx context.Context, id string) (*models.Turn, error) {
	const op = "ConversationService.Turn"

	if id == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "turn id is required", nil)
	}
	turn, err := s.convos.GetTurn(ctx, id)
	if errors.Is(err, utils.ErrNotFound) {
		return nil, utils.E(utils.CodeNotFound, op, "turn not found", err)
	}
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to load turn", err)
	}
	return turn, nil
}

func (s *conversationService) Clear(ctx context.Context, entityID string) error {
	const op = "ConversationService.Clear"

	if entityID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "entity_id is required", nil)
	}
	if err := s.convos.EndActive(ctx, entityID); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to end conversation", err)
	}
	return nil
}

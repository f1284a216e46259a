package services

import (
	"context"
	"time"

	"github.com/babililo/relay/internal/models"
	mongorepo "github.com/babililo/relay/internal/repositories/mongo"
	"github.com/babililo/relay/internal/utils"
)

// RunService tracks pipeline invocations in short-lived operational
// documents. Callers treat it as best-effort: tracking failures never
// fail the request.
type RunService interface {
	Begin(ctx context.Context, runID, entityID, conversationID, model string) error
	MarkStreaming(ctx context.Context, runID string) error
	MarkCompleted(ctx context.Context, runID string, chars, segments int, processingMS int64) error
	MarkFailed(ctx context.Context, runID, errMsg string, processingMS int64) error
	MarkDenied(ctx context.Context, runID string) error
	ListByEntity(ctx context.Context, entityID string, limit int64) ([]models.RelayRun, error)
}

type runService struct {
	runs mongorepo.RunRepository
	ttl  time.Duration
}

func NewRunService(runs mongorepo.RunRepository, ttl time.Duration) RunService {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &runService{runs: runs, ttl: ttl}
}

func (s *runService) Begin(ctx context.Context, runID, entityID, conversationID, model string) error {
	const op = "RunService.Begin"

	if runID == "" || entityID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "run_id and entity_id are required", nil)
	}

	now := time.Now().UTC()
	doc := &models.RelayRun{
		RunID:          runID,
		EntityID:       entityID,
		ConversationID: conversationID,
		Model:          model,
		Status:         models.RunPending,
		Timestamp:      now,
		ExpiresAt:      now.Add(s.ttl),
	}
	if err := s.runs.Insert(ctx, doc); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to insert relay run", err)
	}
	return nil
}

func (s *runService) MarkStreaming(ctx context.Context, runID string) error {
	const op = "RunService.MarkStreaming"

	if runID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "run_id is required", nil)
	}
	if err := s.runs.SetStatus(ctx, runID, models.RunStreaming); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update run status", err)
	}
	return nil
}

func (s *runService) MarkCompleted(ctx context.Context, runID string, chars, segments int, processingMS int64) error {
	const op = "RunService.MarkCompleted"

	if runID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "run_id is required", nil)
	}
	if err := s.runs.Finish(ctx, runID, models.RunCompleted, "", chars, segments, processingMS); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to finish run", err)
	}
	return nil
}

func (s *runService) MarkFailed(ctx context.Context, runID, errMsg string, processingMS int64) error {
	const op = "RunService.MarkFailed"

	if runID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "run_id is required", nil)
	}
	if err := s.runs.Finish(ctx, runID, models.RunFailed, errMsg, 0, 0, processingMS); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to finish run", err)
	}
	return nil
}

func (s *runService) MarkDenied(ctx context.Context, runID string) error {
	const op = "RunService.MarkDenied"

	if runID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "run_id is required", nil)
	}
	if err := s.runs.SetStatus(ctx, runID, models.RunDenied); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to update run status", err)
	}
	return nil
}

func (s *runService) ListByEntity(ctx context.Context, entityID string, limit int64) ([]models.RelayRun, error) {
	const op = "RunService.ListByEntity"

	if entityID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "entity_id is required", nil)
	}
	out, err := s.runs.ListByEntity(ctx, entityID, limit)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list relay runs", err)
	}
	return out, nil
}

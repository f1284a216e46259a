package services

import (
	"context"
	"sync"
	"time"

	"github.com/babililo/relay/internal/cache"
	"github.com/babililo/relay/internal/models"
	"github.com/babililo/relay/internal/providers/llm"
	pgrepo "github.com/babililo/relay/internal/repositories/postgres"
	"github.com/babililo/relay/internal/utils"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// DefaultSystemPrompt applies when the entity has no active persona.
const DefaultSystemPrompt = "You are BabililoBot, a helpful, friendly, and intelligent AI assistant. " +
	"You engage in natural conversations, answer questions accurately, and help users with various tasks. " +
	"Be concise but thorough in your responses. If you don't know something, say so honestly."

const personaCacheTTL = 5 * time.Minute

// ContextService assembles the bounded, ordered context window for one
// completion: system prompt, recent history, new input.
type ContextService interface {
	// Build returns the message list plus the active conversation id.
	// A store failure degrades to system prompt + new input; it never
	// fails the request.
	Build(ctx context.Context, entityID, newInput string) ([]llm.Message, string)
	// EstimateTokens uses a fixed characters-per-token ratio. It is a
	// deliberately imprecise heuristic, not a tokenizer.
	EstimateTokens(messages []llm.Message) int
	// Trim drops the oldest non-system messages until the estimate
	// fits the budget. A leading system message is never dropped, and
	// the two most recent messages are protected so the final
	// exchange stays coherent.
	Trim(messages []llm.Message, budgetTokens int) []llm.Message

	// SetPersona replaces the entity's active persona; ClearPersona
	// restores the default prompt. Both invalidate the cached prompt.
	SetPersona(ctx context.Context, entityID, name, systemPrompt string, tags []string) error
	ClearPersona(ctx context.Context, entityID string) error

	SetDocumentContext(entityID, content string)
	ClearDocumentContext(entityID string)
}

type ContextConfig struct {
	ContextSize        int // max recent turns
	CharsPerToken      int
	DocumentContextCap int // chars
}

type contextService struct {
	convos   ConversationService
	personas pgrepo.PersonaRepo
	cache    cache.Cache
	logger   *logrus.Logger
	cfg      ContextConfig

	mu   sync.Mutex
	docs map[string]string // entityID -> uploaded document excerpt
}

func NewContextService(convos ConversationService, personas pgrepo.PersonaRepo, c cache.Cache, logger *logrus.Logger, cfg ContextConfig) ContextService {
	if cfg.ContextSize <= 0 {
		cfg.ContextSize = 20
	}
	if cfg.CharsPerToken <= 0 {
		cfg.CharsPerToken = 4
	}
	if cfg.DocumentContextCap <= 0 {
		cfg.DocumentContextCap = 10000
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &contextService{
		convos:   convos,
		personas: personas,
		cache:    c,
		logger:   logger,
		cfg:      cfg,
		docs:     make(map[string]string),
	}
}

func (s *contextService) Build(ctx context.Context, entityID, newInput string) ([]llm.Message, string) {
	messages := []llm.Message{
		{Role: models.RoleSystem, Content: s.systemPrompt(ctx, entityID)},
	}

	turns, convID, err := s.convos.RecentTurns(ctx, entityID, s.cfg.ContextSize)
	if err != nil {
		// Context is best-effort: a single turn still works without
		// history.
		s.logger.WithError(err).WithField("entity_id", entityID).
			Warn("context build degraded: history unavailable")
	} else {
		for _, t := range turns {
			messages = append(messages, llm.Message{Role: t.Role, Content: t.Content})
		}
	}

	messages = append(messages, llm.Message{Role: models.RoleUser, Content: newInput})
	return messages, convID
}

func (s *contextService) systemPrompt(ctx context.Context, entityID string) string {
	prompt := DefaultSystemPrompt

	if p := s.activePersonaPrompt(ctx, entityID); p != "" {
		prompt = p
	}

	if doc := s.documentContext(entityID); doc != "" {
		capped := doc
		if len(capped) > s.cfg.DocumentContextCap {
			capped = capped[:s.cfg.DocumentContextCap]
		}
		prompt += "\n\n[Document Context]\nThe user has uploaded a document. Use this content to answer their questions:\n\n" + capped
	}
	return prompt
}

func (s *contextService) activePersonaPrompt(ctx context.Context, entityID string) string {
	key := "persona:" + entityID

	if s.cache != nil {
		var cached string
		if hit, err := s.cache.GetJSON(ctx, key, &cached); err == nil && hit {
			return cached
		}
	}

	persona, err := s.personas.ActiveByEntity(ctx, entityID)
	if err != nil {
		// Missing persona or unavailable store both fall back to the
		// default prompt.
		return ""
	}

	if s.cache != nil {
		_ = s.cache.SetJSON(ctx, key, persona.SystemPrompt, personaCacheTTL)
	}
	return persona.SystemPrompt
}

func (s *contextService) EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / s.cfg.CharsPerToken
}

func (s *contextService) Trim(messages []llm.Message, budgetTokens int) []llm.Message {
	if s.EstimateTokens(messages) <= budgetTokens || len(messages) <= 2 {
		return messages
	}

	var system *llm.Message
	rest := messages
	if messages[0].Role == models.RoleSystem {
		system = &messages[0]
		rest = messages[1:]
	}

	// Greedy oldest-first eviction; bounded and deterministic rather
	// than optimal.
	for s.EstimateTokens(messages) > budgetTokens && len(rest) > 2 {
		rest = rest[1:]
		if system != nil {
			messages = append([]llm.Message{*system}, rest...)
		} else {
			messages = rest
		}
	}
	return messages
}

func (s *contextService) SetPersona(ctx context.Context, entityID, name, systemPrompt string, tags []string) error {
	const op = "ContextService.SetPersona"

	if entityID == "" || systemPrompt == "" {
		return utils.E(utils.CodeInvalidArgument, op, "entity_id and system_prompt are required", nil)
	}

	// One active persona per entity: retire the previous one first.
	if err := s.personas.Deactivate(ctx, entityID); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to retire previous persona", err)
	}

	now := time.Now().UTC()
	persona := &models.Persona{
		ID:           uuid.NewString(),
		EntityID:     entityID,
		Name:         name,
		SystemPrompt: systemPrompt,
		Tags:         pq.StringArray(tags),
		Active:       true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.personas.Upsert(ctx, persona); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to store persona", err)
	}

	s.invalidatePersona(ctx, entityID)
	return nil
}

func (s *contextService) ClearPersona(ctx context.Context, entityID string) error {
	const op = "ContextService.ClearPersona"

	if entityID == "" {
		return utils.E(utils.CodeInvalidArgument, op, "entity_id is required", nil)
	}
	if err := s.personas.Deactivate(ctx, entityID); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to deactivate persona", err)
	}

	s.invalidatePersona(ctx, entityID)
	return nil
}

// invalidatePersona drops the cached prompt so the next Build sees the
// change immediately instead of after the TTL.
func (s *contextService) invalidatePersona(ctx context.Context, entityID string) {
	if s.cache != nil {
		_ = s.cache.Del(ctx, "persona:"+entityID)
	}
}

func (s *contextService) SetDocumentContext(entityID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[entityID] = content
}

func (s *contextService) ClearDocumentContext(entityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, entityID)
}

func (s *contextService) documentContext(entityID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[entityID]
}

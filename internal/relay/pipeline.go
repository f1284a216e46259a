package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/babililo/relay/internal/channel"
	"github.com/babililo/relay/internal/models"
	"github.com/babililo/relay/internal/providers/llm"
	"github.com/babililo/relay/internal/ratelimit"
	"github.com/babililo/relay/internal/services"
	"github.com/babililo/relay/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// User-facing copy for the non-success paths.
const (
	msgThinking       = "💭 Thinking..."
	msgRateLimited    = "⏳ Rate limit reached. Please wait %.0f seconds."
	msgBackendLimited = "⏳ AI service rate limited. Try again soon."
	msgGenericFailure = "❌ Sorry, I encountered an error."
)

// Request carries everything one pipeline invocation needs. It is an
// explicit value type: regeneration and normal traffic go through the
// same shape instead of improvised stand-in objects.
type Request struct {
	EntityID   string
	Input      string
	Model      string
	Privileged bool
	Sink       channel.Channel
	// Placeholder, when set, is the already-sent message the live
	// stream edits in place. When nil the pipeline sends its own.
	Placeholder *channel.MessageRef
}

// Outcome summarizes one invocation for the caller.
type Outcome struct {
	RunID       string
	Denied      bool
	WaitSeconds float64
	Text        string
	Segments    int
	Degraded    bool
}

type PipelineConfig struct {
	DefaultModel    string
	Temperature     float64
	MaxTokens       int
	TokenBudget     int
	MaxSegmentChars int
}

// Pipeline runs one inbound request through admission, context
// assembly, streaming, splitting and delivery, strictly in that order.
// Each request executes on its own goroutine; the rate limiter's
// bucket map is the only state shared across requests.
type Pipeline struct {
	limiter  *ratelimit.Limiter
	contexts services.ContextService
	convos   services.ConversationService
	runs     services.RunService
	relay    *StreamRelay
	delivery *Delivery
	logger   *logrus.Logger
	cfg      PipelineConfig
}

func NewPipeline(
	limiter *ratelimit.Limiter,
	contexts services.ContextService,
	convos services.ConversationService,
	runs services.RunService,
	relay *StreamRelay,
	delivery *Delivery,
	logger *logrus.Logger,
	cfg PipelineConfig,
) *Pipeline {
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 4000
	}
	if cfg.MaxSegmentChars <= 0 {
		cfg.MaxSegmentChars = 4000
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Pipeline{
		limiter:  limiter,
		contexts: contexts,
		convos:   convos,
		runs:     runs,
		relay:    relay,
		delivery: delivery,
		logger:   logger,
		cfg:      cfg,
	}
}

// Handle processes one request end to end. Admission denial is a
// control outcome, not an error. Backend rate limiting and generic
// backend failures come back as typed AppErrors after the user-facing
// message has been delivered.
func (p *Pipeline) Handle(ctx context.Context, req Request) (*Outcome, error) {
	const op = "Pipeline.Handle"

	if req.EntityID == "" || req.Input == "" || req.Sink == nil {
		return nil, utils.E(utils.CodeInvalidArgument, op, "entity_id, input, and sink are required", nil)
	}

	runID := uuid.NewString()
	start := time.Now()

	log := p.logger.WithFields(logrus.Fields{
		"run_id":    runID,
		"entity_id": req.EntityID,
	})

	allowed, wait := p.limiter.Admit(req.EntityID, req.Privileged)
	if !allowed {
		log.WithField("wait_seconds", wait).Info("admission denied")
		p.trackDenied(ctx, runID, req)
		_, _ = req.Sink.Send(ctx, fmt.Sprintf(msgRateLimited, wait), channel.SendOptions{Mode: channel.ModePlain})
		return &Outcome{RunID: runID, Denied: true, WaitSeconds: wait}, nil
	}

	placeholder := req.Placeholder
	if placeholder == nil {
		ref, err := req.Sink.Send(ctx, msgThinking, channel.SendOptions{Mode: channel.ModePlain})
		if err != nil {
			return nil, utils.E(utils.CodeUnavailable, op, "failed to send placeholder", err)
		}
		placeholder = ref
	}

	model := req.Model
	if model == "" {
		model = p.cfg.DefaultModel
	}

	messages, convID := p.contexts.Build(ctx, req.EntityID, req.Input)
	messages = p.contexts.Trim(messages, p.cfg.TokenBudget)

	if err := p.trackBegin(ctx, runID, req, convID, model); err == nil {
		p.trackStreaming(ctx, runID)
	}

	result, err := p.relay.Run(ctx, llm.Request{
		Messages:    messages,
		Model:       model,
		Temperature: p.cfg.Temperature,
		MaxTokens:   p.cfg.MaxTokens,
	}, func(preview string) {
		if _, eerr := req.Sink.Edit(ctx, placeholder, preview, channel.SendOptions{Mode: channel.ModePlain}); eerr != nil {
			log.WithError(eerr).Debug("live update edit failed")
		}
	})
	if err != nil {
		return nil, p.failStream(ctx, runID, req, placeholder, start, log, err)
	}

	// Persist the exchange. Storage trouble degrades history, never
	// the delivery of an answer already in hand.
	var assistantTurnID string
	if _, aerr := p.convos.AppendTurn(ctx, req.EntityID, models.RoleUser, req.Input, 0, ""); aerr != nil {
		log.WithError(aerr).Warn("failed to persist user turn")
	}
	if turn, aerr := p.convos.AppendTurn(ctx, req.EntityID, models.RoleAssistant, result.Text, result.TokensCompletion, model); aerr != nil {
		log.WithError(aerr).Warn("failed to persist assistant turn")
	} else {
		assistantTurnID = turn.ID
	}

	segments := Split(result.Text, p.cfg.MaxSegmentChars)
	outcomes := p.delivery.Deliver(ctx, req.Sink, placeholder, segments, responseActions(assistantTurnID))
	for _, o := range outcomes {
		if o.Err != nil {
			log.WithError(o.Err).WithField("segment", o.Index+1).Warn("segment undelivered")
		}
	}

	elapsed := time.Since(start).Milliseconds()
	p.trackCompleted(ctx, runID, len(result.Text), len(segments), elapsed)
	log.WithFields(logrus.Fields{
		"chars":         len(result.Text),
		"segments":      len(segments),
		"degraded":      result.Degraded,
		"used_fallback": result.UsedFallback,
		"latency_ms":    elapsed,
	}).Info("relay completed")

	return &Outcome{
		RunID:    runID,
		Text:     result.Text,
		Segments: len(segments),
		Degraded: result.Degraded,
	}, nil
}

// Regenerate re-runs the entity's last user turn: the current
// conversation is ended so the stale exchange drops out of context,
// then the input goes back through Handle as a plain Request.
func (p *Pipeline) Regenerate(ctx context.Context, entityID string, req Request) (*Outcome, error) {
	const op = "Pipeline.Regenerate"

	turns, _, err := p.convos.RecentTurns(ctx, entityID, 0)
	if err != nil {
		return nil, err
	}

	lastUser := ""
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == models.RoleUser {
			lastUser = turns[i].Content
			break
		}
	}
	if lastUser == "" {
		return nil, utils.E(utils.CodeNotFound, op, "no user turn to regenerate", nil)
	}

	if err := p.convos.Clear(ctx, entityID); err != nil {
		return nil, err
	}

	req.EntityID = entityID
	req.Input = lastUser
	return p.Handle(ctx, req)
}

func (p *Pipeline) failStream(ctx context.Context, runID string, req Request, placeholder *channel.MessageRef, start time.Time, log *logrus.Entry, err error) error {
	const op = "Pipeline.Handle"

	p.trackFailed(ctx, runID, err, time.Since(start).Milliseconds())

	switch {
	case errors.Is(err, context.Canceled):
		// Requester cancelled; nothing useful to deliver.
		log.Info("relay cancelled")
		return utils.E(utils.CodeUnavailable, op, "request cancelled", err)
	case llm.IsRateLimited(err):
		log.WithError(err).Warn("backend rate limited")
		_, _ = req.Sink.Edit(ctx, placeholder, msgBackendLimited, channel.SendOptions{Mode: channel.ModePlain})
		return utils.E(utils.CodeRateLimited, op, "backend rate limited", err)
	case errors.Is(err, context.DeadlineExceeded):
		log.WithError(err).Error("backend timed out")
		_, _ = req.Sink.Edit(ctx, placeholder, msgGenericFailure, channel.SendOptions{Mode: channel.ModePlain})
		return utils.E(utils.CodeTimeout, op, "backend timed out", err)
	default:
		log.WithError(err).Error("backend failed")
		_, _ = req.Sink.Edit(ctx, placeholder, msgGenericFailure, channel.SendOptions{Mode: channel.ModePlain})
		return utils.E(utils.CodeUnavailable, op, "backend failed", err)
	}
}

// responseActions are the affordances attached to the final segment.
// The data round-trips through the client and comes back on an action
// frame.
func responseActions(turnID string) []channel.Action {
	if turnID == "" {
		return nil
	}
	return []channel.Action{
		{Label: "🔄 Regenerate", Data: "regen:" + turnID},
	}
}

// Run tracking is best-effort observability; failures are logged at
// debug and otherwise ignored.

func (p *Pipeline) trackBegin(ctx context.Context, runID string, req Request, convID, model string) error {
	if p.runs == nil {
		return nil
	}
	err := p.runs.Begin(ctx, runID, req.EntityID, convID, model)
	if err != nil {
		p.logger.WithError(err).Debug("run tracking begin failed")
	}
	return err
}

func (p *Pipeline) trackStreaming(ctx context.Context, runID string) {
	if p.runs == nil {
		return
	}
	if err := p.runs.MarkStreaming(ctx, runID); err != nil {
		p.logger.WithError(err).Debug("run tracking update failed")
	}
}

func (p *Pipeline) trackDenied(ctx context.Context, runID string, req Request) {
	if p.runs == nil {
		return
	}
	if err := p.runs.Begin(ctx, runID, req.EntityID, "", ""); err == nil {
		_ = p.runs.MarkDenied(ctx, runID)
	}
}

func (p *Pipeline) trackCompleted(ctx context.Context, runID string, chars, segments int, ms int64) {
	if p.runs == nil {
		return
	}
	if err := p.runs.MarkCompleted(ctx, runID, chars, segments, ms); err != nil {
		p.logger.WithError(err).Debug("run tracking update failed")
	}
}

func (p *Pipeline) trackFailed(ctx context.Context, runID string, cause error, ms int64) {
	if p.runs == nil {
		return
	}
	if err := p.runs.MarkFailed(ctx, runID, cause.Error(), ms); err != nil {
		p.logger.WithError(err).Debug("run tracking update failed")
	}
}

package relay

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/babililo/relay/internal/models"
	"github.com/babililo/relay/internal/providers/llm"
	"github.com/babililo/relay/internal/ratelimit"
	"github.com/babililo/relay/internal/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeContexts is a minimal ContextService: default prompt plus the
// new input, no history, no trimming.
type fakeContexts struct{}

func (fakeContexts) Build(_ context.Context, _ string, newInput string) ([]llm.Message, string) {
	return []llm.Message{
		{Role: models.RoleSystem, Content: "system prompt"},
		{Role: models.RoleUser, Content: newInput},
	}, "conv-1"
}

func (fakeContexts) EstimateTokens(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / 4
}

func (fakeContexts) Trim(messages []llm.Message, _ int) []llm.Message { return messages }

func (fakeContexts) SetPersona(context.Context, string, string, string, []string) error { return nil }
func (fakeContexts) ClearPersona(context.Context, string) error                         { return nil }

func (fakeContexts) SetDocumentContext(string, string) {}
func (fakeContexts) ClearDocumentContext(string)       {}

// fakeConvos stores turns in memory.
type fakeConvos struct {
	mu      sync.Mutex
	turns   []models.Turn
	cleared int
}

func (f *fakeConvos) AppendTurn(_ context.Context, entityID, role, content string, tokensUsed int, modelUsed string) (*models.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	turn := models.Turn{
		ID:             "turn-" + strconv.Itoa(len(f.turns)+1),
		ConversationID: "conv-1",
		Role:           role,
		Content:        content,
		TokensUsed:     tokensUsed,
		ModelUsed:      modelUsed,
		Timestamp:      time.Now().UTC(),
	}
	f.turns = append(f.turns, turn)
	return &turn, nil
}

func (f *fakeConvos) RecentTurns(_ context.Context, _ string, _ int) ([]models.Turn, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Turn, len(f.turns))
	copy(out, f.turns)
	return out, "conv-1", nil
}

func (f *fakeConvos) Turn(_ context.Context, id string) (*models.Turn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.turns {
		if f.turns[i].ID == id {
			turn := f.turns[i]
			return &turn, nil
		}
	}
	return nil, utils.E(utils.CodeNotFound, "fake", "turn not found", nil)
}

func (f *fakeConvos) Clear(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.turns = nil
	f.cleared++
	return nil
}

func newTestPipeline(mock *llm.Mock, capacity int, cfg PipelineConfig) (*Pipeline, *fakeConvos) {
	convos := &fakeConvos{}
	limiter := ratelimit.NewLimiter(capacity, time.Minute, nil)

	relay := NewStreamRelay(mock, nil, RelayConfig{})
	relay.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) } // frozen: no live emits

	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "test-model"
	}
	p := NewPipeline(limiter, fakeContexts{}, convos, nil, relay, NewDelivery(nil), nil, cfg)
	return p, convos
}

func TestHandleEndToEnd(t *testing.T) {
	mock := &llm.Mock{Fragments: []string{"Hel", "lo, ", "world"}}
	p, convos := newTestPipeline(mock, 10, PipelineConfig{})
	ch := &fakeChannel{}

	out, err := p.Handle(context.Background(), Request{
		EntityID: "user-1",
		Input:    "greet me",
		Sink:     ch,
	})

	require.NoError(t, err)
	assert.Equal(t, "Hello, world", out.Text)
	assert.Equal(t, 1, out.Segments)
	assert.False(t, out.Denied)

	calls := ch.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "send", calls[0].Kind)
	assert.Contains(t, calls[0].Text, "Thinking")
	assert.Equal(t, "edit", calls[1].Kind, "the answer replaces the placeholder in place")
	assert.Equal(t, "Hello, world", calls[1].Text)
	assert.NotEmpty(t, calls[1].Opts.Actions, "final segment carries response actions")

	// Both sides of the exchange were persisted.
	require.Len(t, convos.turns, 2)
	assert.Equal(t, models.RoleUser, convos.turns[0].Role)
	assert.Equal(t, "greet me", convos.turns[0].Content)
	assert.Equal(t, models.RoleAssistant, convos.turns[1].Role)
	assert.Equal(t, "Hello, world", convos.turns[1].Content)
	assert.Equal(t, "test-model", convos.turns[1].ModelUsed)
}

func TestHandleRejectsInvalidRequest(t *testing.T) {
	mock := &llm.Mock{}
	p, _ := newTestPipeline(mock, 10, PipelineConfig{})

	_, err := p.Handle(context.Background(), Request{EntityID: "user-1", Sink: &fakeChannel{}})

	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	assert.Equal(t, 0, mock.StreamCalls)
}

func TestHandleAdmissionDenied(t *testing.T) {
	mock := &llm.Mock{Fragments: []string{"ok"}}
	p, _ := newTestPipeline(mock, 2, PipelineConfig{})
	ch := &fakeChannel{}

	req := Request{EntityID: "user-1", Input: "hi", Sink: ch}
	for i := 0; i < 2; i++ {
		out, err := p.Handle(context.Background(), req)
		require.NoError(t, err)
		require.False(t, out.Denied)
	}

	out, err := p.Handle(context.Background(), req)
	require.NoError(t, err, "denial is a control outcome, not an error")
	assert.True(t, out.Denied)
	assert.Greater(t, out.WaitSeconds, 0.0)
	assert.Equal(t, 2, mock.StreamCalls, "denied request never reaches the backend")

	calls := ch.snapshot()
	last := calls[len(calls)-1]
	assert.Equal(t, "send", last.Kind)
	assert.Contains(t, last.Text, "Rate limit reached")
}

func TestHandlePrivilegedBypassesAdmission(t *testing.T) {
	mock := &llm.Mock{Fragments: []string{"ok"}}
	p, _ := newTestPipeline(mock, 1, PipelineConfig{})
	ch := &fakeChannel{}

	for i := 0; i < 5; i++ {
		out, err := p.Handle(context.Background(), Request{
			EntityID:   "admin-1",
			Input:      "hi",
			Privileged: true,
			Sink:       ch,
		})
		require.NoError(t, err)
		require.False(t, out.Denied, "privileged request %d must bypass the bucket", i+1)
	}
	assert.Equal(t, 5, mock.StreamCalls)
}

func TestHandleBackendRateLimited(t *testing.T) {
	quotaErr := &llm.APIError{StatusCode: http.StatusTooManyRequests, Message: "quota exceeded"}
	mock := &llm.Mock{StreamErr: quotaErr, CompleteErr: quotaErr}
	p, convos := newTestPipeline(mock, 10, PipelineConfig{})
	ch := &fakeChannel{}

	_, err := p.Handle(context.Background(), Request{EntityID: "user-1", Input: "hi", Sink: ch})

	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeRateLimited),
		"backend quota errors surface distinctly from generic failures")

	calls := ch.snapshot()
	last := calls[len(calls)-1]
	assert.Equal(t, "edit", last.Kind)
	assert.Contains(t, last.Text, "AI service rate limited")

	assert.Empty(t, convos.turns, "a failed exchange is not persisted")
}

func TestHandleGenericBackendFailure(t *testing.T) {
	mock := &llm.Mock{
		StreamErr:   &llm.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"},
		CompleteErr: &llm.APIError{StatusCode: http.StatusInternalServerError, Message: "boom"},
	}
	p, _ := newTestPipeline(mock, 10, PipelineConfig{})
	ch := &fakeChannel{}

	_, err := p.Handle(context.Background(), Request{EntityID: "user-1", Input: "hi", Sink: ch})

	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeUnavailable))

	calls := ch.snapshot()
	last := calls[len(calls)-1]
	assert.Contains(t, last.Text, "encountered an error")
}

func TestHandleLongAnswerSplitsAcrossMessages(t *testing.T) {
	long := strings.Repeat("All work and no play makes a dull bot. ", 10) // ~400 chars
	mock := &llm.Mock{Fragments: []string{long}}
	p, _ := newTestPipeline(mock, 10, PipelineConfig{MaxSegmentChars: 120})
	ch := &fakeChannel{}

	out, err := p.Handle(context.Background(), Request{EntityID: "user-1", Input: "hi", Sink: ch})

	require.NoError(t, err)
	require.GreaterOrEqual(t, out.Segments, 3)

	calls := ch.snapshot()
	// Placeholder send, then one call per segment.
	require.Len(t, calls, 1+out.Segments)
	assert.Equal(t, "edit", calls[1].Kind)
	assert.True(t, strings.HasPrefix(calls[1].Text, "Part 1/"))
	for i := 2; i < len(calls); i++ {
		assert.Equal(t, "send", calls[i].Kind)
	}
	lastCall := calls[len(calls)-1]
	assert.True(t, strings.HasPrefix(lastCall.Text, "Part "+strconv.Itoa(out.Segments)+"/"))
	assert.NotEmpty(t, lastCall.Opts.Actions)
}

func TestRegenerateRerunsLastUserTurn(t *testing.T) {
	mock := &llm.Mock{Fragments: []string{"a better answer"}}
	p, convos := newTestPipeline(mock, 10, PipelineConfig{})
	ch := &fakeChannel{}

	_, _ = convos.AppendTurn(context.Background(), "user-1", models.RoleUser, "What is Go?", 0, "")
	_, _ = convos.AppendTurn(context.Background(), "user-1", models.RoleAssistant, "a stale answer", 0, "m")

	out, err := p.Regenerate(context.Background(), "user-1", Request{Sink: ch})

	require.NoError(t, err)
	assert.Equal(t, "a better answer", out.Text)
	assert.Equal(t, 1, convos.cleared, "the stale exchange is dropped before the rerun")

	msgs := mock.LastRequest.Messages
	require.NotEmpty(t, msgs)
	assert.Equal(t, "What is Go?", msgs[len(msgs)-1].Content)

	// The rerun persisted a fresh exchange.
	require.Len(t, convos.turns, 2)
	assert.Equal(t, "What is Go?", convos.turns[0].Content)
	assert.Equal(t, "a better answer", convos.turns[1].Content)
}

func TestRegenerateWithoutHistory(t *testing.T) {
	mock := &llm.Mock{}
	p, _ := newTestPipeline(mock, 10, PipelineConfig{})

	_, err := p.Regenerate(context.Background(), "user-1", Request{Sink: &fakeChannel{}})

	require.Error(t, err)
	assert.True(t, utils.IsCode(err, utils.CodeNotFound))
	assert.Equal(t, 0, mock.StreamCalls)
}

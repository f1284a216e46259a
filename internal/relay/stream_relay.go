package relay

import (
	"context"
	"strings"
	"time"

	"github.com/babililo/relay/internal/providers/llm"

	"github.com/sirupsen/logrus"
)

// State of one streamed completion.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// liveCursor is appended to live previews so the client can tell the
// response is still growing.
const liveCursor = " ▌"

// Result is the terminal outcome of a stream.
type Result struct {
	Text  string
	State State
	// Degraded is set when the stream broke mid-way and the partial
	// buffer was kept as the final text.
	Degraded bool
	// UsedFallback is set when the text came from the non-streaming
	// fallback call.
	UsedFallback     bool
	TokensPrompt     int
	TokensCompletion int
}

type RelayConfig struct {
	// UpdateInterval and UpdateMinDelta gate live emissions: both must
	// hold before a partial update is pushed, to avoid update storms
	// on the delivery channel.
	UpdateInterval time.Duration
	UpdateMinDelta int
	// LivePreviewCap bounds the size of any single live edit. The
	// terminal delivery always carries the full text.
	LivePreviewCap  int
	StreamTimeout   time.Duration
	FallbackTimeout time.Duration
}

func (c *RelayConfig) applyDefaults() {
	if c.UpdateInterval <= 0 {
		c.UpdateInterval = 500 * time.Millisecond
	}
	if c.UpdateMinDelta <= 0 {
		c.UpdateMinDelta = 20
	}
	if c.LivePreviewCap <= 0 {
		c.LivePreviewCap = 3900
	}
	if c.StreamTimeout <= 0 {
		c.StreamTimeout = 60 * time.Second
	}
	if c.FallbackTimeout <= 0 {
		c.FallbackTimeout = 60 * time.Second
	}
}

// StreamRelay consumes the backend token stream for one request,
// accumulates the text, and pushes gated live updates. The
// accumulator is owned by the single goroutine running the request;
// nothing else observes it.
type StreamRelay struct {
	provider llm.Provider
	logger   *logrus.Logger
	cfg      RelayConfig
	now      func() time.Time // overridable in tests
}

func NewStreamRelay(provider llm.Provider, logger *logrus.Logger, cfg RelayConfig) *StreamRelay {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.New()
	}
	return &StreamRelay{
		provider: provider,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// Run drives the state machine Idle → Streaming → Completed/Failed.
// emit, if non-nil, receives gated live previews while the stream is
// open. On a stream error with accumulated text, the partial buffer
// becomes the result; on a stream error with nothing accumulated, one
// non-streaming fallback call is made before declaring failure.
// Cancelling ctx stops consumption and releases the backend stream.
func (r *StreamRelay) Run(ctx context.Context, req llm.Request, emit func(preview string)) (*Result, error) {
	streamCtx, cancel := context.WithTimeout(ctx, r.cfg.StreamTimeout)
	defer cancel()

	chunks, errs := r.provider.Stream(streamCtx, req)

	var buf strings.Builder
	lastEmitLen := 0
	lastEmitTime := r.now()

consume:
	for {
		select {
		case <-ctx.Done():
			// Requester gone (conversation cleared, connection dropped):
			// cancel the backend stream rather than orphan it.
			cancel()
			return nil, ctx.Err()
		case chunk, ok := <-chunks:
			if !ok {
				break consume
			}
			buf.WriteString(chunk)

			if emit == nil {
				continue
			}
			now := r.now()
			if now.Sub(lastEmitTime) >= r.cfg.UpdateInterval && buf.Len()-lastEmitLen >= r.cfg.UpdateMinDelta {
				emit(r.preview(buf.String()))
				lastEmitLen = buf.Len()
				lastEmitTime = now
			}
		}
	}

	// The provider closes errs after out, so this cannot block.
	streamErr := <-errs

	if streamErr == nil {
		return &Result{Text: buf.String(), State: StateCompleted}, nil
	}

	if buf.Len() > 0 {
		// Graceful degradation: a broken stream with partial text is
		// still a usable answer.
		r.logger.WithError(streamErr).WithField("chars", buf.Len()).
			Warn("stream broke mid-response; keeping partial buffer")
		return &Result{Text: buf.String(), State: StateCompleted, Degraded: true}, nil
	}

	r.logger.WithError(streamErr).Warn("stream failed before any output; trying non-streaming fallback")

	fbCtx, fbCancel := context.WithTimeout(ctx, r.cfg.FallbackTimeout)
	defer fbCancel()

	comp, err := r.provider.Complete(fbCtx, req)
	if err != nil {
		return &Result{State: StateFailed}, err
	}
	return &Result{
		Text:             comp.Content,
		State:            StateCompleted,
		UsedFallback:     true,
		TokensPrompt:     comp.TokensPrompt,
		TokensCompletion: comp.TokensCompletion,
	}, nil
}

// preview bounds a live update to a prefix of the buffer.
func (r *StreamRelay) preview(text string) string {
	runes := []rune(text)
	if len(runes) > r.cfg.LivePreviewCap {
		runes = runes[:r.cfg.LivePreviewCap]
	}
	return string(runes) + liveCursor
}

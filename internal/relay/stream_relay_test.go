package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/babililo/relay/internal/providers/llm"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock advances a fixed amount every time it is read, making
// the emit gate deterministic without sleeping.
type steppingClock struct {
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestRelay(provider llm.Provider, cfg RelayConfig, step time.Duration) *StreamRelay {
	r := NewStreamRelay(provider, nil, cfg)
	clock := &steppingClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), step: step}
	r.now = clock.Now
	return r
}

func TestRunAccumulatesFragmentsInOrder(t *testing.T) {
	mock := &llm.Mock{Fragments: []string{"Hel", "lo, ", "world"}}
	r := newTestRelay(mock, RelayConfig{}, 0)

	result, err := r.Run(context.Background(), llm.Request{Model: "m"}, nil)

	require.NoError(t, err)
	assert.Equal(t, "Hello, world", result.Text)
	assert.Equal(t, StateCompleted, result.State)
	assert.False(t, result.Degraded)
	assert.False(t, result.UsedFallback)
}

func TestRunKeepsPartialBufferOnStreamError(t *testing.T) {
	mock := &llm.Mock{
		Fragments: []string{"Hel", "lo, ", "world"},
		StreamErr: errors.New("connection reset"),
	}
	r := newTestRelay(mock, RelayConfig{}, 0)

	result, err := r.Run(context.Background(), llm.Request{}, nil)

	require.NoError(t, err, "a partial buffer is a usable answer, not an error")
	assert.Equal(t, "Hello, world", result.Text)
	assert.True(t, result.Degraded)
	assert.Equal(t, 0, mock.CompleteCalls, "fallback must not fire when text was accumulated")
}

func TestRunFallsBackWhenStreamYieldsNothing(t *testing.T) {
	mock := &llm.Mock{
		StreamErr:  errors.New("stream refused"),
		Completion: &llm.Completion{Content: "fallback answer", TokensCompletion: 3},
	}
	r := newTestRelay(mock, RelayConfig{}, 0)

	result, err := r.Run(context.Background(), llm.Request{}, nil)

	require.NoError(t, err)
	assert.Equal(t, "fallback answer", result.Text)
	assert.True(t, result.UsedFallback)
	assert.Equal(t, 3, result.TokensCompletion)
	assert.Equal(t, 1, mock.CompleteCalls)
}

func TestRunFailsWhenStreamAndFallbackFail(t *testing.T) {
	mock := &llm.Mock{
		StreamErr:   errors.New("stream refused"),
		CompleteErr: errors.New("backend down"),
	}
	r := newTestRelay(mock, RelayConfig{}, 0)

	result, err := r.Run(context.Background(), llm.Request{}, nil)

	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)
}

func TestRunEmitGateRequiresIntervalAndDelta(t *testing.T) {
	fragments := []string{
		strings.Repeat("a", 30), // big enough delta
		"bb",                    // too small even after the interval
		strings.Repeat("c", 30),
	}
	mock := &llm.Mock{Fragments: fragments}

	cfg := RelayConfig{UpdateInterval: 500 * time.Millisecond, UpdateMinDelta: 20}
	r := newTestRelay(mock, cfg, time.Second) // every clock read jumps past the interval

	var previews []string
	_, err := r.Run(context.Background(), llm.Request{}, func(p string) {
		previews = append(previews, p)
	})
	require.NoError(t, err)

	// First and third fragments pass both gates; the two-char fragment
	// passes the interval gate but not the delta gate.
	require.Len(t, previews, 2)
	assert.Equal(t, strings.Repeat("a", 30)+liveCursor, previews[0])
	assert.Equal(t, strings.Repeat("a", 30)+"bb"+strings.Repeat("c", 30)+liveCursor, previews[1])
}

func TestRunNoEmitBeforeInterval(t *testing.T) {
	mock := &llm.Mock{Fragments: []string{strings.Repeat("a", 100), strings.Repeat("b", 100)}}

	cfg := RelayConfig{UpdateInterval: 500 * time.Millisecond, UpdateMinDelta: 1}
	r := newTestRelay(mock, cfg, 0) // frozen clock: interval never elapses

	emitted := 0
	_, err := r.Run(context.Background(), llm.Request{}, func(string) { emitted++ })

	require.NoError(t, err)
	assert.Equal(t, 0, emitted)
}

func TestRunPreviewIsBounded(t *testing.T) {
	mock := &llm.Mock{Fragments: []string{strings.Repeat("x", 500)}}

	cfg := RelayConfig{UpdateInterval: time.Millisecond, UpdateMinDelta: 1, LivePreviewCap: 100}
	r := newTestRelay(mock, cfg, time.Second)

	var previews []string
	_, err := r.Run(context.Background(), llm.Request{}, func(p string) {
		previews = append(previews, p)
	})
	require.NoError(t, err)

	require.NotEmpty(t, previews)
	for _, p := range previews {
		assert.True(t, strings.HasSuffix(p, liveCursor))
		assert.LessOrEqual(t, len([]rune(p)), 100+len([]rune(liveCursor)))
	}
}

// blockedProvider opens a stream that never produces anything, for
// exercising caller cancellation.
type blockedProvider struct{}

func (blockedProvider) Close() error { return nil }

func (blockedProvider) Complete(context.Context, llm.Request) (*llm.Completion, error) {
	return nil, errors.New("not used")
}

func (blockedProvider) Stream(ctx context.Context, _ llm.Request) (<-chan string, <-chan error) {
	out := make(chan string)
	errs := make(chan error, 1)
	go func() {
		<-ctx.Done()
		close(out)
		errs <- ctx.Err()
		close(errs)
	}()
	return out, errs
}

func TestRunStopsOnCancellation(t *testing.T) {
	r := NewStreamRelay(blockedProvider{}, nil, RelayConfig{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := r.Run(ctx, llm.Request{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

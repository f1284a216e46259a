package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsAdmin(t *testing.T) {
	t.Setenv("ADMIN_ENTITY_IDS", "42, 1001,")

	s := LoadSettings()

	assert.True(t, s.IsAdmin("42"))
	assert.True(t, s.IsAdmin("1001"), "whitespace around ids is trimmed")
	assert.False(t, s.IsAdmin("7"))
	assert.False(t, s.IsAdmin(""))
}

func TestIsAdminEmptyList(t *testing.T) {
	t.Setenv("ADMIN_ENTITY_IDS", "")

	s := LoadSettings()
	assert.False(t, s.IsAdmin("42"))
}

func TestEnvDurationAcceptsBareSeconds(t *testing.T) {
	t.Setenv("RATE_LIMIT_WINDOW", "90")
	t.Setenv("STREAM_UPDATE_INTERVAL", "250ms")

	s := LoadSettings()

	assert.Equal(t, 90*time.Second, s.RateLimitWindow)
	assert.Equal(t, 250*time.Millisecond, s.UpdateInterval)
}

func TestSettingsDefaults(t *testing.T) {
	for _, key := range []string{
		"RATE_LIMIT_MESSAGES", "RATE_LIMIT_WINDOW",
		"CONVERSATION_CONTEXT_SIZE", "CONTEXT_TOKEN_BUDGET",
		"MAX_SEGMENT_CHARS", "STREAM_UPDATE_INTERVAL", "STREAM_UPDATE_MIN_DELTA",
	} {
		t.Setenv(key, "")
	}

	s := LoadSettings()

	assert.Equal(t, 10, s.RateLimitMessages)
	assert.Equal(t, 60*time.Second, s.RateLimitWindow)
	assert.Equal(t, 20, s.ContextSize)
	assert.Equal(t, 4000, s.ContextTokenBudget)
	assert.Equal(t, 4000, s.MaxSegmentChars)
	assert.Equal(t, 500*time.Millisecond, s.UpdateInterval)
	assert.Equal(t, 20, s.UpdateMinDelta)
}

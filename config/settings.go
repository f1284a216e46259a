package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings collects the tunables of the relay pipeline. Everything is
// loaded from environment variables with defaults that match the
// production deployment; none of these are hard invariants.
type Settings struct {
	// Rate limiting
	RateLimitMessages      int           // bucket capacity per entity
	RateLimitWindow        time.Duration // window over which the bucket refills
	RateLimitBucketMaxIdle time.Duration // idle buckets older than this are evicted
	RateLimitSweepInterval time.Duration

	// Context assembly
	ContextSize        int // max recent turns pulled from the store
	ContextTokenBudget int
	CharsPerToken      int // estimate heuristic, not a tokenizer
	DocumentContextCap int // hard cap on excerpted document context, in chars

	// Streaming
	DefaultModel        string
	MaxCompletionTokens int
	Temperature         float64
	StreamTimeout       time.Duration
	FallbackTimeout     time.Duration
	UpdateInterval      time.Duration // min time between live edits
	UpdateMinDelta      int           // min rendered growth between live edits, in chars
	LivePreviewCap      int           // live edits are truncated to this many chars

	// Delivery
	MaxSegmentChars int

	// Admin
	AdminEntityIDs []string
}

func LoadSettings() Settings {
	return Settings{
		RateLimitMessages:      envInt("RATE_LIMIT_MESSAGES", 10),
		RateLimitWindow:        envDuration("RATE_LIMIT_WINDOW", 60*time.Second),
		RateLimitBucketMaxIdle: envDuration("RATE_LIMIT_BUCKET_MAX_IDLE", time.Hour),
		RateLimitSweepInterval: envDuration("RATE_LIMIT_SWEEP_INTERVAL", 10*time.Minute),

		ContextSize:        envInt("CONVERSATION_CONTEXT_SIZE", 20),
		ContextTokenBudget: envInt("CONTEXT_TOKEN_BUDGET", 4000),
		CharsPerToken:      envInt("CHARS_PER_TOKEN", 4),
		DocumentContextCap: envInt("DOCUMENT_CONTEXT_CAP", 10000),

		DefaultModel:        envStr("LLM_DEFAULT_MODEL", "google/gemma-3-27b-it:free"),
		MaxCompletionTokens: envInt("LLM_MAX_TOKENS", 2048),
		Temperature:         envFloat("LLM_TEMPERATURE", 0.7),
		StreamTimeout:       envDuration("LLM_STREAM_TIMEOUT", 60*time.Second),
		FallbackTimeout:     envDuration("LLM_FALLBACK_TIMEOUT", 60*time.Second),
		UpdateInterval:      envDuration("STREAM_UPDATE_INTERVAL", 500*time.Millisecond),
		UpdateMinDelta:      envInt("STREAM_UPDATE_MIN_DELTA", 20),
		LivePreviewCap:      envInt("STREAM_LIVE_PREVIEW_CAP", 3900),

		MaxSegmentChars: envInt("MAX_SEGMENT_CHARS", 4000),

		AdminEntityIDs: envList("ADMIN_ENTITY_IDS"),
	}
}

// IsAdmin reports whether the entity is listed as privileged.
func (s Settings) IsAdmin(entityID string) bool {
	for _, id := range s.AdminEntityIDs {
		if id == entityID {
			return true
		}
	}
	return false
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// envDuration accepts Go duration strings ("500ms") or bare seconds ("60").
func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func envList(key string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// Message is one role-tagged entry of the context window sent to the
// backend.
type Message struct {
	Role    string `json:"role"` // "system" | "user" | "assistant"
	Content string `json:"content"`
}

type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

type Completion struct {
	Content          string
	Model            string
	TokensPrompt     int
	TokensCompletion int
	FinishReason     string
}

// APIError carries the backend's HTTP status so callers can tell a
// backend rate limit apart from a generic failure.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm api error: %s", e.Message)
}

// IsRateLimited reports whether the backend rejected the request for
// quota reasons.
func IsRateLimited(err error) bool {
	var ae *APIError
	return errors.As(err, &ae) && ae.StatusCode == http.StatusTooManyRequests
}

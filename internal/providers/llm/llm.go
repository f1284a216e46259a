package llm

import "context"

type Provider interface {
	// Complete sends a blocking chat completion request (the
	// non-streaming fallback path).
	Complete(ctx context.Context, req Request) (*Completion, error)
	// Stream returns a stream of text fragments (incremental).
	Stream(ctx context.Context, req Request) (chunks <-chan string, errs <-chan error)
	Close() error
}

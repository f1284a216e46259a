package llm

import "context"

// Mock is a scripted provider for tests. Fragments are streamed in
// order; a non-nil StreamErr is surfaced after the fragments. Complete
// returns the configured completion or error.
type Mock struct {
	Fragments   []string
	StreamErr   error
	Completion  *Completion
	CompleteErr error

	StreamCalls   int
	CompleteCalls int
	LastRequest   Request
}

func (m *Mock) Close() error { return nil }

func (m *Mock) Complete(_ context.Context, r Request) (*Completion, error) {
	m.CompleteCalls++
	m.LastRequest = r
	if m.CompleteErr != nil {
		return nil, m.CompleteErr
	}
	if m.Completion != nil {
		return m.Completion, nil
	}
	return &Completion{Content: "", Model: r.Model}, nil
}

func (m *Mock) Stream(ctx context.Context, r Request) (<-chan string, <-chan error) {
	m.StreamCalls++
	m.LastRequest = r

	out := make(chan string, len(m.Fragments)+1)
	errs := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errs)

		for _, f := range m.Fragments {
			select {
			case out <- f:
			case <-ctx.Done():
				errs <- ctx.Err()
				return
			}
		}
		if m.StreamErr != nil {
			errs <- m.StreamErr
		}
	}()

	return out, errs
}

package channel

import (
	"context"
	"errors"
)

// Mode selects how the channel renders outgoing text.
type Mode string

const (
	ModeMarkdown Mode = "markdown"
	ModePlain    Mode = "plain"
)

// ErrFormattingRejected is returned by a channel when the payload was
// refused specifically because of its formatting. It is the only error
// the delivery coordinator recovers from, by retrying unformatted.
var ErrFormattingRejected = errors.New("formatting rejected by channel")

// MessageRef identifies a message already delivered on the channel, so
// it can be edited in place.
type MessageRef struct {
	ID string
}

// Action is an interactive affordance attached to a delivered message
// (regenerate, save, export and the like). The channel decides how to
// render it.
type Action struct {
	Label string `json:"label"`
	Data  string `json:"data"`
}

// SendOptions carry formatting and affordances for one send or edit.
type SendOptions struct {
	Mode    Mode
	Actions []Action
}

// Channel is the outbound delivery surface. Implementations must keep
// Send/Edit safe for use from a single request goroutine; the pipeline
// never shares one logical message across requests.
type Channel interface {
	Send(ctx context.Context, text string, opts SendOptions) (*MessageRef, error)
	Edit(ctx context.Context, ref *MessageRef, text string, opts SendOptions) (*MessageRef, error)
}

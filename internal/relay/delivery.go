package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/babililo/relay/internal/channel"

	"github.com/sirupsen/logrus"
)

// SegmentOutcome records what happened to one segment. Delivery is
// best-effort: a failed segment is logged and the rest still go out.
type SegmentOutcome struct {
	Index int
	Ref   *channel.MessageRef
	Err   error
}

// Delivery sequences split segments onto an outbound channel. The
// first segment edits the placeholder message in place when one
// exists; the rest are appended as new messages. The last segment
// carries the response's action affordances.
type Delivery struct {
	logger *logrus.Logger
}

func NewDelivery(logger *logrus.Logger) *Delivery {
	if logger == nil {
		logger = logrus.New()
	}
	return &Delivery{logger: logger}
}

// Deliver sends segments in index order. Splitting has already fully
// completed, so the part markers reflect the final count. The only
// retry is the formatting fallback: a channel rejecting the formatted
// payload gets the same segment once more, unformatted.
func (d *Delivery) Deliver(ctx context.Context, ch channel.Channel, placeholder *channel.MessageRef, segments []string, actions []channel.Action) []SegmentOutcome {
	n := len(segments)
	outcomes := make([]SegmentOutcome, 0, n)

	for i, seg := range segments {
		text := seg
		if n > 1 {
			text = fmt.Sprintf("Part %d/%d\n%s", i+1, n, seg)
		}

		opts := channel.SendOptions{Mode: channel.ModeMarkdown}
		if i == n-1 {
			opts.Actions = actions
		}

		ref, err := d.deliverOne(ctx, ch, placeholder, i, text, opts)
		if err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"segment": i + 1,
				"total":   n,
			}).Error("segment delivery failed")
		}
		outcomes = append(outcomes, SegmentOutcome{Index: i, Ref: ref, Err: err})
	}
	return outcomes
}

func (d *Delivery) deliverOne(ctx context.Context, ch channel.Channel, placeholder *channel.MessageRef, index int, text string, opts channel.SendOptions) (*channel.MessageRef, error) {
	ref, err := d.attempt(ctx, ch, placeholder, index, text, opts)
	if errors.Is(err, channel.ErrFormattingRejected) {
		// Formatting fallback, not transient-error retry.
		opts.Mode = channel.ModePlain
		ref, err = d.attempt(ctx, ch, placeholder, index, text, opts)
	}
	return ref, err
}

func (d *Delivery) attempt(ctx context.Context, ch channel.Channel, placeholder *channel.MessageRef, index int, text string, opts channel.SendOptions) (*channel.MessageRef, error) {
	if index == 0 && placeholder != nil {
		return ch.Edit(ctx, placeholder, text, opts)
	}
	return ch.Send(ctx, text, opts)
}

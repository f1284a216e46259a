package channel

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisChannel publishes delivery frames onto a per-entity pub/sub
// channel, for deployments where the socket-holding front end runs in
// another process. Frames reuse the WebSocket wire shape so the front
// end forwards them as-is.
type RedisChannel struct {
	rdb     *redis.Client
	pubName string
}

func NewRedisChannel(rdb *redis.Client, entityID string) *RedisChannel {
	return &RedisChannel{rdb: rdb, pubName: "relay:" + entityID + ":out"}
}

func (r *RedisChannel) publish(ctx context.Context, f wsFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return r.rdb.Publish(ctx, r.pubName, string(b)).Err()
}

func (r *RedisChannel) Send(ctx context.Context, text string, opts SendOptions) (*MessageRef, error) {
	id := uuid.NewString()
	if err := r.publish(ctx, wsFrame{
		Type:    "message",
		ID:      id,
		Text:    text,
		Mode:    opts.Mode,
		Actions: opts.Actions,
	}); err != nil {
		return nil, err
	}
	return &MessageRef{ID: id}, nil
}

func (r *RedisChannel) Edit(ctx context.Context, ref *MessageRef, text string, opts SendOptions) (*MessageRef, error) {
	if ref == nil {
		return r.Send(ctx, text, opts)
	}
	if err := r.publish(ctx, wsFrame{
		Type:    "edit",
		ID:      ref.ID,
		Text:    text,
		Mode:    opts.Mode,
		Actions: opts.Actions,
	}); err != nil {
		return nil, err
	}
	return ref, nil
}

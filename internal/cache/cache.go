package cache

import (
	"context"
	"time"
)

// Cache is the read-through cache used for derived values that are
// cheap to rebuild, like the active persona prompt. A miss is never an
// error; Del is the invalidation hook for writers.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) (hit bool, err error)
	SetJSON(ctx context.Context, key string, val any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

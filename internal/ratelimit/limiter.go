package ratelimit

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Stats is a snapshot of the limiter for observability endpoints.
type Stats struct {
	ActiveBuckets int     `json:"active_buckets"`
	Capacity      int     `json:"capacity"`
	RefillRate    float64 `json:"refill_rate"`
}

// Limiter owns the entity→bucket map. All map access and bucket
// arithmetic happens under one mutex, held only for the arithmetic —
// never across I/O.
type Limiter struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket

	capacity   int
	refillRate float64 // capacity / window

	logger *logrus.Logger
	now    func() time.Time // overridable in tests
}

func NewLimiter(capacity int, window time.Duration, logger *logrus.Logger) *Limiter {
	if capacity <= 0 {
		capacity = 10
	}
	if window <= 0 {
		window = time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Limiter{
		buckets:    make(map[string]*TokenBucket),
		capacity:   capacity,
		refillRate: float64(capacity) / window.Seconds(),
		logger:     logger,
		now:        time.Now,
	}
}

// Admit checks whether the entity may proceed. Privileged entities
// bypass the bucket entirely; their traffic is assumed bounded by
// other means. For everyone else one token is consumed; on denial the
// second return value is the wait estimate in seconds. Admit never
// fails: an unknown entity simply gets a fresh bucket.
func (l *Limiter) Admit(entityID string, privileged bool) (bool, float64) {
	if privileged {
		return true, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	bucket, ok := l.buckets[entityID]
	if !ok {
		bucket = NewTokenBucket(l.capacity, l.refillRate, now)
		l.buckets[entityID] = bucket
	}

	if bucket.Consume(1, now) {
		return true, 0
	}
	return false, bucket.TimeUntilAvailable(1, now).Seconds()
}

// Reset forcibly clears an entity's bucket (administrative override).
func (l *Limiter) Reset(entityID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, entityID)
}

// EvictIdle removes buckets that have not been touched within maxAge
// and returns how many were removed. Safe to run concurrently with
// Admit.
func (l *Limiter) EvictIdle(maxAge time.Duration) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	evicted := 0
	for id, bucket := range l.buckets {
		if now.Sub(bucket.LastRefill()) > maxAge {
			delete(l.buckets, id)
			evicted++
		}
	}

	if evicted > 0 {
		l.logger.WithField("evicted", evicted).Debug("evicted idle rate limit buckets")
	}
	return evicted
}

func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Stats{
		ActiveBuckets: len(l.buckets),
		Capacity:      l.capacity,
		RefillRate:    l.refillRate,
	}
}

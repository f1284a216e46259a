package ratelimit

import (
	"math"
	"time"
)

// TokenBucket is a per-entity admission counter with continuous
// refill. Tokens are fractional internally; consumption amounts are
// whole tokens. The bucket never holds more than its capacity, so
// bursts beyond capacity are impossible.
//
// Asking for n > capacity can never succeed; that is a caller
// configuration error, not a runtime condition the bucket guards
// against.
//
// The bucket is not safe for concurrent use; the owning Limiter
// serializes access.
type TokenBucket struct {
	capacity   int
	tokens     float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func NewTokenBucket(capacity int, refillRate float64, now time.Time) *TokenBucket {
	return &TokenBucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now,
	}
}

// refill adds tokens for the wall-clock time elapsed since the last
// refill, capped at capacity.
func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens = math.Min(float64(b.capacity), b.tokens+elapsed*b.refillRate)
	}
	b.lastRefill = now
}

// Consume refills the bucket, then subtracts n tokens if available.
// Returns whether the subtraction occurred.
func (b *TokenBucket) Consume(n int, now time.Time) bool {
	b.refill(now)
	if b.tokens >= float64(n) {
		b.tokens -= float64(n)
		return true
	}
	return false
}

// TimeUntilAvailable returns how long until n tokens will be
// available, clamped to zero.
func (b *TokenBucket) TimeUntilAvailable(n int, now time.Time) time.Duration {
	b.refill(now)
	if b.tokens >= float64(n) {
		return 0
	}
	needed := float64(n) - b.tokens
	return time.Duration(needed / b.refillRate * float64(time.Second))
}

// LastRefill reports the last observation time, used by the idle
// eviction sweep.
func (b *TokenBucket) LastRefill() time.Time { return b.lastRefill }

// Tokens reports the current token count (after the last refill).
func (b *TokenBucket) Tokens() float64 { return b.tokens }

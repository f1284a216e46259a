package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketConsumeAndRefill(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewTokenBucket(10, 10.0/60.0, start)

	// Full bucket: all ten consumes succeed at the same instant.
	for i := 0; i < 10; i++ {
		require.True(t, b.Consume(1, start), "consume %d should succeed", i+1)
	}
	assert.False(t, b.Consume(1, start), "11th consume at the same instant must fail")

	// After six seconds one token (10/60 * 6) has refilled.
	later := start.Add(6 * time.Second)
	assert.True(t, b.Consume(1, later))
	assert.False(t, b.Consume(1, later))
}

func TestTokenBucketNeverExceedsCapacityOrGoesNegative(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewTokenBucket(5, 1.0, start)

	now := start
	for i := 0; i < 200; i++ {
		// Interleave consumes with large idle gaps; time never goes
		// backwards.
		if i%3 == 0 {
			now = now.Add(17 * time.Second)
		} else {
			now = now.Add(250 * time.Millisecond)
		}
		b.Consume(1+i%2, now)

		assert.GreaterOrEqual(t, b.Tokens(), 0.0)
		assert.LessOrEqual(t, b.Tokens(), 5.0)
	}
}

func TestTokenBucketTimeUntilAvailable(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewTokenBucket(1, 1.0/60.0, start)

	require.True(t, b.Consume(1, start))

	wait := b.TimeUntilAvailable(1, start)
	assert.InDelta(t, 60.0, wait.Seconds(), 0.001)

	// Clamped to zero once available.
	assert.Equal(t, time.Duration(0), b.TimeUntilAvailable(1, start.Add(61*time.Second)))
}

func TestTokenBucketFractionalRefill(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	b := NewTokenBucket(10, 10.0/60.0, start)

	require.True(t, b.Consume(10, start))

	// Three seconds refills half a token: not enough for a consume,
	// but the wait estimate shrinks accordingly.
	mid := start.Add(3 * time.Second)
	assert.False(t, b.Consume(1, mid))
	assert.InDelta(t, 3.0, b.TimeUntilAvailable(1, mid).Seconds(), 0.001)
}

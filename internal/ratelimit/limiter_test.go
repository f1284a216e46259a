package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(capacity int, window time.Duration) (*Limiter, *time.Time) {
	l := NewLimiter(capacity, window, nil)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestAdmitPrivilegedAlwaysAllowed(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	for i := 0; i < 100; i++ {
		allowed, wait := l.Admit("admin-1", true)
		assert.True(t, allowed)
		assert.Equal(t, 0.0, wait)
	}

	// Privileged traffic never materializes a bucket.
	assert.Equal(t, 0, l.Stats().ActiveBuckets)
}

func TestAdmitDeniesAfterCapacity(t *testing.T) {
	l, _ := newTestLimiter(10, time.Minute)

	for i := 0; i < 10; i++ {
		allowed, wait := l.Admit("user-1", false)
		require.True(t, allowed, "message %d should be admitted", i+1)
		require.Equal(t, 0.0, wait)
	}

	allowed, wait := l.Admit("user-1", false)
	assert.False(t, allowed, "11th message within the window must be denied")
	assert.Greater(t, wait, 0.0)
}

func TestAdmitSingleTokenWaitEstimate(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	allowed, _ := l.Admit("user-1", false)
	require.True(t, allowed)

	allowed, wait := l.Admit("user-1", false)
	require.False(t, allowed)
	assert.InDelta(t, 60.0, wait, 0.001)
}

func TestAdmitEntitiesAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	allowed, _ := l.Admit("user-1", false)
	require.True(t, allowed)
	allowed, _ = l.Admit("user-1", false)
	require.False(t, allowed)

	// A different entity gets its own fresh bucket.
	allowed, _ = l.Admit("user-2", false)
	assert.True(t, allowed)
}

func TestReset(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)

	l.Admit("user-1", false)
	allowed, _ := l.Admit("user-1", false)
	require.False(t, allowed)

	l.Reset("user-1")

	allowed, _ = l.Admit("user-1", false)
	assert.True(t, allowed, "reset must clear the bucket")
}

func TestEvictIdle(t *testing.T) {
	l, now := newTestLimiter(10, time.Minute)

	l.Admit("user-1", false)
	l.Admit("user-2", false)
	require.Equal(t, 2, l.Stats().ActiveBuckets)

	*now = now.Add(30 * time.Minute)
	l.Admit("user-2", false) // touches user-2's bucket

	*now = now.Add(45 * time.Minute)
	evicted := l.EvictIdle(time.Hour)

	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, l.Stats().ActiveBuckets)
}

func TestStats(t *testing.T) {
	l, _ := newTestLimiter(10, time.Minute)
	l.Admit("user-1", false)

	s := l.Stats()
	assert.Equal(t, 1, s.ActiveBuckets)
	assert.Equal(t, 10, s.Capacity)
	assert.InDelta(t, 10.0/60.0, s.RefillRate, 0.0001)
}

func TestAdmitConcurrentWithEviction(t *testing.T) {
	l := NewLimiter(1000, time.Minute, nil)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			ids := []string{"a", "b", "c", "d"}
			for i := 0; i < 500; i++ {
				l.Admit(ids[(g+i)%len(ids)], false)
				if i%50 == 0 {
					l.EvictIdle(time.Nanosecond)
				}
			}
		}(g)
	}
	wg.Wait()

	// No deadlock, no panic; the map stays consistent.
	assert.GreaterOrEqual(t, l.Stats().ActiveBuckets, 0)
}

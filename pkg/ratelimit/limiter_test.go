package ratelimit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLimiter(start time.Time) (*Limiter, *time.Time) {
	clock := start
	l := NewLimiter()
	l.now = func() time.Time { return clock }
	return l, &clock
}

func TestLimiter_AllowsUpToCapacity(t *testing.T) {
	l, _ := testLimiter(time.Now())

	for i := 0; i < 10; i++ {
		assert.True(t, l.Allow("query|1.2.3.4", 10), "request %d", i)
	}
	assert.False(t, l.Allow("query|1.2.3.4", 10))
}

func TestLimiter_RefillsOverTime(t *testing.T) {
	l, clock := testLimiter(time.Now())

	for i := 0; i < 10; i++ {
		l.Allow("k", 10)
	}
	require.False(t, l.Allow("k", 10))

	// 10/min refills one token every 6 seconds.
	*clock = clock.Add(6 * time.Second)
	assert.True(t, l.Allow("k", 10))
	assert.False(t, l.Allow("k", 10))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := testLimiter(time.Now())

	for i := 0; i < 10; i++ {
		l.Allow("query|alice", 10)
	}
	require.False(t, l.Allow("query|alice", 10))
	assert.True(t, l.Allow("query|bob", 10))
	assert.True(t, l.Allow("sessions|alice", 10))
}

func TestLimiter_WaitTime(t *testing.T) {
	l, clock := testLimiter(time.Now())

	assert.Zero(t, l.WaitTime("k", 10))
	for i := 0; i < 10; i++ {
		l.Allow("k", 10)
	}

	wait := l.WaitTime("k", 10)
	assert.InDelta(t, (6 * time.Second).Seconds(), wait.Seconds(), 0.1)

	*clock = clock.Add(3 * time.Second)
	wait = l.WaitTime("k", 10)
	assert.InDelta(t, (3 * time.Second).Seconds(), wait.Seconds(), 0.1)
}

func TestLimiter_ZeroLimitIsUnlimited(t *testing.T) {
	l, _ := testLimiter(time.Now())

	for i := 0; i < 1000; i++ {
		require.True(t, l.Allow("k", 0))
	}
	assert.Zero(t, l.WaitTime("k", 0))
}

func TestLimiter_CapRecyclesStalestBucket(t *testing.T) {
	l, clock := testLimiter(time.Now())

	l.Allow("oldest", 1)
	*clock = clock.Add(time.Millisecond)
	for i := 0; i < maxKeys; i++ {
		l.Allow(fmt.Sprintf("k-%d", i), 1)
	}

	assert.LessOrEqual(t, len(l.buckets), maxKeys)
	_, survived := l.buckets["oldest"]
	assert.False(t, survived)
}

package core

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

func TestIPRateLimiter(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	l := NewIPRateLimiter(60, 2, clock)

	assert.True(t, l.Allow("10.0.0.1"))
	assert.True(t, l.Allow("10.0.0.1"))
	assert.False(t, l.Allow("10.0.0.1"), "burst exhausted")
	assert.True(t, l.Allow("10.0.0.2"), "buckets are per ip")

	clock.Advance(time.Second)
	assert.True(t, l.Allow("10.0.0.1"), "refills at one per second")
	assert.False(t, l.Allow("10.0.0.1"))
}

func TestIPRateLimiter_EvictsIdle(t *testing.T) {
	clock := clockwork.NewFakeClockAt(testEpoch)
	l := NewIPRateLimiter(60, 1, clock)
	l.Allow("10.0.0.1")
	l.Allow("10.0.0.2")

	clock.Advance(limiterIdleTTL + time.Second)
	l.Allow("10.0.0.3")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.entries, 1)
}

func TestIPRateLimiter_Disabled(t *testing.T) {
	l := NewIPRateLimiter(0, 10, nil)
	assert.Nil(t, l)
	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow("10.0.0.1"))
	}
}

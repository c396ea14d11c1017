package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func newTestLimiter(max int, window time.Duration) (*RateLimiter, *time.Time) {
	clock := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(&RateLimiterConfig{MaxRequests: max, WindowSize: window})
	rl.now = func() time.Time { return clock }
	return rl, &clock
}

func TestAllowWithinWindow(t *testing.T) {
	rl, clock := newTestLimiter(3, time.Second)
	defer rl.Stop()

	for i := 0; i < 3; i++ {
		assert.True(t, rl.Allow("10.0.0.1:8333"))
	}
	assert.False(t, rl.Allow("10.0.0.1:8333"))
	assert.True(t, rl.Allow("10.0.0.2:8333"), "keys are independent")
	assert.Equal(t, 3, rl.Count("10.0.0.1:8333"))

	*clock = clock.Add(1100 * time.Millisecond)
	assert.True(t, rl.Allow("10.0.0.1:8333"))
	assert.Equal(t, 1, rl.Count("10.0.0.1:8333"))
}

func TestResetAndCleanup(t *testing.T) {
	rl, clock := newTestLimiter(1, time.Second)
	defer rl.Stop()

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	rl.Reset("a")
	assert.True(t, rl.Allow("a"))

	assert.True(t, rl.Allow("b"))
	*clock = clock.Add(2 * time.Second)
	rl.cleanup()
	rl.mu.Lock()
	assert.Empty(t, rl.requests)
	rl.mu.Unlock()
}

func TestStopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(PeerConfig())
	rl.Stop()
	rl.Stop()
}

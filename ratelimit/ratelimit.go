package ratelimit

import (
	"sync"
	"time"
)

// RateLimiterConfig holds configuration for rate limiting
type RateLimiterConfig struct {
	MaxRequests     int           // Maximum number of requests allowed
	WindowSize      time.Duration // Time window for rate limiting
	CleanupInterval time.Duration // How often to clean up expired entries
}

// DefaultConfig allows 10 requests per second per key.
func DefaultConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		MaxRequests:     10,
		WindowSize:      time.Second,
		CleanupInterval: 5 * time.Minute,
	}
}

// PeerConfig bounds how often one peer may ask us to serve headers.
func PeerConfig() *RateLimiterConfig {
	return &RateLimiterConfig{
		MaxRequests:     20,
		WindowSize:      10 * time.Second,
		CleanupInterval: time.Minute,
	}
}

// RateLimiter implements sliding window rate limiting keyed by peer address or client IP.
type RateLimiter struct {
	config   RateLimiterConfig
	now      func() time.Time
	mu       sync.Mutex
	requests map[string][]time.Time
	stop     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a limiter and starts its cleanup loop. Call Stop to end it.
func NewRateLimiter(config *RateLimiterConfig) *RateLimiter {
	if config == nil {
		config = DefaultConfig()
	}

	rl := &RateLimiter{
		config:   *config,
		now:      time.Now,
		requests: make(map[string][]time.Time),
		stop:     make(chan struct{}),
	}
	if rl.config.CleanupInterval > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

// Allow records a request for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(key string) bool {
	now := rl.now()
	cutoff := now.Add(-rl.config.WindowSize)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	valid := pruneBefore(rl.requests[key], cutoff)
	if len(valid) >= rl.config.MaxRequests {
		rl.requests[key] = valid
		return false
	}
	rl.requests[key] = append(valid, now)
	return true
}

// Count returns the requests of key inside the current window.
func (rl *RateLimiter) Count(key string) int {
	cutoff := rl.now().Add(-rl.config.WindowSize)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(pruneBefore(rl.requests[key], cutoff))
}

// Reset forgets key, e.g. when its peer disconnects.
func (rl *RateLimiter) Reset(key string) {
	rl.mu.Lock()
	delete(rl.requests, key)
	rl.mu.Unlock()
}

func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	cutoff := rl.now().Add(-rl.config.WindowSize)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, reqs := range rl.requests {
		valid := pruneBefore(reqs, cutoff)
		if len(valid) == 0 {
			delete(rl.requests, key)
		} else {
			rl.requests[key] = valid
		}
	}
}

// pruneBefore drops timestamps not after cutoff. reqs is kept in time order.
func pruneBefore(reqs []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(reqs) && !reqs[i].After(cutoff) {
		i++
	}
	return reqs[i:]
}

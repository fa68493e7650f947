package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestMemoryLimiter(cfg Config) (*MemoryLimiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	l := NewMemoryLimiter(cfg)
	l.now = clock.Now
	return l, clock
}

func TestMemoryLimiter_ThirtyAllowedThenDenied(t *testing.T) {
	l, _ := newTestMemoryLimiter(Config{})
	ctx := context.Background()

	for i := 1; i <= 30; i++ {
		d, err := l.Allow(ctx, "198.51.100.7")
		require.NoError(t, err)
		require.Truef(t, d.Allowed, "request %d should be allowed", i)
		assert.Equal(t, i, d.Count)
	}

	d, err := l.Allow(ctx, "198.51.100.7")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 30, d.Count, "denied request must not bump the counter")
	assert.Equal(t, 30, d.Limit)
}

func TestMemoryLimiter_ResetsAfterWindow(t *testing.T) {
	l, clock := newTestMemoryLimiter(Config{Window: time.Minute, MaxRequests: 30})
	ctx := context.Background()

	for i := 0; i < 30; i++ {
		_, _ = l.Allow(ctx, "k")
	}
	d, _ := l.Allow(ctx, "k")
	require.False(t, d.Allowed)

	// exactly at resetAt the window is still closed
	clock.Advance(time.Minute)
	d, _ = l.Allow(ctx, "k")
	assert.False(t, d.Allowed)

	clock.Advance(time.Millisecond)
	d, _ = l.Allow(ctx, "k")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Count)
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	l, _ := newTestMemoryLimiter(Config{MaxRequests: 1})
	ctx := context.Background()

	d, _ := l.Allow(ctx, "a")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "a")
	assert.False(t, d.Allowed)
	d, _ = l.Allow(ctx, "b")
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	l, clock := newTestMemoryLimiter(Config{Window: time.Minute})
	ctx := context.Background()

	_, _ = l.Allow(ctx, "old")
	clock.Advance(45 * time.Second)
	_, _ = l.Allow(ctx, "fresh")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestMemoryLimiter_Concurrent(t *testing.T) {
	l := NewMemoryLimiter(Config{MaxRequests: 30})
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, _ := l.Allow(ctx, "shared")
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 30, allowed)
}

func TestDecision_RetryAfter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.Equal(t, 0, Decision{Allowed: true, ResetAt: now.Add(time.Minute)}.RetryAfter(now))
	assert.Equal(t, 2, Decision{ResetAt: now.Add(1500 * time.Millisecond)}.RetryAfter(now))
	assert.Equal(t, 0, Decision{ResetAt: now.Add(-time.Second)}.RetryAfter(now))
}

package ratelimit

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	count   int
	resetAt time.Time
}

// MemoryLimiter is a fixed-window counter table held in process memory.
type MemoryLimiter struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*entry
}

var _ Limiter = (*MemoryLimiter)(nil)

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		entries: make(map[string]*entry),
	}
}

// Allow never returns an error; the signature matches the shared-store limiter.
func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || now.After(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(l.cfg.Window)}
		l.entries[key] = e
		return l.decision(true, e), nil
	}

	if e.count >= l.cfg.MaxRequests {
		return l.decision(false, e), nil
	}

	e.count++
	return l.decision(true, e), nil
}

func (l *MemoryLimiter) decision(allowed bool, e *entry) Decision {
	return Decision{Allowed: allowed, Count: e.count, Limit: l.cfg.MaxRequests, ResetAt: e.resetAt}
}

// Sweep drops entries whose window has already ended and returns how many were removed.
func (l *MemoryLimiter) Sweep() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, e := range l.entries {
		if now.After(e.resetAt) {
			delete(l.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked client keys.
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// StartSweeper periodically removes expired entries until ctx is done.
func (l *MemoryLimiter) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.Sweep()
			}
		}
	}()
}

// Package ratelimit bounds how many relay requests a single client key may
// issue per window.
//
// The memory limiter keeps its table per process, so a horizontally scaled
// deployment admits up to max_requests per instance. The Redis limiter shares
// one counter per key across instances.
package ratelimit

import (
	"context"
	"time"
)

const (
	DefaultWindow      = 60 * time.Second
	DefaultMaxRequests = 30
)

// Decision is the result of a single Allow call.
type Decision struct {
	Allowed bool
	Count   int       // requests counted in the current window
	Limit   int       // max requests per window
	ResetAt time.Time // end of the current window
}

// RetryAfter returns whole seconds until the window resets, rounded up.
func (d Decision) RetryAfter(now time.Time) int {
	if d.Allowed {
		return 0
	}
	remain := d.ResetAt.Sub(now)
	if remain <= 0 {
		return 0
	}
	secs := int(remain / time.Second)
	if remain%time.Second != 0 {
		secs++
	}
	return secs
}

// Limiter consumes one request for a client key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Config is shared by all limiter backends.
type Config struct {
	Window      time.Duration
	MaxRequests int
}

func (c Config) withDefaults() Config {
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	if c.MaxRequests <= 0 {
		c.MaxRequests = DefaultMaxRequests
	}
	return c
}

// Namespaced prefixes every key so two routes can share one backend without
// sharing a quota.
type Namespaced struct {
	inner Limiter
	ns    string
}

var _ Limiter = (*Namespaced)(nil)

// WithNamespace returns nil when l is nil so callers keep their "no limiter"
// behaviour.
func WithNamespace(l Limiter, ns string) Limiter {
	if l == nil {
		return nil
	}
	return &Namespaced{inner: l, ns: ns}
}

func (n *Namespaced) Allow(ctx context.Context, key string) (Decision, error) {
	return n.inner.Allow(ctx, n.ns+key)
}

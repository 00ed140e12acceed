// Package ratelimit is a process-local fixed-window admission gate keyed by
// client identity and policy name. Counts live only in memory and are not
// shared between instances.
package ratelimit

import (
	"math/rand/v2"
	"sync"
	"time"
)

// Policy bounds how many requests one identity may make per window.
type Policy struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// Default policies for the expensive routes.
var (
	UploadImage  = Policy{Name: "upload_image", MaxRequests: 10, Window: time.Minute}
	Embed        = Policy{Name: "embed", MaxRequests: 20, Window: time.Minute}
	SimilarPosts = Policy{Name: "similar_posts", MaxRequests: 30, Window: time.Minute}
)

// Decision is the outcome of one Check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter is the wait until the window resets, rounded up to whole
// seconds. Denied decisions never report less than one second.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	wait := d.ResetAt.Sub(now)
	if wait <= 0 {
		if d.Allowed {
			return 0
		}
		return time.Second
	}
	secs := (wait + time.Second - 1) / time.Second
	return secs * time.Second
}

// DefaultSweepProbability is the chance that a Check also drops expired entries.
const DefaultSweepProbability = 0.01

type entry struct {
	count   int
	resetAt time.Time
}

// Limiter tracks request counts per identity and policy.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry

	now        func() time.Time
	random     func() float64
	sweepProba float64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithRandom replaces the source deciding when to sweep. It must return
// values in [0,1).
func WithRandom(random func() float64) Option {
	return func(l *Limiter) { l.random = random }
}

// WithSweepProbability sets the per-call sweep chance; 0 disables sweeping.
func WithSweepProbability(p float64) Option {
	return func(l *Limiter) { l.sweepProba = p }
}

// New creates a Limiter.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		entries:    make(map[string]*entry),
		now:        time.Now,
		random:     rand.Float64,
		sweepProba: DefaultSweepProbability,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Now reports the limiter's current time.
func (l *Limiter) Now() time.Time {
	return l.now()
}

func key(identity string, p Policy) string {
	return identity + "|" + p.Name
}

// Check counts one request for identity under p. The first request of a
// window is always admitted.
func (l *Limiter) Check(identity string, p Policy) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.sweepProba > 0 && l.random() < l.sweepProba {
		l.sweepLocked(now)
	}

	k := key(identity, p)
	e, ok := l.entries[k]
	if !ok || !now.Before(e.resetAt) {
		e = &entry{count: 1, resetAt: now.Add(p.Window)}
		l.entries[k] = e
		return Decision{Allowed: true, Limit: p.MaxRequests, Remaining: max(0, p.MaxRequests-1), ResetAt: e.resetAt}
	}

	if e.count >= p.MaxRequests {
		return Decision{Allowed: false, Limit: p.MaxRequests, Remaining: 0, ResetAt: e.resetAt}
	}
	e.count++
	return Decision{Allowed: true, Limit: p.MaxRequests, Remaining: max(0, p.MaxRequests-e.count), ResetAt: e.resetAt}
}

// Sweep drops every entry whose window has ended and returns how many were removed.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sweepLocked(l.now())
}

func (l *Limiter) sweepLocked(now time.Time) int {
	removed := 0
	for k, e := range l.entries {
		if !now.Before(e.resetAt) {
			delete(l.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked entries.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

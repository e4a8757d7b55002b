// Package ratelimit bounds how often each user may reach the openHAB chat
// endpoint.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// DefaultLimit is the number of chat messages allowed per user per window.
	DefaultLimit = 30
	// DefaultWindow is the length of the sliding window.
	DefaultWindow = time.Minute
)

// Limiter is a per-key sliding-window limiter. It is safe for concurrent use.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	now    func() time.Time
	hits   map[string][]time.Time
}

// New returns a Limiter allowing limit events per key within window. Values
// of zero or below select the defaults.
func New(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Limiter{limit: limit, window: window, now: time.Now, hits: make(map[string][]time.Time)}
}

// Allow records an event for key if the key is under its limit. Otherwise
// it reports false and how long until the oldest event leaves the window.
func (l *Limiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	recent := l.prune(key, now)
	if len(recent) >= l.limit {
		return false, recent[0].Add(l.window).Sub(now)
	}
	l.hits[key] = append(recent, now)
	return true, 0
}

// Sweep forgets keys with no event inside the window.
func (l *Limiter) Sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key := range l.hits {
		l.prune(key, now)
	}
}

// prune drops events older than the window and returns those left. Keys left
// without events are removed. The caller holds l.mu.
func (l *Limiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	events := l.hits[key]
	keep := events[:0]
	for _, t := range events {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	if len(keep) == 0 {
		delete(l.hits, key)
		return nil
	}
	l.hits[key] = keep
	return keep
}

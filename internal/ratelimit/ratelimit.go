package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultCommandLimit = 20
	DefaultWindowSize   = time.Second

	cleanupInterval = 5 * time.Minute
)

// Limiter is a per-peer sliding-window limiter for remote commands.
// A Limiter with limit <= 0 allows everything.
type Limiter struct {
	mu          sync.Mutex
	hits        map[string][]time.Time
	limit       int
	window      time.Duration
	nextCleanup time.Time
	now         func() time.Time
}

func New(limit int, window time.Duration) *Limiter {
	if window <= 0 {
		window = DefaultWindowSize
	}
	return &Limiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		now:    time.Now,
	}
}

func (l *Limiter) Enabled() bool {
	return l != nil && l.limit > 0
}

// Allow records a command from peer and reports whether it fits the window.
func (l *Limiter) Allow(peer string) bool {
	if !l.Enabled() {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.After(l.nextCleanup) {
		l.cleanup(now)
		l.nextCleanup = now.Add(cleanupInterval)
	}

	recent := prune(l.hits[peer], now.Add(-l.window))
	if len(recent) >= l.limit {
		l.hits[peer] = recent
		return false
	}
	l.hits[peer] = append(recent, now)
	return true
}

func (l *Limiter) cleanup(now time.Time) {
	cutoff := now.Add(-10 * l.window)
	for peer, hits := range l.hits {
		recent := prune(hits, cutoff)
		if len(recent) == 0 {
			delete(l.hits, peer)
			continue
		}
		l.hits[peer] = recent
	}
}

func prune(hits []time.Time, cutoff time.Time) []time.Time {
	recent := hits[:0]
	for _, t := range hits {
		if t.After(cutoff) {
			recent = append(recent, t)
		}
	}
	return recent
}

package ratelimit

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(limit int, window time.Duration) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	l := New(limit, window)
	l.now = clock.now
	return l, clock
}

func TestLimiter_WithinLimit(t *testing.T) {
	l, _ := newTestLimiter(3, time.Second)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("10.0.0.2"), "command %d should be allowed", i+1)
	}
	assert.False(t, l.Allow("10.0.0.2"))
}

func TestLimiter_PeersAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(1, time.Second)

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.False(t, l.Allow("a"))
	assert.False(t, l.Allow("b"))
}

func TestLimiter_WindowSlides(t *testing.T) {
	l, clock := newTestLimiter(2, 100*time.Millisecond)

	assert.True(t, l.Allow("peer"))
	clock.advance(60 * time.Millisecond)
	assert.True(t, l.Allow("peer"))
	assert.False(t, l.Allow("peer"))

	clock.advance(50 * time.Millisecond)
	assert.True(t, l.Allow("peer"), "first hit left the window")
	assert.False(t, l.Allow("peer"))
}

func TestLimiter_Disabled(t *testing.T) {
	l := New(0, time.Second)
	assert.False(t, l.Enabled())
	for i := 0; i < 1000; i++ {
		assert.True(t, l.Allow("peer"))
	}

	var nilLimiter *Limiter
	assert.True(t, nilLimiter.Allow("peer"))
}

func TestLimiter_CleanupDropsIdlePeers(t *testing.T) {
	l, clock := newTestLimiter(2, 100*time.Millisecond)

	l.Allow("idle")
	l.Allow("busy")

	clock.advance(cleanupInterval + time.Second)
	l.Allow("busy")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.hits, "idle")
	assert.Contains(t, l.hits, "busy")
}

func TestLimiter_ConcurrentAccess(t *testing.T) {
	l := New(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				l.Allow("peer")
			}
		}()
	}
	wg.Wait()

	assert.False(t, l.Allow("peer"), "101st command should be limited")
}

// Package status owns the shared Status record and its broadcast fan-out.
package status

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmorsell/stage-remote/internal/metrics"
	"github.com/vmorsell/stage-remote/pkg/model"
	"go.uber.org/zap"
)

const DefaultBroadcastCapacity = 32

// Store is the single source of truth for Status. All mutations and all
// publishes happen under mu, so subscribers observe snapshots in publish order.
type Store struct {
	logger   *zap.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
	capacity int

	mu          sync.RWMutex
	status      model.Status
	subscribers map[*Subscription]struct{}
}

type Option func(*Store)

// WithClock overrides the time source used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithBroadcastCapacity sets the per-subscriber buffer size.
func WithBroadcastCapacity(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

func NewStore(logger *zap.Logger, opts ...Option) *Store {
	s := &Store{
		logger:      logger,
		now:         time.Now,
		capacity:    DefaultBroadcastCapacity,
		status:      model.DefaultStatus(),
		subscribers: make(map[*Subscription]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.status.Timestamp = s.now().UnixMilli()
	return s
}

// Read returns the current snapshot with its timestamp set to now.
func (s *Store) Read() model.Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.status.Clone()
	st.Timestamp = s.now().UnixMilli()
	return st
}

// Replace overwrites every field except ConnectedClients and publishes the
// result to all subscribers.
func (s *Store) Replace(next model.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	clients := s.status.ConnectedClients
	s.status = next.Clone()
	s.status.ConnectedClients = clients

	s.publishLocked()
}

func (s *Store) IncrementClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.incrementLocked()
}

// DecrementClients never takes the count below zero.
func (s *Store) DecrementClients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.decrementLocked()
}

// Attach registers a new session: the client count is incremented, the other
// subscribers are told about it, and the returned snapshot is the state at
// attach time. Anything published after Attach returns lands in sub.
func (s *Store) Attach() (model.Status, *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.incrementLocked()
	s.publishLocked()

	sub := newSubscription(s.capacity)
	s.subscribers[sub] = struct{}{}

	st := s.status.Clone()
	st.Timestamp = s.now().UnixMilli()
	return st, sub
}

// Detach removes sub and decrements the client count. Detaching the same
// subscription twice is a no-op.
func (s *Store) Detach(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.subscribers[sub]; !ok {
		return
	}
	delete(s.subscribers, sub)
	s.decrementLocked()
	s.publishLocked()
}

// Subscribers returns the number of attached subscriptions.
func (s *Store) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}

func (s *Store) incrementLocked() int {
	s.status.ConnectedClients++
	s.metrics.SetConnectedClients(s.status.ConnectedClients)
	return s.status.ConnectedClients
}

func (s *Store) decrementLocked() int {
	if s.status.ConnectedClients > 0 {
		s.status.ConnectedClients--
	}
	s.metrics.SetConnectedClients(s.status.ConnectedClients)
	return s.status.ConnectedClients
}

// publishLocked marshals the current status once and offers the same bytes to
// every subscriber.
func (s *Store) publishLocked() {
	s.status.Timestamp = s.now().UnixMilli()

	payload, err := json.Marshal(s.status)
	if err != nil {
		s.logger.Error("failed to marshal status for broadcast", zap.Error(err))
		return
	}

	s.metrics.Broadcast()
	for sub := range s.subscribers {
		if sub.offer(payload) {
			s.metrics.BroadcastDropped()
		}
	}
}

// Subscription is one subscriber's view of the broadcast channel. When the
// buffer is full the oldest pending snapshot is discarded and counted.
type Subscription struct {
	ch     chan []byte
	lagged atomic.Uint64
}

func newSubscription(capacity int) *Subscription {
	return &Subscription{ch: make(chan []byte, capacity)}
}

// C delivers published snapshots. It is never closed.
func (sub *Subscription) C() <-chan []byte {
	return sub.ch
}

// TakeLagged returns how many snapshots were discarded since the last call.
func (sub *Subscription) TakeLagged() uint64 {
	return sub.lagged.Swap(0)
}

// offer never blocks. It reports whether a snapshot had to be discarded.
func (sub *Subscription) offer(payload []byte) bool {
	select {
	case sub.ch <- payload:
		return false
	default:
	}

	dropped := false
	select {
	case <-sub.ch:
		dropped = true
	default:
	}

	select {
	case sub.ch <- payload:
	default:
		dropped = true
	}

	if dropped {
		sub.lagged.Add(1)
	}
	return dropped
}

// Package hostbus is the in-process event bus between the remote-control
// server and the host application.
package hostbus

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

const DefaultBufferSize = 64

// ErrClosed is returned by Emit after Close.
var ErrClosed = errors.New("host bus closed")

type Event struct {
	Name    string
	Payload any
	Time    time.Time
}

type listener struct {
	ch chan Event
}

// Bus fans events out to every listener. Delivery never blocks the emitter:
// a listener whose buffer is full misses the event and a warning is logged.
type Bus struct {
	logger *zap.Logger

	mu        sync.RWMutex
	listeners map[*listener]struct{}
	closed    bool
}

func New(logger *zap.Logger) *Bus {
	return &Bus{
		logger:    logger,
		listeners: make(map[*listener]struct{}),
	}
}

// Emit implements dispatch.Emitter.
func (b *Bus) Emit(name string, payload any) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return ErrClosed
	}

	ev := Event{Name: name, Payload: payload, Time: time.Now()}
	for l := range b.listeners {
		select {
		case l.ch <- ev:
		default:
			b.logger.Warn("host listener is full, dropping event", zap.String("event", name))
		}
	}
	return nil
}

// Subscribe returns a channel of events and a function that unsubscribes and
// closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	l := &listener{ch: make(chan Event, buffer)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(l.ch)
		return l.ch, func() {}
	}
	b.listeners[l] = struct{}{}

	var once sync.Once
	return l.ch, func() {
		once.Do(func() { b.remove(l) })
	}
}

func (b *Bus) remove(l *listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[l]; ok {
		delete(b.listeners, l)
		close(l.ch)
	}
}

// Close closes every listener channel. Further Emit calls fail.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for l := range b.listeners {
		delete(b.listeners, l)
		close(l.ch)
	}
}

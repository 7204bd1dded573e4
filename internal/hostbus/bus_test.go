package hostbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestBus_EmitReachesAllListeners(t *testing.T) {
	bus := New(zaptest.NewLogger(t))

	a, cancelA := bus.Subscribe(1)
	defer cancelA()
	b, cancelB := bus.Subscribe(1)
	defer cancelB()

	require.NoError(t, bus.Emit("remote-set-speed", 1.5))

	for _, ch := range []<-chan Event{a, b} {
		ev := <-ch
		assert.Equal(t, "remote-set-speed", ev.Name)
		assert.Equal(t, 1.5, ev.Payload)
		assert.False(t, ev.Time.IsZero())
	}
}

func TestBus_EmitWithoutListeners(t *testing.T) {
	bus := New(zaptest.NewLogger(t))
	assert.NoError(t, bus.Emit("remote-play", nil))
}

func TestBus_FullListenerDoesNotBlock(t *testing.T) {
	bus := New(zaptest.NewLogger(t))
	ch, cancel := bus.Subscribe(1)
	defer cancel()

	require.NoError(t, bus.Emit("remote-play", nil))
	require.NoError(t, bus.Emit("remote-pause", nil))

	assert.Equal(t, "remote-play", (<-ch).Name)
	assert.Empty(t, ch)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(zaptest.NewLogger(t))
	ch, cancel := bus.Subscribe(1)

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.NoError(t, bus.Emit("remote-play", nil))
}

func TestBus_Close(t *testing.T) {
	bus := New(zaptest.NewLogger(t))
	ch, cancel := bus.Subscribe(1)

	bus.Close()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.ErrorIs(t, bus.Emit("remote-play", nil), ErrClosed)

	late, _ := bus.Subscribe(1)
	_, ok = <-late
	assert.False(t, ok)
}

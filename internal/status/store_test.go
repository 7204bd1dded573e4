package status

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmorsell/stage-remote/pkg/model"
	"go.uber.org/zap/zaptest"
)

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func newTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	return NewStore(zaptest.NewLogger(t), opts...)
}

func receive(t *testing.T, sub *Subscription) model.Status {
	t.Helper()
	select {
	case payload := <-sub.C():
		var st model.Status
		require.NoError(t, json.Unmarshal(payload, &st))
		return st
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast")
		return model.Status{}
	}
}

func TestStore_Defaults(t *testing.T) {
	store := newTestStore(t, WithClock(fixedClock(42)))

	st := store.Read()
	assert.False(t, st.IsPlaying)
	assert.Equal(t, 1.0, st.CurrentSpeed)
	assert.Equal(t, "Untitled Project", st.ProjectName)
	assert.Equal(t, 0, st.ConnectedClients)
	assert.False(t, st.IsLive)
	assert.Equal(t, int64(42), st.Timestamp)
}

func TestStore_ReadRefreshesTimestamp(t *testing.T) {
	now := int64(1000)
	store := newTestStore(t, WithClock(func() time.Time { return time.UnixMilli(now) }))

	assert.Equal(t, int64(1000), store.Read().Timestamp)
	now = 2500
	assert.Equal(t, int64(2500), store.Read().Timestamp)
}

func TestStore_ReplacePreservesConnectedClients(t *testing.T) {
	store := newTestStore(t)
	store.IncrementClients()
	store.IncrementClients()

	segment := 3
	store.Replace(model.Status{
		IsPlaying:        true,
		CurrentSpeed:     1.5,
		CurrentSegment:   &segment,
		TotalSegments:    7,
		ProjectName:      "Sunday Service",
		ConnectedClients: 999,
		IsLive:           true,
	})

	st := store.Read()
	assert.Equal(t, 2, st.ConnectedClients)
	assert.True(t, st.IsPlaying)
	assert.Equal(t, 1.5, st.CurrentSpeed)
	require.NotNil(t, st.CurrentSegment)
	assert.Equal(t, 3, *st.CurrentSegment)
	assert.Equal(t, 7, st.TotalSegments)
	assert.Equal(t, "Sunday Service", st.ProjectName)
	assert.True(t, st.IsLive)
}

func TestStore_ReplaceDoesNotAliasCaller(t *testing.T) {
	store := newTestStore(t)

	segment := 1
	store.Replace(model.Status{CurrentSegment: &segment})
	segment = 9

	require.NotNil(t, store.Read().CurrentSegment)
	assert.Equal(t, 1, *store.Read().CurrentSegment)
}

func TestStore_DecrementFloorsAtZero(t *testing.T) {
	store := newTestStore(t)

	assert.Equal(t, 0, store.DecrementClients())
	assert.Equal(t, 1, store.IncrementClients())
	assert.Equal(t, 0, store.DecrementClients())
	assert.Equal(t, 0, store.DecrementClients())
	assert.Equal(t, 0, store.Read().ConnectedClients)
}

func TestStore_ConcurrentAttachDetach(t *testing.T) {
	store := newTestStore(t)

	const n, m = 50, 30
	subs := make([]*Subscription, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, subs[i] = store.Attach()
		}(i)
	}
	wg.Wait()
	assert.Equal(t, n, store.Read().ConnectedClients)

	for i := 0; i < m; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.Detach(subs[i])
		}(i)
		// duplicate disconnect for the same session
		go func(i int) {
			defer wg.Done()
			store.Detach(subs[i])
		}(i)
	}
	wg.Wait()

	assert.Equal(t, n-m, store.Read().ConnectedClients)
	assert.Equal(t, n-m, store.Subscribers())
}

func TestStore_AttachSnapshotCarriesCount(t *testing.T) {
	store := newTestStore(t)

	first, sub1 := store.Attach()
	assert.Equal(t, 1, first.ConnectedClients)

	second, _ := store.Attach()
	assert.Equal(t, 2, second.ConnectedClients)

	// the earlier subscriber hears about the new session
	st := receive(t, sub1)
	assert.Equal(t, 2, st.ConnectedClients)
}

func TestStore_AttachedSubscriberHasNoBacklog(t *testing.T) {
	store := newTestStore(t)
	store.Replace(model.DefaultStatus())

	_, sub := store.Attach()
	select {
	case <-sub.C():
		t.Fatal("new subscriber must not see broadcasts published before it attached")
	default:
	}
}

func TestStore_ReplaceBroadcastsIdenticalBytes(t *testing.T) {
	store := newTestStore(t, WithClock(fixedClock(7)))

	_, a := store.Attach()
	_, b := store.Attach()
	// drain presence update caused by b attaching
	<-a.C()

	next := model.DefaultStatus()
	next.IsPlaying = true
	next.ProjectName = "Rehearsal"
	store.Replace(next)

	pa := <-a.C()
	pb := <-b.C()
	assert.Equal(t, pa, pb)

	var st model.Status
	require.NoError(t, json.Unmarshal(pa, &st))
	assert.True(t, st.IsPlaying)
	assert.Equal(t, "Rehearsal", st.ProjectName)
	assert.Equal(t, 2, st.ConnectedClients)
	assert.Equal(t, int64(7), st.Timestamp)
}

func TestStore_DetachNotifiesRemaining(t *testing.T) {
	store := newTestStore(t)

	_, a := store.Attach()
	_, b := store.Attach()
	<-a.C()

	store.Detach(b)
	st := receive(t, a)
	assert.Equal(t, 1, st.ConnectedClients)
}

func TestStore_SlowSubscriberLags(t *testing.T) {
	store := newTestStore(t, WithBroadcastCapacity(2))

	_, slow := store.Attach()
	_, fast := store.Attach()
	<-slow.C()

	for i := 0; i < 5; i++ {
		next := model.DefaultStatus()
		next.TotalSegments = i + 1
		// Replace must return even though slow is never drained
		store.Replace(next)
		assert.Equal(t, i+1, receive(t, fast).TotalSegments)
	}
	assert.Equal(t, uint64(0), fast.TakeLagged())

	assert.Equal(t, uint64(3), slow.TakeLagged())
	assert.Equal(t, uint64(0), slow.TakeLagged())

	// the slow subscriber keeps the newest snapshots
	assert.Equal(t, 4, receive(t, slow).TotalSegments)
	assert.Equal(t, 5, receive(t, slow).TotalSegments)
}

func TestStore_ConcurrentReadersSeeWholeStatus(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			next := model.DefaultStatus()
			next.ProjectName = "p"
			next.TotalSegments = i
			next.IsLive = i%2 == 0
			store.Replace(next)
		}(i)
		go func() {
			defer wg.Done()
			st := store.Read()
			if st.ProjectName == "p" {
				assert.Equal(t, st.TotalSegments%2 == 0, st.IsLive)
			}
		}()
	}
	wg.Wait()
}

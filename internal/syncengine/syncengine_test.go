package syncengine

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hashlattice/platform/internal/event"
	"github.com/hashlattice/platform/internal/shadowdag"
	"github.com/hashlattice/platform/internal/transport"
)

func makeEvent(creator int, seq uint64, selfParent *event.Event) *event.Event {
	ev := &event.Event{CreatorID: creator, CreatorSeq: seq, TimeCreated: time.Now()}
	if selfParent != nil {
		ev.HasSelfParent = true
		ev.SelfParent = selfParent.BaseHash
		ev.SelfParentGen = selfParent.Generation
	} else {
		ev.SelfParentGen = event.NoParentGen
	}
	ev.OtherParentGen = event.NoParentGen
	ev.Finalize()
	return ev
}

// TestSyncDeliversMissingAncestry runs a full two-sided sync over an
// in-memory pipe: node A has three events node B lacks, node B has none A
// lacks. After the sync, B's DAG must contain all of A's events.
func TestSyncDeliversMissingAncestry(t *testing.T) {
	t.Parallel()

	dagA := shadowdag.New()
	a0 := makeEvent(0, 0, nil)
	a1 := makeEvent(0, 1, a0)
	a2 := makeEvent(0, 2, a1)
	for _, e := range []*event.Event{a0, a1, a2} {
		_, err := dagA.Insert(e)
		assert.NoError(t, err)
	}

	dagB := shadowdag.New()

	var mu sync.Mutex
	var received []*event.Event

	engineA := New(dagA, nil)
	engineB := New(dagB, func(ev *event.Event) error {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ev)
		_, err := dagB.Insert(ev)
		return err
	})

	connA, connB := net.Pipe()
	cA := transport.NewConnection(connA, 0, 1, 5*time.Second)
	cB := transport.NewConnection(connB, 1, 0, 5*time.Second)

	var wg sync.WaitGroup
	wg.Add(2)

	var resA, resB SyncResult
	var errA, errB error

	go func() {
		defer wg.Done()
		resA, errA = engineA.Sync(cA, true, map[int]int64{0: 0}, false, false)
	}()
	go func() {
		defer wg.Done()
		resB, errB = engineB.Sync(cB, false, map[int]int64{0: 0}, false, false)
	}()

	wg.Wait()

	assert.NoError(t, errA)
	assert.NoError(t, errB)

	assert.Equal(t, 3, resA.EventsWritten)
	assert.Equal(t, 3, resB.EventsRead)

	assert.Len(t, received, 3)
	assert.Equal(t, 3, dagB.Len())

	_, found := dagB.Shadow(a2.BaseHash)
	assert.True(t, found)
}

// TestSyncWithNothingToExchange completes cleanly when both sides already
// share the same tip set.
func TestSyncWithNothingToExchange(t *testing.T) {
	t.Parallel()

	dagA := shadowdag.New()
	dagB := shadowdag.New()

	e0 := makeEvent(0, 0, nil)
	_, err := dagA.Insert(e0)
	assert.NoError(t, err)
	_, err = dagB.Insert(e0)
	assert.NoError(t, err)

	engineA := New(dagA, func(*event.Event) error { return nil })
	engineB := New(dagB, func(*event.Event) error { return nil })

	connA, connB := net.Pipe()
	cA := transport.NewConnection(connA, 0, 1, 5*time.Second)
	cB := transport.NewConnection(connB, 1, 0, 5*time.Second)

	var wg sync.WaitGroup
	wg.Add(2)

	var resA, resB SyncResult
	var errA, errB error

	go func() {
		defer wg.Done()
		resA, errA = engineA.Sync(cA, true, map[int]int64{0: 0}, false, false)
	}()
	go func() {
		defer wg.Done()
		resB, errB = engineB.Sync(cB, false, map[int]int64{0: 0}, false, false)
	}()

	wg.Wait()

	assert.NoError(t, errA)
	assert.NoError(t, errB)
	assert.Equal(t, 0, resA.EventsWritten)
	assert.Equal(t, 0, resB.EventsWritten)
}

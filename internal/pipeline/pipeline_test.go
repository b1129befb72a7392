package pipeline

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashlattice/platform/internal/event"
)

type recordingAppState struct {
	mu           sync.Mutex
	preConsensus []*event.Event
	consensus    []*event.Event
}

func (a *recordingAppState) HandlePreConsensus(ev *event.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.preConsensus = append(a.preConsensus, ev)
	return nil
}

func (a *recordingAppState) HandleConsensus(ev *event.Event) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.consensus = append(a.consensus, ev)
	return nil
}

func (a *recordingAppState) preCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.preConsensus)
}

func (a *recordingAppState) consCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.consensus)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestPipelineDispatchesToAppState(t *testing.T) {
	t.Parallel()

	app := &recordingAppState{}
	p := New(app, 8)

	go p.Run(nil, nil)
	defer p.StopAndClear()

	p.ForCurr() <- &event.Event{CreatorID: 1}
	p.ForCons() <- &event.Event{CreatorID: 2}

	waitFor(t, time.Second, func() bool { return app.preCount() == 1 && app.consCount() == 1 })
}

func TestPipelineIgnoresNoEventSentinel(t *testing.T) {
	t.Parallel()

	app := &recordingAppState{}
	p := New(app, 8)

	go p.Run(nil, nil)
	defer p.StopAndClear()

	p.ForCurr() <- NoEvent
	p.ForCurr() <- &event.Event{CreatorID: 3}

	waitFor(t, time.Second, func() bool { return app.preCount() == 1 })
	assert.Equal(t, 1, app.preCount())
}

func TestPipelineForwardsSigsAndHashSign(t *testing.T) {
	t.Parallel()

	app := &recordingAppState{}
	p := New(app, 8)

	var mu sync.Mutex
	var sigs, hashSigns []StateSnapshot

	onSig := func(s StateSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		sigs = append(sigs, s)
	}
	onHashSign := func(s StateSnapshot) {
		mu.Lock()
		defer mu.Unlock()
		hashSigns = append(hashSigns, s)
	}

	go p.Run(onSig, onHashSign)
	defer p.StopAndClear()

	p.ForSigs() <- "snapshot-a"
	p.StateToHashSign() <- "snapshot-b"

	waitFor(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sigs) == 1 && len(hashSigns) == 1
	})
}

func TestStopAndClearDrainsQueues(t *testing.T) {
	t.Parallel()

	app := &recordingAppState{}
	p := New(app, 8)

	go p.Run(nil, nil)

	// Give consumers a moment to start before stopping.
	time.Sleep(10 * time.Millisecond)
	p.StopAndClear()

	// StopAndClear returning means every consumer goroutine has exited.
}

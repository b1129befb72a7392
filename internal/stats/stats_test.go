package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRecordTracksCompletedAndInterrupted(t *testing.T) {
	t.Parallel()

	s := New()

	base := time.Unix(1000, 0)
	var ts [PhaseCount]time.Time
	for i := range ts {
		ts[i] = base.Add(time.Duration(i) * 10 * time.Millisecond)
	}

	s.Record(ts, 3, 0, 512, 0, false)
	snap := s.Snapshot()
	assert.Equal(t, int64(1), snap.SyncsCompleted)
	assert.Equal(t, int64(0), snap.SyncsInterrupted)

	s.Record(ts, 0, 0, 0, 0, true)
	snap = s.Snapshot()
	assert.Equal(t, int64(1), snap.SyncsCompleted)
	assert.Equal(t, int64(1), snap.SyncsInterrupted)
}

func TestBytesPerSecond(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 0.0, BytesPerSecond(100, 100, 0))
	assert.InDelta(t, 200.0, BytesPerSecond(100, 100, time.Second), 0.001)
}

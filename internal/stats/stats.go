// Package stats tracks per-sync phase timestamps and derives throughput
// and completion counters from them, built on rcrowley/go-metrics.
package stats

import (
	"time"

	metrics "github.com/rcrowley/go-metrics"
)

// PhaseCount is the number of timestamps recorded per sync (t[0..5]).
const PhaseCount = 6

// SyncStats is the per-component metrics bundle attached to the sync
// engine.
type SyncStats struct {
	registry metrics.Registry

	syncsCompleted   metrics.Counter
	syncsInterrupted metrics.Counter

	eventsWritten metrics.Meter
	eventsRead    metrics.Meter

	bytesWritten metrics.Meter
	bytesRead    metrics.Meter

	phaseDurations [PhaseCount - 1]metrics.Timer
}

// New builds a SyncStats registered under its own metrics.Registry so the
// caller can mount it under a larger registry (e.g. expvar or a
// /metrics exporter) without name collisions across components.
func New() *SyncStats {
	r := metrics.NewRegistry()

	s := &SyncStats{
		registry:         r,
		syncsCompleted:   metrics.NewRegisteredCounter("sync.completed", r),
		syncsInterrupted: metrics.NewRegisteredCounter("sync.interrupted", r),
		eventsWritten:    metrics.NewRegisteredMeter("sync.events_written", r),
		eventsRead:       metrics.NewRegisteredMeter("sync.events_read", r),
		bytesWritten:     metrics.NewRegisteredMeter("sync.bytes_written", r),
		bytesRead:        metrics.NewRegisteredMeter("sync.bytes_read", r),
	}

	for i := range s.phaseDurations {
		s.phaseDurations[i] = metrics.NewRegisteredTimer(phaseName(i), r)
	}

	return s
}

func phaseName(i int) string {
	names := [PhaseCount - 1]string{
		"sync.phase.tip_exchange",
		"sync.phase.need_calculation",
		"sync.phase.booleans_exchange",
		"sync.phase.event_exchange",
		"sync.phase.finalization",
	}
	return names[i]
}

// Registry exposes the underlying metrics.Registry for mounting elsewhere.
func (s *SyncStats) Registry() metrics.Registry { return s.registry }

// Record ingests one completed sync's timestamps and counters: six
// timestamps around phase boundaries become five per-phase durations
// plus the event/byte counters.
func (s *SyncStats) Record(timestamps [PhaseCount]time.Time, eventsWritten, eventsRead int, bytesWritten, bytesRead uint64, interrupted bool) {
	if interrupted {
		s.syncsInterrupted.Inc(1)
		return
	}

	s.syncsCompleted.Inc(1)
	s.eventsWritten.Mark(int64(eventsWritten))
	s.eventsRead.Mark(int64(eventsRead))
	s.bytesWritten.Mark(int64(bytesWritten))
	s.bytesRead.Mark(int64(bytesRead))

	for i := 0; i < PhaseCount-1; i++ {
		d := timestamps[i+1].Sub(timestamps[i])
		if d > 0 {
			s.phaseDurations[i].Update(d)
		}
	}
}

// BytesPerSecond computes aggregate throughput for one sync, given its
// total elapsed duration and byte counters.
func BytesPerSecond(bytesWritten, bytesRead uint64, elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 0
	}
	return float64(bytesWritten+bytesRead) / elapsed.Seconds()
}

// Snapshot is a point-in-time read of the counters useful for status
// reporting or tests.
type Snapshot struct {
	SyncsCompleted      int64
	SyncsInterrupted    int64
	EventsWrittenRate1m float64
	EventsReadRate1m    float64
}

// Snapshot captures the current counters and 1-minute meter rates.
func (s *SyncStats) Snapshot() Snapshot {
	return Snapshot{
		SyncsCompleted:      s.syncsCompleted.Count(),
		SyncsInterrupted:    s.syncsInterrupted.Count(),
		EventsWrittenRate1m: s.eventsWritten.Rate1(),
		EventsReadRate1m:    s.eventsRead.Rate1(),
	}
}

// Package syncmgr implements the sync manager and fallen-behind tracker:
// the gating decisions around initiating, accepting, and throttling
// gossip syncs, plus the peer-reported fallen-behind state machine.
package syncmgr

import (
	"math/rand"
	"sync"

	"github.com/hashlattice/platform/internal/freeze"
	"github.com/hashlattice/platform/internal/quorum"
)

// MaximumNeighborsToQuery bounds how many neighbors a single sync round
// samples when not chasing a fallen-behind report.
const MaximumNeighborsToQuery = 10

// TransThrottleInitialCalls is the number of calls after boot/reconnect
// during which trans_throttle() unconditionally returns true.
const TransThrottleInitialCalls = 10

// EmptySyncThrottleWindow is the number of consecutive empty-event syncs
// tolerated before trans_throttle stops forcing further gossip.
const EmptySyncThrottleWindow = 10

// Inputs bundles the live signals the sync manager's decisions consult.
// It is supplied by the caller (the node's main loop) rather than owned
// by Manager, matching Design Notes §9's "no module-level mutable state".
type Inputs struct {
	EventIntakeQueueDepth int
	EventIntakeThrottle   int

	PendingUserTransactions int
	FreezeImminentOrActive  bool
	SignedStatePersisted    bool

	ConsecutiveEmptySyncs int
	CallsSinceReconnect   int

	StaleEventPreventionThreshold float64
	MemberCount                   int
}

// Manager holds the mutable fallen-behind tracker state and the neighbor
// list it samples from.
type Manager struct {
	mu sync.Mutex

	neighbors []int
	tracker   *quorum.Tracker
	freeze    *freeze.Machine

	fallenBehindThreshold float64

	reporting      map[int]struct{}
	notYetReported map[int]struct{}
}

// New builds a Manager over the given neighbor set (excluding self).
func New(neighbors []int, tracker *quorum.Tracker, fm *freeze.Machine, fallenBehindThreshold float64) *Manager {
	return &Manager{
		neighbors:             append([]int(nil), neighbors...),
		tracker:               tracker,
		freeze:                fm,
		fallenBehindThreshold: fallenBehindThreshold,
		reporting:             make(map[int]struct{}),
		notYetReported:        make(map[int]struct{}),
	}
}

// ShouldAcceptSync implements should_accept_sync: refuse once the intake
// queue is backed up past its throttle size.
func ShouldAcceptSync(in Inputs) bool {
	return in.EventIntakeQueueDepth <= in.EventIntakeThrottle
}

// ShouldInitiateSync implements should_initiate_sync, identical to the
// accept-side gate.
func ShouldInitiateSync(in Inputs) bool {
	return ShouldAcceptSync(in)
}

// NeighborsToCall implements neighbors_to_call: if a fallen-behind chase
// is in progress, target the neighbors that have not yet reported;
// otherwise sample up to MaximumNeighborsToQuery random neighbors,
// preferring members in the critical quorum, falling back to the last
// sample if none qualify.
func (m *Manager) NeighborsToCall(rng *rand.Rand) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.reporting) > 0 {
		out := make([]int, 0, len(m.notYetReported))
		for id := range m.notYetReported {
			out = append(out, id)
		}
		shuffle(rng, out)
		return out
	}

	pool := append([]int(nil), m.neighbors...)
	shuffle(rng, pool)

	if len(pool) > MaximumNeighborsToQuery {
		pool = pool[:MaximumNeighborsToQuery]
	}

	var preferred []int
	var last int
	for _, id := range pool {
		last = id
		if m.tracker != nil && m.tracker.IsInCriticalQuorum(id) {
			preferred = append(preferred, id)
		}
	}

	if len(preferred) > 0 {
		return preferred
	}
	if len(pool) > 0 {
		return []int{last}
	}
	return nil
}

// TransThrottle implements trans_throttle: true (keep gossiping) if any
// of the documented conditions hold; false only when none do.
func TransThrottle(in Inputs) bool {
	if in.PendingUserTransactions > 0 {
		return true
	}
	if in.FreezeImminentOrActive {
		return true
	}
	if !in.SignedStatePersisted {
		return true
	}
	if in.ConsecutiveEmptySyncs < EmptySyncThrottleWindow {
		return true
	}
	if in.CallsSinceReconnect < TransThrottleInitialCalls {
		return true
	}
	return false
}

// ShouldCreateEvent implements should_create_event: freeze-transactions
// force creation, even during a freeze; otherwise the freeze machine's
// veto applies; critical
// quorum membership of either party gates it thereafter; a final
// stale-event guard vetoes creation when the sync pulled in an
// implausibly large backlog (events_read > threshold * member_count).
func (m *Manager) ShouldCreateEvent(selfID, peerID int, freezeTransCount, eventsRead int, staleThreshold float64, memberCount int) bool {
	if freezeTransCount > 0 {
		return true
	}
	if m.freeze != nil && m.freeze.ShouldCreateEvent() == freeze.DontCreate {
		return false
	}

	if m.tracker != nil {
		if !m.tracker.IsInCriticalQuorum(selfID) && !m.tracker.IsInCriticalQuorum(peerID) {
			return false
		}
	}

	if staleThreshold > 0 && float64(eventsRead) > staleThreshold*float64(memberCount) {
		return false
	}

	return true
}

// ReportFallenBehind records that peerID has signaled, during a sync's
// Phase 2 tip comparison, that this node has fallen behind. The first
// report in a reporting window seeds not_yet_reported with every
// neighbor.
func (m *Manager) ReportFallenBehind(peerID int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.reporting) == 0 {
		m.notYetReported = make(map[int]struct{}, len(m.neighbors))
		for _, id := range m.neighbors {
			m.notYetReported[id] = struct{}{}
		}
	}

	m.reporting[peerID] = struct{}{}
	delete(m.notYetReported, peerID)
}

// HasFallenBehind reports whether enough distinct neighbors have reported
// fallen-behind to cross the configured threshold fraction of neighbors.
func (m *Manager) HasFallenBehind() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.neighbors)
	if n == 0 {
		return false
	}
	return float64(len(m.reporting)) > float64(n)*m.fallenBehindThreshold
}

// NeighborsForReconnect returns the reporting peers, shuffled, as
// reconnect targets.
func (m *Manager) NeighborsForReconnect(rng *rand.Rand) []int {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]int, 0, len(m.reporting))
	for id := range m.reporting {
		out = append(out, id)
	}
	shuffle(rng, out)
	return out
}

// ResetFallenBehind clears all fallen-behind tracking state.
func (m *Manager) ResetFallenBehind() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reporting = make(map[int]struct{})
	m.notYetReported = make(map[int]struct{})
}

func shuffle(rng *rand.Rand, s []int) {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	rng.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

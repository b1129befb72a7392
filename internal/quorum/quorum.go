// Package quorum tracks critical-quorum / strong-minority statistics:
// per-round, stake-weighted counters that feed peer selection and
// event-creation policy.
package quorum

import (
	"sync"

	"github.com/hashlattice/platform/internal/addressbook"
)

// MaxEventCount bounds k in stake_by_event_count[k] to [0, 100).
const MaxEventCount = 100

// Tracker maintains events_by_member and stake_by_event_count for the
// latest created round R_max, as reported by event ingestion, and exposes
// the is_in_critical_quorum predicate. The stake-based variant is
// authoritative; the count-based variant serves stake-less test
// configurations. Both share this type; NewStakeBased and NewCountBased
// set its weight function, total and threshold predicate.
type Tracker struct {
	mu sync.RWMutex

	book   *addressbook.Book
	weight func(addressbook.Member) uint64
	total  uint64

	roundMax       int64
	eventsByMember map[int]int
	stakeByCount   [MaxEventCount]uint64
	threshold      int

	// useSupermajority selects between the strong-minority predicate
	// (>= total/3, stake-based, authoritative) and a supermajority
	// predicate (> 2*total/3) for the count-based variant's threshold.
	useSupermajority bool
}

// NewStakeBased builds the authoritative stake-weighted tracker: a member
// is in the critical quorum iff its event count this round is <= the
// largest k for which the aggregate stake of members with >= k events is
// a strong minority (>= total_stake/3).
func NewStakeBased(book *addressbook.Book) *Tracker {
	return &Tracker{
		book:           book,
		weight:         func(m addressbook.Member) uint64 { return m.Stake },
		total:          book.TotalStake(),
		roundMax:       -1,
		eventsByMember: make(map[int]int),
	}
}

// NewCountBased builds the test-configuration tracker, used when members
// carry no meaningful stake: every member weighs 1, and the threshold uses
// the supermajority predicate (> 2*N/3) rather than strong-minority.
func NewCountBased(book *addressbook.Book) *Tracker {
	return &Tracker{
		book:             book,
		weight:           func(addressbook.Member) uint64 { return 1 },
		total:            uint64(book.Size()),
		roundMax:         -1,
		eventsByMember:   make(map[int]int),
		useSupermajority: true,
	}
}

// RecordEvent updates the tracker with an event created by creator in
// round r. Events from a round below the current R_max are ignored;
// events from a round above R_max atomically reset the arrays.
func (t *Tracker) RecordEvent(r int64, creator int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r > t.roundMax {
		t.reset(r)
	}
	if r != t.roundMax {
		return
	}

	m, ok := t.book.Member(creator)
	if !ok {
		return
	}

	count := t.eventsByMember[creator]
	next := count + 1
	t.eventsByMember[creator] = next

	if next < MaxEventCount {
		t.stakeByCount[next] += t.weight(m)
	}

	t.recomputeThreshold()
}

func (t *Tracker) reset(r int64) {
	t.roundMax = r
	t.eventsByMember = make(map[int]int)
	for i := range t.stakeByCount {
		t.stakeByCount[i] = 0
	}
	// Every member vacuously satisfies "created >= 0 events".
	t.stakeByCount[0] = t.total
	t.threshold = 0
}

func (t *Tracker) recomputeThreshold() {
	for k := MaxEventCount - 1; k >= 0; k-- {
		if t.meetsThreshold(t.stakeByCount[k]) {
			t.threshold = k
			return
		}
	}
	t.threshold = 0
}

func (t *Tracker) meetsThreshold(stake uint64) bool {
	if t.useSupermajority {
		return stake*3 > t.total*2
	}
	return stake*3 >= t.total
}

// IsInCriticalQuorum reports whether nodeID belongs to the critical
// quorum for the current round: its event count this round is <= the
// tracked threshold T.
func (t *Tracker) IsInCriticalQuorum(nodeID int) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.eventsByMember[nodeID] <= t.threshold
}

// Threshold returns the current T, for observability/tests.
func (t *Tracker) Threshold() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.threshold
}

// RoundMax returns the round number the tracker currently holds arrays
// for.
func (t *Tracker) RoundMax() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.roundMax
}

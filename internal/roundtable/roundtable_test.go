package roundtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCreatesRoundOnFirstAccess(t *testing.T) {
	t.Parallel()

	tbl := New()
	assert.Equal(t, int64(-1), tbl.Max())

	r := tbl.Get(5)
	assert.Equal(t, int64(5), r.Number)
	assert.Equal(t, int64(5), tbl.Max())

	same := tbl.Get(5)
	assert.Same(t, r, same, "repeated Get must return the same Round instance")
}

func TestRecordEventIncrementsCount(t *testing.T) {
	t.Parallel()

	tbl := New()

	snap := tbl.RecordEvent(3, 7)
	assert.Equal(t, 1, snap[7])

	snap = tbl.RecordEvent(3, 7)
	assert.Equal(t, 2, snap[7])

	snap = tbl.RecordEvent(3, 9)
	assert.Equal(t, 2, snap[7])
	assert.Equal(t, 1, snap[9])
}

func TestRecordEventSnapshotIsIndependentCopy(t *testing.T) {
	t.Parallel()

	tbl := New()
	snap := tbl.RecordEvent(1, 0)
	snap[0] = 999

	again := tbl.RecordEvent(1, 1)
	assert.Equal(t, 1, again[0], "mutating a returned snapshot must not affect the table")
}

func TestMaxTracksHighestRound(t *testing.T) {
	t.Parallel()

	tbl := New()
	tbl.Get(2)
	tbl.Get(10)
	tbl.Get(4)

	assert.Equal(t, int64(10), tbl.Max())
}

func TestPruneBelowRemovesStaleRounds(t *testing.T) {
	t.Parallel()

	tbl := New()
	tbl.RecordEvent(1, 0)
	tbl.RecordEvent(2, 0)
	tbl.Get(3)

	tbl.PruneBelow(3)

	// Rounds 1 and 2 are gone; Get(1) creates a fresh empty round rather
	// than reviving the old one's bookkeeping.
	r := tbl.Get(1)
	assert.Empty(t, r.EventsByMember)

	// Round 3 survives the prune untouched.
	tbl.RecordEvent(3, 0)
	r3 := tbl.Get(3)
	assert.Equal(t, 1, r3.EventsByMember[0])
}

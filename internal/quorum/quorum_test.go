package quorum

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashlattice/platform/internal/addressbook"
)

func testBook(t *testing.T, stakes ...uint64) *addressbook.Book {
	t.Helper()

	members := make([]addressbook.Member, len(stakes))
	for i, s := range stakes {
		members[i] = addressbook.Member{ID: i, Stake: s}
	}
	book, err := addressbook.New(members)
	require.NoError(t, err)
	return book
}

func TestStakeBasedResetsOnNewRound(t *testing.T) {
	t.Parallel()

	book := testBook(t, 10, 10, 10)
	tr := NewStakeBased(book)

	assert.Equal(t, int64(-1), tr.RoundMax())

	tr.RecordEvent(1, 0)
	assert.Equal(t, int64(1), tr.RoundMax())
	assert.True(t, tr.IsInCriticalQuorum(0))

	// Stale round is ignored.
	tr.RecordEvent(0, 1)
	assert.Equal(t, int64(1), tr.RoundMax())

	// New round resets the arrays.
	tr.RecordEvent(2, 1)
	assert.Equal(t, int64(2), tr.RoundMax())
	assert.True(t, tr.IsInCriticalQuorum(0), "member 0 vacuously satisfies 0 events in the new round")
}

func TestStakeBasedCriticalQuorumThreshold(t *testing.T) {
	t.Parallel()

	// Three equal-stake members: total = 30. Strong minority requires
	// stake_by_event_count[k]*3 >= total, i.e. stake >= 10.
	book := testBook(t, 10, 10, 10)
	tr := NewStakeBased(book)

	tr.RecordEvent(1, 0) // member 0: 1 event
	tr.RecordEvent(1, 0) // member 0: 2 events

	// stake_by_event_count[0] = 30 (everyone), [1] = 10 (member 0 only after
	// first event, still counted once it passed through 1), [2] = 10.
	assert.GreaterOrEqual(t, tr.Threshold(), 0)
	assert.True(t, tr.IsInCriticalQuorum(1), "member 1 created 0 events, always within threshold")
}

func TestCountBasedUsesSupermajority(t *testing.T) {
	t.Parallel()

	book := testBook(t, 1, 1, 1)
	tr := NewCountBased(book)

	tr.RecordEvent(1, 0)
	tr.RecordEvent(1, 1)

	// total=3: supermajority needs stake*3 > 6, i.e. stake > 2, so only
	// stake_by_event_count[0]=3 qualifies (3*3=9>6); [1]=2 does not (2*3=6
	// is not > 6).
	assert.Equal(t, 0, tr.Threshold())
}

func TestIsInCriticalQuorumUnknownMember(t *testing.T) {
	t.Parallel()

	book := testBook(t, 10, 10)
	tr := NewStakeBased(book)
	tr.RecordEvent(1, 0)

	assert.True(t, tr.IsInCriticalQuorum(99), "unrecorded members default to 0 events")
}

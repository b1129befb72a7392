package event

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orphanEvent(creator int, seq uint64) *Event {
	e := &Event{
		CreatorID:      creator,
		CreatorSeq:     seq,
		HasSelfParent:  false,
		HasOtherParent: false,
		SelfParentGen:  NoParentGen,
		OtherParentGen: NoParentGen,
		TimeCreated:    time.Unix(1_700_000_000, 0),
	}
	e.Finalize()
	return e
}

func TestFinalizeComputesGenerationFromParents(t *testing.T) {
	t.Parallel()

	orphan := orphanEvent(0, 0)
	assert.Equal(t, int64(0), orphan.Generation)

	child := &Event{
		CreatorID:      0,
		CreatorSeq:     1,
		SelfParent:     orphan.BaseHash,
		HasSelfParent:  true,
		SelfParentGen:  orphan.Generation,
		OtherParentGen: NoParentGen,
		TimeCreated:    orphan.TimeCreated,
	}
	child.Finalize()

	assert.Equal(t, int64(1), child.Generation)
	assert.NotEqual(t, orphan.BaseHash, child.BaseHash)
}

func TestFinalizeIsDeterministic(t *testing.T) {
	t.Parallel()

	a := orphanEvent(3, 0)
	b := orphanEvent(3, 0)
	assert.Equal(t, a.BaseHash, b.BaseHash)

	c := orphanEvent(4, 0)
	assert.NotEqual(t, a.BaseHash, c.BaseHash)
}

func TestWellFormedRejectsUnknownParent(t *testing.T) {
	t.Parallel()

	e := &Event{
		CreatorID:     1,
		CreatorSeq:    1,
		HasSelfParent: true,
		SelfParent:    Hash{0xAA},
		SelfParentGen: 0,
	}

	err := e.WellFormed(func(Hash) bool { return false }, func(int, []byte, []byte) bool { return true })
	assert.Error(t, err)
}

func TestWellFormedRejectsSeqParentMismatch(t *testing.T) {
	t.Parallel()

	// CreatorSeq == 0 but HasSelfParent true: violates invariant (b).
	e := &Event{
		CreatorID:     1,
		CreatorSeq:    0,
		HasSelfParent: true,
		SelfParent:    Hash{0xAA},
	}

	err := e.WellFormed(func(Hash) bool { return true }, func(int, []byte, []byte) bool { return true })
	assert.Error(t, err)
}

func TestWellFormedRejectsBadSignature(t *testing.T) {
	t.Parallel()

	e := orphanEvent(0, 0)
	err := e.WellFormed(func(Hash) bool { return true }, func(int, []byte, []byte) bool { return false })
	assert.Error(t, err)
}

func TestWellFormedAcceptsValidOrphan(t *testing.T) {
	t.Parallel()

	e := orphanEvent(0, 0)
	err := e.WellFormed(func(Hash) bool { return true }, func(int, []byte, []byte) bool { return true })
	assert.NoError(t, err)
}

func TestChecksNonDecreasingTime(t *testing.T) {
	t.Parallel()

	parent := orphanEvent(0, 0)

	later := orphanEvent(0, 1)
	later.TimeCreated = parent.TimeCreated.Add(time.Second)
	assert.True(t, ChecksNonDecreasingTime(later, parent))

	earlier := orphanEvent(0, 1)
	earlier.TimeCreated = parent.TimeCreated.Add(-time.Second)
	assert.False(t, ChecksNonDecreasingTime(earlier, parent))

	assert.True(t, ChecksNonDecreasingTime(later, nil))
}

func TestEncodeDecodeRecordRoundTrip(t *testing.T) {
	t.Parallel()

	e := &Event{
		CreatorID:      2,
		CreatorSeq:     5,
		SelfParent:     Hash{0x01},
		OtherParent:    Hash{0x02},
		HasSelfParent:  true,
		HasOtherParent: true,
		SelfParentGen:  3,
		OtherParentGen: 4,
		TimeCreated:    time.Unix(1_700_000_123, 456),
		Transactions: []Transaction{
			{System: false, Payload: []byte("hello")},
			{System: true, Subtype: SubtypeStateSig, Payload: []byte{0xDE, 0xAD}},
		},
		Signature: []byte("sig-bytes"),
	}
	e.Finalize()

	var buf bytes.Buffer
	require.NoError(t, EncodeRecord(&buf, e, 7, 9))

	decoded, otherID, otherSeq, err := DecodeRecord(&buf)
	require.NoError(t, err)

	assert.Equal(t, int64(7), otherID)
	assert.Equal(t, int64(9), otherSeq)
	assert.Equal(t, e.CreatorID, decoded.CreatorID)
	assert.Equal(t, e.CreatorSeq, decoded.CreatorSeq)
	assert.Equal(t, e.SelfParent, decoded.SelfParent)
	assert.Equal(t, e.OtherParent, decoded.OtherParent)
	assert.True(t, decoded.HasSelfParent)
	assert.True(t, decoded.HasOtherParent)
	assert.Equal(t, e.BaseHash, decoded.BaseHash)
	assert.Equal(t, len(e.Transactions), len(decoded.Transactions))
	assert.Equal(t, e.Transactions[1].Subtype, decoded.Transactions[1].Subtype)
	assert.Equal(t, e.Signature, decoded.Signature)
}

func TestEncodeDecodeRecordOrphanHasNoParents(t *testing.T) {
	t.Parallel()

	e := orphanEvent(1, 0)

	var buf bytes.Buffer
	require.NoError(t, EncodeRecord(&buf, e, -1, -1))

	decoded, otherID, otherSeq, err := DecodeRecord(&buf)
	require.NoError(t, err)

	assert.Equal(t, int64(-1), otherID)
	assert.Equal(t, int64(-1), otherSeq)
	assert.False(t, decoded.HasSelfParent)
	assert.False(t, decoded.HasOtherParent)
}

func TestTransactionSize(t *testing.T) {
	t.Parallel()

	user := Transaction{Payload: make([]byte, 10)}
	assert.Equal(t, 1+4+10, user.Size())

	sys := Transaction{System: true, Payload: make([]byte, 10)}
	assert.Equal(t, 1+4+10+1, sys.Size())
}

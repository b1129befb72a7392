package statesig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hashlattice/platform/internal/addressbook"
)

func testBook(t *testing.T) *addressbook.Book {
	t.Helper()
	book, err := addressbook.New([]addressbook.Member{
		{ID: 0, Nickname: "n0", Stake: 1},
		{ID: 1, Nickname: "n1", Stake: 1},
		{ID: 2, Nickname: "n2", Stake: 1},
	})
	require.NoError(t, err)
	return book
}

func TestSigSetCompleteAndSupermajority(t *testing.T) {
	t.Parallel()

	book := testBook(t)
	set := newSigSet(1, [32]byte{0xAB}, book)

	assert.False(t, set.Complete())
	assert.False(t, set.Supermajority())

	assert.True(t, set.Add(0, 1, []byte("sig0")))
	assert.False(t, set.Supermajority()) // 1/3, not > 2/3

	assert.True(t, set.Add(1, 1, []byte("sig1")))
	assert.False(t, set.Supermajority()) // 2/3 of stake, not strictly greater

	assert.True(t, set.Add(2, 1, []byte("sig2")))
	assert.True(t, set.Supermajority())
	assert.True(t, set.Complete())

	// Re-adding the same member is a no-op.
	assert.False(t, set.Add(0, 1, []byte("dup")))
}

func TestCollectorRecordsBoundaryOnSupermajority(t *testing.T) {
	dir, err := os.MkdirTemp("", "statesig-*")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	book := testBook(t)
	c, err := NewCollector(book, dir)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, int64(-1), c.LastCompleteRound())

	require.NoError(t, c.RecordSignature(5, [32]byte{0x01}, 0, []byte("a")))
	assert.Equal(t, int64(-1), c.LastCompleteRound())

	require.NoError(t, c.RecordSignature(5, [32]byte{0x01}, 1, []byte("b")))
	require.NoError(t, c.RecordSignature(5, [32]byte{0x01}, 2, []byte("c")))

	assert.Equal(t, int64(5), c.LastCompleteRound())
}

func TestDecodeStateSigRoundTrip(t *testing.T) {
	t.Parallel()

	w := NewWorker(nil, stubSigner{}, 0, nil)
	_ = w // constructed to exercise NewWorker; HandleSnapshot requires a provider.

	tx, err := encodeStateSig(7, [32]byte{0xCD}, []byte("signature"))
	require.NoError(t, err)

	round, hash, sig, err := DecodeStateSig(tx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), round)
	assert.Equal(t, [32]byte{0xCD}, hash)
	assert.Equal(t, []byte("signature"), sig)
}

type stubSigner struct{}

func (stubSigner) Sign(hash [32]byte) []byte { return append([]byte("sig:"), hash[:4]...) }

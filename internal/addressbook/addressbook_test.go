package addressbook

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsOutOfOrderIDs(t *testing.T) {
	t.Parallel()

	_, err := New([]Member{{ID: 0}, {ID: 2}})
	assert.Error(t, err)
}

func TestNewComputesTotalStake(t *testing.T) {
	t.Parallel()

	book, err := New([]Member{
		{ID: 0, Stake: 10},
		{ID: 1, Stake: 5},
		{ID: 2, Stake: 0},
	})
	require.NoError(t, err)

	assert.Equal(t, 3, book.Size())
	assert.Equal(t, uint64(15), book.TotalStake())

	m, ok := book.Member(1)
	require.True(t, ok)
	assert.Equal(t, uint64(5), m.Stake)

	_, ok = book.Member(99)
	assert.False(t, ok)
}

func TestStakedMembersExcludesMirrorsUnlessEnabled(t *testing.T) {
	t.Parallel()

	book, err := New([]Member{
		{ID: 0, Stake: 10},
		{ID: 1, Stake: 0},
	})
	require.NoError(t, err)

	assert.Len(t, book.StakedMembers(false), 1)
	assert.Len(t, book.StakedMembers(true), 2)
}

func TestEndpointPolicy(t *testing.T) {
	t.Parallel()

	caller := Member{ID: 0}
	callee := Member{ID: 1, InternalIP: "10.0.0.2", ExternalIP: "203.0.113.2", Port: 3000}

	assert.Equal(t, "127.0.0.1:3000", Endpoint(caller, callee, true, false, true))
	assert.Equal(t, "10.0.0.2:3000", Endpoint(caller, callee, false, true, false))
	assert.Equal(t, "203.0.113.2:3000", Endpoint(caller, callee, false, false, false))
}

func TestLoadFileRoundTrips(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "addressbook.json")

	contents := `[
		{"id": 0, "nickname": "alice", "public_key": "aa", "internal_ip": "10.0.0.1", "external_ip": "203.0.113.1", "port": 3000, "stake": 10},
		{"id": 1, "nickname": "bob", "public_key": "bb", "internal_ip": "10.0.0.2", "external_ip": "203.0.113.2", "port": 3001, "stake": 5}
	]`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	book, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 2, book.Size())
	m, ok := book.Member(0)
	require.True(t, ok)
	assert.Equal(t, "alice", m.Nickname)
	assert.Equal(t, byte(0xaa), m.PublicKey[0])
}

func TestLoadFileRejectsMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

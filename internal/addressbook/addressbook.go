// Package addressbook holds the fixed committee of members that
// participate in gossip and consensus.
package addressbook

import (
	"encoding/hex"
	"encoding/json"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

// Member is one entry of the address book.
type Member struct {
	ID         int
	Nickname   string
	PublicKey  [32]byte
	InternalIP string
	ExternalIP string
	Port       uint16
	Stake      uint64
}

// Mirror reports whether this member has zero stake and therefore never
// participates in quorum calculations unless beta-mirror mode is enabled.
func (m Member) Mirror() bool {
	return m.Stake == 0
}

// Book is the fixed-size, ordered list of members that make up the
// permissioned committee.
type Book struct {
	members    []Member
	byID       map[int]Member
	totalStake uint64
}

// New builds an address book from an ordered member list. Members must
// have distinct, contiguous ids starting at zero, i.e. covering [0,N).
func New(members []Member) (*Book, error) {
	byID := make(map[int]Member, len(members))
	var total uint64

	for i, m := range members {
		if m.ID != i {
			return nil, errors.Errorf("address book: member %d has out-of-order id %d", i, m.ID)
		}
		byID[m.ID] = m
		total += m.Stake
	}

	return &Book{members: append([]Member(nil), members...), byID: byID, totalStake: total}, nil
}

// fileMember mirrors Member's fields with a hex-encoded public key, the
// on-disk representation of one address book entry.
type fileMember struct {
	ID         int    `json:"id"`
	Nickname   string `json:"nickname"`
	PublicKey  string `json:"public_key"`
	InternalIP string `json:"internal_ip"`
	ExternalIP string `json:"external_ip"`
	Port       uint16 `json:"port"`
	Stake      uint64 `json:"stake"`
}

// LoadFile reads a JSON-encoded address book from path, the on-disk format
// operators hand to cmd/hashgraph-node alongside the rest of the committee's
// genesis material.
func LoadFile(path string) (*Book, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "address book: read file")
	}

	var fileMembers []fileMember
	if err := json.Unmarshal(raw, &fileMembers); err != nil {
		return nil, errors.Wrap(err, "address book: decode file")
	}

	members := make([]Member, len(fileMembers))
	for i, fm := range fileMembers {
		var pk [32]byte
		if fm.PublicKey != "" {
			decoded, err := hex.DecodeString(fm.PublicKey)
			if err != nil {
				return nil, errors.Wrapf(err, "address book: member %d public key", fm.ID)
			}
			copy(pk[:], decoded)
		}

		members[i] = Member{
			ID:         fm.ID,
			Nickname:   fm.Nickname,
			PublicKey:  pk,
			InternalIP: fm.InternalIP,
			ExternalIP: fm.ExternalIP,
			Port:       fm.Port,
			Stake:      fm.Stake,
		}
	}

	return New(members)
}

// Size returns N, the number of members in the committee.
func (b *Book) Size() int { return len(b.members) }

// TotalStake returns the sum of all member stakes.
func (b *Book) TotalStake() uint64 { return b.totalStake }

// Member looks a member up by id.
func (b *Book) Member(id int) (Member, bool) {
	m, ok := b.byID[id]
	return m, ok
}

// Members returns the full ordered member list. Callers must not mutate it.
func (b *Book) Members() []Member { return b.members }

// StakedMembers returns only members with non-zero stake, i.e. excluding
// mirrors, unless betaMirror is enabled.
func (b *Book) StakedMembers(betaMirror bool) []Member {
	if betaMirror {
		return b.Members()
	}

	out := make([]Member, 0, len(b.members))
	for _, m := range b.members {
		if !m.Mirror() {
			out = append(out, m)
		}
	}
	return out
}

// Endpoint resolves the address to dial for callee as seen from caller,
// preferring loopback or LAN addresses when caller and callee share a
// host or network.
func Endpoint(caller, callee Member, sameHost, sameLAN, useLoopback bool) string {
	switch {
	case sameHost && useLoopback:
		return withPort("127.0.0.1", callee.Port)
	case sameLAN:
		return withPort(callee.InternalIP, callee.Port)
	default:
		return withPort(callee.ExternalIP, callee.Port)
	}
}

func withPort(host string, port uint16) string {
	return host + ":" + strconv.Itoa(int(port))
}

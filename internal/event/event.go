// Package event defines the DAG vertex exchanged between nodes: its
// fields, derived hash/generation, and its well-formedness checks.
package event

import (
	"time"

	"golang.org/x/crypto/blake2b"
)

// HashSize is the digest length used throughout the platform. The
// specification leaves the exact algorithm as an open question and fixes
// the placeholder length at 32 bytes; BLAKE2b-256 is adopted here (see
// DESIGN.md), which satisfies that placeholder exactly.
const HashSize = 32

// Hash is a fixed-width cryptographic digest.
type Hash [HashSize]byte

// ZeroHash is the sentinel "no parent" hash.
var ZeroHash Hash

// NoParentGen is the sentinel claimed generation meaning "no parent".
const NoParentGen int64 = -1

// SystemSubtype enumerates the recognized system transaction subtypes.
type SystemSubtype byte

const (
	SubtypeNone SystemSubtype = iota
	SubtypeStateSig
	SubtypeStateSigFreeze
	SubtypePing
	SubtypeBitsPerSecond
)

// Transaction is a single variable-length blob carried by an event, tagged
// user or system.
type Transaction struct {
	System  bool
	Subtype SystemSubtype // meaningful only when System is true
	Payload []byte
}

// Size returns the transaction's contribution to an event's byte budget:
// the payload plus its flag/subtype/length framing overhead.
func (t Transaction) Size() int {
	n := 1 + 4 + len(t.Payload) // flags + u32 len + payload
	if t.System {
		n++ // subtype byte
	}
	return n
}

// Event is an immutable DAG vertex. BaseHash and Generation are derived
// fields, populated by Finalize.
type Event struct {
	CreatorID      int
	CreatorSeq     uint64
	SelfParent     Hash
	OtherParent    Hash
	HasSelfParent  bool
	HasOtherParent bool
	SelfParentGen  int64
	OtherParentGen int64
	TimeCreated    time.Time
	Transactions   []Transaction
	Signature      []byte

	BaseHash   Hash
	Generation int64
}

// computeGeneration computes max(selfParentGen, otherParentGen) + 1, or 0 for an
// orphan with neither parent.
func computeGeneration(selfGen, otherGen int64) int64 {
	max := selfGen
	if otherGen > max {
		max = otherGen
	}
	if max < 0 {
		return 0
	}
	return max + 1
}

// Finalize computes BaseHash and Generation from the event's fields. It
// must be called exactly once, after every field except the signature
// (which is computed over the same hashed portion) has been set.
func (e *Event) Finalize() {
	e.Generation = computeGeneration(e.SelfParentGen, e.OtherParentGen)
	e.BaseHash = e.hash()
}

// SignedPortion returns the byte sequence the creator signs and the one
// whose digest becomes BaseHash:
// base_hash = digest(creator_id ‖ self_parent_hash ‖ other_parent_hash ‖
// self_parent_gen ‖ other_parent_gen ‖ time_created ‖ transactions).
func (e *Event) SignedPortion() []byte {
	return EncodeSignedPortion(e)
}

func (e *Event) hash() Hash {
	return blake2b.Sum256(e.SignedPortion())
}

// WellFormed checks invariants (a)-(c) of an event's construction, given
// a resolver that reports whether a declared parent hash is a known
// event and a verifier for the creator's signature. It does not check
// invariant (d) against a specific self-parent event's TimeCreated;
// callers with access to the resolved self-parent should additionally
// call ChecksNonDecreasingTime.
func (e *Event) WellFormed(knownParent func(Hash) bool, verify func(creatorID int, signed []byte, sig []byte) bool) error {
	if e.HasSelfParent && !knownParent(e.SelfParent) {
		return errUnknownParent("self")
	}
	if e.HasOtherParent && !knownParent(e.OtherParent) {
		return errUnknownParent("other")
	}

	if (e.CreatorSeq == 0) != !e.HasSelfParent {
		return errSeqParentMismatch
	}

	if !verify(e.CreatorID, e.SignedPortion(), e.Signature) {
		return errBadSignature
	}

	return nil
}

// ChecksNonDecreasingTime enforces invariant (d): time_created is
// non-decreasing along the self-parent chain.
func ChecksNonDecreasingTime(child, selfParent *Event) bool {
	if selfParent == nil {
		return true
	}
	return !child.TimeCreated.Before(selfParent.TimeCreated)
}

// Package statesig implements signed-state hashing dispatch: a hash-sign
// worker, per-round signature sets, and a goleveldb-backed store for
// round-boundary metadata. Full application state stays an opaque
// collaborator; only the round number and hash of each round that reaches
// supermajority are persisted here, not the signatures.
package statesig

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/hashlattice/platform/internal/addressbook"
	"github.com/hashlattice/platform/internal/event"
	"github.com/hashlattice/platform/internal/log"
	"github.com/hashlattice/platform/internal/pipeline"
	"github.com/hashlattice/platform/internal/xerrors"
)

// StateProvider is the named collaborator that owns application-state
// copy/serialization; this package only ever touches it through this
// narrow interface.
type StateProvider interface {
	Snapshot() pipeline.StateSnapshot
	Hash(pipeline.StateSnapshot) [32]byte
}

// Signer produces this node's signature over a root hash.
type Signer interface {
	Sign(hash [32]byte) []byte
}

// SigSet accumulates signatures for one round.
type SigSet struct {
	Round int64
	Hash  [32]byte

	sigs       map[int][]byte
	signStake  uint64
	totalStake uint64
	memberSet  map[int]struct{}
}

func newSigSet(round int64, hash [32]byte, book *addressbook.Book) *SigSet {
	members := make(map[int]struct{})
	for _, m := range book.Members() {
		if !m.Mirror() {
			members[m.ID] = struct{}{}
		}
	}
	return &SigSet{
		Round:      round,
		Hash:       hash,
		sigs:       make(map[int][]byte),
		totalStake: book.TotalStake(),
		memberSet:  members,
	}
}

// Add records memberID's signature, returning false if already recorded.
func (s *SigSet) Add(memberID int, stake uint64, sig []byte) bool {
	if _, dup := s.sigs[memberID]; dup {
		return false
	}
	s.sigs[memberID] = sig
	s.signStake += stake
	return true
}

// Complete reports whether every staked member has signed.
func (s *SigSet) Complete() bool {
	for id := range s.memberSet {
		if _, ok := s.sigs[id]; !ok {
			return false
		}
	}
	return true
}

// Supermajority reports whether accumulated signing stake exceeds 2/3 of
// total stake.
func (s *SigSet) Supermajority() bool {
	return s.signStake*3 > s.totalStake*2
}

// Collector tracks a SigSet per round and the most recent round to reach
// supermajority, persisting round-boundary metadata (not full state) to a
// goleveldb store.
type Collector struct {
	mu sync.Mutex

	book *addressbook.Book
	db   *leveldb.DB

	sets              map[int64]*SigSet
	lastCompleteRound int64
}

// NewCollector opens (or creates) the goleveldb store at path and returns
// a Collector bound to the given address book.
func NewCollector(book *addressbook.Book, path string) (*Collector, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Transport, err, fmt.Sprintf("open statesig store %q", path))
	}
	return &Collector{
		book:              book,
		db:                db,
		sets:              make(map[int64]*SigSet),
		lastCompleteRound: -1,
	}, nil
}

// Close closes the underlying store.
func (c *Collector) Close() error {
	return c.db.Close()
}

// RecordSignature accumulates one member's signature over (round, hash)
// and persists round-boundary metadata once the set reaches supermajority.
func (c *Collector) RecordSignature(round int64, hash [32]byte, memberID int, sig []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.sets[round]
	if !ok {
		set = newSigSet(round, hash, c.book)
		c.sets[round] = set
	}

	m, ok := c.book.Member(memberID)
	if !ok {
		return xerrors.New(xerrors.Validation, "STATE_SIG from unknown member id")
	}

	set.Add(memberID, m.Stake, sig)

	if set.Supermajority() && round > c.lastCompleteRound {
		c.lastCompleteRound = round
		return c.persistBoundary(round, hash)
	}

	return nil
}

// LastCompleteRound returns the most recent round to reach supermajority.
func (c *Collector) LastCompleteRound() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastCompleteRound
}

type boundaryRecord struct {
	Round int64  `json:"round"`
	Hash  string `json:"hash"`
}

func (c *Collector) persistBoundary(round int64, hash [32]byte) error {
	rec := boundaryRecord{Round: round, Hash: fmt.Sprintf("%x", hash)}
	data, err := json.Marshal(rec)
	if err != nil {
		return xerrors.Wrap(xerrors.Transport, err, "marshal signed-state boundary record")
	}

	key := roundKey(round)
	if err := c.db.Put(key, data, nil); err != nil {
		return xerrors.Wrap(xerrors.Transport, err, "persist signed-state boundary record")
	}
	return nil
}

func roundKey(round int64) []byte {
	key := make([]byte, len("round:")+8)
	copy(key, "round:")
	binary.BigEndian.PutUint64(key[len("round:"):], uint64(round))
	return key
}

// Worker drains the pipeline's stateToHashSign queue, hashing and
// self-signing each snapshot, then handing the resulting STATE_SIG
// transaction to broadcast.
type Worker struct {
	provider  StateProvider
	signer    Signer
	selfID    int
	broadcast func(round int64, tx event.Transaction) error
}

// NewWorker builds a hash-sign worker.
func NewWorker(provider StateProvider, signer Signer, selfID int, broadcast func(round int64, tx event.Transaction) error) *Worker {
	return &Worker{provider: provider, signer: signer, selfID: selfID, broadcast: broadcast}
}

// HandleSnapshot hashes snap, signs the root hash, and broadcasts a
// STATE_SIG system transaction carrying (round, hash, signature).
func (w *Worker) HandleSnapshot(round int64, snap pipeline.StateSnapshot) error {
	hash := w.provider.Hash(snap)
	sig := w.signer.Sign(hash)

	tx, err := encodeStateSig(round, hash, sig)
	if err != nil {
		return err
	}

	if w.broadcast == nil {
		log.Consensus("statesig").Warn().Msg("no broadcast callback configured, dropping STATE_SIG")
		return nil
	}

	return w.broadcast(round, tx)
}

func encodeStateSig(round int64, hash [32]byte, sig []byte) (event.Transaction, error) {
	payload := make([]byte, 8+32+len(sig))
	binary.BigEndian.PutUint64(payload[0:8], uint64(round))
	copy(payload[8:40], hash[:])
	copy(payload[40:], sig)

	return event.Transaction{
		System:  true,
		Subtype: event.SubtypeStateSig,
		Payload: payload,
	}, nil
}

// DecodeStateSig parses a STATE_SIG transaction's payload back into its
// (round, hash, signature) fields.
func DecodeStateSig(tx event.Transaction) (round int64, hash [32]byte, sig []byte, err error) {
	if !tx.System || tx.Subtype != event.SubtypeStateSig {
		return 0, hash, nil, xerrors.New(xerrors.Protocol, "not a STATE_SIG transaction")
	}
	if len(tx.Payload) < 40 {
		return 0, hash, nil, xerrors.New(xerrors.Protocol, "truncated STATE_SIG payload")
	}

	round = int64(binary.BigEndian.Uint64(tx.Payload[0:8]))
	copy(hash[:], tx.Payload[8:40])
	sig = append([]byte(nil), tx.Payload[40:]...)
	return round, hash, sig, nil
}

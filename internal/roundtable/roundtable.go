// Package roundtable tracks per-created-round bookkeeping: per-creator
// event counts and the minimum generation of famous witnesses. It does
// not hold the events themselves or stake aggregates. Rounds are indexed
// by number in a google/btree so that pruning ancient rounds is a range
// operation rather than a full-map scan; the current R_max is kept in a
// field updated on insertion.
package roundtable

import (
	"sync"

	"github.com/google/btree"
)

// Round is the bookkeeping object for one created-round number.
type Round struct {
	Number         int64
	EventsByMember map[int]int
	MinGenInfo     int64 // minimum generation of famous witnesses, once known
}

func (r *Round) Less(than btree.Item) bool {
	return r.Number < than.(*Round).Number
}

// Table holds one Round per tracked round number. Earlier rounds stay in
// the table, updated in place, until PruneBelow removes them.
type Table struct {
	mu   sync.RWMutex
	tree *btree.BTree
	max  int64
}

// New returns an empty round table.
func New() *Table {
	return &Table{tree: btree.New(32), max: -1}
}

// Get returns the Round bookkeeping for r, creating it if absent.
func (t *Table) Get(r int64) *Round {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.getOrCreateLocked(r)
}

func (t *Table) getOrCreateLocked(r int64) *Round {
	probe := &Round{Number: r}
	if item := t.tree.Get(probe); item != nil {
		return item.(*Round)
	}

	round := &Round{Number: r, EventsByMember: make(map[int]int)}
	t.tree.ReplaceOrInsert(round)

	if r > t.max {
		t.max = r
	}

	return round
}

// RecordEvent increments creator's event count within round r and returns
// the updated round snapshot (a shallow copy of the count map, safe to
// read without holding the table's lock).
func (t *Table) RecordEvent(r int64, creator int) map[int]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	round := t.getOrCreateLocked(r)
	round.EventsByMember[creator]++

	snapshot := make(map[int]int, len(round.EventsByMember))
	for k, v := range round.EventsByMember {
		snapshot[k] = v
	}
	return snapshot
}

// Max returns the highest round number tracked so far, or -1 if none.
func (t *Table) Max() int64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.max
}

// PruneBelow removes every round strictly below minRound, i.e. rounds that
// have fallen below the DAG's non-ancient window.
func (t *Table) PruneBelow(minRound int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var stale []btree.Item
	t.tree.Ascend(func(item btree.Item) bool {
		r := item.(*Round)
		if r.Number >= minRound {
			return false
		}
		stale = append(stale, item)
		return true
	})

	for _, item := range stale {
		t.tree.Delete(item)
	}
}

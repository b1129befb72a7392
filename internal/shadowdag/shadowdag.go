// Package shadowdag implements the in-memory parent/child graph of
// non-ancient events. It uses an arena of shadow events addressed by a
// dense id rather than a cyclic parent<->child object graph: parent/child
// links are arena indices, lookup by base_hash is a separate map, and
// removal empties a slot and puts its index on a free list that the next
// insertion reuses; Compact drops whatever empty slots remain.
package shadowdag

import (
	"sync"

	"github.com/phf/go-queue/queue"
	"github.com/pkg/errors"

	"github.com/hashlattice/platform/internal/event"
	"github.com/hashlattice/platform/internal/xerrors"
)

type shadowID int

const noID shadowID = -1

type node struct {
	hash event.Hash
	ref  *event.Event
	gen  int64

	hasSelfParent  bool
	selfParent     shadowID
	hasOtherParent bool
	otherParent    shadowID

	selfChildren  map[shadowID]struct{}
	otherChildren map[shadowID]struct{}
}

// ShadowEvent is a read-only snapshot of one DAG node, safe to hold and
// inspect after the DAG's lock has been released.
type ShadowEvent struct {
	Hash       event.Hash
	Ref        *event.Event
	Generation int64

	HasSelfParent  bool
	SelfParent     event.Hash
	HasOtherParent bool
	OtherParent    event.Hash

	SelfChildren  []event.Hash
	OtherChildren []event.Hash
}

// DAG is a single-writer, many-reader index of non-ancient shadow events.
type DAG struct {
	mu sync.RWMutex

	byHash map[event.Hash]shadowID
	arena  []*node
	free   []shadowID

	tips map[shadowID]struct{}
}

// New returns an empty shadow DAG.
func New() *DAG {
	return &DAG{
		byHash: make(map[event.Hash]shadowID),
		tips:   make(map[shadowID]struct{}),
	}
}

// Len reports the number of live (non-tombstoned) shadow events.
func (d *DAG) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byHash)
}

// Insert resolves ev's declared parents and, if both resolve (or are
// sentinel-absent), wires child links and registers ev in the hash index.
// It reports false, with no error, if ev is already present; an error if
// a declared parent is not yet known (the caller is expected to retry
// later - out-of-order arrival must be tolerated). It does not otherwise
// validate ev: the creator_seq/self-parent invariant and the signature
// are not checked here.
func (d *DAG) Insert(ev *event.Event) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.insertLocked(ev)
}

func (d *DAG) insertLocked(ev *event.Event) (bool, error) {
	if _, exists := d.byHash[ev.BaseHash]; exists {
		return false, nil
	}

	var selfID, otherID shadowID = noID, noID

	if ev.HasSelfParent {
		id, ok := d.byHash[ev.SelfParent]
		if !ok {
			return false, xerrors.New(xerrors.Protocol, "event's self-parent is not yet known")
		}
		selfID = id
	}

	if ev.HasOtherParent {
		id, ok := d.byHash[ev.OtherParent]
		if !ok {
			return false, xerrors.New(xerrors.Protocol, "event's other-parent is not yet known")
		}
		otherID = id
	}

	n := &node{
		hash:           ev.BaseHash,
		ref:            ev,
		gen:            ev.Generation,
		hasSelfParent:  ev.HasSelfParent,
		selfParent:     selfID,
		hasOtherParent: ev.HasOtherParent,
		otherParent:    otherID,
		selfChildren:   make(map[shadowID]struct{}),
		otherChildren:  make(map[shadowID]struct{}),
	}

	id := d.alloc(n)
	d.byHash[ev.BaseHash] = id

	if selfID != noID {
		d.arena[selfID].selfChildren[id] = struct{}{}
		delete(d.tips, selfID)
	}
	if otherID != noID {
		d.arena[otherID].otherChildren[id] = struct{}{}
	}

	d.tips[id] = struct{}{}

	return true, nil
}

// InsertBatch inserts a set of possibly out-of-order, interdependent
// events, re-attempting unresolved ones until no further progress can be
// made. It returns the events that could not be inserted (because their
// declared ancestry never resolved within the batch or the DAG).
func (d *DAG) InsertBatch(events []*event.Event) (inserted int, remaining []*event.Event) {
	pending := append([]*event.Event(nil), events...)

	for {
		progressed := false
		var next []*event.Event

		for _, ev := range pending {
			ok, err := d.Insert(ev)
			if err != nil {
				next = append(next, ev)
				continue
			}
			if ok {
				inserted++
				progressed = true
			}
		}

		pending = next
		if !progressed || len(pending) == 0 {
			break
		}
	}

	return inserted, pending
}

func (d *DAG) alloc(n *node) shadowID {
	if len(d.free) > 0 {
		id := d.free[len(d.free)-1]
		d.free = d.free[:len(d.free)-1]
		d.arena[id] = n
		return id
	}

	d.arena = append(d.arena, n)
	return shadowID(len(d.arena) - 1)
}

// Shadow looks a shadow event up by its base_hash.
func (d *DAG) Shadow(hash event.Hash) (ShadowEvent, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.byHash[hash]
	if !ok {
		return ShadowEvent{}, false
	}

	return d.snapshot(id), true
}

func (d *DAG) snapshot(id shadowID) ShadowEvent {
	n := d.arena[id]

	se := ShadowEvent{
		Hash:           n.hash,
		Ref:            n.ref,
		Generation:     n.gen,
		HasSelfParent:  n.hasSelfParent,
		HasOtherParent: n.hasOtherParent,
	}

	if n.hasSelfParent {
		se.SelfParent = d.arena[n.selfParent].hash
	}
	if n.hasOtherParent {
		se.OtherParent = d.arena[n.otherParent].hash
	}

	for c := range n.selfChildren {
		se.SelfChildren = append(se.SelfChildren, d.arena[c].hash)
	}
	for c := range n.otherChildren {
		se.OtherChildren = append(se.OtherChildren, d.arena[c].hash)
	}

	return se
}

// Tips returns a snapshot of every shadow event with no self-child, stable
// for the duration of the caller's use of the returned slice.
func (d *DAG) Tips() []ShadowEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ShadowEvent, 0, len(d.tips))
	for id := range d.tips {
		out = append(out, d.snapshot(id))
	}
	return out
}

// ForestDFS performs a bottom-up depth-first traversal of the self-parent
// forest rooted at start's self-parent chain (or the whole forest, if
// start is the zero hash), visiting every shadow event exactly once, then
// continuing to unvisited self-orphans. The returned slice is a stable
// snapshot computed under the DAG's read lock, which is released before
// this function returns - callers may safely perform I/O while iterating
// it.
func (d *DAG) ForestDFS(start event.Hash) []ShadowEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()

	visited := make(map[shadowID]struct{})
	var order []ShadowEvent

	var walkUp func(id shadowID)
	walkUp = func(id shadowID) {
		if _, seen := visited[id]; seen {
			return
		}
		visited[id] = struct{}{}

		n := d.arena[id]
		if n.hasSelfParent {
			walkUp(n.selfParent)
		}
		order = append(order, d.snapshot(id))
	}

	if id, ok := d.byHash[start]; ok {
		if n := d.arena[id]; n.hasSelfParent {
			walkUp(n.selfParent)
		}
	}

	// Continue across every self-parent chain not yet visited: walking up
	// from each remaining event, in arena order for determinism, emits its
	// chain from the self-orphan root down.
	for id, n := range d.arena {
		if n == nil {
			continue
		}
		walkUp(shadowID(id))
	}

	return order
}

// RemoveAncestry performs a post-order traversal of the strict-ancestry
// closure of root (every proper ancestor, reachable via self- or
// other-parent links, each visited exactly once regardless of how many
// paths reach it - resolving the double-count risk noted in Design Notes
// §9), removing every visited node that satisfies predicate.
func (d *DAG) RemoveAncestry(root event.Hash, predicate func(ShadowEvent) bool) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rootID, ok := d.byHash[root]
	if !ok {
		return 0, errors.Errorf("shadowdag: root %x not found", root)
	}

	visited := make(map[shadowID]struct{})
	var order []shadowID

	var visit func(id shadowID)
	visit = func(id shadowID) {
		if _, seen := visited[id]; seen {
			return
		}
		visited[id] = struct{}{}

		n := d.arena[id]
		if n.hasSelfParent {
			visit(n.selfParent)
		}
		if n.hasOtherParent {
			visit(n.otherParent)
		}
		order = append(order, id)
	}

	rootNode := d.arena[rootID]
	if rootNode.hasSelfParent {
		visit(rootNode.selfParent)
	}
	if rootNode.hasOtherParent {
		visit(rootNode.otherParent)
	}

	count := 0
	for _, id := range order {
		se := d.snapshot(id)
		if !predicate(se) {
			continue
		}
		d.unlink(id)
		count++
	}

	return count, nil
}

func (d *DAG) unlink(id shadowID) {
	n := d.arena[id]

	if n.hasSelfParent {
		if p := d.arena[n.selfParent]; p != nil {
			delete(p.selfChildren, id)
			if len(p.selfChildren) == 0 {
				d.tips[n.selfParent] = struct{}{}
			}
		}
	}
	if n.hasOtherParent {
		if p := d.arena[n.otherParent]; p != nil {
			delete(p.otherChildren, id)
		}
	}

	for c := range n.selfChildren {
		if child := d.arena[c]; child != nil {
			child.hasSelfParent = false
		}
	}
	for c := range n.otherChildren {
		if child := d.arena[c]; child != nil {
			child.hasOtherParent = false
		}
	}

	delete(d.byHash, n.hash)
	delete(d.tips, id)
	d.arena[id] = nil
	d.free = append(d.free, id)
}

// Compact rebuilds the arena, dropping tombstoned slots. It must be called
// between consensus rounds, never concurrently with Insert/RemoveAncestry
// on another goroutine (the caller already serializes these as the DAG's
// single writer).
func (d *DAG) Compact() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.free) == 0 {
		return
	}

	remap := make(map[shadowID]shadowID, len(d.byHash))
	newArena := make([]*node, 0, len(d.byHash))

	for oldID, n := range d.arena {
		if n == nil {
			continue
		}
		remap[shadowID(oldID)] = shadowID(len(newArena))
		newArena = append(newArena, n)
	}

	for _, n := range newArena {
		if n.hasSelfParent {
			n.selfParent = remap[n.selfParent]
		}
		if n.hasOtherParent {
			n.otherParent = remap[n.otherParent]
		}
		n.selfChildren = remapSet(n.selfChildren, remap)
		n.otherChildren = remapSet(n.otherChildren, remap)
	}

	newByHash := make(map[event.Hash]shadowID, len(d.byHash))
	for h, id := range d.byHash {
		newByHash[h] = remap[id]
	}

	newTips := make(map[shadowID]struct{}, len(d.tips))
	for id := range d.tips {
		newTips[remap[id]] = struct{}{}
	}

	d.arena = newArena
	d.byHash = newByHash
	d.tips = newTips
	d.free = nil
}

func remapSet(set map[shadowID]struct{}, remap map[shadowID]shadowID) map[shadowID]struct{} {
	out := make(map[shadowID]struct{}, len(set))
	for id := range set {
		out[remap[id]] = struct{}{}
	}
	return out
}

// HasKnownParents reports whether every parent ev declares is already
// present in the DAG, used by the sync engine to validate Phase 4 event
// deliveries before handing them to intake.
func (d *DAG) HasKnownParents(ev *event.Event) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if ev.HasSelfParent {
		if _, ok := d.byHash[ev.SelfParent]; !ok {
			return false
		}
	}
	if ev.HasOtherParent {
		if _, ok := d.byHash[ev.OtherParent]; !ok {
			return false
		}
	}
	return true
}

// BFSAncestors is a small helper built on phf/go-queue that returns, in
// breadth-first order over self- and other-child links, the events
// descended from the given hashes (including those hashes themselves when
// includeSelf is set). It follows child links, not parent links, and
// breadth-first order does not guarantee that every parent precedes its
// children.
func (d *DAG) BFSAncestors(from []event.Hash, includeSelf bool) []ShadowEvent {
	d.mu.RLock()
	defer d.mu.RUnlock()

	visited := make(map[shadowID]struct{})
	q := queue.New()

	for _, h := range from {
		if id, ok := d.byHash[h]; ok {
			if includeSelf {
				q.PushBack(id)
			} else {
				if n := d.arena[id]; n != nil {
					for c := range n.selfChildren {
						q.PushBack(c)
					}
					for c := range n.otherChildren {
						q.PushBack(c)
					}
				}
			}
		}
	}

	var order []ShadowEvent
	for q.Len() > 0 {
		id := q.PopFront().(shadowID)
		if _, seen := visited[id]; seen {
			continue
		}
		visited[id] = struct{}{}

		order = append(order, d.snapshot(id))

		n := d.arena[id]
		for c := range n.selfChildren {
			q.PushBack(c)
		}
		for c := range n.otherChildren {
			q.PushBack(c)
		}
	}

	return order
}

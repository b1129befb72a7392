// Package syncengine implements the five-phase gossip sync protocol: tip
// exchange, need calculation, booleans exchange, event exchange, and
// finalization. Each exchange phase runs its send and receive sides as
// concurrent workgroup.Group members so that two peers writing before
// reading never deadlock each other on the wire.
package syncengine

import (
	"encoding/binary"
	"io"
	"sort"
	"time"

	"github.com/heptio/workgroup"

	"github.com/hashlattice/platform/internal/event"
	"github.com/hashlattice/platform/internal/shadowdag"
	"github.com/hashlattice/platform/internal/transport"
	"github.com/hashlattice/platform/internal/xerrors"
)

// eventSentinel terminates the Phase 4 event stream.
const eventSentinel = byte(0x00)
const eventFollows = byte(0x01)

// TipRecord is one (tip_base_hash, tip_generation) pair of Phase 1.
type TipRecord struct {
	Hash       event.Hash
	Generation int64
}

// TipSet is one side's Phase 1 payload: its tips plus its per-creator
// min_generation_non_ancient vector.
type TipSet struct {
	Tips             []TipRecord
	MinGenNonAncient map[int]int64
}

// SyncResult is handed to the sync manager at Phase 5.
type SyncResult struct {
	Caller        bool
	OtherID       int
	EventsRead    int
	EventsWritten int
	BytesWritten  uint64
	BytesRead     uint64
	Duration      time.Duration
	Interrupted   bool

	PhaseTimestamps [6]time.Time
}

// Clock is injected so tests can control timestamps; production code
// passes time.Now.
type Clock func() time.Time

// Engine runs one sync exchange at a time over a given connection.
type Engine struct {
	dag          *shadowdag.DAG
	now          Clock
	throttle7    bool
	throttle7Max int
	throttle7Ext float64
	intake       func(*event.Event) error
}

// New builds an Engine bound to a shadow DAG and an intake callback that
// enqueues received events into the event-intake pipeline.
func New(dag *shadowdag.DAG, intake func(*event.Event) error) *Engine {
	return &Engine{dag: dag, now: time.Now, intake: intake}
}

// SetClock overrides the engine's time source, for deterministic tests.
func (e *Engine) SetClock(c Clock) { e.now = c }

// EnableThrottle7 turns on Throttle-7 padding with the given byte budget
// and extra multiplier.
func (e *Engine) EnableThrottle7(maxBytes int, extra float64) {
	e.throttle7 = true
	e.throttle7Max = maxBytes
	e.throttle7Ext = extra
}

// localTipSet builds this node's Phase 1 payload from the shadow DAG.
func (e *Engine) localTipSet(minGenNonAncient map[int]int64) TipSet {
	tips := e.dag.Tips()
	recs := make([]TipRecord, 0, len(tips))
	for _, t := range tips {
		recs = append(recs, TipRecord{Hash: t.Hash, Generation: t.Generation})
	}
	sort.Slice(recs, func(i, j int) bool {
		return lessHash(recs[i].Hash, recs[j].Hash)
	})
	return TipSet{Tips: recs, MinGenNonAncient: minGenNonAncient}
}

func lessHash(a, b event.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Sync performs a full five-phase sync exchange. caller indicates whether
// this node initiated the connection (callers and listeners run a
// symmetric protocol, but the caller field is recorded in the result).
func (e *Engine) Sync(conn *transport.Connection, caller bool, minGenNonAncient map[int]int64, fallenBehind, peerFallenBehind bool) (SyncResult, error) {
	var res SyncResult
	res.Caller = caller
	res.OtherID = conn.OtherID()

	start := e.now()
	res.PhaseTimestamps[0] = start

	// Phase 1: tip exchange. Write and read run as concurrent workgroup
	// members: the transport has no internal buffering, so both peers
	// writing before either reads would otherwise deadlock.
	local := e.localTipSet(minGenNonAncient)
	peer, err := exchangeTipSets(conn, local)
	if err != nil {
		return res, e.interrupted(conn, res, err)
	}
	res.PhaseTimestamps[1] = e.now()

	// Phase 2: need calculation.
	booleansForPeer, eventsToSend := e.needCalculation(peer)
	res.PhaseTimestamps[2] = e.now()

	// Phase 3: booleans exchange, same concurrent write/read shape as
	// Phase 1.
	peerBooleans, err := exchangeBooleans(conn, booleansForPeer)
	if err != nil {
		return res, e.interrupted(conn, res, err)
	}
	res.PhaseTimestamps[3] = e.now()

	pruned := e.prune(eventsToSend, local.Tips, peerBooleans)

	// Phase 4: event exchange, reader and writer concurrent.
	var g workgroup.Group
	var written, read int

	padBudget := 0
	if e.throttle7 && !fallenBehind && !peerFallenBehind {
		padBudget = int(float64(e.throttle7Max) * e.throttle7Ext)
	}

	g.Add(func(stop <-chan struct{}) error {
		n, err := e.writeEvents(conn, pruned, padBudget, stop)
		written = n
		return err
	})
	g.Add(func(stop <-chan struct{}) error {
		n, err := e.readEvents(conn, stop)
		read = n
		return err
	})

	runErr := g.Run()
	res.PhaseTimestamps[4] = e.now()

	res.EventsWritten = written
	res.EventsRead = read
	res.BytesWritten, res.BytesRead = conn.SampleAndResetCounters()
	res.Duration = e.now().Sub(start)
	res.PhaseTimestamps[5] = e.now()

	if runErr != nil {
		res.Interrupted = true
		return res, runErr
	}

	return res, nil
}

func (e *Engine) interrupted(conn *transport.Connection, res SyncResult, err error) error {
	res.Interrupted = true
	_ = conn.Close()
	return xerrors.As(err)
}

// needCalculation implements Phase 2: which of the peer's tips we already
// know (booleansForPeer), and which locally-known events the peer needs
// (eventsToSend, topologically ordered).
func (e *Engine) needCalculation(peer TipSet) (booleansForPeer []bool, eventsToSend []*event.Event) {
	booleansForPeer = make([]bool, len(peer.Tips))
	known := make(map[event.Hash]struct{})

	for i, t := range peer.Tips {
		_, ok := e.dag.Shadow(t.Hash)
		booleansForPeer[i] = ok
		if ok {
			known[t.Hash] = struct{}{}
		}
	}

	missing := e.collectMissingAncestry(known)

	for _, ev := range missing {
		gen, ok := peer.MinGenNonAncient[ev.CreatorID]
		if ok && ev.Generation < gen {
			continue
		}
		eventsToSend = append(eventsToSend, ev)
	}

	return booleansForPeer, eventsToSend
}

// collectMissingAncestry walks backward from every local tip via
// self/other parent links, stopping at any hash the peer already knows,
// and returns every newly-discovered event in topological order (parents
// before children), a post-order DFS, since each event is appended only
// after both its parents have been visited.
func (e *Engine) collectMissingAncestry(known map[event.Hash]struct{}) []*event.Event {
	visited := make(map[event.Hash]struct{})
	var order []*event.Event

	var walk func(h event.Hash)
	walk = func(h event.Hash) {
		if _, seen := visited[h]; seen {
			return
		}
		if _, k := known[h]; k {
			return
		}
		se, ok := e.dag.Shadow(h)
		if !ok {
			return
		}
		visited[h] = struct{}{}

		if se.HasSelfParent {
			walk(se.SelfParent)
		}
		if se.HasOtherParent {
			walk(se.OtherParent)
		}
		if se.Ref != nil {
			order = append(order, se.Ref)
		}
	}

	for _, tip := range e.dag.Tips() {
		walk(tip.Hash)
	}

	return order
}

// prune drops any event that is an ancestor of (or is itself) a
// peer-acknowledged local tip, per Phase 4's pruning rule: peerBooleans is
// aligned to localTips and says which of our own tips the peer already
// holds, meaning the peer also already holds everything beneath them.
func (e *Engine) prune(events []*event.Event, localTips []TipRecord, peerBooleans []bool) []*event.Event {
	if len(peerBooleans) != len(localTips) {
		return events
	}

	excl := make(map[event.Hash]struct{})
	for i, acked := range peerBooleans {
		if acked {
			e.markAncestry(localTips[i].Hash, excl)
		}
	}
	if len(excl) == 0 {
		return events
	}

	out := make([]*event.Event, 0, len(events))
	for _, ev := range events {
		if _, skip := excl[ev.BaseHash]; skip {
			continue
		}
		out = append(out, ev)
	}
	return out
}

func (e *Engine) markAncestry(h event.Hash, excl map[event.Hash]struct{}) {
	if _, seen := excl[h]; seen {
		return
	}
	se, ok := e.dag.Shadow(h)
	if !ok {
		return
	}
	excl[h] = struct{}{}

	if se.HasSelfParent {
		e.markAncestry(se.SelfParent, excl)
	}
	if se.HasOtherParent {
		e.markAncestry(se.OtherParent, excl)
	}
}

// writeEvents writes every event followed by the terminating sentinel,
// then (if padBudget > 0) appends Throttle-7 padding bytes after the
// sentinel. Padding is emitted sequentially here, in the same task that
// owns the connection's write side, rather than by a separate concurrent
// writer: any task racing writeEvents on the same connection could
// interleave padding bytes before the sentinel and corrupt the stream.
func (e *Engine) writeEvents(conn *transport.Connection, events []*event.Event, padBudget int, stop <-chan struct{}) (int, error) {
	w := conn.RawWriter()
	n := 0

	for _, ev := range events {
		select {
		case <-stop:
			return n, nil
		default:
		}

		otherID, otherSeq := int64(-1), int64(-1)
		if ev.HasOtherParent {
			if se, ok := e.dag.Shadow(ev.OtherParent); ok && se.Ref != nil {
				otherID = int64(se.Ref.CreatorID)
				otherSeq = int64(se.Ref.CreatorSeq)
			}
		}

		if _, err := w.Write([]byte{eventFollows}); err != nil {
			return n, xerrors.Wrap(xerrors.Transport, err, "write event-follows marker")
		}
		if err := event.EncodeRecord(w, ev, otherID, otherSeq); err != nil {
			return n, err
		}
		n++
	}

	if _, err := w.Write([]byte{eventSentinel}); err != nil {
		return n, xerrors.Wrap(xerrors.Transport, err, "write event sentinel")
	}

	if padBudget > 0 {
		if err := writePadding(w, padBudget, stop); err != nil {
			return n, err
		}
	}

	return n, nil
}

func (e *Engine) readEvents(conn *transport.Connection, stop <-chan struct{}) (int, error) {
	r := conn.RawReader()
	n := 0

	for {
		select {
		case <-stop:
			return n, nil
		default:
		}

		var marker [1]byte
		if _, err := io.ReadFull(r, marker[:]); err != nil {
			return n, xerrors.Wrap(xerrors.Transport, err, "read event marker")
		}
		if marker[0] == eventSentinel {
			return n, nil
		}

		ev, _, _, err := event.DecodeRecord(r)
		if err != nil {
			return n, err
		}

		if !e.dag.HasKnownParents(ev) {
			return n, xerrors.New(xerrors.Protocol, "received event whose declared parents are not yet present")
		}

		if e.intake != nil {
			if err := e.intake(ev); err != nil {
				return n, err
			}
		}
		n++
	}
}

func writePadding(w io.Writer, budget int, stop <-chan struct{}) error {
	if budget <= 0 {
		return nil
	}
	chunk := make([]byte, 4096)

	remaining := budget
	for remaining > 0 {
		select {
		case <-stop:
			return nil
		default:
		}
		size := len(chunk)
		if remaining < size {
			size = remaining
		}
		if _, err := w.Write(chunk[:size]); err != nil {
			return xerrors.Wrap(xerrors.Transport, err, "write throttle7 padding")
		}
		remaining -= size
	}
	return nil
}

// exchangeTipSets writes local's tip set and reads the peer's, concurrently,
// so neither side blocks waiting for the other to start reading.
func exchangeTipSets(conn *transport.Connection, local TipSet) (TipSet, error) {
	var g workgroup.Group
	var writeErr error
	var peer TipSet
	var readErr error

	g.Add(func(stop <-chan struct{}) error {
		writeErr = writeTipSet(conn, local)
		return writeErr
	})
	g.Add(func(stop <-chan struct{}) error {
		peer, readErr = readTipSet(conn)
		return readErr
	})

	if err := g.Run(); err != nil {
		return TipSet{}, err
	}
	return peer, nil
}

// exchangeBooleans writes bits for the peer and reads the peer's own
// booleans frame, concurrently, for the same reason as exchangeTipSets.
func exchangeBooleans(conn *transport.Connection, bits []bool) ([]bool, error) {
	var g workgroup.Group
	var peerBits []bool

	g.Add(func(stop <-chan struct{}) error {
		return writeBooleans(conn, bits)
	})
	g.Add(func(stop <-chan struct{}) error {
		b, err := readBooleans(conn)
		peerBits = b
		return err
	})

	if err := g.Run(); err != nil {
		return nil, err
	}
	return peerBits, nil
}

func writeTipSet(conn *transport.Connection, ts TipSet) error {
	buf := make([]byte, 0, 8+len(ts.Tips)*40)
	buf = appendU32(buf, uint32(len(ts.Tips)))
	for _, t := range ts.Tips {
		buf = append(buf, t.Hash[:]...)
		buf = appendI64(buf, t.Generation)
	}
	buf = appendU32(buf, uint32(len(ts.MinGenNonAncient)))

	creators := make([]int, 0, len(ts.MinGenNonAncient))
	for c := range ts.MinGenNonAncient {
		creators = append(creators, c)
	}
	sort.Ints(creators)
	for _, c := range creators {
		buf = appendI32(buf, int32(c))
		buf = appendI64(buf, ts.MinGenNonAncient[c])
	}

	return conn.WriteFrame(buf)
}

func readTipSet(conn *transport.Connection) (TipSet, error) {
	frame, err := conn.ReadFrame()
	if err != nil {
		return TipSet{}, err
	}

	var ts TipSet
	off := 0

	numTips, off2, err := readU32(frame, off)
	if err != nil {
		return ts, err
	}
	off = off2

	for i := uint32(0); i < numTips; i++ {
		if off+event.HashSize+8 > len(frame) {
			return ts, xerrors.New(xerrors.Protocol, "truncated tip record")
		}
		var h event.Hash
		copy(h[:], frame[off:off+event.HashSize])
		off += event.HashSize
		gen := int64(binary.BigEndian.Uint64(frame[off : off+8]))
		off += 8
		ts.Tips = append(ts.Tips, TipRecord{Hash: h, Generation: gen})
	}

	numCreators, off3, err := readU32(frame, off)
	if err != nil {
		return ts, err
	}
	off = off3

	ts.MinGenNonAncient = make(map[int]int64, numCreators)
	for i := uint32(0); i < numCreators; i++ {
		if off+12 > len(frame) {
			return ts, xerrors.New(xerrors.Protocol, "truncated min-gen-non-ancient entry")
		}
		creator := int32(binary.BigEndian.Uint32(frame[off : off+4]))
		off += 4
		gen := int64(binary.BigEndian.Uint64(frame[off : off+8]))
		off += 8
		ts.MinGenNonAncient[int(creator)] = gen
	}

	return ts, nil
}

func writeBooleans(conn *transport.Connection, bits []bool) error {
	buf := make([]byte, 0, 4+(len(bits)+7)/8)
	buf = appendU32(buf, uint32(len(bits)))

	packed := make([]byte, (len(bits)+7)/8)
	for i, b := range bits {
		if b {
			packed[i/8] |= 1 << uint(i%8)
		}
	}
	buf = append(buf, packed...)

	return conn.WriteFrame(buf)
}

func readBooleans(conn *transport.Connection) ([]bool, error) {
	frame, err := conn.ReadFrame()
	if err != nil {
		return nil, err
	}

	count, off, err := readU32(frame, 0)
	if err != nil {
		return nil, err
	}

	needed := off + int((count+7)/8)
	if needed > len(frame) {
		return nil, xerrors.New(xerrors.Protocol, "truncated booleans frame")
	}

	bits := make([]bool, count)
	for i := uint32(0); i < count; i++ {
		byteIdx := off + int(i/8)
		bits[i] = frame[byteIdx]&(1<<uint(i%8)) != 0
	}

	return bits, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendI32(buf []byte, v int32) []byte { return appendU32(buf, uint32(v)) }

func appendI64(buf []byte, v int64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(v))
	return append(buf, b[:]...)
}

func readU32(buf []byte, off int) (uint32, int, error) {
	if off+4 > len(buf) {
		return 0, off, xerrors.New(xerrors.Protocol, "truncated u32 field")
	}
	return binary.BigEndian.Uint32(buf[off : off+4]), off + 4, nil
}

// Package txqueue implements TransLists: the four transaction queues owned
// per node, all modified under a single mutex (no reader/writer
// separation).
package txqueue

import (
	"sync"

	"github.com/hashlattice/platform/internal/event"
)

// AppModel selects whether the application uses the fast-copy state model
// (trans_curr/trans_work are unused) or not (both are populated alongside
// trans_event/trans_cons).
type AppModel int

const (
	FastCopy AppModel = iota
	NonFastCopy
)

// TransLists holds the four transaction queues a node maintains: the event
// queue, the current/working state queues, and the consensus queue.
type TransLists struct {
	mu sync.Mutex

	model        AppModel
	throttleSize int

	transEvent []event.Transaction
	transCurr  []event.Transaction
	transWork  []event.Transaction
	transCons  []event.Transaction

	numUserTransEvent   int
	numFreezeTransEvent int
}

// New builds an empty TransLists. throttleSize bounds how large any of the
// four queues may grow before user transactions are rejected.
func New(model AppModel, throttleSize int) *TransLists {
	return &TransLists{model: model, throttleSize: throttleSize}
}

// Offer appends tx to trans_event and trans_cons (and, for the non-fast-
// copy application model, trans_curr and trans_work too), all-or-nothing.
// It returns false without mutating anything if any queue's size already
// exceeds throttleSize and tx is a user transaction.
func (tl *TransLists) Offer(tx event.Transaction) bool {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	if !tx.System && tl.anyQueueOverThrottle() {
		return false
	}

	tl.transEvent = append(tl.transEvent, tx)
	tl.transCons = append(tl.transCons, tx)

	if tl.model == NonFastCopy {
		tl.transCurr = append(tl.transCurr, tx)
		tl.transWork = append(tl.transWork, tx)
	}

	if !tx.System {
		tl.numUserTransEvent++
	} else if tx.Subtype == event.SubtypeStateSigFreeze {
		tl.numFreezeTransEvent++
	}

	return true
}

func (tl *TransLists) anyQueueOverThrottle() bool {
	return len(tl.transEvent) > tl.throttleSize ||
		len(tl.transCons) > tl.throttleSize ||
		len(tl.transCurr) > tl.throttleSize ||
		len(tl.transWork) > tl.throttleSize
}

// PollTransForEvent walks trans_event in order, taking any transaction
// that still fits within the remaining maxBytes budget and skipping (but
// not discarding) any that doesn't, so a single oversized transaction
// never blocks smaller ones behind it. Only the taken transactions are
// removed from trans_event; skipped ones remain queued in their original
// relative order.
func (tl *TransLists) PollTransForEvent(maxBytes int) []event.Transaction {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	var selected []event.Transaction
	var remaining []event.Transaction
	total := 0

	for _, tx := range tl.transEvent {
		size := tx.Size()
		if total+size > maxBytes {
			remaining = append(remaining, tx)
			continue
		}
		total += size
		selected = append(selected, tx)

		if !tx.System {
			tl.numUserTransEvent--
		} else if tx.Subtype == event.SubtypeStateSigFreeze {
			tl.numFreezeTransEvent--
		}
	}

	tl.transEvent = remaining

	return selected
}

// DrainCurr removes and returns every pending transaction in trans_curr.
func (tl *TransLists) DrainCurr() []event.Transaction { return tl.drain(&tl.transCurr) }

// DrainWork removes and returns every pending transaction in trans_work.
func (tl *TransLists) DrainWork() []event.Transaction { return tl.drain(&tl.transWork) }

// DrainCons removes and returns every pending transaction in trans_cons.
func (tl *TransLists) DrainCons() []event.Transaction { return tl.drain(&tl.transCons) }

func (tl *TransLists) drain(q *[]event.Transaction) []event.Transaction {
	tl.mu.Lock()
	defer tl.mu.Unlock()

	out := *q
	*q = nil
	return out
}

// NumUserTransEvent returns the count of pending non-system transactions
// awaiting inclusion in the next self-created event.
func (tl *TransLists) NumUserTransEvent() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.numUserTransEvent
}

// NumFreezeTransEvent returns the count of pending STATE_SIG_FREEZE
// transactions.
func (tl *TransLists) NumFreezeTransEvent() int {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	return tl.numFreezeTransEvent
}

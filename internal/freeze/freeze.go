// Package freeze implements the freeze state machine:
// NOT_IN_FREEZE -> IN_FREEZE -> FREEZE_COMPLETE, serialized and strictly
// monotonic, with a fatal error on any out-of-order transition.
package freeze

import (
	"sync"
	"time"

	"github.com/hashlattice/platform/internal/log"
	"github.com/hashlattice/platform/internal/xerrors"
)

// State is one of the three freeze states.
type State int

const (
	NotInFreeze State = iota
	InFreeze
	FreezeComplete
)

func (s State) String() string {
	switch s {
	case NotInFreeze:
		return "NOT_IN_FREEZE"
	case InFreeze:
		return "IN_FREEZE"
	case FreezeComplete:
		return "FREEZE_COMPLETE"
	default:
		return "UNKNOWN"
	}
}

// EventCreationVote is the return value of ShouldCreateEvent.
type EventCreationVote int

const (
	Create EventCreationVote = iota
	DontCreate
)

// Machine owns the current freeze state and the configured freeze window.
// State transitions are serialized by mu; attempting an out-of-order
// transition calls the fatal callback (by default, log.Fatal, which
// terminates the process) rather than returning an error - a state
// transition violation is fatal; the node should crash rather than
// proceed with inconsistent freeze bookkeeping.
type Machine struct {
	mu    sync.Mutex
	state State

	windowStart, windowEnd time.Time

	onChange func(State)
	onFatal  func(err error)
}

// New builds a Machine in NOT_IN_FREEZE, with the given freeze window and
// state-change notification callback (may be nil).
func New(windowStart, windowEnd time.Time, onChange func(State)) *Machine {
	return &Machine{
		state:       NotInFreeze,
		windowStart: windowStart,
		windowEnd:   windowEnd,
		onChange:    onChange,
		onFatal:     func(err error) { log.Fatal().Err(err).Msg("freeze state machine violation") },
	}
}

// State returns the current freeze state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetFatalHandler overrides the callback invoked on an out-of-order
// transition, primarily so tests can observe a StateTransitionError
// without terminating the test process the way the production default
// (log.Fatal) does.
func (m *Machine) SetFatalHandler(h func(err error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onFatal = h
}

// IsInFreezePeriod reports whether t falls within the configured freeze
// window.
func (m *Machine) IsInFreezePeriod(t time.Time) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !t.Before(m.windowStart) && t.Before(m.windowEnd)
}

// FreezeStarted transitions NOT_IN_FREEZE -> IN_FREEZE. Any other starting
// state is a fatal StateTransitionError.
func (m *Machine) FreezeStarted() {
	m.transition(NotInFreeze, InFreeze)
}

// FreezeComplete transitions IN_FREEZE -> FREEZE_COMPLETE. Any other
// starting state is a fatal StateTransitionError.
func (m *Machine) FreezeComplete() {
	m.transition(InFreeze, FreezeComplete)
}

func (m *Machine) transition(from, to State) {
	m.mu.Lock()

	if m.state != from {
		m.mu.Unlock()
		err := xerrors.New(xerrors.StateTransition,
			"freeze state machine: invalid transition to "+to.String()+" from "+m.state.String())
		m.onFatal(err)
		return
	}

	m.state = to
	m.mu.Unlock()

	if m.onChange != nil {
		m.onChange(to)
	}
}

// ShouldCreateEvent reports the event-creation vote: during IN_FREEZE or
// FREEZE_COMPLETE, event creation is vetoed.
func (m *Machine) ShouldCreateEvent() EventCreationVote {
	switch m.State() {
	case InFreeze, FreezeComplete:
		return DontCreate
	default:
		return Create
	}
}

// ShouldSync always returns true: the node keeps collecting signatures
// through a freeze, even once event creation has stopped.
func (m *Machine) ShouldSync() bool {
	return true
}

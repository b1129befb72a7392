// Package pipeline implements the event-flow pipeline: the bounded queues
// that hand events off between gossip intake, pre-consensus application
// state, consensus application state, and signed-state hashing, plus the
// stop_and_clear lifecycle used to pause the node for a state reload.
// It's one concrete component parameterized by an AppState implementation
// - no inheritance needed.
package pipeline

import (
	"github.com/hashlattice/platform/internal/event"
	"github.com/hashlattice/platform/internal/log"
)

// NoEvent is the sentinel token inserted into forCurr/forCons to unblock a
// blocked consumer when a new transaction has arrived but no event is yet
// available.
var NoEvent = &event.Event{}

// AppState is the application-state trait consulted by the pipeline:
// HandlePreConsensus gives the creator immediate feedback on events before
// consensus, HandleConsensus applies events once the consensus oracle has
// ordered them.
type AppState interface {
	HandlePreConsensus(ev *event.Event) error
	HandleConsensus(ev *event.Event) error
}

// StateSnapshot is an opaque copy of application state, handed to the
// hash-sign worker. Its on-disk serialization is an out-of-scope
// collaborator's concern; the pipeline only ever moves it between queues.
type StateSnapshot interface{}

// Pipeline owns the four bounded queues and the consumer goroutines
// draining them.
type Pipeline struct {
	forCurr         chan *event.Event
	forCons         chan *event.Event
	forSigs         chan StateSnapshot
	stateToHashSign chan StateSnapshot

	app AppState

	running chan struct{} // closed by StopAndClear to signal all consumers
	done    chan struct{} // closed once all consumers have exited
}

// New builds a Pipeline with the given queue depths.
func New(app AppState, queueDepth int) *Pipeline {
	return &Pipeline{
		forCurr:         make(chan *event.Event, queueDepth),
		forCons:         make(chan *event.Event, queueDepth),
		forSigs:         make(chan StateSnapshot, queueDepth),
		stateToHashSign: make(chan StateSnapshot, queueDepth),
		app:             app,
		running:         make(chan struct{}),
		done:            make(chan struct{}),
	}
}

// ForCurr returns the send side of the pre-consensus intake queue.
func (p *Pipeline) ForCurr() chan<- *event.Event { return p.forCurr }

// ForCons returns the send side of the consensus-ordered intake queue.
func (p *Pipeline) ForCons() chan<- *event.Event { return p.forCons }

// ForSigs returns the send side of the signature-aggregation queue.
func (p *Pipeline) ForSigs() chan<- StateSnapshot { return p.forSigs }

// StateToHashSign returns the send side of the hash-and-sign queue.
func (p *Pipeline) StateToHashSign() chan<- StateSnapshot { return p.stateToHashSign }

// Run starts the four consumer goroutines. It blocks until StopAndClear is called
// and every consumer has drained, cleared, and terminated.
func (p *Pipeline) Run(onSig func(StateSnapshot), onHashSign func(StateSnapshot)) {
	done := make(chan struct{}, 4)

	go p.consumeCurr(done)
	go p.consumeCons(done)
	go p.consumeSigs(onSig, done)
	go p.consumeHashSign(onHashSign, done)

	for i := 0; i < 4; i++ {
		<-done
	}
	close(p.done)
}

func (p *Pipeline) consumeCurr(done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		select {
		case <-p.running:
			p.drainCurr()
			return
		case ev := <-p.forCurr:
			if ev == NoEvent {
				continue
			}
			if err := p.app.HandlePreConsensus(ev); err != nil {
				log.TX("pre_consensus").Warn().Err(err).Msg("failed to apply event to pre-consensus state")
			}
		}
	}
}

func (p *Pipeline) consumeCons(done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		select {
		case <-p.running:
			p.drainCons()
			return
		case ev := <-p.forCons:
			if ev == NoEvent {
				continue
			}
			if err := p.app.HandleConsensus(ev); err != nil {
				log.TX("consensus").Warn().Err(err).Msg("failed to apply event to consensus state")
			}
		}
	}
}

func (p *Pipeline) consumeSigs(onSig func(StateSnapshot), done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		select {
		case <-p.running:
			p.drainSigs()
			return
		case s := <-p.forSigs:
			if onSig != nil {
				onSig(s)
			}
		}
	}
}

func (p *Pipeline) consumeHashSign(onHashSign func(StateSnapshot), done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	for {
		select {
		case <-p.running:
			p.drainHashSign()
			return
		case s := <-p.stateToHashSign:
			if onHashSign != nil {
				onHashSign(s)
			}
		}
	}
}

func (p *Pipeline) drainCurr() {
	for {
		select {
		case <-p.forCurr:
		default:
			return
		}
	}
}

func (p *Pipeline) drainCons() {
	for {
		select {
		case <-p.forCons:
		default:
			return
		}
	}
}

func (p *Pipeline) drainSigs() {
	for {
		select {
		case <-p.forSigs:
		default:
			return
		}
	}
}

func (p *Pipeline) drainHashSign() {
	for {
		select {
		case <-p.stateToHashSign:
		default:
			return
		}
	}
}

// StopAndClear signals every consumer to drain, clear, and terminate, then
// waits for them to do so. After it returns, a new Pipeline should be
// constructed via New before resuming with a reloaded state snapshot.
func (p *Pipeline) StopAndClear() {
	close(p.running)
	<-p.done
}

// Package node wires together the gossip-and-consensus components into
// the running process: an accept loop and a caller loop, each running as
// a long-lived workgroup.Group member that loops internally until stop
// fires, and the pipeline consumers, started in their own goroutine and
// stopped with StopAndClear when stop fires.
package node

import (
	"context"
	"crypto/tls"
	"math/rand"
	"net"
	"time"

	"github.com/heptio/workgroup"
	"golang.org/x/time/rate"

	"github.com/hashlattice/platform/internal/addressbook"
	"github.com/hashlattice/platform/internal/conf"
	"github.com/hashlattice/platform/internal/event"
	"github.com/hashlattice/platform/internal/freeze"
	"github.com/hashlattice/platform/internal/log"
	"github.com/hashlattice/platform/internal/pipeline"
	"github.com/hashlattice/platform/internal/quorum"
	"github.com/hashlattice/platform/internal/shadowdag"
	"github.com/hashlattice/platform/internal/stats"
	"github.com/hashlattice/platform/internal/syncengine"
	"github.com/hashlattice/platform/internal/syncmgr"
	"github.com/hashlattice/platform/internal/transport"
	"github.com/hashlattice/platform/internal/transport/conngraph"
	"github.com/hashlattice/platform/internal/txqueue"
)

// Node owns every long-lived component for one committee member.
type Node struct {
	cfg    conf.Config
	selfID int
	book   *addressbook.Book
	tlsCfg *tls.Config

	graph *conngraph.Graph
	dag   *shadowdag.DAG
	trans *txqueue.TransLists
	pipe  *pipeline.Pipeline

	tracker *quorum.Tracker
	freeze  *freeze.Machine
	syncMgr *syncmgr.Manager
	engine  *syncengine.Engine
	stats   *stats.SyncStats

	// callLimiter bounds how often the caller loop may dial a peer,
	// independent of the heartbeat sleep, so a slow heartbeat config
	// change can't be paired with a burst of simultaneous dials.
	callLimiter *rate.Limiter
}

// New assembles a Node from its committee and configuration. app supplies
// the AppState the pipeline dispatches pre-consensus/consensus events to.
func New(cfg conf.Config, selfID int, book *addressbook.Book, tlsCfg *tls.Config, app pipeline.AppState) *Node {
	graph := conngraph.NewRandomRegular(book.Size(), 4, bookSeed(book))
	dag := shadowdag.New()
	tracker := quorum.NewStakeBased(book)
	fm := freeze.New(time.Time{}, time.Time{}, nil)

	neighbors := graph.Neighbors(selfID)
	syncMgr := syncmgr.New(neighbors, tracker, fm, cfg.FallenBehindThreshold)

	trans := txqueue.New(txqueue.FastCopy, cfg.ThrottleTransactionQueueSize)
	pipe := pipeline.New(app, cfg.BufferSize)

	n := &Node{
		cfg:         cfg,
		selfID:      selfID,
		book:        book,
		tlsCfg:      tlsCfg,
		graph:       graph,
		dag:         dag,
		trans:       trans,
		pipe:        pipe,
		tracker:     tracker,
		freeze:      fm,
		syncMgr:     syncMgr,
		stats:       stats.New(),
		callLimiter: rate.NewLimiter(rate.Every(cfg.SleepHeartbeat), 1),
	}

	n.engine = syncengine.New(dag, n.intake)
	if cfg.Throttle7 {
		n.engine.EnableThrottle7(cfg.Throttle7MaxBytes, cfg.Throttle7Extra)
	}

	return n
}

func bookSeed(book *addressbook.Book) int64 {
	var seed int64
	for _, m := range book.Members() {
		for _, b := range m.PublicKey {
			seed = seed*31 + int64(b)
		}
	}
	if seed == 0 {
		seed = 1
	}
	return seed
}

func (n *Node) intake(ev *event.Event) error {
	n.pipe.ForCurr() <- ev
	return nil
}

// Run starts the accept loop, the caller loop, and the pipeline consumers,
// blocking until stop is closed or a fatal error occurs.
func (n *Node) Run(listenAddr string, stop <-chan struct{}) error {
	var g workgroup.Group

	g.Add(n.acceptLoop(listenAddr))
	g.Add(n.callerLoop())

	go n.pipe.Run(nil, nil)
	go func() {
		<-stop
		n.pipe.StopAndClear()
	}()

	return g.Run()
}

func (n *Node) acceptLoop(listenAddr string) func(stop <-chan struct{}) error {
	return func(stop <-chan struct{}) error {
		ln, err := tls.Listen("tcp", listenAddr, n.tlsCfg)
		if err != nil {
			return err
		}
		defer ln.Close()

		go func() {
			<-stop
			_ = ln.Close()
		}()

		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-stop:
					return nil
				default:
					log.Node().Warn().Err(err).Msg("accept failed")
					continue
				}
			}

			go n.handleInbound(conn)
		}
	}
}

func (n *Node) handleInbound(raw net.Conn) {
	defer raw.Close()

	c, otherID, err := transport.AcceptAndHandshake(raw, n.selfID, n.book, n.graph, n.cfg.TimeoutServerAcceptConnect)
	if err != nil {
		log.Gossip("accept").Warn().Err(err).Msg("handshake failed")
		return
	}

	minGen := map[int]int64{}
	_, err = n.engine.Sync(c, false, minGen, false, false)
	if err != nil {
		log.Gossip("accept").Warn().Int("other_id", otherID).Err(err).Msg("sync failed")
	}
}

// callerLoop returns a workgroup member that dials and syncs with one
// neighbor per heartbeat, forever, until stop fires. Every "nothing to do
// this tick" or "this attempt failed" path continues to the next
// iteration instead of returning, since workgroup.Group.Run returns as
// soon as any one member returns.
func (n *Node) callerLoop() func(stop <-chan struct{}) error {
	rng := rand.New(rand.NewSource(bookSeed(n.book) ^ int64(n.selfID)))

	return func(stop <-chan struct{}) error {
		for {
			select {
			case <-stop:
				return nil
			case <-time.After(n.cfg.SleepHeartbeat):
			}

			targets := n.syncMgr.NeighborsToCall(rng)
			if len(targets) == 0 {
				continue
			}

			if err := n.callLimiter.Wait(context.Background()); err != nil {
				continue
			}

			peer, ok := n.book.Member(targets[0])
			if !ok {
				continue
			}

			self, _ := n.book.Member(n.selfID)
			addr := addressbook.Endpoint(self, peer, false, false, n.cfg.UseLoopbackIP)

			raw, err := net.DialTimeout("tcp", addr, n.cfg.TimeoutSyncClientConnect)
			if err != nil {
				log.Sync("caller").Warn().Str("addr", addr).Err(err).Msg("dial failed")
				continue
			}

			tlsConn := tls.Client(raw, n.tlsCfg)

			c, _, err := transport.DialAndHandshake(tlsConn, n.selfID, self.Nickname, peer.ID, n.cfg.TimeoutSyncClientSocket)
			if err != nil {
				log.Sync("caller").Warn().Err(err).Msg("handshake failed")
				raw.Close()
				continue
			}

			res, err := n.engine.Sync(c, true, map[int]int64{}, false, false)
			raw.Close()
			if err != nil {
				log.Sync("caller").Warn().Err(err).Msg("sync failed")
				continue
			}

			n.stats.Record(res.PhaseTimestamps, res.EventsWritten, res.EventsRead, res.BytesWritten, res.BytesRead, res.Interrupted)
		}
	}
}

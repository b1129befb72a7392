package transport

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
	"net"
	"time"

	"github.com/hashlattice/platform/internal/addressbook"
	"github.com/hashlattice/platform/internal/xerrors"
)

// CommConnect is the handshake acknowledgement sentinel, fixed once and
// for all at the value below, which both sides of every connection must
// agree on.
const CommConnect int32 = 0x5A03E8C0

// AdjacencyChecker reports whether two member ids are adjacent in the
// connection graph, i.e. whether a sync between them is permitted.
type AdjacencyChecker interface {
	Adjacent(a, b int) bool
}

// DialAndHandshake performs the caller side of the handshake: write our
// nickname, then read back a connection id and ack, aborting on mismatch.
func DialAndHandshake(conn net.Conn, selfID int, selfNickname string, otherID int, rwTimeout time.Duration) (*Connection, int32, error) {
	c := NewConnection(conn, selfID, otherID, rwTimeout)

	if err := c.WriteFrame([]byte(selfNickname)); err != nil {
		return nil, 0, err
	}

	ackFrame, err := c.ReadFrame()
	if err != nil {
		return nil, 0, err
	}
	if len(ackFrame) != 8 {
		return nil, 0, xerrors.New(xerrors.Protocol, "handshake ack frame has unexpected length")
	}

	connID := int32(binary.BigEndian.Uint32(ackFrame[0:4]))
	ack := int32(binary.BigEndian.Uint32(ackFrame[4:8]))

	if ack != CommConnect {
		return nil, 0, xerrors.New(xerrors.Protocol, "handshake ack does not match commConnect sentinel")
	}

	return c, connID, nil
}

// AcceptAndHandshake performs the listener side: read the caller's
// nickname, resolve it to a member id, validate adjacency, then reply
// with a random connection id and the ack sentinel.
func AcceptAndHandshake(conn net.Conn, selfID int, book *addressbook.Book, adjacency AdjacencyChecker, rwTimeout time.Duration) (*Connection, int, error) {
	bootstrap := NewConnection(conn, selfID, -1, rwTimeout)

	nickFrame, err := bootstrap.ReadFrame()
	if err != nil {
		return nil, 0, err
	}
	nickname := string(nickFrame)

	otherID := -1
	for _, m := range book.Members() {
		if m.Nickname == nickname {
			otherID = m.ID
			break
		}
	}
	if otherID < 0 {
		return nil, 0, xerrors.New(xerrors.Protocol, "handshake nickname does not resolve to a known address book member")
	}

	if !adjacency.Adjacent(selfID, otherID) {
		return nil, 0, xerrors.New(xerrors.Protocol, "handshake peer is not adjacent in the connection graph")
	}

	connID, err := randomConnID()
	if err != nil {
		return nil, 0, xerrors.Wrap(xerrors.Transport, err, "generate connection id")
	}

	var resp [8]byte
	binary.BigEndian.PutUint32(resp[0:4], uint32(connID))
	binary.BigEndian.PutUint32(resp[4:8], uint32(CommConnect))

	c := NewConnection(conn, selfID, otherID, rwTimeout)
	if err := c.WriteFrame(resp[:]); err != nil {
		return nil, 0, err
	}

	return c, otherID, nil
}

func randomConnID() (int32, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<31-1))
	if err != nil {
		return 0, err
	}
	return int32(n.Int64()), nil
}

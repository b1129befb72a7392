// Package transport implements the length-prefixed frame transport and
// connection handshake. TLS handshake mechanics and certificate lifecycle
// are named collaborators: this package only ever operates on an
// already-dialed or already-accepted net.Conn.
package transport

import (
	"encoding/binary"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/hashlattice/platform/internal/xerrors"
)

// Connection is a bidirectional framed channel bound to an (self_id,
// other_id) pair, carrying byte counters since the last sample.
type Connection struct {
	conn    net.Conn
	selfID  int
	otherID int

	bytesWritten uint64
	bytesRead    uint64

	lastActivity atomic.Value // time.Time

	rwTimeout time.Duration
}

// NewConnection wraps an already-established net.Conn.
func NewConnection(conn net.Conn, selfID, otherID int, rwTimeout time.Duration) *Connection {
	c := &Connection{conn: conn, selfID: selfID, otherID: otherID, rwTimeout: rwTimeout}
	c.lastActivity.Store(time.Now())
	return c
}

// OtherID returns the peer's member id.
func (c *Connection) OtherID() int { return c.otherID }

// LastActivity reports when this connection was last read from or written
// to.
func (c *Connection) LastActivity() time.Time {
	return c.lastActivity.Load().(time.Time)
}

// SampleAndResetCounters returns bytes written/read since the last sample
// and resets both counters to zero.
func (c *Connection) SampleAndResetCounters() (written, read uint64) {
	written = atomic.SwapUint64(&c.bytesWritten, 0)
	read = atomic.SwapUint64(&c.bytesRead, 0)
	return
}

func (c *Connection) touch() { c.lastActivity.Store(time.Now()) }

// WriteFrame writes a single length-prefixed frame: a big-endian u32
// length followed by payload.
func (c *Connection) WriteFrame(payload []byte) error {
	if c.rwTimeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(c.rwTimeout))
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))

	n, err := c.conn.Write(lenBuf[:])
	atomic.AddUint64(&c.bytesWritten, uint64(n))
	if err != nil {
		return xerrors.Wrap(xerrors.Transport, err, "write frame length")
	}

	n, err = c.conn.Write(payload)
	atomic.AddUint64(&c.bytesWritten, uint64(n))
	if err != nil {
		return xerrors.Wrap(xerrors.Transport, err, "write frame payload")
	}

	c.touch()
	return nil
}

// ReadFrame reads a single length-prefixed frame.
func (c *Connection) ReadFrame() ([]byte, error) {
	if c.rwTimeout > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(c.rwTimeout))
	}

	var lenBuf [4]byte
	n, err := io.ReadFull(c.conn, lenBuf[:])
	atomic.AddUint64(&c.bytesRead, uint64(n))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Transport, err, "read frame length")
	}

	size := binary.BigEndian.Uint32(lenBuf[:])
	payload := make([]byte, size)
	n, err = io.ReadFull(c.conn, payload)
	atomic.AddUint64(&c.bytesRead, uint64(n))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.Transport, err, "read frame payload")
	}

	c.touch()
	return payload, nil
}

// Close closes the underlying connection.
func (c *Connection) Close() error {
	return errors.Wrap(c.conn.Close(), "close connection")
}

// RawReader/RawWriter expose the framed stream's byte-counted reader/writer
// directly, for callers (e.g. the event stream of Phase 4) that want to
// frame many small writes without an intermediate buffer per frame.
func (c *Connection) RawReader() io.Reader { return countingReader{c} }
func (c *Connection) RawWriter() io.Writer { return countingWriter{c} }

type countingReader struct{ c *Connection }

func (r countingReader) Read(p []byte) (int, error) {
	if r.c.rwTimeout > 0 {
		_ = r.c.conn.SetReadDeadline(time.Now().Add(r.c.rwTimeout))
	}
	n, err := r.c.conn.Read(p)
	atomic.AddUint64(&r.c.bytesRead, uint64(n))
	if n > 0 {
		r.c.touch()
	}
	if err != nil {
		return n, xerrors.Wrap(xerrors.Transport, err, "read")
	}
	return n, nil
}

type countingWriter struct{ c *Connection }

func (w countingWriter) Write(p []byte) (int, error) {
	if w.c.rwTimeout > 0 {
		_ = w.c.conn.SetWriteDeadline(time.Now().Add(w.c.rwTimeout))
	}
	n, err := w.c.conn.Write(p)
	atomic.AddUint64(&w.c.bytesWritten, uint64(n))
	if n > 0 {
		w.c.touch()
	}
	if err != nil {
		return n, xerrors.Wrap(xerrors.Transport, err, "write")
	}
	return n, nil
}

package call

import (
	"errors"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Timeouts of an established connection.
const (
	ReadTimeout    = 1000 * time.Millisecond
	ConnectTimeout = 3000 * time.Millisecond
)

// Connection is the byte stream of one call. The downlink worker only reads and the uplink worker
// only writes, so the stream itself needs no locking.
type Connection struct {
	conn        net.Conn
	readTimeout time.Duration

	sent     atomic.Int64
	received atomic.Int64

	closeOnce sync.Once
}

func newConnection(conn net.Conn, readTimeout time.Duration) *Connection {
	if tc, ok := conn.(*net.TCPConn); ok {
		// audio chunks are small and latency sensitive
		_ = tc.SetNoDelay(true)
	}
	return &Connection{conn: conn, readTimeout: readTimeout}
}

// Read reads up to len(p) bytes, waiting at most the read timeout. A timeout is reported as an error
// for which IsTimeout returns true; end of stream is io.EOF.
func (c *Connection) Read(p []byte) (int, error) {
	if err := c.conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, err
	}
	n, err := c.conn.Read(p)
	c.received.Add(int64(n))
	return n, err
}

// Write writes all of p. A peer that stops reading for longer than the read timeout fails the write.
func (c *Connection) Write(p []byte) (int, error) {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.readTimeout)); err != nil {
		return 0, err
	}
	n, err := c.conn.Write(p)
	c.sent.Add(int64(n))
	return n, err
}

// Close closes the stream. Only the first call does anything; later calls return nil.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() { err = c.conn.Close() })
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func (c *Connection) RemoteAddr() string { return c.conn.RemoteAddr().String() }

func (c *Connection) LocalAddr() string { return c.conn.LocalAddr().String() }

// BytesSent is the number of bytes written to the peer.
func (c *Connection) BytesSent() int64 { return c.sent.Load() }

// BytesReceived is the number of bytes read from the peer.
func (c *Connection) BytesReceived() int64 { return c.received.Load() }

// IsTimeout reports whether err is an expired read or write deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded)
}

// IsEndOfStream reports whether err means the peer closed its side of the stream.
func IsEndOfStream(err error) bool {
	return errors.Is(err, io.EOF)
}

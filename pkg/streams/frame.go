// Package streams provides length-prefixed framing over raw connections
// for clique peers. Every frame is a uvarint length followed by that many
// bytes of Cramberry-encoded payload, and every read is bounded so a
// malicious peer cannot force large allocations.
package streams

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/multiformats/go-varint"
)

const (
	// MaxHandshakeFrameSize bounds frames exchanged during the handshake.
	MaxHandshakeFrameSize = 1 << 10

	// MaxDataFrameSize bounds frames exchanged once a connection is established.
	MaxDataFrameSize = 16 << 20
)

// Sentinel errors for framed I/O.
var (
	// ErrConnectionClosed indicates the underlying connection failed or was closed.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrTimedOut indicates a read or write deadline expired.
	ErrTimedOut = errors.New("timed out")

	// ErrFrameTooLarge indicates a frame exceeded the allowed size.
	ErrFrameTooLarge = errors.New("frame too large")

	// ErrDataCorrupted indicates a frame could not be decoded.
	ErrDataCorrupted = errors.New("received corrupted data")
)

// Conn wraps a raw connection with frame encoding. The reading side is
// buffered, so after a Conn is created all reads must go through it.
//
// A Conn may be used by one reader and one writer concurrently.
type Conn struct {
	conn net.Conn
	r    *bufio.Reader
}

// NewConn wraps conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{
		conn: conn,
		r:    bufio.NewReader(conn),
	}
}

// WriteFrame writes payload as a single frame.
func (c *Conn) WriteFrame(payload []byte, limit int) error {
	if len(payload) > limit {
		return fmt.Errorf("%w: %d bytes, the limit is %d", ErrFrameTooLarge, len(payload), limit)
	}
	size := uint64(len(payload))
	buf := make([]byte, 0, varint.UvarintSize(size)+len(payload))
	buf = append(buf, varint.ToUvarint(size)...)
	buf = append(buf, payload...)
	if _, err := c.conn.Write(buf); err != nil {
		return ioError(err)
	}
	return nil
}

// ReadFrame reads a single frame, rejecting frames longer than limit
// before allocating for them.
func (c *Conn) ReadFrame(limit int) ([]byte, error) {
	size, err := varint.ReadUvarint(c.r)
	if err != nil {
		if errors.Is(err, varint.ErrOverflow) || errors.Is(err, varint.ErrNotMinimal) {
			return nil, fmt.Errorf("%w: bad length prefix: %v", ErrDataCorrupted, err)
		}
		return nil, ioError(err)
	}
	if size > uint64(limit) {
		return nil, fmt.Errorf("%w: %d bytes, the limit is %d", ErrFrameTooLarge, size, limit)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return nil, ioError(err)
	}
	return buf, nil
}

// WriteMessage encodes msg with Cramberry and writes it as a frame.
func (c *Conn) WriteMessage(msg any, limit int) error {
	data, err := cramberry.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return c.WriteFrame(data, limit)
}

// ReadMessage reads a frame and decodes it into msg, which must be a pointer.
func (c *Conn) ReadMessage(msg any, limit int) error {
	data, err := c.ReadFrame(limit)
	if err != nil {
		return err
	}
	if err := cramberry.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("%w: %v", ErrDataCorrupted, err)
	}
	return nil
}

// SetDeadline sets the read and write deadline of the underlying
// connection. A zero time clears it.
func (c *Conn) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// RemoteAddr returns the address of the remote end.
func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Close closes the underlying connection. Blocked reads and writes return.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// Split returns the sending and receiving halves of the connection. Each
// half must be used from a single goroutine.
func (c *Conn) Split() (*Sender, *Receiver) {
	return &Sender{c: c}, &Receiver{c: c}
}

// Sender is the writing half of a split Conn.
type Sender struct {
	c *Conn
}

// Send writes msg as a data frame. A positive timeout bounds the write.
func (s *Sender) Send(msg any, timeout time.Duration) error {
	if timeout > 0 {
		if err := s.c.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return ioError(err)
		}
	}
	return s.c.WriteMessage(msg, MaxDataFrameSize)
}

// Close closes the whole connection.
func (s *Sender) Close() error {
	return s.c.Close()
}

// Receiver is the reading half of a split Conn.
type Receiver struct {
	c *Conn
}

// Receive reads the next data frame into msg. A positive timeout bounds
// the wait.
func (r *Receiver) Receive(msg any, timeout time.Duration) error {
	if timeout > 0 {
		if err := r.c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return ioError(err)
		}
	}
	return r.c.ReadMessage(msg, MaxDataFrameSize)
}

// Close closes the whole connection.
func (r *Receiver) Close() error {
	return r.c.Close()
}

func ioError(err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
}

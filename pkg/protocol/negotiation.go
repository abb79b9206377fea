package protocol

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/blockberries/clique/pkg/streams"
)

// RangeSize is the encoded size of a Range.
const RangeSize = 8

// Range is an inclusive range of protocol versions.
type Range struct {
	Min uint32
	Max uint32
}

// SupportedRange returns the versions this build speaks.
func SupportedRange() Range {
	return Range{Min: uint32(MinVersion), Max: uint32(MaxVersion)}
}

// Valid reports whether the range is non-empty.
func (r Range) Valid() bool {
	return r.Min <= r.Max
}

// String formats the range as "[min,max]".
func (r Range) String() string {
	return fmt.Sprintf("[%d,%d]", r.Min, r.Max)
}

// Encode returns min and max as little-endian uint32s.
func (r Range) Encode() [RangeSize]byte {
	var buf [RangeSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], r.Min)
	binary.LittleEndian.PutUint32(buf[4:8], r.Max)
	return buf
}

// DecodeRange decodes a range and rejects empty ones.
func DecodeRange(buf [RangeSize]byte) (Range, error) {
	r := Range{
		Min: binary.LittleEndian.Uint32(buf[0:4]),
		Max: binary.LittleEndian.Uint32(buf[4:8]),
	}
	if !r.Valid() {
		return r, &InvalidRangeError{Range: r}
	}
	return r, nil
}

// Sentinel errors for negotiation. The structured errors below also match
// these with errors.Is.
var (
	// ErrConnectionClosed indicates the connection failed during negotiation.
	ErrConnectionClosed = streams.ErrConnectionClosed

	// ErrTimedOut indicates negotiation did not finish in time.
	ErrTimedOut = streams.ErrTimedOut

	// ErrInvalidRange matches any InvalidRangeError.
	ErrInvalidRange = errors.New("invalid range")

	// ErrProtocolMismatch matches any ProtocolMismatchError.
	ErrProtocolMismatch = errors.New("protocol mismatch")

	// ErrBadChoice matches any BadChoiceError.
	ErrBadChoice = errors.New("bad protocol choice")
)

// InvalidRangeError reports a range with min greater than max.
type InvalidRangeError struct {
	Range Range
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range: %s", e.Range)
}

// Is matches ErrInvalidRange.
func (e *InvalidRangeError) Is(target error) bool {
	return target == ErrInvalidRange
}

// ProtocolMismatchError reports ranges that do not intersect.
type ProtocolMismatchError struct {
	Ours   Range
	Theirs Range
}

func (e *ProtocolMismatchError) Error() string {
	return fmt.Sprintf("failed negotiation with range %s, their %s", e.Ours, e.Theirs)
}

// Is matches ErrProtocolMismatch.
func (e *ProtocolMismatchError) Is(target error) bool {
	return target == ErrProtocolMismatch
}

// BadChoiceError reports a negotiated version this build does not implement.
type BadChoiceError struct {
	Version uint32
}

func (e *BadChoiceError) Error() string {
	return fmt.Sprintf("negotiated protocol version %d, which we don't know", e.Version)
}

// Is matches ErrBadChoice.
func (e *BadChoiceError) Is(target error) bool {
	return target == ErrBadChoice
}

// intersect returns the newest version both ranges contain.
func intersect(ours, theirs Range) (Protocol, error) {
	common := Range{Min: max(ours.Min, theirs.Min), Max: min(ours.Max, theirs.Max)}
	if !common.Valid() {
		return 0, &ProtocolMismatchError{Ours: ours, Theirs: theirs}
	}
	p, ok := protocolFromVersion(common.Max)
	if !ok {
		return 0, &BadChoiceError{Version: common.Max}
	}
	return p, nil
}

// Negotiate exchanges supported ranges with the peer over the raw
// connection and picks the newest common version. It must run before
// anything else is read from conn. Both ends write first, so conn must
// buffer at least RangeSize bytes. An invalid local range is still sent
// so that the peer fails with the same error.
func Negotiate(ctx context.Context, conn net.Conn, local Range) (Protocol, error) {
	release, err := bound(ctx, conn, NegotiationTimeout)
	if err != nil {
		return 0, err
	}
	defer release()

	encoded := local.Encode()
	if _, err := conn.Write(encoded[:]); err != nil {
		return 0, negotiationIOError(ctx, err)
	}
	if !local.Valid() {
		return 0, &InvalidRangeError{Range: local}
	}
	var buf [RangeSize]byte
	if _, err := io.ReadFull(conn, buf[:]); err != nil {
		return 0, negotiationIOError(ctx, err)
	}
	theirs, err := DecodeRange(buf)
	if err != nil {
		return 0, err
	}
	return intersect(local, theirs)
}

func negotiationIOError(ctx context.Context, err error) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %w", ErrConnectionClosed, ctxErr)
		}
		return fmt.Errorf("%w: %w", ErrTimedOut, err)
	}
	return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
}

type deadliner interface {
	SetDeadline(time.Time) error
}

// bound sets a deadline of timeout, or the context deadline if earlier,
// and expires it early when ctx is cancelled. release clears it.
func bound(ctx context.Context, conn deadliner, timeout time.Duration) (release func(), err error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = conn.SetDeadline(time.Time{})
	}, nil
}

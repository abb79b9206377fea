package clique

import (
	"errors"
	"fmt"

	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/protocol"
)

// ErrorCode identifies the type of error for programmatic handling.
type ErrorCode int

const (
	// ErrCodeUnknown indicates an unknown or unclassified error.
	ErrCodeUnknown ErrorCode = iota

	// ErrCodeDialFailed indicates the peer could not be reached.
	ErrCodeDialFailed

	// ErrCodeNegotiationFailed indicates no protocol version could be agreed.
	ErrCodeNegotiationFailed

	// ErrCodeHandshakeFailed indicates the peer failed to authenticate.
	ErrCodeHandshakeFailed

	// ErrCodeUnauthorized indicates the peer authenticated but is not wanted.
	ErrCodeUnauthorized

	// ErrCodeConnectionLost indicates an established connection broke.
	ErrCodeConnectionLost

	// ErrCodeServiceStopped indicates the service is no longer running.
	ErrCodeServiceStopped

	// ErrCodeInvalidConfig indicates the configuration is invalid.
	ErrCodeInvalidConfig
)

// String returns a human-readable name for the error code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeUnknown:
		return "Unknown"
	case ErrCodeDialFailed:
		return "DialFailed"
	case ErrCodeNegotiationFailed:
		return "NegotiationFailed"
	case ErrCodeHandshakeFailed:
		return "HandshakeFailed"
	case ErrCodeUnauthorized:
		return "Unauthorized"
	case ErrCodeConnectionLost:
		return "ConnectionLost"
	case ErrCodeServiceStopped:
		return "ServiceStopped"
	case ErrCodeInvalidConfig:
		return "InvalidConfig"
	default:
		return fmt.Sprintf("ErrorCode(%d)", c)
	}
}

// Error is a connection failure with the context needed to log and count
// it. Workers never return these to callers; they end up in logs and
// metric labels.
type Error struct {
	// Code identifies the type of error.
	Code ErrorCode

	// Message is a human-readable description of the error.
	Message string

	// PeerID is the peer associated with the error. It is the zero key for
	// incoming connections that failed before the handshake.
	PeerID crypto.PublicKey

	// Cause is the underlying error, if any.
	Cause error
}

// Error returns a human-readable error message.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("clique: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("clique: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewPeerError creates an Error for a failed connection to peer.
func NewPeerError(code ErrorCode, message string, peer crypto.PublicKey, cause error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		PeerID:  peer,
		Cause:   cause,
	}
}

// classify picks the code for a worker failure from its cause.
func classify(err error) ErrorCode {
	switch {
	case errors.Is(err, ErrDialFailed):
		return ErrCodeDialFailed
	case errors.Is(err, protocol.ErrInvalidRange),
		errors.Is(err, protocol.ErrProtocolMismatch),
		errors.Is(err, protocol.ErrBadChoice):
		return ErrCodeNegotiationFailed
	case errors.Is(err, protocol.ErrHandshakeSend),
		errors.Is(err, protocol.ErrHandshakeReceive),
		errors.Is(err, protocol.ErrHandshakeTimedOut),
		errors.Is(err, protocol.ErrSignature),
		errors.Is(err, protocol.ErrChallenge):
		return ErrCodeHandshakeFailed
	case errors.Is(err, protocol.ErrNotAuthorized):
		return ErrCodeUnauthorized
	case errors.Is(err, protocol.ErrNoParentConnection),
		errors.Is(err, ErrServiceStopped):
		return ErrCodeServiceStopped
	default:
		return ErrCodeConnectionLost
	}
}

// Sentinel errors for service operations.
var (
	// ErrServiceStopped indicates the service has terminated.
	ErrServiceStopped = errors.New("service stopped")

	// ErrServiceRunning indicates Run was called twice.
	ErrServiceRunning = errors.New("service already running")

	// ErrDialFailed indicates the dialer could not reach the peer.
	ErrDialFailed = errors.New("dial failed")
)

// Sentinel errors for configuration.
var (
	// ErrInvalidConfig indicates the configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrMissingSecretKey indicates no secret key was provided.
	ErrMissingSecretKey = errors.New("secret key is required")

	// ErrMissingDialer indicates no dialer was provided.
	ErrMissingDialer = errors.New("dialer is required")

	// ErrMissingListener indicates no listener was provided.
	ErrMissingListener = errors.New("listener is required")
)

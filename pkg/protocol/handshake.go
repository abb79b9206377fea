package protocol

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/blockberries/clique/pkg/crypto"
	"github.com/blockberries/clique/pkg/streams"
)

// NonceSize is the size of the random challenge nonce.
const NonceSize = 32

// Sentinel errors for the handshake.
var (
	// ErrHandshakeSend indicates a handshake message could not be sent.
	ErrHandshakeSend = errors.New("handshake send error")

	// ErrHandshakeReceive indicates a handshake message could not be
	// received or decoded.
	ErrHandshakeReceive = errors.New("handshake receive error")

	// ErrSignature indicates the peer's response was not a valid signature
	// of our challenge.
	ErrSignature = errors.New("signature error")

	// ErrChallenge matches any ChallengeError.
	ErrChallenge = errors.New("challenge error")

	// ErrHandshakeTimedOut indicates the handshake did not finish in time.
	ErrHandshakeTimedOut = errors.New("handshake timed out")
)

// ChallengeError reports a challenge from a different peer than the one we
// dialed.
type ChallengeError struct {
	Expected crypto.PublicKey
	Got      crypto.PublicKey
}

func (e *ChallengeError) Error() string {
	return fmt.Sprintf("challenge error, expected peer %s, received from %s", e.Expected, e.Got)
}

// Is matches ErrChallenge.
func (e *ChallengeError) Is(target error) bool {
	return target == ErrChallenge
}

// Challenge is sent by the responder: its public key and a fresh nonce.
type Challenge struct {
	PublicKey []byte `cramberry:"1"`
	Nonce     []byte `cramberry:"2"`
}

// NewChallenge creates a challenge with a random nonce.
func NewChallenge(pk crypto.PublicKey) (*Challenge, error) {
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return &Challenge{PublicKey: pk.Bytes(), Nonce: nonce}, nil
}

// Bytes returns the signed form of the challenge: public key then nonce.
func (c *Challenge) Bytes() []byte {
	out := make([]byte, 0, len(c.PublicKey)+len(c.Nonce))
	out = append(out, c.PublicKey...)
	return append(out, c.Nonce...)
}

// Response is sent by the initiator: its public key and a signature of
// the challenge bytes.
type Response struct {
	PublicKey []byte `cramberry:"1"`
	Signature []byte `cramberry:"2"`
}

// NewResponse signs the challenge.
func NewResponse(signer crypto.Signer, challenge *Challenge) (*Response, error) {
	sig, err := signer.Sign(challenge.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to sign challenge: %w", err)
	}
	return &Response{PublicKey: signer.PublicKey().Bytes(), Signature: sig}, nil
}

// Verify checks the signature against the challenge using the public key
// carried in the response and returns that key.
func (r *Response) Verify(challenge *Challenge) (crypto.PublicKey, bool) {
	pk, err := crypto.ParsePublicKey(r.PublicKey)
	if err != nil {
		return crypto.PublicKey{}, false
	}
	return pk, pk.Verify(challenge.Bytes(), r.Signature)
}

// HandshakeResponder runs the handshake for a connection the peer opened.
// It proves nothing about us and only learns who the peer is; whether that
// peer is wanted is up to the caller.
func HandshakeResponder(ctx context.Context, conn *streams.Conn, signer crypto.Signer) (*streams.Sender, *streams.Receiver, crypto.PublicKey, error) {
	release, err := bound(ctx, conn, handshakeTimeout)
	if err != nil {
		return nil, nil, crypto.PublicKey{}, fmt.Errorf("%w: %w", ErrHandshakeSend, err)
	}
	defer release()

	challenge, err := NewChallenge(signer.PublicKey())
	if err != nil {
		return nil, nil, crypto.PublicKey{}, err
	}
	if err := conn.WriteMessage(challenge, streams.MaxHandshakeFrameSize); err != nil {
		return nil, nil, crypto.PublicKey{}, handshakeError(ErrHandshakeSend, err)
	}

	var response Response
	if err := conn.ReadMessage(&response, streams.MaxHandshakeFrameSize); err != nil {
		return nil, nil, crypto.PublicKey{}, handshakeError(ErrHandshakeReceive, err)
	}
	peer, ok := response.Verify(challenge)
	if !ok {
		return nil, nil, crypto.PublicKey{}, ErrSignature
	}

	sender, receiver := conn.Split()
	return sender, receiver, peer, nil
}

// HandshakeInitiator runs the handshake for a connection we opened to
// expected, proving our identity by signing its challenge.
func HandshakeInitiator(ctx context.Context, conn *streams.Conn, signer crypto.Signer, expected crypto.PublicKey) (*streams.Sender, *streams.Receiver, error) {
	release, err := bound(ctx, conn, handshakeTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrHandshakeReceive, err)
	}
	defer release()

	var challenge Challenge
	if err := conn.ReadMessage(&challenge, streams.MaxHandshakeFrameSize); err != nil {
		return nil, nil, handshakeError(ErrHandshakeReceive, err)
	}
	got, err := crypto.ParsePublicKey(challenge.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w: %w", ErrHandshakeReceive, streams.ErrDataCorrupted, err)
	}
	if got != expected {
		return nil, nil, &ChallengeError{Expected: expected, Got: got}
	}
	if len(challenge.Nonce) != NonceSize {
		return nil, nil, fmt.Errorf("%w: %w: nonce of %d bytes", ErrHandshakeReceive, streams.ErrDataCorrupted, len(challenge.Nonce))
	}

	response, err := NewResponse(signer, &challenge)
	if err != nil {
		return nil, nil, err
	}
	if err := conn.WriteMessage(response, streams.MaxHandshakeFrameSize); err != nil {
		return nil, nil, handshakeError(ErrHandshakeSend, err)
	}

	sender, receiver := conn.Split()
	return sender, receiver, nil
}

func handshakeError(kind, err error) error {
	if errors.Is(err, streams.ErrTimedOut) {
		return fmt.Errorf("%w: %w", ErrHandshakeTimedOut, err)
	}
	return fmt.Errorf("%w: %w", kind, err)
}

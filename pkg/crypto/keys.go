// Package crypto provides the Ed25519 identities used to authenticate
// clique peers: public keys that double as peer identifiers and secret
// keys that sign handshake challenges.
package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"filippo.io/edwards25519"
	lcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

const (
	// PublicKeySize is the size of an encoded public key in bytes.
	PublicKeySize = ed25519.PublicKeySize

	// SeedSize is the size of a secret key seed in bytes.
	SeedSize = ed25519.SeedSize

	// SignatureSize is the size of a signature in bytes.
	SignatureSize = ed25519.SignatureSize

	shortStringLength = 8
)

// PublicKey identifies a peer. It is comparable and can be used as a map key.
type PublicKey [PublicKeySize]byte

// ParsePublicKey decodes a public key and checks that it is a valid
// curve point.
func ParsePublicKey(b []byte) (PublicKey, error) {
	var pk PublicKey
	if len(b) != PublicKeySize {
		return pk, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, PublicKeySize, len(b))
	}
	if _, err := new(edwards25519.Point).SetBytes(b); err != nil {
		return pk, fmt.Errorf("%w: not a valid curve point", ErrInvalidPublicKey)
	}
	copy(pk[:], b)
	return pk, nil
}

// ParsePublicKeyHex decodes a hex encoded public key.
func ParsePublicKeyHex(s string) (PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	return ParsePublicKey(b)
}

// Bytes returns a copy of the encoded key.
func (k PublicKey) Bytes() []byte {
	b := make([]byte, PublicKeySize)
	copy(b, k[:])
	return b
}

// String returns the hex encoding of the key.
func (k PublicKey) String() string {
	return hex.EncodeToString(k[:])
}

// PeerID returns the libp2p peer ID derived from the key.
func (k PublicKey) PeerID() (peer.ID, error) {
	pub, err := lcrypto.UnmarshalEd25519PublicKey(k[:])
	if err != nil {
		return "", err
	}
	return peer.IDFromPublicKey(pub)
}

// ShortString returns an abbreviated form of the key's peer ID, used in
// status reports.
func (k PublicKey) ShortString() string {
	s := k.String()
	if id, err := k.PeerID(); err == nil {
		s = id.String()
	}
	if len(s) <= shortStringLength {
		return s
	}
	return s[len(s)-shortStringLength:]
}

// Compare orders keys lexicographically by their encoding.
func (k PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(k[:], other[:])
}

// Verify reports whether sig is a valid signature of msg by this key.
func (k PublicKey) Verify(msg, sig []byte) bool {
	pub, err := lcrypto.UnmarshalEd25519PublicKey(k[:])
	if err != nil {
		return false
	}
	ok, err := pub.Verify(msg, sig)
	return err == nil && ok
}

// Signer produces signatures for the local identity.
//
// Implementations must be safe for concurrent use.
type Signer interface {
	// PublicKey returns the identity the signatures verify against.
	PublicKey() PublicKey

	// Sign signs msg.
	Sign(msg []byte) ([]byte, error)
}

// SecretKey is the local Ed25519 identity.
type SecretKey struct {
	priv lcrypto.PrivKey
	pub  PublicKey
}

var _ Signer = (*SecretKey)(nil)

// GenerateSecretKey creates a fresh random identity.
func GenerateSecretKey() (*SecretKey, error) {
	priv, _, err := lcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return newSecretKey(priv)
}

// SecretKeyFromSeed derives an identity from a 32 byte seed.
func SecretKeyFromSeed(seed []byte) (*SecretKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("%w: expected %d byte seed, got %d", ErrInvalidSecretKey, SeedSize, len(seed))
	}
	raw := ed25519.NewKeyFromSeed(seed)
	defer SecureZero(raw)

	priv, err := lcrypto.UnmarshalEd25519PrivateKey(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	return newSecretKey(priv)
}

// SecretKeyFromHex derives an identity from a hex encoded seed.
func SecretKeyFromHex(s string) (*SecretKey, error) {
	seed, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	defer SecureZero(seed)
	return SecretKeyFromSeed(seed)
}

func newSecretKey(priv lcrypto.PrivKey) (*SecretKey, error) {
	raw, err := priv.GetPublic().Raw()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSecretKey, err)
	}
	pub, err := ParsePublicKey(raw)
	if err != nil {
		return nil, err
	}
	return &SecretKey{priv: priv, pub: pub}, nil
}

// PublicKey returns the public half of the identity.
func (k *SecretKey) PublicKey() PublicKey {
	return k.pub
}

// Sign signs msg with the secret key.
func (k *SecretKey) Sign(msg []byte) ([]byte, error) {
	sig, err := k.priv.Sign(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	return sig, nil
}

// SecureZero overwrites b with zeros so key material does not linger in
// memory longer than needed.
func SecureZero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

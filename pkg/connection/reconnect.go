package connection

import (
	"math/rand"
	"time"

	"github.com/blockberries/clique/pkg/crypto"
)

// BackoffCalculator calculates reconnection delays with exponential backoff.
type BackoffCalculator struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

// NewBackoffCalculator creates a new backoff calculator.
func NewBackoffCalculator(baseDelay, maxDelay time.Duration) *BackoffCalculator {
	return &BackoffCalculator{
		BaseDelay: baseDelay,
		MaxDelay:  maxDelay,
	}
}

// NextDelay returns the delay before the given retry attempt:
// baseDelay * 2^attempt capped at maxDelay, with ±10% jitter so peers
// that lost each other at the same moment do not redial in lockstep.
func (bc *BackoffCalculator) NextDelay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}

	delay := bc.BaseDelay
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= bc.MaxDelay {
			delay = bc.MaxDelay
			break
		}
	}
	if delay > bc.MaxDelay {
		delay = bc.MaxDelay
	}

	jitter := time.Duration(float64(delay) * 0.1 * (2*rand.Float64() - 1))
	delay += jitter

	if delay < 0 {
		delay = bc.BaseDelay
	}
	return delay
}

// Backoff tracks consecutive failed attempts per peer.
//
// Backoff is NOT safe for concurrent use.
type Backoff struct {
	calc     *BackoffCalculator
	attempts map[crypto.PublicKey]int
}

// NewBackoff creates a per-peer backoff tracker.
func NewBackoff(calc *BackoffCalculator) *Backoff {
	return &Backoff{
		calc:     calc,
		attempts: make(map[crypto.PublicKey]int),
	}
}

// Failure records a failed attempt for id and returns how long to wait
// before the next one.
func (b *Backoff) Failure(id crypto.PublicKey) time.Duration {
	attempt := b.attempts[id]
	b.attempts[id] = attempt + 1
	return b.calc.NextDelay(attempt)
}

// Attempts returns the number of consecutive failures recorded for id.
func (b *Backoff) Attempts(id crypto.PublicKey) int {
	return b.attempts[id]
}

// Reset forgets the failures of id, typically after a successful connection.
func (b *Backoff) Reset(id crypto.PublicKey) {
	delete(b.attempts, id)
}

// Package session holds the per-connection state shared symmetrically by both endpoints of a
// securecloud connection: the authenticated username, the zeroizing session key, and the
// monotonic counter that the record layer binds into every envelope's associated data (§3).
package session

import (
	"crypto/x509"
	"errors"
	"fmt"

	"github.com/arjunm/securecloud/internal/aead"
	"github.com/arjunm/securecloud/internal/wire"
)

// MaxCounter is the largest value the counter may hold before a rekey is mandatory (§6).
const MaxCounter = 0xFFFFFFFF

// ErrCounterOverflow is returned when Advance is called on a session whose counter has already
// reached MaxCounter without an intervening rekey. It is protocol-fatal.
var ErrCounterOverflow = errors.New("session: counter overflow without rekey")

// Key is the 128-bit session key derived by the handshake. It is a plain array, so assigning it or
// passing it by value (as New and the handshake do) copies the bytes; Zeroize, and Close on a
// Session, clear only the copy they are called on.
type Key [aead.KeySize]byte

// Zeroize overwrites the key's bytes with zero. Safe to call more than once.
func (k *Key) Zeroize() {
	for i := range k {
		k[i] = 0
	}
}

// AdvanceResult reports the outcome of advancing a session's counter, replacing the source's
// throw-from-increment control flow (§9) with an explicit, inspectable result.
type AdvanceResult int

const (
	// AdvanceOK means the counter was advanced normally.
	AdvanceOK AdvanceResult = iota
	// AdvanceRekeyNeeded means the counter was advanced but has reached MaxCounter; the caller
	// must complete a fresh handshake before sending or accepting another record.
	AdvanceRekeyNeeded
)

// Session is the state held identically by both peers of an established connection.
type Session struct {
	Username string
	Key      Key
	Counter  uint32

	// PeerCertificate is the X.509 certificate binding the peer's long-term RSA signing key.
	// On the client it is always the server's certificate; on the server it is nil (the
	// server authenticates clients by username lookup, not by certificate, per §4.4 step 5).
	PeerCertificate *x509.Certificate

	established bool
}

// New returns a freshly-established session with its counter reset to 0, per the handshake's
// final step (M5).
func New(username string, key Key, peerCert *x509.Certificate) (*Session, error) {
	if !wire.IsValidName(username) {
		return nil, fmt.Errorf("session: invalid username %q", username)
	}

	return &Session{
		Username:        username,
		Key:             key,
		Counter:         0,
		PeerCertificate: peerCert,
		established:     true,
	}, nil
}

// Established reports whether the session is usable for operations; it is false before the
// handshake completes and after Close.
func (s *Session) Established() bool {
	return s.established
}

// Advance increments the shared counter by exactly one, as required after every record sent or
// received in either direction (§3). It returns ErrCounterOverflow, a protocol-fatal error, if
// the counter was already at MaxCounter.
func (s *Session) Advance() (AdvanceResult, error) {
	if s.Counter == MaxCounter {
		return AdvanceOK, ErrCounterOverflow
	}

	s.Counter++

	if s.Counter == MaxCounter {
		return AdvanceRekeyNeeded, nil
	}

	return AdvanceOK, nil
}

// Reset zeroizes the current key, replaces it with key, and sets the counter to 0.
func (s *Session) Reset(key Key) {
	s.Key.Zeroize()
	s.Key = key
	s.Counter = 0
}

// Close zeroizes the session key and marks the session unusable. Idempotent.
func (s *Session) Close() {
	s.Key.Zeroize()
	s.established = false
}

// Package dh provides the ephemeral Diffie-Hellman group used by the handshake.
//
// securecloud uses ristretto255 for the ephemeral key exchange in the handshake. Unlike a
// full asymmetric cryptosystem, the handshake has no need to disguise public keys as noise, so
// points are encoded with their canonical 32-byte ristretto255 encoding rather than Elligator2.
package dh

import (
	"crypto/rand"
	"fmt"

	"github.com/gtank/ristretto255"
)

// PublicKeySize is the length of an encoded ephemeral public key in bytes.
const PublicKeySize = 32

// SecretKeySize is the length of an encoded ephemeral secret key in bytes.
const SecretKeySize = 32

// Keypair is an ephemeral ristretto255 Diffie-Hellman key pair.
type Keypair struct {
	Secret *ristretto255.Scalar
	Public *ristretto255.Element
}

// Generate creates a new ephemeral key pair.
func Generate() (*Keypair, error) {
	var seed [64]byte

	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("dh: generate: %w", err)
	}

	s := ristretto255.NewScalar().FromUniformBytes(seed[:])
	q := ristretto255.NewElement().ScalarBaseMult(s)

	return &Keypair{Secret: s, Public: q}, nil
}

// PublicBytes returns the canonical encoding of the key pair's public key.
func (kp *Keypair) PublicBytes() []byte {
	return kp.Public.Encode(nil)
}

// DecodePublic decodes a peer's public key from its canonical encoding.
func DecodePublic(b []byte) (*ristretto255.Element, error) {
	q := ristretto255.NewElement()
	if err := q.Decode(b); err != nil {
		return nil, fmt.Errorf("dh: invalid public key: %w", err)
	}

	return q, nil
}

// SharedSecret computes the Diffie-Hellman shared secret g^(ab) between the local key pair's
// secret scalar and the peer's public point.
func (kp *Keypair) SharedSecret(peer *ristretto255.Element) []byte {
	x := ristretto255.NewElement().ScalarMult(kp.Secret, peer)
	return x.Encode(nil)
}

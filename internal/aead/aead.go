// Package aead provides the stateless authenticated-encryption primitive used by the record
// layer and the handshake.
//
// Encryption and decryption are initialized as follows, given a 128-bit key K and a tag size T:
//
//     INIT('securecloud.aead', level=256)
//     AD(LE_U32(T),             meta=true)
//     KEY(K)
//
// Encryption of a plaintext P, given a 96-bit IV V and associated data A, is as follows:
//
//     SEND_CLR(V)
//     AD(A)
//     SEND_ENC(P)
//     SEND_MAC(T)
//
// Decryption mirrors encryption with RECV_CLR/RECV_ENC/RECV_MAC in place of
// SEND_CLR/SEND_ENC/SEND_MAC. No plaintext is returned without a successful RECV_MAC call.
package aead

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/sammyne/strobe"
)

const (
	// KeySize is the length of a session key in bytes (128 bits).
	KeySize = 16
	// IVSize is the length of a freshly-generated IV in bytes (96 bits).
	IVSize = 12
	// TagSize is the length of an authentication tag in bytes (128 bits).
	TagSize = 16
)

// ErrAuthFailure is returned when a ciphertext's tag does not verify, either because it was
// tampered with or because the wrong key/IV/associated data was used. No plaintext is ever
// returned alongside this error.
var ErrAuthFailure = errors.New("aead: authentication failure")

// Seal encrypts plaintext under key, binding aad, and returns a freshly-generated IV, the
// ciphertext (the same length as plaintext), and a 128-bit tag.
func Seal(key, aad, plaintext []byte) (iv, ciphertext, tag []byte, err error) {
	iv = make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, nil, fmt.Errorf("aead: generate iv: %w", err)
	}

	ae, err := newProtocol(key)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := ae.SendCLR(copyOf(iv), &strobe.Options{}); err != nil {
		return nil, nil, nil, crypticInternalErr(err)
	}

	if err := ae.AD(copyOf(aad), &strobe.Options{}); err != nil {
		return nil, nil, nil, crypticInternalErr(err)
	}

	ciphertext = copyOf(plaintext)

	if _, err := ae.SendENC(ciphertext, &strobe.Options{}); err != nil {
		return nil, nil, nil, crypticInternalErr(err)
	}

	tag = make([]byte, TagSize)
	if err := ae.SendMAC(tag, &strobe.Options{}); err != nil {
		return nil, nil, nil, crypticInternalErr(err)
	}

	return iv, ciphertext, tag, nil
}

// Open decrypts ciphertext under key and iv, verifying aad and tag. A tag that does not verify, or
// an IV or tag of the wrong size, returns ErrAuthFailure; a malfunction of the STROBE primitive
// returns a distinct internal error. No plaintext is returned with either; the caller must treat
// both as session-fatal.
func Open(key, iv, aad, ciphertext, tag []byte) ([]byte, error) {
	if len(iv) != IVSize || len(tag) != TagSize {
		return nil, ErrAuthFailure
	}

	ae, err := newProtocol(key)
	if err != nil {
		return nil, err
	}

	if err := ae.RecvCLR(copyOf(iv), &strobe.Options{}); err != nil {
		return nil, crypticInternalErr(err)
	}

	if err := ae.AD(copyOf(aad), &strobe.Options{}); err != nil {
		return nil, crypticInternalErr(err)
	}

	plaintext := copyOf(ciphertext)

	if _, err := ae.RecvENC(plaintext, &strobe.Options{}); err != nil {
		return nil, crypticInternalErr(err)
	}

	if err := ae.RecvMAC(copyOf(tag), &strobe.Options{}); err != nil {
		return nil, ErrAuthFailure
	}

	return plaintext, nil
}

func newProtocol(key []byte) (*strobe.Strobe, error) {
	ae, err := strobe.New("securecloud.aead", strobe.Bit256)
	if err != nil {
		return nil, crypticInternalErr(err)
	}

	if err := ae.AD(leU32(TagSize), &strobe.Options{Meta: true}); err != nil {
		return nil, crypticInternalErr(err)
	}

	if err := ae.KEY(copyOf(key), false); err != nil {
		return nil, crypticInternalErr(err)
	}

	return ae, nil
}

// crypticInternalErr wraps a STROBE-internal malfunction; it is distinct from ErrAuthFailure
// because it indicates the primitive itself misbehaved, not that an adversary tampered with a
// record.
func crypticInternalErr(err error) error {
	return fmt.Errorf("aead: internal failure: %w", err)
}

func leU32(n int) []byte {
	return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
}

func copyOf(b []byte) []byte {
	c := make([]byte, len(b))
	copy(c, b)

	return c
}

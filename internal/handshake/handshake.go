// Package handshake implements the five-message mutual-authentication exchange (M1..M5) that
// establishes a session's key: ephemeral ristretto255 Diffie-Hellman for forward secrecy, RSA
// signatures over the exchanged public points for mutual authentication, and an X.509
// certificate chain binding the server's signing key (§4.4).
package handshake

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/xerrors"

	securecloud "github.com/arjunm/securecloud"
	"github.com/arjunm/securecloud/internal/aead"
	"github.com/arjunm/securecloud/internal/session"
)

// signatureHashFunc is the hash used under RSASSA-PKCS1-v1_5 when signing g^a‖g^b (§4.4 step 3).
const signatureHashFunc = crypto.SHA256

// Field sizes of the AEAD envelope carried inline in AuthM3/AuthM4, used to parse those
// messages before a session.Session (and its record-layer framing) exists.
const (
	aeadIVSize  = aead.IVSize
	aeadAADSize = 4
	aeadTagSize = aead.TagSize
)

// deriveSessionKey folds a ristretto255 shared secret down to a 128-bit session key via
// SHA-256, per SPEC_FULL.md §2.
func deriveSessionKey(shared []byte) session.Key {
	digest := sha256.Sum256(shared)

	var key session.Key
	copy(key[:], digest[:len(key)])

	return key
}

func signTranscript(priv *rsa.PrivateKey, clientPub, serverPub []byte) ([]byte, error) {
	transcript := append(append([]byte(nil), clientPub...), serverPub...)
	digest := sha256.Sum256(transcript)

	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, signatureHashFunc, digest[:])
	if err != nil {
		return nil, xerrors.Errorf("handshake: sign transcript: %w", err)
	}

	return sig, nil
}

func verifyTranscript(pub *rsa.PublicKey, clientPub, serverPub, sig []byte) error {
	transcript := append(append([]byte(nil), clientPub...), serverPub...)
	digest := sha256.Sum256(transcript)

	if err := rsa.VerifyPKCS1v15(pub, signatureHashFunc, digest[:], sig); err != nil {
		return xerrors.Errorf("handshake: %w: %v", securecloud.ErrAuthenticationFailure, err)
	}

	return nil
}

// sealSignature AEAD-encrypts sig under the ephemeral shared key with the given counter bound
// into AAD, mirroring the record layer's envelope shape for the handshake's own inline envelopes
// (§6, AuthM3/AuthM4).
func sealSignature(key session.Key, counter uint32, sig []byte) (iv, aad, tag, ciphertext []byte, err error) {
	aad = encodeCounter(counter)

	iv, ciphertext, tag, err = aead.Seal(key[:], aad, sig)
	if err != nil {
		return nil, nil, nil, nil, xerrors.Errorf("handshake: seal signature: %w", err)
	}

	return iv, aad, tag, ciphertext, nil
}

func openSignature(key session.Key, counter uint32, iv, aad, tag, ciphertext []byte) ([]byte, error) {
	if len(aad) != 4 || decodeCounter(aad) != counter {
		return nil, securecloud.ErrWrongCounter
	}

	sig, err := aead.Open(key[:], iv, aad, ciphertext, tag)
	if err != nil {
		return nil, xerrors.Errorf("handshake: %w: %v", securecloud.ErrDecryptionFailure, err)
	}

	return sig, nil
}

func encodeCounter(counter uint32) []byte {
	return []byte{byte(counter), byte(counter >> 8), byte(counter >> 16), byte(counter >> 24)}
}

func decodeCounter(buf []byte) uint32 {
	return uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
}

// readExactly reads exactly n bytes from r, distinguishing a transport failure from the caller's
// subsequent parse failure.
func readExactly(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, xerrors.Errorf("handshake: %w: %v", securecloud.ErrReceiveFailure, err)
	}

	return buf, nil
}

func writeAll(w io.Writer, buf []byte) error {
	if _, err := w.Write(buf); err != nil {
		return xerrors.Errorf("handshake: %w: %v", securecloud.ErrSendFailure, err)
	}

	return nil
}

// readMessage reads a single framed handshake message: a uint32 little-endian length prefix
// followed by that many bytes. The handshake runs before the record layer exists, so it frames
// its own cleartext messages rather than relying on the envelope's implicit fixed sizes.
func readMessage(r io.Reader) ([]byte, error) {
	lenBuf, err := readExactly(r, 4)
	if err != nil {
		return nil, err
	}

	n := int(lenBuf[0]) | int(lenBuf[1])<<8 | int(lenBuf[2])<<16 | int(lenBuf[3])<<24
	if n < 0 || n > 1<<20 {
		return nil, fmt.Errorf("handshake: implausible message length %d", n)
	}

	return readExactly(r, n)
}

func writeMessage(w io.Writer, payload []byte) error {
	n := len(payload)
	header := []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}

	if err := writeAll(w, header); err != nil {
		return err
	}

	return writeAll(w, payload)
}

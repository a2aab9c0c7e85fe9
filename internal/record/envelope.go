// Package record implements the Envelope wire format: the AEAD-sealed, counter-bound record that
// every post-handshake message travels in (§4.3).
//
// seal binds the session's current counter into the associated data, calls the AEAD primitive,
// and advances the counter. open parses the fixed-layout header, calls the AEAD primitive, and
// then requires the associated data's counter to equal the session's counter before advancing it
// itself — binding the counter into AAD rather than the plaintext keeps the ciphertext length
// equal to the plaintext length and cheaply authenticates ordering without a separate MAC.
//
// An envelope carries no length field of its own: ciphertext length always equals plaintext
// length, so the caller must already know (or bound) how many bytes to read, exactly as
// open(session, envelope_bytes, expected_plaintext_len) is specified. Most call sites know this
// from protocol state (a ListAck is always 5 bytes; a chunk is always 1+len(data)). The one place
// that doesn't — the server's top-level loop, which may receive any of several differently-shaped
// operation requests — resolves it the same way wire.SimpleMessage already resolves the
// ACK/NACK/LOGOUT_REQUEST ambiguity: every request that can arrive there is padded to
// wire.MaxPacketSize, so the read is always that one fixed size, and the decrypted payload's
// leading code byte (not its length) is what decides which operation it is.
package record

import (
	"encoding/binary"
	"io"

	securecloud "github.com/arjunm/securecloud"
	"github.com/arjunm/securecloud/internal/aead"
	"github.com/arjunm/securecloud/internal/session"
	"golang.org/x/xerrors"
)

// HeaderSize is the length in bytes of an envelope's iv‖aad‖tag header, before the ciphertext.
const HeaderSize = aead.IVSize + 4 + aead.TagSize

// SealTo encrypts plaintext for sess, writes the resulting envelope to w in full, and advances
// sess's counter. It returns session.AdvanceRekeyNeeded if the counter has reached its maximum
// and a fresh handshake is now required before the next message in either direction.
func SealTo(w io.Writer, sess *session.Session, plaintext []byte) (session.AdvanceResult, error) {
	aad := encodeCounter(sess.Counter)

	iv, ciphertext, tag, err := aead.Seal(sess.Key[:], aad, plaintext)
	if err != nil {
		return session.AdvanceOK, wrapf(securecloud.ErrEncryptionFailure, err)
	}

	envelope := make([]byte, 0, HeaderSize+len(ciphertext))
	envelope = append(envelope, iv...)
	envelope = append(envelope, aad...)
	envelope = append(envelope, tag...)
	envelope = append(envelope, ciphertext...)

	if _, err := w.Write(envelope); err != nil {
		return session.AdvanceOK, wrapf(securecloud.ErrSendFailure, err)
	}

	return sess.Advance()
}

// OpenFrom reads one envelope of exactly plaintextLen ciphertext bytes from r, decrypts and
// authenticates it against sess, verifies the embedded counter matches sess's expectation, and
// advances sess's counter. Any failure is session-fatal per §4.3.
func OpenFrom(r io.Reader, sess *session.Session, plaintextLen int) ([]byte, session.AdvanceResult, error) {
	header := make([]byte, HeaderSize)

	if _, err := io.ReadFull(r, header); err != nil {
		return nil, session.AdvanceOK, wrapf(securecloud.ErrReceiveFailure, err)
	}

	iv := header[:aead.IVSize]
	aad := header[aead.IVSize : aead.IVSize+4]
	tag := header[aead.IVSize+4:]

	ciphertext := make([]byte, plaintextLen)
	if _, err := io.ReadFull(r, ciphertext); err != nil {
		return nil, session.AdvanceOK, wrapf(securecloud.ErrReceiveFailure, err)
	}

	plaintext, err := aead.Open(sess.Key[:], iv, aad, ciphertext, tag)
	if err != nil {
		return nil, session.AdvanceOK, wrapf(securecloud.ErrDecryptionFailure, err)
	}

	if binary.LittleEndian.Uint32(aad) != sess.Counter {
		return nil, session.AdvanceOK, securecloud.ErrWrongCounter
	}

	result, err := sess.Advance()
	if err != nil {
		return nil, session.AdvanceOK, err
	}

	return plaintext, result, nil
}

// encodeCounter fixes the AAD encoding of the counter to little-endian, resolving the raw-memcpy
// ambiguity in the source (§9): both peers must agree on one byte order.
func encodeCounter(counter uint32) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, counter)

	return buf
}

func wrapf(sentinel, cause error) error {
	return xerrors.Errorf("%w: %v", sentinel, cause)
}

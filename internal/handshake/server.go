package handshake

import (
	"crypto/x509"
	"io"

	"golang.org/x/xerrors"

	securecloud "github.com/arjunm/securecloud"
	"github.com/arjunm/securecloud/internal/certstore"
	"github.com/arjunm/securecloud/internal/dh"
	"github.com/arjunm/securecloud/internal/record"
	"github.com/arjunm/securecloud/internal/session"
	"github.com/arjunm/securecloud/internal/wire"
)

// RunServer drives the server side of the handshake over conn: M1 (recv) → M2 (send) →
// M3 (send) → M4 (recv) → M5 (send). After sending a NACK'd M2 (unknown username) it returns
// securecloud.ErrUsernameNotFound, which callers can tell apart from a transport or protocol
// failure with errors.Is.
func RunServer(conn io.ReadWriter, store *certstore.Store) (*session.Session, error) {
	m1Buf, err := readMessage(conn)
	if err != nil {
		return nil, err
	}

	m1, err := wire.DeserializeAuthM1(m1Buf)
	if err != nil {
		return nil, xerrors.Errorf("handshake: parse M1: %w", err)
	}

	clientPub, ok := store.LookupUser(m1.Username)
	if !ok {
		nack, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.NACK})
		if err != nil {
			return nil, xerrors.Errorf("handshake: serialize M2 NACK: %w", err)
		}

		if err := writeMessage(conn, nack); err != nil {
			return nil, err
		}

		return nil, securecloud.ErrUsernameNotFound
	}

	ack, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.ACK})
	if err != nil {
		return nil, xerrors.Errorf("handshake: serialize M2 ACK: %w", err)
	}

	if err := writeMessage(conn, ack); err != nil {
		return nil, err
	}

	clientPoint, err := dh.DecodePublic(m1.EphemeralPublicKey)
	if err != nil {
		return nil, xerrors.Errorf("handshake: decode client ephemeral key: %w", err)
	}

	eph, err := dh.Generate()
	if err != nil {
		return nil, xerrors.Errorf("handshake: generate ephemeral key: %w", err)
	}

	shared := eph.SharedSecret(clientPoint)
	key := deriveSessionKey(shared)

	// The server authenticates clients by username/public-key lookup rather than by
	// certificate, so no peer certificate is attached to the established session (§4.4 step 5).
	var noCert *x509.Certificate

	sess, err := session.New(m1.Username, key, noCert)
	if err != nil {
		key.Zeroize()
		return nil, err
	}

	sess.Counter = 2

	serverSig, err := signTranscript(store.ServerKey, m1.EphemeralPublicKey, eph.PublicBytes())
	if err != nil {
		sess.Close()
		return nil, err
	}

	iv, aad, tag, ciphertext, err := sealSignature(sess.Key, 0, serverSig)
	if err != nil {
		sess.Close()
		return nil, err
	}

	m3 := wire.SerializeAuthM3(wire.AuthM3Message{
		EphemeralPublicKey: eph.PublicBytes(),
		IV:                 iv,
		AAD:                aad,
		Tag:                tag,
		Ciphertext:         ciphertext,
		Certificate:        store.ServerCertificate.Raw,
	})

	if err := writeMessage(conn, m3); err != nil {
		sess.Close()
		return nil, err
	}

	m4Buf, err := readMessage(conn)
	if err != nil {
		sess.Close()
		return nil, err
	}

	m4, err := wire.DeserializeAuthM4(m4Buf, aeadIVSize, aeadAADSize, aeadTagSize)
	if err != nil {
		sess.Close()
		return nil, xerrors.Errorf("handshake: parse M4: %w", err)
	}

	clientSig, err := openSignature(sess.Key, 1, m4.IV, m4.AAD, m4.Tag, m4.Ciphertext)
	if err != nil {
		_ = sendM5(conn, sess, wire.NACK)
		sess.Close()
		return nil, err
	}

	if err := verifyTranscript(clientPub, m1.EphemeralPublicKey, eph.PublicBytes(), clientSig); err != nil {
		_ = sendM5(conn, sess, wire.NACK)
		sess.Close()
		return nil, err
	}

	if err := sendM5(conn, sess, wire.ACK); err != nil {
		sess.Close()
		return nil, err
	}

	sess.Counter = 0

	return sess, nil
}

// sendM5 carries the handshake's final ACK/NACK inside an Envelope under the just-derived session
// key, the one handshake message spec.md requires to be fully envelope-protected rather than
// framed in the handshake's own cleartext-length-prefixed wrapper.
func sendM5(w io.Writer, sess *session.Session, code wire.Code) error {
	m5, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: code})
	if err != nil {
		return xerrors.Errorf("handshake: serialize M5: %w", err)
	}

	_, err = record.SealTo(w, sess, m5)
	if err != nil {
		return xerrors.Errorf("handshake: send M5: %w", err)
	}

	return nil
}

package handshake

import (
	"crypto/rsa"
	"io"

	"golang.org/x/xerrors"

	securecloud "github.com/arjunm/securecloud"
	"github.com/arjunm/securecloud/internal/certstore"
	"github.com/arjunm/securecloud/internal/dh"
	"github.com/arjunm/securecloud/internal/record"
	"github.com/arjunm/securecloud/internal/session"
	"github.com/arjunm/securecloud/internal/wire"
)

// RunClient drives the client side of the handshake over conn: M1 (send) → M2 (recv) →
// M3 (recv) → M4 (send) → M5 (recv). On success it returns an established Session holding the
// negotiated key and the server's validated certificate; on any failure no session is returned
// and the caller must close conn.
func RunClient(conn io.ReadWriter, username string, priv *rsa.PrivateKey, roots *certstore.Store) (*session.Session, error) {
	eph, err := dh.Generate()
	if err != nil {
		return nil, xerrors.Errorf("handshake: generate ephemeral key: %w", err)
	}

	m1, err := wire.SerializeAuthM1(wire.AuthM1Message{
		Username:           username,
		EphemeralPublicKey: eph.PublicBytes(),
	})
	if err != nil {
		return nil, xerrors.Errorf("handshake: serialize M1: %w", err)
	}

	if err := writeMessage(conn, m1); err != nil {
		return nil, err
	}

	m2Buf, err := readMessage(conn)
	if err != nil {
		return nil, err
	}

	m2, err := wire.DeserializeSimpleMessage(m2Buf)
	if err != nil {
		return nil, xerrors.Errorf("handshake: parse M2: %w", err)
	}

	if m2.Code == wire.NACK {
		return nil, securecloud.ErrUsernameNotFound
	}

	if m2.Code != wire.ACK {
		return nil, securecloud.ErrWrongMsgCode
	}

	m3Buf, err := readMessage(conn)
	if err != nil {
		return nil, err
	}

	m3, err := wire.DeserializeAuthM3(m3Buf, aeadIVSize, aeadAADSize, aeadTagSize)
	if err != nil {
		return nil, xerrors.Errorf("handshake: parse M3: %w", err)
	}

	serverCert, err := certstore.ParseCertificateDER(m3.Certificate)
	if err != nil {
		return nil, xerrors.Errorf("handshake: parse server certificate: %w", err)
	}

	if err := roots.VerifyServerCertificate(serverCert); err != nil {
		return nil, err
	}

	serverPub, err := dh.DecodePublic(m3.EphemeralPublicKey)
	if err != nil {
		return nil, xerrors.Errorf("handshake: decode server ephemeral key: %w", err)
	}

	shared := eph.SharedSecret(serverPub)
	key := deriveSessionKey(shared)

	serverSig, err := openSignature(key, 0, m3.IV, m3.AAD, m3.Tag, m3.Ciphertext)
	if err != nil {
		return nil, err
	}

	serverRSAPub, ok := serverCert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, xerrors.Errorf("handshake: server certificate does not carry an RSA public key")
	}

	if err := verifyTranscript(serverRSAPub, eph.PublicBytes(), m3.EphemeralPublicKey, serverSig); err != nil {
		key.Zeroize()
		return nil, err
	}

	clientSig, err := signTranscript(priv, eph.PublicBytes(), m3.EphemeralPublicKey)
	if err != nil {
		key.Zeroize()
		return nil, err
	}

	iv, aad, tag, ciphertext, err := sealSignature(key, 1, clientSig)
	if err != nil {
		key.Zeroize()
		return nil, err
	}

	m4 := wire.SerializeAuthM4(wire.AuthM4Message{IV: iv, AAD: aad, Tag: tag, Ciphertext: ciphertext})

	if err := writeMessage(conn, m4); err != nil {
		key.Zeroize()
		return nil, err
	}

	sess, err := session.New(username, key, serverCert)
	if err != nil {
		key.Zeroize()
		return nil, err
	}

	sess.Counter = 2

	m5Buf, _, err := record.OpenFrom(conn, sess, wire.MaxPacketSize)
	if err != nil {
		sess.Close()
		return nil, err
	}

	m5, err := wire.DeserializeSimpleMessage(m5Buf)
	if err != nil {
		sess.Close()
		return nil, xerrors.Errorf("handshake: parse M5: %w", err)
	}

	if m5.Code != wire.ACK {
		sess.Close()
		return nil, securecloud.ErrAuthenticationFailure
	}

	sess.Counter = 0

	return sess, nil
}

package handshake

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/codahale/gubbins/assert"
	"github.com/google/go-cmp/cmp"

	securecloud "github.com/arjunm/securecloud"
	"github.com/arjunm/securecloud/internal/certstore"
)

var errIs = cmp.Comparer(func(a, b error) bool { return errors.Is(a, b) })

// testPKI holds a self-signed CA, a server key+certificate issued by it, and a client key pair,
// enough to exercise both sides of the handshake without touching disk.
type testPKI struct {
	caCert     *x509.Certificate
	serverKey  *rsa.PrivateKey
	serverCert *x509.Certificate
	clientKey  *rsa.PrivateKey
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()

	caKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.Equal(t, "ca key err", nil, err)

	caTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "test-ca"},
		NotBefore:             time.Unix(0, 0),
		NotAfter:              time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
		BasicConstraintsValid: true,
	}

	caDER, err := x509.CreateCertificate(rand.Reader, caTemplate, caTemplate, &caKey.PublicKey, caKey)
	assert.Equal(t, "ca cert err", nil, err)

	caCert, err := x509.ParseCertificate(caDER)
	assert.Equal(t, "ca parse err", nil, err)

	serverKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.Equal(t, "server key err", nil, err)

	serverTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test-server"},
		NotBefore:    time.Unix(0, 0),
		NotAfter:     time.Unix(0, 0).Add(100 * 365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}

	serverDER, err := x509.CreateCertificate(rand.Reader, serverTemplate, caCert, &serverKey.PublicKey, caKey)
	assert.Equal(t, "server cert err", nil, err)

	serverCert, err := x509.ParseCertificate(serverDER)
	assert.Equal(t, "server parse err", nil, err)

	clientKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.Equal(t, "client key err", nil, err)

	return &testPKI{caCert: caCert, serverKey: serverKey, serverCert: serverCert, clientKey: clientKey}
}

func (p *testPKI) serverStore() *certstore.Store {
	pool := x509.NewCertPool()
	pool.AddCert(p.caCert)

	return &certstore.Store{
		ServerCertificate: p.serverCert,
		ServerKey:         p.serverKey,
		TrustedRoots:      pool,
	}
}

func (p *testPKI) clientStore() *certstore.Store {
	pool := x509.NewCertPool()
	pool.AddCert(p.caCert)

	return &certstore.Store{TrustedRoots: pool}
}

func TestHandshakeHappyPath(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t)

	serverStore := pki.serverStore()
	serverStore.RegisterUser("alice", &pki.clientKey.PublicKey)

	clientConn, serverConn := net.Pipe()

	done := make(chan error, 1)

	go func() {
		_, err := RunServer(serverConn, serverStore)
		done <- err
	}()

	clientSess, clientErr := RunClient(clientConn, "alice", pki.clientKey, pki.clientStore())
	serverErr := <-done

	assert.Equal(t, "client err", nil, clientErr)
	assert.Equal(t, "server err", nil, serverErr)
	assert.Equal(t, "client established", true, clientSess.Established())
	assert.Equal(t, "client counter reset", uint32(0), clientSess.Counter)
}

func TestHandshakeUnknownUserIsNACKed(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t)
	serverStore := pki.serverStore()

	clientConn, serverConn := net.Pipe()

	done := make(chan error, 1)

	go func() {
		_, err := RunServer(serverConn, serverStore)
		done <- err
	}()

	_, clientErr := RunClient(clientConn, "mallory", pki.clientKey, pki.clientStore())
	serverErr := <-done

	assert.Equal(t, "client err", securecloud.ErrUsernameNotFound, clientErr, errIs)
	assert.Equal(t, "server err", securecloud.ErrUsernameNotFound, serverErr, errIs)
}

func TestHandshakeWrongClientKeyFailsAuthentication(t *testing.T) {
	t.Parallel()

	pki := newTestPKI(t)
	serverStore := pki.serverStore()

	registeredKey, err := rsa.GenerateKey(rand.Reader, 2048)
	assert.Equal(t, "registered key err", nil, err)
	serverStore.RegisterUser("alice", &registeredKey.PublicKey)

	clientConn, serverConn := net.Pipe()

	done := make(chan error, 1)

	go func() {
		_, err := RunServer(serverConn, serverStore)
		done <- err
	}()

	// The client signs with a key that doesn't match what the server has on file for "alice".
	_, clientErr := RunClient(clientConn, "alice", pki.clientKey, pki.clientStore())
	serverErr := <-done

	if serverErr == nil {
		t.Fatal("expected server to reject the client's signature")
	}

	if clientErr == nil {
		t.Fatal("expected client to observe a failed handshake")
	}
}

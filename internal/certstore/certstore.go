// Package certstore loads and serves the long-term key material the handshake needs: the
// server's RSA signing key and X.509 certificate, the client's per-user public key lookup, and
// the trusted root store used to validate a server's certificate chain.
//
// §9's design notes call out the source's certificate manager as a process-wide singleton;
// here it's a plain struct built once at startup and passed to the handshake as a handle, never
// referenced through a package-level global.
package certstore

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Store is a registry of long-term key material. LoadServer and LoadClient do all their writes
// before returning; after that only RegisterUser mutates it. It has no locking, so concurrent
// lookups by multiple connection workers are safe only while RegisterUser is not being called.
type Store struct {
	// ServerCertificate and ServerKey are populated for a server-side store.
	ServerCertificate *x509.Certificate
	ServerKey         *rsa.PrivateKey

	// TrustedRoots validates a peer server's certificate; populated for a client-side store.
	TrustedRoots *x509.CertPool

	userKeys map[string]*rsa.PublicKey
}

// LoadServer builds a Store for a server process: its own certificate and private key, plus the
// directory of registered users' public keys (§6, "<root>/resources/public_keys/<username>_key.pem").
func LoadServer(certPath, keyPath, publicKeysDir string) (*Store, error) {
	cert, err := loadCertificate(certPath)
	if err != nil {
		return nil, err
	}

	key, err := loadRSAPrivateKey(keyPath)
	if err != nil {
		return nil, err
	}

	users, err := loadPublicKeyDir(publicKeysDir)
	if err != nil {
		return nil, err
	}

	return &Store{ServerCertificate: cert, ServerKey: key, userKeys: users}, nil
}

// LoadClient builds a Store for a client process: the root CA pool used to validate the server's
// certificate chain (§4.4 step 4a). The client's own private key is not part of the Store.
func LoadClient(caCertPath string) (*Store, error) {
	pool := x509.NewCertPool()

	pem, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, errors.Wrap(err, "certstore: read CA certificate")
	}

	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("certstore: no certificates found in CA bundle")
	}

	return &Store{TrustedRoots: pool}, nil
}

// LookupUser returns the registered public key for username and true, or nil and false if no key
// is registered (the caller translates a not-found lookup into the wire's USERNAME_NOT_FOUND
// semantics, §4.4).
func (s *Store) LookupUser(username string) (*rsa.PublicKey, bool) {
	pk, ok := s.userKeys[username]
	return pk, ok
}

// RegisterUser adds or replaces username's public key, in addition to the keys LoadServer read
// from the public key directory. It writes the lookup map without locking.
func (s *Store) RegisterUser(username string, pub *rsa.PublicKey) {
	if s.userKeys == nil {
		s.userKeys = make(map[string]*rsa.PublicKey)
	}

	s.userKeys[username] = pub
}

// VerifyServerCertificate validates cert against the trusted root pool, per §4.4 step 4a.
func (s *Store) VerifyServerCertificate(cert *x509.Certificate) error {
	_, err := cert.Verify(x509.VerifyOptions{
		Roots:     s.TrustedRoots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageAny},
	})
	if err != nil {
		return errors.Wrap(err, "certstore: server certificate did not validate")
	}

	return nil
}

// ParseCertificateDER parses a bare DER-encoded certificate, as carried inline in AuthM3 rather
// than read from a PEM file on disk.
func ParseCertificateDER(der []byte) (*x509.Certificate, error) {
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, errors.Wrap(err, "certstore: parse DER certificate")
	}

	return cert, nil
}

func loadCertificate(path string) (*x509.Certificate, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "certstore: read certificate %s", path)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("certstore: no PEM block in %s", path)
	}

	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "certstore: parse certificate %s", path)
	}

	return cert, nil
}

func loadRSAPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "certstore: read private key %s", path)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("certstore: no PEM block in %s", path)
	}

	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "certstore: parse private key %s", path)
	}

	return key, nil
}

func loadPublicKeyDir(dir string) (map[string]*rsa.PublicKey, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "certstore: read public key directory %s", dir)
	}

	users := make(map[string]*rsa.PublicKey, len(entries))

	const suffix = "_key.pem"

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".pem" {
			continue
		}

		name := e.Name()
		if len(name) <= len(suffix) || name[len(name)-len(suffix):] != suffix {
			continue
		}

		username := name[:len(name)-len(suffix)]

		pk, err := loadRSAPublicKey(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}

		users[username] = pk
	}

	return users, nil
}

func loadRSAPublicKey(path string) (*rsa.PublicKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "certstore: read public key %s", path)
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, fmt.Errorf("certstore: no PEM block in %s", path)
	}

	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, errors.Wrapf(err, "certstore: parse public key %s", path)
	}

	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("certstore: %s is not an RSA public key", path)
	}

	return rsaPub, nil
}

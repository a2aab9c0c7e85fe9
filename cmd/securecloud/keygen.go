package main

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"math/big"
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/arjunm/securecloud/internal/certstore"
)

var errPassphraseMismatch = errors.New("passphrases do not match")

const keyBits = 3072

type keygenCmd struct {
	Kind   string `arg:"" enum:"server,client" help:"Which identity to generate: server or client."`
	Output string `arg:"" type:"path" help:"Output path prefix."`

	CommonName string `help:"Certificate common name." default:"localhost"`
}

func (cmd *keygenCmd) Run(_ *kong.Context) error {
	if cmd.Kind == "server" {
		return cmd.generateServer()
	}

	return cmd.generateClient()
}

// generateServer writes <output>.key (an unencrypted PEM PKCS#1 private key, read directly by
// the long-running server process at startup) and <output>.cert (a self-signed X.509
// certificate binding it, per §4.4's server certificate chain).
func (cmd *keygenCmd) generateServer() error {
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return err
	}

	template := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: cmd.CommonName},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return err
	}

	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(cmd.Output+".key", keyPEM, 0o600); err != nil {
		return err
	}

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	return os.WriteFile(cmd.Output+".cert", certPEM, 0o644)
}

// generateClient writes <output>.key (the private key, encrypted at rest per §4's PBE) and
// <output>.pub (the PKIX-encoded public key an administrator registers with a server under
// "<root>/resources/public_keys/<username>_key.pem").
func (cmd *keygenCmd) generateClient() error {
	passphrase, err := askPassphrase("Enter passphrase: ")
	if err != nil {
		return err
	}

	confirm, err := askPassphrase("Confirm passphrase: ")
	if err != nil {
		return err
	}

	if !bytes.Equal(passphrase, confirm) {
		return errPassphraseMismatch
	}

	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return err
	}

	blob, err := certstore.EncryptPrivateKey(key, passphrase, nil)
	if err != nil {
		return err
	}

	if err := os.WriteFile(cmd.Output+".key", blob, 0o600); err != nil {
		return err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return err
	}

	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	return os.WriteFile(cmd.Output+".pub", pubPEM, 0o644)
}

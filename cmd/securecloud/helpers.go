package main

import (
	"crypto/rsa"
	"fmt"
	"net"
	"os"

	"golang.org/x/term"

	"github.com/arjunm/securecloud/client"
	"github.com/arjunm/securecloud/internal/certstore"
)

func askPassphrase(prompt string) ([]byte, error) {
	defer func() { _, _ = fmt.Fprintln(os.Stderr) }()

	_, _ = fmt.Fprint(os.Stderr, prompt)

	return term.ReadPassword(int(os.Stdin.Fd()))
}

// decryptIdentity reads the encrypted private key blob at path and decrypts it with a
// passphrase prompted on stderr.
func decryptIdentity(path string) (*rsa.PrivateKey, error) {
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	passphrase, err := askPassphrase("Enter passphrase: ")
	if err != nil {
		return nil, err
	}

	return certstore.DecryptPrivateKey(blob, passphrase)
}

// dial connects to addr, authenticates as username using the encrypted private key at
// identityPath, trusting the CA bundle at caCertPath, and returns an established
// client.Session. The caller is responsible for Logout and Close.
func dial(addr, username, identityPath, caCertPath string) (*client.Session, error) {
	priv, err := decryptIdentity(identityPath)
	if err != nil {
		return nil, err
	}

	store, err := certstore.LoadClient(caCertPath)
	if err != nil {
		return nil, err
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}

	sess, err := client.Dial(conn, username, priv, store)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return sess, nil
}

package certstore

import (
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"fmt"

	"github.com/mr-tron/base58"
)

// Fingerprint returns a human-facing, base58-encoded SHA-256 digest of pub's DER encoding,
// suitable for a user to read aloud and compare out-of-band when registering a new key (§6).
func Fingerprint(pub *rsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("certstore: marshal public key: %w", err)
	}

	digest := sha256.Sum256(der)

	return base58.Encode(digest[:]), nil
}

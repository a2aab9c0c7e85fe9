package certstore

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20"
	"golang.org/x/crypto/chacha20poly1305"
)

// Argon2idParams contains the parameters of the Argon2id passphrase-based KDF used to protect a
// client's private key at rest (§6, "encrypted_private_keys").
type Argon2idParams struct {
	Time, Memory uint32
	Parallelism  uint8
}

var defaultArgon2idParams = Argon2idParams{
	Time:        1,
	Memory:      1 * 1024 * 1024, // 1GiB
	Parallelism: 4,
}

const (
	saltSize        = 16
	paramPrefixSize = 1 + 4 + 4
)

// EncryptPrivateKey serializes priv as a PKCS#1 DER blob and encrypts it with a key derived from
// passphrase via Argon2id, returning a self-contained blob (params ‖ salt ‖ ciphertext).
func EncryptPrivateKey(priv *rsa.PrivateKey, passphrase []byte, params *Argon2idParams) ([]byte, error) {
	if params == nil {
		p := defaultArgon2idParams
		params = &p
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("certstore: generate salt: %w", err)
	}

	key, nonce := pbeKDF(passphrase, salt, params)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("certstore: init aead: %w", err)
	}

	plaintext := x509.MarshalPKCS1PrivateKey(priv)
	ciphertext := aead.Seal(nil, nonce, plaintext, nil)

	buf := bytes.NewBuffer(nil)
	_ = binary.Write(buf, binary.BigEndian, params.Time)
	_ = binary.Write(buf, binary.BigEndian, params.Memory)
	_ = binary.Write(buf, binary.BigEndian, params.Parallelism)
	buf.Write(salt)
	buf.Write(ciphertext)

	return buf.Bytes(), nil
}

// DecryptPrivateKey reverses EncryptPrivateKey, re-deriving the key from passphrase and the
// embedded Argon2id parameters and salt.
func DecryptPrivateKey(blob, passphrase []byte) (*rsa.PrivateKey, error) {
	if len(blob) < paramPrefixSize+saltSize {
		return nil, fmt.Errorf("certstore: encrypted private key too short")
	}

	var params Argon2idParams

	r := bytes.NewReader(blob)
	_ = binary.Read(r, binary.BigEndian, &params.Time)
	_ = binary.Read(r, binary.BigEndian, &params.Memory)
	_ = binary.Read(r, binary.BigEndian, &params.Parallelism)

	salt := blob[paramPrefixSize : paramPrefixSize+saltSize]
	ciphertext := blob[paramPrefixSize+saltSize:]

	key, nonce := pbeKDF(passphrase, salt, &params)

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("certstore: init aead: %w", err)
	}

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("certstore: wrong passphrase or corrupted key file: %w", err)
	}

	priv, err := x509.ParsePKCS1PrivateKey(plaintext)
	if err != nil {
		return nil, fmt.Errorf("certstore: parse decrypted private key: %w", err)
	}

	return priv, nil
}

func pbeKDF(passphrase, salt []byte, params *Argon2idParams) (key, nonce []byte) {
	kn := argon2.IDKey(passphrase, salt, params.Time, params.Memory, params.Parallelism,
		chacha20.KeySize+chacha20.NonceSize)

	return kn[:chacha20.KeySize], kn[chacha20.KeySize:]
}

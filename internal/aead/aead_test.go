package aead

import (
	"errors"
	"testing"

	"github.com/codahale/gubbins/assert"
	"github.com/google/go-cmp/cmp"
)

var errIs = cmp.Comparer(func(a, b error) bool { return errors.Is(a, b) })

func TestSealOpenRoundTrip(t *testing.T) {
	t.Parallel()

	key := make([]byte, KeySize)
	aad := []byte{0, 0, 0, 1}
	plaintext := []byte("ceci n'est pas un fichier")

	iv, ciphertext, tag, err := Seal(key, aad, plaintext)
	assert.Equal(t, "err", nil, err)
	assert.Equal(t, "ciphertext len", len(plaintext), len(ciphertext))
	assert.Equal(t, "iv len", IVSize, len(iv))
	assert.Equal(t, "tag len", TagSize, len(tag))

	got, err := Open(key, iv, aad, ciphertext, tag)
	assert.Equal(t, "err", nil, err)
	assert.Equal(t, "plaintext", plaintext, got)
}

func TestOpenWrongAAD(t *testing.T) {
	t.Parallel()

	key := make([]byte, KeySize)
	plaintext := []byte("hello")

	iv, ciphertext, tag, err := Seal(key, []byte{0, 0, 0, 1}, plaintext)
	assert.Equal(t, "err", nil, err)

	_, err = Open(key, iv, []byte{0, 0, 0, 2}, ciphertext, tag)
	assert.Equal(t, "err", ErrAuthFailure, err, errIs)
}

func TestOpenTamperedTag(t *testing.T) {
	t.Parallel()

	key := make([]byte, KeySize)
	aad := []byte{0, 0, 0, 1}

	iv, ciphertext, tag, err := Seal(key, aad, []byte("hello"))
	assert.Equal(t, "err", nil, err)

	tag[0] ^= 0xFF

	_, err = Open(key, iv, aad, ciphertext, tag)
	assert.Equal(t, "err", ErrAuthFailure, err, errIs)
}

func TestOpenTamperedCiphertext(t *testing.T) {
	t.Parallel()

	key := make([]byte, KeySize)
	aad := []byte{0, 0, 0, 1}

	iv, ciphertext, tag, err := Seal(key, aad, []byte("hello"))
	assert.Equal(t, "err", nil, err)

	ciphertext[0] ^= 0xFF

	_, err = Open(key, iv, aad, ciphertext, tag)
	assert.Equal(t, "err", ErrAuthFailure, err, errIs)
}

package wire

import (
	"encoding/binary"
	"fmt"
)

// AuthM1Message is the client's opening, cleartext handshake message: its username and the
// canonical encoding of its ephemeral Diffie-Hellman public key (§6, AuthM1).
type AuthM1Message struct {
	Username           string
	EphemeralPublicKey []byte
}

func SerializeAuthM1(m AuthM1Message) ([]byte, error) {
	name, err := PackName(m.Username)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 1+NameFieldSize+4+len(m.EphemeralPublicKey))
	buf[0] = byte(AuthRequest)
	copy(buf[1:], name)
	binary.LittleEndian.PutUint32(buf[1+NameFieldSize:], uint32(len(m.EphemeralPublicKey)))
	copy(buf[1+NameFieldSize+4:], m.EphemeralPublicKey)

	return buf, nil
}

func DeserializeAuthM1(buf []byte) (AuthM1Message, error) {
	const headerLen = 1 + NameFieldSize + 4

	if len(buf) < headerLen {
		return AuthM1Message{}, fmt.Errorf("wire: auth M1 too short")
	}

	if Code(buf[0]) != AuthRequest {
		return AuthM1Message{}, fmt.Errorf("wire: expected AUTH_REQUEST, got %s", Code(buf[0]))
	}

	name, err := UnpackName(buf[1 : 1+NameFieldSize])
	if err != nil {
		return AuthM1Message{}, err
	}

	keyLen := binary.LittleEndian.Uint32(buf[1+NameFieldSize:])
	if uint32(len(buf)-headerLen) != keyLen {
		return AuthM1Message{}, fmt.Errorf("wire: auth M1 key_len mismatch: declared %d, have %d", keyLen, len(buf)-headerLen)
	}

	key := make([]byte, keyLen)
	copy(key, buf[headerLen:])

	return AuthM1Message{Username: name, EphemeralPublicKey: key}, nil
}

// AuthM3Message is the server's response: its ephemeral public key in cleartext, followed by an
// AEAD envelope carrying its signature over g^a‖g^b, followed by its certificate (§6, AuthM3).
type AuthM3Message struct {
	EphemeralPublicKey []byte
	IV                 []byte
	AAD                []byte
	Tag                []byte
	Ciphertext         []byte
	Certificate        []byte
}

func SerializeAuthM3(m AuthM3Message) []byte {
	keyLen := len(m.EphemeralPublicKey)
	ctLen := len(m.Ciphertext)
	certLen := len(m.Certificate)

	buf := make([]byte, 4+keyLen+len(m.IV)+len(m.AAD)+len(m.Tag)+4+ctLen+4+certLen)

	off := 0
	binary.LittleEndian.PutUint32(buf[off:], uint32(keyLen))
	off += 4
	copy(buf[off:], m.EphemeralPublicKey)
	off += keyLen
	copy(buf[off:], m.IV)
	off += len(m.IV)
	copy(buf[off:], m.AAD)
	off += len(m.AAD)
	copy(buf[off:], m.Tag)
	off += len(m.Tag)
	binary.LittleEndian.PutUint32(buf[off:], uint32(ctLen))
	off += 4
	copy(buf[off:], m.Ciphertext)
	off += ctLen
	binary.LittleEndian.PutUint32(buf[off:], uint32(certLen))
	off += 4
	copy(buf[off:], m.Certificate)

	return buf
}

// DeserializeAuthM3 parses buf given the fixed envelope field sizes (ivSize, aadSize, tagSize).
// The ciphertext is length-prefixed since its length — the signer's RSA signature length —
// varies with the server's key size, which the client does not know in advance.
func DeserializeAuthM3(buf []byte, ivSize, aadSize, tagSize int) (AuthM3Message, error) {
	if len(buf) < 4 {
		return AuthM3Message{}, fmt.Errorf("wire: auth M3 too short")
	}

	off := 0
	keyLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	if len(buf) < off+keyLen+ivSize+aadSize+tagSize+4 {
		return AuthM3Message{}, fmt.Errorf("wire: auth M3 truncated")
	}

	key := append([]byte(nil), buf[off:off+keyLen]...)
	off += keyLen

	iv := append([]byte(nil), buf[off:off+ivSize]...)
	off += ivSize

	aad := append([]byte(nil), buf[off:off+aadSize]...)
	off += aadSize

	tag := append([]byte(nil), buf[off:off+tagSize]...)
	off += tagSize

	ctLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	if len(buf) < off+ctLen+4 {
		return AuthM3Message{}, fmt.Errorf("wire: auth M3 truncated ciphertext")
	}

	ciphertext := append([]byte(nil), buf[off:off+ctLen]...)
	off += ctLen

	certLen := int(binary.LittleEndian.Uint32(buf[off:]))
	off += 4

	if len(buf) != off+certLen {
		return AuthM3Message{}, fmt.Errorf("wire: auth M3 cert_len mismatch")
	}

	cert := append([]byte(nil), buf[off:]...)

	return AuthM3Message{
		EphemeralPublicKey: key,
		IV:                 iv,
		AAD:                aad,
		Tag:                tag,
		Ciphertext:         ciphertext,
		Certificate:        cert,
	}, nil
}

// AuthM4Message is the client's confirmation: an AEAD envelope carrying its signature over
// g^a‖g^b (§6, AuthM4).
type AuthM4Message struct {
	IV         []byte
	AAD        []byte
	Tag        []byte
	Ciphertext []byte
}

func SerializeAuthM4(m AuthM4Message) []byte {
	buf := make([]byte, 0, len(m.IV)+len(m.AAD)+len(m.Tag)+len(m.Ciphertext))
	buf = append(buf, m.IV...)
	buf = append(buf, m.AAD...)
	buf = append(buf, m.Tag...)
	buf = append(buf, m.Ciphertext...)

	return buf
}

func DeserializeAuthM4(buf []byte, ivSize, aadSize, tagSize int) (AuthM4Message, error) {
	headerLen := ivSize + aadSize + tagSize
	if len(buf) < headerLen {
		return AuthM4Message{}, fmt.Errorf("wire: auth M4 too short")
	}

	return AuthM4Message{
		IV:         append([]byte(nil), buf[:ivSize]...),
		AAD:        append([]byte(nil), buf[ivSize:ivSize+aadSize]...),
		Tag:        append([]byte(nil), buf[ivSize+aadSize:headerLen]...),
		Ciphertext: append([]byte(nil), buf[headerLen:]...),
	}, nil
}

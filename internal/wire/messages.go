// Package wire implements the bijective mapping between typed protocol messages and the
// fixed-layout byte buffers that travel on the connection (§4.2, §6).
//
// Every Serialize produces a buffer whose length is fixed by the variant and its parameters. Each
// Deserialize checks the buffer length (exactly, or a minimum of one code byte for the
// variable-length list response and chunk) and, for variants that carry a single possible code,
// that the leading code byte matches; name fields are checked with IsValidName. SimpleMessage,
// DownloadAck and Chunk can carry several codes, so their code is returned unchecked and the
// caller's operation state machine decides whether it was expected in the current state.
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
)

// MaxPacketSize is the fixed size in bytes of a serialized SimpleMessage, chosen so the wire
// length of a post-handshake record never leaks which trivial-payload variant was sent.
const MaxPacketSize = 71

// ChunkSize is the size in bytes of a download/upload chunk, other than possibly the last.
const ChunkSize = 1_000_000

// MaxFileSize is the largest file size this protocol will transfer.
const MaxFileSize = 4_000_000_000

// SimpleMessage is a fixed MaxPacketSize-byte record carrying one code byte plus random padding,
// used wherever the payload is semantically trivial but must not leak its own existence via
// length.
type SimpleMessage struct {
	Code Code
}

func SerializeSimpleMessage(m SimpleMessage) ([]byte, error) {
	buf := make([]byte, MaxPacketSize)
	buf[0] = byte(m.Code)

	if _, err := rand.Read(buf[1:]); err != nil {
		return nil, fmt.Errorf("wire: pad simple message: %w", err)
	}

	return buf, nil
}

// padToMaxPacketSize appends cryptographically random padding to buf so every top-level
// client-initiated operation request is the same MaxPacketSize length on the wire, regardless of
// which operation it is. The server's per-connection dispatch loop relies on this: it always reads
// exactly MaxPacketSize plaintext bytes and decides the operation from the leading code byte, not
// from the envelope's length, so every message that can arrive there must already be this size.
func padToMaxPacketSize(buf []byte) ([]byte, error) {
	if len(buf) > MaxPacketSize {
		return nil, fmt.Errorf("wire: message of %d bytes exceeds MaxPacketSize %d", len(buf), MaxPacketSize)
	}

	padded := make([]byte, MaxPacketSize)
	copy(padded, buf)

	if _, err := rand.Read(padded[len(buf):]); err != nil {
		return nil, fmt.Errorf("wire: pad message: %w", err)
	}

	return padded, nil
}

func DeserializeSimpleMessage(buf []byte) (SimpleMessage, error) {
	if len(buf) != MaxPacketSize {
		return SimpleMessage{}, fmt.Errorf("wire: simple message must be %d bytes, got %d", MaxPacketSize, len(buf))
	}

	return SimpleMessage{Code: Code(buf[0])}, nil
}

// ListAckMessage is S's reply to LIST_REQUEST: the total byte length of the comma-separated
// filename list that will follow in a ListResponseMessage, or 0 if the directory is empty.
type ListAckMessage struct {
	ListSize uint32
}

func SerializeListAck(m ListAckMessage) []byte {
	buf := make([]byte, 5)
	buf[0] = byte(ListAck)
	binary.LittleEndian.PutUint32(buf[1:], m.ListSize)

	return buf
}

func DeserializeListAck(buf []byte) (ListAckMessage, error) {
	if len(buf) != 5 {
		return ListAckMessage{}, fmt.Errorf("wire: list ack must be 5 bytes, got %d", len(buf))
	}

	if Code(buf[0]) != ListAck {
		return ListAckMessage{}, fmt.Errorf("wire: expected LIST_ACK, got %s", Code(buf[0]))
	}

	return ListAckMessage{ListSize: binary.LittleEndian.Uint32(buf[1:])}, nil
}

// ListResponseMessage carries the comma-separated file list named in a preceding ListAckMessage.
type ListResponseMessage struct {
	FileList []byte
}

func SerializeListResponse(m ListResponseMessage) []byte {
	buf := make([]byte, 1+len(m.FileList))
	buf[0] = byte(ListResponse)
	copy(buf[1:], m.FileList)

	return buf
}

func DeserializeListResponse(buf []byte) (ListResponseMessage, error) {
	if len(buf) < 1 {
		return ListResponseMessage{}, fmt.Errorf("wire: list response too short")
	}

	if Code(buf[0]) != ListResponse {
		return ListResponseMessage{}, fmt.Errorf("wire: expected LIST_RESPONSE, got %s", Code(buf[0]))
	}

	return ListResponseMessage{FileList: buf[1:]}, nil
}

// DownloadRequestMessage is C's request to download a file.
type DownloadRequestMessage struct {
	Filename string
}

func SerializeDownloadRequest(m DownloadRequestMessage) ([]byte, error) {
	name, err := PackName(m.Filename)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 1+NameFieldSize)
	buf[0] = byte(DownloadRequest)
	copy(buf[1:], name)

	return padToMaxPacketSize(buf)
}

func DeserializeDownloadRequest(buf []byte) (DownloadRequestMessage, error) {
	if len(buf) != MaxPacketSize {
		return DownloadRequestMessage{}, fmt.Errorf("wire: download request must be %d bytes", MaxPacketSize)
	}

	if Code(buf[0]) != DownloadRequest {
		return DownloadRequestMessage{}, fmt.Errorf("wire: expected DOWNLOAD_REQUEST, got %s", Code(buf[0]))
	}

	name, err := UnpackName(buf[1 : 1+NameFieldSize])
	if err != nil {
		return DownloadRequestMessage{}, err
	}

	return DownloadRequestMessage{Filename: name}, nil
}

// DownloadAckMessage is S's reply announcing the file size, or FILE_NOT_FOUND.
type DownloadAckMessage struct {
	Code     Code
	FileSize uint64
}

func SerializeDownloadAck(m DownloadAckMessage) []byte {
	buf := make([]byte, 9)
	buf[0] = byte(m.Code)
	binary.LittleEndian.PutUint64(buf[1:], m.FileSize)

	return buf
}

func DeserializeDownloadAck(buf []byte) (DownloadAckMessage, error) {
	if len(buf) != 9 {
		return DownloadAckMessage{}, fmt.Errorf("wire: download ack must be 9 bytes, got %d", len(buf))
	}

	return DownloadAckMessage{Code: Code(buf[0]), FileSize: binary.LittleEndian.Uint64(buf[1:])}, nil
}

// ChunkMessage carries a slice of file data, used for both DownloadMi and UploadMi.
type ChunkMessage struct {
	Code Code
	Data []byte
}

func SerializeChunk(m ChunkMessage) []byte {
	buf := make([]byte, 1+len(m.Data))
	buf[0] = byte(m.Code)
	copy(buf[1:], m.Data)

	return buf
}

func DeserializeChunk(buf []byte) (ChunkMessage, error) {
	if len(buf) < 1 {
		return ChunkMessage{}, fmt.Errorf("wire: chunk message too short")
	}

	return ChunkMessage{Code: Code(buf[0]), Data: buf[1:]}, nil
}

// UploadRequestMessage is C's declaration of an upload's target name and total size.
type UploadRequestMessage struct {
	Filename string
	FileSize uint64
}

func SerializeUploadRequest(m UploadRequestMessage) ([]byte, error) {
	name, err := PackName(m.Filename)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 1+NameFieldSize+8)
	buf[0] = byte(UploadRequest)
	copy(buf[1:], name)
	binary.LittleEndian.PutUint64(buf[1+NameFieldSize:], m.FileSize)

	return padToMaxPacketSize(buf)
}

func DeserializeUploadRequest(buf []byte) (UploadRequestMessage, error) {
	if len(buf) != MaxPacketSize {
		return UploadRequestMessage{}, fmt.Errorf("wire: upload request must be %d bytes, got %d", MaxPacketSize, len(buf))
	}

	if Code(buf[0]) != UploadRequest {
		return UploadRequestMessage{}, fmt.Errorf("wire: expected UPLOAD_REQUEST, got %s", Code(buf[0]))
	}

	name, err := UnpackName(buf[1 : 1+NameFieldSize])
	if err != nil {
		return UploadRequestMessage{}, err
	}

	return UploadRequestMessage{
		Filename: name,
		FileSize: binary.LittleEndian.Uint64(buf[1+NameFieldSize:]),
	}, nil
}

// RenameMessage is C's request to rename oldName to newName.
type RenameMessage struct {
	OldName string
	NewName string
}

func SerializeRename(m RenameMessage) ([]byte, error) {
	oldName, err := PackName(m.OldName)
	if err != nil {
		return nil, err
	}

	newName, err := PackName(m.NewName)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 1+2*NameFieldSize)
	buf[0] = byte(RenameRequest)
	copy(buf[1:], oldName)
	copy(buf[1+NameFieldSize:], newName)

	return buf, nil
}

func DeserializeRename(buf []byte) (RenameMessage, error) {
	const want = 1 + 2*NameFieldSize
	if len(buf) != want {
		return RenameMessage{}, fmt.Errorf("wire: rename message must be %d bytes, got %d", want, len(buf))
	}

	if Code(buf[0]) != RenameRequest {
		return RenameMessage{}, fmt.Errorf("wire: expected RENAME_REQUEST, got %s", Code(buf[0]))
	}

	oldName, err := UnpackName(buf[1 : 1+NameFieldSize])
	if err != nil {
		return RenameMessage{}, err
	}

	newName, err := UnpackName(buf[1+NameFieldSize:])
	if err != nil {
		return RenameMessage{}, err
	}

	return RenameMessage{OldName: oldName, NewName: newName}, nil
}

// DeleteMessage is C's request to delete filename.
type DeleteMessage struct {
	Filename string
}

func SerializeDelete(m DeleteMessage) ([]byte, error) {
	name, err := PackName(m.Filename)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 1+NameFieldSize)
	buf[0] = byte(DeleteRequest)
	copy(buf[1:], name)

	return padToMaxPacketSize(buf)
}

func DeserializeDelete(buf []byte) (DeleteMessage, error) {
	if len(buf) != MaxPacketSize {
		return DeleteMessage{}, fmt.Errorf("wire: delete message must be %d bytes", MaxPacketSize)
	}

	if Code(buf[0]) != DeleteRequest {
		return DeleteMessage{}, fmt.Errorf("wire: expected DELETE_REQUEST, got %s", Code(buf[0]))
	}

	name, err := UnpackName(buf[1 : 1+NameFieldSize])
	if err != nil {
		return DeleteMessage{}, err
	}

	return DeleteMessage{Filename: name}, nil
}

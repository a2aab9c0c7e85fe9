package server

import (
	"bytes"
	"io"
	"log"
	"net"
	"testing"

	"github.com/codahale/gubbins/assert"

	"github.com/arjunm/securecloud/internal/record"
	"github.com/arjunm/securecloud/internal/session"
	"github.com/arjunm/securecloud/internal/wire"
)

func newTestListener(t *testing.T) *Listener {
	t.Helper()

	return &Listener{log: log.New(io.Discard, "", 0)}
}

func pairedSessions(t *testing.T) (*session.Session, *session.Session) {
	t.Helper()

	key := session.Key{}
	for i := range key {
		key[i] = byte(i + 1)
	}

	server, err := session.New("alice", key, nil)
	assert.Equal(t, "server err", nil, err)

	client, err := session.New("alice", key, nil)
	assert.Equal(t, "client err", nil, err)

	return server, client
}

func TestHandleListEmptyDirectory(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)
	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	done := make(chan error, 1)
	go func() { done <- l.handleList(serverConn, serverSess, store) }()

	ackBuf, _, err := record.OpenFrom(clientConn, clientSess, 5)
	assert.Equal(t, "open err", nil, err)

	ack, err := wire.DeserializeListAck(ackBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "list size", uint32(0), ack.ListSize)
	assert.Equal(t, "handler err", nil, <-done)
}

func TestHandleListNonEmptyDirectory(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)

	for _, n := range []string{"b.txt", "a.txt"} {
		w, err := store.Create(n)
		assert.Equal(t, "create err", nil, err)
		assert.Equal(t, "close err", nil, w.Close())
	}

	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	done := make(chan error, 1)
	go func() { done <- l.handleList(serverConn, serverSess, store) }()

	ackBuf, _, err := record.OpenFrom(clientConn, clientSess, 5)
	assert.Equal(t, "open err", nil, err)

	ack, err := wire.DeserializeListAck(ackBuf)
	assert.Equal(t, "parse err", nil, err)

	respBuf, _, err := record.OpenFrom(clientConn, clientSess, 1+int(ack.ListSize))
	assert.Equal(t, "open err", nil, err)
	assert.Equal(t, "list size matches payload", ack.ListSize, uint32(len(respBuf)-1))

	resp, err := wire.DeserializeListResponse(respBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "file list", "a.txt,b.txt,", string(resp.FileList))
	assert.Equal(t, "handler err", nil, <-done)
}

func TestHandleDownloadFileNotFound(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)
	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	req, err := wire.SerializeDownloadRequest(wire.DownloadRequestMessage{Filename: "missing.txt"})
	assert.Equal(t, "serialize err", nil, err)

	done := make(chan error, 1)
	go func() { done <- l.handleDownload(serverConn, serverSess, store, req) }()

	ackBuf, _, err := record.OpenFrom(clientConn, clientSess, 9)
	assert.Equal(t, "open err", nil, err)

	ack, err := wire.DeserializeDownloadAck(ackBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "code", wire.FileNotFound, ack.Code)
	assert.Equal(t, "handler err", nil, <-done)
}

func TestHandleDownloadRoundTrip(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)

	content := bytes.Repeat([]byte("q"), 250)

	w, err := store.Create("quarterly.txt")
	assert.Equal(t, "create err", nil, err)
	_, err = w.Write(content)
	assert.Equal(t, "write err", nil, err)
	assert.Equal(t, "close err", nil, w.Close())

	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	req, err := wire.SerializeDownloadRequest(wire.DownloadRequestMessage{Filename: "quarterly.txt"})
	assert.Equal(t, "serialize err", nil, err)

	done := make(chan error, 1)
	go func() { done <- l.handleDownload(serverConn, serverSess, store, req) }()

	ackBuf, _, err := record.OpenFrom(clientConn, clientSess, 9)
	assert.Equal(t, "open err", nil, err)

	ack, err := wire.DeserializeDownloadAck(ackBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "code", wire.DownloadAck, ack.Code)
	assert.Equal(t, "size", uint64(len(content)), ack.FileSize)

	var got []byte
	for uint64(len(got)) < ack.FileSize {
		remainingLen := ack.FileSize - uint64(len(got))
		chunkLen := wire.ChunkSize
		if remainingLen < uint64(chunkLen) {
			chunkLen = int(remainingLen)
		}

		chunkBuf, _, err := record.OpenFrom(clientConn, clientSess, 1+chunkLen)
		assert.Equal(t, "open err", nil, err)

		chunk, err := wire.DeserializeChunk(chunkBuf)
		assert.Equal(t, "parse err", nil, err)
		assert.Equal(t, "chunk code", wire.DownloadChunk, chunk.Code)

		got = append(got, chunk.Data...)
	}

	assert.Equal(t, "content", content, got)
	assert.Equal(t, "handler err", nil, <-done)
}

func TestHandleUploadRoundTrip(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)
	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	content := bytes.Repeat([]byte("u"), 300)

	req, err := wire.SerializeUploadRequest(wire.UploadRequestMessage{Filename: "upload.txt", FileSize: uint64(len(content))})
	assert.Equal(t, "serialize err", nil, err)

	done := make(chan error, 1)
	go func() { done <- l.handleUpload(serverConn, serverSess, store, req) }()

	ackBuf, _, err := record.OpenFrom(clientConn, clientSess, wire.MaxPacketSize)
	assert.Equal(t, "open err", nil, err)

	ack, err := wire.DeserializeSimpleMessage(ackBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "ack code", wire.ACK, ack.Code)

	chunk := wire.SerializeChunk(wire.ChunkMessage{Code: wire.UploadChunk, Data: content})
	_, err = record.SealTo(clientConn, clientSess, chunk)
	assert.Equal(t, "seal err", nil, err)

	doneBuf, _, err := record.OpenFrom(clientConn, clientSess, wire.MaxPacketSize)
	assert.Equal(t, "open err", nil, err)

	finalAck, err := wire.DeserializeSimpleMessage(doneBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "final code", wire.ACK, finalAck.Code)
	assert.Equal(t, "handler err", nil, <-done)

	got, err := store.Open("upload.txt")
	assert.Equal(t, "open stored file err", nil, err)

	defer func() { _ = got.Close() }()

	gotContent, err := io.ReadAll(got)
	assert.Equal(t, "read err", nil, err)
	assert.Equal(t, "stored content", content, gotContent)
}

func TestHandleUploadAlreadyExists(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)

	w, err := store.Create("dup.txt")
	assert.Equal(t, "create err", nil, err)
	assert.Equal(t, "close err", nil, w.Close())

	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	req, err := wire.SerializeUploadRequest(wire.UploadRequestMessage{Filename: "dup.txt", FileSize: 10})
	assert.Equal(t, "serialize err", nil, err)

	done := make(chan error, 1)
	go func() { done <- l.handleUpload(serverConn, serverSess, store, req) }()

	ackBuf, _, err := record.OpenFrom(clientConn, clientSess, wire.MaxPacketSize)
	assert.Equal(t, "open err", nil, err)

	ack, err := wire.DeserializeSimpleMessage(ackBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "ack code", wire.NACK, ack.Code)
	assert.Equal(t, "handler err", nil, <-done)
}

func TestHandleUploadCleansUpOnTruncatedStream(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)
	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	req, err := wire.SerializeUploadRequest(wire.UploadRequestMessage{Filename: "abandoned.txt", FileSize: 1000})
	assert.Equal(t, "serialize err", nil, err)

	done := make(chan error, 1)
	go func() { done <- l.handleUpload(serverConn, serverSess, store, req) }()

	ackBuf, _, err := record.OpenFrom(clientConn, clientSess, wire.MaxPacketSize)
	assert.Equal(t, "open err", nil, err)

	ack, err := wire.DeserializeSimpleMessage(ackBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "ack code", wire.ACK, ack.Code)

	// The client vanishes mid-upload instead of sending the declared 1000 bytes.
	assert.Equal(t, "close err", nil, clientConn.Close())

	if err := <-done; err == nil {
		t.Fatal("expected handleUpload to report the truncated stream as an error")
	}

	assert.Equal(t, "partial file removed", false, store.Exists("abandoned.txt"))
}

func TestHandleRenameNotFound(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)
	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	req, err := wire.SerializeRename(wire.RenameMessage{OldName: "missing.txt", NewName: "new.txt"})
	assert.Equal(t, "serialize err", nil, err)

	done := make(chan error, 1)
	go func() { done <- l.handleRename(serverConn, serverSess, store, req) }()

	respBuf, _, err := record.OpenFrom(clientConn, clientSess, wire.MaxPacketSize)
	assert.Equal(t, "open err", nil, err)

	resp, err := wire.DeserializeSimpleMessage(respBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "code", wire.FileNotFound, resp.Code)
	assert.Equal(t, "handler err", nil, <-done)
}

func TestHandleRenameSucceeds(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)

	w, err := store.Create("old.txt")
	assert.Equal(t, "create err", nil, err)
	assert.Equal(t, "close err", nil, w.Close())

	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	req, err := wire.SerializeRename(wire.RenameMessage{OldName: "old.txt", NewName: "new.txt"})
	assert.Equal(t, "serialize err", nil, err)

	done := make(chan error, 1)
	go func() { done <- l.handleRename(serverConn, serverSess, store, req) }()

	respBuf, _, err := record.OpenFrom(clientConn, clientSess, wire.MaxPacketSize)
	assert.Equal(t, "open err", nil, err)

	resp, err := wire.DeserializeSimpleMessage(respBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "code", wire.ACK, resp.Code)
	assert.Equal(t, "handler err", nil, <-done)
	assert.Equal(t, "renamed", true, store.Exists("new.txt"))
}

func TestHandleDeleteDeclinedConfirmation(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)

	w, err := store.Create("secret.txt")
	assert.Equal(t, "create err", nil, err)
	assert.Equal(t, "close err", nil, w.Close())

	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	req, err := wire.SerializeDelete(wire.DeleteMessage{Filename: "secret.txt"})
	assert.Equal(t, "serialize err", nil, err)

	done := make(chan error, 1)
	go func() { done <- l.handleDelete(serverConn, serverSess, store, req) }()

	askBuf, _, err := record.OpenFrom(clientConn, clientSess, wire.MaxPacketSize)
	assert.Equal(t, "open err", nil, err)

	ask, err := wire.DeserializeSimpleMessage(askBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "ask code", wire.DeleteAsk, ask.Code)

	decline, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.NoDeleteConfirm})
	assert.Equal(t, "serialize err", nil, err)
	_, err = record.SealTo(clientConn, clientSess, decline)
	assert.Equal(t, "seal err", nil, err)

	assert.Equal(t, "handler err", nil, <-done)
	assert.Equal(t, "still present", true, store.Exists("secret.txt"))
}

func TestHandleDeleteConfirmedSuccess(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)

	w, err := store.Create("secret.txt")
	assert.Equal(t, "create err", nil, err)
	assert.Equal(t, "close err", nil, w.Close())

	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	req, err := wire.SerializeDelete(wire.DeleteMessage{Filename: "secret.txt"})
	assert.Equal(t, "serialize err", nil, err)

	done := make(chan error, 1)
	go func() { done <- l.handleDelete(serverConn, serverSess, store, req) }()

	askBuf, _, err := record.OpenFrom(clientConn, clientSess, wire.MaxPacketSize)
	assert.Equal(t, "open err", nil, err)

	ask, err := wire.DeserializeSimpleMessage(askBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "ask code", wire.DeleteAsk, ask.Code)

	confirm, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.DeleteConfirm})
	assert.Equal(t, "serialize err", nil, err)
	_, err = record.SealTo(clientConn, clientSess, confirm)
	assert.Equal(t, "seal err", nil, err)

	resultBuf, _, err := record.OpenFrom(clientConn, clientSess, wire.MaxPacketSize)
	assert.Equal(t, "open err", nil, err)

	result, err := wire.DeserializeSimpleMessage(resultBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "result code", wire.ACK, result.Code)
	assert.Equal(t, "handler err", nil, <-done)
	assert.Equal(t, "removed", false, store.Exists("secret.txt"))
}

func TestHandleLogout(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	done := make(chan error, 1)
	go func() { done <- l.handleLogout(serverConn, serverSess) }()

	respBuf, _, err := record.OpenFrom(clientConn, clientSess, wire.MaxPacketSize)
	assert.Equal(t, "open err", nil, err)

	resp, err := wire.DeserializeSimpleMessage(respBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "code", wire.ACK, resp.Code)
	assert.Equal(t, "handler err", nil, <-done)
}

func TestDispatchRoutesByLeadingCode(t *testing.T) {
	t.Parallel()

	l := newTestListener(t)
	store := newTestStore(t)
	serverConn, clientConn := net.Pipe()
	serverSess, clientSess := pairedSessions(t)

	req, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.ListRequest})
	assert.Equal(t, "serialize err", nil, err)

	done := make(chan struct {
		loggedOut bool
		err       error
	}, 1)

	go func() {
		loggedOut, err := l.dispatch(serverConn, serverSess, store, req)
		done <- struct {
			loggedOut bool
			err       error
		}{loggedOut, err}
	}()

	ackBuf, _, err := record.OpenFrom(clientConn, clientSess, 5)
	assert.Equal(t, "open err", nil, err)

	ack, err := wire.DeserializeListAck(ackBuf)
	assert.Equal(t, "parse err", nil, err)
	assert.Equal(t, "list size", uint32(0), ack.ListSize)

	result := <-done
	assert.Equal(t, "handler err", nil, result.err)
	assert.Equal(t, "logged out", false, result.loggedOut)
}

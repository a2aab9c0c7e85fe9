// Package client drives the six post-handshake operation state machines (§4.5) from the
// initiating side: list, download, upload, rename, delete, and logout. Every method blocks the
// calling goroutine until its exchange completes or a session-fatal error occurs, mirroring the
// source's single-threaded client model (§5).
package client

import (
	"crypto/rsa"
	"fmt"
	"io"
	"net"
	"strings"

	"golang.org/x/xerrors"

	securecloud "github.com/arjunm/securecloud"
	"github.com/arjunm/securecloud/internal/certstore"
	"github.com/arjunm/securecloud/internal/handshake"
	"github.com/arjunm/securecloud/internal/record"
	"github.com/arjunm/securecloud/internal/session"
	"github.com/arjunm/securecloud/internal/wire"
)

// Session is an authenticated connection to a securecloud server, ready to carry operation
// requests. It is not safe for concurrent use by multiple goroutines, matching the protocol's
// single shared counter advanced by whichever side sends next.
type Session struct {
	conn net.Conn
	sess *session.Session
}

// Dial completes the client side of the handshake over conn (already connected to a server) and
// returns a Session ready to carry operations. On any failure conn is left open; the caller is
// responsible for closing it.
func Dial(conn net.Conn, username string, priv *rsa.PrivateKey, store *certstore.Store) (*Session, error) {
	sess, err := handshake.RunClient(conn, username, priv, store)
	if err != nil {
		return nil, err
	}

	return &Session{conn: conn, sess: sess}, nil
}

// Close zeroizes the session key and closes the underlying connection. It does not perform a
// Logout exchange; call Logout first for a graceful shutdown.
func (s *Session) Close() error {
	s.sess.Close()
	return s.conn.Close()
}

func (s *Session) send(plaintext []byte) error {
	result, err := record.SealTo(s.conn, s.sess, plaintext)
	if err != nil {
		return err
	}

	if result == session.AdvanceRekeyNeeded {
		return errRekeyNeeded
	}

	return nil
}

func (s *Session) recv(expectedLen int) ([]byte, error) {
	plaintext, result, err := record.OpenFrom(s.conn, s.sess, expectedLen)
	if err != nil {
		return nil, err
	}

	if result == session.AdvanceRekeyNeeded {
		return plaintext, errRekeyNeeded
	}

	return plaintext, nil
}

// errRekeyNeeded is returned alongside a successful send/recv when the shared counter has just
// reached its maximum (§3); the session remains usable for this call's result but the caller
// must re-run the handshake before issuing another operation.
var errRekeyNeeded = xerrors.New("client: session counter exhausted, rekey required")

// List returns the names of files in the user's directory, or nil if it's empty (§4.5 "List").
func (s *Session) List() ([]string, error) {
	req, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.ListRequest})
	if err != nil {
		return nil, xerrors.Errorf("client: serialize list request: %w", err)
	}

	if err := s.send(req); err != nil {
		return nil, err
	}

	ackBuf, err := s.recv(5)
	if err != nil {
		return nil, err
	}

	ack, err := wire.DeserializeListAck(ackBuf)
	if err != nil {
		return nil, xerrors.Errorf("client: parse list ack: %w", err)
	}

	if ack.ListSize == 0 {
		return nil, nil
	}

	respBuf, err := s.recv(1 + int(ack.ListSize))
	if err != nil {
		return nil, err
	}

	resp, err := wire.DeserializeListResponse(respBuf)
	if err != nil {
		return nil, xerrors.Errorf("client: parse list response: %w", err)
	}

	names := strings.Split(strings.TrimRight(string(resp.FileList), ","), ",")

	result := make([]string, 0, len(names))
	for _, n := range names {
		if n != "" {
			result = append(result, n)
		}
	}

	return result, nil
}

// Download requests filename and streams its contents to dst. It returns securecloud.ErrFileNotFound
// if the server reports the file absent (§4.5 "Download").
func (s *Session) Download(filename string, dst io.Writer) error {
	reqBuf, err := wire.SerializeDownloadRequest(wire.DownloadRequestMessage{Filename: filename})
	if err != nil {
		return xerrors.Errorf("client: serialize download request: %w", err)
	}

	if err := s.send(reqBuf); err != nil {
		return err
	}

	ackBuf, err := s.recv(9)
	if err != nil {
		return err
	}

	ack, err := wire.DeserializeDownloadAck(ackBuf)
	if err != nil {
		return xerrors.Errorf("client: parse download ack: %w", err)
	}

	if ack.Code == wire.FileNotFound {
		return securecloud.ErrFileNotFound
	}

	if ack.Code != wire.DownloadAck {
		return securecloud.ErrWrongMsgCode
	}

	remaining := ack.FileSize

	for remaining > 0 {
		chunkLen := wire.ChunkSize
		if remaining < uint64(chunkLen) {
			chunkLen = int(remaining)
		}

		chunkBuf, err := s.recv(1 + chunkLen)
		if err != nil {
			return err
		}

		chunk, err := wire.DeserializeChunk(chunkBuf)
		if err != nil {
			return xerrors.Errorf("client: parse download chunk: %w", err)
		}

		if chunk.Code != wire.DownloadChunk {
			return securecloud.ErrWrongMsgCode
		}

		if _, err := dst.Write(chunk.Data); err != nil {
			return fmt.Errorf("client: write downloaded chunk: %w", err)
		}

		remaining -= uint64(chunkLen)
	}

	return nil
}

// Upload declares filename with the given total size and streams its contents from src. It
// returns securecloud.ErrFileAlreadyExists if the server already holds a file by that name, and
// securecloud.ErrWrongFileSize if size exceeds wire.MaxFileSize (§4.5 "Upload").
func (s *Session) Upload(filename string, size uint64, src io.Reader) error {
	if size > wire.MaxFileSize {
		return securecloud.ErrWrongFileSize
	}

	reqBuf, err := wire.SerializeUploadRequest(wire.UploadRequestMessage{Filename: filename, FileSize: size})
	if err != nil {
		return xerrors.Errorf("client: serialize upload request: %w", err)
	}

	if err := s.send(reqBuf); err != nil {
		return err
	}

	ackBuf, err := s.recv(wire.MaxPacketSize)
	if err != nil {
		return err
	}

	ack, err := wire.DeserializeSimpleMessage(ackBuf)
	if err != nil {
		return xerrors.Errorf("client: parse upload ack: %w", err)
	}

	if ack.Code == wire.NACK {
		return securecloud.ErrFileAlreadyExists
	}

	if ack.Code != wire.ACK {
		return securecloud.ErrWrongMsgCode
	}

	remaining := size
	buf := make([]byte, wire.ChunkSize)

	for remaining > 0 {
		chunkLen := wire.ChunkSize
		if remaining < uint64(chunkLen) {
			chunkLen = int(remaining)
		}

		if _, err := io.ReadFull(src, buf[:chunkLen]); err != nil {
			return fmt.Errorf("client: read chunk to upload: %w", err)
		}

		chunkBuf := wire.SerializeChunk(wire.ChunkMessage{Code: wire.UploadChunk, Data: buf[:chunkLen]})

		if err := s.send(chunkBuf); err != nil {
			return err
		}

		remaining -= uint64(chunkLen)
	}

	doneBuf, err := s.recv(wire.MaxPacketSize)
	if err != nil {
		return err
	}

	done, err := wire.DeserializeSimpleMessage(doneBuf)
	if err != nil {
		return xerrors.Errorf("client: parse upload completion: %w", err)
	}

	if done.Code != wire.ACK {
		return securecloud.ErrWriteChunkFailure
	}

	return nil
}

// Rename asks the server to rename oldName to newName (§4.5 "Rename").
func (s *Session) Rename(oldName, newName string) error {
	reqBuf, err := wire.SerializeRename(wire.RenameMessage{OldName: oldName, NewName: newName})
	if err != nil {
		return xerrors.Errorf("client: serialize rename request: %w", err)
	}

	if err := s.send(reqBuf); err != nil {
		return err
	}

	respBuf, err := s.recv(wire.MaxPacketSize)
	if err != nil {
		return err
	}

	resp, err := wire.DeserializeSimpleMessage(respBuf)
	if err != nil {
		return xerrors.Errorf("client: parse rename response: %w", err)
	}

	switch resp.Code {
	case wire.ACK:
		return nil
	case wire.FileNotFound:
		return securecloud.ErrFileNotFound
	case wire.FileAlreadyExists:
		return securecloud.ErrFileAlreadyExists
	default:
		return securecloud.ErrRenameFailure
	}
}

// Delete asks the server to delete filename, driving the three-leg confirmation exchange: the
// server asks for confirmation, the client confirms (or declines), and the server reports the
// outcome (§4.5 "Delete"). Declining returns securecloud.ErrNoDeleteConfirm without modifying the
// server's filesystem.
func (s *Session) Delete(filename string, confirm bool) error {
	reqBuf, err := wire.SerializeDelete(wire.DeleteMessage{Filename: filename})
	if err != nil {
		return xerrors.Errorf("client: serialize delete request: %w", err)
	}

	if err := s.send(reqBuf); err != nil {
		return err
	}

	askBuf, err := s.recv(wire.MaxPacketSize)
	if err != nil {
		return err
	}

	ask, err := wire.DeserializeSimpleMessage(askBuf)
	if err != nil {
		return xerrors.Errorf("client: parse delete ask: %w", err)
	}

	if ask.Code == wire.FilenameNotFound {
		return securecloud.ErrFileNotFound
	}

	if ask.Code != wire.DeleteAsk {
		return securecloud.ErrWrongMsgCode
	}

	confirmCode := wire.NoDeleteConfirm
	if confirm {
		confirmCode = wire.DeleteConfirm
	}

	confirmBuf, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: confirmCode})
	if err != nil {
		return xerrors.Errorf("client: serialize delete confirmation: %w", err)
	}

	if err := s.send(confirmBuf); err != nil {
		return err
	}

	if !confirm {
		return securecloud.ErrNoDeleteConfirm
	}

	resultBuf, err := s.recv(wire.MaxPacketSize)
	if err != nil {
		return err
	}

	result, err := wire.DeserializeSimpleMessage(resultBuf)
	if err != nil {
		return xerrors.Errorf("client: parse delete result: %w", err)
	}

	switch result.Code {
	case wire.ACK:
		return nil
	case wire.FilenameNotFound:
		return securecloud.ErrFileNotFound
	default:
		return securecloud.ErrDeleteFileError
	}
}

// Logout sends LOGOUT_REQUEST, waits for the server's acknowledgement, and zeroizes the session
// key. The underlying connection is left open for the caller to close.
func (s *Session) Logout() error {
	req, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.LogoutRequest})
	if err != nil {
		return xerrors.Errorf("client: serialize logout request: %w", err)
	}

	if err := s.send(req); err != nil {
		return err
	}

	respBuf, err := s.recv(wire.MaxPacketSize)
	if err != nil {
		return err
	}

	resp, err := wire.DeserializeSimpleMessage(respBuf)
	if err != nil {
		return xerrors.Errorf("client: parse logout response: %w", err)
	}

	s.sess.Close()

	if resp.Code != wire.ACK {
		return securecloud.ErrWrongMsgCode
	}

	return nil
}

package server

import (
	"errors"
	"io"
	"log"
	"net"
	"os"
	"strings"

	"golang.org/x/xerrors"

	securecloud "github.com/arjunm/securecloud"
	"github.com/arjunm/securecloud/internal/certstore"
	"github.com/arjunm/securecloud/internal/handshake"
	"github.com/arjunm/securecloud/internal/record"
	"github.com/arjunm/securecloud/internal/session"
	"github.com/arjunm/securecloud/internal/wire"
)

// Listener accepts TCP connections and services each on its own goroutine (§5): run the
// handshake, then loop reading one fixed-size, MaxPacketSize-bounded envelope at a time and
// dispatching on its decrypted payload's leading code byte until the client logs out or a
// session-fatal error occurs.
type Listener struct {
	cfg   Config
	store *certstore.Store
	log   *log.Logger
}

// New loads the server's long-term key material from cfg and returns a Listener ready to Serve.
func New(cfg Config) (*Listener, error) {
	store, err := certstore.LoadServer(cfg.CertPath, cfg.KeyPath, cfg.PublicKeysDir)
	if err != nil {
		return nil, err
	}

	return &Listener{cfg: cfg, store: store, log: log.New(os.Stderr, "securecloud: ", log.LstdFlags)}, nil
}

// Serve listens on cfg.ListenAddr and accepts connections until listening or accepting fails,
// blocking the calling goroutine, and returns that error.
func (l *Listener) Serve() error {
	ln, err := net.Listen("tcp", l.cfg.ListenAddr)
	if err != nil {
		return xerrors.Errorf("server: listen on %s: %w", l.cfg.ListenAddr, err)
	}

	defer func() { _ = ln.Close() }()

	l.log.Printf("listening on %s", ln.Addr())

	for {
		conn, err := ln.Accept()
		if err != nil {
			return xerrors.Errorf("server: accept: %w", err)
		}

		go l.handle(conn)
	}
}

// handle services one connection end to end: handshake, then the operation dispatch loop, then
// cleanup. It never returns an error to a caller; all failures are logged and the connection is
// closed.
func (l *Listener) handle(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	sess, err := handshake.RunServer(conn, l.store)
	if err != nil {
		l.log.Printf("%s: handshake failed: %v", conn.RemoteAddr(), err)
		return
	}

	defer sess.Close()

	userStore, err := NewStore(l.cfg.DataRoot, sess.Username)
	if err != nil {
		l.log.Printf("%s: %s: %v", conn.RemoteAddr(), sess.Username, err)
		return
	}

	l.log.Printf("%s: %s: session established", conn.RemoteAddr(), sess.Username)

	for {
		plaintext, result, err := record.OpenFrom(conn, sess, wire.MaxPacketSize)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.log.Printf("%s: %s: %v", conn.RemoteAddr(), sess.Username, err)
			}

			return
		}

		if len(plaintext) < 1 {
			l.log.Printf("%s: %s: empty request", conn.RemoteAddr(), sess.Username)
			return
		}

		loggedOut, err := l.dispatch(conn, sess, userStore, plaintext)
		if err != nil {
			l.log.Printf("%s: %s: %v", conn.RemoteAddr(), sess.Username, err)
			return
		}

		if loggedOut || result == session.AdvanceRekeyNeeded {
			return
		}
	}
}

// dispatch inspects request's leading code byte to determine which operation is being
// requested and runs it to completion. It returns loggedOut true once a LOGOUT_REQUEST has been
// handled, signaling the caller to stop reading further requests from this connection.
func (l *Listener) dispatch(conn net.Conn, sess *session.Session, store *Store, request []byte) (loggedOut bool, err error) {
	switch wire.Code(request[0]) {
	case wire.LogoutRequest:
		return true, l.handleLogout(conn, sess)
	case wire.ListRequest:
		return false, l.handleList(conn, sess, store)
	case wire.DownloadRequest:
		return false, l.handleDownload(conn, sess, store, request)
	case wire.UploadRequest:
		return false, l.handleUpload(conn, sess, store, request)
	case wire.RenameRequest:
		return false, l.handleRename(conn, sess, store, request)
	case wire.DeleteRequest:
		return false, l.handleDelete(conn, sess, store, request)
	default:
		return false, xerrors.Errorf("server: unrecognized request code %s", wire.Code(request[0]))
	}
}

func send(conn io.Writer, sess *session.Session, plaintext []byte) error {
	_, err := record.SealTo(conn, sess, plaintext)
	return err
}

func (l *Listener) handleList(conn net.Conn, sess *session.Session, store *Store) error {
	names, err := store.List()
	if err != nil {
		return err
	}

	var fileList strings.Builder
	for _, n := range names {
		fileList.WriteString(n)
		fileList.WriteByte(',')
	}

	ack := wire.SerializeListAck(wire.ListAckMessage{ListSize: uint32(fileList.Len())})
	if err := send(conn, sess, ack); err != nil {
		return err
	}

	if fileList.Len() == 0 {
		return nil
	}

	resp := wire.SerializeListResponse(wire.ListResponseMessage{FileList: []byte(fileList.String())})

	return send(conn, sess, resp)
}

func (l *Listener) handleDownload(conn net.Conn, sess *session.Session, store *Store, request []byte) error {
	req, err := wire.DeserializeDownloadRequest(request)
	if err != nil {
		return xerrors.Errorf("server: parse download request: %w", err)
	}

	size, statErr := store.Stat(req.Filename)
	if statErr != nil {
		ack := wire.SerializeDownloadAck(wire.DownloadAckMessage{Code: wire.FileNotFound})
		return send(conn, sess, ack)
	}

	f, err := store.Open(req.Filename)
	if err != nil {
		ack := wire.SerializeDownloadAck(wire.DownloadAckMessage{Code: wire.FileNotFound})
		return send(conn, sess, ack)
	}

	defer func() { _ = f.Close() }()

	ack := wire.SerializeDownloadAck(wire.DownloadAckMessage{Code: wire.DownloadAck, FileSize: uint64(size)})
	if err := send(conn, sess, ack); err != nil {
		return err
	}

	buf := make([]byte, wire.ChunkSize)

	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			chunk := wire.SerializeChunk(wire.ChunkMessage{Code: wire.DownloadChunk, Data: buf[:n]})
			if err := send(conn, sess, chunk); err != nil {
				return err
			}
		}

		if readErr == io.EOF {
			return nil
		}

		if readErr != nil {
			return xerrors.Errorf("server: read %s during download: %w", req.Filename, readErr)
		}
	}
}

func (l *Listener) handleUpload(conn net.Conn, sess *session.Session, store *Store, request []byte) error {
	req, err := wire.DeserializeUploadRequest(request)
	if err != nil {
		return xerrors.Errorf("server: parse upload request: %w", err)
	}

	if req.FileSize > wire.MaxFileSize {
		nack, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.NACK})
		if err != nil {
			return err
		}

		return send(conn, sess, nack)
	}

	w, err := store.Create(req.Filename)
	if err != nil {
		nack, serializeErr := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.NACK})
		if serializeErr != nil {
			return serializeErr
		}

		return send(conn, sess, nack)
	}

	ack, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.ACK})
	if err != nil {
		_ = w.Close()
		_ = store.Remove(req.Filename)
		return err
	}

	if err := send(conn, sess, ack); err != nil {
		_ = w.Close()
		_ = store.Remove(req.Filename)
		return err
	}

	if uploadErr := receiveUpload(conn, sess, w, req.FileSize); uploadErr != nil {
		_ = w.Close()
		_ = store.Remove(req.Filename)
		return uploadErr
	}

	if err := w.Close(); err != nil {
		_ = store.Remove(req.Filename)
		return xerrors.Errorf("server: finalize upload %s: %w", req.Filename, err)
	}

	done, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.ACK})
	if err != nil {
		return err
	}

	return send(conn, sess, done)
}

// receiveUpload reads exactly size bytes of UPLOAD_CHUNK envelopes from conn and writes them to
// w. Any error, including a session-fatal one from OpenFrom, leaves the partially-written file
// for the caller to remove — §9's "clean up partial writes on failure" recommendation.
func receiveUpload(conn net.Conn, sess *session.Session, w io.Writer, size uint64) error {
	remaining := size

	for remaining > 0 {
		chunkLen := wire.ChunkSize
		if remaining < uint64(chunkLen) {
			chunkLen = int(remaining)
		}

		chunkBuf, _, err := record.OpenFrom(conn, sess, 1+chunkLen)
		if err != nil {
			return err
		}

		chunk, err := wire.DeserializeChunk(chunkBuf)
		if err != nil {
			return xerrors.Errorf("server: parse upload chunk: %w", err)
		}

		if chunk.Code != wire.UploadChunk {
			return securecloud.ErrWrongMsgCode
		}

		if uint64(len(chunk.Data)) > remaining {
			return securecloud.ErrWriteChunkFailure
		}

		if _, err := w.Write(chunk.Data); err != nil {
			return xerrors.Errorf("server: write upload chunk: %w", err)
		}

		remaining -= uint64(len(chunk.Data))
	}

	return nil
}

func (l *Listener) handleRename(conn net.Conn, sess *session.Session, store *Store, request []byte) error {
	req, err := wire.DeserializeRename(request)
	if err != nil {
		return xerrors.Errorf("server: parse rename request: %w", err)
	}

	code := wire.ACK

	switch err := store.Rename(req.OldName, req.NewName); {
	case err == nil:
		code = wire.ACK
	case os.IsNotExist(err):
		code = wire.FileNotFound
	case os.IsExist(err):
		code = wire.FileAlreadyExists
	default:
		code = wire.NACK
	}

	resp, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: code})
	if err != nil {
		return err
	}

	return send(conn, sess, resp)
}

func (l *Listener) handleDelete(conn net.Conn, sess *session.Session, store *Store, request []byte) error {
	req, err := wire.DeserializeDelete(request)
	if err != nil {
		return xerrors.Errorf("server: parse delete request: %w", err)
	}

	if !store.Exists(req.Filename) {
		resp, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.FilenameNotFound})
		if err != nil {
			return err
		}

		return send(conn, sess, resp)
	}

	ask, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.DeleteAsk})
	if err != nil {
		return err
	}

	if err := send(conn, sess, ask); err != nil {
		return err
	}

	confirmBuf, _, err := record.OpenFrom(conn, sess, wire.MaxPacketSize)
	if err != nil {
		return err
	}

	confirm, err := wire.DeserializeSimpleMessage(confirmBuf)
	if err != nil {
		return xerrors.Errorf("server: parse delete confirmation: %w", err)
	}

	if confirm.Code != wire.DeleteConfirm {
		return nil
	}

	code := wire.ACK
	if err := store.Remove(req.Filename); err != nil {
		code = wire.DeleteFileError
	}

	result, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: code})
	if err != nil {
		return err
	}

	return send(conn, sess, result)
}

func (l *Listener) handleLogout(conn net.Conn, sess *session.Session) error {
	resp, err := wire.SerializeSimpleMessage(wire.SimpleMessage{Code: wire.ACK})
	if err != nil {
		return err
	}

	return send(conn, sess, resp)
}

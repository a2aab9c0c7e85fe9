package securecloud

import "errors"

// Error kinds per the taxonomy in §7 of the protocol design. Transport, Crypto, and Protocol
// errors are session-fatal: the connection must be torn down and, if desired, re-established with
// a fresh handshake. Auth errors mean no session was ever established. Application errors are
// reported inside the session's next reply and leave the session Established.
var (
	// Transport
	ErrSendFailure    = errors.New("securecloud: send failure")
	ErrReceiveFailure = errors.New("securecloud: receive failure")

	// Crypto
	ErrEncryptionFailure = errors.New("securecloud: encryption failure")
	ErrDecryptionFailure = errors.New("securecloud: decryption failure")

	// Protocol
	ErrWrongCounter = errors.New("securecloud: wrong counter")
	ErrWrongMsgCode = errors.New("securecloud: wrong message code")

	// Auth
	ErrAuthenticationFailure = errors.New("securecloud: authentication failure")
	ErrUsernameNotFound      = errors.New("securecloud: username not found")

	// Application
	ErrFileNotFound             = errors.New("securecloud: file not found")
	ErrFileAlreadyExists        = errors.New("securecloud: file already exists")
	ErrWrongPath                = errors.New("securecloud: wrong path")
	ErrReadChunkFailure         = errors.New("securecloud: read chunk failure")
	ErrWriteChunkFailure        = errors.New("securecloud: write chunk failure")
	ErrWrongFileSize            = errors.New("securecloud: wrong file size")
	ErrNoDeleteConfirm          = errors.New("securecloud: delete not confirmed")
	ErrRenameFailure            = errors.New("securecloud: rename failure")
	ErrDeleteFileError          = errors.New("securecloud: delete file error")
)

// IsSessionFatal reports whether err belongs to the Transport, Crypto, or Protocol kinds, all of
// which require the caller to tear the session down rather than continue it.
func IsSessionFatal(err error) bool {
	switch {
	case errors.Is(err, ErrSendFailure),
		errors.Is(err, ErrReceiveFailure),
		errors.Is(err, ErrEncryptionFailure),
		errors.Is(err, ErrDecryptionFailure),
		errors.Is(err, ErrWrongCounter),
		errors.Is(err, ErrWrongMsgCode):
		return true
	default:
		return false
	}
}

// Package securecloud implements the core of a secure client-server cloud-storage protocol: a
// stateful, mutually-authenticated, replay-protected channel carrying a small set of file
// operations (list, upload, download, rename, delete, logout) between a single client and a
// per-connection server worker.
//
// The handshake (internal/handshake), the symmetric record layer (internal/record), and the
// message codec (internal/wire) are all internal; the public surface is the client.Session and
// server.Listener types, which drive those internals over a net.Conn.
package securecloud

// ChunkSize is the fixed transfer unit for download/upload, re-exported from internal/wire for
// callers that need to size their own buffers.
const ChunkSize = 1_000_000

// MaxFileSize is the largest file this protocol will transfer.
const MaxFileSize = 4_000_000_000

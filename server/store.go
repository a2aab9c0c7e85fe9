// Package server drives the six post-handshake operation state machines from the responding
// side, one goroutine per accepted connection, and confines every filesystem access to a single
// user's subdirectory of the data root.
package server

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	securecloud "github.com/arjunm/securecloud"
	"github.com/arjunm/securecloud/internal/wire"
)

// Store confines filesystem access to <root>/<username> for one connection's lifetime. The
// username has already been validated by wire.IsValidName during the handshake, so it cannot
// itself carry a path-traversal payload; Store additionally re-validates every filename it's
// asked to touch, since those arrive from the operation requests the handshake knows nothing
// about.
type Store struct {
	root     string
	username string
}

// NewStore returns a Store rooted at <dataRoot>/<username>, creating that directory if it
// doesn't already exist.
func NewStore(dataRoot, username string) (*Store, error) {
	dir := filepath.Join(dataRoot, username)

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "server: create user directory %s", dir)
	}

	return &Store{root: dir, username: username}, nil
}

// resolve validates name and returns its absolute path within the store's root. It rejects
// anything wire.IsValidName already rejects (empty, too long, whitelist violations, "." or
// "..") and, as a second line of defense, anything filepath.Join could still escape the root
// with.
func (s *Store) resolve(name string) (string, error) {
	if !wire.IsValidName(name) {
		return "", securecloud.ErrWrongPath
	}

	full := filepath.Join(s.root, name)

	if full != filepath.Clean(full) {
		return "", securecloud.ErrWrongPath
	}

	if !strings.HasPrefix(full, s.root+string(os.PathSeparator)) {
		return "", securecloud.ErrWrongPath
	}

	return full, nil
}

// List returns the names of files in the store, sorted, or nil if it's empty.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, errors.Wrap(err, "server: list directory")
	}

	var names []string

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		names = append(names, e.Name())
	}

	sort.Strings(names)

	return names, nil
}

// Stat reports a file's size, or os.ErrNotExist if it doesn't exist, isn't a regular file, or is
// a symlink — a download may only ever serve a regular file actually sitting in the store, never
// something a symlink planted there points at.
func (s *Store) Stat(name string) (int64, error) {
	path, err := s.resolve(name)
	if err != nil {
		return 0, err
	}

	info, err := os.Lstat(path)
	if err != nil {
		return 0, err
	}

	if !info.Mode().IsRegular() {
		return 0, os.ErrNotExist
	}

	return info.Size(), nil
}

// Open opens name for reading a download.
func (s *Store) Open(name string) (io.ReadCloser, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	return os.Open(path)
}

// Create opens name exclusively for writing a fresh upload, failing if it already exists.
func (s *Store) Create(name string) (io.WriteCloser, error) {
	path, err := s.resolve(name)
	if err != nil {
		return nil, err
	}

	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
}

// Remove deletes an in-progress or completed upload at name. It's used both for the Delete
// operation and to clean up a partially-written file after an upload fails mid-stream.
func (s *Store) Remove(name string) error {
	path, err := s.resolve(name)
	if err != nil {
		return err
	}

	return os.Remove(path)
}

// Exists reports whether name is present in the store.
func (s *Store) Exists(name string) bool {
	path, err := s.resolve(name)
	if err != nil {
		return false
	}

	_, err = os.Stat(path)
	return err == nil
}

// Rename renames oldName to newName within the store, failing if oldName is absent or newName
// already exists.
func (s *Store) Rename(oldName, newName string) error {
	oldPath, err := s.resolve(oldName)
	if err != nil {
		return err
	}

	newPath, err := s.resolve(newName)
	if err != nil {
		return err
	}

	if _, err := os.Stat(oldPath); err != nil {
		return os.ErrNotExist
	}

	if _, err := os.Stat(newPath); err == nil {
		return os.ErrExist
	}

	return os.Rename(oldPath, newPath)
}

// Package storage provides the byte-level collaborators of xmlstore: read
// the bytes at a path, write the bytes at a path.
//
// Implementations:
//   - [Dir]: local directory, atomic writes, optional compression by extension
//   - [Memory]: in-memory, for tests and scratch stores
//   - [HTTP]: GET / PUT against a base URL (e.g. a WebDAV share)
//   - [Minio]: S3-compatible bucket
//   - [SFTP]: remote directory over ssh
//
// Missing files are reported with errors matching [fs.ErrNotExist].
package storage

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
)

// Backend reads and writes whole documents at slash-separated paths
// relative to the backend's root
type Backend interface {
	// Open returns a reader over the current content of path.
	// The reader keeps observing that content even if path is
	// written to afterwards.
	Open(path string) (io.ReadSeekCloser, error)
	ReadFile(path string) ([]byte, error)
	// WriteFile replaces the content of path. Readers never
	// observe a partial write.
	WriteFile(path string, data []byte) error
	Exists(path string) (bool, error)
}

// readSeekNopCloser turns in-memory data into io.ReadSeekCloser
type readSeekNopCloser struct {
	*bytes.Reader
}

func (readSeekNopCloser) Close() error {
	return nil
}

func newBytesReader(d []byte) io.ReadSeekCloser {
	return readSeekNopCloser{bytes.NewReader(d)}
}

func notExist(op, path string) error {
	return &fs.PathError{Op: op, Path: path, Err: fs.ErrNotExist}
}

// cleanPath rejects paths that would escape the backend root
func cleanPath(path string) (string, error) {
	p := strings.TrimPrefix(strings.ReplaceAll(path, "\\", "/"), "/")
	if p == "" {
		return "", fmt.Errorf("empty path")
	}
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("path '%s' escapes the root", path)
		}
	}
	return p, nil
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

package storage

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/kjk/xmlstore/atomicfile"
)

// Dir stores documents as files under Root.
// Paths ending with .gz, .zst, .zstd, .br or .lz4 are stored compressed.
type Dir struct {
	Root string
}

var _ Backend = &Dir{}

// NewDir returns a backend rooted at dir, resolved to an absolute path
func NewDir(dir string) (*Dir, error) {
	if dir == "" {
		return nil, fmt.Errorf("data directory is not set. For current directory, use '.'")
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for '%s': %w", dir, err)
	}
	return &Dir{Root: abs}, nil
}

// FullPath returns the local path for path
func (d *Dir) FullPath(path string) (string, error) {
	p, err := cleanPath(path)
	if err != nil {
		return "", err
	}
	return filepath.Join(d.Root, filepath.FromSlash(p)), nil
}

// Open returns the file itself for uncompressed paths. After an atomic
// write replaced the file, the open handle still reads the old content.
func (d *Dir) Open(path string) (io.ReadSeekCloser, error) {
	full, err := d.FullPath(path)
	if err != nil {
		return nil, err
	}
	c := compressionFor(full)
	if c == compressNone {
		f, err := os.Open(full)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
	data, err := d.readFull(full, c)
	if err != nil {
		return nil, err
	}
	return newBytesReader(data), nil
}

func (d *Dir) readFull(full string, c compression) ([]byte, error) {
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, err
	}
	data, err = decompressData(c, data)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress '%s': %w", full, err)
	}
	return data, nil
}

func (d *Dir) ReadFile(path string) ([]byte, error) {
	full, err := d.FullPath(path)
	if err != nil {
		return nil, err
	}
	return d.readFull(full, compressionFor(full))
}

// WriteFile creates missing parent directories
func (d *Dir) WriteFile(path string, data []byte) error {
	full, err := d.FullPath(path)
	if err != nil {
		return err
	}
	data, err = compressData(compressionFor(full), data)
	if err != nil {
		return fmt.Errorf("failed to compress '%s': %w", full, err)
	}
	if err = os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return atomicfile.WriteFile(full, data)
}

func (d *Dir) Exists(path string) (bool, error) {
	full, err := d.FullPath(path)
	if err != nil {
		return false, err
	}
	st, err := os.Stat(full)
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !st.Mode().IsRegular() {
		return false, fmt.Errorf("'%s' is not a regular file", full)
	}
	return true, nil
}

// Package storage defines the removable-storage collaborator used by the
// trajectory reader, the config loader and the encoder logger, plus the
// desktop and in-memory implementations. The card mount itself belongs to
// the target.
package storage

import (
	"errors"
	"io"
)

var (
	ErrNotExist = errors.New("storage: file does not exist")
	ErrReadOnly = errors.New("storage: file opened read-only")
	ErrClosed   = errors.New("storage: file already closed")
)

// File is an open file on the card. Reads and writes may be short only on
// error; a failing call returns an error, it never stalls.
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Size returns the current file length in bytes
	Size() (int64, error)

	// Sync forces buffered data to the media
	Sync() error
}

// Storage is the filesystem surface the firmware needs.
type Storage interface {
	// Open opens an existing file for reading
	Open(path string) (File, error)

	// Create creates or truncates a file for writing
	Create(path string) (File, error)

	// Remove deletes a file
	Remove(path string) error

	// Rename moves oldPath to newPath; newPath must not exist
	Rename(oldPath, newPath string) error

	// Exists reports whether path names an existing file or directory
	Exists(path string) bool

	// MkdirAll creates a directory and any missing parents
	MkdirAll(path string) error
}

// ReadFile reads a whole file through s
func ReadFile(s Storage, path string) ([]byte, error) {
	f, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(f, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Promote atomically publishes tmpPath under finalPath: an existing final
// file is removed first, then the temp file is renamed over it. On failure
// the temp file is left in place.
func Promote(s Storage, tmpPath, finalPath string) error {
	if s.Exists(finalPath) {
		if err := s.Remove(finalPath); err != nil {
			return err
		}
	}
	return s.Rename(tmpPath, finalPath)
}

//go:build !tinygo

package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
)

// OS implements Storage on a host directory. Firmware paths such as
// "/gimbal/trajectory_X.traj" are resolved below Root.
type OS struct {
	Root string
}

func (o OS) path(p string) string {
	return filepath.Join(o.Root, filepath.FromSlash(p))
}

func (o OS) Open(path string) (File, error) {
	f, err := os.Open(o.path(path))
	if err != nil {
		return nil, mapErr(err)
	}
	return osFile{f}, nil
}

func (o OS) Create(path string) (File, error) {
	f, err := os.OpenFile(o.path(path), os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return nil, mapErr(err)
	}
	return osFile{f}, nil
}

func (o OS) Remove(path string) error {
	return mapErr(os.Remove(o.path(path)))
}

func (o OS) Rename(oldPath, newPath string) error {
	return mapErr(os.Rename(o.path(oldPath), o.path(newPath)))
}

func (o OS) Exists(path string) bool {
	_, err := os.Stat(o.path(path))
	return err == nil
}

func (o OS) MkdirAll(path string) error {
	return os.MkdirAll(o.path(path), 0o755)
}

func mapErr(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotExist
	}
	return err
}

type osFile struct {
	*os.File
}

func (f osFile) Size() (int64, error) {
	st, err := f.Stat()
	if err != nil {
		return 0, err
	}
	return st.Size(), nil
}

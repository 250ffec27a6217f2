//go:build rp2040

package main

import (
	"errors"
	"io"
	"machine"
	"os"
	"strings"

	"tinygo.org/x/drivers/sdcard"
	"tinygo.org/x/tinyfs"
	"tinygo.org/x/tinyfs/fatfs"

	"gimbal/storage"
)

// SD card slot on SPI0 (GP18 SCK, GP19 SDO, GP16 SDI). The chip select is
// fixed by the board: the configuration file lives on the card itself.
var sdBus = struct {
	spi           *machine.SPI
	sck, sdo, sdi machine.Pin
	cs            machine.Pin
}{machine.SPI0, machine.GPIO18, machine.GPIO19, machine.GPIO16, machine.GPIO17}

var errNoSeek = errors.New("sd: file does not support seeking")

// cardStorage implements storage.Storage on a FAT volume
type cardStorage struct {
	fs *fatfs.FATFS
}

// mountCard brings up the SD card and mounts its FAT filesystem
func mountCard() (*cardStorage, error) {
	sd := sdcard.New(sdBus.spi, sdBus.sck, sdBus.sdo, sdBus.sdi, sdBus.cs)
	if err := sd.Configure(); err != nil {
		return nil, err
	}
	fs := fatfs.New(&sd)
	fs.Configure(&fatfs.Config{SectorSize: 512})
	if err := fs.Mount(); err != nil {
		return nil, err
	}
	return &cardStorage{fs: fs}, nil
}

func (c *cardStorage) Open(path string) (storage.File, error) {
	f, err := c.fs.OpenFile(path, os.O_RDONLY)
	if err != nil {
		return nil, c.mapErr(path, err)
	}
	return &cardFile{f: f, fs: c.fs, path: path}, nil
}

func (c *cardStorage) Create(path string) (storage.File, error) {
	f, err := c.fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return nil, err
	}
	return &cardFile{f: f, fs: c.fs, path: path}, nil
}

func (c *cardStorage) Remove(path string) error {
	if err := c.fs.Remove(path); err != nil {
		return c.mapErr(path, err)
	}
	return nil
}

func (c *cardStorage) Rename(oldPath, newPath string) error {
	if err := c.fs.Rename(oldPath, newPath); err != nil {
		return c.mapErr(oldPath, err)
	}
	return nil
}

func (c *cardStorage) Exists(path string) bool {
	_, err := c.fs.Stat(path)
	return err == nil
}

func (c *cardStorage) MkdirAll(path string) error {
	dir := ""
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		dir += "/" + part
		if c.Exists(dir) {
			continue
		}
		if err := c.fs.Mkdir(dir, 0o755); err != nil {
			return err
		}
	}
	return nil
}

// mapErr reports a missing file as storage.ErrNotExist
func (c *cardStorage) mapErr(path string, err error) error {
	if !c.Exists(path) {
		return storage.ErrNotExist
	}
	return err
}

// cardFile adapts a FAT file handle to storage.File
type cardFile struct {
	f    tinyfs.File
	fs   *fatfs.FATFS
	path string
}

func (f *cardFile) Read(b []byte) (int, error)  { return f.f.Read(b) }
func (f *cardFile) Write(b []byte) (int, error) { return f.f.Write(b) }
func (f *cardFile) Close() error                { return f.f.Close() }

func (f *cardFile) Seek(offset int64, whence int) (int64, error) {
	s, ok := f.f.(io.Seeker)
	if !ok {
		return 0, errNoSeek
	}
	return s.Seek(offset, whence)
}

func (f *cardFile) Size() (int64, error) {
	if s, ok := f.f.(interface{ Size() int64 }); ok {
		return s.Size(), nil
	}
	info, err := f.fs.Stat(f.path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

func (f *cardFile) Sync() error {
	if s, ok := f.f.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

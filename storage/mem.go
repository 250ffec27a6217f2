package storage

import (
	"errors"
	"io"
	"path"
	"sync"
)

// ErrInjected is returned by Mem operations that were told to fail.
var ErrInjected = errors.New("storage: injected failure")

// Mem is an in-memory Storage for tests and the simulator. Failures can be
// injected per operation to exercise the error paths of callers.
type Mem struct {
	mu    sync.Mutex
	files map[string][]byte
	dirs  map[string]bool

	readLimit  map[string]int64
	failWrite  bool
	failSync   bool
	failRename bool
	syncs      int
}

func NewMem() *Mem {
	return &Mem{
		files:     make(map[string][]byte),
		dirs:      make(map[string]bool),
		readLimit: make(map[string]int64),
	}
}

// WriteFile stores data under p
func (m *Mem) WriteFile(p string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	m.files[path.Clean(p)] = buf
}

// Contents returns a copy of the data stored under p
func (m *Mem) Contents(p string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.files[path.Clean(p)]
	if !ok {
		return nil, false
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

// FailReadsBeyond makes reads of p past byte offset n fail
func (m *Mem) FailReadsBeyond(p string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readLimit[path.Clean(p)] = n
}

// FailWrites makes every subsequent Write fail
func (m *Mem) FailWrites(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWrite = fail
}

// FailSyncs makes every subsequent Sync fail
func (m *Mem) FailSyncs(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSync = fail
}

// FailRenames makes every subsequent Rename fail
func (m *Mem) FailRenames(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failRename = fail
}

// Syncs returns how many successful Sync calls were made
func (m *Mem) Syncs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncs
}

func (m *Mem) Open(p string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if _, ok := m.files[p]; !ok {
		return nil, ErrNotExist
	}
	return &memFile{m: m, name: p, readOnly: true}, nil
}

func (m *Mem) Create(p string) (File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	m.files[p] = []byte{}
	return &memFile{m: m, name: p}, nil
}

func (m *Mem) Remove(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	if _, ok := m.files[p]; ok {
		delete(m.files, p)
		return nil
	}
	if m.dirs[p] {
		delete(m.dirs, p)
		return nil
	}
	return ErrNotExist
}

func (m *Mem) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRename {
		return ErrInjected
	}
	oldPath, newPath = path.Clean(oldPath), path.Clean(newPath)
	data, ok := m.files[oldPath]
	if !ok {
		return ErrNotExist
	}
	if _, exists := m.files[newPath]; exists {
		return errors.New("storage: rename target exists")
	}
	m.files[newPath] = data
	delete(m.files, oldPath)
	return nil
}

func (m *Mem) Exists(p string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = path.Clean(p)
	_, ok := m.files[p]
	return ok || m.dirs[p]
}

func (m *Mem) MkdirAll(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for p = path.Clean(p); p != "/" && p != "."; p = path.Dir(p) {
		m.dirs[p] = true
	}
	return nil
}

type memFile struct {
	m        *Mem
	name     string
	off      int64
	readOnly bool
	closed   bool
}

func (f *memFile) Read(b []byte) (int, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	data := f.m.files[f.name]
	if f.off >= int64(len(data)) {
		return 0, io.EOF
	}
	end := f.off + int64(len(b))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	if limit, ok := f.m.readLimit[f.name]; ok && end > limit {
		return 0, ErrInjected
	}
	n := copy(b, data[f.off:end])
	f.off += int64(n)
	return n, nil
}

func (f *memFile) Write(b []byte) (int, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.closed {
		return 0, ErrClosed
	}
	if f.readOnly {
		return 0, ErrReadOnly
	}
	if f.m.failWrite {
		return 0, ErrInjected
	}
	data := f.m.files[f.name]
	end := f.off + int64(len(b))
	if end > int64(len(data)) {
		grown := make([]byte, end)
		copy(grown, data)
		data = grown
	}
	copy(data[f.off:], b)
	f.m.files[f.name] = data
	f.off = end
	return len(b), nil
}

func (f *memFile) Seek(offset int64, whence int) (int64, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.off
	case io.SeekEnd:
		base = int64(len(f.m.files[f.name]))
	default:
		return 0, errors.New("storage: invalid whence")
	}
	if base+offset < 0 {
		return 0, errors.New("storage: negative seek")
	}
	f.off = base + offset
	return f.off, nil
}

func (f *memFile) Size() (int64, error) {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	return int64(len(f.m.files[f.name])), nil
}

func (f *memFile) Sync() error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.m.failSync {
		return ErrInjected
	}
	f.m.syncs++
	return nil
}

func (f *memFile) Close() error {
	f.m.mu.Lock()
	defer f.m.mu.Unlock()
	if f.closed {
		return ErrClosed
	}
	f.closed = true
	return nil
}

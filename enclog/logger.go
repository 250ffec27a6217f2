// Package enclog records encoder samples to the card. A sampler interrupt
// pushes snapshots into a lock-free ring; the logger task drains the ring
// in batches into a temp file, syncs on a time box and on stop promotes the
// temp file to its final name.
package enclog

import (
	"errors"

	"gimbal/core"
	"gimbal/storage"
)

// SchemaLine is the first line of every log file
const SchemaLine = "# gimbal-enclog v1 record=16 fields=timestamp_us:u32,count0:i32,count1:i32,count2:i32\n"

const (
	maxLogIndex = 99
	batchSize   = 32
)

var (
	ErrNoFreeName = errors.New("enclog: no free log file name")
	ErrNotStarted = errors.New("enclog: logger not started")
	ErrStopped    = errors.New("enclog: logging stopped after a write failure")
)

// Options tunes the logger
type Options struct {
	Dir    string
	SyncMs uint32
}

// Logger is the consumer side of the ring. All methods run on the logger
// task.
type Logger struct {
	st    storage.Storage
	ring  *Ring
	clock core.Clock
	opts  Options

	f         storage.File
	tmpPath   string
	finalPath string
	lastSync  uint32
	batch     [batchSize]Sample
	staging   []byte
	written   uint64
	drops     uint32
	err       error
}

func NewLogger(st storage.Storage, ring *Ring, clock core.Clock, opts Options) *Logger {
	if opts.Dir == "" {
		opts.Dir = "/logs"
	}
	if opts.SyncMs == 0 {
		opts.SyncMs = 1000
	}
	return &Logger{
		st:      st,
		ring:    ring,
		clock:   clock,
		opts:    opts,
		staging: make([]byte, 0, batchSize*RecordSize),
	}
}

// logName formats dir/NNNN.ext
func logName(dir string, idx int, ext string) string {
	s := core.Utoa(uint32(idx))
	for len(s) < 4 {
		s = "0" + s
	}
	return dir + "/" + s + ext
}

// Start opens the next free log (first index 1..99 with neither a final
// nor a temp file) and writes the schema line
func (l *Logger) Start() error {
	if l.f != nil {
		return nil
	}
	if err := l.st.MkdirAll(l.opts.Dir); err != nil {
		return err
	}
	idx := 0
	for i := 1; i <= maxLogIndex; i++ {
		if !l.st.Exists(logName(l.opts.Dir, i, ".bin")) && !l.st.Exists(logName(l.opts.Dir, i, ".tmp")) {
			idx = i
			break
		}
	}
	if idx == 0 {
		return ErrNoFreeName
	}

	l.tmpPath = logName(l.opts.Dir, idx, ".tmp")
	l.finalPath = logName(l.opts.Dir, idx, ".bin")
	f, err := l.st.Create(l.tmpPath)
	if err != nil {
		return err
	}
	if _, err := f.Write([]byte(SchemaLine)); err != nil {
		f.Close()
		return err
	}
	l.f = f
	l.err = nil
	l.written = 0
	l.lastSync = l.clock.NowMillis()
	return nil
}

// Running reports whether a log file is open
func (l *Logger) Running() bool { return l.f != nil }

// Path is the final name of the current or last log
func (l *Logger) Path() string { return l.finalPath }

// Written is the number of records written to the current log
func (l *Logger) Written() uint64 { return l.written }

// Err is the failure that stopped logging, if any
func (l *Logger) Err() error { return l.err }

// Drain writes every queued sample and syncs when the sync interval has
// passed. A write or sync failure closes the log and stops logging; the
// error is returned once and kept in Err.
func (l *Logger) Drain() error {
	if l.f == nil {
		if l.err != nil {
			return ErrStopped
		}
		return ErrNotStarted
	}
	for i := 0; i <= l.ring.Cap()/batchSize; i++ {
		n, err := l.writeBatch()
		if err != nil {
			return l.fail(err)
		}
		if n < batchSize {
			break
		}
	}
	if d := l.ring.Drops(); d != l.drops {
		l.drops = d
		core.RecordEvent(core.EvtLogDrop, core.NoAxis, int32(d), 0)
	}

	now := l.clock.NowMillis()
	if now-l.lastSync >= l.opts.SyncMs {
		if err := l.f.Sync(); err != nil {
			return l.fail(err)
		}
		l.lastSync = now
	}
	return nil
}

// writeBatch moves up to one batch from the ring to the file
func (l *Logger) writeBatch() (int, error) {
	n := l.ring.PopBatch(l.batch[:])
	if n == 0 {
		return 0, nil
	}
	l.staging = l.staging[:0]
	for _, s := range l.batch[:n] {
		l.staging = s.AppendRecord(l.staging)
	}
	if _, err := l.f.Write(l.staging); err != nil {
		return n, err
	}
	l.written += uint64(n)
	return n, nil
}

func (l *Logger) fail(err error) error {
	l.err = err
	l.f.Close()
	l.f = nil
	return err
}

// Stop drains what is queued, syncs, closes and promotes the temp file to
// its final name. The sampler must already be stopped. A failed promote
// leaves the temp file on the card and is returned.
func (l *Logger) Stop() error {
	if l.f == nil {
		if l.err != nil {
			return ErrStopped
		}
		return nil
	}
	for i := 0; i <= l.ring.Cap()/batchSize; i++ {
		n, err := l.writeBatch()
		if err != nil {
			return l.fail(err)
		}
		if n == 0 {
			break
		}
	}
	if err := l.f.Sync(); err != nil {
		return l.fail(err)
	}
	f := l.f
	l.f = nil
	if err := f.Close(); err != nil {
		l.err = err
		return err
	}
	return storage.Promote(l.st, l.tmpPath, l.finalPath)
}

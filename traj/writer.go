package traj

import (
	"encoding/binary"
	"io"

	"gimbal/storage"
)

// Writer encodes samples after a header. It only serialises the values it
// is given.
type Writer struct {
	w       io.Writer
	hdr     Header
	written uint64
	buf     [12]byte
}

// NewWriter writes a canonical 32-byte header to w
func NewWriter(w io.Writer, h Header) (*Writer, error) {
	return NewWriterHeaderLen(w, h, HeaderLen)
}

// NewWriterHeaderLen writes the header with an explicit on-disk length, for
// producing legacy layouts
func NewWriterHeaderLen(w io.Writer, h Header, length int) (*Writer, error) {
	b, err := AppendHeader(make([]byte, 0, 64), h, length)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(b); err != nil {
		return nil, err
	}
	return &Writer{w: w, hdr: h}, nil
}

// WriteScalar appends one sample of a per-axis file
func (w *Writer) WriteScalar(v int32) error {
	if w.hdr.AxisCount != 1 {
		return ErrAxisCount
	}
	binary.LittleEndian.PutUint32(w.buf[:], uint32(v))
	return w.put(4)
}

// WriteFrame appends one frame of a legacy 3-axis file
func (w *Writer) WriteFrame(v [3]int32) error {
	if w.hdr.AxisCount != 3 {
		return ErrAxisCount
	}
	for i, c := range v {
		binary.LittleEndian.PutUint32(w.buf[i*4:], uint32(c))
	}
	return w.put(12)
}

func (w *Writer) put(n int) error {
	if w.written >= w.hdr.TotalSamples {
		return ErrSampleCount
	}
	if _, err := w.w.Write(w.buf[:n]); err != nil {
		return err
	}
	w.written++
	return nil
}

// Finish reports whether every sample promised by the header was written
func (w *Writer) Finish() error {
	if w.written != w.hdr.TotalSamples {
		return ErrSampleCount
	}
	return nil
}

// WriteFile stores a per-axis trajectory at path via a temp file
func WriteFile(s storage.Storage, path string, periodUs, scale uint32, samples []int32) error {
	h := Header{
		Version:        Version,
		AxisCount:      1,
		SamplePeriodUs: periodUs,
		TotalSamples:   uint64(len(samples)),
		AngleScale:     scale,
		Flags:          FlagPositions,
	}
	tmp := path + ".tmp"
	f, err := s.Create(tmp)
	if err != nil {
		return err
	}
	w, err := NewWriter(f, h)
	if err == nil {
		for _, v := range samples {
			if err = w.WriteScalar(v); err != nil {
				break
			}
		}
	}
	if err == nil {
		err = w.Finish()
	}
	if err == nil {
		err = f.Sync()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.Remove(tmp)
		return err
	}
	return storage.Promote(s, tmp, path)
}

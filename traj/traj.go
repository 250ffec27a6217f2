// Package traj reads and writes GMBL trajectory files: a little-endian
// header followed by fixed-point angle samples (degrees times angle_scale).
//
// Per-axis files carry one int32 per sample. Legacy files carry a 3-axis
// frame per sample and the reader picks one component. The on-disk header
// has been 28, 32 and 64 bytes long over time; the reader accepts all three
// and locates the sample data from the file size.
package traj

import (
	"encoding/binary"
	"errors"
	"io"
	"math"

	"gimbal/storage"
)

const (
	Magic     = "GMBL"
	Version   = 1
	HeaderLen = 32 // canonical header length

	FlagPositions  = 1 << 0
	FlagVelocities = 1 << 1 // reserved, never read
)

// header lengths in the order they are matched against the file size
var headerLengths = [...]int64{HeaderLen, 28, 64}

const minHeaderLen = 28

var (
	ErrBadMagic           = errors.New("traj: bad magic")
	ErrUnsupportedVersion = errors.New("traj: unsupported version")
	ErrAxisCount          = errors.New("traj: axis count must be 1 or 3")
	ErrZeroField          = errors.New("traj: zero sample period, sample count or angle scale")
	ErrHeaderLength       = errors.New("traj: no header length matches the file size")
	ErrShortHeader        = errors.New("traj: file too small for header")
	ErrExhausted          = errors.New("traj: samples exhausted")
	ErrShortRead          = errors.New("traj: short sample read")
	ErrSeekRange          = errors.New("traj: sample index out of range")
	ErrAxisIndex          = errors.New("traj: axis index out of range")
	ErrSampleCount        = errors.New("traj: sample count does not match header")
)

// Header is the decoded file header
type Header struct {
	Version        uint8
	AxisCount      uint8
	SamplePeriodUs uint32
	TotalSamples   uint64
	AngleScale     uint32
	Flags          uint32
	HeaderCRC      uint32 // stored, not validated
}

// Stride is the size of one sample frame in bytes
func (h *Header) Stride() int64 {
	if h.AxisCount == 3 {
		return 12
	}
	return 4
}

// Validate checks every field the reader depends on
func (h *Header) Validate() error {
	if h.Version != Version {
		return ErrUnsupportedVersion
	}
	if h.AxisCount != 1 && h.AxisCount != 3 {
		return ErrAxisCount
	}
	if h.SamplePeriodUs == 0 || h.TotalSamples == 0 || h.AngleScale == 0 {
		return ErrZeroField
	}
	return nil
}

// ParseHeader decodes and validates a header of len(b) bytes (at least 28)
func ParseHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < minHeaderLen {
		return h, ErrShortHeader
	}
	if string(b[0:4]) != Magic {
		return h, ErrBadMagic
	}
	h.Version = b[4]
	h.AxisCount = b[5]
	h.SamplePeriodUs = binary.LittleEndian.Uint32(b[8:])
	h.TotalSamples = binary.LittleEndian.Uint64(b[12:])
	h.AngleScale = binary.LittleEndian.Uint32(b[20:])
	h.Flags = binary.LittleEndian.Uint32(b[24:])
	if len(b) >= 32 {
		h.HeaderCRC = binary.LittleEndian.Uint32(b[28:])
	}
	return h, h.Validate()
}

// AppendHeader encodes h with the given on-disk length (28, 32 or 64)
func AppendHeader(dst []byte, h Header, length int) ([]byte, error) {
	if length != 28 && length != 32 && length != 64 {
		return dst, ErrHeaderLength
	}
	if err := h.Validate(); err != nil {
		return dst, err
	}
	dst = append(dst, Magic...)
	dst = append(dst, h.Version, h.AxisCount, 0, 0)
	dst = binary.LittleEndian.AppendUint32(dst, h.SamplePeriodUs)
	dst = binary.LittleEndian.AppendUint64(dst, h.TotalSamples)
	dst = binary.LittleEndian.AppendUint32(dst, h.AngleScale)
	dst = binary.LittleEndian.AppendUint32(dst, h.Flags)
	if length >= 32 {
		dst = binary.LittleEndian.AppendUint32(dst, h.HeaderCRC)
	}
	for i := 32; i < length; i++ {
		dst = append(dst, 0)
	}
	return dst, nil
}

// Quantize converts degrees to the fixed-point sample value for scale
func Quantize(deg float64, scale uint32) int32 {
	return int32(math.Round(deg * float64(scale)))
}

// Reader streams samples from an open trajectory file
type Reader struct {
	f         storage.File
	hdr       Header
	dataStart int64
	index     uint64
	buf       [12]byte
}

// Open opens path on s and validates its header
func Open(s storage.Storage, path string) (*Reader, error) {
	f, err := s.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return r, nil
}

// NewReader validates the header of f and positions it at sample 0. The
// reader takes ownership of f.
func NewReader(f storage.File) (*Reader, error) {
	size, err := f.Size()
	if err != nil {
		return nil, err
	}
	if size < minHeaderLen {
		return nil, ErrShortHeader
	}

	// every header length shares the leading 28 bytes; the length itself
	// is only decided by the file size
	var raw [HeaderLen]byte
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(f, raw[:min(size, int64(len(raw)))]); err != nil {
		return nil, err
	}
	hdr, err := ParseHeader(raw[:minHeaderLen])
	if err != nil {
		return nil, err
	}

	start, err := resolveDataStart(&hdr, size)
	if err != nil {
		return nil, err
	}
	if start >= HeaderLen {
		hdr.HeaderCRC = binary.LittleEndian.Uint32(raw[minHeaderLen:])
	}
	r := &Reader{f: f, hdr: hdr, dataStart: start}
	if err := r.Seek(0); err != nil {
		return nil, err
	}
	return r, nil
}

// resolveDataStart finds the header length for which the remaining bytes
// hold exactly TotalSamples frames
func resolveDataStart(h *Header, size int64) (int64, error) {
	stride := h.Stride()
	if h.TotalSamples > uint64(size/stride) {
		return 0, ErrHeaderLength
	}
	payload := int64(h.TotalSamples) * stride
	for _, l := range headerLengths {
		if size-payload == l {
			return l, nil
		}
	}
	return 0, ErrHeaderLength
}

func (r *Reader) Header() Header { return r.hdr }

// DataStart is the resolved byte offset of sample 0
func (r *Reader) DataStart() int64 { return r.dataStart }

// Index is the next sample to be read
func (r *Reader) Index() uint64 { return r.index }

func (r *Reader) Samples() uint64 { return r.hdr.TotalSamples }

func (r *Reader) PeriodUs() uint32 { return r.hdr.SamplePeriodUs }

// ReadNextScalar returns the next sample for axis. Per-axis files ignore
// the axis index; legacy frames return that component.
func (r *Reader) ReadNextScalar(axis int) (int32, error) {
	if r.index >= r.hdr.TotalSamples {
		return 0, ErrExhausted
	}
	stride := int(r.hdr.Stride())
	if stride == 12 && (axis < 0 || axis > 2) {
		return 0, ErrAxisIndex
	}
	if _, err := io.ReadFull(r.f, r.buf[:stride]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return 0, ErrShortRead
		}
		return 0, err
	}
	off := 0
	if stride == 12 {
		off = axis * 4
	}
	r.index++
	return int32(binary.LittleEndian.Uint32(r.buf[off:])), nil
}

// Seek positions the reader at sample idx
func (r *Reader) Seek(idx uint64) error {
	if idx >= r.hdr.TotalSamples {
		return ErrSeekRange
	}
	if _, err := r.f.Seek(r.dataStart+int64(idx)*r.hdr.Stride(), io.SeekStart); err != nil {
		return err
	}
	r.index = idx
	return nil
}

// Degrees converts a sample value to degrees
func (r *Reader) Degrees(v int32) float64 {
	return float64(v) / float64(r.hdr.AngleScale)
}

// Progress is the fraction of samples consumed, 0..1
func (r *Reader) Progress() float64 {
	return float64(r.index) / float64(r.hdr.TotalSamples)
}

func (r *Reader) Close() error {
	return r.f.Close()
}

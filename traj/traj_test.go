package traj

import (
	"bytes"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gimbal/storage"
)

func perAxisHeader(n int) Header {
	return Header{
		Version:        Version,
		AxisCount:      1,
		SamplePeriodUs: 10000,
		TotalSamples:   uint64(n),
		AngleScale:     1000000,
		Flags:          FlagPositions,
	}
}

// encode builds a per-axis file with the given header length
func encode(t *testing.T, h Header, headerLen int, samples []int32) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := NewWriterHeaderLen(&buf, h, headerLen)
	if err != nil {
		t.Fatalf("NewWriterHeaderLen(%d) failed: %v", headerLen, err)
	}
	for _, v := range samples {
		if err := w.WriteScalar(v); err != nil {
			t.Fatalf("WriteScalar failed: %v", err)
		}
	}
	if err := w.Finish(); err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	return buf.Bytes()
}

func openBytes(t *testing.T, data []byte) (*Reader, error) {
	t.Helper()
	mem := storage.NewMem()
	mem.WriteFile("/t.traj", data)
	return Open(mem, "/t.traj")
}

func readAll(t *testing.T, r *Reader, axis int) []int32 {
	t.Helper()
	var out []int32
	for {
		v, err := r.ReadNextScalar(axis)
		if errors.Is(err, ErrExhausted) {
			return out
		}
		if err != nil {
			t.Fatalf("ReadNextScalar failed at %d: %v", len(out), err)
		}
		out = append(out, v)
	}
}

func TestOpenAcceptsHeaderLengths(t *testing.T) {
	samples := []int32{0, 500000, 1000000, -250000}
	for _, hl := range []int{32, 28, 64} {
		r, err := openBytes(t, encode(t, perAxisHeader(len(samples)), hl, samples))
		if err != nil {
			t.Fatalf("header %d: Open failed: %v", hl, err)
		}
		if r.DataStart() != int64(hl) {
			t.Errorf("header %d: expected data start %d, got %d", hl, hl, r.DataStart())
		}
		if diff := cmp.Diff(samples, readAll(t, r, 0)); diff != "" {
			t.Errorf("header %d: samples mismatch (-want +got):\n%s", hl, diff)
		}
	}
}

func TestHeaderCRCFollowsResolvedLength(t *testing.T) {
	h := perAxisHeader(2)
	h.HeaderCRC = 0xDEADBEEF

	r, err := openBytes(t, encode(t, h, 32, []int32{7, 8}))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := r.Header().HeaderCRC; got != 0xDEADBEEF {
		t.Errorf("Expected stored crc 0xDEADBEEF, got %#x", got)
	}

	// a 28-byte header is followed directly by sample 0
	r, err = openBytes(t, encode(t, h, 28, []int32{7, 8}))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := r.Header().HeaderCRC; got != 0 {
		t.Errorf("Expected no crc for a 28-byte header, got %#x", got)
	}
	if diff := cmp.Diff([]int32{7, 8}, readAll(t, r, 0)); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

func TestOpenRejectsBadHeaders(t *testing.T) {
	good := encode(t, perAxisHeader(2), 32, []int32{1, 2})

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
		want   error
	}{
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrBadMagic},
		{"version", func(b []byte) []byte { b[4] = 2; return b }, ErrUnsupportedVersion},
		{"axis count 2", func(b []byte) []byte { b[5] = 2; return b }, ErrAxisCount},
		{"axis count 0", func(b []byte) []byte { b[5] = 0; return b }, ErrAxisCount},
		{"zero period", func(b []byte) []byte { copy(b[8:12], []byte{0, 0, 0, 0}); return b }, ErrZeroField},
		{"zero scale", func(b []byte) []byte { copy(b[20:24], []byte{0, 0, 0, 0}); return b }, ErrZeroField},
		{"size mismatch", func(b []byte) []byte { return append(b, 0, 0) }, ErrHeaderLength},
		{"truncated", func(b []byte) []byte { return b[:20] }, ErrShortHeader},
	}
	for _, tt := range tests {
		b := tt.mutate(append([]byte(nil), good...))
		if _, err := openBytes(t, b); !errors.Is(err, tt.want) {
			t.Errorf("%s: expected %v, got %v", tt.name, tt.want, err)
		}
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(storage.NewMem(), "/nope.traj"); !errors.Is(err, storage.ErrNotExist) {
		t.Errorf("Expected ErrNotExist, got %v", err)
	}
}

func TestSeekEveryIndex(t *testing.T) {
	samples := make([]int32, 25)
	for i := range samples {
		samples[i] = int32(i*1000 - 7000)
	}
	r, err := openBytes(t, encode(t, perAxisHeader(len(samples)), 32, samples))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	for k := range samples {
		if err := r.Seek(uint64(k)); err != nil {
			t.Fatalf("Seek(%d) failed: %v", k, err)
		}
		if diff := cmp.Diff(samples[k:], readAll(t, r, 0)); diff != "" {
			t.Errorf("Seek(%d) tail mismatch (-want +got):\n%s", k, diff)
		}
	}
	if err := r.Seek(uint64(len(samples))); !errors.Is(err, ErrSeekRange) {
		t.Errorf("Expected ErrSeekRange past the end, got %v", err)
	}
}

func TestLegacyThreeAxisFrames(t *testing.T) {
	frames := [][3]int32{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	h := perAxisHeader(len(frames))
	h.AxisCount = 3

	var buf bytes.Buffer
	w, err := NewWriter(&buf, h)
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	for _, f := range frames {
		if err := w.WriteFrame(f); err != nil {
			t.Fatalf("WriteFrame failed: %v", err)
		}
	}
	if err := w.WriteScalar(1); !errors.Is(err, ErrAxisCount) {
		t.Errorf("Expected scalar write to 3-axis file to fail, got %v", err)
	}

	for axis := 0; axis < 3; axis++ {
		r, err := openBytes(t, buf.Bytes())
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		want := []int32{frames[0][axis], frames[1][axis], frames[2][axis]}
		if diff := cmp.Diff(want, readAll(t, r, axis)); diff != "" {
			t.Errorf("axis %d mismatch (-want +got):\n%s", axis, diff)
		}
	}

	r, _ := openBytes(t, buf.Bytes())
	if _, err := r.ReadNextScalar(3); !errors.Is(err, ErrAxisIndex) {
		t.Errorf("Expected ErrAxisIndex, got %v", err)
	}
}

func TestReadFailureIsReported(t *testing.T) {
	mem := storage.NewMem()
	mem.WriteFile("/t.traj", encode(t, perAxisHeader(4), 32, []int32{1, 2, 3, 4}))
	r, err := Open(mem, "/t.traj")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	mem.FailReadsBeyond("/t.traj", 32+8)
	for i := 0; i < 2; i++ {
		if _, err := r.ReadNextScalar(0); err != nil {
			t.Fatalf("read %d failed early: %v", i, err)
		}
	}
	if _, err := r.ReadNextScalar(0); !errors.Is(err, storage.ErrInjected) {
		t.Errorf("Expected injected read error, got %v", err)
	}
}

func TestDegreesAndQuantize(t *testing.T) {
	r, err := openBytes(t, encode(t, perAxisHeader(1), 32, []int32{0}))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if got := r.Degrees(500000); got != 0.5 {
		t.Errorf("Expected 0.5 degrees, got %v", got)
	}
	if got := Quantize(0.5, 1000000); got != 500000 {
		t.Errorf("Expected 500000, got %d", got)
	}
	if got := Quantize(-1.25, 2); got != -3 {
		t.Errorf("Expected -3 (half away from zero), got %d", got)
	}
}

func TestWriterSampleCount(t *testing.T) {
	var buf bytes.Buffer
	w, _ := NewWriter(&buf, perAxisHeader(1))
	if err := w.Finish(); !errors.Is(err, ErrSampleCount) {
		t.Errorf("Expected ErrSampleCount for missing sample, got %v", err)
	}
	w.WriteScalar(1)
	if err := w.WriteScalar(2); !errors.Is(err, ErrSampleCount) {
		t.Errorf("Expected ErrSampleCount for extra sample, got %v", err)
	}
	if _, err := NewWriterHeaderLen(&buf, perAxisHeader(1), 30); !errors.Is(err, ErrHeaderLength) {
		t.Errorf("Expected ErrHeaderLength for 30-byte header, got %v", err)
	}
}

func TestWriteFile(t *testing.T) {
	mem := storage.NewMem()
	samples := []int32{0, 500000, 1000000}
	if err := WriteFile(mem, "/gimbal/trajectory_X.traj", 10000, 1000000, samples); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if mem.Exists("/gimbal/trajectory_X.traj.tmp") {
		t.Errorf("Expected temp file to be promoted")
	}
	r, err := Open(mem, "/gimbal/trajectory_X.traj")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if r.PeriodUs() != 10000 || r.Samples() != 3 {
		t.Errorf("Unexpected header %+v", r.Header())
	}
	if diff := cmp.Diff(samples, readAll(t, r, 0)); diff != "" {
		t.Errorf("samples mismatch (-want +got):\n%s", diff)
	}
}

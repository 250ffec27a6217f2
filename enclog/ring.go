package enclog

import (
	"encoding/binary"
	"sync/atomic"
)

const RecordSize = 16

// Sample is one encoder snapshot
type Sample struct {
	TimestampUs uint32
	Counts      [3]int32
}

// AppendRecord encodes s as a 16-byte little-endian record
func (s Sample) AppendRecord(dst []byte) []byte {
	dst = binary.LittleEndian.AppendUint32(dst, s.TimestampUs)
	for _, c := range s.Counts {
		dst = binary.LittleEndian.AppendUint32(dst, uint32(c))
	}
	return dst
}

// ParseRecord decodes a record produced by AppendRecord
func ParseRecord(b []byte) Sample {
	s := Sample{TimestampUs: binary.LittleEndian.Uint32(b)}
	for i := range s.Counts {
		s.Counts[i] = int32(binary.LittleEndian.Uint32(b[4+4*i:]))
	}
	return s
}

// Ring is a single-producer single-consumer queue of samples. The producer
// (sampler interrupt) owns head, the consumer (logger task) owns tail; each
// index has exactly one writer, so neither side locks or waits. One slot
// stays empty to tell full from empty. A push into a full ring is dropped
// and counted.
type Ring struct {
	buf   []Sample
	head  atomic.Uint32
	tail  atomic.Uint32
	drops atomic.Uint32
}

// NewRing allocates a ring of n slots holding at most n-1 samples
func NewRing(n int) *Ring {
	if n < 2 {
		n = 2
	}
	return &Ring{buf: make([]Sample, n)}
}

// Push appends s; producer side only. Never blocks.
func (r *Ring) Push(s Sample) bool {
	h := r.head.Load()
	next := h + 1
	if next == uint32(len(r.buf)) {
		next = 0
	}
	if next == r.tail.Load() {
		r.drops.Add(1)
		return false
	}
	r.buf[h] = s
	r.head.Store(next)
	return true
}

// Pop removes the oldest sample; consumer side only
func (r *Ring) Pop() (Sample, bool) {
	t := r.tail.Load()
	if t == r.head.Load() {
		return Sample{}, false
	}
	s := r.buf[t]
	t++
	if t == uint32(len(r.buf)) {
		t = 0
	}
	r.tail.Store(t)
	return s, true
}

// PopBatch moves up to len(dst) samples into dst; consumer side only
func (r *Ring) PopBatch(dst []Sample) int {
	n := 0
	for n < len(dst) {
		s, ok := r.Pop()
		if !ok {
			break
		}
		dst[n] = s
		n++
	}
	return n
}

// Len is the number of queued samples
func (r *Ring) Len() int {
	h, t := int(r.head.Load()), int(r.tail.Load())
	if h >= t {
		return h - t
	}
	return len(r.buf) - t + h
}

// Cap is the usable capacity, one less than the slot count
func (r *Ring) Cap() int { return len(r.buf) - 1 }

// Drops is the number of samples lost to a full ring
func (r *Ring) Drops() uint32 { return r.drops.Load() }

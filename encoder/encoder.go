// Package encoder decodes quadrature A/B signals into signed counts. Edge
// interrupts call Edge; tasks read Count.
package encoder

import (
	"errors"
	"math"
	"sync/atomic"

	"gimbal/config"
	"gimbal/core"
)

const NumAxes = config.NumAxes

const invalid = 2

var ErrUnits = errors.New("encoder: units must be deg, rad, rev or counts")

// transitions maps prev<<2|cur (state = A<<1|B) to a count delta. Entries
// of 2 mark a double transition: both lines changed between samples.
var transitions = [16]int8{
	0, +1, -1, invalid,
	-1, 0, invalid, +1,
	+1, invalid, 0, -1,
	invalid, -1, +1, 0,
}

func state(a, b bool) uint8 {
	var s uint8
	if a {
		s |= 2
	}
	if b {
		s |= 1
	}
	return s
}

// Channel is the decoder of one axis. prev is touched only from the edge
// interrupt (or Reset before interrupts are enabled).
type Channel struct {
	prev    uint8
	count   atomic.Int32
	invalid atomic.Uint32
}

// Reset seeds the previous state from the current line levels and zeroes
// the counters
func (c *Channel) Reset(a, b bool) {
	c.prev = state(a, b)
	c.count.Store(0)
	c.invalid.Store(0)
}

// Edge processes the line levels sampled on an A or B edge
func (c *Channel) Edge(a, b bool) {
	cur := state(a, b)
	switch d := transitions[c.prev<<2|cur]; d {
	case 0:
	case invalid:
		c.invalid.Add(1)
	default:
		c.count.Add(int32(d))
	}
	c.prev = cur
}

func (c *Channel) Count() int32 { return c.count.Load() }

// Invalid returns how many double transitions were seen
func (c *Channel) Invalid() uint32 { return c.invalid.Load() }

// Bank is the set of per-axis decoders wired to their input pins
type Bank struct {
	io   core.DigitalIO
	pins [NumAxes]config.EncoderPins
	cfg  [NumAxes]config.EncoderAxis
	ch   [NumAxes]Channel
}

func NewBank(io core.DigitalIO, cfg *config.Config) *Bank {
	return &Bank{io: io, pins: cfg.Pins.Encoders, cfg: cfg.Encoders.Axes}
}

// Init configures the encoder inputs and seeds every decoder. Call before
// enabling the edge interrupts.
func (b *Bank) Init() error {
	for i, p := range b.pins {
		if err := b.io.ConfigureInput(p.A, true); err != nil {
			return err
		}
		if err := b.io.ConfigureInput(p.B, true); err != nil {
			return err
		}
		b.ch[i].Reset(b.io.ReadLevel(p.A), b.io.ReadLevel(p.B))
	}
	return nil
}

// Pins returns the A/B inputs of an axis, for edge interrupt registration
func (b *Bank) Pins(axis int) config.EncoderPins {
	return b.pins[axis]
}

// OnEdge is the edge interrupt body: sample both lines and decode
func (b *Bank) OnEdge(axis int) {
	p := b.pins[axis]
	b.ch[axis].Edge(b.io.ReadLevel(p.A), b.io.ReadLevel(p.B))
}

func (b *Bank) Count(axis int) int32 { return b.ch[axis].Count() }

func (b *Bank) Counts() [NumAxes]int32 {
	var out [NumAxes]int32
	for i := range b.ch {
		out[i] = b.ch[i].Count()
	}
	return out
}

func (b *Bank) Invalid(axis int) uint32 { return b.ch[axis].Invalid() }

// Degrees converts a count to degrees for an axis with cpr lines decoded
// at the configured quadrature multiplier
func (b *Bank) Degrees(axis int, count int32) float64 {
	c := b.cfg[axis]
	return float64(count) * 360 / float64(c.CPR*uint32(c.Quad))
}

// Scale returns the size of one decoded count in the axis's configured
// units
func Scale(a config.EncoderAxis) (float64, error) {
	counts := float64(a.CPR) * float64(a.Quad)
	switch a.Units {
	case "deg":
		return 360 / counts, nil
	case "rad":
		return 2 * math.Pi / counts, nil
	case "rev":
		return 1 / counts, nil
	case "counts":
		return 1, nil
	}
	return 0, ErrUnits
}

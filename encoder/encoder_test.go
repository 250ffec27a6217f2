package encoder

import (
	"errors"
	"math"
	"testing"

	"gimbal/config"
	"gimbal/core"
)

// forward Gray sequence with A leading: 00 -> 01 -> 11 -> 10 -> 00
var forward = [][2]bool{{false, true}, {true, true}, {true, false}, {false, false}}

func TestChannelCountsBothDirections(t *testing.T) {
	var c Channel
	c.Reset(false, false)

	for i := 0; i < 3; i++ {
		for _, s := range forward {
			c.Edge(s[0], s[1])
		}
	}
	if c.Count() != 12 {
		t.Errorf("Expected 12 counts after 3 forward cycles, got %d", c.Count())
	}

	for i := len(forward) - 2; i >= 0; i-- {
		c.Edge(forward[i][0], forward[i][1])
	}
	c.Edge(false, false)
	if c.Count() != 8 {
		t.Errorf("Expected 8 counts after one reverse cycle, got %d", c.Count())
	}
	if c.Invalid() != 0 {
		t.Errorf("Expected no invalid transitions, got %d", c.Invalid())
	}
}

func TestChannelInvalidTransition(t *testing.T) {
	var c Channel
	c.Reset(false, false)

	c.Edge(true, true) // both lines changed
	c.Edge(true, true) // no change
	if c.Count() != 0 {
		t.Errorf("Expected count unchanged, got %d", c.Count())
	}
	if c.Invalid() != 1 {
		t.Errorf("Expected 1 invalid transition, got %d", c.Invalid())
	}

	c.Edge(true, false)
	if c.Count() != 1 {
		t.Errorf("Expected decoding to resume from the new state, got %d", c.Count())
	}
}

func TestTransitionTableIsAntisymmetric(t *testing.T) {
	for prev := 0; prev < 4; prev++ {
		for cur := 0; cur < 4; cur++ {
			fwd := transitions[prev<<2|cur]
			rev := transitions[cur<<2|prev]
			if fwd == invalid || rev == invalid {
				if fwd != rev {
					t.Errorf("%02b->%02b: invalid marking not symmetric", prev, cur)
				}
				continue
			}
			if fwd != -rev {
				t.Errorf("%02b->%02b: expected %d to negate %d", prev, cur, fwd, rev)
			}
		}
	}
}

func TestBankOnEdge(t *testing.T) {
	cfg := config.Default()
	io := core.NewMockDigitalIO()
	p := cfg.Pins.Encoders[1]
	io.SetInput(p.A, false)
	io.SetInput(p.B, false)

	b := NewBank(io, cfg)
	if err := b.Init(); err != nil {
		t.Fatalf("Init failed: %v", err)
	}

	for _, s := range forward {
		io.SetInput(p.A, s[0])
		io.SetInput(p.B, s[1])
		b.OnEdge(1)
	}
	if got := b.Counts(); got != [NumAxes]int32{0, 4, 0} {
		t.Errorf("Expected counts [0 4 0], got %v", got)
	}
	// 2048 lines x4 decoding
	if got := b.Degrees(1, 8192); got != 360 {
		t.Errorf("Expected 360 degrees per revolution, got %v", got)
	}
}

func TestScaleFollowsUnits(t *testing.T) {
	tests := []struct {
		units string
		want  float64
	}{
		{"deg", 360.0 / 8192},
		{"rad", 2 * math.Pi / 8192},
		{"rev", 1.0 / 8192},
		{"counts", 1},
	}
	for _, tt := range tests {
		got, err := Scale(config.EncoderAxis{CPR: 2048, Quad: 4, Units: tt.units})
		if err != nil {
			t.Errorf("%s: unexpected error %v", tt.units, err)
			continue
		}
		if got != tt.want {
			t.Errorf("%s: expected %v per count, got %v", tt.units, tt.want, got)
		}
	}
	if _, err := Scale(config.EncoderAxis{CPR: 2048, Quad: 4, Units: "furlong"}); !errors.Is(err, ErrUnits) {
		t.Errorf("Expected ErrUnits, got %v", err)
	}
}

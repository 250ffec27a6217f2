package main

import (
	"math"

	"gimbal/config"
	"gimbal/core"
	"gimbal/encoder"
	"gimbal/stepgen"
)

// gray is the forward A<<1|B sequence
var gray = [4]uint8{0, 1, 3, 2}

// virtualEncoders drive the encoder inputs from the simulated motor
// position so the decoder and the log see realistic edges.
type virtualEncoders struct {
	io        *core.MockDigitalIO
	bank      *encoder.Bank
	gen       *stepgen.Generator
	perStep   [config.NumAxes]float64
	phase     [config.NumAxes]int
	count     [config.NumAxes]int32
	maxPerRun int
}

func newVirtualEncoders(io *core.MockDigitalIO, bank *encoder.Bank, gen *stepgen.Generator, cfg *config.Config) *virtualEncoders {
	v := &virtualEncoders{io: io, bank: bank, gen: gen, maxPerRun: 4096}
	for i := range v.perStep {
		e := cfg.Encoders.Axes[i]
		s := cfg.Stepper.Axes[i]
		v.perStep[i] = float64(e.CPR*uint32(e.Quad)) / float64(s.StepsPerRev*s.Microstep)
		// the inputs idle high with their pull-ups: A=1, B=1
		v.phase[i] = 2
	}
	return v
}

// Update emits the edges needed to follow the motor; the number of edges
// per call is capped like a real encoder's maximum edge rate.
func (v *virtualEncoders) Update() {
	for axis := range v.count {
		target := int32(math.Round(float64(v.gen.Position(axis)) * v.perStep[axis]))
		for n := 0; v.count[axis] != target && n < v.maxPerRun; n++ {
			if target > v.count[axis] {
				v.phase[axis] = (v.phase[axis] + 1) % 4
				v.count[axis]++
			} else {
				v.phase[axis] = (v.phase[axis] + 3) % 4
				v.count[axis]--
			}
			s := gray[v.phase[axis]]
			p := v.bank.Pins(axis)
			v.io.SetInput(p.A, s&2 != 0)
			v.io.SetInput(p.B, s&1 != 0)
			v.bank.OnEdge(axis)
		}
	}
}

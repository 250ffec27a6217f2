//go:build rp2040

package main

// PIO metronome: each state machine counts down a loaded period and raises
// its relative IRQ flag once per period. The flags are routed to
// PIO0_IRQ_0, whose handler runs the armed callback of each expired state
// machine. Four state machines cover the three step channels and the
// encoder sampler.

import (
	"device/rp"
	"errors"
	"runtime/interrupt"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"
)

const (
	metronomeOrigin = 0 // jump targets below are absolute

	// 125 MHz / 12.5 = 10 MHz, a tenth of a microsecond per cycle
	clkDivWhole = 12
	clkDivFrac  = 128
	ticksPerUs  = 10

	// cycles per period beyond the countdown: mov, the final jmp, irq
	overheadTicks = 3

	instrMovXY     = 0xA022 // mov x, y
	instrIRQRelNow = 0xC010 // irq nowait 0 rel
)

var errNoStateMachine = errors.New("no free PIO state machine")

// buildMetronomeProgram assembles the countdown loop
func buildMetronomeProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		asm.Pull(false, true).Encode(),        // 0: pull block (period)
		asm.Out(rp2pio.OutDestY, 32).Encode(), // 1: out y, 32
		// .wrap_target
		instrMovXY,                               // 2: mov x, y
		asm.Jmp(3, rp2pio.JmpXNZeroDec).Encode(), // 3: jmp x--, 3
		instrIRQRelNow,                           // 4: irq nowait 0 rel
		// .wrap
	}
}

// metronome implements core.PeriodicTimer on one PIO0 state machine
type metronome struct {
	sm      rp2pio.StateMachine
	index   uint8
	offset  uint8
	cfg     rp2pio.StateMachineConfig
	handler func()
	armed   bool
}

var metronomes [4]*metronome

// initMetronomes loads the program once and claims n state machines
func initMetronomes(n int) ([]*metronome, error) {
	pio := rp2pio.PIO0
	program := buildMetronomeProgram()
	offset, err := pio.AddProgram(program, metronomeOrigin)
	if err != nil {
		return nil, err
	}

	cfg := rp2pio.DefaultStateMachineConfig()
	cfg.SetOutShift(true, false, 32)
	cfg.SetWrap(offset+uint8(len(program))-1, offset+2)
	cfg.SetClkDivIntFrac(clkDivWhole, clkDivFrac)

	out := make([]*metronome, 0, n)
	for i := uint8(0); i < uint8(n); i++ {
		sm := pio.StateMachine(i)
		if !sm.TryClaim() {
			return nil, errNoStateMachine
		}
		m := &metronome{sm: sm, index: i, offset: offset, cfg: cfg}
		metronomes[i] = m
		out = append(out, m)
	}

	// clear stale flags, then route the SM flags (INTE bits 8..11) to
	// PIO0_IRQ_0
	rp.PIO0.IRQ.Set(0xF)
	for _, m := range out {
		rp.PIO0.IRQ0_INTE.SetBits(1 << (8 + uint32(m.index)))
	}
	intr := interrupt.New(rp.IRQ_PIO0_IRQ_0, pioIRQ)
	intr.SetPriority(0x40)
	intr.Enable()
	return out, nil
}

// Arm restarts the state machine with a new period. Task context only.
func (m *metronome) Arm(periodUs uint32, handler func()) {
	m.Disarm()
	ticks := periodUs * ticksPerUs
	if ticks <= overheadTicks {
		ticks = overheadTicks + 1
	}

	state := interrupt.Disable()
	m.handler = handler
	m.armed = true
	interrupt.Restore(state)

	m.sm.Init(m.offset, m.cfg)
	m.sm.TxPut(ticks - overheadTicks)
	m.sm.SetEnabled(true)
}

// Disarm stops the state machine and drops a pending flag. Safe from the
// handler itself.
func (m *metronome) Disarm() {
	m.armed = false
	m.sm.SetEnabled(false)
	m.sm.ClearFIFOs()
	m.sm.Restart()
	rp.PIO0.IRQ.Set(1 << m.index)
}

func pioIRQ(interrupt.Interrupt) {
	flags := rp.PIO0.IRQ.Get() & 0xF
	rp.PIO0.IRQ.Set(flags)
	for i := uint8(0); i < 4; i++ {
		if flags&(1<<i) == 0 {
			continue
		}
		if m := metronomes[i]; m != nil && m.armed {
			m.handler()
		}
	}
}

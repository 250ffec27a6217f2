// Package stepgen generates step/direction pulse trains, one periodic timer
// per axis. A window of N steps over a duration is emitted as 2N toggles of
// the step output at a fixed half-period.
//
// Concurrency: Schedule, Stop, StopAll and EnableDrivers run in task
// context. The toggle callback runs in interrupt context and only flips the
// output and counts. Every field the callback reads or writes is atomic;
// the remaining fields are written only while the channel's timer is
// disarmed.
package stepgen

import (
	"errors"
	"sync/atomic"

	"gimbal/config"
	"gimbal/core"
)

const NumAxes = config.NumAxes

var ErrAxis = errors.New("stepgen: axis out of range")

// AxisConfig describes the outputs of one driver
type AxisConfig struct {
	StepPin        core.Pin
	DirPin         core.Pin
	EnablePin      core.Pin
	StepActiveHigh bool
	InvertDir      bool
	MinPulseUs     uint32 // driver's minimum step pulse width
}

// Config is the generator setup for all axes
type Config struct {
	Axes            [NumAxes]AxisConfig
	EnableActiveLow bool
}

// FromConfig extracts the generator setup from the board configuration
func FromConfig(cfg *config.Config) Config {
	var c Config
	for i := range c.Axes {
		p := cfg.Pins.Axis[i]
		c.Axes[i] = AxisConfig{
			StepPin:        p.Step,
			DirPin:         p.Dir,
			EnablePin:      p.Enable,
			StepActiveHigh: p.StepActiveHigh,
			InvertDir:      p.InvertDir,
			MinPulseUs:     cfg.Stepper.Axes[i].StepPulseUs,
		}
	}
	c.EnableActiveLow = cfg.Stepper.EnableActiveLow
	return c
}

// channel is the runtime state of one axis
type channel struct {
	halfPeriodUs uint32 // task only, written while disarmed

	active    atomic.Bool
	remaining atomic.Int32
	level     atomic.Bool // true while the step output is in its active state
	dirFwd    atomic.Bool
	position  atomic.Int32 // completed steps, signed
	pulses    atomic.Uint32
}

// Generator owns the step channels of every axis
type Generator struct {
	io       core.DigitalIO
	timers   [NumAxes]core.PeriodicTimer
	cfg      Config
	ch       [NumAxes]channel
	handlers [NumAxes]func()
	enabled  atomic.Bool
}

// New creates a generator driving io with one periodic timer per axis
func New(io core.DigitalIO, timers [NumAxes]core.PeriodicTimer, cfg Config) *Generator {
	g := &Generator{io: io, timers: timers, cfg: cfg}
	for i := range g.handlers {
		axis := i
		g.handlers[i] = func() { g.toggle(axis) }
	}
	return g
}

// Init configures the outputs: step idle, direction low, drivers disabled
func (g *Generator) Init() error {
	for i := range g.cfg.Axes {
		a := &g.cfg.Axes[i]
		if err := g.io.ConfigureOutput(a.StepPin, !a.StepActiveHigh); err != nil {
			return err
		}
		if err := g.io.ConfigureOutput(a.DirPin, false); err != nil {
			return err
		}
		if a.EnablePin != core.NoPin {
			if err := g.io.ConfigureOutput(a.EnablePin, g.cfg.EnableActiveLow); err != nil {
				return err
			}
		}
	}
	return nil
}

// HalfPeriod returns the toggle interval for steps pulses over durationUs,
// never shorter than half the driver's minimum pulse width
func HalfPeriod(durationUs uint32, steps uint32, minPulseUs uint32) uint32 {
	minHalf := minPulseUs / 2
	if minHalf < 1 {
		minHalf = 1
	}
	if steps == 0 {
		return minHalf
	}
	half := uint32(uint64(durationUs) / (2 * uint64(steps)))
	if half < minHalf {
		half = minHalf
	}
	return half
}

// Schedule emits |steps| pulses spread evenly over durationUs, direction
// taken from the sign. A window already in progress on the axis is
// superseded. Zero steps or zero duration only disables the channel.
func (g *Generator) Schedule(axis int, steps int32, durationUs uint32) error {
	if axis < 0 || axis >= NumAxes {
		return ErrAxis
	}
	g.halt(axis)
	if steps == 0 || durationUs == 0 {
		return nil
	}

	n := steps
	if n < 0 {
		n = -n
	}
	a := &g.cfg.Axes[axis]
	c := &g.ch[axis]

	g.setDir(axis, steps > 0)
	c.halfPeriodUs = HalfPeriod(durationUs, uint32(n), a.MinPulseUs)
	c.remaining.Store(n)
	c.active.Store(true)
	g.timers[axis].Arm(c.halfPeriodUs, g.handlers[axis])

	core.RecordEvent(core.EvtSchedule, uint8(axis), steps, int32(c.halfPeriodUs))
	return nil
}

// Stop disarms an axis immediately. Stopping an idle axis is a no-op.
func (g *Generator) Stop(axis int) {
	if axis < 0 || axis >= NumAxes {
		return
	}
	if g.halt(axis) {
		core.RecordEvent(core.EvtStop, uint8(axis), g.ch[axis].remaining.Load(), 0)
	}
}

// StopAll disarms every axis
func (g *Generator) StopAll() {
	for i := 0; i < NumAxes; i++ {
		g.Stop(i)
	}
}

// halt disarms the channel and parks the step output at its idle level.
// Reports whether the channel was active.
func (g *Generator) halt(axis int) bool {
	c := &g.ch[axis]
	wasActive := c.active.Swap(false)
	g.timers[axis].Disarm()
	if c.level.Swap(false) {
		a := &g.cfg.Axes[axis]
		g.io.WriteLevel(a.StepPin, !a.StepActiveHigh)
	}
	return wasActive
}

func (g *Generator) setDir(axis int, forward bool) {
	a := &g.cfg.Axes[axis]
	g.ch[axis].dirFwd.Store(forward)
	g.io.WriteLevel(a.DirPin, forward != a.InvertDir)
}

// toggle is the periodic timer callback (interrupt context). The falling
// edge completes a pulse; the last one disarms the timer before returning
// so no extra pulse is emitted.
func (g *Generator) toggle(axis int) {
	c := &g.ch[axis]
	if !c.active.Load() {
		g.timers[axis].Disarm()
		return
	}
	a := &g.cfg.Axes[axis]

	level := !c.level.Load()
	c.level.Store(level)
	g.io.WriteLevel(a.StepPin, level == a.StepActiveHigh)
	if level {
		return
	}

	c.pulses.Add(1)
	if c.dirFwd.Load() {
		c.position.Add(1)
	} else {
		c.position.Add(-1)
	}
	if c.remaining.Add(-1) <= 0 {
		c.active.Store(false)
		g.timers[axis].Disarm()
	}
}

// EnableDrivers drives every enable output. Disabled drivers release
// holding torque.
func (g *Generator) EnableDrivers(on bool) {
	if g.enabled.Swap(on) == on {
		return
	}
	for i := range g.cfg.Axes {
		if pin := g.cfg.Axes[i].EnablePin; pin != core.NoPin {
			g.io.WriteLevel(pin, on != g.cfg.EnableActiveLow)
		}
	}
}

// DriversEnabled reports the last EnableDrivers state
func (g *Generator) DriversEnabled() bool {
	return g.enabled.Load()
}

// Active reports whether the axis still has pulses to emit
func (g *Generator) Active(axis int) bool {
	return g.ch[axis].active.Load()
}

// Remaining returns the pulses left in the current window
func (g *Generator) Remaining(axis int) int32 {
	return g.ch[axis].remaining.Load()
}

// Position returns the net completed steps since boot
func (g *Generator) Position(axis int) int32 {
	return g.ch[axis].position.Load()
}

// Pulses returns the total completed pulses since boot
func (g *Generator) Pulses(axis int) uint32 {
	return g.ch[axis].pulses.Load()
}

// HalfPeriodUs returns the toggle interval of the current window
func (g *Generator) HalfPeriodUs(axis int) uint32 {
	return g.ch[axis].halfPeriodUs
}

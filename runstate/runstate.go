// Package runstate is the run supervisor: Idle, Running, Paused and
// Estopped, driven by debounced operator buttons and by the playback
// scheduler. The state is a single atomic word so every task and the
// telemetry path read it without locks.
package runstate

import (
	"sync/atomic"

	"gimbal/config"
	"gimbal/core"
)

type State uint32

const (
	Idle State = iota
	Running
	Paused
	Estopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	case Estopped:
		return "ESTOP"
	default:
		return "UNKNOWN"
	}
}

// Motion is what the machine needs from the step generator on estop
type Motion interface {
	StopAll()
	EnableDrivers(on bool)
}

// Config selects the input pins and estop behaviour
type Config struct {
	PlayPause  core.Pin
	Reset      core.Pin
	Estop      core.Pin
	EstopAck   core.Pin
	Latching   bool
	DebounceMs uint32
}

// FromConfig extracts the supervisor setup from the board configuration
func FromConfig(cfg *config.Config) Config {
	return Config{
		PlayPause:  cfg.Pins.Buttons.PlayPause,
		Reset:      cfg.Pins.Buttons.Reset,
		Estop:      cfg.Pins.Buttons.Estop,
		EstopAck:   cfg.Pins.Buttons.EstopAck,
		Latching:   cfg.Safety.EstopLatching,
		DebounceMs: cfg.Safety.DebounceMs,
	}
}

// button tracks one active-low input
type button struct {
	pin        core.Pin
	wasPressed bool
	accepted   bool
	lastMs     uint32
}

// Machine owns the run state
type Machine struct {
	state  atomic.Uint32
	io     core.DigitalIO
	motion Motion
	cfg    Config

	playPause button
	reset     button
	estop     button
	estopAck  button

	observer func(from, to State)
}

func New(io core.DigitalIO, motion Motion, cfg Config) *Machine {
	m := &Machine{io: io, motion: motion, cfg: cfg}
	m.playPause.pin = cfg.PlayPause
	m.reset.pin = cfg.Reset
	m.estop.pin = cfg.Estop
	m.estopAck.pin = cfg.EstopAck
	return m
}

// Init configures the button inputs with pull-ups
func (m *Machine) Init() error {
	for _, b := range []*button{&m.playPause, &m.reset, &m.estop, &m.estopAck} {
		if b.pin == core.NoPin {
			continue
		}
		if err := m.io.ConfigureInput(b.pin, true); err != nil {
			return err
		}
	}
	return nil
}

// SetObserver installs a callback run after every state change. It runs in
// the context of the caller that caused the change.
func (m *Machine) SetObserver(fn func(from, to State)) {
	m.observer = fn
}

func (m *Machine) State() State {
	return State(m.state.Load())
}

func (m *Machine) transition(from, to State) bool {
	if !m.state.CompareAndSwap(uint32(from), uint32(to)) {
		return false
	}
	m.changed(from, to)
	return true
}

func (m *Machine) changed(from, to State) {
	core.RecordEvent(core.EvtStateChange, core.NoAxis, int32(from), int32(to))
	if m.observer != nil {
		m.observer(from, to)
	}
}

// Estop halts every axis, disables the drivers and enters Estopped. Safe to
// call from any state and repeatedly.
func (m *Machine) Estop() {
	m.motion.StopAll()
	m.motion.EnableDrivers(false)
	from := State(m.state.Swap(uint32(Estopped)))
	if from != Estopped {
		core.RecordEvent(core.EvtEstop, core.NoAxis, int32(from), 0)
		m.changed(from, Estopped)
	}
}

// ClearEstop returns to Idle when estop is configured non-latching and the
// estop input is released
func (m *Machine) ClearEstop() bool {
	if m.cfg.Latching {
		return false
	}
	return m.AcknowledgeEstop()
}

// AcknowledgeEstop is the explicit operator reset of a latched estop, driven
// by the key switch input or a board-level equivalent. It fails while the
// estop input is still asserted.
func (m *Machine) AcknowledgeEstop() bool {
	if m.pressed(&m.estop) {
		return false
	}
	if !m.transition(Estopped, Idle) {
		return false
	}
	// the next assertion must act on its first poll
	m.estop.accepted = false
	return true
}

// PlayPause toggles Running and Paused, starting from Idle
func (m *Machine) PlayPause() {
	switch m.State() {
	case Running:
		m.transition(Running, Paused)
	case Idle, Paused:
		m.Play()
	}
}

// Play enters Running from Idle or Paused
func (m *Machine) Play() bool {
	s := m.State()
	if s != Idle && s != Paused {
		return false
	}
	return m.transition(s, Running)
}

// Pause enters Paused from Running
func (m *Machine) Pause() bool {
	return m.transition(Running, Paused)
}

// Reset forces Idle from any state except Estopped
func (m *Machine) Reset() bool {
	for {
		s := m.State()
		if s == Estopped {
			return false
		}
		if s == Idle {
			return true
		}
		if m.transition(s, Idle) {
			return true
		}
	}
}

// Complete ends a run; playback calls it when every axis has finished or
// when no axis can run
func (m *Machine) Complete() bool {
	return m.transition(Running, Idle)
}

func (m *Machine) pressed(b *button) bool {
	if b.pin == core.NoPin {
		return false
	}
	return !m.io.ReadLevel(b.pin)
}

// accept reports whether a press on b may be acted on at nowMs
func (m *Machine) accept(b *button, nowMs uint32) bool {
	if b.accepted && nowMs-b.lastMs < m.cfg.DebounceMs {
		return false
	}
	b.accepted = true
	b.lastMs = nowMs
	return true
}

// Poll samples the buttons; called at about 200 Hz. Estop is level
// sensitive; play/pause, reset and the estop key switch act on the press
// edge.
func (m *Machine) Poll(nowMs uint32) {
	if m.pressed(&m.estop) {
		if m.State() != Estopped && m.accept(&m.estop, nowMs) {
			m.Estop()
		}
	}

	pp := m.pressed(&m.playPause)
	ppEdge := pp && !m.playPause.wasPressed
	m.playPause.wasPressed = pp

	rs := m.pressed(&m.reset)
	rsEdge := rs && !m.reset.wasPressed
	m.reset.wasPressed = rs

	ack := m.pressed(&m.estopAck)
	ackEdge := ack && !m.estopAck.wasPressed
	m.estopAck.wasPressed = ack

	if m.State() == Estopped {
		if ackEdge && m.accept(&m.estopAck, nowMs) {
			m.AcknowledgeEstop()
		}
		return
	}
	if ppEdge && m.accept(&m.playPause, nowMs) {
		m.PlayPause()
	}
	if rsEdge && m.accept(&m.reset, nowMs) {
		m.Reset()
	}
}

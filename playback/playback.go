// Package playback binds trajectory samples to step windows. A single
// polling loop tracks a due time per axis; every due sample becomes one
// step window of one sample period.
package playback

import (
	"errors"
	"math"
	"sync/atomic"

	"gimbal/config"
	"gimbal/core"
	"gimbal/runstate"
	"gimbal/storage"
	"gimbal/traj"
)

const NumAxes = config.NumAxes

var ErrNoUsableAxis = errors.New("playback: no usable trajectory")

// Generator is the step output used by the scheduler
type Generator interface {
	Schedule(axis int, steps int32, durationUs uint32) error
	StopAll()
	EnableDrivers(on bool)
}

// RunState is the supervisor the scheduler follows
type RunState interface {
	State() runstate.State
	Complete() bool
}

// Source is a per-axis sample stream; *traj.Reader implements it
type Source interface {
	ReadNextScalar(axis int) (int32, error)
	Seek(idx uint64) error
	Degrees(v int32) float64
	PeriodUs() uint32
	Samples() uint64
}

// Counter reports encoder counts for the status surface
type Counter interface {
	Count(axis int) int32
}

type axisPlan struct {
	src     Source
	usable  bool
	loadErr error
	rates   Rates
	over    bool

	nextDue   uint32
	lastSteps int32

	index    atomic.Uint64
	lastCmd  atomic.Int32
	complete atomic.Bool
	failed   atomic.Bool
}

// Scheduler is the playback loop state. Tick runs on the playback task;
// Status may be called from any task.
type Scheduler struct {
	gen         Generator
	run         RunState
	stepsPerDeg [NumAxes]float64
	plans       [NumAxes]axisPlan
	prev        runstate.State
	encoders    Counter
	limits      [NumAxes]Limits
}

func New(gen Generator, run RunState, stepsPerDeg [NumAxes]float64) *Scheduler {
	return &Scheduler{gen: gen, run: run, stepsPerDeg: stepsPerDeg}
}

// StepsPerDegree returns the conversion factor of every axis
func StepsPerDegree(cfg *config.Config) [NumAxes]float64 {
	var out [NumAxes]float64
	for i := range out {
		out[i] = cfg.StepsPerDegree(i)
	}
	return out
}

// Limits bound the speed and acceleration of one axis; zero disables a check
type Limits struct {
	MaxSpeedDPS  float64
	MaxAccelDPS2 float64
}

// LimitsFromConfig returns the per-axis bounds of the stepper section
func LimitsFromConfig(cfg *config.Config) [NumAxes]Limits {
	var out [NumAxes]Limits
	for i, a := range cfg.Stepper.Axes {
		out[i] = Limits{MaxSpeedDPS: a.MaxSpeedDPS, MaxAccelDPS2: a.MaxAccelDPS2}
	}
	return out
}

// Exceeded reports whether r breaks either bound
func (l Limits) Exceeded(r Rates) bool {
	return (l.MaxSpeedDPS > 0 && r.PeakSpeedDPS > l.MaxSpeedDPS) ||
		(l.MaxAccelDPS2 > 0 && r.PeakAccelDPS2 > l.MaxAccelDPS2)
}

// Rates are the peak speed and acceleration a trajectory commands, starting
// from rest at 0 degrees
type Rates struct {
	PeakSpeedDPS  float64
	PeakAccelDPS2 float64
}

// MeasureRates scans every sample of src and rewinds it. On a read error the
// rates seen so far are returned with the error.
func MeasureRates(src Source, axis int) (Rates, error) {
	var r Rates
	if err := src.Seek(0); err != nil {
		return r, err
	}
	dt := float64(src.PeriodUs()) / 1e6
	var prevDeg, prevVel float64
	for i := uint64(0); i < src.Samples(); i++ {
		v, err := src.ReadNextScalar(axis)
		if err != nil {
			src.Seek(0)
			return r, err
		}
		deg := src.Degrees(v)
		vel := (deg - prevDeg) / dt
		acc := (vel - prevVel) / dt
		r.PeakSpeedDPS = max(r.PeakSpeedDPS, math.Abs(vel))
		r.PeakAccelDPS2 = max(r.PeakAccelDPS2, math.Abs(acc))
		prevDeg, prevVel = deg, vel
	}
	return r, src.Seek(0)
}

// SetLimits installs the bounds checked by LoadTrajectories. Trajectories
// over the limits still play; the excess is reported through Status.
func (s *Scheduler) SetLimits(l [NumAxes]Limits) {
	s.limits = l
}

// Rates returns the measured peaks of an axis and whether they exceed its
// limits
func (s *Scheduler) Rates(axis int) (Rates, bool) {
	p := &s.plans[axis]
	return p.rates, p.over
}

// SetEncoders attaches the encoder counts reported by Status
func (s *Scheduler) SetEncoders(c Counter) {
	s.encoders = c
}

// SetSource installs the sample stream of an axis. A nil source excludes
// the axis. Call before the playback task starts.
func (s *Scheduler) SetSource(axis int, src Source) {
	p := &s.plans[axis]
	p.src = src
	p.usable = src != nil
	p.loadErr = nil
	p.rates = Rates{}
	p.over = false
}

// LoadTrajectories opens one trajectory per axis. An axis whose file fails
// to open is excluded and its error returned; the others still run.
func (s *Scheduler) LoadTrajectories(st storage.Storage, paths [NumAxes]string) (int, [NumAxes]error) {
	var errs [NumAxes]error
	usable := 0
	for i, path := range paths {
		if path == "" {
			s.SetSource(i, nil)
			continue
		}
		r, err := traj.Open(st, path)
		if err != nil {
			s.SetSource(i, nil)
			s.plans[i].loadErr = err
			errs[i] = err
			continue
		}
		s.SetSource(i, r)
		if s.limits[i] != (Limits{}) {
			p := &s.plans[i]
			// a read error here surfaces again during playback
			p.rates, _ = MeasureRates(r, i)
			p.over = s.limits[i].Exceeded(p.rates)
		}
		usable++
	}
	return usable, errs
}

// Usable reports whether the axis has a valid trajectory
func (s *Scheduler) Usable(axis int) bool {
	return s.plans[axis].usable
}

// LoadError returns why an axis was excluded
func (s *Scheduler) LoadError(axis int) error {
	return s.plans[axis].loadErr
}

// Close releases every trajectory source that can be closed
func (s *Scheduler) Close() {
	for i := range s.plans {
		if c, ok := s.plans[i].src.(interface{ Close() error }); ok {
			c.Close()
		}
		s.SetSource(i, nil)
	}
}

// Tick runs one iteration of the playback loop at time now (us)
func (s *Scheduler) Tick(now uint32) {
	st := s.run.State()
	prev := s.prev
	s.prev = st

	switch st {
	case runstate.Estopped:
		s.gen.StopAll()
		s.gen.EnableDrivers(false)

	case runstate.Idle:
		s.gen.StopAll()
		s.gen.EnableDrivers(false)
		for i := range s.plans {
			s.plans[i].nextDue = now
		}

	case runstate.Paused:
		s.gen.StopAll()
		s.gen.EnableDrivers(true)

	case runstate.Running:
		if prev != runstate.Running && prev != runstate.Paused {
			if err := s.start(now); err != nil {
				s.run.Complete()
				s.prev = runstate.Idle
				return
			}
		}
		s.gen.EnableDrivers(true)
		if s.advance(now) {
			s.run.Complete()
		}
	}
}

// start rewinds every usable axis for a fresh run
func (s *Scheduler) start(now uint32) error {
	usable := 0
	for i := range s.plans {
		p := &s.plans[i]
		if !p.usable {
			continue
		}
		p.index.Store(0)
		p.lastCmd.Store(0)
		p.lastSteps = 0
		p.failed.Store(false)
		p.complete.Store(false)
		p.nextDue = now
		if err := p.src.Seek(0); err != nil {
			p.complete.Store(true)
			p.failed.Store(true)
			continue
		}
		usable++
	}
	if usable == 0 {
		return ErrNoUsableAxis
	}
	return nil
}

// advance pulls at most one due sample per axis. Reports true once every
// axis is complete and its last window has elapsed.
func (s *Scheduler) advance(now uint32) bool {
	done := true
	for i := range s.plans {
		p := &s.plans[i]
		if !p.usable {
			continue
		}
		if p.complete.Load() {
			if !core.Elapsed(now, p.nextDue) {
				done = false
			}
			continue
		}
		done = false
		if core.Elapsed(now, p.nextDue) {
			s.step(i, p, now)
		}
	}
	return done
}

func (s *Scheduler) step(axis int, p *axisPlan, now uint32) {
	v, err := p.src.ReadNextScalar(axis)
	if err != nil {
		p.complete.Store(true)
		p.failed.Store(!errors.Is(err, traj.ErrExhausted))
		p.nextDue = now
		core.RecordEvent(core.EvtAxisDone, uint8(axis), int32(p.index.Load()), 1)
		return
	}
	p.lastCmd.Store(v)

	abs := int32(math.Round(p.src.Degrees(v) * s.stepsPerDeg[axis]))
	delta := abs - p.lastSteps
	p.lastSteps = abs
	period := p.src.PeriodUs()
	s.gen.Schedule(axis, delta, period)

	idx := p.index.Add(1)
	if idx >= p.src.Samples() {
		p.complete.Store(true)
		core.RecordEvent(core.EvtAxisDone, uint8(axis), int32(idx), 0)
	}

	// lag is measured against the due time this sample was issued for
	if lag := int32(now - p.nextDue); lag > int32(period) {
		p.nextDue = now + period
		core.RecordEvent(core.EvtCatchUp, uint8(axis), lag, 0)
	} else {
		p.nextDue += period
	}
}

// Status is the externally visible playback state
type Status struct {
	State        runstate.State
	ProgressPct  float64
	Usable       [NumAxes]bool
	Complete     [NumAxes]bool
	Failed       [NumAxes]bool
	Index        [NumAxes]uint64
	Samples      [NumAxes]uint64
	CommandedRaw [NumAxes]int32
	CommandedDeg [NumAxes]float64
	Encoders     [NumAxes]int32
	OverLimit    [NumAxes]bool
}

// Status snapshots progress, run state, commanded angles and encoder counts.
// Progress is the mean completion fraction over usable axes.
func (s *Scheduler) Status() Status {
	st := Status{State: s.run.State()}
	var sum float64
	n := 0
	for i := range s.plans {
		p := &s.plans[i]
		if s.encoders != nil {
			st.Encoders[i] = s.encoders.Count(i)
		}
		if !p.usable {
			continue
		}
		st.Usable[i] = true
		st.OverLimit[i] = p.over
		st.Complete[i] = p.complete.Load()
		st.Failed[i] = p.failed.Load()
		st.Index[i] = p.index.Load()
		st.Samples[i] = p.src.Samples()
		st.CommandedRaw[i] = p.lastCmd.Load()
		st.CommandedDeg[i] = p.src.Degrees(st.CommandedRaw[i])

		n++
		if st.Complete[i] {
			sum += 1
		} else {
			sum += float64(st.Index[i]) / float64(st.Samples[i])
		}
	}
	if n > 0 {
		st.ProgressPct = 100 * sum / float64(n)
	}
	return st
}

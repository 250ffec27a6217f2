// Package firmware wires the playback components into the task set run by
// a target: button poll, playback loop, log drain and host link.
package firmware

import (
	"errors"
	"io"
	"math"
	"sync"
	"time"

	"gimbal/config"
	"gimbal/core"
	"gimbal/enclog"
	"gimbal/encoder"
	"gimbal/playback"
	"gimbal/runstate"
	"gimbal/stepgen"
	"gimbal/storage"
	"gimbal/telemetry"
)

const NumAxes = config.NumAxes

var ErrNoTrajectories = errors.New("firmware: no usable trajectory")

// Board is everything a target provides
type Board struct {
	IO          core.DigitalIO
	StepTimers  [NumAxes]core.PeriodicTimer
	SampleTimer core.PeriodicTimer
	Storage     storage.Storage
	Clock       core.Clock
	Telemetry   io.Writer
}

// Firmware owns every component. Task bodies that change motion hold mu so
// that an estop never interleaves with a playback tick.
type Firmware struct {
	cfg   *config.Config
	board Board
	mu    sync.Mutex

	Gen      *stepgen.Generator
	RunState *runstate.Machine
	Play     *playback.Scheduler
	Encoders *encoder.Bank
	Ring     *enclog.Ring
	Sampler  *enclog.Sampler
	Logger   *enclog.Logger
	Link     *telemetry.Link
	LEDs     *Indicators

	faulted   bool
	logTried  bool
	logFailed bool
}

// LoadConfig reads the board configuration from the card. On failure the
// safe defaults are returned together with the error.
func LoadConfig(st storage.Storage) (*config.Config, error) {
	cfg, err := config.LoadFile(st, config.Path)
	if err != nil {
		return config.Default(), err
	}
	return cfg, nil
}

func New(board Board, cfg *config.Config) *Firmware {
	f := &Firmware{cfg: cfg, board: board}

	f.Gen = stepgen.New(board.IO, board.StepTimers, stepgen.FromConfig(cfg))
	f.RunState = runstate.New(board.IO, f.Gen, runstate.FromConfig(cfg))
	f.Encoders = encoder.NewBank(board.IO, cfg)
	f.Play = playback.New(f.Gen, f.RunState, playback.StepsPerDegree(cfg))
	f.Play.SetEncoders(f.Encoders)
	f.Play.SetLimits(playback.LimitsFromConfig(cfg))

	f.Ring = enclog.NewRing(int(cfg.Logging.RingSize))
	f.Sampler = enclog.NewSampler(f.Ring, f.Encoders, board.Clock, board.SampleTimer)
	f.Logger = enclog.NewLogger(board.Storage, f.Ring, board.Clock, enclog.Options{
		Dir:    cfg.Logging.Dir,
		SyncMs: cfg.Logging.SyncMs,
	})

	w := board.Telemetry
	if w == nil {
		w = io.Discard
	}
	f.Link = telemetry.New(w, f.RunState, f.Play, cfg.Telemetry.LiveStream)
	f.LEDs = NewIndicators(board.IO, cfg.Pins.Leds)

	f.RunState.SetObserver(f.stateChanged)
	return f
}

func (f *Firmware) Config() *config.Config { return f.cfg }

// Faulted reports a boot fault (no usable trajectory)
func (f *Firmware) Faulted() bool { return f.faulted }

func (f *Firmware) stateChanged(from, to runstate.State) {
	core.DebugAsync("[RUN] " + from.String() + " -> " + to.String())
	f.Link.StateChanged(from, to)
	if to == runstate.Estopped {
		core.DumpEvents()
	}
}

// Setup configures the pins, validates the trajectories and arms autoplay.
// A trajectory that fails to open excludes only its axis; with none usable
// the status LED stays lit and ErrNoTrajectories is returned.
func (f *Firmware) Setup() error {
	if err := f.LEDs.Init(); err != nil {
		return err
	}
	f.LEDs.SetStatus(true)

	if err := f.Gen.Init(); err != nil {
		return err
	}
	f.Gen.EnableDrivers(false)
	if err := f.RunState.Init(); err != nil {
		return err
	}
	if err := f.Encoders.Init(); err != nil {
		return err
	}

	usable, errs := f.Play.LoadTrajectories(f.board.Storage, f.cfg.UI.TrajectoryFiles)
	for i, err := range errs {
		if err != nil {
			core.DebugPrintln("[TRAJ] axis " + core.Itoa(i) + " excluded: " + err.Error())
			continue
		}
		if r, over := f.Play.Rates(i); over {
			core.DebugPrintln("[TRAJ] axis " + core.Itoa(i) + " exceeds limits: peak " +
				core.FixedToa(int64(math.Round(r.PeakSpeedDPS*10)), 1) + " deg/s, " +
				core.FixedToa(int64(math.Round(r.PeakAccelDPS2*10)), 1) + " deg/s^2")
		}
	}
	if usable == 0 {
		f.faulted = true
		return ErrNoTrajectories
	}
	f.LEDs.SetStatus(false)

	if f.cfg.UI.AutoplayOnInsert {
		f.RunState.Play()
	}
	return nil
}

// UITick polls the buttons and refreshes the progress bar (~200 Hz)
func (f *Firmware) UITick() {
	f.mu.Lock()
	f.RunState.Poll(f.board.Clock.NowMillis())
	f.mu.Unlock()
	f.LEDs.SetProgress(f.Play.Status().ProgressPct)
}

// PlaybackTick runs one playback iteration (~1 kHz)
func (f *Firmware) PlaybackTick() {
	f.mu.Lock()
	f.Play.Tick(f.board.Clock.NowMicros())
	f.mu.Unlock()
}

// HostInput feeds bytes received from the host link
func (f *Firmware) HostInput(p []byte) {
	f.mu.Lock()
	f.Link.Feed(p)
	f.mu.Unlock()
}

// TelemetryTick streams status lines (~50 Hz)
func (f *Firmware) TelemetryTick() {
	f.Link.Tick()
}

// LoggerTick owns the encoder log: one file per run, opened when a run
// starts and promoted when it ends. A write failure stops logging for the
// rest of the run; motion is unaffected.
func (f *Firmware) LoggerTick() {
	if !f.cfg.Logging.Enabled {
		return
	}
	switch f.RunState.State() {
	case runstate.Running, runstate.Paused:
		if !f.logTried {
			f.logTried = true
			if err := f.Logger.Start(); err != nil {
				f.logFault("start", err)
				return
			}
			f.Sampler.Start(f.cfg.Logging.RateHz)
		}
		if f.Logger.Running() {
			if err := f.Logger.Drain(); err != nil {
				f.Sampler.Stop()
				f.logFault("write", err)
			}
		}
	default:
		f.closeLog()
		f.logTried = false
	}
}

func (f *Firmware) closeLog() {
	if !f.Logger.Running() {
		return
	}
	f.Sampler.Stop()
	if err := f.Logger.Stop(); err != nil {
		f.logFault("close", err)
		return
	}
	core.DebugAsync("[LOG] wrote " + f.Logger.Path())
}

func (f *Firmware) logFault(op string, err error) {
	f.logFailed = true
	core.DebugPrintln("[LOG] " + op + " failed: " + err.Error())
}

// LogFailed reports whether logging hit an error since boot
func (f *Firmware) LogFailed() bool { return f.logFailed }

// Run starts the task loops and blocks until stop is closed, then shuts
// down
func (f *Firmware) Run(stop <-chan struct{}) {
	drain := time.Second / time.Duration(max(f.cfg.Logging.DrainHz, 1))

	var wg sync.WaitGroup
	task := func(period time.Duration, fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				fn()
				time.Sleep(period)
			}
		}()
	}
	task(5*time.Millisecond, f.UITick)
	task(time.Millisecond, f.PlaybackTick)
	task(drain, f.LoggerTick)
	task(20*time.Millisecond, f.TelemetryTick)

	wg.Wait()
	f.Shutdown()
}

// Shutdown halts motion, finishes the log and closes the trajectories
func (f *Firmware) Shutdown() {
	f.mu.Lock()
	f.Gen.StopAll()
	f.Gen.EnableDrivers(false)
	f.mu.Unlock()
	f.closeLog()
	f.Play.Close()
}

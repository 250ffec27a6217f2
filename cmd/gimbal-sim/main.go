// Command gimbal-sim runs the controller firmware on the desktop. A
// directory stands in for the SD card, step pulses run on the simulated
// timer list and buttons are pressed from a script. Telemetry goes to
// stdout and host commands are read from stdin.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"gimbal/core"
	"gimbal/firmware"
	"gimbal/runstate"
	"gimbal/storage"
)

var (
	root     = flag.String("root", ".", "directory used as the SD card")
	duration = flag.Duration("duration", 0, "simulated run time (0 = until the run ends)")
	realtime = flag.Bool("realtime", false, "pace the simulation to the wall clock")
	script   = flag.String("script", "", "button script, e.g. play@100ms,estop@2s+1s,ack@4s")
	debug    = flag.Bool("debug", false, "print firmware debug output to stderr")
)

func main() {
	flag.Parse()

	presses, err := parseScript(*script)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	core.SetDebugWriter(func(s string) { fmt.Fprintln(os.Stderr, s) })
	core.SetDebugEnabled(*debug)
	core.InitAsyncDebug()

	sim, err := newSimulation(storage.OS{Root: *root}, os.Stdout, presses)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fw := sim.fw

	go func() {
		r := bufio.NewReader(os.Stdin)
		buf := make([]byte, 64)
		for {
			n, err := r.Read(buf)
			if n > 0 {
				fw.HostInput(buf[:n])
			}
			if err != nil {
				return
			}
		}
	}()

	elapsed := sim.run(*duration, *realtime)
	fw.Shutdown()
	if *debug {
		core.DumpEvents()
	}

	fmt.Fprintf(os.Stderr, "Simulated %v, final state %s\n", elapsed, fw.RunState.State())
	if p := fw.Logger.Path(); p != "" {
		fmt.Fprintf(os.Stderr, "Encoder log: %s (%d records)\n", p, fw.Logger.Written())
	}
}

type simulation struct {
	fw      *firmware.Firmware
	enc     *virtualEncoders
	io      *core.MockDigitalIO
	presses []press
	drainMs int
	ran     bool
}

// newSimulation wires the firmware to simulated hardware and runs its setup
func newSimulation(st storage.Storage, telemetry io.Writer, presses []press) (*simulation, error) {
	cfg, err := firmware.LoadConfig(st)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: using default config: %v\n", err)
	}

	pins := core.NewMockDigitalIO()
	pins.SetEdgeRecording(false)

	board := firmware.Board{
		IO:          pins,
		SampleTimer: &core.SimTimer{},
		Storage:     st,
		Clock:       core.SystemClock{},
		Telemetry:   telemetry,
	}
	for i := range board.StepTimers {
		board.StepTimers[i] = &core.SimTimer{}
	}

	fw := firmware.New(board, cfg)
	if err := fw.Setup(); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}
	return &simulation{
		fw:      fw,
		enc:     newVirtualEncoders(pins, fw.Encoders, fw.Gen, cfg),
		io:      pins,
		presses: presses,
		drainMs: int(1000 / max(cfg.Logging.DrainHz, 1)),
	}, nil
}

// run steps simulated time one millisecond at a time and calls each task
// at its own rate
func (s *simulation) run(limit time.Duration, realtime bool) time.Duration {
	start := time.Now()
	end := lastAction(s.presses)
	var now time.Duration
	for ms := 0; ; ms++ {
		now = time.Duration(ms) * time.Millisecond
		if limit > 0 && now >= limit {
			break
		}
		s.applyScript(now)

		s.fw.PlaybackTick()
		if ms%5 == 0 {
			s.fw.UITick()
		}
		if ms%s.drainMs == 0 {
			s.fw.LoggerTick()
		}
		if ms%20 == 0 {
			s.fw.TelemetryTick()
		}

		core.AdvanceTime(1000)
		s.enc.Update()

		state := s.fw.RunState.State()
		if state == runstate.Running {
			s.ran = true
		}
		if limit == 0 && s.ran && state == runstate.Idle && now >= end {
			break
		}
		if limit == 0 && !s.ran && len(s.presses) == 0 && state != runstate.Running {
			break
		}

		if realtime {
			if d := now - time.Since(start); d > 0 {
				time.Sleep(d)
			}
		}
	}
	return now
}

func (s *simulation) applyScript(now time.Duration) {
	cfg := s.fw.Config()
	for _, p := range s.presses {
		if p.Button == "ack" {
			if p.At == now {
				if s.fw.RunState.AcknowledgeEstop() {
					fmt.Fprintln(os.Stderr, "[SIM] estop acknowledged")
				}
			}
			continue
		}

		var pin core.Pin
		switch p.Button {
		case "play":
			pin = cfg.Pins.Buttons.PlayPause
		case "reset":
			pin = cfg.Pins.Buttons.Reset
		case "estop":
			pin = cfg.Pins.Buttons.Estop
		}
		switch now {
		case p.At:
			s.io.SetInput(pin, false)
		case p.At + p.Hold:
			s.io.SetInput(pin, true)
		}
	}
}

package firmware

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"gimbal/config"
	"gimbal/core"
	"gimbal/enclog"
	"gimbal/runstate"
	"gimbal/storage"
	"gimbal/traj"
)

type testBoard struct {
	io  *core.MockDigitalIO
	mem *storage.Mem
	out *bytes.Buffer
}

func newBoard(t *testing.T) (Board, *testBoard) {
	t.Helper()
	core.ResetTimers()
	core.SetTime(0)
	core.ClearEvents()

	tb := &testBoard{io: core.NewMockDigitalIO(), mem: storage.NewMem(), out: &bytes.Buffer{}}
	b := Board{
		IO:          tb.io,
		SampleTimer: &core.SimTimer{},
		Storage:     tb.mem,
		Clock:       core.SystemClock{},
		Telemetry:   tb.out,
	}
	for i := range b.StepTimers {
		b.StepTimers[i] = &core.SimTimer{}
	}
	return b, tb
}

// runFor drives every task once per simulated millisecond
func runFor(f *Firmware, ms int) {
	for i := 0; i < ms; i++ {
		f.UITick()
		f.PlaybackTick()
		f.LoggerTick()
		core.AdvanceTime(1000)
	}
}

func TestAutoplayRunsToCompletionAndLogs(t *testing.T) {
	b, tb := newBoard(t)
	cfg := config.Default()
	cfg.UI.AutoplayOnInsert = true
	if err := traj.WriteFile(tb.mem, cfg.UI.TrajectoryFiles[0], 10000, 1000000, []int32{0, 500000, 1000000}); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	f := New(b, cfg)
	if err := f.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if f.RunState.State() != runstate.Running {
		t.Fatalf("Expected autoplay to start Running, got %v", f.RunState.State())
	}
	if tb.io.ReadLevel(cfg.Pins.Leds.Status) {
		t.Errorf("Expected status LED off once trajectories loaded")
	}

	runFor(f, 40)

	if f.RunState.State() != runstate.Idle {
		t.Fatalf("Expected Idle after the trajectory, got %v", f.RunState.State())
	}
	// 0 -> 4 -> 9 steps at 200 steps/rev x16
	if got := tb.io.RisingEdges(cfg.Pins.Axis[0].Step); got != 9 {
		t.Errorf("Expected 9 step pulses, got %d", got)
	}
	if f.Gen.Position(0) != 9 {
		t.Errorf("Expected position 9, got %d", f.Gen.Position(0))
	}
	if !tb.io.ReadLevel(cfg.Pins.Axis[0].Enable) {
		t.Errorf("Expected drivers disabled (active-low high) after the run")
	}

	data, ok := tb.mem.Contents("/logs/0001.bin")
	if !ok {
		t.Fatalf("Expected a promoted log file")
	}
	samples, err := enclog.ReadAll(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(samples) == 0 {
		t.Errorf("Expected logged encoder samples")
	}
	if f.LogFailed() {
		t.Errorf("Expected logging without faults")
	}
	for i := 0; i < barLeds; i++ {
		if !tb.io.ReadLevel(cfg.Pins.Leds.ProgressBar[i]) {
			t.Errorf("Expected progress LED %d lit at 100%%", i)
		}
	}
}

func TestEstopButtonHaltsRun(t *testing.T) {
	b, tb := newBoard(t)
	cfg := config.Default()
	samples := make([]int32, 100)
	for i := range samples {
		samples[i] = int32(i * 100000)
	}
	traj.WriteFile(tb.mem, cfg.UI.TrajectoryFiles[1], 1000, 1000000, samples)

	f := New(b, cfg)
	if err := f.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	f.RunState.Play()
	runFor(f, 10)

	tb.io.SetInput(cfg.Pins.Buttons.Estop, false)
	runFor(f, 1)
	if f.RunState.State() != runstate.Estopped {
		t.Fatalf("Expected Estopped, got %v", f.RunState.State())
	}
	pulses := tb.io.RisingEdges(cfg.Pins.Axis[1].Step)
	runFor(f, 20)
	if got := tb.io.RisingEdges(cfg.Pins.Axis[1].Step); got != pulses {
		t.Errorf("Expected no pulses after estop, had %d now %d", pulses, got)
	}
	if !tb.io.ReadLevel(cfg.Pins.Axis[1].Enable) {
		t.Errorf("Expected drivers disabled")
	}
	if !tb.mem.Exists("/logs/0001.bin") {
		t.Errorf("Expected the run log to be promoted on estop")
	}

	// latching: the play button does nothing until acknowledged
	tb.io.SetInput(cfg.Pins.Buttons.Estop, true)
	tb.io.SetInput(cfg.Pins.Buttons.PlayPause, false)
	runFor(f, 1)
	if f.RunState.State() != runstate.Estopped {
		t.Errorf("Expected play ignored while latched, got %v", f.RunState.State())
	}
}

func TestHostEstopClear(t *testing.T) {
	tests := []struct {
		name     string
		latching bool
		want     runstate.State
		out      string
	}{
		{"non-latching", false, runstate.Idle,
			"ACK\r\nESTOP_ACK\r\nSTATE ESTOP\r\nSTATE IDLE\r\nESTOP_CLEARED\r\n"},
		{"latching", true, runstate.Estopped,
			"ACK\r\nESTOP_ACK\r\nSTATE ESTOP\r\nERR ESTOP_CLEAR\r\n"},
	}
	for _, tt := range tests {
		b, tb := newBoard(t)
		cfg := config.Default()
		cfg.Safety.EstopLatching = tt.latching
		traj.WriteFile(tb.mem, cfg.UI.TrajectoryFiles[0], 1000, 1000000, []int32{0, 1})

		f := New(b, cfg)
		f.Setup()
		f.HostInput([]byte("HELLO\nESTOP\n"))
		if f.RunState.State() != runstate.Estopped {
			t.Fatalf("%s: expected host estop, got %v", tt.name, f.RunState.State())
		}
		f.HostInput([]byte("ESTOP_CLEAR\n"))
		if f.RunState.State() != tt.want {
			t.Errorf("%s: expected %v after ESTOP_CLEAR, got %v", tt.name, tt.want, f.RunState.State())
		}
		if tb.out.String() != tt.out {
			t.Errorf("%s: unexpected telemetry:\n%q\nwant\n%q", tt.name, tb.out.String(), tt.out)
		}
	}
}

func TestKeySwitchAcknowledgesLatchedEstop(t *testing.T) {
	b, tb := newBoard(t)
	cfg := config.Default()
	cfg.Pins.Buttons.EstopAck = 40
	traj.WriteFile(tb.mem, cfg.UI.TrajectoryFiles[0], 1000, 1000000, []int32{0, 1})

	f := New(b, cfg)
	f.Setup()
	f.HostInput([]byte("HELLO\nESTOP\nESTOP_CLEAR\n"))
	runFor(f, 5)
	if f.RunState.State() != runstate.Estopped {
		t.Fatalf("Expected latched estop, got %v", f.RunState.State())
	}

	tb.io.SetInput(cfg.Pins.Buttons.EstopAck, false)
	runFor(f, 1)
	tb.io.SetInput(cfg.Pins.Buttons.EstopAck, true)
	runFor(f, 1)
	if f.RunState.State() != runstate.Idle {
		t.Errorf("Expected key switch to return to Idle, got %v", f.RunState.State())
	}
}

func TestSetupWithoutTrajectoriesFaults(t *testing.T) {
	b, tb := newBoard(t)
	cfg := config.Default()
	cfg.UI.AutoplayOnInsert = true

	f := New(b, cfg)
	if err := f.Setup(); !errors.Is(err, ErrNoTrajectories) {
		t.Fatalf("Expected ErrNoTrajectories, got %v", err)
	}
	if !f.Faulted() || !tb.io.ReadLevel(cfg.Pins.Leds.Status) {
		t.Errorf("Expected fault with status LED lit")
	}
	if f.RunState.State() != runstate.Idle {
		t.Errorf("Expected no autoplay, got %v", f.RunState.State())
	}
}

func TestLogWriteFailureKeepsMotion(t *testing.T) {
	b, tb := newBoard(t)
	cfg := config.Default()
	samples := make([]int32, 50)
	traj.WriteFile(tb.mem, cfg.UI.TrajectoryFiles[0], 1000, 1000000, samples)

	f := New(b, cfg)
	f.Setup()
	f.RunState.Play()
	runFor(f, 5)
	tb.mem.FailWrites(true)
	runFor(f, 20)

	if !f.LogFailed() {
		t.Errorf("Expected the write failure to be reported")
	}
	if f.RunState.State() != runstate.Running {
		t.Errorf("Expected motion to continue, got %v", f.RunState.State())
	}
}

func TestLoadConfigFallsBack(t *testing.T) {
	mem := storage.NewMem()
	cfg, err := LoadConfig(mem)
	if err == nil {
		t.Errorf("Expected an error for a missing config file")
	}
	if cfg == nil || cfg.SchemaVersion != 1 {
		t.Errorf("Expected default config on failure")
	}

	mem.WriteFile(config.Path, []byte(`{"schema_version":1,"safety":{"debounce_ms":35}}`))
	cfg, err = LoadConfig(mem)
	if err != nil || cfg.Safety.DebounceMs != 35 {
		t.Errorf("Expected loaded config, got %v (%v)", cfg.Safety.DebounceMs, err)
	}
}

func TestLitCount(t *testing.T) {
	tests := []struct {
		pct  float64
		want int
	}{
		{-5, 0}, {0, 0}, {9.9, 0}, {10, 1}, {49, 2}, {50, 3}, {89.9, 4}, {90, 5}, {100, 5}, {150, 5},
	}
	for _, tt := range tests {
		if got := LitCount(tt.pct); got != tt.want {
			t.Errorf("LitCount(%v) = %d, expected %d", tt.pct, got, tt.want)
		}
	}
}

func TestSetupReportsOverLimitTrajectory(t *testing.T) {
	b, tb := newBoard(t)
	cfg := config.Default()
	cfg.Stepper.Axes[0].MaxSpeedDPS = 50
	traj.WriteFile(tb.mem, cfg.UI.TrajectoryFiles[0], 10000, 1000000, []int32{0, 1000000})

	var msgs []string
	core.SetDebugWriter(func(s string) { msgs = append(msgs, s) })
	core.SetDebugEnabled(true)
	defer func() {
		core.SetDebugEnabled(false)
		core.SetDebugWriter(nil)
	}()

	f := New(b, cfg)
	if err := f.Setup(); err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if !f.Play.Status().OverLimit[0] {
		t.Errorf("Expected axis 0 flagged over its limits")
	}
	found := false
	for _, m := range msgs {
		if strings.Contains(m, "axis 0 exceeds limits: peak 100.0 deg/s") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected an over-limit warning, got %q", msgs)
	}
}

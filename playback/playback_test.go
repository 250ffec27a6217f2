package playback

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"

	"gimbal/config"
	"gimbal/core"
	"gimbal/runstate"
	"gimbal/storage"
	"gimbal/traj"
)

type window struct {
	Axis  int
	Steps int32
	Dur   uint32
}

type mockGen struct {
	windows []window
	stops   int
	enabled bool
}

func (g *mockGen) Schedule(axis int, steps int32, durationUs uint32) error {
	g.windows = append(g.windows, window{axis, steps, durationUs})
	return nil
}
func (g *mockGen) StopAll()              { g.stops++ }
func (g *mockGen) EnableDrivers(on bool) { g.enabled = on }

type fixedCounts [NumAxes]int32

func (c fixedCounts) Count(axis int) int32 { return c[axis] }

type rig struct {
	mem   *storage.Mem
	gen   *mockGen
	run   *runstate.Machine
	sched *Scheduler
}

// newRig writes one per-axis trajectory per non-nil entry and loads them
func newRig(t *testing.T, cfg *config.Config, periodUs uint32, samples [NumAxes][]int32) *rig {
	t.Helper()
	core.ResetTimers()
	core.SetTime(0)
	core.ClearEvents()

	r := &rig{mem: storage.NewMem(), gen: &mockGen{}}
	r.run = runstate.New(core.NewMockDigitalIO(), r.gen, runstate.FromConfig(cfg))
	if err := r.run.Init(); err != nil {
		t.Fatalf("runstate Init failed: %v", err)
	}
	r.sched = New(r.gen, r.run, StepsPerDegree(cfg))

	var paths [NumAxes]string
	for i, s := range samples {
		paths[i] = cfg.UI.TrajectoryFiles[i]
		if s == nil {
			continue
		}
		if err := traj.WriteFile(r.mem, paths[i], periodUs, 1000000, s); err != nil {
			t.Fatalf("WriteFile axis %d failed: %v", i, err)
		}
	}
	r.sched.LoadTrajectories(r.mem, paths)
	return r
}

func TestEndToEndStepTargets(t *testing.T) {
	tests := []struct {
		name      string
		microstep uint32
		want      []int32
	}{
		{"16 microsteps", 16, []int32{0, 4, 5}},
		{"1600 microsteps", 1600, []int32{0, 444, 445}},
	}
	for _, tt := range tests {
		cfg := config.Default()
		cfg.Stepper.Axes[0].Microstep = tt.microstep
		r := newRig(t, cfg, 10000, [NumAxes][]int32{{0, 500000, 1000000}})

		r.run.Play()
		for now := uint32(0); now <= 20000; now += 10000 {
			r.sched.Tick(now)
		}

		var got []int32
		for _, w := range r.gen.windows {
			if w.Axis != 0 || w.Dur != 10000 {
				t.Errorf("%s: unexpected window %+v", tt.name, w)
			}
			got = append(got, w.Steps)
		}
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("%s: step deltas mismatch (-want +got):\n%s", tt.name, diff)
		}

		// the last window runs a full period before the run completes
		r.sched.Tick(29999)
		if r.run.State() != runstate.Running {
			t.Errorf("%s: expected Running during the last window, got %v", tt.name, r.run.State())
		}
		r.sched.Tick(30000)
		if r.run.State() != runstate.Idle {
			t.Errorf("%s: expected Idle after completion, got %v", tt.name, r.run.State())
		}
		if st := r.sched.Status(); st.ProgressPct != 100 {
			t.Errorf("%s: expected 100%% progress, got %v", tt.name, st.ProgressPct)
		}
	}
}

func TestCatchUpDropsDebt(t *testing.T) {
	samples := make([]int32, 10)
	r := newRig(t, config.Default(), 1000, [NumAxes][]int32{samples})

	r.run.Play()
	r.sched.Tick(0)
	if len(r.gen.windows) != 1 {
		t.Fatalf("Expected one window at start, got %d", len(r.gen.windows))
	}

	r.sched.Tick(5000)
	if len(r.gen.windows) != 2 {
		t.Errorf("Expected exactly one sample per tick when late, got %d windows", len(r.gen.windows))
	}
	if r.sched.plans[0].nextDue != 6000 {
		t.Errorf("Expected next-due snapped to now+period (6000), got %d", r.sched.plans[0].nextDue)
	}

	r.sched.Tick(5999)
	if len(r.gen.windows) != 2 {
		t.Errorf("Expected no window before the snapped due time")
	}
	r.sched.Tick(6000)
	if len(r.gen.windows) != 3 {
		t.Errorf("Expected a window at the snapped due time, got %d", len(r.gen.windows))
	}

	caught := false
	for _, e := range core.Events() {
		if e.EventType == core.EvtCatchUp {
			caught = true
		}
	}
	if !caught {
		t.Errorf("Expected a catch-up event to be recorded")
	}
}

func TestCatchUpWithinTwoPeriods(t *testing.T) {
	samples := make([]int32, 10)
	r := newRig(t, config.Default(), 1000, [NumAxes][]int32{samples})

	r.run.Play()
	r.sched.Tick(0)

	// 1.5 periods behind the due time of 1000
	r.sched.Tick(2500)
	if len(r.gen.windows) != 2 {
		t.Fatalf("Expected 2 windows, got %d", len(r.gen.windows))
	}
	if r.sched.plans[0].nextDue != 3500 {
		t.Errorf("Expected next-due 3500, got %d", r.sched.plans[0].nextDue)
	}

	r.sched.Tick(2501)
	if len(r.gen.windows) != 2 {
		t.Errorf("Expected no second window right after a late one, got %d windows", len(r.gen.windows))
	}
}

func TestLateByLessThanAPeriodKeepsCadence(t *testing.T) {
	samples := make([]int32, 10)
	r := newRig(t, config.Default(), 1000, [NumAxes][]int32{samples})

	r.run.Play()
	r.sched.Tick(0)
	r.sched.Tick(1400)
	if r.sched.plans[0].nextDue != 2000 {
		t.Errorf("Expected next-due 2000, got %d", r.sched.plans[0].nextDue)
	}
	for _, e := range core.Events() {
		if e.EventType == core.EvtCatchUp {
			t.Errorf("Expected no catch-up event for a lag under one period")
		}
	}
}

func TestPausePreservesProgress(t *testing.T) {
	samples := []int32{0, 100000, 200000, 300000}
	r := newRig(t, config.Default(), 1000, [NumAxes][]int32{samples})

	r.run.Play()
	r.sched.Tick(0)
	r.sched.Tick(1000)

	r.run.Pause()
	stops := r.gen.stops
	r.sched.Tick(1500)
	if r.gen.stops != stops+1 || !r.gen.enabled {
		t.Errorf("Expected pause to stop generators and keep drivers enabled")
	}
	if got := r.sched.Status().Index[0]; got != 2 {
		t.Errorf("Expected index 2 preserved across pause, got %d", got)
	}

	r.run.Play()
	r.sched.Tick(10000)
	if got := r.sched.Status().Index[0]; got != 3 {
		t.Errorf("Expected resume to continue at sample 2, index now %d", got)
	}
	if n := len(r.gen.windows); n != 3 {
		t.Errorf("Expected 3 windows, got %d", n)
	}
}

func TestIdleDisablesAndRestarts(t *testing.T) {
	samples := []int32{0, 100000, 200000}
	r := newRig(t, config.Default(), 1000, [NumAxes][]int32{samples})

	r.run.Play()
	r.sched.Tick(0)
	r.sched.Tick(1000)
	r.run.Reset()
	r.sched.Tick(1500)
	if r.gen.enabled {
		t.Errorf("Expected drivers disabled in Idle")
	}

	r.run.Play()
	r.sched.Tick(50000)
	st := r.sched.Status()
	if st.Index[0] != 1 || st.CommandedRaw[0] != 0 {
		t.Errorf("Expected a fresh run from sample 0, got index %d cmd %d", st.Index[0], st.CommandedRaw[0])
	}
}

func TestEstopStopsEveryTick(t *testing.T) {
	r := newRig(t, config.Default(), 1000, [NumAxes][]int32{{0, 1, 2}})

	r.run.Play()
	r.sched.Tick(0)
	r.run.Estop()
	before := r.gen.stops
	r.sched.Tick(100)
	r.sched.Tick(200)
	if r.gen.stops != before+2 || r.gen.enabled {
		t.Errorf("Expected stop and disable on every estopped tick")
	}
	if len(r.gen.windows) != 1 {
		t.Errorf("Expected no windows while estopped, got %d", len(r.gen.windows))
	}
}

func TestReadErrorCompletesAxis(t *testing.T) {
	cfg := config.Default()
	r := newRig(t, cfg, 1000, [NumAxes][]int32{{0, 1, 2, 3}, {0, 1, 2, 3}})
	r.mem.FailReadsBeyond(cfg.UI.TrajectoryFiles[1], traj.HeaderLen+4)

	r.run.Play()
	r.sched.Tick(0)
	r.sched.Tick(1000)

	st := r.sched.Status()
	if !st.Complete[1] || !st.Failed[1] {
		t.Errorf("Expected axis 1 complete after read failure, got %+v", st)
	}
	if st.Complete[0] {
		t.Errorf("Expected axis 0 to keep running")
	}
	if r.run.State() != runstate.Running {
		t.Errorf("Expected run to continue, got %v", r.run.State())
	}
}

func TestUnusableAxesExcluded(t *testing.T) {
	cfg := config.Default()
	r := newRig(t, cfg, 1000, [NumAxes][]int32{nil, {0, 1}})
	r.mem.WriteFile(cfg.UI.TrajectoryFiles[2], []byte("not a trajectory file at all....."))

	usable, errs := r.sched.LoadTrajectories(r.mem, cfg.UI.TrajectoryFiles)
	if usable != 1 {
		t.Fatalf("Expected one usable axis, got %d", usable)
	}
	if !errors.Is(errs[0], storage.ErrNotExist) {
		t.Errorf("Expected missing file error on axis 0, got %v", errs[0])
	}
	if !errors.Is(errs[2], traj.ErrBadMagic) {
		t.Errorf("Expected bad magic on axis 2, got %v", errs[2])
	}
	if r.sched.Usable(0) || r.sched.Usable(2) {
		t.Errorf("Expected axes 0 and 2 excluded")
	}

	r.run.Play()
	r.sched.Tick(0)
	for _, w := range r.gen.windows {
		if w.Axis != 1 {
			t.Errorf("Expected windows only on axis 1, got %+v", w)
		}
	}
}

func TestPlayRefusedWithoutTrajectories(t *testing.T) {
	r := newRig(t, config.Default(), 1000, [NumAxes][]int32{})

	r.run.Play()
	r.sched.Tick(0)
	if r.run.State() != runstate.Idle {
		t.Errorf("Expected play refused back to Idle, got %v", r.run.State())
	}
	if len(r.gen.windows) != 0 {
		t.Errorf("Expected no windows, got %d", len(r.gen.windows))
	}
}

func TestStatusProgressAndEncoders(t *testing.T) {
	r := newRig(t, config.Default(), 1000, [NumAxes][]int32{{0, 1, 2, 3}, {0, 1}})
	r.sched.SetEncoders(fixedCounts{10, -20, 30})

	r.run.Play()
	r.sched.Tick(0)

	st := r.sched.Status()
	// axis 0 at 1/4, axis 1 at 1/2
	if st.ProgressPct != 37.5 {
		t.Errorf("Expected 37.5%% progress, got %v", st.ProgressPct)
	}
	if diff := cmp.Diff([NumAxes]int32{10, -20, 30}, st.Encoders); diff != "" {
		t.Errorf("encoder counts mismatch (-want +got):\n%s", diff)
	}
	if st.State != runstate.Running {
		t.Errorf("Expected Running, got %v", st.State)
	}
}

func TestMeasureRates(t *testing.T) {
	mem := storage.NewMem()
	if err := traj.WriteFile(mem, "/x.traj", 10000, 1000000, []int32{0, 1000000, 2000000}); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	r, err := traj.Open(mem, "/x.traj")
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	rates, err := MeasureRates(r, 0)
	if err != nil {
		t.Fatalf("MeasureRates failed: %v", err)
	}
	if math.Abs(rates.PeakSpeedDPS-100) > 1e-6 {
		t.Errorf("Expected peak speed 100 deg/s, got %v", rates.PeakSpeedDPS)
	}
	if math.Abs(rates.PeakAccelDPS2-10000) > 1e-3 {
		t.Errorf("Expected peak accel 10000 deg/s^2, got %v", rates.PeakAccelDPS2)
	}
	if v, err := r.ReadNextScalar(0); err != nil || v != 0 {
		t.Errorf("Expected reader rewound to sample 0, got %d (%v)", v, err)
	}
}

func TestOverLimitTrajectoryStillPlays(t *testing.T) {
	mem := storage.NewMem()
	traj.WriteFile(mem, "/x.traj", 10000, 1000000, []int32{0, 1000000, 2000000})
	traj.WriteFile(mem, "/y.traj", 10000, 1000000, []int32{0, 100000, 200000})

	gen := &mockGen{}
	run := runstate.New(core.NewMockDigitalIO(), gen, runstate.FromConfig(config.Default()))
	s := New(gen, run, StepsPerDegree(config.Default()))
	s.SetLimits([NumAxes]Limits{{MaxSpeedDPS: 50}, {MaxSpeedDPS: 50}})
	if n, _ := s.LoadTrajectories(mem, [NumAxes]string{"/x.traj", "/y.traj", ""}); n != 2 {
		t.Fatalf("Expected 2 usable axes, got %d", n)
	}

	if _, over := s.Rates(0); !over {
		t.Errorf("Expected axis 0 over its speed limit")
	}
	if _, over := s.Rates(1); over {
		t.Errorf("Expected axis 1 within its speed limit")
	}
	st := s.Status()
	if st.OverLimit != [NumAxes]bool{true, false, false} {
		t.Errorf("Unexpected OverLimit %v", st.OverLimit)
	}
	if !s.Usable(0) || st.Index[0] != 0 {
		t.Errorf("Expected over-limit axis usable and rewound")
	}
}

func TestLimitsFromConfig(t *testing.T) {
	l := LimitsFromConfig(config.Default())
	if l[2] != (Limits{MaxSpeedDPS: 180, MaxAccelDPS2: 360}) {
		t.Errorf("Expected default limits 180/360, got %+v", l[2])
	}
}

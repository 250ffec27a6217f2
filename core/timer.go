package core

import "sync/atomic"

// The firmware timebase is a free-running 1MHz counter. Targets push the
// hardware value with SetUptime; simulations and tests drive it with SetTime
// and AdvanceTime.
const (
	TimerFreq = 1000000 // 1MHz, one tick per microsecond
)

var uptimeMicros atomic.Uint64

// GetTime returns the low 32 bits of the microsecond counter
func GetTime() uint32 {
	return uint32(uptimeMicros.Load())
}

// GetUptime returns the full 64-bit microsecond counter
func GetUptime() uint64 {
	return uptimeMicros.Load()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(us uint32) {
	uptimeMicros.Store(uint64(us))
}

// SetUptime stores a 64-bit hardware counter reading
func SetUptime(us uint64) {
	uptimeMicros.Store(us)
}

// Clock is the time source consumed by the task-side components.
type Clock interface {
	NowMicros() uint32
	NowMillis() uint32
}

// SystemClock reads the shared firmware timebase.
type SystemClock struct{}

func (SystemClock) NowMicros() uint32 { return GetTime() }

func (SystemClock) NowMillis() uint32 { return uint32(GetUptime() / 1000) }

// TimerFromMS converts milliseconds to timer ticks
func TimerFromMS(ms uint32) uint32 {
	return ms * (TimerFreq / 1000)
}

// Elapsed reports whether deadline has been reached at now, tolerating
// counter wraparound.
func Elapsed(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}

// AdvanceTime moves the timebase forward by us microseconds, stopping at
// every timer wake time on the way so handlers observe the time they were
// scheduled for.
func AdvanceTime(us uint32) {
	target := GetTime() + us
	for {
		wake, ok := nextWakeTime()
		if !ok || !Elapsed(target, wake) {
			break
		}
		if Elapsed(wake, GetTime()) {
			advanceTo(wake)
		}
		ProcessTimers()
	}
	advanceTo(target)
	ProcessTimers()
}

// advanceTo moves the 64-bit counter forward so its low word equals t
func advanceTo(t uint32) {
	uptimeMicros.Add(uint64(t - GetTime()))
}

// ProcessTimers runs every timer that is due at the current time
func ProcessTimers() {
	TimerDispatch(GetTime())
}

package core

import "sync/atomic"

// Timer represents a scheduled event
type Timer struct {
	WakeTime uint32
	Handler  func(*Timer) uint8
	Next     *Timer
}

const (
	SF_DONE       = 0
	SF_RESCHEDULE = 1
)

var timerList *Timer

// ScheduleTimer adds a timer to the schedule
func ScheduleTimer(t *Timer) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	insertTimer(t)
}

// insertTimer inserts a timer in sorted order by WakeTime
func insertTimer(t *Timer) {
	if timerList == nil || int32(t.WakeTime-timerList.WakeTime) < 0 {
		t.Next = timerList
		timerList = t
		return
	}

	current := timerList
	for current.Next != nil && int32(current.Next.WakeTime-t.WakeTime) < 0 {
		current = current.Next
	}

	t.Next = current.Next
	current.Next = t
}

// TimerDispatch runs every timer with WakeTime <= now. Handlers run with
// interrupts masked, exactly as they would from the hardware timer vector.
func TimerDispatch(now uint32) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	for timerList != nil && Elapsed(now, timerList.WakeTime) {
		timer := timerList
		timerList = timer.Next
		timer.Next = nil

		if timer.Handler(timer) == SF_RESCHEDULE {
			insertTimer(timer)
		}
	}
}

// ResetTimers drops every scheduled timer
func ResetTimers() {
	state := disableInterrupts()
	timerList = nil
	restoreInterrupts(state)
}

func nextWakeTime() (uint32, bool) {
	state := disableInterrupts()
	defer restoreInterrupts(state)
	if timerList == nil {
		return 0, false
	}
	return timerList.WakeTime, true
}

// PeriodicTimer is an interrupt source that calls its handler once per
// period until disarmed. Disarm must be safe to call from inside the handler.
type PeriodicTimer interface {
	Arm(periodUs uint32, handler func())
	Disarm()
}

// SimTimer is a PeriodicTimer backed by the software timer list. Every Arm
// starts a new generation; entries left in the list by an older generation
// retire themselves the next time they fire, so Disarm never has to touch
// the list and is safe from handler context.
type SimTimer struct {
	gen atomic.Uint32
}

func (s *SimTimer) Arm(periodUs uint32, handler func()) {
	if periodUs == 0 {
		periodUs = 1
	}
	gen := s.gen.Add(1)
	t := &Timer{WakeTime: GetTime() + periodUs}
	t.Handler = func(t *Timer) uint8 {
		if s.gen.Load() != gen {
			return SF_DONE
		}
		handler()
		if s.gen.Load() != gen {
			return SF_DONE
		}
		t.WakeTime += periodUs
		return SF_RESCHEDULE
	}
	ScheduleTimer(t)
}

func (s *SimTimer) Disarm() {
	s.gen.Add(1)
}

//go:build !tinygo

package core

import "sync"

// Off target there is no interrupt controller. Simulated ISRs are run by
// TimerDispatch, so masking is modelled by a mutex that serializes the timer
// list against task-side arming.
type irqState uintptr

var irqMu sync.Mutex

func disableInterrupts() irqState {
	irqMu.Lock()
	return 0
}

func restoreInterrupts(irqState) {
	irqMu.Unlock()
}

//go:build rp2040

package main

import (
	"runtime/volatile"
	"unsafe"

	"gimbal/core"
)

// RP2040 Timer peripheral memory map
const (
	timerBase     = 0x40054000
	timerTIMERAWH = timerBase + 0x24 // Raw timer high word
	timerTIMERAWL = timerBase + 0x28 // Raw timer low word
)

var (
	timerRAWH = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWH)))
	timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))
)

// hardwareUptime reads the 64-bit microsecond timer
func hardwareUptime() uint64 {
	// high, low, high again to detect a carry between the two reads
	for {
		high1 := timerRAWH.Get()
		low := timerRAWL.Get()
		high2 := timerRAWH.Get()
		if high1 == high2 {
			return (uint64(high1) << 32) | uint64(low)
		}
	}
}

// hwClock reads the timer registers directly, so it is valid from
// interrupt context
type hwClock struct{}

func (hwClock) NowMicros() uint32 { return timerRAWL.Get() }

func (hwClock) NowMillis() uint32 { return uint32(hardwareUptime() / 1000) }

// syncSystemTime pushes the hardware counter into the shared timebase used
// by the event ring
func syncSystemTime() {
	core.SetUptime(hardwareUptime())
}

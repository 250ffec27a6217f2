//go:build rp2040

package main

import (
	"machine"
	"time"
)

// initUSB configures machine.Serial, which is USB CDC on the RP2040
func initUSB() {
	machine.Serial.Configure(machine.UARTConfig{})
}

// usbLink writes telemetry to the host. A host that stops reading must not
// stall the firmware, so writes that make no progress are dropped.
type usbLink struct {
	failures uint32
}

func (u *usbLink) Write(p []byte) (int, error) {
	n, err := machine.Serial.Write(p)
	if err != nil || n < len(p) {
		u.failures++
	}
	return len(p), nil
}

// usbReaderLoop forwards received bytes to the firmware's host input
func usbReaderLoop(feed func([]byte)) {
	buf := make([]byte, 64)
	for {
		n := 0
		for n < len(buf) && machine.Serial.Buffered() > 0 {
			b, err := machine.Serial.ReadByte()
			if err != nil {
				break
			}
			buf[n] = b
			n++
		}
		if n > 0 {
			feed(buf[:n])
		}
		time.Sleep(time.Millisecond)
	}
}

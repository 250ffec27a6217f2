//go:build rp2040

package main

import (
	"machine"

	"gimbal/core"
)

// initDebugUART sends firmware debug output to UART0 on GP0/GP1 when the
// board leaves those pins free, at the configured serial baud, otherwise to
// the USB link
func initDebugUART(enabled bool, pinsFree bool, baud uint32) {
	if !enabled {
		return
	}
	if pinsFree {
		uart := machine.UART0
		if err := uart.Configure(machine.UARTConfig{
			BaudRate: baud,
			TX:       machine.GPIO0,
			RX:       machine.GPIO1,
		}); err == nil {
			core.SetDebugWriter(func(s string) {
				uart.Write([]byte(s))
				uart.Write([]byte("\r\n"))
			})
			core.SetDebugEnabled(true)
			core.InitAsyncDebug()
			return
		}
	}
	core.SetDebugWriter(func(s string) {
		machine.Serial.Write([]byte("# " + s + "\r\n"))
	})
	core.SetDebugEnabled(true)
	core.InitAsyncDebug()
}

//go:build rp2040

package main

import (
	"machine"
	"time"

	"gimbal/config"
	"gimbal/core"
	"gimbal/firmware"
)

func main() {
	// clear any watchdog state left by a previous reset
	if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0}); err != nil {
		return
	}

	initUSB()
	syncSystemTime()

	card, cardErr := mountCard()

	var cfg *config.Config
	if cardErr == nil {
		var err error
		cfg, err = firmware.LoadConfig(card)
		if err != nil {
			applyBoardPins(cfg)
		}
	} else {
		cfg = config.Default()
		applyBoardPins(cfg)
	}
	initDebugUART(cfg.Debug, !usesPin(cfg, 0) && !usesPin(cfg, 1), cfg.Telemetry.SerialBaud)
	if cardErr != nil {
		core.DebugPrintln("[SD] mount failed: " + cardErr.Error())
		fault(cfg)
	}

	timers, err := initMetronomes(firmware.NumAxes + 1)
	if err != nil {
		core.DebugPrintln("[PIO] " + err.Error())
		fault(cfg)
	}

	board := firmware.Board{
		IO:          boardIO{},
		SampleTimer: timers[firmware.NumAxes],
		Storage:     card,
		Clock:       hwClock{},
		Telemetry:   &usbLink{},
	}
	for i := range board.StepTimers {
		board.StepTimers[i] = timers[i]
	}

	fw := firmware.New(board, cfg)
	if err := fw.Setup(); err != nil {
		core.DebugPrintln("[BOOT] " + err.Error())
		fault(cfg)
	}
	if err := encoderIRQ(fw.Encoders, cfg.Pins.Encoders); err != nil {
		core.DebugPrintln("[ENC] " + err.Error())
		fault(cfg)
	}

	go usbReaderLoop(fw.HostInput)
	go timeKeeper()

	fw.Run(make(chan struct{}))
}

// timeKeeper keeps the shared timebase in step with the hardware timer
func timeKeeper() {
	for {
		syncSystemTime()
		time.Sleep(100 * time.Microsecond)
	}
}

// fault holds the drivers disabled and leaves the status LED lit
func fault(cfg *config.Config) {
	io := boardIO{}
	for _, a := range cfg.Pins.Axis {
		io.ConfigureOutput(a.Enable, cfg.Stepper.EnableActiveLow)
	}
	io.ConfigureOutput(cfg.Pins.Leds.Status, true)
	for {
		time.Sleep(time.Second)
	}
}

func usesPin(cfg *config.Config, pin core.Pin) bool {
	p := cfg.Pins
	for i := range p.Axis {
		if p.Axis[i].Enable == pin || p.Axis[i].Dir == pin || p.Axis[i].Step == pin ||
			p.Encoders[i].A == pin || p.Encoders[i].B == pin {
			return true
		}
	}
	b := p.Buttons
	if b.PlayPause == pin || b.Reset == pin || b.Estop == pin || b.EstopAck == pin || p.Leds.Status == pin {
		return true
	}
	for _, l := range p.Leds.ProgressBar {
		if l == pin {
			return true
		}
	}
	return false
}

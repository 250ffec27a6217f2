//go:build rp2040

package main

import (
	"errors"
	"machine"

	"gimbal/config"
	"gimbal/core"
)

const numGPIO = 30

var errBadPin = errors.New("pin out of range for rp2040")

// boardIO implements core.DigitalIO on the RP2040 GPIO bank
type boardIO struct{}

func (boardIO) ConfigureOutput(pin core.Pin, level bool) error {
	if pin == core.NoPin {
		return nil
	}
	if pin >= numGPIO {
		return errBadPin
	}
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	p.Set(level)
	return nil
}

func (boardIO) ConfigureInput(pin core.Pin, pullUp bool) error {
	if pin == core.NoPin {
		return nil
	}
	if pin >= numGPIO {
		return errBadPin
	}
	mode := machine.PinInput
	if pullUp {
		mode = machine.PinInputPullup
	}
	machine.Pin(pin).Configure(machine.PinConfig{Mode: mode})
	return nil
}

func (boardIO) ReadLevel(pin core.Pin) bool {
	if pin == core.NoPin {
		return false
	}
	return machine.Pin(pin).Get()
}

func (boardIO) WriteLevel(pin core.Pin, high bool) {
	if pin == core.NoPin {
		return
	}
	machine.Pin(pin).Set(high)
}

// applyBoardPins replaces the generic default pin map with one that fits a
// Pico. Used only when commands.json could not be read.
//
//	GP0-GP8   enable/dir/step for X, Y, Z
//	GP9-GP14  encoder A/B for X, Y, Z
//	GP15      estop acknowledge key switch
//	GP16-GP19 SD card on SPI0
//	GP20-GP22 play/pause, reset, estop
//	GP25      status LED (on-board)
//	GP23,24,26,27,28 progress bar
func applyBoardPins(cfg *config.Config) {
	p := &cfg.Pins
	for i := range p.Axis {
		base := core.Pin(i * 3)
		p.Axis[i].Enable = base
		p.Axis[i].Dir = base + 1
		p.Axis[i].Step = base + 2
	}
	for i := range p.Encoders {
		p.Encoders[i].A = core.Pin(9 + i*2)
		p.Encoders[i].B = core.Pin(10 + i*2)
	}
	p.Buttons = config.ButtonPins{PlayPause: 20, Reset: 21, Estop: 22, EstopAck: 15}
	p.Leds = config.LedPins{Status: 25, ProgressBar: [5]core.Pin{23, 24, 26, 27, 28}}
	p.SDCardCS = 17
}

// encoderIRQ routes the A/B pin-change interrupts of every axis to the
// decoder bank
func encoderIRQ(bank interface{ OnEdge(int) }, pins [config.NumAxes]config.EncoderPins) error {
	for axis, ep := range pins {
		axis := axis
		handler := func(machine.Pin) { bank.OnEdge(axis) }
		for _, pin := range []core.Pin{ep.A, ep.B} {
			if pin == core.NoPin {
				continue
			}
			if pin >= numGPIO {
				return errBadPin
			}
			if err := machine.Pin(pin).SetInterrupt(machine.PinRising|machine.PinFalling, handler); err != nil {
				return err
			}
		}
	}
	return nil
}

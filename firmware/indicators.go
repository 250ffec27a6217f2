package firmware

import (
	"math"

	"gimbal/config"
	"gimbal/core"
)

const barLeds = 5

// Indicators drives the status LED and the 5-LED progress bar
type Indicators struct {
	io     core.DigitalIO
	status core.Pin
	bar    [barLeds]core.Pin
	lit    int
}

func NewIndicators(io core.DigitalIO, leds config.LedPins) *Indicators {
	return &Indicators{io: io, status: leds.Status, bar: leds.ProgressBar, lit: -1}
}

func (ind *Indicators) Init() error {
	if ind.status != core.NoPin {
		if err := ind.io.ConfigureOutput(ind.status, false); err != nil {
			return err
		}
	}
	for _, p := range ind.bar {
		if p == core.NoPin {
			continue
		}
		if err := ind.io.ConfigureOutput(p, false); err != nil {
			return err
		}
	}
	return nil
}

// SetStatus lights the status LED (booting or faulted)
func (ind *Indicators) SetStatus(on bool) {
	ind.io.WriteLevel(ind.status, on)
}

// LitCount is the number of bar LEDs shown for pct
func LitCount(pct float64) int {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return int(math.Round(pct / 20))
}

// SetProgress lights round(pct/20) bar LEDs
func (ind *Indicators) SetProgress(pct float64) {
	n := LitCount(pct)
	if n == ind.lit {
		return
	}
	ind.lit = n
	for i, p := range ind.bar {
		ind.io.WriteLevel(p, i < n)
	}
}

package main

import (
	"fmt"
	"os"

	"gimbal/config"
	"gimbal/encoder"
)

const defaultBaud = 115200

// loadBoardConfig reads a copy of the card's commands.json. An empty path
// returns nil.
func loadBoardConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// monitorBaud picks the link speed: the -baud flag, then the board
// configuration, then the firmware default
func monitorBaud(flagBaud int, cfg *config.Config) int {
	switch {
	case flagBaud > 0:
		return flagBaud
	case cfg != nil:
		return int(cfg.Telemetry.SerialBaud)
	}
	return defaultBaud
}

// encoderScales returns the per-count scale of every axis and the axis
// label for charts. A positive cpr wins over the configuration and gives
// degrees; with neither, counts are left raw.
func encoderScales(cfg *config.Config, cpr float64) ([3]float64, string, error) {
	var out [3]float64
	if cpr > 0 {
		for i := range out {
			out[i] = 360 / cpr
		}
		return out, unitLabel("deg"), nil
	}
	if cfg == nil {
		return out, unitLabel("counts"), nil
	}

	units := cfg.Encoders.Axes[0].Units
	for i, a := range cfg.Encoders.Axes {
		s, err := encoder.Scale(a)
		if err != nil {
			return out, "", fmt.Errorf("encoder %d: %w", i, err)
		}
		out[i] = s
		if a.Units != units {
			units = ""
		}
	}
	return out, unitLabel(units), nil
}

func unitLabel(units string) string {
	switch units {
	case "deg":
		return "Angle (deg)"
	case "rad":
		return "Angle (rad)"
	case "rev":
		return "Revolutions"
	case "counts":
		return "Counts"
	}
	return "Position"
}

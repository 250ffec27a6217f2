// Package config loads the board configuration (commands.json) from the
// card. Missing keys fall back to safe defaults so the board comes up
// disabled and idle even with a sparse file.
package config

import (
	"encoding/json"
	"errors"

	"gimbal/core"
	"gimbal/storage"
)

// Path is where the configuration lives on the card
const Path = "/gimbal/commands.json"

const NumAxes = 3

var (
	ErrSchemaVersion = errors.New("config: unsupported schema_version")
	ErrUnits         = errors.New("config: encoder units must be deg, rad, rev or counts")
)

// AxisPins are the outputs for one stepper driver
type AxisPins struct {
	Enable         core.Pin `json:"enable"`
	Dir            core.Pin `json:"dir"`
	Step           core.Pin `json:"step"`
	InvertDir      bool     `json:"invert_dir"`
	StepActiveHigh bool     `json:"step_active_high"`
}

// EncoderPins are the quadrature inputs for one axis
type EncoderPins struct {
	A core.Pin `json:"a"`
	B core.Pin `json:"b"`
}

// ButtonPins are the operator inputs, active low with pull-ups
type ButtonPins struct {
	PlayPause core.Pin `json:"play_pause"`
	Reset     core.Pin `json:"reset"`
	Estop     core.Pin `json:"estop"`

	// EstopAck is the key switch that acknowledges a latched estop
	EstopAck core.Pin `json:"estop_ack"`
}

// LedPins are the status and progress indicators
type LedPins struct {
	Status      core.Pin    `json:"status"`
	ProgressBar [5]core.Pin `json:"progress_bar"`
}

type Pins struct {
	Axis     [NumAxes]AxisPins    `json:"axis"`
	Encoders [NumAxes]EncoderPins `json:"encoders"`
	Buttons  ButtonPins           `json:"buttons"`
	Leds     LedPins              `json:"leds"`
	SDCardCS core.Pin             `json:"sd_card_cs"`

	// Estop is the legacy top-level location of the estop pin; when set it
	// wins over Buttons.Estop
	Estop *core.Pin `json:"estop,omitempty"`
}

// StepperAxis describes one motor and its driver
type StepperAxis struct {
	StepsPerRev  uint32  `json:"steps_per_rev"`
	Microstep    uint32  `json:"microstep"`
	MaxSpeedDPS  float64 `json:"max_speed_dps"`
	MaxAccelDPS2 float64 `json:"max_accel_dps2"`
	StepPulseUs  uint32  `json:"step_pulse_us"`
}

type Stepper struct {
	Axes            [NumAxes]StepperAxis `json:"axes"`
	EnableActiveLow bool                 `json:"enable_active_low"`
}

type EncoderAxis struct {
	CPR   uint32 `json:"cpr"`
	Quad  uint8  `json:"quad"`
	Units string `json:"units"`
}

type Encoders struct {
	Axes [NumAxes]EncoderAxis `json:"axes"`
}

type Safety struct {
	EstopLatching bool   `json:"estop_latching"`
	DebounceMs    uint32 `json:"debounce_ms"`
}

type Logging struct {
	Enabled  bool   `json:"enabled"`
	RateHz   uint32 `json:"rate_hz"`
	DrainHz  uint32 `json:"drain_hz"`
	SyncMs   uint32 `json:"sync_ms"`
	RingSize uint32 `json:"ring_size"`
	Dir      string `json:"dir"`
}

type UI struct {
	TrajectoryFiles  [NumAxes]string `json:"trajectory_files"`
	AutoplayOnInsert bool            `json:"autoplay_on_insert"`
}

type Telemetry struct {
	SerialBaud uint32 `json:"serial_baud"`
	LiveStream bool   `json:"live_stream"`
}

// Config is the complete board configuration
type Config struct {
	SchemaVersion uint8     `json:"schema_version"`
	Pins          Pins      `json:"pins"`
	Stepper       Stepper   `json:"stepper"`
	Encoders      Encoders  `json:"encoders"`
	Safety        Safety    `json:"safety"`
	Logging       Logging   `json:"logging"`
	UI            UI        `json:"ui"`
	Telemetry     Telemetry `json:"telemetry"`

	// Debug turns on the firmware debug channel
	Debug bool `json:"debug"`
}

// Load parses a JSON configuration on top of the defaults
func Load(data []byte) (*Config, error) {
	cfg := Default()
	cfg.SchemaVersion = 0

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if cfg.SchemaVersion != 1 {
		return nil, ErrSchemaVersion
	}

	applyDefaults(cfg)
	for _, e := range cfg.Encoders.Axes {
		switch e.Units {
		case "deg", "rad", "rev", "counts":
		default:
			return nil, ErrUnits
		}
	}
	return cfg, nil
}

// LoadFile reads and parses the configuration through the storage collaborator
func LoadFile(s storage.Storage, path string) (*Config, error) {
	data, err := storage.ReadFile(s, path)
	if err != nil {
		return nil, err
	}
	return Load(data)
}

// applyDefaults fills zero values the JSON left behind, e.g. from a short
// axes array or an explicit 0
func applyDefaults(cfg *Config) {
	if cfg.Pins.Estop != nil {
		cfg.Pins.Buttons.Estop = *cfg.Pins.Estop
		cfg.Pins.Estop = nil
	}

	for i := range cfg.Stepper.Axes {
		a := &cfg.Stepper.Axes[i]
		if a.StepsPerRev == 0 {
			a.StepsPerRev = 200
		}
		if a.Microstep == 0 {
			a.Microstep = 16
		}
		if a.MaxSpeedDPS == 0 {
			a.MaxSpeedDPS = 180.0
		}
		if a.MaxAccelDPS2 == 0 {
			a.MaxAccelDPS2 = 360.0
		}
		if a.StepPulseUs == 0 {
			a.StepPulseUs = 3
		}
	}

	for i := range cfg.Encoders.Axes {
		e := &cfg.Encoders.Axes[i]
		if e.CPR == 0 {
			e.CPR = 2048
		}
		if e.Quad == 0 {
			e.Quad = 4
		}
		if e.Units == "" {
			e.Units = "deg"
		}
	}

	if cfg.Safety.DebounceMs == 0 {
		cfg.Safety.DebounceMs = 20
	}

	if cfg.Logging.RateHz == 0 {
		cfg.Logging.RateHz = 200
	}
	if cfg.Logging.DrainHz == 0 {
		cfg.Logging.DrainHz = 100
	}
	if cfg.Logging.SyncMs == 0 {
		cfg.Logging.SyncMs = 1000
	}
	if cfg.Logging.RingSize < 2 {
		cfg.Logging.RingSize = 256
	}
	if cfg.Logging.Dir == "" {
		cfg.Logging.Dir = "/logs"
	}

	for i, def := range defaultTrajectoryFiles {
		if cfg.UI.TrajectoryFiles[i] == "" {
			cfg.UI.TrajectoryFiles[i] = def
		}
	}

	if cfg.Telemetry.SerialBaud == 0 {
		cfg.Telemetry.SerialBaud = 115200
	}
}

var defaultTrajectoryFiles = [NumAxes]string{
	"/gimbal/trajectory_X.traj",
	"/gimbal/trajectory_Y.traj",
	"/gimbal/trajectory_Z.traj",
}

// Default returns the board defaults: drivers disabled, latching estop
func Default() *Config {
	cfg := &Config{
		SchemaVersion: 1,
		Pins: Pins{
			Axis: [NumAxes]AxisPins{
				{Enable: 2, Dir: 3, Step: 4, StepActiveHigh: true},
				{Enable: 5, Dir: 6, Step: 7, StepActiveHigh: true},
				{Enable: 8, Dir: 9, Step: 10, StepActiveHigh: true},
			},
			Encoders: [NumAxes]EncoderPins{
				{A: 22, B: 23},
				{A: 24, B: 25},
				{A: 26, B: 27},
			},
			Buttons: ButtonPins{PlayPause: 30, Reset: 31, Estop: 32, EstopAck: core.NoPin},
			Leds: LedPins{
				Status:      33,
				ProgressBar: [5]core.Pin{34, 35, 36, 37, 38},
			},
			SDCardCS: 17,
		},
		Stepper:   Stepper{EnableActiveLow: true},
		Safety:    Safety{EstopLatching: true},
		Logging:   Logging{Enabled: true},
		Telemetry: Telemetry{LiveStream: true},
	}
	applyDefaults(cfg)
	return cfg
}

// StepsPerDegree returns the microstep resolution of an axis
func (c *Config) StepsPerDegree(axis int) float64 {
	a := c.Stepper.Axes[axis]
	return float64(a.StepsPerRev) * float64(a.Microstep) / 360.0
}

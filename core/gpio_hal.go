package core

// Pin identifies a hardware GPIO pin number
type Pin uint8

// NoPin marks an unassigned input or output; reads return the inactive
// level and writes are dropped.
const NoPin Pin = 0xFF

// DigitalIO is the abstract GPIO interface that core code uses.
// Platform-specific implementations handle actual hardware control.
// WriteLevel and ReadLevel are called from interrupt context and must not
// block or allocate.
type DigitalIO interface {
	// ConfigureOutput configures a pin as a digital output driven to level
	ConfigureOutput(pin Pin, level bool) error

	// ConfigureInput configures a pin as a digital input, optionally with
	// the internal pull-up enabled
	ConfigureInput(pin Pin, pullUp bool) error

	// ReadLevel reads the current pin level
	ReadLevel(pin Pin) bool

	// WriteLevel drives an output pin high (true) or low (false)
	WriteLevel(pin Pin, high bool)
}

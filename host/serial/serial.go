// Package serial opens the USB CDC link to the gimbal controller and finds
// candidate devices.
package serial

import (
	"io"
	"strings"
)

// Port is an open serial link. Tests substitute an in-memory pipe.
type Port interface {
	io.ReadWriteCloser

	// Flush flushes any buffered data
	Flush() error
}

// Config holds serial port configuration
type Config struct {
	// Device path (e.g., "/dev/ttyACM0", "COM3")
	Device string

	// Baud rate; USB CDC ignores it but the config file carries one
	Baud int

	// Read timeout in milliseconds (0 = blocking)
	ReadTimeout int
}

// DefaultConfig returns the controller's default link settings
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        115200,
		ReadTimeout: 100,
	}
}

// likelyController reports whether a port name looks like a USB CDC device
func likelyController(name string) bool {
	for _, hint := range []string{"ttyACM", "ttyUSB", "usbmodem", "usbserial", "COM"} {
		if strings.Contains(name, hint) {
			return true
		}
	}
	return false
}

// FilterControllers keeps the ports that look like USB CDC devices
func FilterControllers(ports []string) []string {
	var out []string
	for _, p := range ports {
		if likelyController(p) {
			out = append(out, p)
		}
	}
	return out
}

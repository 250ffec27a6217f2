package core

import "sync"

// PinEdge is one recorded output transition.
type PinEdge struct {
	Time  uint32
	Level bool
}

// MockDigitalIO is an in-memory DigitalIO used by tests and the desktop
// simulator. Every level change on an output is recorded with the current
// timebase value.
type MockDigitalIO struct {
	mu      sync.Mutex
	levels  map[Pin]bool
	outputs map[Pin]bool
	edges   map[Pin][]PinEdge
	noEdges bool
}

func NewMockDigitalIO() *MockDigitalIO {
	return &MockDigitalIO{
		levels:  make(map[Pin]bool),
		outputs: make(map[Pin]bool),
		edges:   make(map[Pin][]PinEdge),
	}
}

func (m *MockDigitalIO) ConfigureOutput(pin Pin, level bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs[pin] = true
	m.levels[pin] = level
	return nil
}

func (m *MockDigitalIO) ConfigureInput(pin Pin, pullUp bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.levels[pin]; !ok {
		m.levels[pin] = pullUp
	}
	return nil
}

func (m *MockDigitalIO) ReadLevel(pin Pin) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.levels[pin]
}

func (m *MockDigitalIO) WriteLevel(pin Pin, high bool) {
	if pin == NoPin {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.levels[pin] != high && !m.noEdges {
		m.edges[pin] = append(m.edges[pin], PinEdge{Time: GetTime(), Level: high})
	}
	m.levels[pin] = high
}

// SetInput forces the level seen on an input pin
func (m *MockDigitalIO) SetInput(pin Pin, high bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.levels[pin] = high
}

// Edges returns a copy of the transitions recorded on pin
func (m *MockDigitalIO) Edges(pin Pin) []PinEdge {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PinEdge, len(m.edges[pin]))
	copy(out, m.edges[pin])
	return out
}

// RisingEdges counts low-to-high transitions on pin
func (m *MockDigitalIO) RisingEdges(pin Pin) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.edges[pin] {
		if e.Level {
			n++
		}
	}
	return n
}

// ClearEdges forgets every recorded transition
func (m *MockDigitalIO) ClearEdges() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges = make(map[Pin][]PinEdge)
}

// SetEdgeRecording turns the transition log on or off; long simulations
// turn it off
func (m *MockDigitalIO) SetEdgeRecording(on bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.noEdges = !on
}

package core

import "sync"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// EventRecord captures a timing-critical event for post-mortem analysis
type EventRecord struct {
	EventType uint8  // Event type code
	Axis      uint8  // Axis index, 0xFF when not axis-specific
	Clock     uint32 // System clock at event
	Value1    int32  // Context-dependent value
	Value2    int32  // Context-dependent value
}

// Event type codes
const (
	EvtSchedule    = 1 // step window armed (v1=steps, v2=half-period)
	EvtStop        = 2 // channel disarmed from task context
	EvtEstop       = 3 // estop entered
	EvtCatchUp     = 4 // playback snapped next-due forward (v1=lag us)
	EvtAxisDone    = 5 // axis finished (v1=samples played, v2=1 on read error)
	EvtLogDrop     = 6 // encoder samples dropped (v1=total drops)
	EvtStateChange = 7 // run state change (v1=from, v2=to)
)

const (
	EventRingSize = 32 // Keep last 32 events for post-mortem
	NoAxis        = 0xFF
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {}

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	eventMu       sync.Mutex
	eventRing     [EventRingSize]EventRecord
	eventRingHead uint8

	// Async debug output channel
	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
// This allows platforms to redirect debug output to UART, USB, etc.
func SetDebugWriter(writer DebugWriter) {
	if writer == nil {
		writer = func(string) {}
	}
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the async debug output goroutine
// Call this from main() after SetDebugWriter
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker(debugChan)
}

func debugOutputWorker(ch chan string) {
	for msg := range ch {
		debugPrintln(msg)
	}
}

// DebugPrintln writes a debug message using the platform-specific writer
// Blocks if debug is enabled (use DebugAsync for non-blocking)
func DebugPrintln(msg string) {
	if debugEnabled {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message for async output (non-blocking)
// Returns immediately even if channel is full (drops message)
func DebugAsync(msg string) {
	if !debugEnabled || debugChan == nil {
		return
	}
	select {
	case debugChan <- msg:
	default:
	}
}

// RecordEvent captures an event in the ring buffer. Task context only; the
// ring is not shared with interrupt handlers.
func RecordEvent(eventType, axis uint8, value1, value2 int32) {
	eventMu.Lock()
	defer eventMu.Unlock()
	idx := eventRingHead
	eventRing[idx] = EventRecord{
		EventType: eventType,
		Axis:      axis,
		Clock:     GetTime(),
		Value1:    value1,
		Value2:    value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// Events returns the recorded events, oldest first
func Events() []EventRecord {
	eventMu.Lock()
	defer eventMu.Unlock()
	out := make([]EventRecord, 0, EventRingSize)
	start := eventRingHead
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(start+i)%EventRingSize]
		if evt.EventType == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func eventName(t uint8) string {
	switch t {
	case EvtSchedule:
		return "SCHEDULE"
	case EvtStop:
		return "STOP"
	case EvtEstop:
		return "ESTOP"
	case EvtCatchUp:
		return "CATCH_UP"
	case EvtAxisDone:
		return "AXIS_DONE"
	case EvtLogDrop:
		return "LOG_DROP"
	case EvtStateChange:
		return "STATE"
	default:
		return "UNKNOWN"
	}
}

// DumpEvents writes the event ring through the debug writer, regardless of
// the debug enable flag (call on estop or fault)
func DumpEvents() {
	debugPrintln("[EVENTS] === Event Ring Dump ===")
	for _, evt := range Events() {
		debugPrintln("[EVENTS] " + eventName(evt.EventType) +
			" axis=" + Itoa(int(evt.Axis)) +
			" clock=" + Utoa(evt.Clock) +
			" v1=" + Itoa(int(evt.Value1)) +
			" v2=" + Itoa(int(evt.Value2)))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

// ClearEvents clears the event ring
func ClearEvents() {
	eventMu.Lock()
	defer eventMu.Unlock()
	for i := range eventRing {
		eventRing[i] = EventRecord{}
	}
	eventRingHead = 0
}

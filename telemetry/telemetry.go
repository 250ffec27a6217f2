// Package telemetry is the line protocol spoken with the host over the USB
// serial link. The host opens a session with HELLO; until then the firmware
// stays silent.
//
// Host to firmware:
//
//	HELLO        -> ACK, session active
//	LIVE_ON      stream ENC/CMD lines
//	LIVE_OFF     stop streaming ENC/CMD lines
//	ESTOP        -> ESTOP_ACK, enter estop
//	ESTOP_CLEAR  -> ESTOP_CLEARED, or ERR ESTOP_CLEAR without a session or
//	                while the estop latches
//	STATUS       -> STATE and PROGRESS now
//
// Firmware to host, while a session is active:
//
//	STATE <name>
//	PROGRESS <pct>
//	ENC <e0> <e1> <e2>
//	CMD <d0> <d1> <d2>   (commanded angles, fixed-point)
package telemetry

import (
	"io"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"gimbal/core"
	"gimbal/playback"
	"gimbal/runstate"
)

const maxLine = 64

// Commands are the run-state actions reachable from the host
type Commands interface {
	Estop()
	ClearEstop() bool
}

// StatusSource provides the snapshot streamed to the host
type StatusSource interface {
	Status() playback.Status
}

// Link owns the serial session. Feed runs on the host-link task; Tick and
// StateChanged may run on other tasks, so writes are serialised.
type Link struct {
	w   io.Writer
	cmd Commands
	src StatusSource

	hostActive atomic.Bool
	live       atomic.Bool

	line     []byte
	overflow bool

	mu  sync.Mutex
	out []byte
}

func New(w io.Writer, cmd Commands, src StatusSource, live bool) *Link {
	l := &Link{
		w:    w,
		cmd:  cmd,
		src:  src,
		line: make([]byte, 0, maxLine),
		out:  make([]byte, 0, 64),
	}
	l.live.Store(live)
	return l
}

// HostActive reports whether a host has said HELLO
func (l *Link) HostActive() bool { return l.hostActive.Load() }

// Live reports whether ENC/CMD lines are streamed
func (l *Link) Live() bool { return l.live.Load() }

// Feed consumes received bytes; complete lines are handled as they end.
// Over-long lines are discarded.
func (l *Link) Feed(p []byte) {
	for _, c := range p {
		switch {
		case c == '\n':
			if !l.overflow {
				l.HandleLine(string(l.line))
			}
			l.line = l.line[:0]
			l.overflow = false
		case len(l.line) >= maxLine:
			l.overflow = true
		default:
			l.line = append(l.line, c)
		}
	}
}

// HandleLine executes one host command
func (l *Link) HandleLine(line string) {
	switch strings.TrimSpace(line) {
	case "":
	case "HELLO":
		l.hostActive.Store(true)
		l.send("ACK")
	case "LIVE_ON":
		l.live.Store(true)
	case "LIVE_OFF":
		l.live.Store(false)
	case "ESTOP":
		l.send("ESTOP_ACK")
		l.cmd.Estop()
	case "ESTOP_CLEAR":
		if l.hostActive.Load() && l.cmd.ClearEstop() {
			l.send("ESTOP_CLEARED")
		} else {
			l.send("ERR ESTOP_CLEAR")
		}
	case "STATUS":
		if l.hostActive.Load() {
			st := l.src.Status()
			l.sendState(st.State)
			l.sendProgress(st.ProgressPct)
		}
	default:
		l.send("ERR UNKNOWN")
	}
}

// StateChanged is installed as the run-state observer
func (l *Link) StateChanged(_, to runstate.State) {
	if l.hostActive.Load() {
		l.sendState(to)
	}
}

// Tick emits the periodic lines; called at about 50 Hz
func (l *Link) Tick() {
	if !l.hostActive.Load() {
		return
	}
	st := l.src.Status()
	l.sendProgress(st.ProgressPct)
	if !l.live.Load() {
		return
	}
	l.sendTriple("ENC", st.Encoders)
	l.sendTriple("CMD", st.CommandedRaw)
}

func (l *Link) sendState(s runstate.State) {
	l.send("STATE " + s.String())
}

func (l *Link) sendProgress(pct float64) {
	l.send("PROGRESS " + core.FixedToa(int64(math.Round(pct*100)), 2))
}

func (l *Link) sendTriple(tag string, v [playback.NumAxes]int32) {
	l.send(tag + " " + core.Itoa(int(v[0])) + " " + core.Itoa(int(v[1])) + " " + core.Itoa(int(v[2])))
}

func (l *Link) send(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.out = append(l.out[:0], s...)
	l.out = append(l.out, '\r', '\n')
	l.w.Write(l.out)
}

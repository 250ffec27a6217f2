// Package session is the host end of the controller's line protocol. A
// Session opens the link with HELLO, parses the status lines the controller
// streams back and sends the operator commands.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"gimbal/host/serial"
)

var (
	ErrClosed  = errors.New("session closed")
	ErrRefused = errors.New("controller refused command")
)

// Kind classifies a line received from the controller
type Kind uint8

const (
	KindOther Kind = iota
	KindState
	KindProgress
	KindEncoders
	KindCommanded
)

// Event is one parsed status line
type Event struct {
	Kind     Kind
	State    string
	Progress float64
	Values   [3]int32
	Line     string
	At       time.Time
}

// Session is a connection to one controller
type Session struct {
	port serial.Port

	writeMu sync.Mutex

	events  chan Event
	replies chan string

	closeOnce sync.Once
	done      chan struct{}
	readErr   error
	exited    chan struct{}
}

// Dial opens the serial device and says HELLO
func Dial(ctx context.Context, cfg *serial.Config) (*Session, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	s := New(port)
	if err := s.Hello(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("handshake on %s: %w", cfg.Device, err)
	}
	return s, nil
}

// New starts reading from an already open port
func New(port serial.Port) *Session {
	s := &Session{
		port:    port,
		events:  make(chan Event, 256),
		replies: make(chan string, 8),
		done:    make(chan struct{}),
		exited:  make(chan struct{}),
	}
	port.Flush()
	go s.readLoop()
	return s
}

// Events delivers status lines as they arrive. When the consumer falls
// behind, new events are dropped rather than stalling the reader.
func (s *Session) Events() <-chan Event { return s.events }

// Err returns the error that ended the reader, if any
func (s *Session) Err() error {
	select {
	case <-s.exited:
		return s.readErr
	default:
		return nil
	}
}

// Close ends the session and closes the port
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.port.Close()
	})
	return err
}

// Hello opens the controller session
func (s *Session) Hello(ctx context.Context) error {
	_, err := s.request(ctx, "HELLO", "ACK")
	return err
}

// Estop asks the controller to stop all motion
func (s *Session) Estop(ctx context.Context) error {
	_, err := s.request(ctx, "ESTOP", "ESTOP_ACK")
	return err
}

// ClearEstop asks the controller to leave estop. It is refused with
// ErrRefused while the physical estop input is held or when the controller
// latches estops; a latched estop needs the key switch on the rig.
func (s *Session) ClearEstop(ctx context.Context) error {
	_, err := s.request(ctx, "ESTOP_CLEAR", "ESTOP_CLEARED")
	return err
}

// SetLive turns the ENC/CMD stream on or off
func (s *Session) SetLive(on bool) error {
	if on {
		return s.send("LIVE_ON")
	}
	return s.send("LIVE_OFF")
}

// RequestStatus asks for an immediate STATE and PROGRESS pair
func (s *Session) RequestStatus() error {
	return s.send("STATUS")
}

func (s *Session) send(cmd string) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.port.Write([]byte(cmd + "\n")); err != nil {
		return fmt.Errorf("send %s: %w", cmd, err)
	}
	return nil
}

// request sends cmd and waits for want. An ERR reply fails with ErrRefused.
func (s *Session) request(ctx context.Context, cmd, want string) (string, error) {
	s.drainReplies()
	if err := s.send(cmd); err != nil {
		return "", err
	}
	for {
		select {
		case r := <-s.replies:
			if r == want {
				return r, nil
			}
			if strings.HasPrefix(r, "ERR") {
				return r, fmt.Errorf("%s: %s: %w", cmd, r, ErrRefused)
			}
		case <-s.exited:
			if s.readErr != nil {
				return "", fmt.Errorf("%s: %w", cmd, s.readErr)
			}
			return "", ErrClosed
		case <-ctx.Done():
			return "", fmt.Errorf("%s: waiting for %s: %w", cmd, want, ctx.Err())
		}
	}
}

func (s *Session) drainReplies() {
	for {
		select {
		case <-s.replies:
		default:
			return
		}
	}
}

func (s *Session) readLoop() {
	defer close(s.exited)
	defer close(s.events)

	buf := make([]byte, 256)
	var line []byte
	for {
		n, err := s.port.Read(buf)
		for _, c := range buf[:n] {
			if c != '\n' {
				line = append(line, c)
				continue
			}
			s.dispatch(strings.TrimRight(string(line), "\r"))
			line = line[:0]
		}
		if err == nil {
			continue
		}
		select {
		case <-s.done:
			return
		default:
		}
		// a read timeout surfaces as EOF on some platforms
		if errors.Is(err, io.EOF) && n == 0 {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		s.readErr = fmt.Errorf("read: %w", err)
		return
	}
}

func (s *Session) dispatch(line string) {
	if line == "" {
		return
	}
	if isReply(line) {
		select {
		case s.replies <- line:
		default:
		}
		return
	}
	ev, err := ParseLine(line)
	if err != nil {
		ev = Event{Kind: KindOther, Line: line}
	}
	ev.At = time.Now()
	select {
	case s.events <- ev:
	default:
	}
}

func isReply(line string) bool {
	switch line {
	case "ACK", "ESTOP_ACK", "ESTOP_CLEARED":
		return true
	}
	return strings.HasPrefix(line, "ERR")
}

// ParseLine decodes one status line
func ParseLine(line string) (Event, error) {
	fields := strings.Fields(line)
	ev := Event{Kind: KindOther, Line: line}
	if len(fields) == 0 {
		return ev, fmt.Errorf("empty line")
	}
	switch fields[0] {
	case "STATE":
		if len(fields) != 2 {
			return ev, fmt.Errorf("malformed STATE line %q", line)
		}
		ev.Kind = KindState
		ev.State = fields[1]
	case "PROGRESS":
		if len(fields) != 2 {
			return ev, fmt.Errorf("malformed PROGRESS line %q", line)
		}
		pct, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return ev, fmt.Errorf("parse progress %q: %w", line, err)
		}
		ev.Kind = KindProgress
		ev.Progress = pct
	case "ENC", "CMD":
		if len(fields) != 4 {
			return ev, fmt.Errorf("malformed %s line %q", fields[0], line)
		}
		for i := 0; i < 3; i++ {
			v, err := strconv.ParseInt(fields[i+1], 10, 32)
			if err != nil {
				return ev, fmt.Errorf("parse %s value %q: %w", fields[0], fields[i+1], err)
			}
			ev.Values[i] = int32(v)
		}
		ev.Kind = KindEncoders
		if fields[0] == "CMD" {
			ev.Kind = KindCommanded
		}
	}
	return ev, nil
}

package main

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

const defaultHold = 50 * time.Millisecond

// press is one scripted operator action at a simulated time
type press struct {
	At     time.Duration
	Button string
	Hold   time.Duration
}

var buttons = map[string]bool{"play": true, "reset": true, "estop": true, "ack": true}

// parseScript reads a comma separated list of button@time[+hold], e.g.
// "play@100ms,estop@2s+1s,ack@4s". "ack" acknowledges a latched estop
// the way the key switch does.
func parseScript(s string) ([]press, error) {
	var out []press
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		name, when, ok := strings.Cut(item, "@")
		if !ok {
			return nil, fmt.Errorf("script item %q: missing @time", item)
		}
		name = strings.ToLower(name)
		if !buttons[name] {
			return nil, fmt.Errorf("script item %q: unknown button %q", item, name)
		}
		p := press{Button: name, Hold: defaultHold}
		at, hold, hasHold := strings.Cut(when, "+")
		d, err := time.ParseDuration(at)
		if err != nil {
			return nil, fmt.Errorf("script item %q: %w", item, err)
		}
		p.At = d
		if hasHold {
			if p.Hold, err = time.ParseDuration(hold); err != nil {
				return nil, fmt.Errorf("script item %q: %w", item, err)
			}
		}
		if p.At < 0 || p.Hold <= 0 {
			return nil, fmt.Errorf("script item %q: times must be positive", item)
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At < out[j].At })
	return out, nil
}

// lastAction is when the script stops touching the inputs
func lastAction(script []press) time.Duration {
	var end time.Duration
	for _, p := range script {
		end = max(end, p.At+p.Hold)
	}
	return end
}

package status

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"
)

// State is the coarse lifecycle state of the supervised process.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateError    State = "error"
)

// ParseState maps a wire value to a State. Unknown or empty values fall back
// to StateStopped so a renderer always has something to show.
func ParseState(s string) State {
	switch State(strings.ToLower(strings.TrimSpace(s))) {
	case StateStarting:
		return StateStarting
	case StateRunning:
		return StateRunning
	case StateError:
		return StateError
	default:
		return StateStopped
	}
}

func (s State) Valid() bool {
	switch s {
	case StateStopped, StateStarting, StateRunning, StateError:
		return true
	}
	return false
}

// Status is one observation of the process. It is always replaced as a whole.
type Status struct {
	State   State  `json:"status"`
	Message string `json:"message"`
}

// Zero is the status shown before anything has been observed.
func Zero() Status { return Status{State: StateStopped} }

// UnmarshalJSON normalises the state so malformed values never escape.
func (s *Status) UnmarshalJSON(b []byte) error {
	var raw struct {
		State   string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	s.State = ParseState(raw.State)
	s.Message = raw.Message
	return nil
}

var (
	pidRe    = regexp.MustCompile(`\bpid\s+(\d+)`)
	uptimeRe = regexp.MustCompile(`\buptime\s+(\d+:\d{2}:\d{2})`)
)

// PID extracts "pid N" from the message, if present.
func (s Status) PID() (int, bool) {
	m := pidRe.FindStringSubmatch(s.Message)
	if m == nil {
		return 0, false
	}
	pid, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return pid, true
}

// Uptime extracts "uptime H:MM:SS" from the message, if present.
func (s Status) Uptime() (string, bool) {
	m := uptimeRe.FindStringSubmatch(s.Message)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// FromSupervisor converts `supervisorctl status <name>` output into a Status.
func FromSupervisor(output string) Status {
	out := strings.TrimSpace(output)
	st := StateStopped
	switch {
	case strings.Contains(out, "RUNNING"):
		st = StateRunning
	case strings.Contains(out, "STARTING"):
		st = StateStarting
	case strings.Contains(out, "BACKOFF"), strings.Contains(out, "FATAL"):
		st = StateError
	}
	return Status{State: st, Message: out}
}

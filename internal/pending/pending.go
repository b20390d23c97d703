package pending

import (
	"errors"
	"fmt"
	"strings"

	"github.com/loykin/cockpit/internal/status"
)

// Action is a user-issued process command.
type Action string

const (
	ActionStart   Action = "start"
	ActionStop    Action = "stop"
	ActionRestart Action = "restart"
)

var ErrInvalidAction = errors.New("invalid action")

// Actions lists every action in a stable order.
var Actions = []Action{ActionStart, ActionStop, ActionRestart}

func ParseAction(s string) (Action, error) {
	a := Action(strings.ToLower(strings.TrimSpace(s)))
	switch a {
	case ActionStart, ActionStop, ActionRestart:
		return a, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidAction, s)
}

// RestartPolicy selects the completion predicate for restart.
type RestartPolicy int

const (
	// RestartStrict clears only on running or error. A stop-then-start restart
	// passes through stopped and starting, neither of which ends the wait.
	RestartStrict RestartPolicy = iota
	// RestartSimple also accepts starting as evidence the restart happened.
	RestartSimple
)

func ParseRestartPolicy(s string) (RestartPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return RestartStrict, nil
	case "simple":
		return RestartSimple, nil
	}
	return RestartStrict, fmt.Errorf("unknown restart policy %q", s)
}

func (p RestartPolicy) String() string {
	if p == RestartSimple {
		return "simple"
	}
	return "strict"
}

// Completes reports whether observing st ends the wait for action a.
func Completes(a Action, st status.State, p RestartPolicy) bool {
	switch a {
	case ActionStart:
		return st == status.StateStarting || st == status.StateRunning || st == status.StateError
	case ActionStop:
		return st == status.StateStopped || st == status.StateError
	case ActionRestart:
		if st == status.StateRunning || st == status.StateError {
			return true
		}
		return p == RestartSimple && st == status.StateStarting
	}
	return false
}

// Set is the effective pending flags shown by the UI.
type Set struct {
	Start   bool `json:"start"`
	Stop    bool `json:"stop"`
	Restart bool `json:"restart"`
}

func (s Set) Get(a Action) bool {
	switch a {
	case ActionStart:
		return s.Start
	case ActionStop:
		return s.Stop
	case ActionRestart:
		return s.Restart
	}
	return false
}

func (s *Set) put(a Action, v bool) {
	switch a {
	case ActionStart:
		s.Start = v
	case ActionStop:
		s.Stop = v
	case ActionRestart:
		s.Restart = v
	}
}

// Any reports whether at least one action is in flight.
func (s Set) Any() bool { return s.Start || s.Stop || s.Restart }

// Tracker derives pending flags from dispatches and status observations.
// It is not safe for concurrent use; the panel loop owns it.
type Tracker struct {
	set     Set
	policy  RestartPolicy
	onClear func(a Action, reason string)
}

func NewTracker(p RestartPolicy) *Tracker { return &Tracker{policy: p} }

// OnClear registers a hook invoked whenever a flag goes from set to clear.
func (t *Tracker) OnClear(fn func(a Action, reason string)) { t.onClear = fn }

func (t *Tracker) Policy() RestartPolicy { return t.policy }

func (t *Tracker) Set() Set { return t.set }

// Mark sets the flag for a. It reports whether the set changed.
func (t *Tracker) Mark(a Action) bool {
	if t.set.Get(a) {
		return false
	}
	t.set.put(a, true)
	return true
}

// Observe applies one status observation to every flag independently.
// It reports false when nothing changed.
func (t *Tracker) Observe(st status.State) bool {
	changed := false
	for _, a := range Actions {
		if t.set.Get(a) && Completes(a, st, t.policy) {
			t.set.put(a, false)
			changed = true
			t.cleared(a, string(st))
		}
	}
	return changed
}

// Fail clears a after a dispatch failure, bypassing the predicates.
func (t *Tracker) Fail(a Action) bool {
	if !t.set.Get(a) {
		return false
	}
	t.set.put(a, false)
	t.cleared(a, "dispatch_failed")
	return true
}

func (t *Tracker) cleared(a Action, reason string) {
	if t.onClear != nil {
		t.onClear(a, reason)
	}
}

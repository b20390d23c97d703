package panel

import (
	"github.com/loykin/cockpit/internal/dispatch"
	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/internal/status"
	"github.com/loykin/cockpit/internal/versionswitch"
)

// View is an immutable snapshot of everything a renderer needs.
type View struct {
	Status status.Status `json:"status"`
	// Observed is false until the first status arrives.
	Observed      bool                    `json:"observed"`
	Display       status.Display          `json:"display"`
	PID           int                     `json:"pid,omitempty"`
	Uptime        string                  `json:"uptime,omitempty"`
	Mode          Mode                    `json:"mode"`
	Connected     bool                    `json:"connected"`
	Stale         bool                    `json:"stale"`
	Logs          []string                `json:"logs"`
	Pending       pending.Set             `json:"pending"`
	Policy        dispatch.ConflictPolicy `json:"conflict_policy"`
	DispatchError string                  `json:"dispatch_error,omitempty"`
	Version       versionswitch.State     `json:"version"`
}

// Busy reports whether any action is still waiting for its status.
func (v View) Busy() bool { return v.Pending.Any() }

// CanDispatch reports whether the action button for a should be enabled.
// Under the allow policy only a pending flag for a itself blocks it.
func (v View) CanDispatch(a pending.Action) bool {
	if v.Pending.Get(a) || (v.Policy == dispatch.ConflictReject && v.Pending.Any()) {
		return false
	}
	switch a {
	case pending.ActionStart:
		return v.Status.State != status.StateRunning && v.Status.State != status.StateStarting
	case pending.ActionStop:
		return v.Status.State == status.StateRunning || v.Status.State == status.StateStarting
	case pending.ActionRestart:
		return v.Status.State == status.StateRunning
	}
	return false
}

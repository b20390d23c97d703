// Package versionswitch drives the select, confirm and apply flow for
// switching the installed ComfyUI version.
package versionswitch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/loykin/cockpit/internal/loop"
	"github.com/loykin/cockpit/pkg/client"
)

// UnknownVersion is shown when the current version could not be determined.
const UnknownVersion = "unknown"

var ErrCannotConfirm = errors.New("version switch cannot be confirmed")

type Phase int

const (
	PhaseIdle Phase = iota
	PhaseSelecting
	PhaseConfirming
	PhaseApplying
	PhaseSettled
)

func (p Phase) String() string {
	switch p {
	case PhaseSelecting:
		return "selecting"
	case PhaseConfirming:
		return "confirming"
	case PhaseApplying:
		return "applying"
	case PhaseSettled:
		return "settled"
	}
	return "idle"
}

// Outcome is the result of the last switch. It stays until dismissed or
// replaced by a new selection.
type Outcome struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Result is what the controller answered to a switch request.
type Result struct {
	Success bool
	Message string
}

// Source is the controller side of the workflow.
type Source interface {
	CurrentVersion(ctx context.Context) (version string, known bool, err error)
	AvailableVersions(ctx context.Context) ([]string, error)
	Switch(ctx context.Context, version string) (Result, error)
}

// ClientSource reads and switches versions through the HTTP client.
type ClientSource struct {
	Client *client.Client
}

func (s ClientSource) CurrentVersion(ctx context.Context) (string, bool, error) {
	info, err := s.Client.GetVersion(ctx)
	if err != nil {
		return "", false, err
	}
	if info.ComfyUIVersion == nil || *info.ComfyUIVersion == "" {
		return "", false, nil
	}
	return *info.ComfyUIVersion, true, nil
}

func (s ClientSource) AvailableVersions(ctx context.Context) ([]string, error) {
	list, err := s.Client.ListVersions(ctx)
	if err != nil {
		return nil, err
	}
	return list.AvailableVersions, nil
}

func (s ClientSource) Switch(ctx context.Context, version string) (Result, error) {
	res, err := s.Client.SwitchVersion(ctx, version)
	if err != nil {
		return Result{}, err
	}
	return Result{Success: res.Success, Message: res.Message}, nil
}

// State is a read-only copy for renderers.
type State struct {
	Phase      Phase    `json:"phase"`
	Current    string   `json:"current"`
	Known      bool     `json:"known"`
	Options    []string `json:"options"`
	Selection  string   `json:"selection"`
	CanConfirm bool     `json:"can_confirm"`
	Applying   bool     `json:"applying"`
	Disabled   bool     `json:"disabled"`
	Outcome    *Outcome `json:"outcome,omitempty"`
}

// Workflow is loop-owned; every method must run on the executor.
type Workflow struct {
	exec   loop.Executor
	src    Source
	logger *slog.Logger
	ctx    context.Context

	current  string
	known    bool
	versions []string
	loaded   bool
	loading  bool

	selection string
	applying  bool
	disabled  bool
	outcome   *Outcome

	onChange func()
}

func New(exec loop.Executor, src Source, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{exec: exec, src: src, logger: logger, ctx: context.Background()}
}

func (w *Workflow) OnChange(fn func()) { w.onChange = fn }

// Load fetches the current version and the available list once.
func (w *Workflow) Load() {
	if w.loaded || w.loading {
		return
	}
	w.loading = true
	ctx, src := w.ctx, w.src
	w.exec.Go(func() func() {
		cur, known, curErr := src.CurrentVersion(ctx)
		list, listErr := src.AvailableVersions(ctx)
		return func() { w.handleLoaded(cur, known, curErr, list, listErr) }
	})
}

func (w *Workflow) handleLoaded(cur string, known bool, curErr error, list []string, listErr error) {
	w.loading = false
	w.loaded = true
	if curErr != nil {
		w.logger.Warn("failed to fetch current version", "error", curErr)
	} else {
		w.current, w.known = cur, known
	}
	if listErr != nil {
		w.logger.Warn("failed to fetch available versions", "error", listErr)
	} else {
		w.versions = append([]string(nil), list...)
	}
	w.changed()
}

// CurrentLabel is the current version or "unknown".
func (w *Workflow) CurrentLabel() string {
	if !w.known {
		return UnknownVersion
	}
	return w.current
}

// Options lists the selectable versions. With an empty list the current
// version is offered alone so the control is never blank.
func (w *Workflow) Options() []string {
	if len(w.versions) > 0 {
		return append([]string(nil), w.versions...)
	}
	if w.known {
		return []string{w.current}
	}
	return []string{}
}

// Select records a choice and clears any previous outcome. Values that are
// not among Options are ignored; an empty value clears the selection.
func (w *Workflow) Select(v string) {
	if w.applying || (v != "" && !w.offered(v)) {
		return
	}
	w.selection = v
	w.outcome = nil
	w.changed()
}

func (w *Workflow) Selection() string { return w.selection }

// SetDisabled blocks confirmation from outside, e.g. while a restart is pending.
func (w *Workflow) SetDisabled(d bool) {
	if w.disabled != d {
		w.disabled = d
		w.changed()
	}
}

// SetDisabledQuiet is SetDisabled without the change notification, for
// callers that are already publishing.
func (w *Workflow) SetDisabledQuiet(d bool) { w.disabled = d }

func (w *Workflow) offered(v string) bool {
	return slices.Contains(w.Options(), v)
}

func (w *Workflow) CanConfirm() bool {
	if w.applying || w.disabled || w.selection == "" || !w.offered(w.selection) {
		return false
	}
	return !w.known || w.selection != w.current
}

func (w *Workflow) Applying() bool { return w.applying }

func (w *Workflow) Outcome() *Outcome {
	if w.outcome == nil {
		return nil
	}
	o := *w.outcome
	return &o
}

// Dismiss clears the outcome.
func (w *Workflow) Dismiss() {
	if w.outcome != nil {
		w.outcome = nil
		w.changed()
	}
}

func (w *Workflow) Phase() Phase {
	switch {
	case w.applying:
		return PhaseApplying
	case w.outcome != nil:
		return PhaseSettled
	case w.selection == "":
		return PhaseIdle
	case w.CanConfirm():
		return PhaseConfirming
	}
	return PhaseSelecting
}

// Confirm sends the switch request for the current selection.
func (w *Workflow) Confirm() error {
	if !w.CanConfirm() {
		return ErrCannotConfirm
	}
	w.applying = true
	w.outcome = nil
	target := w.selection
	w.logger.Info("switching version", "from", w.CurrentLabel(), "to", target)
	w.changed()

	ctx, src := w.ctx, w.src
	w.exec.Go(func() func() {
		res, err := src.Switch(ctx, target)
		return func() { w.handleSwitchResult(target, res, err) }
	})
	return nil
}

func (w *Workflow) handleSwitchResult(target string, res Result, err error) {
	w.applying = false
	switch {
	case err != nil:
		w.logger.Error("version switch failed", "version", target, "error", err)
		w.outcome = &Outcome{Success: false, Message: err.Error()}
	case !res.Success:
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("Failed to switch to %s", target)
		}
		w.logger.Error("version switch rejected", "version", target, "message", msg)
		w.outcome = &Outcome{Success: false, Message: msg}
	default:
		msg := res.Message
		if msg == "" {
			msg = fmt.Sprintf("Switched to %s", target)
		}
		w.logger.Info("version switched", "version", target)
		w.outcome = &Outcome{Success: true, Message: msg}
		w.selection = ""
		w.refetchCurrent()
	}
	w.changed()
}

func (w *Workflow) refetchCurrent() {
	ctx, src := w.ctx, w.src
	w.exec.Go(func() func() {
		cur, known, err := src.CurrentVersion(ctx)
		return func() {
			if err != nil {
				w.logger.Warn("failed to refresh current version", "error", err)
				return
			}
			w.current, w.known = cur, known
			w.changed()
		}
	})
}

// Snapshot copies the workflow state for renderers.
func (w *Workflow) Snapshot() State {
	return State{
		Phase:      w.Phase(),
		Current:    w.CurrentLabel(),
		Known:      w.known,
		Options:    w.Options(),
		Selection:  w.selection,
		CanConfirm: w.CanConfirm(),
		Applying:   w.applying,
		Disabled:   w.disabled,
		Outcome:    w.Outcome(),
	}
}

func (w *Workflow) changed() {
	if w.onChange != nil {
		w.onChange()
	}
}

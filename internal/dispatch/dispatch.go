// Package dispatch sends process actions to the controller and keeps the
// pending tracker in step with what was sent.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/loykin/cockpit/internal/loop"
	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/pkg/client"
)

// ErrActionInFlight is returned when the conflict policy refuses a dispatch.
var ErrActionInFlight = errors.New("action already in flight")

// ConflictPolicy decides whether a new action may be sent while another is pending.
type ConflictPolicy int

const (
	// ConflictReject refuses any action while a flag is pending.
	ConflictReject ConflictPolicy = iota
	// ConflictAllow lets different actions overlap. The same action is never
	// sent twice while it is pending.
	ConflictAllow
)

func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "reject":
		return ConflictReject, nil
	case "allow":
		return ConflictAllow, nil
	}
	return ConflictReject, fmt.Errorf("unknown conflict policy %q", s)
}

func (p ConflictPolicy) String() string {
	if p == ConflictAllow {
		return "allow"
	}
	return "reject"
}

func (p ConflictPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Sender delivers one action to the controller.
type Sender interface {
	SendAction(ctx context.Context, a pending.Action) error
}

// ClientSender sends actions through the HTTP client.
type ClientSender struct {
	Client *client.Client
}

func (s ClientSender) SendAction(ctx context.Context, a pending.Action) error {
	_, err := s.Client.ControlProcess(ctx, string(a))
	return err
}

// Error is the last failed dispatch, shown as a banner until the next one.
type Error struct {
	Action pending.Action
	Err    error
}

func (e *Error) Error() string { return fmt.Sprintf("%s failed: %v", e.Action, e.Err) }

func (e *Error) Unwrap() error { return e.Err }

type Config struct {
	Policy ConflictPolicy
	Logger *slog.Logger
}

// Dispatcher must only be used from the executor.
type Dispatcher struct {
	exec     loop.Executor
	tracker  *pending.Tracker
	sender   Sender
	policy   ConflictPolicy
	logger   *slog.Logger
	ctx      context.Context
	lastErr  *Error
	onChange func()
}

func New(exec loop.Executor, tracker *pending.Tracker, sender Sender, cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Dispatcher{
		exec:    exec,
		tracker: tracker,
		sender:  sender,
		policy:  cfg.Policy,
		logger:  cfg.Logger,
		ctx:     context.Background(),
	}
}

// OnChange registers a hook called after the pending set or the last error changes.
func (d *Dispatcher) OnChange(fn func()) { d.onChange = fn }

func (d *Dispatcher) Policy() ConflictPolicy { return d.policy }

// LastError returns the most recent dispatch failure, or nil.
func (d *Dispatcher) LastError() *Error { return d.lastErr }

// ClearError dismisses the failure banner.
func (d *Dispatcher) ClearError() {
	if d.lastErr != nil {
		d.lastErr = nil
		d.changed()
	}
}

// Dispatch marks a as pending and sends it. It never retries. When the
// executor runs work synchronously a failed send has already cleared the
// flag by the time Dispatch returns.
func (d *Dispatcher) Dispatch(a pending.Action) error {
	if _, err := pending.ParseAction(string(a)); err != nil {
		return err
	}
	set := d.tracker.Set()
	if set.Get(a) || (d.policy == ConflictReject && set.Any()) {
		return fmt.Errorf("%w: %s", ErrActionInFlight, a)
	}

	d.tracker.Mark(a)
	d.lastErr = nil
	d.logger.Info("dispatching action", "action", a)
	d.changed()

	ctx, sender := d.ctx, d.sender
	d.exec.Go(func() func() {
		err := sender.SendAction(ctx, a)
		return func() { d.handleDispatchResult(a, err) }
	})
	return nil
}

func (d *Dispatcher) handleDispatchResult(a pending.Action, err error) {
	if err == nil {
		d.logger.Debug("action accepted", "action", a)
		return
	}
	d.logger.Error("action dispatch failed", "action", a, "error", err)
	d.tracker.Fail(a)
	d.lastErr = &Error{Action: a, Err: err}
	d.changed()
}

func (d *Dispatcher) changed() {
	if d.onChange != nil {
		d.onChange()
	}
}

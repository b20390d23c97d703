package controller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/internal/status"
)

const (
	DummyPID          = 12345
	DefaultStartDelay = time.Second
)

type stopper interface{ Stop() bool }

// DummyConfig configures the in-memory controller used for demos and UI work.
type DummyConfig struct {
	Service    string
	StartDelay time.Duration
	// Log receives one line per transition, e.g. the followed process log.
	Log    io.Writer
	Logger *slog.Logger
}

// Dummy simulates a supervised process. It starts in running state; start
// and restart pass through starting and become running after StartDelay.
type Dummy struct {
	mu        sync.Mutex
	cfg       DummyConfig
	state     status.State
	startedAt time.Time
	pending   stopper
	logger    *slog.Logger

	now       func() time.Time
	afterFunc func(time.Duration, func()) stopper
}

func NewDummy(cfg DummyConfig) *Dummy {
	if cfg.Service == "" {
		cfg.Service = "comfyui"
	}
	if cfg.StartDelay <= 0 {
		cfg.StartDelay = DefaultStartDelay
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	d := &Dummy{
		cfg:    cfg,
		state:  status.StateRunning,
		logger: l.With("service", cfg.Service, "mode", "dummy"),
		now:    time.Now,
		afterFunc: func(d time.Duration, fn func()) stopper {
			return time.AfterFunc(d, fn)
		},
	}
	d.startedAt = d.now()
	return d
}

func (d *Dummy) Status(context.Context) (status.Status, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return status.Status{State: d.state, Message: d.messageLocked()}, nil
}

func (d *Dummy) Do(_ context.Context, a pending.Action) (string, error) {
	a, err := pending.ParseAction(string(a))
	if err != nil {
		return "", err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	var msg string
	switch a {
	case pending.ActionStart:
		if d.state == status.StateRunning {
			return d.prefix() + " already running", nil
		}
		d.toStartingLocked()
		msg = d.prefix() + " starting"
	case pending.ActionStop:
		d.cancelPendingLocked()
		if d.state == status.StateStopped {
			return d.prefix() + " already stopped", nil
		}
		d.state = status.StateStopped
		d.startedAt = time.Time{}
		msg = d.prefix() + " stopped"
	case pending.ActionRestart:
		d.toStartingLocked()
		msg = d.prefix() + " restarting"
	}
	d.logger.Info("dummy action", "action", a, "state", d.state)
	d.writeLog(msg)
	return msg, nil
}

func (d *Dummy) prefix() string { return "DUMMY: " + d.cfg.Service }

func (d *Dummy) toStartingLocked() {
	d.cancelPendingLocked()
	d.state = status.StateStarting
	d.startedAt = time.Time{}
	var t stopper
	t = d.afterFunc(d.cfg.StartDelay, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.pending != t {
			return
		}
		d.pending = nil
		d.state = status.StateRunning
		d.startedAt = d.now()
		d.writeLog(d.prefix() + " running")
	})
	d.pending = t
}

func (d *Dummy) cancelPendingLocked() {
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

func (d *Dummy) messageLocked() string {
	switch d.state {
	case status.StateRunning:
		return fmt.Sprintf("%s RUNNING   pid %d, uptime %s", d.prefix(), DummyPID, d.uptimeLocked())
	case status.StateStarting:
		return d.prefix() + " STARTING"
	case status.StateStopped:
		return d.prefix() + " STOPPED"
	}
	return d.prefix() + " ERROR"
}

func (d *Dummy) uptimeLocked() string {
	if d.startedAt.IsZero() {
		return "0:00:00"
	}
	elapsed := int(d.now().Sub(d.startedAt).Seconds())
	if elapsed < 0 {
		elapsed = 0
	}
	return fmt.Sprintf("%d:%02d:%02d", elapsed/3600, elapsed/60%60, elapsed%60)
}

func (d *Dummy) writeLog(line string) {
	if d.cfg.Log == nil {
		return
	}
	ts := d.now().Format("2006-01-02 15:04:05")
	if _, err := fmt.Fprintf(d.cfg.Log, "%s %s\n", ts, line); err != nil {
		d.logger.Warn("dummy log write failed", "error", err)
	}
}

package controller

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/internal/status"
)

const (
	DefaultStatusTimeout = 5 * time.Second
	DefaultActionTimeout = 30 * time.Second
)

// SupervisorConfig configures the supervisorctl backed controller.
type SupervisorConfig struct {
	Service       string // program name, "comfyui" by default
	Binary        string // supervisorctl executable
	StatusTimeout time.Duration
	ActionTimeout time.Duration
	Runner        Runner
	Logger        *slog.Logger
}

// Supervisor drives one supervisord program through supervisorctl.
type Supervisor struct {
	cfg    SupervisorConfig
	logger *slog.Logger
}

func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Service == "" {
		cfg.Service = "comfyui"
	}
	if cfg.Binary == "" {
		cfg.Binary = "supervisorctl"
	}
	if cfg.StatusTimeout <= 0 {
		cfg.StatusTimeout = DefaultStatusTimeout
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultActionTimeout
	}
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Supervisor{cfg: cfg, logger: l.With("service", cfg.Service)}
}

// Status runs `supervisorctl status <service>`. supervisorctl exits non-zero
// for stopped programs, so only the output is interpreted.
func (s *Supervisor) Status(ctx context.Context) (status.Status, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StatusTimeout)
	defer cancel()
	res, err := s.cfg.Runner.Run(ctx, s.cfg.Binary, "status", s.cfg.Service)
	if err != nil {
		return status.Status{}, fmt.Errorf("supervisor status: %w", err)
	}
	return status.FromSupervisor(res.Stdout), nil
}

func (s *Supervisor) Do(ctx context.Context, a pending.Action) (string, error) {
	a, err := pending.ParseAction(string(a))
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ActionTimeout)
	defer cancel()
	res, err := s.cfg.Runner.Run(ctx, s.cfg.Binary, string(a), s.cfg.Service)
	if err != nil {
		s.logger.Error("supervisorctl failed", "action", a, "error", err)
		return "", fmt.Errorf("supervisor %s: %w", a, err)
	}
	if res.ExitCode != 0 {
		msg := res.Output()
		s.logger.Warn("supervisorctl returned error", "action", a, "code", res.ExitCode, "output", msg)
		return "", &CommandError{Command: s.cfg.Binary + " " + string(a), ExitCode: res.ExitCode, Message: msg}
	}
	msg := strings.TrimSpace(res.Stdout)
	s.logger.Info("supervisorctl action done", "action", a, "output", msg)
	return msg, nil
}

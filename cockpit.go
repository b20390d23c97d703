// Package cockpit controls a supervised ComfyUI process and keeps clients in
// sync with its status. It re-exports the pieces needed to embed either side.
package cockpit

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/cockpit/internal/config"
	"github.com/loykin/cockpit/internal/metrics"
	"github.com/loykin/cockpit/internal/panel"
	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/internal/status"
	"github.com/loykin/cockpit/pkg/client"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Status = status.Status

type State = status.State

const (
	StateRunning  = status.StateRunning
	StateStarting = status.StateStarting
	StateStopped  = status.StateStopped
	StateError    = status.StateError
)

type Action = pending.Action

const (
	ActionStart   = pending.ActionStart
	ActionStop    = pending.ActionStop
	ActionRestart = pending.ActionRestart
)

type View = panel.View

type Session = panel.Session

type SessionConfig = panel.Config

type Config = cfg.Config

// LoadConfig reads a TOML config (path may be empty) with env overrides.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config { return cfg.Default() }

// NewSession builds a client session against the controller at apiURL,
// e.g. http://localhost:8080/comfyui-cockpit. Call Run to connect.
func NewSession(apiURL, token string, sc SessionConfig) (*Session, error) {
	logger := sc.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := client.New(client.Config{BaseURL: apiURL, Token: token, Logger: logger})
	return panel.NewFromClient(c, sc)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

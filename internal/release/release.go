package release

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"

	"github.com/loykin/cockpit/internal/controller"
	"github.com/loykin/cockpit/internal/pending"
)

const (
	DefaultMaxVersions = 10

	DescribeTimeout = 2 * time.Second
	TagsTimeout     = 5 * time.Second
	CheckoutTimeout = 60 * time.Second
	PipTimeout      = 300 * time.Second
	RestartTimeout  = 30 * time.Second
)

// SwitchResult mirrors the POST /version response body.
type SwitchResult struct {
	Success bool
	Message string
	Version string // empty when the switch did not reach the checkout
}

// Manager reports and changes the installed ComfyUI version.
type Manager interface {
	Current(ctx context.Context) (string, bool)
	Available(ctx context.Context) []string
	Switch(ctx context.Context, version string) SwitchResult
}

type Config struct {
	Path        string // ComfyUI checkout
	Git         string
	Pip         string
	MaxVersions int
	Runner      controller.Runner
	// Controller restarts ComfyUI after a checkout.
	Controller controller.Controller
	Logger     *slog.Logger
}

// Git manages a ComfyUI git checkout.
type Git struct {
	cfg    Config
	logger *slog.Logger
}

func NewGit(cfg Config) *Git {
	if cfg.Git == "" {
		cfg.Git = "git"
	}
	if cfg.Pip == "" {
		cfg.Pip = "pip"
	}
	if cfg.MaxVersions <= 0 {
		cfg.MaxVersions = DefaultMaxVersions
	}
	if cfg.Runner == nil {
		cfg.Runner = controller.ExecRunner{}
	}
	l := cfg.Logger
	if l == nil {
		l = slog.Default()
	}
	return &Git{cfg: cfg, logger: l.With("comfyui_path", cfg.Path)}
}

var versionRe = regexp.MustCompile(`__version__\s*=\s*["']([^"']+)["']`)

// Current reads comfyui_version.py and falls back to `git describe`.
func (g *Git) Current(ctx context.Context) (string, bool) {
	if v, ok := g.versionFile(); ok {
		return v, true
	}
	ctx, cancel := context.WithTimeout(ctx, DescribeTimeout)
	defer cancel()
	res, err := g.git(ctx, "describe", "--tags", "--always")
	if err != nil || res.ExitCode != 0 {
		g.logger.Debug("git describe failed", "error", err, "output", res.Output())
		return "", false
	}
	v := strings.TrimSpace(res.Stdout)
	return v, v != ""
}

func (g *Git) versionFile() (string, bool) {
	b, err := os.ReadFile(filepath.Join(g.cfg.Path, "comfyui_version.py"))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			g.logger.Warn("read comfyui_version.py failed", "error", err)
		}
		return "", false
	}
	m := versionRe.FindSubmatch(b)
	if m == nil {
		return "", false
	}
	return string(m[1]), true
}

// Available lists tags newest first, at most MaxVersions. Errors yield an
// empty list.
func (g *Git) Available(ctx context.Context) []string {
	ctx, cancel := context.WithTimeout(ctx, TagsTimeout)
	defer cancel()
	res, err := g.git(ctx, "tag", "--sort=-version:refname")
	if err != nil || res.ExitCode != 0 {
		g.logger.Debug("git tag failed", "error", err, "output", res.Output())
		return []string{}
	}
	var tags []string
	for _, line := range strings.Split(res.Stdout, "\n") {
		if t := strings.TrimSpace(line); t != "" {
			tags = append(tags, t)
		}
	}
	tags = SortTags(tags)
	if len(tags) > g.cfg.MaxVersions {
		tags = tags[:g.cfg.MaxVersions]
	}
	return tags
}

// SortTags orders semver tags newest first and keeps the remaining tags
// after them in their original order.
func SortTags(tags []string) []string {
	type parsed struct {
		tag string
		v   *semver.Version
	}
	var sv []parsed
	var rest []string
	for _, t := range tags {
		if v, err := semver.NewVersion(t); err == nil {
			sv = append(sv, parsed{t, v})
		} else {
			rest = append(rest, t)
		}
	}
	sort.SliceStable(sv, func(i, j int) bool { return sv[i].v.GreaterThan(sv[j].v) })
	out := make([]string, 0, len(tags))
	for _, p := range sv {
		out = append(out, p.tag)
	}
	return append(out, rest...)
}

// Switch checks out version, reinstalls requirements and restarts ComfyUI.
// A failing pip install only logs a warning.
func (g *Git) Switch(ctx context.Context, version string) SwitchResult {
	log := g.logger.With("version", version)
	log.Info("switching version")

	res, err := g.step(ctx, CheckoutTimeout, func(ctx context.Context) (controller.Result, error) {
		return g.git(ctx, "checkout", version)
	})
	if err != nil {
		return g.failed(version, err)
	}
	if res.ExitCode != 0 {
		return SwitchResult{Message: "Failed to checkout version: " + strings.TrimSpace(res.Stderr)}
	}

	req := filepath.Join(g.cfg.Path, "requirements.txt")
	if _, statErr := os.Stat(req); statErr == nil {
		log.Info("updating python dependencies")
		res, err = g.step(ctx, PipTimeout, func(ctx context.Context) (controller.Result, error) {
			return g.cfg.Runner.Run(ctx, g.cfg.Pip, "install", "-r", req)
		})
		if err != nil {
			return g.failed(version, err)
		}
		if res.ExitCode != 0 {
			log.Warn("pip install failed", "output", strings.TrimSpace(res.Stderr))
		}
	}

	if g.cfg.Controller != nil {
		log.Info("restarting comfyui")
		rctx, cancel := context.WithTimeout(ctx, RestartTimeout)
		_, err := g.cfg.Controller.Do(rctx, pending.ActionRestart)
		cancel()
		if err != nil {
			if isTimeout(err) {
				return g.failed(version, err)
			}
			return SwitchResult{Message: "Failed to restart ComfyUI: " + err.Error(), Version: version}
		}
	}
	return SwitchResult{
		Success: true,
		Message: fmt.Sprintf("Successfully switched to version %s and restarted ComfyUI", version),
		Version: version,
	}
}

func (g *Git) step(ctx context.Context, d time.Duration, fn func(context.Context) (controller.Result, error)) (controller.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()
	return fn(ctx)
}

func (g *Git) failed(version string, err error) SwitchResult {
	if isTimeout(err) {
		g.logger.Error("version switch timed out", "version", version, "error", err)
		return SwitchResult{Message: "Version switch timed out for " + version}
	}
	g.logger.Error("version switch failed", "version", version, "error", err)
	return SwitchResult{Message: "Error switching version: " + err.Error()}
}

func isTimeout(err error) bool { return errors.Is(err, context.DeadlineExceeded) }

func (g *Git) git(ctx context.Context, args ...string) (controller.Result, error) {
	return g.cfg.Runner.Run(ctx, g.cfg.Git, append([]string{"-C", g.cfg.Path}, args...)...)
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/loykin/cockpit/internal/config"
	"github.com/loykin/cockpit/internal/dispatch"
	"github.com/loykin/cockpit/internal/panel"
	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/internal/tui"
)

// session builds a panel session from the [panel] table and flags.
func (c command) session(cf ClientFlags, wf WatchFlags, logger *slog.Logger) (*panel.Session, error) {
	cl, cfg, err := c.client(cf)
	if err != nil {
		return nil, err
	}
	pcfg, err := panelConfig(cfg.Panel, wf, logger)
	if err != nil {
		return nil, err
	}
	return panel.NewFromClient(cl, pcfg)
}

func panelConfig(p config.PanelConfig, wf WatchFlags, logger *slog.Logger) (panel.Config, error) {
	if wf.Transport != "" {
		p.Transport = wf.Transport
	}
	if wf.PollInterval > 0 {
		p.PollInterval = wf.PollInterval
	}
	if wf.ReconnectDelay > 0 {
		p.ReconnectDelay = wf.ReconnectDelay
	}
	if wf.RestartPolicy != "" {
		p.RestartPolicy = wf.RestartPolicy
	}
	if wf.ConflictPolicy != "" {
		p.ConflictPolicy = wf.ConflictPolicy
	}
	mode, err := panel.ParseMode(p.Transport)
	if err != nil {
		return panel.Config{}, err
	}
	rp, err := pending.ParseRestartPolicy(p.RestartPolicy)
	if err != nil {
		return panel.Config{}, err
	}
	cp, err := dispatch.ParseConflictPolicy(p.ConflictPolicy)
	if err != nil {
		return panel.Config{}, err
	}
	return panel.Config{
		Mode:           mode,
		ReconnectDelay: p.ReconnectDelay,
		PollInterval:   p.PollInterval,
		RestartPolicy:  rp,
		ConflictPolicy: cp,
		Logger:         logger,
	}, nil
}

// Watch prints a line per status change and, when logs is set, every new
// log line. It stops after count status lines when count > 0.
func (c command) Watch(ctx context.Context, out io.Writer, cf ClientFlags, wf WatchFlags, logs bool, count int) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	s, err := c.session(cf, wf, cfg.Log.Logger().NewSlogger())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	updates, unsubscribe := s.Subscribe()
	defer unsubscribe()

	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()

	var lastLine string
	var lastLogs []string
	printed := 0
	for {
		select {
		case v, ok := <-updates:
			if !ok {
				return <-errCh
			}
			if logs {
				for _, l := range newLogLines(lastLogs, v.Logs) {
					_, _ = fmt.Fprintln(out, l)
				}
				lastLogs = v.Logs
			}
			if !v.Observed {
				continue
			}
			if line := tui.Line(v); line != lastLine {
				lastLine = line
				_, _ = fmt.Fprintln(out, line)
				printed++
				if count > 0 && printed >= count {
					cancel()
					return <-errCh
				}
			}
		case err := <-errCh:
			return err
		}
	}
}

// newLogLines returns the lines of cur that follow what prev already showed.
// The log buffer drops lines from the front, so prev's tail is matched
// against cur's head.
func newLogLines(prev, cur []string) []string {
	if len(prev) == 0 {
		return cur
	}
	for k := min(len(prev), len(cur)); k > 0; k-- {
		if equalLines(prev[len(prev)-k:], cur[:k]) {
			return cur[k:]
		}
	}
	return cur
}

func equalLines(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Panel runs the interactive terminal panel.
func (c command) Panel(ctx context.Context, cf ClientFlags, wf WatchFlags) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}
	// the terminal belongs to the UI; logs go to [log].file only
	s, err := c.session(cf, wf, cfg.Log.Logger().NewSloggerTo(nil))
	if err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() { _ = s.Run(ctx) }()

	_, err = tea.NewProgram(tui.New(s), tea.WithAltScreen(), tea.WithReportFocus(), tea.WithContext(ctx)).Run()
	cancel()
	s.Close()
	return err
}

func addWatchFlags(cmd *cobra.Command, f *WatchFlags) {
	cmd.Flags().StringVar(&f.Transport, "transport", "", "push (websocket) or poll")
	cmd.Flags().DurationVar(&f.PollInterval, "poll-interval", 0, "status poll interval in poll mode")
	cmd.Flags().DurationVar(&f.ReconnectDelay, "reconnect-delay", 0, "socket reconnect delay in push mode")
	cmd.Flags().StringVar(&f.RestartPolicy, "restart-policy", "", "strict or simple")
	cmd.Flags().StringVar(&f.ConflictPolicy, "conflict-policy", "", "reject or allow")
}

func createWatchCommand(c command, cf *ClientFlags, wf *WatchFlags) *cobra.Command {
	var logs bool
	var count int
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print live status changes",
		Long: `Follow the controller and print one line per status change.

Examples:
  cockpit watch
  cockpit watch --logs
  cockpit watch --transport=poll --poll-interval=2s`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return c.Watch(ctx, cmd.OutOrStdout(), *cf, *wf, logs, count)
		},
	}
	addClientFlags(cmd, cf)
	addWatchFlags(cmd, wf)
	cmd.Flags().BoolVar(&logs, "logs", false, "also print streamed log lines")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many status lines")
	return cmd
}

func createPanelCommand(c command, cf *ClientFlags, wf *WatchFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "panel",
		Short: "Interactive terminal panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Panel(cmd.Context(), *cf, *wf)
		},
	}
	addClientFlags(cmd, cf)
	addWatchFlags(cmd, wf)
	return cmd
}

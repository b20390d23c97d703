package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/cockpit/internal/config"
	"github.com/loykin/cockpit/internal/pending"
	"github.com/loykin/cockpit/internal/status"
	"github.com/loykin/cockpit/internal/versionswitch"
	"github.com/loykin/cockpit/pkg/client"
)

// command carries the state shared by the command implementations so they
// can be tested without cobra.
type command struct {
	global *GlobalFlags
}

func (c command) loadConfig() (config.Config, error) {
	path := ""
	if c.global != nil {
		path = c.global.ConfigPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("error loading config: %w", err)
	}
	return cfg, nil
}

// client builds an API client from the [panel] table, overridden by flags.
func (c command) client(f ClientFlags) (*client.Client, config.Config, error) {
	cfg, err := c.loadConfig()
	if err != nil {
		return nil, cfg, err
	}
	p := &cfg.Panel
	if f.APIUrl != "" {
		p.APIURL = f.APIUrl
	}
	if f.Token != "" {
		p.Token = f.Token
	}
	if f.APITimeout > 0 {
		p.Timeout = f.APITimeout
	}
	if f.Insecure {
		p.Insecure = true
	}
	return client.New(client.Config{
		BaseURL:  p.APIURL,
		Token:    p.Token,
		Timeout:  p.Timeout,
		Insecure: p.Insecure,
		Logger:   cfg.Log.Logger().NewSlogger(),
	}), cfg, nil
}

// Status prints the state, pid and uptime of the supervised process.
func (c command) Status(ctx context.Context, out io.Writer, f ClientFlags) error {
	cl, _, err := c.client(f)
	if err != nil {
		return err
	}
	ps, err := cl.GetProcess(ctx)
	if err != nil {
		return fmt.Errorf("get status: %w", err)
	}
	st := status.Status{State: status.ParseState(ps.Status), Message: ps.Message}
	d := status.ToDisplay(st.State)
	line := d.Label
	if pid, ok := st.PID(); ok {
		line += fmt.Sprintf("  pid %d", pid)
	}
	if up, ok := st.Uptime(); ok {
		line += "  uptime " + up
	}
	_, _ = fmt.Fprintln(out, line)
	return nil
}

// Action sends start, stop or restart and prints the supervisorctl output.
func (c command) Action(ctx context.Context, out io.Writer, action string, f ClientFlags) error {
	a, err := pending.ParseAction(action)
	if err != nil {
		return err
	}
	cl, _, err := c.client(f)
	if err != nil {
		return err
	}
	resp, err := cl.ControlProcess(ctx, string(a))
	if err != nil {
		return fmt.Errorf("%s failed: %w", a, err)
	}
	_, _ = fmt.Fprintln(out, resp.Message)
	return nil
}

// VersionShow prints the installed ComfyUI version.
func (c command) VersionShow(ctx context.Context, out io.Writer, f ClientFlags) error {
	cl, _, err := c.client(f)
	if err != nil {
		return err
	}
	v, err := cl.GetVersion(ctx)
	if err != nil {
		return fmt.Errorf("get version: %w", err)
	}
	if v.ComfyUIVersion == nil {
		_, _ = fmt.Fprintln(out, versionswitch.UnknownVersion)
		return nil
	}
	_, _ = fmt.Fprintln(out, *v.ComfyUIVersion)
	return nil
}

// VersionList prints the switchable versions, newest first.
func (c command) VersionList(ctx context.Context, out io.Writer, f ClientFlags) error {
	cl, _, err := c.client(f)
	if err != nil {
		return err
	}
	list, err := cl.ListVersions(ctx)
	if err != nil {
		return fmt.Errorf("list versions: %w", err)
	}
	for _, v := range list.AvailableVersions {
		_, _ = fmt.Fprintln(out, v)
	}
	return nil
}

// VersionSwitch checks out version and restarts ComfyUI. A switch the
// controller reports as failed is returned as an error.
func (c command) VersionSwitch(ctx context.Context, out io.Writer, version string, f ClientFlags) error {
	cl, _, err := c.client(f)
	if err != nil {
		return err
	}
	res, err := cl.SwitchVersion(ctx, version)
	if err != nil {
		return fmt.Errorf("switch version: %w", err)
	}
	if !res.Success {
		return errors.New(res.Message)
	}
	_, _ = fmt.Fprintln(out, res.Message)
	return nil
}

func addClientFlags(cmd *cobra.Command, f *ClientFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "controller URL (e.g. http://host:8080/comfyui-cockpit)")
	cmd.Flags().StringVar(&f.Token, "token", "", "API token")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 0, "request timeout")
	cmd.Flags().BoolVar(&f.Insecure, "insecure", false, "skip TLS verification")
}

func createStatusCommand(c command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show ComfyUI status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Status(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createActionCommand(c command, f *ClientFlags, action, short string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   action,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Action(cmd.Context(), cmd.OutOrStdout(), action, *f)
		},
	}
	addClientFlags(cmd, f)
	return cmd
}

func createVersionCommand(c command, f *ClientFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show, list or switch the ComfyUI version",
		Long: `Show the installed ComfyUI version, list the available tags or switch
to one of them. Switching checks out the tag, installs requirements and
restarts ComfyUI.

Examples:
  cockpit version
  cockpit version list
  cockpit version switch v0.3.10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.VersionShow(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	addClientFlags(cmd, f)

	list := &cobra.Command{
		Use:   "list",
		Short: "List available versions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.VersionList(cmd.Context(), cmd.OutOrStdout(), *f)
		},
	}
	addClientFlags(list, f)

	sw := &cobra.Command{
		Use:   "switch <version>",
		Short: "Switch to a version and restart",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ff := *f
			if ff.APITimeout <= 0 {
				ff.APITimeout = switchTimeout
			}
			return c.VersionSwitch(cmd.Context(), cmd.OutOrStdout(), args[0], ff)
		},
	}
	addClientFlags(sw, f)

	cmd.AddCommand(list, sw)
	return cmd
}

// A switch includes a pip install, far beyond the default API timeout.
const switchTimeout = 10 * time.Minute

package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/loykin/cockpit"
)

func createServeCommand(c command, f *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Run the controller API",
		Long: `Run the controller API next to supervisord. Without a config file the
defaults apply; COMFYUI_COCKPIT_DUMMY_MODE=true simulates the process.

Examples:
  cockpit serve
  cockpit serve cockpit.toml
  cockpit serve --dummy --listen=:8188`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				c.global.ConfigPath = args[0]
			}
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if f.Listen != "" {
				cfg.Server.Listen = f.Listen
			}
			if f.Dummy {
				cfg.Controller.Dummy = true
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			logger := cfg.Log.Logger().NewSlogger()
			slog.SetDefault(logger)
			srv, err := cockpit.NewServer(cfg, logger)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&f.Listen, "listen", "", "listen address (overrides [server].listen)")
	cmd.Flags().BoolVar(&f.Dummy, "dummy", false, "simulate the process instead of calling supervisorctl")
	return cmd
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command with every subcommand attached.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	clientFlags := &ClientFlags{}
	serveFlags := &ServeFlags{}
	watchFlags := &WatchFlags{}

	c := command{global: globalFlags}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(c, serveFlags),
		createStatusCommand(c, clientFlags),
		createActionCommand(c, clientFlags, "start", "Start ComfyUI"),
		createActionCommand(c, clientFlags, "stop", "Stop ComfyUI"),
		createActionCommand(c, clientFlags, "restart", "Restart ComfyUI"),
		createVersionCommand(c, clientFlags),
		createWatchCommand(c, clientFlags, watchFlags),
		createPanelCommand(c, clientFlags, watchFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "cockpit",
		Short: "ComfyUI process control and status cockpit",
		Long: `cockpit supervises a ComfyUI instance through supervisord, switches
its installed version and streams live status and logs to clients.

Examples:
  cockpit serve --config=cockpit.toml          # run the controller API
  cockpit status                               # one-shot status
  cockpit restart --api-url=http://gpu-box:8080/comfyui-cockpit
  cockpit version list
  cockpit panel                                # interactive terminal panel`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

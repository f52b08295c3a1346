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

// buildRoot creates the root command and its subcommands.
func buildRoot() *cobra.Command {
	globalFlags := &GlobalFlags{}
	runFlags := &RunFlags{}
	probeFlags := &ProbeFlags{}
	reclaimFlags := &ReclaimFlags{}
	statusFlags, stopFlags, historyFlags := &RemoteFlags{}, &RemoteFlags{}, &RemoteFlags{}

	root := createRootCommand(globalFlags)
	c := command{global: globalFlags}
	root.AddCommand(
		createRunCommand(c, runFlags),
		createProbeCommand(c, probeFlags),
		createPlanCommand(c),
		createReclaimCommand(c, reclaimFlags),
		createStatusCommand(c, statusFlags),
		createStopCommand(c, stopFlags),
		createHistoryCommand(c, historyFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "sidecar",
		Short: "Backend supervisor for the RefSearch desktop shell",
		Long: `Sidecar launches the local RefSearch backend, relays its diagnostics and
guarantees that nothing keeps listening on the backend port after shutdown.

Configuration comes from an optional TOML file and REFSEARCH_* variables.

Examples:
  sidecar run                          # launch, relay, stop on Ctrl-C
  sidecar run --api-listen 127.0.0.1:7000 --metrics-listen :9100
  sidecar probe                        # is a backend answering /ready?
  sidecar plan                         # show how the backend would be launched
  sidecar reclaim --dry-run            # list what listens on the port
  sidecar status --api http://127.0.0.1:7000`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}

func createRunCommand(c command, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Launch the backend and supervise it until interrupted",
		Long: `Run behaves like the desktop shell: it launches the backend unless one
already answers, echoes its stderr, and on SIGINT/SIGTERM stops it and
sweeps the port.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Run(cmd.Context(), *flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIListen, "api-listen", "", "serve the admin API on this address (overrides server.listen)")
	cmd.Flags().StringVar(&flags.BasePath, "api-base", "", "admin API base path (overrides server.base_path)")
	cmd.Flags().StringVar(&flags.MetricsListen, "metrics-listen", "", "serve Prometheus metrics on this address (overrides metrics.listen)")
	return cmd
}

func createProbeCommand(c command, flags *ProbeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Check whether a backend is serving the configured port",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Probe(cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.PortOnly, "port-only", false, "only check for a listening socket, not the readiness endpoint")
	cmd.Flags().DurationVar(&flags.Timeout, "timeout", 0, "probe timeout (default probe_timeout)")
	return cmd
}

func createPlanCommand(c command) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Print the launch plans in the order they would be tried",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Plan(cmd.OutOrStdout())
		},
	}
}

func createReclaimCommand(c command, flags *ReclaimFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reclaim",
		Short: "Kill whatever listens on the backend port",
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.Reclaim(cmd.Context(), cmd.OutOrStdout(), *flags)
		},
	}
	cmd.Flags().BoolVar(&flags.DryRun, "dry-run", false, "list listeners without killing them")
	return cmd
}

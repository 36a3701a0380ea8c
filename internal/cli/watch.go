package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warpmetrics/coder/internal/logging"
)

// watchCmd implements "warp-coder watch": the daemon's main loop. It builds
// every adapter named in SPEC_FULL.md §4.7 and runs the scheduler's poll
// loop until Ctrl-C (or SIGTERM) requests a graceful shutdown.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the issue board and drive every open issue through the workflow graph",
	Long: `Watch polls the configured board for new and in-flight issues, advances
each one through the compiled workflow graph one act at a time, and keeps
polling until interrupted. Send SIGINT/SIGTERM once for a graceful shutdown
that waits for in-flight work-acts to finish; send it twice to force exit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.New("scheduler")

		deps, err := buildEngineDeps(logger)
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}

		if flagDryRun {
			fmt.Fprintf(cmd.OutOrStdout(), "Workflow: %d acts, initial act %q\n",
				len(deps.Scheduler.Graph.Nodes), deps.Scheduler.Graph.InitialAct)
			fmt.Fprintf(cmd.OutOrStdout(), "Board: %s (project %s), repos %v\n",
				deps.EngineCfg.Board.Provider, deps.EngineCfg.Board.Project, deps.EngineCfg.Repos)
			return nil
		}

		return deps.Scheduler.Watch(context.Background())
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

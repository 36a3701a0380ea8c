package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warpmetrics/coder/internal/graph"
	"github.com/warpmetrics/coder/internal/logging"
	"github.com/warpmetrics/coder/internal/tui"
)

// debugCmd implements "warp-coder debug": renders the compiled workflow
// graph's BFS-ordered act sequence (grounded on the teacher's dry-run
// formatter's visit-order numbering, generalized from a fixed pipeline
// definition to a graph.Graph) and, under --dry-run, stops there. Otherwise
// it hands off to the Bubble Tea stepper (internal/tui), which drives the
// same act list and steps the real scheduler one poll cycle at a time
// behind a confirmation prompt.
var debugCmd = &cobra.Command{
	Use:   "debug",
	Short: "Render the workflow graph and step the scheduler one poll cycle at a time",
	Long: `Debug prints every act in the compiled workflow graph in breadth-first
order starting from the initial act, then -- unless --dry-run is set --
launches an interactive stepper: press 's' to request a poll cycle, 'y' to
confirm it runs against the real ledger and board, or 'q' to quit.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.New("debug")

		deps, err := buildEngineDeps(logger)
		if err != nil {
			return fmt.Errorf("debug: %w", err)
		}

		acts := bfsOrder(deps.Scheduler.Graph)
		rows := make([]tui.ActRow, 0, len(acts))
		for _, act := range acts {
			node, ok := deps.Scheduler.Graph.Node(act)
			if !ok {
				continue
			}
			rows = append(rows, tui.ActRow{Act: string(act), Executor: node.Executor})
		}

		if flagDryRun {
			out := cmd.OutOrStdout()
			for i, row := range rows {
				fmt.Fprintf(out, "%2d. %-20s executor=%s\n", i+1, row.Act, row.Executor)
			}
			return nil
		}

		if err := tui.RunDebugTUI(cmd.Context(), rows, deps.Scheduler); err != nil {
			return fmt.Errorf("debug: %w", err)
		}
		return nil
	},
}

// bfsOrder visits g's acts breadth-first from its initial act, matching
// every edge's Next (deduplicated), and appends any unreached acts last so
// every node in the graph is still listed.
func bfsOrder(g *graph.Graph) []graph.ActName {
	visited := map[graph.ActName]bool{}
	var order []graph.ActName
	queue := []graph.ActName{g.InitialAct}
	visited[g.InitialAct] = true

	for len(queue) > 0 {
		act := queue[0]
		queue = queue[1:]
		order = append(order, act)

		node, ok := g.Node(act)
		if !ok {
			continue
		}
		for _, edges := range node.Results {
			for _, edge := range edges {
				if !edge.HasNext || visited[edge.Next] {
					continue
				}
				visited[edge.Next] = true
				queue = append(queue, edge.Next)
			}
		}
	}

	for name := range g.Nodes {
		if !visited[name] {
			order = append(order, name)
		}
	}
	return order
}

func init() {
	rootCmd.AddCommand(debugCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warpmetrics/coder/internal/config"
	"github.com/warpmetrics/coder/internal/memory"
)

// compactCmd implements "warp-coder compact": forces the reflection memory
// file down to its configured maxLines immediately (§4.11). Nothing else in
// the daemon compacts the file.
var compactCmd = &cobra.Command{
	Use:   "compact",
	Short: "Force reflection memory compaction",
	Long: `Compact truncates the reflection memory file to engine.memory.maxLines
entries, discarding the oldest excess. A maxLines of 0 means unbounded
retention, in which case compact is a no-op.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		engineCfg, err := config.LoadEngineConfig(engineConfigPath(), "")
		if err != nil {
			return fmt.Errorf("compact: %w", err)
		}

		store := memory.New(memoryStorePath())
		dropped, err := store.Compact(engineCfg.Memory.MaxLines)
		if err != nil {
			return fmt.Errorf("compact: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Compacted memory log: dropped %d entr(ies)\n", dropped)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compactCmd)
}

package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warpmetrics/coder/internal/memory"
)

// memoryStorePath resolves the reflection memory file path relative to the
// current directory (already chdir'd by --dir, if set).
func memoryStorePath() string {
	return memory.DefaultFileName
}

// memoryCmd implements "warp-coder memory": prints every reflection entry
// in the memory file (§4.11).
var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Print the reflection memory log",
	Long: `Memory prints every entry in the reflection memory file, oldest first.
The daemon's executors do not write to this file; an empty file prints
nothing.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := memory.New(memoryStorePath())
		entries, err := store.Read()
		if err != nil {
			return fmt.Errorf("memory: %w", err)
		}

		out := cmd.OutOrStdout()
		for _, e := range entries {
			if e.IssueID != "" {
				fmt.Fprintf(out, "[%s] #%s %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.IssueID, e.Note)
				continue
			}
			fmt.Fprintf(out, "[%s] %s\n", e.Timestamp.Format("2006-01-02 15:04:05"), e.Note)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(memoryCmd)
}

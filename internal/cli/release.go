package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/warpmetrics/coder/internal/logging"
)

var releaseFlagPreview bool

// releaseCmd implements "warp-coder release": generates the changelog a
// run's release act would publish, without touching the code host. Useful
// for previewing what the "release"/"publish" acts will say before an issue
// actually reaches them.
var releaseCmd = &cobra.Command{
	Use:   "release",
	Short: "Generate or preview the changelog for the primary repo",
	Long: `Release computes the same tag-to-tag changelog the "release" work-act
generates (comparing the two most recent tags), and prints it. --preview is
the default and only mode today: nothing is written back to the code host.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := logging.New("release")

		deps, err := buildEngineDeps(logger)
		if err != nil {
			return fmt.Errorf("release: %w", err)
		}

		changelog := newChangelogAdapter(deps.GitHub, deps.Owner)
		notes, err := changelog.Generate(cmd.Context(), deps.PrimaryRepo)
		if err != nil {
			return fmt.Errorf("release: generating changelog for %s/%s: %w", deps.Owner, deps.PrimaryRepo, err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), notes)
		return nil
	},
}

func init() {
	releaseCmd.Flags().BoolVar(&releaseFlagPreview, "preview", true, "Print the changelog without publishing it")
	rootCmd.AddCommand(releaseCmd)
}

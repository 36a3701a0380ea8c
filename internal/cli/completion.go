package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// completionCmd generates shell completion scripts for WarpCoder.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for WarpCoder.

To install completions:

  Bash (Linux):
    warp-coder completion bash | sudo tee /etc/bash_completion.d/warp-coder > /dev/null

  Bash (macOS with Homebrew):
    warp-coder completion bash > $(brew --prefix)/etc/bash_completion.d/warp-coder

  Zsh:
    warp-coder completion zsh > "${fpath[1]}/_warp-coder"
    # or
    warp-coder completion zsh > ~/.zsh/completions/_warp-coder

  Fish:
    warp-coder completion fish > ~/.config/fish/completions/warp-coder.fish

  PowerShell:
    warp-coder completion powershell > warp-coder.ps1
    # Then add ". warp-coder.ps1" to your PowerShell profile`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletionV2(os.Stdout, true)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		default:
			return fmt.Errorf("unsupported shell: %s", args[0])
		}
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)
}

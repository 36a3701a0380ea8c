// Command warp-coder is the issue-board-driven coding daemon's entrypoint.
// Every subcommand is registered in internal/cli; main only hands off to
// the cobra command tree.
package main

import (
	"os"

	"github.com/warpmetrics/coder/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}

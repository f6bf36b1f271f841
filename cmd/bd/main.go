// bd is the CLI for beads, a local-first issue tracker.
package main

import (
	"os"

	"beads-engine/internal/cmd"
)

var (
	run    = cmd.Execute
	osExit = os.Exit
)

func main() {
	if code := run(); code != cmd.ExitOK {
		osExit(code)
	}
}

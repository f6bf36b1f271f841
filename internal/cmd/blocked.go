package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// newBlockedCmd creates the blocked command.
func newBlockedCmd(provider *AppProvider) *cobra.Command {
	var wf workFlags

	cmd := &cobra.Command{
		Use:   "blocked",
		Short: "Show issues waiting on open blockers",
		Long: `Show unclosed issues that have at least one open blocking dependency,
together with the ids blocking them.

Examples:
  bd blocked
  bd blocked --json`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			blocked, err := app.WS.Graph().BlockedIssues(cmd.Context(), wf.filter())
			if err != nil {
				return err
			}
			if app.JSON {
				return app.writeJSON(blocked)
			}
			if len(blocked) == 0 {
				fmt.Fprintln(app.Out, "No blocked issues.")
				return nil
			}
			fmt.Fprintf(app.Out, "Blocked issues (%d):\n\n", len(blocked))
			for _, b := range blocked {
				printIssueLine(app, app.Out, b.Issue)
				fmt.Fprintf(app.Out, "    %s %s\n", app.WarnColor("blocked by:"), strings.Join(b.BlockedBy, ", "))
			}
			return nil
		},
	}

	wf.register(cmd)

	return cmd
}

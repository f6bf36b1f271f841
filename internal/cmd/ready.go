package cmd

import (
	"fmt"

	"beads-engine/internal/graph"

	"github.com/spf13/cobra"
)

// workFlags are shared by ready and blocked.
type workFlags struct {
	deferred   bool
	parent     string
	transitive bool
	limit      int
}

func (f *workFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.deferred, "include-deferred", false, "Include issues deferred to a future date")
	cmd.Flags().StringVar(&f.parent, "parent", "", "Only children of this issue")
	cmd.Flags().BoolVarP(&f.transitive, "recursive", "r", false, "With --parent, include all descendants")
	cmd.Flags().IntVarP(&f.limit, "limit", "n", 0, "Maximum number of results (0 for no limit)")
}

func (f *workFlags) filter() graph.WorkFilter {
	return graph.WorkFilter{
		IncludeDeferred: f.deferred,
		ParentID:        f.parent,
		Transitive:      f.transitive,
		Limit:           f.limit,
	}
}

// newReadyCmd creates the ready command.
func newReadyCmd(provider *AppProvider) *cobra.Command {
	var wf workFlags

	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Show issues ready to work on",
		Long: `Show unclosed issues with no open blocking dependencies.

An issue is blocked while any issue it depends on through a blocks edge is
not closed. Issues deferred to a future date are hidden unless
--include-deferred is given. Results are ordered by priority, then age.

Examples:
  bd ready
  bd ready --parent bd-a1b2 --recursive
  bd ready -n 5 --json`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			issues, err := app.WS.Graph().ReadyIssues(cmd.Context(), wf.filter())
			if err != nil {
				return err
			}
			if app.JSON {
				return app.writeJSON(issues)
			}
			if len(issues) == 0 {
				fmt.Fprintln(app.Out, "No ready work.")
				return nil
			}
			fmt.Fprintf(app.Out, "Ready work (%d issues):\n\n", len(issues))
			for _, issue := range issues {
				printIssueLine(app, app.Out, issue)
			}
			return nil
		},
	}

	wf.register(cmd)

	return cmd
}

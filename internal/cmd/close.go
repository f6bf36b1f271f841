package cmd

import (
	"context"
	"fmt"

	"beads-engine/internal/issuestorage"

	"github.com/spf13/cobra"
)

// newCloseCmd creates the close command.
func newCloseCmd(provider *AppProvider) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "close <issue-id> [issue-id...]",
		Short: "Close one or more issues",
		Long: `Close one or more issues.

Sets status to closed and records the closed_at timestamp. Issues that
depended on a closed issue become ready once nothing else blocks them.

Examples:
  bd close bd-a1b2
  bd close bd-a1b2 bd-c3d4 --reason "fixed in 4f2e1c"`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			return forEachIssue(cmd.Context(), app, args, "closed", "Closed",
				func(ctx context.Context, id string) (*issuestorage.Issue, error) {
					return app.WS.CloseIssue(ctx, id, reason)
				})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason for closing")

	return cmd
}

// forEachIssue applies fn to every id, reporting successes and failures
// together. It returns the first error so the exit code reflects it.
func forEachIssue(ctx context.Context, app *App, ids []string, key, verb string,
	fn func(ctx context.Context, id string) (*issuestorage.Issue, error)) error {
	var done []string
	var errs []error

	for _, id := range ids {
		issue, err := fn(ctx, id)
		if issue != nil {
			done = append(done, id)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s %s: %w", key, id, err))
		}
	}

	// Output results
	if app.JSON {
		if done == nil {
			done = []string{}
		}
		result := map[string]any{key: done}
		if len(errs) > 0 {
			errStrings := make([]string, len(errs))
			for i, e := range errs {
				errStrings[i] = e.Error()
			}
			result["errors"] = errStrings
		}
		if err := app.writeJSON(result); err != nil {
			return err
		}
	} else {
		for _, id := range done {
			fmt.Fprintf(app.Out, "%s %s %s\n", app.SuccessColor("✓"), verb, id)
		}
		for _, e := range errs {
			fmt.Fprintf(app.Err, "Error: %v\n", e)
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

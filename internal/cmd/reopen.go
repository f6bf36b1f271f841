package cmd

import (
	"context"

	"beads-engine/internal/issuestorage"

	"github.com/spf13/cobra"
)

// newReopenCmd creates the reopen command.
func newReopenCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reopen <issue-id> [issue-id...]",
		Short: "Reopen closed issues",
		Long: `Move closed issues back to open and clear closed_at.

Examples:
  bd reopen bd-a1b2`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			return forEachIssue(cmd.Context(), app, args, "reopened", "Reopened",
				func(ctx context.Context, id string) (*issuestorage.Issue, error) {
					return app.WS.ReopenIssue(ctx, id)
				})
		},
	}

	return cmd
}

package cmd

import (
	"context"

	"beads-engine/internal/issuestorage"

	"github.com/spf13/cobra"
)

// newDeleteCmd creates the delete command.
func newDeleteCmd(provider *AppProvider) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "delete <issue-id> [issue-id...]",
		Short: "Tombstone issues",
		Long: `Delete issues by turning them into tombstones.

A tombstone keeps its id, edges and history but is hidden from list, ready
and search. Tombstones cannot be updated, closed, reopened or deleted again.

Examples:
  bd delete bd-a1b2 --reason duplicate`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			return forEachIssue(cmd.Context(), app, args, "deleted", "Deleted",
				func(ctx context.Context, id string) (*issuestorage.Issue, error) {
					return app.WS.DeleteIssue(ctx, id, reason)
				})
		},
	}

	cmd.Flags().StringVarP(&reason, "reason", "r", "", "Reason for deleting")

	return cmd
}

package cmd

import (
	"strings"

	"beads-engine/internal/issuestorage"

	"github.com/spf13/cobra"
)

// newSearchCmd creates the search command.
func newSearchCmd(provider *AppProvider) *cobra.Command {
	var ff filterFlags

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search issues by text",
		Long: `Search issue ids, titles, descriptions and notes.

Every word of the query must match. Results are ranked by relevance, then
by most recent update. Closed issues are included.

Examples:
  bd search login
  bd search "oauth token" --type bug`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			ff.all = ff.all || ff.status == ""
			filter, err := ff.build()
			if err != nil {
				return err
			}
			query := strings.Join(args, " ")
			issues, err := restrictToChildren(ctx, app, ff.parent, filter,
				func(f *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
					return app.WS.Store().Search(ctx, query, f)
				})
			if err != nil {
				return err
			}
			return printIssues(app, issues)
		},
	}

	ff.register(cmd)

	return cmd
}

package cmd

import (
	"errors"
	"fmt"
	"strings"

	"beads-engine/internal/issuestorage"

	"github.com/spf13/cobra"
)

// newCommentCmd creates the comment command.
func newCommentCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment <issue-id> [text...]",
		Short: "Add a comment to an issue, or list its comments",
		Long: `Add a comment to an issue. Without text, list the issue's comments.
Use - as the text to read it from stdin.

Examples:
  bd comment bd-a1b2 "Reproduced on Safari 17"
  bd comment bd-a1b2`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			id := args[0]

			if len(args) == 1 {
				comments, err := app.WS.Store().Comments(ctx, id)
				if err != nil {
					return err
				}
				if app.JSON {
					if comments == nil {
						comments = []*issuestorage.Comment{}
					}
					return app.writeJSON(comments)
				}
				if len(comments) == 0 {
					fmt.Fprintf(app.Out, "No comments on %s.\n", id)
				}
				for _, c := range comments {
					fmt.Fprintf(app.Out, "[%s] %s: %s\n", formatTime(&c.CreatedAt), c.Author, c.Text)
				}
				return nil
			}

			text, err := readDescription(strings.Join(args[1:], " "), cmd.InOrStdin())
			if err != nil {
				return err
			}
			if strings.TrimSpace(text) == "" {
				return usageError(errors.New("comment text is empty"))
			}
			c, err := app.WS.AddComment(ctx, id, text)
			if c == nil {
				return err
			}
			if app.JSON {
				if jerr := app.writeJSON(c); jerr != nil {
					return jerr
				}
				return err
			}
			fmt.Fprintf(app.Out, "%s Comment added to %s\n", app.SuccessColor("✓"), id)
			return err
		},
	}

	return cmd
}

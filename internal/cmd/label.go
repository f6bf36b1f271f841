package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newLabelCmd creates the label command with subcommands.
func newLabelCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label",
		Short: "Manage issue labels",
		Long: `Add or remove labels. Adding a label an issue already has, or removing
one it lacks, changes nothing.

Examples:
  bd label add bd-a1b2 urgent v2
  bd label rm bd-a1b2 v2`,
	}

	cmd.AddCommand(newLabelChangeCmd(provider, "add", "Add labels to an issue", "Labeled",
		func(ctx context.Context, app *App, id, label string) error {
			return app.WS.AddLabel(ctx, id, label)
		}))
	cmd.AddCommand(newLabelChangeCmd(provider, "rm", "Remove labels from an issue", "Unlabeled",
		func(ctx context.Context, app *App, id, label string) error {
			return app.WS.RemoveLabel(ctx, id, label)
		}, "remove"))

	return cmd
}

func newLabelChangeCmd(provider *AppProvider, name, short, verb string,
	fn func(ctx context.Context, app *App, id, label string) error, aliases ...string) *cobra.Command {
	return &cobra.Command{
		Use:     name + " <issue-id> <label> [label...]",
		Aliases: aliases,
		Short:   short,
		Args:    usageArgs(cobra.MinimumNArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			id := args[0]
			for _, label := range args[1:] {
				if err := fn(ctx, app, id, label); err != nil {
					return err
				}
			}

			labels, err := app.WS.Store().Labels(ctx, id)
			if err != nil {
				return err
			}
			if app.JSON {
				if labels == nil {
					labels = []string{}
				}
				return app.writeJSON(map[string]any{"id": id, "labels": labels})
			}
			fmt.Fprintf(app.Out, "%s %s %v\n", app.SuccessColor(verb), id, labels)
			return nil
		},
	}
}

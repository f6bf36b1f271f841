package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"beads-engine/internal/graph"
	"beads-engine/internal/watch"

	"github.com/spf13/cobra"
)

// newWatchCmd creates the watch command.
func newWatchCmd(provider *AppProvider) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print ready work whenever the workspace changes",
		Long: `Watch the workspace's data files. Each time another process writes to
them, reload and print the ready work. Stops on interrupt.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if once {
				var cancel context.CancelFunc
				ctx, cancel = context.WithCancel(ctx)
				defer cancel()
				stop = cancel
			}

			if err := printWatchReady(ctx, app, nil); err != nil {
				return err
			}
			err = app.WS.Watch(ctx, func(c watch.Change) {
				if err := printWatchReady(ctx, app, &c); err != nil {
					fmt.Fprintf(app.Err, "Error: %v\n", err)
				}
				if once {
					stop()
				}
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "Exit after the first change")

	return cmd
}

func printWatchReady(ctx context.Context, app *App, c *watch.Change) error {
	issues, err := app.WS.Graph().ReadyIssues(ctx, graph.WorkFilter{})
	if err != nil {
		return err
	}
	if app.JSON {
		event := map[string]any{"ready": issues}
		if c != nil {
			event["changed"] = c.Files
			event["at"] = c.At
		}
		return app.writeJSON(event)
	}
	if c != nil {
		fmt.Fprintf(app.Out, "%s %s changed\n", app.MutedColor(c.At.Local().Format(time.TimeOnly)), strings.Join(c.Files, ", "))
	}
	fmt.Fprintf(app.Out, "Ready work (%d issues):\n", len(issues))
	for _, issue := range issues {
		printIssueLine(app, app.Out, issue)
	}
	return nil
}

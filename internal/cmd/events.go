package cmd

import (
	"fmt"
	"sort"
	"time"

	"beads-engine/internal/eventlog"

	"github.com/spf13/cobra"
)

// newEventsCmd creates the events command.
func newEventsCmd(provider *AppProvider) *cobra.Command {
	var (
		types   []string
		since   string
		limit   int
		summary bool
	)

	cmd := &cobra.Command{
		Use:   "events [issue-id]",
		Short: "Show the audit trail",
		Long: `Show recorded events, newest first. With an issue id, only that issue's
events are shown.

Examples:
  bd events
  bd events bd-a1b2
  bd events --type closed --type reopened --since "last week"
  bd events --summary --json`,
		Args: usageArgs(cobra.MaximumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}

			q := eventlog.Query{Limit: limit}
			if len(args) == 1 {
				q.IssueID = args[0]
			}
			for _, t := range types {
				q.Types = append(q.Types, eventlog.EventType(t))
			}
			if since != "" {
				if q.Since, err = parseDate(since, app.now()); err != nil {
					return err
				}
			}
			if summary {
				q.Limit = 0
			}

			events, err := app.WS.Events().Query(cmd.Context(), q)
			if err != nil {
				return err
			}

			if summary {
				s := eventlog.Summarize(events)
				if app.JSON {
					return app.writeJSON(s)
				}
				fmt.Fprintf(app.Out, "%d events on %d issues\n", s.Total, s.Issues)
				if s.Total > 0 {
					fmt.Fprintf(app.Out, "  From %s to %s\n", s.First.Local().Format(time.DateTime), s.Last.Local().Format(time.DateTime))
				}
				names := make([]string, 0, len(s.ByType))
				for t := range s.ByType {
					names = append(names, string(t))
				}
				sort.Strings(names)
				for _, t := range names {
					fmt.Fprintf(app.Out, "  %-20s %d\n", t, s.ByType[eventlog.EventType(t)])
				}
				return nil
			}

			if app.JSON {
				if events == nil {
					events = []*eventlog.Event{}
				}
				return app.writeJSON(events)
			}
			if len(events) == 0 {
				fmt.Fprintln(app.Out, "No events.")
				return nil
			}
			for _, e := range events {
				fmt.Fprintln(app.Out, formatEvent(app, e))
			}
			return nil
		},
	}

	cmd.Flags().StringArrayVarP(&types, "type", "t", nil, "Only events of this type (repeatable)")
	cmd.Flags().StringVar(&since, "since", "", "Only events at or after this date")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of events (0 for no limit)")
	cmd.Flags().BoolVar(&summary, "summary", false, "Show totals instead of events")

	return cmd
}

func formatEvent(app *App, e *eventlog.Event) string {
	line := fmt.Sprintf("%s #%d %s %s", app.MutedColor(e.CreatedAt.Local().Format(time.DateTime)), e.ID, e.Type, e.Actor)
	if e.IssueID != "" {
		line += " " + e.IssueID
	}
	switch {
	case e.OldValue != nil && e.NewValue != nil:
		line += fmt.Sprintf(": %s → %s", *e.OldValue, *e.NewValue)
	case e.NewValue != nil:
		line += ": " + *e.NewValue
	case e.OldValue != nil:
		line += ": -" + *e.OldValue
	}
	if e.Comment != nil {
		line += fmt.Sprintf(" (%s)", *e.Comment)
	}
	return line
}

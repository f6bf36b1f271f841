package cmd

import (
	"context"
	"fmt"
	"strings"

	"beads-engine/internal/issuestorage"

	"github.com/spf13/cobra"
)

// issueDetail is the show output: the issue plus its edges and comments.
type issueDetail struct {
	*issuestorage.Issue
	Dependencies []*issuestorage.Dependency `json:"dependencies"`
	Dependents   []*issuestorage.Dependency `json:"dependents"`
	Comments     []*issuestorage.Comment    `json:"comments"`
}

func loadDetail(ctx context.Context, app *App, id string) (*issueDetail, error) {
	store := app.WS.Store()
	issue, err := store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	d := &issueDetail{Issue: issue}
	if d.Dependencies, err = store.Dependencies(ctx, id); err != nil {
		return nil, err
	}
	if d.Dependents, err = store.Dependents(ctx, id); err != nil {
		return nil, err
	}
	if d.Comments, err = store.Comments(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

// newShowCmd creates the show command.
func newShowCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <issue-id> [issue-id...]",
		Short: "Show issue details",
		Long: `Show an issue with its labels, dependencies, dependents and comments.

Examples:
  bd show bd-a1b2
  bd show bd-a1b2 bd-c3d4 --json`,
		Args: usageArgs(cobra.MinimumNArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}

			details := make([]*issueDetail, 0, len(args))
			for _, id := range args {
				d, err := loadDetail(cmd.Context(), app, id)
				if err != nil {
					return err
				}
				details = append(details, d)
			}

			if app.JSON {
				if len(details) == 1 {
					return app.writeJSON(details[0])
				}
				return app.writeJSON(details)
			}
			for i, d := range details {
				if i > 0 {
					fmt.Fprintln(app.Out)
				}
				printDetail(app, d)
			}
			return nil
		},
	}

	return cmd
}

func printDetail(app *App, d *issueDetail) {
	w := app.Out
	fmt.Fprintf(w, "%s %s: %s\n", statusIcon(d.Status), d.ID, d.Title)
	fmt.Fprintf(w, "Status: %s  Priority: %s  Type: %s\n", d.Status, d.Priority.Display(), d.Type)
	if d.Assignee != "" {
		fmt.Fprintf(w, "Assignee: %s\n", d.Assignee)
	}
	if d.Owner != "" {
		fmt.Fprintf(w, "Owner: %s\n", d.Owner)
	}
	fmt.Fprintf(w, "Created: %s by %s\n", formatTime(&d.CreatedAt), d.CreatedBy)
	fmt.Fprintf(w, "Updated: %s\n", formatTime(&d.UpdatedAt))
	if d.ClosedAt != nil {
		fmt.Fprintf(w, "Closed: %s", formatTime(d.ClosedAt))
		if d.CloseReason != "" {
			fmt.Fprintf(w, " (%s)", d.CloseReason)
		}
		fmt.Fprintln(w)
	}
	if d.DeletedAt != nil {
		fmt.Fprintf(w, "%s %s by %s", app.WarnColor("Deleted:"), formatTime(d.DeletedAt), d.DeletedBy)
		if d.DeleteReason != "" {
			fmt.Fprintf(w, " (%s)", d.DeleteReason)
		}
		fmt.Fprintln(w)
	}
	if d.DueAt != nil {
		fmt.Fprintf(w, "Due: %s\n", formatTime(d.DueAt))
	}
	if d.DeferUntil != nil {
		fmt.Fprintf(w, "Deferred until: %s\n", formatTime(d.DeferUntil))
	}
	if d.EstimatedMinutes != nil {
		fmt.Fprintf(w, "Estimate: %dm\n", *d.EstimatedMinutes)
	}
	if len(d.Labels) > 0 {
		fmt.Fprintf(w, "Labels: %s\n", strings.Join(d.Labels, ", "))
	}

	for _, section := range []struct{ name, body string }{
		{"Description", d.Description},
		{"Design", d.Design},
		{"Acceptance Criteria", d.AcceptanceCriteria},
		{"Notes", d.Notes},
	} {
		if section.body != "" {
			fmt.Fprintf(w, "\n%s:\n%s\n", section.name, section.body)
		}
	}

	if len(d.Dependencies) > 0 {
		fmt.Fprintln(w, "\nDepends on:")
		for _, dep := range d.Dependencies {
			fmt.Fprintf(w, "  → %s (%s)\n", dep.DependsOnID, dep.Type)
		}
	}
	if len(d.Dependents) > 0 {
		fmt.Fprintln(w, "\nDependents:")
		for _, dep := range d.Dependents {
			fmt.Fprintf(w, "  ← %s (%s)\n", dep.IssueID, dep.Type)
		}
	}
	if len(d.Comments) > 0 {
		fmt.Fprintln(w, "\nComments:")
		for _, c := range d.Comments {
			fmt.Fprintf(w, "  [%s] %s: %s\n", formatTime(&c.CreatedAt), c.Author, c.Text)
		}
	}
}

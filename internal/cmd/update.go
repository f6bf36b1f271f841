package cmd

import (
	"errors"
	"fmt"
	"time"

	"beads-engine/internal/issuestorage"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// newUpdateCmd creates the update command.
func newUpdateCmd(provider *AppProvider) *cobra.Command {
	var (
		title       string
		description string
		design      string
		acceptance  string
		notes       string
		status      string
		priority    string
		typeFlag    string
		assignee    string
		owner       string
		externalRef string
		due         string
		deferUntil  string
		estimate    int
	)

	cmd := &cobra.Command{
		Use:   "update <issue-id>",
		Short: "Update fields of an issue",
		Long: `Update one or more fields of an issue. Only the flags given are changed.

Setting --status closed stamps closed_at; moving away from closed clears it.
Pass "none" to --due or --defer to clear the date, and a negative
--estimate to clear the estimate.

Examples:
  bd update bd-a1b2 --status in_progress --assignee alice
  bd update bd-a1b2 --priority 0 --title "Fix login on Safari"
  bd update bd-a1b2 --defer none`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}

			u, err := buildUpdate(cmd.Flags(), app, updateValues{
				title: title, description: description, design: design,
				acceptance: acceptance, notes: notes, status: status,
				priority: priority, typ: typeFlag, assignee: assignee,
				owner: owner, externalRef: externalRef, due: due,
				deferUntil: deferUntil, estimate: estimate,
			}, cmd)
			if err != nil {
				return err
			}
			if u.IsEmpty() {
				return usageError(errors.New("nothing to update"))
			}

			updated, err := app.WS.UpdateIssue(cmd.Context(), args[0], u)
			if updated == nil {
				return err
			}
			if err != nil {
				fmt.Fprintf(app.Err, "%s %v\n", app.WarnColor("Warning:"), err)
			}
			if app.JSON {
				if jerr := app.writeJSON(updated); jerr != nil {
					return jerr
				}
				return err
			}
			fmt.Fprintf(app.Out, "%s Updated %s\n", app.SuccessColor("✓"), updated.ID)
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&title, "title", "", "New title")
	f.StringVarP(&description, "description", "d", "", "New description (use - to read from stdin)")
	f.StringVar(&design, "design", "", "New design notes")
	f.StringVar(&acceptance, "acceptance", "", "New acceptance criteria")
	f.StringVar(&notes, "notes", "", "New notes")
	f.StringVarP(&status, "status", "s", "", "New status (open, in_progress, blocked, deferred, pinned, closed or custom)")
	f.StringVarP(&priority, "priority", "p", "", "New priority")
	f.StringVarP(&typeFlag, "type", "t", "", "New issue type")
	f.StringVarP(&assignee, "assignee", "a", "", "New assignee (empty to clear)")
	f.StringVar(&owner, "owner", "", "New owner")
	f.StringVar(&externalRef, "external-ref", "", "New external reference")
	f.StringVar(&due, "due", "", "New due date (none to clear)")
	f.StringVar(&deferUntil, "defer", "", "New defer date (none to clear)")
	f.IntVar(&estimate, "estimate", 0, "New estimate in minutes (negative to clear)")

	return cmd
}

type updateValues struct {
	title, description, design, acceptance, notes string
	status, priority, typ, assignee, owner        string
	externalRef, due, deferUntil                  string
	estimate                                      int
}

// buildUpdate turns the changed flags into an IssueUpdate.
func buildUpdate(f *pflag.FlagSet, app *App, v updateValues, cmd *cobra.Command) (*issuestorage.IssueUpdate, error) {
	u := &issuestorage.IssueUpdate{}
	str := func(name string, src string) *string {
		if !f.Changed(name) {
			return nil
		}
		s := src
		return &s
	}
	u.Title = str("title", v.title)
	u.Design = str("design", v.design)
	u.AcceptanceCriteria = str("acceptance", v.acceptance)
	u.Notes = str("notes", v.notes)
	u.Assignee = str("assignee", v.assignee)
	u.Owner = str("owner", v.owner)
	u.ExternalRef = str("external-ref", v.externalRef)

	if f.Changed("description") {
		d, err := readDescription(v.description, cmd.InOrStdin())
		if err != nil {
			return nil, err
		}
		u.Description = &d
	}
	if f.Changed("status") {
		s, err := parseStatus(v.status)
		if err != nil {
			return nil, err
		}
		u.Status = &s
	}
	if f.Changed("priority") {
		p, err := issuestorage.ParsePriority(v.priority)
		if err != nil {
			return nil, err
		}
		u.Priority = &p
	}
	if f.Changed("type") {
		t, err := parseType(v.typ)
		if err != nil {
			return nil, err
		}
		u.Type = &t
	}
	if f.Changed("estimate") {
		e := v.estimate
		u.EstimatedMinutes = &e
	}
	for _, d := range []struct {
		flag string
		val  string
		dst  **time.Time
	}{
		{"due", v.due, &u.DueAt},
		{"defer", v.deferUntil, &u.DeferUntil},
	} {
		if !f.Changed(d.flag) {
			continue
		}
		t, err := parseDate(d.val, app.now())
		if err != nil {
			return nil, err
		}
		*d.dst = &t
	}
	return u, nil
}

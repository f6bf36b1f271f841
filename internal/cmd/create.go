package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"beads-engine/internal/issuestorage"
	"beads-engine/internal/workspace"

	"github.com/spf13/cobra"
)

// newCreateCmd creates the create command.
func newCreateCmd(provider *AppProvider) *cobra.Command {
	var (
		typeFlag    string
		priority    string
		parent      string
		deps        []string
		labels      []string
		assignee    string
		description string
		design      string
		acceptance  string
		notes       string
		due         string
		deferUntil  string
		estimate    int
		explicitID  string
		externalRef string
	)

	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a new issue",
		Long: `Create a new issue with the specified title.

Dependencies are given as <id> (blocks) or <type>:<id>. Dates accept
YYYY-MM-DD, RFC 3339 or phrases such as "tomorrow" and "next friday".

Examples:
  bd create "Fix login bug"
  bd create "Add OAuth support" --type feature --priority 1
  bd create "Implement caching" --parent bd-a1b2
  bd create "Write tests" --deps bd-e5f6 --deps related:bd-c3d4
  bd create "Quarterly review" --defer "next monday" --due "in 2 weeks"
  bd create "Task" --description -   # read description from stdin`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			issue := &issuestorage.Issue{
				ID:                 explicitID,
				Title:              args[0],
				Design:             design,
				AcceptanceCriteria: acceptance,
				Notes:              notes,
				Status:             issuestorage.StatusOpen,
				Type:               issuestorage.TypeTask,
				Assignee:           assignee,
				Owner:              resolveOwner(),
				ExternalRef:        externalRef,
				Labels:             labels,
			}

			if typeFlag != "" {
				if issue.Type, err = parseType(typeFlag); err != nil {
					return err
				}
			}
			if issue.Priority, err = issuestorage.ParsePriority(priority); err != nil {
				return err
			}
			if issue.Description, err = readDescription(description, cmd.InOrStdin()); err != nil {
				return err
			}
			if cmd.Flags().Changed("estimate") {
				issue.EstimatedMinutes = &estimate
			}
			now := app.now()
			if due != "" {
				t, err := parseDate(due, now)
				if err != nil {
					return err
				}
				if !t.IsZero() {
					issue.DueAt = &t
				}
			}
			if deferUntil != "" {
				t, err := parseDate(deferUntil, now)
				if err != nil {
					return err
				}
				if !t.IsZero() {
					issue.DeferUntil = &t
				}
			}

			opts := workspace.CreateOptions{ParentID: parent}
			for _, spec := range deps {
				dep, err := parseDepSpec(spec)
				if err != nil {
					return err
				}
				opts.Deps = append(opts.Deps, dep)
			}

			created, err := app.WS.CreateIssue(ctx, issue, opts)
			if err != nil {
				if created == nil {
					return err
				}
				// The issue exists; only its audit event failed.
				fmt.Fprintf(app.Err, "%s %v\n", app.WarnColor("Warning:"), err)
			}

			if app.JSON {
				if jerr := app.writeJSON(created); jerr != nil {
					return jerr
				}
				return err
			}

			fmt.Fprintf(app.Out, "%s Created issue: %s\n", app.SuccessColor("✓"), created.ID)
			fmt.Fprintf(app.Out, "  Title: %s\n", created.Title)
			fmt.Fprintf(app.Out, "  Priority: %s\n", created.Priority.Display())
			fmt.Fprintf(app.Out, "  Status: %s\n", created.Status)
			return err
		},
	}

	cmd.Flags().StringVarP(&typeFlag, "type", "t", "", "Issue type (task, bug, feature, epic, chore or a custom type)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "Priority 0-4, P0-P4 or critical|high|medium|low|backlog (default medium)")
	cmd.Flags().StringVar(&parent, "parent", "", "Parent issue ID; the new issue gets a child ID")
	cmd.Flags().StringArrayVar(&deps, "deps", nil, "Dependency as <id> or <type>:<id> (repeatable)")
	cmd.Flags().StringArrayVarP(&labels, "label", "l", nil, "Label (repeatable)")
	cmd.Flags().StringVarP(&assignee, "assignee", "a", "", "Assignee")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description (use - to read from stdin)")
	cmd.Flags().StringVar(&design, "design", "", "Design notes")
	cmd.Flags().StringVar(&acceptance, "acceptance", "", "Acceptance criteria")
	cmd.Flags().StringVar(&notes, "notes", "", "Additional notes")
	cmd.Flags().StringVar(&due, "due", "", "Due date")
	cmd.Flags().StringVar(&deferUntil, "defer", "", "Hide from ready work until this date")
	cmd.Flags().IntVar(&estimate, "estimate", 0, "Estimated minutes of work")
	cmd.Flags().StringVar(&explicitID, "id", "", "Use this ID instead of generating one")
	cmd.Flags().StringVar(&externalRef, "external-ref", "", "Reference in an external tracker")

	return cmd
}

// readDescription returns s, or all of r when s is "-".
func readDescription(s string, r io.Reader) (string, error) {
	if s != "-" {
		return s, nil
	}
	if r == nil {
		r = os.Stdin
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("reading description from stdin: %w", err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

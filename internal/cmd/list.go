package cmd

import (
	"context"
	"fmt"
	"strings"

	"beads-engine/internal/issuestorage"

	"github.com/spf13/cobra"
)

// filterFlags are the criteria shared by list and search.
type filterFlags struct {
	status    string
	priority  string
	issueType string
	labels    []string
	assignee  string
	parent    string
	all       bool
	limit     int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringVarP(&f.status, "status", "s", "", "Only issues with this status (tombstone lists deleted issues)")
	flags.StringVarP(&f.priority, "priority", "p", "", "Only issues with this priority")
	flags.StringVarP(&f.issueType, "type", "t", "", "Only issues of this type")
	flags.StringSliceVarP(&f.labels, "label", "l", nil, "Only issues with all these labels")
	flags.StringVarP(&f.assignee, "assignee", "a", "", "Only issues assigned to this person")
	flags.StringVar(&f.parent, "parent", "", "Only direct children of this issue")
	flags.BoolVar(&f.all, "all", false, "Include closed issues")
	flags.IntVarP(&f.limit, "limit", "n", 0, "Maximum number of results (0 for no limit)")
}

// openStatuses are listed when neither --all nor --status is given.
var openStatuses = []issuestorage.Status{
	issuestorage.StatusOpen, issuestorage.StatusInProgress, issuestorage.StatusBlocked,
	issuestorage.StatusDeferred, issuestorage.StatusPinned,
}

func (f *filterFlags) build() (*issuestorage.ListFilter, error) {
	filter := &issuestorage.ListFilter{Limit: f.limit}
	switch {
	case f.status != "":
		s := issuestorage.Status(strings.ToLower(f.status))
		if s != issuestorage.StatusTombstone {
			var err error
			if s, err = parseStatus(f.status); err != nil {
				return nil, err
			}
		}
		filter.Status = &s
	case !f.all:
		filter.Statuses = openStatuses
	}
	if f.priority != "" {
		p, err := issuestorage.ParsePriority(f.priority)
		if err != nil {
			return nil, err
		}
		filter.Priority = &p
	}
	if f.issueType != "" {
		t, err := parseType(f.issueType)
		if err != nil {
			return nil, err
		}
		filter.Type = &t
	}
	if f.assignee != "" {
		a := f.assignee
		filter.Assignee = &a
	}
	filter.Labels = f.labels
	return filter, nil
}

// restrictToChildren keeps the direct children of parent. Pagination is
// applied after the restriction.
func restrictToChildren(ctx context.Context, app *App, parent string, filter *issuestorage.ListFilter,
	run func(*issuestorage.ListFilter) ([]*issuestorage.Issue, error)) ([]*issuestorage.Issue, error) {
	if parent == "" {
		return run(filter)
	}
	children, err := app.WS.Graph().Descendants(ctx, parent, false)
	if err != nil {
		return nil, err
	}
	keep := make(map[string]bool, len(children))
	for _, id := range children {
		keep[id] = true
	}

	unpaged := *filter
	unpaged.Limit, unpaged.Offset = 0, 0
	issues, err := run(&unpaged)
	if err != nil {
		return nil, err
	}
	out := issues[:0]
	for _, issue := range issues {
		if keep[issue.ID] {
			out = append(out, issue)
		}
	}
	return issuestorage.Paginate(out, filter.Offset, filter.Limit), nil
}

// newListCmd creates the list command.
func newListCmd(provider *AppProvider) *cobra.Command {
	var (
		ff   filterFlags
		sort string
		desc bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues with filtering",
		Long: `List issues with various filters.

By default, lists issues that are not closed, ordered by priority. Custom
statuses are listed with --all or --status.

Examples:
  bd list                      # List all unclosed issues
  bd list --all                # Include closed issues
  bd list --status=in_progress # List in-progress issues
  bd list --type=bug           # List bugs
  bd list --priority=high      # List high priority issues
  bd list --label=urgent,v2    # List issues with both labels
  bd list --parent=bd-abc      # List children of issue bd-abc
  bd list --sort updated --desc`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			filter, err := ff.build()
			if err != nil {
				return err
			}
			switch issuestorage.SortField(sort) {
			case issuestorage.SortPriority, issuestorage.SortCreated, issuestorage.SortUpdated:
				filter.Sort = issuestorage.SortField(sort)
			default:
				return usageError(fmt.Errorf("invalid sort %q: must be priority, created or updated", sort))
			}
			filter.Descending = desc

			issues, err := restrictToChildren(ctx, app, ff.parent, filter,
				func(f *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
					return app.WS.Store().List(ctx, f)
				})
			if err != nil {
				return err
			}
			return printIssues(app, issues)
		},
	}

	ff.register(cmd)
	cmd.Flags().StringVar(&sort, "sort", "priority", "Sort by priority, created or updated")
	cmd.Flags().BoolVar(&desc, "desc", false, "Reverse the sort order")

	return cmd
}

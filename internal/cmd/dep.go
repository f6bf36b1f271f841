package cmd

import (
	"fmt"
	"strings"

	"beads-engine/internal/issuestorage"

	"github.com/spf13/cobra"
)

// parseDepSpec reads "<id>" or "<type>:<id>".
func parseDepSpec(spec string) (*issuestorage.Dependency, error) {
	typ, id := "", strings.TrimSpace(spec)
	if i := strings.Index(id, ":"); i >= 0 {
		typ, id = id[:i], strings.TrimSpace(id[i+1:])
	}
	if id == "" {
		return nil, fmt.Errorf("%w: dependency %q has no issue id", issuestorage.ErrInvalid, spec)
	}
	t, err := issuestorage.ParseDependencyType(typ)
	if err != nil {
		return nil, err
	}
	return &issuestorage.Dependency{DependsOnID: id, Type: t}, nil
}

// newDepCmd creates the dep command with subcommands.
func newDepCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage issue dependencies",
		Long: `Manage dependencies between issues.

Dependencies represent "A needs B to be done first" relationships.
When A depends on B through a blocks edge, A is not ready until B is closed.
Other edge types (parent-child, related, waits-for or custom) are recorded
but never block.

Subcommands:
  add     Create a dependency (A depends on B)
  rm      Remove a dependency
  list    Show dependencies for an issue
  cycles  Report blocks cycles`,
	}

	cmd.AddCommand(newDepAddCmd(provider))
	cmd.AddCommand(newDepRemoveCmd(provider))
	cmd.AddCommand(newDepListCmd(provider))
	cmd.AddCommand(newDepCyclesCmd(provider))

	return cmd
}

// newDepAddCmd creates the "dep add" subcommand.
func newDepAddCmd(provider *AppProvider) *cobra.Command {
	var depType string

	cmd := &cobra.Command{
		Use:   "add <issue-id> <dependency-id>",
		Short: "Add a dependency (issue depends on dependency)",
		Long: `Create a dependency relationship where issue depends on dependency.

Blocks edges that would close a cycle are rejected and the graph is left
unchanged. Adding an edge that already exists with the same type does
nothing.

Examples:
  bd dep add bd-a1b2 bd-c3d4              # bd-a1b2 depends on bd-c3d4
  bd dep add bd-a1b2 bd-c3d4 --type related`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			t, err := issuestorage.ParseDependencyType(depType)
			if err != nil {
				return err
			}

			dep := &issuestorage.Dependency{IssueID: args[0], DependsOnID: args[1], Type: t}
			added, err := app.WS.AddDependency(cmd.Context(), dep)
			if err != nil && !added {
				return err
			}
			if app.JSON {
				if jerr := app.writeJSON(map[string]any{
					"issue_id":      dep.IssueID,
					"depends_on_id": dep.DependsOnID,
					"type":          dep.Type,
					"added":         added,
				}); jerr != nil {
					return jerr
				}
				return err
			}
			if added {
				fmt.Fprintf(app.Out, "%s %s now depends on %s (%s)\n", app.SuccessColor("✓"), dep.IssueID, dep.DependsOnID, dep.Type)
			} else {
				fmt.Fprintf(app.Out, "%s already depends on %s (%s)\n", dep.IssueID, dep.DependsOnID, dep.Type)
			}
			return err
		},
	}

	cmd.Flags().StringVarP(&depType, "type", "t", "blocks", "Dependency type (blocks, parent-child, related, waits-for or custom)")

	return cmd
}

// newDepRemoveCmd creates the "dep rm" subcommand.
func newDepRemoveCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rm <issue-id> <dependency-id>",
		Aliases: []string{"remove"},
		Short:   "Remove a dependency",
		Long: `Remove the edge from issue to dependency. Removing an edge that does not
exist is not an error.

Examples:
  bd dep rm bd-a1b2 bd-c3d4`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			removed, err := app.WS.RemoveDependency(cmd.Context(), args[0], args[1])
			if err != nil && !removed {
				return err
			}
			if app.JSON {
				if jerr := app.writeJSON(map[string]any{
					"issue_id":      args[0],
					"depends_on_id": args[1],
					"removed":       removed,
				}); jerr != nil {
					return jerr
				}
				return err
			}
			if removed {
				fmt.Fprintf(app.Out, "%s Removed dependency %s → %s\n", app.SuccessColor("✓"), args[0], args[1])
			} else {
				fmt.Fprintf(app.Out, "No dependency %s → %s\n", args[0], args[1])
			}
			return err
		},
	}

	return cmd
}

// newDepListCmd creates the "dep list" subcommand.
func newDepListCmd(provider *AppProvider) *cobra.Command {
	var direction string

	cmd := &cobra.Command{
		Use:   "list <issue-id>",
		Short: "Show dependencies for an issue",
		Long: `Show what an issue depends on (down, the default) or what depends on it (up).

Examples:
  bd dep list bd-a1b2
  bd dep list bd-a1b2 --direction up`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			id := args[0]
			if _, err := app.WS.Store().Get(ctx, id); err != nil {
				return err
			}

			var deps []*issuestorage.Dependency
			switch direction {
			case "down":
				deps, err = app.WS.Graph().Dependencies(ctx, id)
			case "up":
				deps, err = app.WS.Graph().Dependents(ctx, id)
			default:
				return usageError(fmt.Errorf("invalid direction %q: must be down or up", direction))
			}
			if err != nil {
				return err
			}

			if app.JSON {
				if deps == nil {
					deps = []*issuestorage.Dependency{}
				}
				return app.writeJSON(deps)
			}
			if len(deps) == 0 {
				fmt.Fprintf(app.Out, "%s has no dependencies (%s).\n", id, direction)
				return nil
			}
			for _, d := range deps {
				other, arrow := d.DependsOnID, "→"
				if direction == "up" {
					other, arrow = d.IssueID, "←"
				}
				line := fmt.Sprintf("  %s %s (%s)", arrow, other, d.Type)
				if issue, err := app.WS.Store().Get(ctx, other); err == nil {
					line += fmt.Sprintf(" %s [%s] %s", statusIcon(issue.Status), issue.Status, issue.Title)
				} else if issuestorage.IsNotFound(err) {
					line += " " + app.WarnColor("(missing)")
				}
				fmt.Fprintln(app.Out, line)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&direction, "direction", "down", "down (what this depends on) or up (what depends on this)")

	return cmd
}

// newDepCyclesCmd creates the "dep cycles" subcommand.
func newDepCyclesCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cycles",
		Short: "Report cycles among blocks dependencies",
		Long: `Report every cycle of blocks edges. Cycles can only appear when edges
were written outside bd, since bd rejects edges that close one.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			cycles, err := app.WS.Graph().DetectCycles(cmd.Context())
			if err != nil {
				return err
			}
			if app.JSON {
				return app.writeJSON(cycles)
			}
			if len(cycles) == 0 {
				fmt.Fprintf(app.Out, "%s No dependency cycles.\n", app.SuccessColor("✓"))
				return nil
			}
			fmt.Fprintf(app.Out, "%s Found %d cycle(s):\n", app.WarnColor("⚠"), len(cycles))
			for _, c := range cycles {
				fmt.Fprintf(app.Out, "  %s\n", strings.Join(c, " → "))
			}
			return nil
		},
	}

	return cmd
}

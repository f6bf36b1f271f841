package cmd

import (
	"fmt"
	"strings"

	"beads-engine/internal/issuestorage"
	"beads-engine/internal/workspace"

	"github.com/spf13/cobra"
)

// newDoctorCmd creates the doctor command.
func newDoctorCmd(provider *AppProvider) *cobra.Command {
	var fix bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check for and fix inconsistencies",
		Long: `Check the workspace for inconsistencies.

Checks for:
- Log records that could not be read (wal backend)
- Database integrity problems (sqlite backend)
- Cycles among blocks dependencies
- Dependencies pointing at issues that do not exist
- Issues whose fields break an invariant or whose content hash is stale
- The process that last held the lock

With --fix, dangling dependencies are removed and the store is compacted,
which drops unreadable records. Cycles and issue problems are only reported.
Exits with status 6 when problems remain.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}

			r, err := app.WS.Doctor(cmd.Context(), fix)
			if err != nil {
				return fmt.Errorf("doctor failed: %w", err)
			}

			if app.JSON {
				if err := app.writeJSON(doctorJSON{Report: r, OK: r.OK()}); err != nil {
					return err
				}
			} else {
				printDoctor(app, r)
			}

			if !r.OK() && !fix {
				return issuestorage.NewError("doctor", "", fmt.Errorf("%w: %d problem(s) found", issuestorage.ErrCorruption, problemCount(r)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&fix, "fix", false, "Remove dangling dependencies and compact the store")

	return cmd
}

type doctorJSON struct {
	*workspace.Report
	OK bool `json:"ok"`
}

func problemCount(r *workspace.Report) int {
	return len(r.Corrupt) + len(r.Integrity) + len(r.Cycles) + len(r.Dangling) + len(r.Issues)
}

func printDoctor(app *App, r *workspace.Report) {
	w := app.Out
	if r.OK() {
		fmt.Fprintf(w, "%s No problems found.\n", app.SuccessColor("✓"))
	} else {
		fmt.Fprintf(w, "%s Found %d problem(s):\n", app.WarnColor("⚠"), problemCount(r))
	}
	for _, c := range r.Corrupt {
		fmt.Fprintf(w, "  - unreadable record at line %d (offset %d): %s\n", c.Line, c.Offset, c.Err)
	}
	for _, p := range r.Integrity {
		fmt.Fprintf(w, "  - database: %s\n", p)
	}
	for _, c := range r.Cycles {
		fmt.Fprintf(w, "  - cycle: %s\n", strings.Join(c, " → "))
	}
	for _, d := range r.Dangling {
		fmt.Fprintf(w, "  - dangling dependency %s → %s (%s)\n", d.IssueID, d.DependsOnID, d.Type)
	}
	for _, p := range r.Issues {
		fmt.Fprintf(w, "  - %s: %s\n", p.ID, p.Problem)
	}
	if h := r.LockHolder; h != nil {
		fmt.Fprintf(w, "Last lock holder: pid %d on %s at %s\n", h.PID, h.Host, formatTime(&h.AcquiredAt))
	}
	for _, f := range r.Fixed {
		fmt.Fprintf(w, "%s %s\n", app.SuccessColor("Fixed:"), f)
	}
}

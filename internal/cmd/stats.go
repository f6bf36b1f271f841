package cmd

import (
	"fmt"
	"sort"

	"beads-engine/internal/issuestorage"

	"github.com/spf13/cobra"
)

// newStatsCmd creates the stats command.
func newStatsCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show workspace statistics",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			s, err := app.WS.Stats(cmd.Context())
			if err != nil {
				return err
			}
			if app.JSON {
				return app.writeJSON(s)
			}

			w := app.Out
			fmt.Fprintf(w, "Issues:       %d\n", s.Total)
			fmt.Fprintf(w, "  Active:     %d\n", s.Active)
			fmt.Fprintf(w, "  Ready:      %d\n", s.Ready)
			fmt.Fprintf(w, "  Blocked:    %d\n", s.Blocked)
			fmt.Fprintf(w, "  Deferred:   %d\n", s.Deferred)
			fmt.Fprintf(w, "  Closed:     %d\n", s.Closed)
			fmt.Fprintf(w, "  Tombstones: %d\n", s.Tombstones)
			fmt.Fprintf(w, "Dependencies: %d\n", s.Edges)

			if len(s.ByStatus) > 0 {
				fmt.Fprintln(w, "\nBy status:")
				statuses := make([]string, 0, len(s.ByStatus))
				for st := range s.ByStatus {
					statuses = append(statuses, string(st))
				}
				sort.Strings(statuses)
				for _, st := range statuses {
					fmt.Fprintf(w, "  %-12s %d\n", st, s.ByStatus[issuestorage.Status(st)])
				}
			}
			if len(s.ByPriority) > 0 {
				fmt.Fprintln(w, "\nBy priority:")
				for p := 0; p <= 4; p++ {
					if n := s.ByPriority[issuestorage.Priority(p)]; n > 0 {
						fmt.Fprintf(w, "  P%d %d\n", p, n)
					}
				}
			}
			return nil
		},
	}

	return cmd
}

package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// newCompactCmd creates the compact command.
func newCompactCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Fold the write-ahead log into a fresh snapshot",
		Long: `Rewrite the store in compacted form. For the wal backend this writes a new
snapshot.json and truncates wal.jsonl; records that could not be read are
dropped. For the sqlite backend the database is checkpointed and vacuumed.`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := provider.Get(cmd.Context())
			if err != nil {
				return err
			}
			if err := app.WS.Compact(cmd.Context()); err != nil {
				return err
			}
			if app.JSON {
				return app.writeJSON(map[string]any{"compacted": true})
			}
			fmt.Fprintf(app.Out, "%s Compacted\n", app.SuccessColor("✓"))
			return nil
		},
	}

	return cmd
}

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"beads-engine/internal/config"
	"beads-engine/internal/config/yamlstore"
	"beads-engine/internal/configservice"
	"beads-engine/internal/idgen"
	"beads-engine/internal/workspace"

	"github.com/spf13/cobra"
)

// newInitCmd creates the init command.
// Note: init doesn't use the provider since it creates the .beads directory.
func newInitCmd(provider *AppProvider) *cobra.Command {
	var (
		backend string
		prefix  string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a new beads workspace",
		Long: `Initialize a new beads workspace in the current directory, or in the
directory named by --path or BEADS_DIR.

The storage backend is fixed at init time:
  wal     snapshot.json plus an append-only wal.jsonl (default)
  sqlite  a single beads.db database

Examples:
  bd init
  bd init --prefix proj --backend sqlite`,
		Args: usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := initDir(provider.BeadsPath)
			if err != nil {
				return err
			}
			return runInit(cmd.Context(), provider, dir, backend, prefix)
		},
	}

	cmd.Flags().StringVar(&backend, "backend", "", "Storage backend: wal or sqlite (default from config, else wal)")
	cmd.Flags().StringVar(&prefix, "prefix", "", "ID prefix for issues (e.g. 'proj')")

	return cmd
}

// initDir picks the .beads directory to create: --path, then BEADS_DIR,
// then the working directory.
func initDir(path string) (string, error) {
	if path != "" {
		return configservice.NormalizeBasePath(path)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting current directory: %w", err)
	}
	paths, err := configservice.PathsForInit(cwd)
	if err != nil {
		return "", err
	}
	return paths.ConfigDir, nil
}

func runInit(ctx context.Context, provider *AppProvider, dir, backendFlag, prefix string) error {
	store, err := yamlstore.New(configservice.PathsFor(dir).ConfigFile)
	if err != nil {
		return fmt.Errorf("creating config store: %w", err)
	}

	if backendFlag == "" {
		backendFlag, _ = store.Get(config.KeyBackend)
	}
	backend, err := workspace.ParseBackend(backendFlag)
	if err != nil {
		return err
	}
	if prefix == "" {
		if p, ok := store.Get(config.KeyPrefix); ok {
			prefix = p
		} else {
			prefix = config.DefaultValues()[config.KeyPrefix]
		}
	}
	if err := config.CheckValue(config.KeyPrefix, prefix); err != nil {
		return usageError(err)
	}
	prefix = idgen.NormalizePrefix(prefix)

	meta, err := workspace.Init(dir, backend, prefix)
	if err != nil {
		return err
	}

	if err := config.ApplyDefaults(store); err != nil {
		return fmt.Errorf("writing default config: %w", err)
	}
	if err := store.Set(config.KeyBackend, string(meta.Backend)); err != nil {
		return fmt.Errorf("setting backend: %w", err)
	}
	if err := store.Set(config.KeyPrefix, meta.Prefix); err != nil {
		return fmt.Errorf("setting id prefix: %w", err)
	}

	// Opening once creates the backend's files.
	ws, err := workspace.Open(ctx, dir, workspace.Options{Actor: resolveActor(store)})
	if err != nil {
		return err
	}
	if err := ws.Close(); err != nil {
		return err
	}

	out := provider.out()
	if provider.jsonOutput() {
		app := &App{Out: out}
		return app.writeJSON(map[string]any{
			"path":    dir,
			"backend": meta.Backend,
			"prefix":  meta.Prefix,
		})
	}
	printInitSummary(out, dir, meta)
	return nil
}

func printInitSummary(out io.Writer, dir string, meta *workspace.Metadata) {
	fmt.Fprintf(out, "Initialized beads workspace in %s\n", dir)
	fmt.Fprintf(out, "  Backend: %s\n", meta.Backend)
	fmt.Fprintf(out, "  Prefix:  %s\n", meta.Prefix)
}

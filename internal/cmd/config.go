package cmd

import (
	"fmt"
	"sort"

	"beads-engine/internal/config"
	"beads-engine/internal/configservice"

	"github.com/spf13/cobra"
)

// newConfigCmd creates the config command with subcommands.
func newConfigCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration settings",
		Long: `Manage beads configuration settings in .beads/config.yaml.

Configuration is stored as flat key-value pairs. Core keys are checked
when set; custom keys are stored as given.

Core keys:
  id.prefix            prefix for generated ids (default bd-)
  actor                name recorded on changes (default $USER; BD_ACTOR overrides)
  storage.backend      backend for new workspaces: wal or sqlite
  lock.timeout         how long to wait for the lock (default 5s)
  flush.auto           compact the wal automatically (default true)
  flush.threshold      wal records before automatic compaction (default 1000)
  audit.required       fail commands whose event cannot be recorded (default false)
  log.file             log file, relative to .beads (default engine.log)
  log.level            debug, info, warn or error (default info)
  hierarchy.max_depth  maximum depth of child ids (default 3)

Subcommands:
  get       Get a configuration value
  set       Set a configuration value
  list      List all configuration values
  unset     Remove a configuration value
  validate  Validate configuration`,
	}

	cmd.AddCommand(newConfigGetCmd(provider))
	cmd.AddCommand(newConfigSetCmd(provider))
	cmd.AddCommand(newConfigListCmd(provider))
	cmd.AddCommand(newConfigUnsetCmd(provider))
	cmd.AddCommand(newConfigValidateCmd(provider))

	return cmd
}

// configApp returns an App for config commands. The workspace is not
// opened, so configuration stays editable while another process holds
// the lock.
func configApp(provider *AppProvider) (*App, error) {
	if provider.app != nil {
		return provider.app, nil
	}
	paths, err := provider.paths()
	if err != nil {
		return nil, err
	}
	store, err := configservice.OpenStore(paths)
	if err != nil {
		return nil, err
	}
	return &App{
		ConfigStore: store,
		ConfigDir:   paths.ConfigDir,
		Out:         provider.out(),
		Err:         provider.errOut(),
		JSON:        provider.jsonOutput(),
	}, nil
}

// newConfigGetCmd creates the "config get" subcommand.
func newConfigGetCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Get a configuration value",
		Long: `Get the value of a configuration key.

Prints the bare value if the key is set, or "key (not set)" if missing.

Examples:
  bd config get actor
  bd config get lock.timeout`,
		Args: usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := configApp(provider)
			if err != nil {
				return err
			}

			key := args[0]
			value, ok := app.ConfigStore.Get(key)

			if app.JSON {
				return app.writeJSON(map[string]any{
					"key":   key,
					"value": value,
					"set":   ok,
				})
			}

			if ok {
				fmt.Fprintln(app.Out, value)
			} else {
				fmt.Fprintf(app.Out, "%s (not set)\n", key)
			}
			return nil
		},
	}

	return cmd
}

// newConfigSetCmd creates the "config set" subcommand.
func newConfigSetCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Set a configuration value",
		Long: `Set a configuration key to a value.

Core keys are validated before they are written. storage.backend only
affects workspaces created afterwards; an existing workspace keeps the
backend recorded in metadata.json.

Examples:
  bd config set actor alice
  bd config set lock.timeout 10s
  bd config set custom.key value`,
		Args: usageArgs(cobra.ExactArgs(2)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := configApp(provider)
			if err != nil {
				return err
			}

			key, value := args[0], args[1]
			if err := config.CheckValue(key, value); err != nil {
				return usageError(err)
			}
			if err := app.ConfigStore.Set(key, value); err != nil {
				return err
			}

			if app.JSON {
				return app.writeJSON(map[string]any{"key": key, "value": value})
			}
			fmt.Fprintf(app.Out, "%s Set %s = %s\n", app.SuccessColor("✓"), key, value)
			return nil
		},
	}

	return cmd
}

// newConfigListCmd creates the "config list" subcommand.
func newConfigListCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List all configuration values",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := configApp(provider)
			if err != nil {
				return err
			}

			all := app.ConfigStore.All()
			if app.JSON {
				return app.writeJSON(all)
			}

			keys := make([]string, 0, len(all))
			for k := range all {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(app.Out, "%s = %s\n", k, all[k])
			}
			return nil
		},
	}

	return cmd
}

// newConfigUnsetCmd creates the "config unset" subcommand.
func newConfigUnsetCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove a configuration value",
		Long: `Remove a key from config.yaml. Core keys fall back to their defaults.`,
		Args:  usageArgs(cobra.ExactArgs(1)),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := configApp(provider)
			if err != nil {
				return err
			}
			if err := app.ConfigStore.Unset(args[0]); err != nil {
				return err
			}
			if app.JSON {
				return app.writeJSON(map[string]any{"key": args[0], "unset": true})
			}
			fmt.Fprintf(app.Out, "%s Unset %s\n", app.SuccessColor("✓"), args[0])
			return nil
		},
	}

	return cmd
}

// newConfigValidateCmd creates the "config validate" subcommand.
func newConfigValidateCmd(provider *AppProvider) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration",
		Args:  usageArgs(cobra.NoArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := configApp(provider)
			if err != nil {
				return err
			}
			if err := config.Validate(app.ConfigStore); err != nil {
				if app.JSON {
					if jerr := app.writeJSON(map[string]any{"valid": false, "error": err.Error()}); jerr != nil {
						return jerr
					}
				}
				return usageError(err)
			}
			if app.JSON {
				return app.writeJSON(map[string]any{"valid": true})
			}
			fmt.Fprintf(app.Out, "%s Configuration is valid\n", app.SuccessColor("✓"))
			return nil
		},
	}

	return cmd
}

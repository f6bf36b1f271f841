package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"beads-engine/internal/config"
	"beads-engine/internal/configservice"
	"beads-engine/internal/issuestorage"
	"beads-engine/internal/logging"
	"beads-engine/internal/workspace"

	"github.com/spf13/cobra"
)

// AppProvider lazily initializes the App on first use.
type AppProvider struct {
	once sync.Once
	app  *App
	err  error

	// Config captured from flags before Execute()
	BeadsPath  string
	JSONOutput bool
	Out        io.Writer
	Err        io.Writer
}

// Get returns the App, initializing it on first call.
func (p *AppProvider) Get(ctx context.Context) (*App, error) {
	p.once.Do(func() {
		if p.app == nil {
			p.app, p.err = p.init(ctx)
		}
	})
	if p.app != nil && p.JSONOutput {
		p.app.JSON = true
	}
	return p.app, p.err
}

// Close releases the App if one was opened.
func (p *AppProvider) Close() error {
	if p.app == nil {
		return nil
	}
	return p.app.Close()
}

// NewTestProvider creates a provider pre-initialized with the given App.
// Used for testing commands with a test App.
func NewTestProvider(app *App) *AppProvider {
	return &AppProvider{
		app: app,
		Out: app.Out,
		Err: app.Err,
	}
}

// paths resolves the workspace from --path or by searching upward.
func (p *AppProvider) paths() (config.Paths, error) {
	if p.BeadsPath == "" {
		return configservice.ResolvePaths()
	}
	base, err := configservice.NormalizeBasePath(p.BeadsPath)
	if err != nil {
		return config.Paths{}, err
	}
	return configservice.ResolveFromBase(base)
}

func (p *AppProvider) init(ctx context.Context) (*App, error) {
	paths, err := p.paths()
	if err != nil {
		return nil, err
	}
	store, settings, err := configservice.LoadSettings(paths)
	if err != nil {
		return nil, err
	}

	logPath := settings.LogFile
	if logPath != "" && !filepath.IsAbs(logPath) {
		logPath = filepath.Join(paths.ConfigDir, logPath)
	}
	logger, logCloser, err := logging.New(logging.Options{Path: logPath, Level: settings.LogLevel})
	if err != nil {
		return nil, err
	}

	opts := workspace.Options{
		Actor:       resolveActor(store),
		LockTimeout: settings.LockTimeout,
		AutoCompact: settings.AutoCompact(),
		StrictAudit: settings.AuditRequired,
		MaxDepth:    settings.MaxDepth,
		Logger:      logger,
	}
	if _, ok := store.Get(config.KeyPrefix); ok {
		opts.Prefix = settings.Prefix
	}
	ws, err := workspace.Open(ctx, paths.ConfigDir, opts)
	if err != nil {
		logCloser.Close()
		return nil, err
	}

	return &App{
		WS:          ws,
		ConfigStore: store,
		ConfigDir:   paths.ConfigDir,
		Out:         p.out(),
		Err:         p.errOut(),
		JSON:        p.JSONOutput || envJSON(),
		closers:     []io.Closer{logCloser},
	}, nil
}

func (p *AppProvider) out() io.Writer {
	if p.Out == nil {
		return os.Stdout
	}
	return p.Out
}

func (p *AppProvider) errOut() io.Writer {
	if p.Err == nil {
		return os.Stderr
	}
	return p.Err
}

// jsonOutput reports whether JSON was requested for commands that run
// without an open workspace.
func (p *AppProvider) jsonOutput() bool {
	if p.app != nil {
		return p.app.JSON
	}
	return p.JSONOutput || envJSON()
}

func envJSON() bool {
	v, err := strconv.ParseBool(os.Getenv(config.EnvJSON))
	return err == nil && v
}

// Exit codes returned by the bd binary.
const (
	ExitOK           = 0
	ExitError        = 1
	ExitInvalid      = 2
	ExitNotFound     = 3
	ExitConflict     = 4
	ExitResourceBusy = 5
	ExitCorruption   = 6
	ExitStorageIO    = 7
)

// ExitCode maps err to the process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	switch issuestorage.KindOf(err) {
	case issuestorage.KindInvalid:
		return ExitInvalid
	case issuestorage.KindNotFound:
		return ExitNotFound
	case issuestorage.KindConflict:
		return ExitConflict
	case issuestorage.KindResourceBusy:
		return ExitResourceBusy
	case issuestorage.KindCorruption:
		return ExitCorruption
	case issuestorage.KindStorageIO:
		return ExitStorageIO
	}
	return ExitError
}

// usageError marks flag and argument errors as invalid input.
func usageError(err error) error {
	if err == nil || errors.Is(err, issuestorage.ErrInvalid) {
		return err
	}
	return fmt.Errorf("%w: %v", issuestorage.ErrInvalid, err)
}

// Execute runs the CLI and returns the exit code.
func Execute() int {
	provider := &AppProvider{
		Out: os.Stdout,
		Err: os.Stderr,
	}

	rootCmd := newRootCmd(provider)
	err := rootCmd.Execute()
	if cerr := provider.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
	}
	return ExitCode(err)
}

// newRootCmd creates the root command with all subcommands.
func newRootCmd(provider *AppProvider) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bd",
		Short: "A local-first issue tracker that lives in your repo",
		Long: `Beads tracks issues, their dependencies and an audit trail of every change
in a .beads directory next to your code. Several bd processes may work on the
same directory at once; writes are serialized through a lock file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags - these populate the provider config
	rootCmd.PersistentFlags().BoolVar(&provider.JSONOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().StringVar(&provider.BeadsPath, "path", "", "Path to repo or .beads directory (default: search from cwd)")
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	// Register all commands
	rootCmd.AddCommand(newInitCmd(provider))
	rootCmd.AddCommand(newCreateCmd(provider))
	rootCmd.AddCommand(newShowCmd(provider))
	rootCmd.AddCommand(newUpdateCmd(provider))
	rootCmd.AddCommand(newCloseCmd(provider))
	rootCmd.AddCommand(newReopenCmd(provider))
	rootCmd.AddCommand(newDeleteCmd(provider))
	rootCmd.AddCommand(newListCmd(provider))
	rootCmd.AddCommand(newSearchCmd(provider))
	rootCmd.AddCommand(newReadyCmd(provider))
	rootCmd.AddCommand(newBlockedCmd(provider))
	rootCmd.AddCommand(newDepCmd(provider))
	rootCmd.AddCommand(newLabelCmd(provider))
	rootCmd.AddCommand(newCommentCmd(provider))
	rootCmd.AddCommand(newEventsCmd(provider))
	rootCmd.AddCommand(newCompactCmd(provider))
	rootCmd.AddCommand(newDoctorCmd(provider))
	rootCmd.AddCommand(newStatsCmd(provider))
	rootCmd.AddCommand(newConfigCmd(provider))
	rootCmd.AddCommand(newWatchCmd(provider))

	return rootCmd
}

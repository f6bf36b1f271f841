// Package cmd implements the bd command-line interface.
package cmd

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"time"

	"beads-engine/internal/config"
	"beads-engine/internal/workspace"

	"golang.org/x/term"
)

// App holds application state shared across commands.
type App struct {
	WS          *workspace.Workspace
	ConfigStore config.Store
	ConfigDir   string // path to .beads directory
	Out         io.Writer
	Err         io.Writer
	JSON        bool // output in JSON format
	Now         func() time.Time

	closers []io.Closer
}

// Close closes the workspace and the log file.
func (a *App) Close() error {
	var errs []error
	if a.WS != nil {
		errs = append(errs, a.WS.Close())
	}
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

func (a *App) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

func (a *App) writeJSON(v any) error {
	enc := json.NewEncoder(a.Out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *App) isTerminal() bool {
	f, ok := a.Out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// SuccessColor returns the string wrapped in green ANSI codes if stdout is a terminal,
// otherwise returns the string unchanged.
func (a *App) SuccessColor(s string) string {
	if a.isTerminal() {
		return "\033[32m" + s + "\033[0m"
	}
	return s
}

// WarnColor returns the string wrapped in orange ANSI codes if stdout is a terminal,
// otherwise returns the string unchanged.
func (a *App) WarnColor(s string) string {
	if a.isTerminal() {
		return "\033[38;5;214m" + s + "\033[0m"
	}
	return s
}

// MutedColor dims s on a terminal.
func (a *App) MutedColor(s string) string {
	if a.isTerminal() {
		return "\033[2m" + s + "\033[0m"
	}
	return s
}

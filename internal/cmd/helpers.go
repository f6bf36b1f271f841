package cmd

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"beads-engine/internal/config"
	"beads-engine/internal/issuestorage"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
	"github.com/spf13/cobra"
)

// resolveActor determines the current actor identity (a name/identifier).
// Resolution priority:
//  1. BD_ACTOR env var or the actor key (via config store, set by ApplyEnvOverrides)
//  2. BEADS_ACTOR env var
//  3. git config user.name
//  4. $USER env var
//  5. "unknown"
func resolveActor(store config.Store) string {
	if store != nil {
		if actor, ok := store.Get(config.KeyActor); ok && actor != "" && actor != "${USER}" {
			return actor
		}
	}

	if actor := os.Getenv("BEADS_ACTOR"); actor != "" {
		return actor
	}

	if out, err := exec.Command("git", "config", "user.name").Output(); err == nil {
		if name := strings.TrimSpace(string(out)); name != "" {
			return name
		}
	}

	if user := os.Getenv("USER"); user != "" {
		return user
	}

	return "unknown"
}

// resolveOwner returns the issue owner, which is always an email address.
// Resolution priority:
//  1. GIT_AUTHOR_EMAIL env var (set during git commit operations)
//  2. git config user.email
//  3. "" (owner is optional)
func resolveOwner() string {
	if email := os.Getenv("GIT_AUTHOR_EMAIL"); email != "" {
		return email
	}

	if out, err := exec.Command("git", "config", "user.email").Output(); err == nil {
		if email := strings.TrimSpace(string(out)); email != "" {
			return email
		}
	}

	return ""
}

// usageArgs reports positional argument errors as invalid input.
func usageArgs(check cobra.PositionalArgs) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		return usageError(check(cmd, args))
	}
}

var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// dateLayouts are tried before natural language.
var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02"}

// parseDate reads an absolute date or a phrase such as "next friday" or
// "in 3 days", relative to now. "none" and "" return the zero time, which
// clears the field in an update.
func parseDate(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "none") {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return t.UTC(), nil
		}
	}
	r, err := dateParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q: %v", issuestorage.ErrInvalid, s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("%w: unrecognised date %q", issuestorage.ErrInvalid, s)
	}
	return r.Time.UTC(), nil
}

func parseStatus(s string) (issuestorage.Status, error) {
	st := issuestorage.Status(strings.ToLower(strings.TrimSpace(strings.ReplaceAll(s, "-", "_"))))
	if st == "" {
		return "", fmt.Errorf("%w: empty status", issuestorage.ErrInvalid)
	}
	if st == issuestorage.StatusTombstone {
		return "", fmt.Errorf("%w: use `bd delete` to tombstone an issue", issuestorage.ErrInvalid)
	}
	return st, nil
}

func parseType(s string) (issuestorage.IssueType, error) {
	t := strings.ToLower(strings.TrimSpace(s))
	if t == "" || strings.ContainsAny(t, " \t") {
		return "", fmt.Errorf("%w: issue type %q", issuestorage.ErrInvalid, s)
	}
	return issuestorage.IssueType(t), nil
}

// statusIcon returns a one-character marker for list output.
func statusIcon(s issuestorage.Status) string {
	switch s {
	case issuestorage.StatusClosed:
		return "✓"
	case issuestorage.StatusInProgress:
		return "◐"
	case issuestorage.StatusBlocked:
		return "●"
	case issuestorage.StatusDeferred:
		return "❄"
	case issuestorage.StatusTombstone:
		return "✗"
	}
	return "○"
}

// printIssueLine writes the one-line form used by list, ready and search.
func printIssueLine(app *App, w io.Writer, issue *issuestorage.Issue) {
	line := fmt.Sprintf("%s %s [%s] [%s] %s", statusIcon(issue.Status), issue.ID,
		issue.Priority.Display(), issue.Type, issue.Title)
	if issue.Assignee != "" {
		line += " @" + issue.Assignee
	}
	if issue.Status.IsResolved() {
		line = app.MutedColor(line)
	}
	fmt.Fprintln(w, line)
}

func printIssues(app *App, issues []*issuestorage.Issue) error {
	if app.JSON {
		if issues == nil {
			issues = []*issuestorage.Issue{}
		}
		return app.writeJSON(issues)
	}
	if len(issues) == 0 {
		fmt.Fprintln(app.Out, "No issues found.")
		return nil
	}
	for _, issue := range issues {
		printIssueLine(app, app.Out, issue)
	}
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Local().Format("2006-01-02 15:04")
}

package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"beads-engine/internal/config"
	"beads-engine/internal/eventlog"
	"beads-engine/internal/issuestorage"
	"beads-engine/internal/issuestorage/wal"
	"beads-engine/internal/watch"
	"beads-engine/internal/workspace"
)

func TestLabelCommands(t *testing.T) {
	app := setupTestApp(t)
	issue := createIssue(t, app, "Label me")

	out := mustRun(t, app, "label", "add", issue.ID, "urgent", "v2", "urgent")
	if !strings.Contains(out, "urgent") || !strings.Contains(out, "v2") {
		t.Errorf("label add output = %q", out)
	}
	if got := getIssue(t, app, issue.ID).Labels; len(got) != 2 {
		t.Errorf("Labels = %v, want 2 distinct labels", got)
	}

	mustRun(t, app, "label", "rm", issue.ID, "v2")
	mustRun(t, app, "label", "remove", issue.ID, "never-there")
	got := getIssue(t, app, issue.ID).Labels
	if len(got) != 1 || got[0] != "urgent" {
		t.Errorf("Labels = %v, want [urgent]", got)
	}

	if _, err := runCmd(t, app, "label", "add", "bd-missing", "x"); ExitCode(err) != ExitNotFound {
		t.Errorf("label on missing issue: err = %v, want not found", err)
	}
}

func TestCommentCommand(t *testing.T) {
	app := setupTestApp(t)
	issue := createIssue(t, app, "Discuss")

	if out := mustRun(t, app, "comment", issue.ID); !strings.Contains(out, "No comments") {
		t.Errorf("empty comment list = %q", out)
	}

	mustRun(t, app, "comment", issue.ID, "Reproduced", "on", "Safari")
	mustRun(t, app, "comment", issue.ID, "Fixed upstream")

	out := mustRun(t, app, "comment", issue.ID, "--json")
	var comments []*issuestorage.Comment
	if err := json.Unmarshal([]byte(out), &comments); err != nil {
		t.Fatalf("decoding: %v\n%s", err, out)
	}
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if comments[0].Text != "Reproduced on Safari" || comments[0].Author != "tester" {
		t.Errorf("first comment = %+v", comments[0])
	}

	if _, err := runCmd(t, app, "comment", issue.ID, "  "); ExitCode(err) != ExitInvalid {
		t.Errorf("blank comment: err = %v, want invalid", err)
	}
	if _, err := runCmd(t, app, "comment", "bd-missing", "hello"); ExitCode(err) != ExitNotFound {
		t.Errorf("comment on missing issue: err = %v, want not found", err)
	}
}

func TestEventsCommand(t *testing.T) {
	app := setupTestApp(t)
	a := createIssue(t, app, "A")
	b := createIssue(t, app, "B")
	mustRun(t, app, "update", a.ID, "--title", "A2")
	mustRun(t, app, "dep", "add", a.ID, b.ID)
	mustRun(t, app, "close", b.ID, "--reason", "done")

	out := mustRun(t, app, "events", a.ID, "--json")
	var events []*eventlog.Event
	if err := json.Unmarshal([]byte(out), &events); err != nil {
		t.Fatalf("decoding: %v\n%s", err, out)
	}
	seen := map[eventlog.EventType]bool{}
	for _, e := range events {
		if e.IssueID != a.ID {
			t.Errorf("event for %s in %s's trail", e.IssueID, a.ID)
		}
		if e.Actor != "tester" {
			t.Errorf("event actor = %q, want tester", e.Actor)
		}
		seen[e.Type] = true
	}
	for _, want := range []eventlog.EventType{eventlog.EventCreated, eventlog.EventUpdated, eventlog.EventDependencyAdded} {
		if !seen[want] {
			t.Errorf("missing %s event; got %v", want, seen)
		}
	}

	out = mustRun(t, app, "events", "--type", "closed")
	if !strings.Contains(out, b.ID) || !strings.Contains(out, "(done)") {
		t.Errorf("closed events output = %q", out)
	}
	if strings.Contains(out, "created") {
		t.Errorf("--type closed shows other types:\n%s", out)
	}

	out = mustRun(t, app, "events", "--summary", "--json")
	var s eventlog.Summary
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decoding summary: %v\n%s", err, out)
	}
	if s.ByType[eventlog.EventCreated] != 2 || s.Issues != 2 {
		t.Errorf("summary = %+v", s)
	}
}

func TestCompactCommand(t *testing.T) {
	app := setupTestApp(t)
	issue := createIssue(t, app, "Survives compaction")

	mustRun(t, app, "compact")

	info, err := os.Stat(filepath.Join(app.ConfigDir, wal.LogFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("log size after compact = %d, want 0", info.Size())
	}
	if got := getIssue(t, app, issue.ID); got.Title != "Survives compaction" {
		t.Errorf("issue after compact = %+v", got)
	}
}

func TestDoctorCommand(t *testing.T) {
	app := setupTestApp(t)
	issue := createIssue(t, app, "Healthy")

	out := mustRun(t, app, "doctor")
	if !strings.Contains(out, "No problems found.") {
		t.Errorf("doctor output = %q", out)
	}

	f, err := os.OpenFile(filepath.Join(app.ConfigDir, wal.LogFile), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("{not json\n"); err != nil {
		t.Fatal(err)
	}
	f.Close()

	out, err = runCmd(t, app, "doctor")
	if ExitCode(err) != ExitCorruption {
		t.Fatalf("doctor on corrupt log: err = %v, want corruption\n%s", err, out)
	}
	if !strings.Contains(out, "unreadable record") {
		t.Errorf("doctor output = %q", out)
	}

	out = mustRun(t, app, "doctor", "--fix")
	if !strings.Contains(out, "Fixed:") {
		t.Errorf("doctor --fix output = %q", out)
	}
	mustRun(t, app, "doctor")
	getIssue(t, app, issue.ID)
}

func TestStatsCommand(t *testing.T) {
	app := setupTestApp(t)
	a := createIssue(t, app, "A", "--priority", "0")
	createIssue(t, app, "B", "--deps", a.ID)
	c := createIssue(t, app, "C")
	mustRun(t, app, "close", c.ID)

	out := mustRun(t, app, "stats", "--json")
	var s workspace.Stats
	if err := json.Unmarshal([]byte(out), &s); err != nil {
		t.Fatalf("decoding: %v\n%s", err, out)
	}
	if s.Total != 3 || s.Closed != 1 || s.Ready != 1 || s.Blocked != 1 || s.Edges != 1 {
		t.Errorf("stats = %+v", s)
	}

	out = mustRun(t, app, "stats")
	for _, want := range []string{"Issues:       3", "P0 1", "closed"} {
		if !strings.Contains(out, want) {
			t.Errorf("stats output missing %q:\n%s", want, out)
		}
	}
}

func TestPrintWatchReady(t *testing.T) {
	app := setupTestApp(t)
	issue := createIssue(t, app, "Watch me")
	out := app.Out.(*bytes.Buffer)
	out.Reset()

	change := &watch.Change{Files: []string{wal.LogFile}}
	if err := printWatchReady(context.Background(), app, change); err != nil {
		t.Fatal(err)
	}
	got := out.String()
	if !strings.Contains(got, wal.LogFile+" changed") || !strings.Contains(got, issue.ID) {
		t.Errorf("watch output = %q", got)
	}
}

func TestConfigCommands(t *testing.T) {
	app := setupTestApp(t)

	mustRun(t, app, "config", "set", config.KeyLockTimeout, "10s")
	if out := mustRun(t, app, "config", "get", config.KeyLockTimeout); strings.TrimSpace(out) != "10s" {
		t.Errorf("config get = %q, want 10s", out)
	}

	if _, err := runCmd(t, app, "config", "set", config.KeyLockTimeout, "soon"); ExitCode(err) != ExitInvalid {
		t.Errorf("bad duration: err = %v, want invalid", err)
	}

	mustRun(t, app, "config", "set", "custom.key", "anything")
	out := mustRun(t, app, "config", "list")
	if !strings.Contains(out, "custom.key = anything") || !strings.Contains(out, "lock.timeout = 10s") {
		t.Errorf("config list = %q", out)
	}

	mustRun(t, app, "config", "unset", "custom.key")
	if out := mustRun(t, app, "config", "get", "custom.key"); !strings.Contains(out, "(not set)") {
		t.Errorf("config get after unset = %q", out)
	}

	if out := mustRun(t, app, "config", "validate"); !strings.Contains(out, "valid") {
		t.Errorf("config validate = %q", out)
	}
}

func TestConfigCommands_WithoutOpenWorkspace(t *testing.T) {
	t.Setenv(config.EnvJSON, "")
	dir := filepath.Join(t.TempDir(), workspace.DirName)
	if _, err := workspace.Init(dir, workspace.BackendWAL, "bd"); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	provider := &AppProvider{Out: &out, Err: &out}
	root := newRootCmd(provider)
	root.SetArgs([]string{"--path", dir, "config", "set", config.KeyActor, "frank"})
	if err := root.Execute(); err != nil {
		t.Fatalf("config set: %v", err)
	}
	if provider.app != nil {
		t.Error("config set opened the workspace")
	}

	data, err := os.ReadFile(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "frank") {
		t.Errorf("config.yaml = %q", data)
	}
}

func TestInitCommand(t *testing.T) {
	t.Setenv(config.EnvActor, "tester")
	t.Setenv(config.EnvJSON, "")
	dir := filepath.Join(t.TempDir(), workspace.DirName)

	var out bytes.Buffer
	provider := &AppProvider{Out: &out, Err: &out}
	if err := runInit(context.Background(), provider, dir, "sqlite", "proj"); err != nil {
		t.Fatalf("runInit: %v", err)
	}
	if !strings.Contains(out.String(), "Initialized beads workspace") {
		t.Errorf("init output = %q", out.String())
	}

	meta, err := workspace.ReadMetadata(dir)
	if err != nil {
		t.Fatal(err)
	}
	if meta.Backend != workspace.BackendSQLite || meta.Prefix != "proj-" {
		t.Errorf("metadata = %+v, want sqlite/proj-", meta)
	}
	data, err := os.ReadFile(filepath.Join(dir, config.FileName))
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"storage.backend: sqlite", "id.prefix: proj-"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("config.yaml missing %q:\n%s", want, data)
		}
	}

	err = runInit(context.Background(), provider, dir, "", "")
	if err == nil || !strings.Contains(err.Error(), "already initialized") {
		t.Errorf("second init: err = %v", err)
	}
}

func TestInitCommand_BadBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), workspace.DirName)
	provider := &AppProvider{Out: &bytes.Buffer{}, Err: &bytes.Buffer{}}
	err := runInit(context.Background(), provider, dir, "postgres", "")
	if ExitCode(err) != ExitInvalid {
		t.Errorf("err = %v, want invalid", err)
	}
}

func TestEndToEnd_ThroughRootCommand(t *testing.T) {
	t.Setenv(config.EnvActor, "tester")
	t.Setenv(config.EnvJSON, "")
	t.Setenv("BEADS_DIR", "")
	dir := filepath.Join(t.TempDir(), workspace.DirName)

	run := func(args ...string) string {
		t.Helper()
		var out bytes.Buffer
		provider := &AppProvider{Out: &out, Err: &out}
		defer provider.Close()
		root := newRootCmd(provider)
		root.SetArgs(append([]string{"--path", dir}, args...))
		if err := root.Execute(); err != nil {
			t.Fatalf("bd %s: %v\n%s", strings.Join(args, " "), err, out.String())
		}
		return out.String()
	}

	run("init", "--prefix", "e2e")
	out := run("create", "First issue", "--json")
	var issue issuestorage.Issue
	if err := json.Unmarshal([]byte(out), &issue); err != nil {
		t.Fatalf("decoding: %v\n%s", err, out)
	}
	if !strings.HasPrefix(issue.ID, "e2e-") {
		t.Errorf("id = %q, want e2e- prefix", issue.ID)
	}
	if issue.CreatedBy != "tester" {
		t.Errorf("CreatedBy = %q, want tester", issue.CreatedBy)
	}

	// A second process sees the first one's writes.
	if out := run("ready"); !strings.Contains(out, issue.ID) {
		t.Errorf("ready output = %q", out)
	}
	run("close", issue.ID)
	if out := run("list", "--all", "--json"); !strings.Contains(out, `"status": "closed"`) {
		t.Errorf("list output = %q", out)
	}
}

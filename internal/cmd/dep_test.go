package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"beads-engine/internal/graph"
	"beads-engine/internal/issuestorage"
)

func TestDepAddAndRemove(t *testing.T) {
	app := setupTestApp(t)
	a := createIssue(t, app, "A")
	b := createIssue(t, app, "B")

	out := mustRun(t, app, "dep", "add", a.ID, b.ID)
	if !strings.Contains(out, a.ID+" now depends on "+b.ID+" (blocks)") {
		t.Errorf("dep add output = %q", out)
	}

	out = mustRun(t, app, "dep", "add", a.ID, b.ID)
	if !strings.Contains(out, "already depends on") {
		t.Errorf("duplicate dep add output = %q", out)
	}

	out = mustRun(t, app, "dep", "list", a.ID)
	if !strings.Contains(out, b.ID) {
		t.Errorf("dep list down missing %s:\n%s", b.ID, out)
	}
	out = mustRun(t, app, "dep", "list", b.ID, "--direction", "up")
	if !strings.Contains(out, a.ID) {
		t.Errorf("dep list up missing %s:\n%s", a.ID, out)
	}

	out = mustRun(t, app, "dep", "rm", a.ID, b.ID)
	if !strings.Contains(out, "Removed dependency") {
		t.Errorf("dep rm output = %q", out)
	}
	out = mustRun(t, app, "dep", "remove", a.ID, b.ID)
	if !strings.Contains(out, "No dependency") {
		t.Errorf("second dep rm output = %q", out)
	}
}

func TestDepAdd_TypeChangeConflicts(t *testing.T) {
	app := setupTestApp(t)
	a := createIssue(t, app, "A")
	b := createIssue(t, app, "B")

	mustRun(t, app, "dep", "add", a.ID, b.ID, "--type", "related")
	_, err := runCmd(t, app, "dep", "add", a.ID, b.ID)
	if ExitCode(err) != ExitConflict {
		t.Errorf("err = %v, want conflict", err)
	}
}

func TestDepAdd_RejectsCycle(t *testing.T) {
	app := setupTestApp(t)
	a := createIssue(t, app, "A")
	b := createIssue(t, app, "B")
	c := createIssue(t, app, "C")

	mustRun(t, app, "dep", "add", a.ID, b.ID)
	mustRun(t, app, "dep", "add", b.ID, c.ID)

	_, err := runCmd(t, app, "dep", "add", c.ID, a.ID)
	if ExitCode(err) != ExitConflict {
		t.Fatalf("err = %v, want conflict", err)
	}
	if !strings.Contains(err.Error(), a.ID) {
		t.Errorf("cycle error %q does not name the path", err)
	}

	out := mustRun(t, app, "dep", "list", c.ID)
	if strings.Contains(out, a.ID) {
		t.Errorf("rejected edge was stored:\n%s", out)
	}
	if out := mustRun(t, app, "dep", "cycles"); !strings.Contains(out, "No dependency cycles") {
		t.Errorf("dep cycles output = %q", out)
	}

	// Non-blocking edges may close a loop.
	mustRun(t, app, "dep", "add", c.ID, a.ID, "--type", "related")
}

func TestDepAdd_SelfAndMissing(t *testing.T) {
	app := setupTestApp(t)
	a := createIssue(t, app, "A")

	if _, err := runCmd(t, app, "dep", "add", a.ID, a.ID); ExitCode(err) != ExitConflict {
		t.Errorf("self dependency: err = %v, want conflict", err)
	}
	if _, err := runCmd(t, app, "dep", "add", a.ID, "bd-missing"); ExitCode(err) != ExitNotFound {
		t.Errorf("missing target: err = %v, want not found", err)
	}
}

func TestReadyAndBlocked(t *testing.T) {
	app := setupTestApp(t)
	blocker := createIssue(t, app, "Blocker", "--priority", "1")
	blocked := createIssue(t, app, "Blocked", "--deps", blocker.ID)
	free := createIssue(t, app, "Free", "--priority", "3")
	related := createIssue(t, app, "Related only", "--deps", "related:"+blocker.ID)
	deferred := createIssue(t, app, "Deferred", "--defer", "2999-01-01")

	out := mustRun(t, app, "ready")
	for _, id := range []string{blocker.ID, free.ID, related.ID} {
		if !strings.Contains(out, id) {
			t.Errorf("ready missing %s:\n%s", id, out)
		}
	}
	for _, id := range []string{blocked.ID, deferred.ID} {
		if strings.Contains(out, id) {
			t.Errorf("ready lists %s:\n%s", id, out)
		}
	}

	out = mustRun(t, app, "ready", "--include-deferred")
	if !strings.Contains(out, deferred.ID) {
		t.Errorf("--include-deferred missing %s:\n%s", deferred.ID, out)
	}

	out = mustRun(t, app, "blocked", "--json")
	var bl []*graph.BlockedIssue
	if err := json.Unmarshal([]byte(out), &bl); err != nil {
		t.Fatalf("decoding blocked: %v\n%s", err, out)
	}
	if len(bl) != 1 || bl[0].Issue.ID != blocked.ID {
		t.Fatalf("blocked = %+v, want only %s", bl, blocked.ID)
	}
	if len(bl[0].BlockedBy) != 1 || bl[0].BlockedBy[0] != blocker.ID {
		t.Errorf("BlockedBy = %v, want [%s]", bl[0].BlockedBy, blocker.ID)
	}

	// Closing the blocker frees the dependent.
	mustRun(t, app, "close", blocker.ID)
	out = mustRun(t, app, "ready")
	if !strings.Contains(out, blocked.ID) {
		t.Errorf("ready missing %s after its blocker closed:\n%s", blocked.ID, out)
	}
	if strings.Contains(out, blocker.ID) {
		t.Errorf("closed issue %s listed as ready", blocker.ID)
	}
	if out := mustRun(t, app, "blocked"); !strings.Contains(out, "No blocked issues.") {
		t.Errorf("blocked output = %q", out)
	}
}

func TestReady_OrderAndLimit(t *testing.T) {
	app := setupTestApp(t)
	createIssue(t, app, "Low", "--priority", "4")
	high := createIssue(t, app, "High", "--priority", "0")
	createIssue(t, app, "Medium")

	out := mustRun(t, app, "ready", "--json", "-n", "1")
	var issues []*issuestorage.Issue
	if err := json.Unmarshal([]byte(out), &issues); err != nil {
		t.Fatalf("decoding: %v\n%s", err, out)
	}
	if len(issues) != 1 || issues[0].ID != high.ID {
		t.Errorf("ready -n 1 = %v, want %s", issues, high.ID)
	}
}

func TestReady_Parent(t *testing.T) {
	app := setupTestApp(t)
	epic := createIssue(t, app, "Epic", "--type", "epic")
	child := createIssue(t, app, "Child", "--parent", epic.ID)
	grandchild := createIssue(t, app, "Grandchild", "--parent", child.ID)
	createIssue(t, app, "Elsewhere")

	out := mustRun(t, app, "ready", "--parent", epic.ID)
	if !strings.Contains(out, child.ID+" ") || strings.Contains(out, grandchild.ID) {
		t.Errorf("direct children only:\n%s", out)
	}
	if strings.Contains(out, "Elsewhere") {
		t.Errorf("unrelated issue listed:\n%s", out)
	}

	out = mustRun(t, app, "ready", "--parent", epic.ID, "--recursive")
	if !strings.Contains(out, grandchild.ID) {
		t.Errorf("--recursive missing %s:\n%s", grandchild.ID, out)
	}
}

func TestReady_Empty(t *testing.T) {
	app := setupTestApp(t)
	if out := mustRun(t, app, "ready"); !strings.Contains(out, "No ready work.") {
		t.Errorf("output = %q", out)
	}
}

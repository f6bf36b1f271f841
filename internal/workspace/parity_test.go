package workspace_test

import (
	"context"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"beads-engine/internal/graph"
	"beads-engine/internal/testutil"
	"beads-engine/internal/workspace"
)

// readyTitles builds the same seeded graph in a fresh workspace, closes a
// few of its issues and returns the titles of the ready and blocked sets.
func readyTitles(t *testing.T, backend workspace.Backend) (ready, blocked []string) {
	t.Helper()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), workspace.DirName)
	if _, err := workspace.Init(dir, backend, "par"); err != nil {
		t.Fatal(err)
	}
	ws, err := workspace.Open(ctx, dir, workspace.Options{Actor: "parity"})
	if err != nil {
		t.Fatal(err)
	}
	defer ws.Close()

	gen := testutil.NewIssueGenerator(ws, 7)
	ids, err := gen.GenerateDependencyDAG(ctx, 30, 80)
	if err != nil {
		t.Fatal(err)
	}
	for _, i := range []int{0, 3, 5, 11} {
		if _, err := ws.CloseIssue(ctx, ids[i], ""); err != nil {
			t.Fatal(err)
		}
	}

	r, err := ws.Graph().ReadyIssues(ctx, graph.WorkFilter{})
	if err != nil {
		t.Fatal(err)
	}
	for _, issue := range r {
		ready = append(ready, issue.Title)
	}
	b, err := ws.Graph().BlockedIssues(ctx, graph.WorkFilter{})
	if err != nil {
		t.Fatal(err)
	}
	for _, bi := range b {
		blocked = append(blocked, bi.Issue.Title)
	}
	sort.Strings(ready)
	sort.Strings(blocked)
	return ready, blocked
}

func TestBackendsAgreeOnReadyWork(t *testing.T) {
	walReady, walBlocked := readyTitles(t, workspace.BackendWAL)
	sqlReady, sqlBlocked := readyTitles(t, workspace.BackendSQLite)

	if len(walReady)+len(walBlocked) != 26 {
		t.Errorf("ready+blocked = %d, want the 26 unclosed issues", len(walReady)+len(walBlocked))
	}
	if !reflect.DeepEqual(walReady, sqlReady) {
		t.Errorf("ready differs:\nwal:    %v\nsqlite: %v", walReady, sqlReady)
	}
	if !reflect.DeepEqual(walBlocked, sqlBlocked) {
		t.Errorf("blocked differs:\nwal:    %v\nsqlite: %v", walBlocked, sqlBlocked)
	}
}

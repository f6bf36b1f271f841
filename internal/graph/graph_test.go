package graph

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"beads-engine/internal/issuestorage"
	"beads-engine/internal/issuestorage/wal"
	"beads-engine/internal/lockfile"
)

var baseTime = time.Date(2025, 4, 1, 9, 0, 0, 0, time.UTC)

func newGraph(t *testing.T) (*Graph, issuestorage.IssueStore) {
	t.Helper()
	dir := t.TempDir()
	store, err := wal.Open(context.Background(), dir, lockfile.New(filepath.Join(dir, "beads.lock"), nil))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, WithClock(func() time.Time { return baseTime.Add(time.Hour) })), store
}

// createIssue is a test helper that inserts an issue and fails the test on error.
// Issues are created one minute apart in call order.
func createIssue(t *testing.T, s issuestorage.IssueStore, id string, p issuestorage.Priority) *issuestorage.Issue {
	t.Helper()
	n, _ := s.List(context.Background(), &issuestorage.ListFilter{IncludeTombstones: true})
	issue := &issuestorage.Issue{
		ID:        id,
		Title:     "issue " + id,
		Priority:  p,
		CreatedAt: baseTime.Add(time.Duration(len(n)) * time.Minute),
	}
	if err := s.Insert(context.Background(), issue); err != nil {
		t.Fatalf("Insert %s: %v", id, err)
	}
	return issue
}

func addDep(t *testing.T, g *Graph, from, to string, typ issuestorage.DependencyType) {
	t.Helper()
	err := g.AddDependency(context.Background(), &issuestorage.Dependency{IssueID: from, DependsOnID: to, Type: typ})
	if err != nil {
		t.Fatalf("AddDependency %s -> %s: %v", from, to, err)
	}
}

func setStatus(t *testing.T, s issuestorage.IssueStore, id string, status issuestorage.Status) {
	t.Helper()
	_, err := s.Update(context.Background(), id, &issuestorage.IssueUpdate{Status: &status}, baseTime.Add(time.Hour))
	if err != nil {
		t.Fatalf("Update %s: %v", id, err)
	}
}

func readyIDs(t *testing.T, g *Graph, f WorkFilter) []string {
	t.Helper()
	ready, err := g.ReadyIssues(context.Background(), f)
	if err != nil {
		t.Fatalf("ReadyIssues: %v", err)
	}
	ids := []string{}
	for _, issue := range ready {
		ids = append(ids, issue.ID)
	}
	return ids
}

func TestReadyFollowsBlocker(t *testing.T) {
	g, s := newGraph(t)
	createIssue(t, s, "bd-x", issuestorage.PriorityMedium)
	createIssue(t, s, "bd-y", issuestorage.PriorityMedium)
	addDep(t, g, "bd-y", "bd-x", issuestorage.DepTypeBlocks)

	if got := readyIDs(t, g, WorkFilter{}); !reflect.DeepEqual(got, []string{"bd-x"}) {
		t.Fatalf("ready = %v, want [bd-x]", got)
	}

	setStatus(t, s, "bd-x", issuestorage.StatusClosed)
	if got := readyIDs(t, g, WorkFilter{}); !reflect.DeepEqual(got, []string{"bd-y"}) {
		t.Fatalf("ready after close = %v, want [bd-y]", got)
	}

	setStatus(t, s, "bd-x", issuestorage.StatusOpen)
	if got := readyIDs(t, g, WorkFilter{}); !reflect.DeepEqual(got, []string{"bd-x"}) {
		t.Fatalf("ready after reopen = %v, want [bd-x]", got)
	}
}

func TestSelfDependencyRejected(t *testing.T) {
	g, s := newGraph(t)
	createIssue(t, s, "bd-a", issuestorage.PriorityMedium)
	err := g.AddDependency(context.Background(), &issuestorage.Dependency{IssueID: "bd-a", DependsOnID: "bd-a"})
	if !errors.Is(err, issuestorage.ErrSelfDependency) {
		t.Fatalf("err = %v, want ErrSelfDependency", err)
	}
	if issuestorage.KindOf(err) != issuestorage.KindConflict {
		t.Errorf("kind = %v, want conflict", issuestorage.KindOf(err))
	}
}

func TestMissingEndpointRejected(t *testing.T) {
	g, s := newGraph(t)
	createIssue(t, s, "bd-a", issuestorage.PriorityMedium)
	for _, dep := range []*issuestorage.Dependency{
		{IssueID: "bd-a", DependsOnID: "bd-nope"},
		{IssueID: "bd-nope", DependsOnID: "bd-a"},
	} {
		err := g.AddDependency(context.Background(), dep)
		if !issuestorage.IsNotFound(err) {
			t.Errorf("%s -> %s: err = %v, want not found", dep.IssueID, dep.DependsOnID, err)
		}
	}
}

func TestCycleRejectedWithoutMutation(t *testing.T) {
	ctx := context.Background()
	g, s := newGraph(t)
	for _, id := range []string{"bd-a", "bd-b", "bd-c"} {
		createIssue(t, s, id, issuestorage.PriorityMedium)
	}
	addDep(t, g, "bd-a", "bd-b", issuestorage.DepTypeBlocks)
	addDep(t, g, "bd-b", "bd-c", issuestorage.DepTypeBlocks)

	before, _ := s.Edges(ctx)
	err := g.AddDependency(ctx, &issuestorage.Dependency{IssueID: "bd-c", DependsOnID: "bd-a", Type: issuestorage.DepTypeBlocks})
	if !errors.Is(err, issuestorage.ErrCycle) {
		t.Fatalf("err = %v, want ErrCycle", err)
	}
	var cerr *CycleError
	if !errors.As(err, &cerr) {
		t.Fatalf("err %T does not carry a CycleError", err)
	}
	want := []string{"bd-c", "bd-a", "bd-b", "bd-c"}
	if !reflect.DeepEqual(cerr.Path, want) {
		t.Errorf("path = %v, want %v", cerr.Path, want)
	}
	after, _ := s.Edges(ctx)
	if len(after) != len(before) {
		t.Errorf("edge count changed from %d to %d", len(before), len(after))
	}
}

func TestNonBlockingEdgesMayLoop(t *testing.T) {
	g, s := newGraph(t)
	createIssue(t, s, "bd-a", issuestorage.PriorityMedium)
	createIssue(t, s, "bd-b", issuestorage.PriorityMedium)
	addDep(t, g, "bd-a", "bd-b", issuestorage.DepTypeRelated)
	addDep(t, g, "bd-b", "bd-a", issuestorage.DepTypeRelated)
	// related edges do not gate work
	if got := readyIDs(t, g, WorkFilter{}); len(got) != 2 {
		t.Errorf("ready = %v, want both issues", got)
	}
}

func TestDuplicateEdge(t *testing.T) {
	ctx := context.Background()
	g, s := newGraph(t)
	createIssue(t, s, "bd-a", issuestorage.PriorityMedium)
	createIssue(t, s, "bd-b", issuestorage.PriorityMedium)
	addDep(t, g, "bd-a", "bd-b", issuestorage.DepTypeBlocks)

	var added bool
	err := s.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		var err error
		added, err = g.AddInTx(ctx, tx, &issuestorage.Dependency{IssueID: "bd-a", DependsOnID: "bd-b"})
		return err
	})
	if err != nil || added {
		t.Errorf("same edge again: added=%v err=%v, want no-op", added, err)
	}

	err = g.AddDependency(ctx, &issuestorage.Dependency{IssueID: "bd-a", DependsOnID: "bd-b", Type: issuestorage.DepTypeRelated})
	if !errors.Is(err, issuestorage.ErrDependencyExists) {
		t.Errorf("different type: err = %v, want ErrDependencyExists", err)
	}
	deps, _ := g.Dependencies(ctx, "bd-a")
	if len(deps) != 1 || deps[0].Type != issuestorage.DepTypeBlocks {
		t.Errorf("deps = %+v", deps)
	}
}

func TestRemoveDependencyIdempotent(t *testing.T) {
	ctx := context.Background()
	g, s := newGraph(t)
	createIssue(t, s, "bd-a", issuestorage.PriorityMedium)
	createIssue(t, s, "bd-b", issuestorage.PriorityMedium)
	addDep(t, g, "bd-a", "bd-b", issuestorage.DepTypeBlocks)

	for i, want := range []bool{true, false} {
		removed, err := g.RemoveDependency(ctx, "bd-a", "bd-b")
		if err != nil {
			t.Fatalf("remove #%d: %v", i, err)
		}
		if removed != want {
			t.Errorf("remove #%d = %v, want %v", i, removed, want)
		}
	}
}

func TestDependentsInInsertionOrder(t *testing.T) {
	g, s := newGraph(t)
	for _, id := range []string{"bd-root", "bd-z", "bd-a", "bd-m"} {
		createIssue(t, s, id, issuestorage.PriorityMedium)
	}
	for _, id := range []string{"bd-z", "bd-a", "bd-m"} {
		addDep(t, g, id, "bd-root", issuestorage.DepTypeBlocks)
	}
	deps, err := g.Dependents(context.Background(), "bd-root")
	if err != nil {
		t.Fatal(err)
	}
	var got []string
	for _, d := range deps {
		got = append(got, d.IssueID)
	}
	if want := []string{"bd-z", "bd-a", "bd-m"}; !reflect.DeepEqual(got, want) {
		t.Errorf("dependents = %v, want %v", got, want)
	}
}

func TestReadyOrderAndExclusions(t *testing.T) {
	ctx := context.Background()
	g, s := newGraph(t)
	createIssue(t, s, "bd-low", issuestorage.PriorityLow)
	createIssue(t, s, "bd-crit", issuestorage.PriorityCritical)
	createIssue(t, s, "bd-med1", issuestorage.PriorityMedium)
	createIssue(t, s, "bd-med2", issuestorage.PriorityMedium)
	createIssue(t, s, "bd-pinned", issuestorage.PriorityCritical)
	createIssue(t, s, "bd-later", issuestorage.PriorityCritical)
	createIssue(t, s, "bd-gone", issuestorage.PriorityCritical)

	setStatus(t, s, "bd-pinned", issuestorage.StatusPinned)
	setStatus(t, s, "bd-gone", issuestorage.StatusTombstone)
	future := baseTime.Add(48 * time.Hour)
	if _, err := s.Update(ctx, "bd-later", &issuestorage.IssueUpdate{DeferUntil: &future}, baseTime.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	want := []string{"bd-crit", "bd-med1", "bd-med2", "bd-low"}
	if got := readyIDs(t, g, WorkFilter{}); !reflect.DeepEqual(got, want) {
		t.Errorf("ready = %v, want %v", got, want)
	}
	want = []string{"bd-crit", "bd-later", "bd-med1", "bd-med2", "bd-low"}
	if got := readyIDs(t, g, WorkFilter{IncludeDeferred: true}); !reflect.DeepEqual(got, want) {
		t.Errorf("ready with deferred = %v, want %v", got, want)
	}
	if got := readyIDs(t, g, WorkFilter{Limit: 2}); !reflect.DeepEqual(got, []string{"bd-crit", "bd-med1"}) {
		t.Errorf("ready limit 2 = %v", got)
	}
}

func TestMissingTargetBlocks(t *testing.T) {
	ctx := context.Background()
	g, s := newGraph(t)
	createIssue(t, s, "bd-a", issuestorage.PriorityMedium)
	// Dangling edges only arise from raw store writes.
	err := s.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		return tx.PutEdge(ctx, &issuestorage.Dependency{IssueID: "bd-a", DependsOnID: "bd-ghost", Type: issuestorage.DepTypeBlocks})
	})
	if err != nil {
		t.Fatal(err)
	}
	blocked, err := g.BlockedIssues(ctx, WorkFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(blocked) != 1 || !reflect.DeepEqual(blocked[0].BlockedBy, []string{"bd-ghost"}) {
		t.Errorf("blocked = %+v", blocked)
	}
}

func TestReadyAndBlockedPartitionActiveIssues(t *testing.T) {
	ctx := context.Background()
	g, s := newGraph(t)
	ids := []string{"bd-1", "bd-2", "bd-3", "bd-4", "bd-5", "bd-6"}
	for _, id := range ids {
		createIssue(t, s, id, issuestorage.PriorityMedium)
	}
	addDep(t, g, "bd-2", "bd-1", issuestorage.DepTypeBlocks)
	addDep(t, g, "bd-3", "bd-2", issuestorage.DepTypeBlocks)
	addDep(t, g, "bd-3", "bd-4", issuestorage.DepTypeBlocks)
	addDep(t, g, "bd-5", "bd-4", issuestorage.DepTypeBlocks)
	setStatus(t, s, "bd-4", issuestorage.StatusClosed)
	setStatus(t, s, "bd-6", issuestorage.StatusDeferred)

	f := WorkFilter{IncludeDeferred: true}
	ready, err := g.ReadyIssues(ctx, f)
	if err != nil {
		t.Fatal(err)
	}
	blocked, err := g.BlockedIssues(ctx, f)
	if err != nil {
		t.Fatal(err)
	}

	seen := map[string]int{}
	for _, issue := range ready {
		seen[issue.ID]++
	}
	for _, b := range blocked {
		seen[b.Issue.ID]++
	}
	active := []string{"bd-1", "bd-2", "bd-3", "bd-5", "bd-6"}
	if len(seen) != len(active) {
		t.Fatalf("covered %v, want %v", seen, active)
	}
	for _, id := range active {
		if seen[id] != 1 {
			t.Errorf("%s appears %d times across ready and blocked", id, seen[id])
		}
	}

	for _, b := range blocked {
		if b.Issue.ID == "bd-3" && !reflect.DeepEqual(b.BlockedBy, []string{"bd-2"}) {
			t.Errorf("bd-3 blocked by %v, want [bd-2]", b.BlockedBy)
		}
	}
}

func TestParentFilter(t *testing.T) {
	ctx := context.Background()
	g, s := newGraph(t)
	for _, id := range []string{"bd-epic", "bd-epic.1", "bd-epic.2", "bd-epic.1.1", "bd-other"} {
		createIssue(t, s, id, issuestorage.PriorityMedium)
	}
	addDep(t, g, "bd-epic.1", "bd-epic", issuestorage.DepTypeParentChild)
	addDep(t, g, "bd-epic.2", "bd-epic", issuestorage.DepTypeParentChild)
	addDep(t, g, "bd-epic.1.1", "bd-epic.1", issuestorage.DepTypeParentChild)

	if got := readyIDs(t, g, WorkFilter{ParentID: "bd-epic"}); !reflect.DeepEqual(got, []string{"bd-epic.1", "bd-epic.2"}) {
		t.Errorf("direct children ready = %v", got)
	}
	want := []string{"bd-epic.1", "bd-epic.2", "bd-epic.1.1"}
	if got := readyIDs(t, g, WorkFilter{ParentID: "bd-epic", Transitive: true}); !reflect.DeepEqual(got, want) {
		t.Errorf("transitive ready = %v, want %v", got, want)
	}

	desc, err := g.Descendants(ctx, "bd-epic", true)
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"bd-epic.1", "bd-epic.1.1", "bd-epic.2"}; !reflect.DeepEqual(desc, want) {
		t.Errorf("descendants = %v, want %v", desc, want)
	}

	if _, err := g.ReadyIssues(ctx, WorkFilter{ParentID: "bd-missing"}); !issuestorage.IsNotFound(err) {
		t.Errorf("missing parent: err = %v", err)
	}
}

func TestDetectCycles(t *testing.T) {
	edge := func(from, to string) *issuestorage.Dependency {
		return &issuestorage.Dependency{IssueID: from, DependsOnID: to, Type: issuestorage.DepTypeBlocks}
	}
	tests := []struct {
		name  string
		edges []*issuestorage.Dependency
		want  [][]string
	}{
		{"acyclic", []*issuestorage.Dependency{edge("a", "b"), edge("b", "c")}, [][]string{}},
		{"two node", []*issuestorage.Dependency{edge("b", "a"), edge("a", "b")}, [][]string{{"a", "b", "a"}}},
		{"three node starts at smallest", []*issuestorage.Dependency{edge("c", "a"), edge("b", "c"), edge("a", "b")},
			[][]string{{"a", "b", "c", "a"}}},
		{"two components", []*issuestorage.Dependency{edge("x", "y"), edge("y", "x"), edge("b", "c"), edge("c", "b"), edge("c", "x")},
			[][]string{{"b", "c", "b"}, {"x", "y", "x"}}},
		{"related ignored", []*issuestorage.Dependency{
			edge("a", "b"),
			{IssueID: "b", DependsOnID: "a", Type: issuestorage.DepTypeRelated},
		}, [][]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := findCycles(tt.edges)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("findCycles = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDetectCyclesOnStore(t *testing.T) {
	ctx := context.Background()
	g, s := newGraph(t)
	createIssue(t, s, "bd-a", issuestorage.PriorityMedium)
	createIssue(t, s, "bd-b", issuestorage.PriorityMedium)
	addDep(t, g, "bd-a", "bd-b", issuestorage.DepTypeBlocks)
	// Bypass validation the way a hand-edited log would.
	err := s.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		return tx.PutEdge(ctx, &issuestorage.Dependency{IssueID: "bd-b", DependsOnID: "bd-a", Type: issuestorage.DepTypeBlocks})
	})
	if err != nil {
		t.Fatal(err)
	}
	cycles, err := g.DetectCycles(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if want := [][]string{{"bd-a", "bd-b", "bd-a"}}; !reflect.DeepEqual(cycles, want) {
		t.Errorf("cycles = %v, want %v", cycles, want)
	}
}

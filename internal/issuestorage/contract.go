package issuestorage

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"
)

// OpenFunc opens a store rooted at dir. Calling it twice with the same dir
// must yield two independent instances sharing the same files, as two
// processes would.
type OpenFunc func(t *testing.T, dir string) IssueStore

// RunContractTests runs the full contract test suite against an IssueStore
// implementation. Each storage engine calls this with its own open
// function so that every backend behaves identically.
func RunContractTests(t *testing.T, open OpenFunc) {
	fresh := func(t *testing.T) IssueStore {
		s := open(t, t.TempDir())
		t.Cleanup(func() { s.Close() })
		return s
	}
	t.Run("InsertAndGet", func(t *testing.T) { testInsertAndGet(t, fresh(t)) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, fresh(t)) })
	t.Run("InsertInvalid", func(t *testing.T) { testInsertInvalid(t, fresh(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, fresh(t)) })
	t.Run("Update", func(t *testing.T) { testUpdate(t, fresh(t)) })
	t.Run("StatusTransitions", func(t *testing.T) { testStatusTransitions(t, fresh(t)) })
	t.Run("Tombstone", func(t *testing.T) { testTombstone(t, fresh(t)) })
	t.Run("Labels", func(t *testing.T) { testLabels(t, fresh(t)) })
	t.Run("Comments", func(t *testing.T) { testComments(t, fresh(t)) })
	t.Run("Edges", func(t *testing.T) { testEdges(t, fresh(t)) })
	t.Run("ListFilters", func(t *testing.T) { testListFilters(t, fresh(t)) })
	t.Run("ListOrderAndPaging", func(t *testing.T) { testListOrderAndPaging(t, fresh(t)) })
	t.Run("Search", func(t *testing.T) { testSearch(t, fresh(t)) })
	t.Run("TransactionRollback", func(t *testing.T) { testTransactionRollback(t, fresh(t)) })
	t.Run("TransactionReadsOwnWrites", func(t *testing.T) { testTransactionReadsOwnWrites(t, fresh(t)) })
	t.Run("ReturnedValuesAreCopies", func(t *testing.T) { testReturnedValuesAreCopies(t, fresh(t)) })
	t.Run("Persistence", func(t *testing.T) { testPersistence(t, open) })
	t.Run("Compact", func(t *testing.T) { testCompact(t, open) })
	t.Run("TwoInstances", func(t *testing.T) { testTwoInstances(t, open) })
}

var contractBase = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func at(minutes int) time.Time {
	return contractBase.Add(time.Duration(minutes) * time.Minute)
}

func mustInsert(t *testing.T, s IssueStore, issue *Issue) {
	t.Helper()
	if err := s.Insert(context.Background(), issue); err != nil {
		t.Fatalf("Insert %s failed: %v", issue.ID, err)
	}
}

func mustGet(t *testing.T, s Reader, id string) *Issue {
	t.Helper()
	got, err := s.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get %s failed: %v", id, err)
	}
	return got
}

func ids(issues []*Issue) []string {
	out := make([]string, len(issues))
	for i, issue := range issues {
		out[i] = issue.ID
	}
	return out
}

func testInsertAndGet(t *testing.T, s IssueStore) {
	mustInsert(t, s, &Issue{
		ID:          "bd-a1",
		Title:       "Test Issue",
		Description: "Test description",
		Priority:    PriorityHigh,
		Labels:      []string{"zeta", "alpha"},
		CreatedAt:   at(0),
	})

	got := mustGet(t, s, "bd-a1")
	if got.Title != "Test Issue" || got.Description != "Test description" {
		t.Errorf("text fields not stored: %+v", got)
	}
	if got.Status != StatusOpen {
		t.Errorf("Status = %q, want default open", got.Status)
	}
	if got.Type != TypeTask {
		t.Errorf("Type = %q, want default task", got.Type)
	}
	if got.Priority != PriorityHigh {
		t.Errorf("Priority = %d, want %d", got.Priority, PriorityHigh)
	}
	if !got.CreatedAt.Equal(at(0)) || got.UpdatedAt.Before(got.CreatedAt) {
		t.Errorf("timestamps = %v/%v", got.CreatedAt, got.UpdatedAt)
	}
	if got.ContentHash == "" || got.ContentHash != got.ComputeContentHash() {
		t.Errorf("ContentHash = %q, want computed hash", got.ContentHash)
	}
	if want := []string{"alpha", "zeta"}; !reflect.DeepEqual(got.Labels, want) {
		t.Errorf("Labels = %v, want %v", got.Labels, want)
	}
	ok, err := s.Exists(context.Background(), "bd-a1")
	if err != nil || !ok {
		t.Errorf("Exists = %v, %v", ok, err)
	}
}

func testInsertDuplicate(t *testing.T, s IssueStore) {
	mustInsert(t, s, &Issue{ID: "bd-dup", Title: "first"})
	err := s.Insert(context.Background(), &Issue{ID: "bd-dup", Title: "second"})
	if !errors.Is(err, ErrDuplicateID) || KindOf(err) != KindConflict {
		t.Fatalf("duplicate Insert error = %v, want ErrDuplicateID", err)
	}
	if got := mustGet(t, s, "bd-dup"); got.Title != "first" {
		t.Errorf("duplicate insert overwrote title: %q", got.Title)
	}
}

func testInsertInvalid(t *testing.T, s IssueStore) {
	tests := []struct {
		name  string
		issue *Issue
	}{
		{"no id", &Issue{Title: "x"}},
		{"no title", &Issue{ID: "bd-x1"}},
		{"bad priority", &Issue{ID: "bd-x2", Title: "x", Priority: 9}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Insert(context.Background(), tt.issue)
			if KindOf(err) != KindInvalid {
				t.Errorf("Insert error = %v, want invalid", err)
			}
		})
	}
	list, _ := s.List(context.Background(), &ListFilter{IncludeTombstones: true})
	if len(list) != 0 {
		t.Errorf("invalid inserts left %d issues behind", len(list))
	}
}

func testGetMissing(t *testing.T, s IssueStore) {
	ctx := context.Background()
	if _, err := s.Get(ctx, "bd-none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing error = %v, want ErrNotFound", err)
	}
	if ok, err := s.Exists(ctx, "bd-none"); err != nil || ok {
		t.Errorf("Exists missing = %v, %v", ok, err)
	}
	if _, err := s.Labels(ctx, "bd-none"); !IsNotFound(err) {
		t.Errorf("Labels missing error = %v", err)
	}
	if _, err := s.Comments(ctx, "bd-none"); !IsNotFound(err) {
		t.Errorf("Comments missing error = %v", err)
	}
	if _, err := s.Update(ctx, "bd-none", &IssueUpdate{}, at(1)); !IsNotFound(err) {
		t.Errorf("Update missing error = %v", err)
	}
	if err := s.AddLabel(ctx, "bd-none", "x"); !IsNotFound(err) {
		t.Errorf("AddLabel missing error = %v", err)
	}
}

func testUpdate(t *testing.T, s IssueStore) {
	ctx := context.Background()
	mustInsert(t, s, &Issue{ID: "bd-u1", Title: "before", CreatedAt: at(0)})
	before := mustGet(t, s, "bd-u1")

	title := "after"
	assignee := "alice"
	prio := PriorityCritical
	est := 90
	got, err := s.Update(ctx, "bd-u1", &IssueUpdate{
		Title:            &title,
		Assignee:         &assignee,
		Priority:         &prio,
		EstimatedMinutes: &est,
	}, at(5))
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if got.Title != "after" || got.Assignee != "alice" || got.Priority != PriorityCritical {
		t.Errorf("update not applied: %+v", got)
	}
	if got.EstimatedMinutes == nil || *got.EstimatedMinutes != 90 {
		t.Errorf("EstimatedMinutes = %v", got.EstimatedMinutes)
	}
	if !got.UpdatedAt.Equal(at(5)) {
		t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, at(5))
	}
	if got.ContentHash == before.ContentHash {
		t.Error("content hash did not change")
	}

	stored := mustGet(t, s, "bd-u1")
	if stored.Title != "after" || stored.ContentHash != got.ContentHash {
		t.Errorf("stored issue differs from returned: %+v", stored)
	}

	clear := -1
	got, err = s.Update(ctx, "bd-u1", &IssueUpdate{EstimatedMinutes: &clear}, at(6))
	if err != nil {
		t.Fatalf("clearing estimate failed: %v", err)
	}
	if got.EstimatedMinutes != nil {
		t.Errorf("EstimatedMinutes = %v, want cleared", *got.EstimatedMinutes)
	}

	empty := ""
	if _, err := s.Update(ctx, "bd-u1", &IssueUpdate{Title: &empty}, at(7)); KindOf(err) != KindInvalid {
		t.Errorf("empty title error = %v, want invalid", err)
	}
	if got := mustGet(t, s, "bd-u1"); got.Title != "after" {
		t.Errorf("rejected update changed title to %q", got.Title)
	}
}

func testStatusTransitions(t *testing.T, s IssueStore) {
	ctx := context.Background()
	mustInsert(t, s, &Issue{ID: "bd-s1", Title: "status", CreatedAt: at(0)})

	closed := StatusClosed
	reason := "done"
	got, err := s.Update(ctx, "bd-s1", &IssueUpdate{Status: &closed, CloseReason: &reason}, at(10))
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	if got.ClosedAt == nil || !got.ClosedAt.Equal(at(10)) || got.CloseReason != "done" {
		t.Errorf("closed issue: ClosedAt=%v CloseReason=%q", got.ClosedAt, got.CloseReason)
	}

	open := StatusOpen
	got, err = s.Update(ctx, "bd-s1", &IssueUpdate{Status: &open}, at(20))
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if got.ClosedAt != nil || got.CloseReason != "" {
		t.Errorf("reopened issue kept close data: %v %q", got.ClosedAt, got.CloseReason)
	}

	mustInsert(t, s, &Issue{ID: "bd-s2", Title: "born closed", Status: StatusClosed, CreatedAt: at(0)})
	if got := mustGet(t, s, "bd-s2"); got.ClosedAt == nil {
		t.Error("issue inserted as closed has no ClosedAt")
	}
}

func testTombstone(t *testing.T, s IssueStore) {
	ctx := context.Background()
	mustInsert(t, s, &Issue{ID: "bd-t1", Title: "doomed", CreatedAt: at(0)})
	mustInsert(t, s, &Issue{ID: "bd-t2", Title: "survivor", CreatedAt: at(1)})

	tomb := StatusTombstone
	by := "bob"
	got, err := s.Update(ctx, "bd-t1", &IssueUpdate{Status: &tomb, DeletedBy: &by}, at(5))
	if err != nil {
		t.Fatalf("tombstoning failed: %v", err)
	}
	if got.DeletedAt == nil || got.DeletedBy != "bob" {
		t.Errorf("tombstone fields: %v %q", got.DeletedAt, got.DeletedBy)
	}

	list, _ := s.List(ctx, nil)
	if want := []string{"bd-t2"}; !reflect.DeepEqual(ids(list), want) {
		t.Errorf("List(nil) = %v, want %v", ids(list), want)
	}
	list, _ = s.List(ctx, &ListFilter{IncludeTombstones: true})
	if len(list) != 2 {
		t.Errorf("List with tombstones = %v", ids(list))
	}
	list, _ = s.List(ctx, &ListFilter{Status: &tomb})
	if want := []string{"bd-t1"}; !reflect.DeepEqual(ids(list), want) {
		t.Errorf("List(status=tombstone) = %v, want %v", ids(list), want)
	}

	if ok, _ := s.Exists(ctx, "bd-t1"); !ok {
		t.Error("tombstoned issue should still exist")
	}
	title := "resurrect"
	if _, err := s.Update(ctx, "bd-t1", &IssueUpdate{Title: &title}, at(6)); !errors.Is(err, ErrTombstoned) {
		t.Errorf("updating tombstone error = %v, want ErrTombstoned", err)
	}
}

func testLabels(t *testing.T, s IssueStore) {
	ctx := context.Background()
	mustInsert(t, s, &Issue{ID: "bd-l1", Title: "labels"})

	for _, l := range []string{"ui", "backend", "ui"} {
		if err := s.AddLabel(ctx, "bd-l1", l); err != nil {
			t.Fatalf("AddLabel %q failed: %v", l, err)
		}
	}
	labels, err := s.Labels(ctx, "bd-l1")
	if err != nil {
		t.Fatalf("Labels failed: %v", err)
	}
	if want := []string{"backend", "ui"}; !reflect.DeepEqual(labels, want) {
		t.Errorf("Labels = %v, want %v", labels, want)
	}

	if err := s.RemoveLabel(ctx, "bd-l1", "absent"); err != nil {
		t.Errorf("removing absent label failed: %v", err)
	}
	if err := s.RemoveLabel(ctx, "bd-l1", "ui"); err != nil {
		t.Fatalf("RemoveLabel failed: %v", err)
	}
	if got := mustGet(t, s, "bd-l1"); !reflect.DeepEqual(got.Labels, []string{"backend"}) {
		t.Errorf("labels after remove = %v", got.Labels)
	}
	if err := s.AddLabel(ctx, "bd-l1", "  "); KindOf(err) != KindInvalid {
		t.Errorf("blank label error = %v, want invalid", err)
	}
}

func testComments(t *testing.T, s IssueStore) {
	ctx := context.Background()
	mustInsert(t, s, &Issue{ID: "bd-c1", Title: "one"})
	mustInsert(t, s, &Issue{ID: "bd-c2", Title: "two"})

	var got []int64
	for i, target := range []string{"bd-c1", "bd-c2", "bd-c1"} {
		c, err := s.AddComment(ctx, &Comment{IssueID: target, Author: "alice", Text: fmt.Sprintf("note %d", i)})
		if err != nil {
			t.Fatalf("AddComment failed: %v", err)
		}
		got = append(got, c.ID)
	}
	for i := 1; i < len(got); i++ {
		if got[i] <= got[i-1] {
			t.Errorf("comment ids not increasing: %v", got)
		}
	}

	comments, err := s.Comments(ctx, "bd-c1")
	if err != nil {
		t.Fatalf("Comments failed: %v", err)
	}
	if len(comments) != 2 || comments[0].Text != "note 0" || comments[1].Text != "note 2" {
		t.Errorf("comments = %+v", comments)
	}
	if comments[0].CreatedAt.IsZero() || comments[0].Author != "alice" {
		t.Errorf("comment fields not stored: %+v", comments[0])
	}

	if _, err := s.AddComment(ctx, &Comment{IssueID: "bd-c1", Text: " "}); KindOf(err) != KindInvalid {
		t.Errorf("empty comment error = %v, want invalid", err)
	}
	if _, err := s.AddComment(ctx, &Comment{IssueID: "bd-none", Text: "x"}); !IsNotFound(err) {
		t.Errorf("comment on missing issue error = %v", err)
	}
}

func testEdges(t *testing.T, s IssueStore) {
	ctx := context.Background()
	for _, id := range []string{"bd-e1", "bd-e2", "bd-e3"} {
		mustInsert(t, s, &Issue{ID: id, Title: id})
	}
	put := func(tx Transaction, from, to string, typ DependencyType) error {
		return tx.PutEdge(ctx, &Dependency{IssueID: from, DependsOnID: to, Type: typ, CreatedAt: at(1)})
	}
	err := s.RunInTransaction(ctx, func(tx Transaction) error {
		if err := put(tx, "bd-e1", "bd-e3", DepTypeBlocks); err != nil {
			return err
		}
		if err := put(tx, "bd-e1", "bd-e2", DepTypeRelated); err != nil {
			return err
		}
		return put(tx, "bd-e2", "bd-e3", DepTypeParentChild)
	})
	if err != nil {
		t.Fatalf("adding edges failed: %v", err)
	}

	deps, _ := s.Dependencies(ctx, "bd-e1")
	if len(deps) != 2 || deps[0].DependsOnID != "bd-e3" || deps[1].DependsOnID != "bd-e2" {
		t.Fatalf("Dependencies(bd-e1) = %+v, want insertion order", deps)
	}
	if deps[1].Type != DepTypeRelated {
		t.Errorf("edge type = %q", deps[1].Type)
	}
	dependents, _ := s.Dependents(ctx, "bd-e3")
	if len(dependents) != 2 || dependents[0].IssueID != "bd-e1" || dependents[1].IssueID != "bd-e2" {
		t.Errorf("Dependents(bd-e3) = %+v", dependents)
	}
	all, _ := s.Edges(ctx)
	if len(all) != 3 {
		t.Errorf("Edges = %d, want 3", len(all))
	}

	var removed, again bool
	err = s.RunInTransaction(ctx, func(tx Transaction) error {
		var err error
		if removed, err = tx.DeleteEdge(ctx, "bd-e1", "bd-e3"); err != nil {
			return err
		}
		again, err = tx.DeleteEdge(ctx, "bd-e1", "bd-e3")
		return err
	})
	if err != nil {
		t.Fatalf("DeleteEdge failed: %v", err)
	}
	if !removed || again {
		t.Errorf("DeleteEdge reported %v then %v, want true then false", removed, again)
	}
	deps, _ = s.Dependencies(ctx, "bd-e1")
	if len(deps) != 1 || deps[0].DependsOnID != "bd-e2" {
		t.Errorf("Dependencies after delete = %+v", deps)
	}
}

func testListFilters(t *testing.T, s IssueStore) {
	ctx := context.Background()
	mustInsert(t, s, &Issue{ID: "bd-f1", Title: "Login page crash", Type: TypeBug, Priority: PriorityHigh, Assignee: "alice", Labels: []string{"ui"}, CreatedAt: at(0)})
	mustInsert(t, s, &Issue{ID: "bd-f2", Title: "Add export", Type: TypeFeature, Priority: PriorityLow, Labels: []string{"ui", "api"}, CreatedAt: at(1)})
	mustInsert(t, s, &Issue{ID: "bd-f3", Title: "Cleanup", Status: StatusInProgress, Priority: PriorityHigh, Notes: "mentions LOGIN", CreatedAt: at(2)})

	status := StatusInProgress
	prio := PriorityHigh
	bug := TypeBug
	alice := "alice"
	tests := []struct {
		name   string
		filter *ListFilter
		want   []string
	}{
		{"all", &ListFilter{}, []string{"bd-f1", "bd-f3", "bd-f2"}},
		{"status", &ListFilter{Status: &status}, []string{"bd-f3"}},
		{"statuses", &ListFilter{Statuses: []Status{StatusOpen}}, []string{"bd-f1", "bd-f2"}},
		{"priority", &ListFilter{Priority: &prio}, []string{"bd-f1", "bd-f3"}},
		{"type", &ListFilter{Type: &bug}, []string{"bd-f1"}},
		{"assignee", &ListFilter{Assignee: &alice}, []string{"bd-f1"}},
		{"labels all", &ListFilter{Labels: []string{"ui", "api"}}, []string{"bd-f2"}},
		{"text", &ListFilter{Text: "login"}, []string{"bd-f1", "bd-f3"}},
		{"text by id", &ListFilter{Text: "F2"}, []string{"bd-f2"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if !reflect.DeepEqual(ids(got), tt.want) {
				t.Errorf("List = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func testListOrderAndPaging(t *testing.T, s IssueStore) {
	ctx := context.Background()
	mustInsert(t, s, &Issue{ID: "bd-o1", Title: "a", Priority: PriorityLow, CreatedAt: at(0), UpdatedAt: at(30)})
	mustInsert(t, s, &Issue{ID: "bd-o2", Title: "b", Priority: PriorityHigh, CreatedAt: at(1), UpdatedAt: at(10)})
	mustInsert(t, s, &Issue{ID: "bd-o3", Title: "c", Priority: PriorityHigh, CreatedAt: at(1), UpdatedAt: at(20)})
	mustInsert(t, s, &Issue{ID: "bd-o4", Title: "d", Priority: PriorityCritical, CreatedAt: at(3), UpdatedAt: at(3)})

	tests := []struct {
		name   string
		filter *ListFilter
		want   []string
	}{
		{"priority", nil, []string{"bd-o4", "bd-o2", "bd-o3", "bd-o1"}},
		{"priority desc", &ListFilter{Descending: true}, []string{"bd-o1", "bd-o3", "bd-o2", "bd-o4"}},
		{"created", &ListFilter{Sort: SortCreated}, []string{"bd-o1", "bd-o2", "bd-o3", "bd-o4"}},
		{"updated", &ListFilter{Sort: SortUpdated}, []string{"bd-o4", "bd-o2", "bd-o3", "bd-o1"}},
		{"limit", &ListFilter{Limit: 2}, []string{"bd-o4", "bd-o2"}},
		{"offset", &ListFilter{Offset: 1, Limit: 2}, []string{"bd-o2", "bd-o3"}},
		{"offset past end", &ListFilter{Offset: 10}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			if !reflect.DeepEqual(ids(got), tt.want) {
				t.Errorf("List = %v, want %v", ids(got), tt.want)
			}
		})
	}
}

func testSearch(t *testing.T, s IssueStore) {
	ctx := context.Background()
	mustInsert(t, s, &Issue{ID: "bd-q1", Title: "unrelated", Description: "the cache is slow", CreatedAt: at(0)})
	mustInsert(t, s, &Issue{ID: "bd-q2", Title: "Cache eviction", CreatedAt: at(1)})
	mustInsert(t, s, &Issue{ID: "bd-q3", Title: "nothing here", CreatedAt: at(2)})
	mustInsert(t, s, &Issue{ID: "bd-q4", Title: "cache cache", Description: "slow cache", CreatedAt: at(3)})

	got, err := s.Search(ctx, "cache", nil)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if want := []string{"bd-q4", "bd-q2", "bd-q1"}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("Search(cache) = %v, want %v", ids(got), want)
	}

	got, _ = s.Search(ctx, "cache slow", nil)
	if want := []string{"bd-q4", "bd-q1"}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("Search(cache slow) = %v, want %v", ids(got), want)
	}

	got, _ = s.Search(ctx, "bd-q3", nil)
	if len(got) != 1 || got[0].ID != "bd-q3" {
		t.Errorf("Search by id = %v", ids(got))
	}

	got, _ = s.Search(ctx, "cache", &ListFilter{Limit: 1})
	if len(got) != 1 || got[0].ID != "bd-q4" {
		t.Errorf("Search with limit = %v", ids(got))
	}
}

func testTransactionRollback(t *testing.T, s IssueStore) {
	ctx := context.Background()
	mustInsert(t, s, &Issue{ID: "bd-r1", Title: "keep"})
	boom := errors.New("boom")

	err := s.RunInTransaction(ctx, func(tx Transaction) error {
		if err := tx.Insert(ctx, &Issue{ID: "bd-r2", Title: "discard"}); err != nil {
			return err
		}
		if err := tx.AddLabel(ctx, "bd-r1", "discard"); err != nil {
			return err
		}
		title := "changed"
		if _, err := tx.Update(ctx, "bd-r1", &IssueUpdate{Title: &title}, at(1)); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTransaction error = %v, want boom", err)
	}
	if ok, _ := s.Exists(ctx, "bd-r2"); ok {
		t.Error("insert from failed transaction is visible")
	}
	got := mustGet(t, s, "bd-r1")
	if got.Title != "keep" || len(got.Labels) != 0 {
		t.Errorf("failed transaction modified bd-r1: %+v", got)
	}

	if err := s.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if ok, _ := s.Exists(ctx, "bd-r2"); ok {
		t.Error("failed transaction reached disk")
	}
}

func testTransactionReadsOwnWrites(t *testing.T, s IssueStore) {
	ctx := context.Background()
	err := s.RunInTransaction(ctx, func(tx Transaction) error {
		if err := tx.Insert(ctx, &Issue{ID: "bd-w1", Title: "inside"}); err != nil {
			return err
		}
		got, err := tx.Get(ctx, "bd-w1")
		if err != nil {
			return fmt.Errorf("tx cannot see its insert: %w", err)
		}
		if got.Title != "inside" {
			return fmt.Errorf("tx read title %q", got.Title)
		}
		list, err := tx.List(ctx, nil)
		if err != nil {
			return err
		}
		if len(list) != 1 {
			return fmt.Errorf("tx List = %v", ids(list))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	mustGet(t, s, "bd-w1")
}

func testReturnedValuesAreCopies(t *testing.T, s IssueStore) {
	mustInsert(t, s, &Issue{ID: "bd-p1", Title: "original", Labels: []string{"x"}})

	got := mustGet(t, s, "bd-p1")
	got.Title = "mutated"
	got.Labels[0] = "mutated"

	again := mustGet(t, s, "bd-p1")
	if again.Title != "original" || again.Labels[0] != "x" {
		t.Errorf("mutating a returned issue changed the store: %+v", again)
	}
}

func testPersistence(t *testing.T, open OpenFunc) {
	ctx := context.Background()
	dir := t.TempDir()

	s := open(t, dir)
	mustInsert(t, s, &Issue{ID: "bd-k1", Title: "persist me", Labels: []string{"keep"}, CreatedAt: at(0)})
	mustInsert(t, s, &Issue{ID: "bd-k2", Title: "blocker", CreatedAt: at(1)})
	err := s.RunInTransaction(ctx, func(tx Transaction) error {
		return tx.PutEdge(ctx, &Dependency{IssueID: "bd-k1", DependsOnID: "bd-k2", Type: DepTypeBlocks, CreatedAt: at(2)})
	})
	if err != nil {
		t.Fatalf("PutEdge failed: %v", err)
	}
	first, err := s.AddComment(ctx, &Comment{IssueID: "bd-k1", Text: "first"})
	if err != nil {
		t.Fatalf("AddComment failed: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s = open(t, dir)
	defer s.Close()
	got := mustGet(t, s, "bd-k1")
	if got.Title != "persist me" || !reflect.DeepEqual(got.Labels, []string{"keep"}) {
		t.Errorf("reopened issue = %+v", got)
	}
	deps, _ := s.Dependencies(ctx, "bd-k1")
	if len(deps) != 1 || deps[0].DependsOnID != "bd-k2" {
		t.Errorf("reopened edges = %+v", deps)
	}
	second, err := s.AddComment(ctx, &Comment{IssueID: "bd-k1", Text: "second"})
	if err != nil {
		t.Fatalf("AddComment after reopen failed: %v", err)
	}
	if second.ID <= first.ID {
		t.Errorf("comment id reused after reopen: %d then %d", first.ID, second.ID)
	}
}

func testCompact(t *testing.T, open OpenFunc) {
	ctx := context.Background()
	dir := t.TempDir()

	s := open(t, dir)
	for i := 0; i < 5; i++ {
		mustInsert(t, s, &Issue{ID: fmt.Sprintf("bd-m%d", i), Title: "compact", CreatedAt: at(i)})
	}
	if err := s.AddLabel(ctx, "bd-m0", "kept"); err != nil {
		t.Fatal(err)
	}
	if err := s.Compact(ctx); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	mustInsert(t, s, &Issue{ID: "bd-m9", Title: "after compaction", CreatedAt: at(9)})
	s.Close()

	s = open(t, dir)
	defer s.Close()
	list, err := s.List(ctx, nil)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 6 {
		t.Errorf("issues after compaction and reopen = %v", ids(list))
	}
	if got := mustGet(t, s, "bd-m0"); !got.HasLabel("kept") {
		t.Errorf("labels lost in compaction: %v", got.Labels)
	}
	if r := s.Report(); r.Skipped != 0 {
		t.Errorf("report after compaction = %+v", r)
	}
}

func testTwoInstances(t *testing.T, open OpenFunc) {
	ctx := context.Background()
	dir := t.TempDir()
	a := open(t, dir)
	defer a.Close()
	b := open(t, dir)
	defer b.Close()

	mustInsert(t, a, &Issue{ID: "bd-x1", Title: "from a"})
	if err := b.Reload(ctx); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	mustGet(t, b, "bd-x1")

	// A transaction in b refreshes first, so it sees a's insert.
	err := b.RunInTransaction(ctx, func(tx Transaction) error {
		if _, err := tx.Get(ctx, "bd-x1"); err != nil {
			return err
		}
		return tx.Insert(ctx, &Issue{ID: "bd-x2", Title: "from b"})
	})
	if err != nil {
		t.Fatalf("transaction in b failed: %v", err)
	}
	if err := a.Insert(ctx, &Issue{ID: "bd-x2", Title: "again"}); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("a inserted over b's issue: %v", err)
	}
	if got := mustGet(t, a, "bd-x2"); got.Title != "from b" {
		t.Errorf("a sees bd-x2 as %q", got.Title)
	}

	if err := a.Compact(ctx); err != nil {
		t.Fatalf("Compact in a failed: %v", err)
	}
	mustInsert(t, a, &Issue{ID: "bd-x3", Title: "after compact"})
	if err := b.Reload(ctx); err != nil {
		t.Fatalf("Reload after compact failed: %v", err)
	}
	list, _ := b.List(ctx, nil)
	if len(list) != 3 {
		t.Errorf("b after a compacted = %v", ids(list))
	}
}

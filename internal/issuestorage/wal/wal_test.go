package wal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"beads-engine/internal/issuestorage"
	"beads-engine/internal/lockfile"
)

func openStore(t *testing.T, dir string, opts ...Option) *Store {
	t.Helper()
	lock := lockfile.New(filepath.Join(dir, "beads.lock"), nil)
	s, err := Open(context.Background(), dir, lock, opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return s
}

func TestContract(t *testing.T) {
	issuestorage.RunContractTests(t, func(t *testing.T, dir string) issuestorage.IssueStore {
		return openStore(t, dir)
	})
}

// insertRange inserts bd-from through bd-to.
func insertRange(t *testing.T, s *Store, from, to int) {
	t.Helper()
	for i := from; i <= to; i++ {
		issue := &issuestorage.Issue{ID: fmt.Sprintf("bd-%d", i), Title: fmt.Sprintf("issue %d", i)}
		if err := s.Insert(context.Background(), issue); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
}

func countIssues(t *testing.T, s *Store) int {
	t.Helper()
	list, err := s.List(context.Background(), &issuestorage.ListFilter{IncludeTombstones: true})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	return len(list)
}

func readLogLines(t *testing.T, dir string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(dir, LogFile))
	if err != nil {
		t.Fatalf("reading log: %v", err)
	}
	return strings.SplitAfter(strings.TrimSuffix(string(data), "\n"), "\n")
}

func TestCorruptLineIsSkipped(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	insertRange(t, s, 1, 3)

	lines := readLogLines(t, dir)
	if len(lines) != 3 {
		t.Fatalf("log has %d lines, want 3", len(lines))
	}
	var buf bytes.Buffer
	buf.WriteString(lines[0])
	buf.WriteString("{not json\n")
	buf.WriteString(lines[1])
	buf.WriteString(lines[2] + "\n")
	if err := os.WriteFile(filepath.Join(dir, LogFile), buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}

	s = openStore(t, dir)
	if got := countIssues(t, s); got != 3 {
		t.Errorf("issues after corrupt line = %d, want 3", got)
	}
	r := s.Report()
	if r.Records != 3 || r.Skipped != 1 {
		t.Fatalf("report = %+v, want 3 applied and 1 skipped", r)
	}
	if c := r.Corrupt[0]; c.Line != 2 || c.Offset != int64(len(lines[0])) {
		t.Errorf("corrupt record at line %d offset %d, want line 2 offset %d", c.Line, c.Offset, len(lines[0]))
	}
}

func TestTruncatedTailIsRepaired(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, dir)
	insertRange(t, s, 1, 3)

	path := filepath.Join(dir, LogFile)
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Truncate(path, info.Size()-10); err != nil {
		t.Fatal(err)
	}

	s = openStore(t, dir)
	if got := countIssues(t, s); got != 2 {
		t.Errorf("issues after truncation = %d, want 2", got)
	}
	r := s.Report()
	if r.Skipped != 1 || len(r.Corrupt) != 1 || r.Corrupt[0].Line != 3 {
		t.Fatalf("report = %+v, want the third line skipped", r)
	}

	if err := s.Insert(ctx, &issuestorage.Issue{ID: "bd-new", Title: "after repair"}); err != nil {
		t.Fatalf("Insert after truncation failed: %v", err)
	}

	s = openStore(t, dir)
	if r := s.Report(); r.Skipped != 0 {
		t.Errorf("torn record survived the next append: %+v", r)
	}
	if got := countIssues(t, s); got != 3 {
		t.Errorf("issues after repair = %d, want 3", got)
	}
	if _, err := s.Get(ctx, "bd-new"); err != nil {
		t.Errorf("Get bd-new: %v", err)
	}
}

func TestUnfinishedCommitIsDiscarded(t *testing.T) {
	tests := []struct {
		name string
		cut  func(lines []string) int // bytes to remove from the end of the log
	}{
		{name: "torn last record", cut: func([]string) int { return 5 }},
		{name: "last record missing", cut: func(lines []string) int { return len(lines[len(lines)-1]) + 1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()
			s := openStore(t, dir)
			insertRange(t, s, 1, 1)
			issue := &issuestorage.Issue{ID: "bd-2", Title: "labelled", Labels: []string{"a", "b"}}
			if err := s.Insert(ctx, issue); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}

			lines := readLogLines(t, dir)
			if len(lines) != 4 {
				t.Fatalf("log has %d lines, want 4", len(lines))
			}
			path := filepath.Join(dir, LogFile)
			info, err := os.Stat(path)
			if err != nil {
				t.Fatal(err)
			}
			if err := os.Truncate(path, info.Size()-int64(tt.cut(lines))); err != nil {
				t.Fatal(err)
			}

			s = openStore(t, dir)
			if _, err := s.Get(ctx, "bd-2"); !errors.Is(err, issuestorage.ErrNotFound) {
				t.Fatalf("Get bd-2 error = %v, want ErrNotFound", err)
			}
			if labels, _ := s.Labels(ctx, "bd-2"); len(labels) != 0 {
				t.Errorf("labels from an unfinished commit = %v", labels)
			}
			r := s.Report()
			if r.Records != 1 || r.Skipped == 0 {
				t.Fatalf("report = %+v, want 1 applied and the unfinished commit skipped", r)
			}

			if err := s.Insert(ctx, &issuestorage.Issue{ID: "bd-3", Title: "after repair"}); err != nil {
				t.Fatalf("Insert after truncation failed: %v", err)
			}
			s = openStore(t, dir)
			if r := s.Report(); r.Skipped != 0 {
				t.Errorf("unfinished commit survived the next append: %+v", r)
			}
			if got := countIssues(t, s); got != 2 {
				t.Errorf("issues = %d, want 2", got)
			}
		})
	}
}

func TestRecordForUnknownIssueIsSkipped(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir)
	insertRange(t, s, 1, 1)

	f, err := os.OpenFile(filepath.Join(dir, LogFile), os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprintln(f, `{"seq":99,"op":"label_add","ts":"2025-01-01T00:00:00Z","id":"bd-ghost","payload":{"label":"x"},"commit":true}`)
	f.Close()

	s = openStore(t, dir)
	r := s.Report()
	if r.Records != 1 || r.Skipped != 1 {
		t.Fatalf("report = %+v", r)
	}
	if !strings.Contains(r.Corrupt[0].Err, "unknown issue") {
		t.Errorf("corrupt reason = %q", r.Corrupt[0].Err)
	}
}

func TestReplaySkipsRecordsInSnapshot(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, dir)
	insertRange(t, s, 1, 2)
	if _, err := s.AddComment(ctx, &issuestorage.Comment{IssueID: "bd-1", Text: "hello"}); err != nil {
		t.Fatal(err)
	}

	logPath := filepath.Join(dir, LogFile)
	before, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Compact(ctx); err != nil {
		t.Fatalf("Compact failed: %v", err)
	}
	// Simulate a crash after the snapshot was written but before the log
	// was truncated.
	if err := os.WriteFile(logPath, before, 0644); err != nil {
		t.Fatal(err)
	}

	s = openStore(t, dir)
	if got := countIssues(t, s); got != 2 {
		t.Errorf("issues = %d, want 2", got)
	}
	comments, _ := s.Comments(ctx, "bd-1")
	if len(comments) != 1 {
		t.Errorf("comments = %d, want 1", len(comments))
	}
	if r := s.Report(); r.Records != 0 || r.Skipped != 0 {
		t.Errorf("report = %+v, want nothing replayed", r)
	}

	// New records continue the sequence past the snapshot.
	insertRange(t, s, 3, 3)
	s = openStore(t, dir)
	if got := countIssues(t, s); got != 3 {
		t.Errorf("issues after further inserts = %d, want 3", got)
	}
}

func TestAutoCompact(t *testing.T) {
	dir := t.TempDir()
	s := openStore(t, dir, WithAutoCompact(3))
	insertRange(t, s, 1, 2)

	if _, err := os.Stat(filepath.Join(dir, SnapshotFile)); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("snapshot written before threshold: %v", err)
	}
	insertRange(t, s, 3, 3)

	if _, err := os.Stat(filepath.Join(dir, SnapshotFile)); err != nil {
		t.Fatalf("snapshot missing after threshold: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, LogFile))
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 0 {
		t.Errorf("log size after auto compaction = %d, want 0", info.Size())
	}

	s = openStore(t, dir)
	if got := countIssues(t, s); got != 3 {
		t.Errorf("issues = %d, want 3", got)
	}
}

func TestCorruptSnapshotFailsOpen(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, SnapshotFile), []byte("{broken"), 0644); err != nil {
		t.Fatal(err)
	}
	lock := lockfile.New(filepath.Join(dir, "beads.lock"), nil)
	_, err := Open(context.Background(), dir, lock)
	if !errors.Is(err, issuestorage.ErrCorruption) {
		t.Fatalf("Open error = %v, want ErrCorruption", err)
	}
}

func TestFailedTransactionWritesNothing(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, dir)
	insertRange(t, s, 1, 1)

	before, _ := os.ReadFile(filepath.Join(dir, LogFile))
	_ = s.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		if err := tx.AddLabel(ctx, "bd-1", "x"); err != nil {
			return err
		}
		return errors.New("abort")
	})
	after, _ := os.ReadFile(filepath.Join(dir, LogFile))
	if !bytes.Equal(before, after) {
		t.Error("aborted transaction changed the log")
	}
}

func TestLockContentionSurfacesTimeout(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s := openStore(t, dir)

	holder := lockfile.New(filepath.Join(dir, "beads.lock"), nil)
	if err := holder.Acquire(ctx); err != nil {
		t.Fatal(err)
	}
	defer holder.Release()

	s.lock = lockfile.New(filepath.Join(dir, "beads.lock"), nil, lockfile.WithTimeout(0))
	err := s.Insert(ctx, &issuestorage.Issue{ID: "bd-1", Title: "blocked"})
	if issuestorage.KindOf(err) != issuestorage.KindResourceBusy {
		t.Fatalf("Insert error = %v, want resource busy", err)
	}
}

package issuestorage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"testing"
	"time"

	"beads-engine/internal/idgen"
	"beads-engine/internal/lockfile"
)

func TestParseDependencyType(t *testing.T) {
	tests := []struct {
		input   string
		want    DependencyType
		builtin bool
		wantErr bool
	}{
		{"", DepTypeBlocks, true, false},
		{"blocks", DepTypeBlocks, true, false},
		{"parent_child", DepTypeParentChild, true, false},
		{"Parent-Child", DepTypeParentChild, true, false},
		{"waits_for", DepTypeWaitsFor, true, false},
		{"related", DepTypeRelated, true, false},
		{"duplicates", DependencyType("duplicates"), false, false},
		{"two words", "", false, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDependencyType(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Errorf("ParseDependencyType(%q) error = %v, want ErrInvalid", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseDependencyType(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want || got.IsBuiltin() != tt.builtin {
				t.Errorf("ParseDependencyType(%q) = %q (builtin %v)", tt.input, got, got.IsBuiltin())
			}
		})
	}
}

func TestStatusPredicates(t *testing.T) {
	tests := []struct {
		status   Status
		resolved bool
		active   bool
	}{
		{StatusOpen, false, true},
		{StatusInProgress, false, true},
		{StatusBlocked, false, true},
		{StatusDeferred, false, true},
		{StatusPinned, false, false},
		{StatusClosed, true, false},
		{StatusTombstone, true, false},
		{Status("review"), false, true},
	}
	for _, tt := range tests {
		if got := tt.status.IsResolved(); got != tt.resolved {
			t.Errorf("%s.IsResolved() = %v, want %v", tt.status, got, tt.resolved)
		}
		if got := tt.status.IsActive(); got != tt.active {
			t.Errorf("%s.IsActive() = %v, want %v", tt.status, got, tt.active)
		}
	}
}

func TestIsDeferred(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	later := now.Add(time.Hour)
	earlier := now.Add(-time.Hour)
	tests := []struct {
		name  string
		issue Issue
		want  bool
	}{
		{"plain", Issue{Status: StatusOpen}, false},
		{"deferred status", Issue{Status: StatusDeferred}, true},
		{"future defer date", Issue{Status: StatusOpen, DeferUntil: &later}, true},
		{"past defer date", Issue{Status: StatusOpen, DeferUntil: &earlier}, false},
	}
	for _, tt := range tests {
		if got := tt.issue.IsDeferred(now); got != tt.want {
			t.Errorf("%s: IsDeferred = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestPrepareInsertDefaults(t *testing.T) {
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	got, err := PrepareInsert(&Issue{ID: "bd-1", Title: "t", Labels: []string{"x"}}, now)
	if err != nil {
		t.Fatalf("PrepareInsert failed: %v", err)
	}
	if got.Status != StatusOpen || got.Type != TypeTask {
		t.Errorf("defaults = %q/%q", got.Status, got.Type)
	}
	if !got.CreatedAt.Equal(now) || !got.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v, want %v", got.CreatedAt, got.UpdatedAt, now)
	}
	if got.Labels != nil {
		t.Errorf("Labels = %v, want nil on the stored row", got.Labels)
	}
	if got.ContentHash != got.ComputeContentHash() {
		t.Error("content hash not stamped")
	}
}

func TestApplyUpdateDoesNotModifyInput(t *testing.T) {
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	orig := &Issue{ID: "bd-1", Title: "before", Status: StatusOpen, CreatedAt: created, UpdatedAt: created}
	title := "after"
	got, err := ApplyUpdate(orig, &IssueUpdate{Title: &title}, created.Add(time.Minute))
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if orig.Title != "before" {
		t.Errorf("input modified: %q", orig.Title)
	}
	if got.Title != "after" {
		t.Errorf("Title = %q", got.Title)
	}
}

func TestApplyUpdateClampsUpdatedAt(t *testing.T) {
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	issue := &Issue{ID: "bd-1", Title: "t", Status: StatusOpen, CreatedAt: created, UpdatedAt: created}
	got, err := ApplyUpdate(issue, &IssueUpdate{}, created.Add(-time.Hour))
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if !got.UpdatedAt.Equal(created) {
		t.Errorf("UpdatedAt = %v, want clamped to %v", got.UpdatedAt, created)
	}
}

func TestApplyUpdateClearsDates(t *testing.T) {
	created := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	due := created.Add(48 * time.Hour)
	issue := &Issue{ID: "bd-1", Title: "t", Status: StatusOpen, CreatedAt: created, UpdatedAt: created, DueAt: &due}

	zero := time.Time{}
	got, err := ApplyUpdate(issue, &IssueUpdate{DueAt: &zero}, created)
	if err != nil {
		t.Fatalf("ApplyUpdate failed: %v", err)
	}
	if got.DueAt != nil {
		t.Errorf("DueAt = %v, want cleared", got.DueAt)
	}
	if issue.DueAt == nil {
		t.Error("input DueAt was cleared")
	}
}

func TestValidate(t *testing.T) {
	now := time.Now()
	long := make([]rune, MaxTitleLength+1)
	for i := range long {
		long[i] = 'a'
	}
	neg := -5
	tests := []struct {
		name  string
		issue Issue
		ok    bool
	}{
		{"valid", Issue{Title: "t", Status: StatusOpen}, true},
		{"no title", Issue{Status: StatusOpen}, false},
		{"long title", Issue{Title: string(long), Status: StatusOpen}, false},
		{"priority too high", Issue{Title: "t", Status: StatusOpen, Priority: 5}, false},
		{"negative estimate", Issue{Title: "t", Status: StatusOpen, EstimatedMinutes: &neg}, false},
		{"closed without closed_at", Issue{Title: "t", Status: StatusClosed}, false},
		{"open with closed_at", Issue{Title: "t", Status: StatusOpen, ClosedAt: &now}, false},
		{"closed with closed_at", Issue{Title: "t", Status: StatusClosed, ClosedAt: &now}, true},
		{"tombstone without deleted_at", Issue{Title: "t", Status: StatusTombstone}, false},
		{"updated before created", Issue{Title: "t", Status: StatusOpen, CreatedAt: now, UpdatedAt: now.Add(-time.Second)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.issue.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate() = %v, want nil", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalid) {
				t.Errorf("Validate() = %v, want ErrInvalid", err)
			}
		})
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindUnknown},
		{io.EOF, KindUnknown},
		{NewError("get", "bd-1", ErrNotFound), KindNotFound},
		{fmt.Errorf("wrapped: %w", ErrCycle), KindConflict},
		{ErrDuplicateID, KindConflict},
		{idgen.ErrIDExhausted, KindConflict},
		{idgen.ErrMaxDepthExceeded, KindInvalid},
		{fmt.Errorf("%w: bad", ErrInvalid), KindInvalid},
		{fmt.Errorf("%w: waited", lockfile.ErrTimeout), KindResourceBusy},
		{IOError("writing", io.ErrShortWrite), KindStorageIO},
		{fmt.Errorf("%w: line 3", ErrCorruption), KindCorruption},
	}
	for _, tt := range tests {
		if got := KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestIOErrorKeepsCause(t *testing.T) {
	err := IOError("syncing log", io.ErrShortWrite)
	if !errors.Is(err, ErrStorageIO) || !errors.Is(err, io.ErrShortWrite) {
		t.Errorf("IOError lost a link in the chain: %v", err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := NewError("get", "bd-1", ErrNotFound)
	var e *Error
	if !errors.As(err, &e) || e.ID != "bd-1" || e.Op != "get" {
		t.Fatalf("errors.As failed for %v", err)
	}
	if err.Error() == "" {
		t.Error("empty message")
	}
}

func TestRelevance(t *testing.T) {
	issue := &Issue{ID: "bd-abc", Title: "Fix cache", Description: "cache misses", Notes: "see cache docs"}
	tests := []struct {
		query string
		want  int
	}{
		{"bd-abc", 16},
		{"abc", 8},
		{"cache", 4 + 2 + 1},
		{"fix", 4},
		{"fix cache", 4 + 7},
		{"fix nothing", 0},
	}
	for _, tt := range tests {
		if got := Relevance(issue, SearchTerms(tt.query)); got != tt.want {
			t.Errorf("Relevance(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestPaginate(t *testing.T) {
	issues := []*Issue{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	tests := []struct {
		offset, limit int
		want          []string
	}{
		{0, 0, []string{"a", "b", "c"}},
		{0, 2, []string{"a", "b"}},
		{2, 5, []string{"c"}},
		{3, 0, []string{}},
		{-1, 1, []string{"a"}},
	}
	for _, tt := range tests {
		got := ids(Paginate(issues, tt.offset, tt.limit))
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("Paginate(%d, %d) = %v, want %v", tt.offset, tt.limit, got, tt.want)
		}
	}
}

func TestPriorityDisplay(t *testing.T) {
	tests := []struct {
		p    Priority
		want string
	}{
		{PriorityCritical, "P0"},
		{PriorityHigh, "P1"},
		{PriorityMedium, "P2"},
		{PriorityLow, "P3"},
		{PriorityBacklog, "P4"},
	}

	for _, tt := range tests {
		if got := tt.p.Display(); got != tt.want {
			t.Errorf("Priority(%d).Display() = %q, want %q", tt.p, got, tt.want)
		}
	}
}

func TestPriorityJSON(t *testing.T) {
	// Marshal
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow, PriorityBacklog} {
		data, err := json.Marshal(p)
		if err != nil {
			t.Errorf("Marshal Priority(%d) failed: %v", p, err)
			continue
		}
		// Should marshal as integer
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			t.Errorf("Priority(%d) did not marshal as int: %s", p, data)
		}
		if n != int(p) {
			t.Errorf("Priority(%d) marshaled as %d", p, n)
		}
	}

	// Unmarshal from int
	var p Priority
	if err := json.Unmarshal([]byte("2"), &p); err != nil {
		t.Errorf("Unmarshal int failed: %v", err)
	}
	if p != PriorityMedium {
		t.Errorf("Unmarshal(2) = %d, want %d", p, PriorityMedium)
	}

	// Unmarshal from legacy string (backward compatibility)
	legacyTests := []struct {
		json string
		want Priority
	}{
		{`"critical"`, PriorityCritical},
		{`"high"`, PriorityHigh},
		{`"medium"`, PriorityMedium},
		{`"low"`, PriorityLow},
		{`"backlog"`, PriorityBacklog},
	}
	for _, tt := range legacyTests {
		var p Priority
		if err := json.Unmarshal([]byte(tt.json), &p); err != nil {
			t.Errorf("Unmarshal(%s) failed: %v", tt.json, err)
			continue
		}
		if p != tt.want {
			t.Errorf("Unmarshal(%s) = %d, want %d", tt.json, p, tt.want)
		}
	}

	// Unmarshal invalid
	var bad Priority
	if err := json.Unmarshal([]byte(`"invalid"`), &bad); err == nil {
		t.Error("Unmarshal(invalid) should fail")
	}
}

func TestParsePriority(t *testing.T) {
	tests := []struct {
		input   string
		want    Priority
		wantErr bool
	}{
		// Numeric
		{"0", PriorityCritical, false},
		{"1", PriorityHigh, false},
		{"2", PriorityMedium, false},
		{"3", PriorityLow, false},
		{"4", PriorityBacklog, false},
		// P-format
		{"P0", PriorityCritical, false},
		{"P1", PriorityHigh, false},
		{"P2", PriorityMedium, false},
		{"P3", PriorityLow, false},
		{"P4", PriorityBacklog, false},
		{"p2", PriorityMedium, false}, // case-insensitive
		// Legacy words
		{"critical", PriorityCritical, false},
		{"high", PriorityHigh, false},
		{"medium", PriorityMedium, false},
		{"low", PriorityLow, false},
		{"backlog", PriorityBacklog, false},
		// Empty defaults to medium
		{"", PriorityMedium, false},
		// Invalid
		{"5", PriorityMedium, true},
		{"P5", PriorityMedium, true},
		{"urgent", PriorityMedium, true},
		{"invalid", PriorityMedium, true},
	}

	for _, tt := range tests {
		got, err := ParsePriority(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParsePriority(%q) should error", tt.input)
			}
		} else {
			if err != nil {
				t.Errorf("ParsePriority(%q) unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParsePriority(%q) = %d, want %d", tt.input, got, tt.want)
			}
		}
	}
}

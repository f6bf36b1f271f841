// Package issuestorage defines the issue data model, the error taxonomy and
// the interface every persistence backend implements.
//
// Two backends exist: a log-structured store (snapshot plus write-ahead log)
// in package wal, and a transactional SQLite store in package sqlite. Both
// share the helpers in this package for update merging, filtering, ordering
// and search ranking, so callers see identical behavior from either.
package issuestorage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"beads-engine/internal/contenthash"
)

// MaxTitleLength is the longest title Validate accepts, in characters.
const MaxTitleLength = 500

// DependencyType represents the type of relationship between two issues.
type DependencyType string

const (
	DepTypeBlocks      DependencyType = "blocks"
	DepTypeParentChild DependencyType = "parent-child"
	DepTypeWaitsFor    DependencyType = "waits-for"
	DepTypeRelated     DependencyType = "related"
)

// IsBuiltin reports whether t is one of the predefined dependency types.
// Any other non-empty string is accepted as a custom type.
func (t DependencyType) IsBuiltin() bool {
	switch t {
	case DepTypeBlocks, DepTypeParentChild, DepTypeWaitsFor, DepTypeRelated:
		return true
	}
	return false
}

// ParseDependencyType normalises user input. Underscore spellings such as
// "parent_child" map to the canonical dashed form.
func ParseDependencyType(s string) (DependencyType, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return DepTypeBlocks, nil
	}
	t := DependencyType(strings.ReplaceAll(s, "_", "-"))
	if strings.ContainsAny(string(t), " \t\n") {
		return "", fmt.Errorf("%w: dependency type %q", ErrInvalid, s)
	}
	return t, nil
}

// Dependency is one directed edge: IssueID depends on DependsOnID.
type Dependency struct {
	IssueID     string         `json:"issue_id"`
	DependsOnID string         `json:"depends_on_id"`
	Type        DependencyType `json:"type"`
	CreatedAt   time.Time      `json:"created_at"`
	CreatedBy   string         `json:"created_by,omitempty"`
	Metadata    string         `json:"metadata,omitempty"`
	ThreadID    string         `json:"thread_id,omitempty"`
}

// Clone returns a copy of d.
func (d *Dependency) Clone() *Dependency {
	c := *d
	return &c
}

// Comment is a note attached to an issue.
type Comment struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id"`
	Author    string    `json:"author"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Issue represents a task/bug/feature in the system.
type Issue struct {
	ID                 string    `json:"id"`
	ContentHash        string    `json:"content_hash,omitempty"`
	Title              string    `json:"title"`
	Description        string    `json:"description,omitempty"`
	Design             string    `json:"design,omitempty"`
	AcceptanceCriteria string    `json:"acceptance_criteria,omitempty"`
	Notes              string    `json:"notes,omitempty"`
	Status             Status    `json:"status"`
	Priority           Priority  `json:"priority"`
	Type               IssueType `json:"issue_type"`

	Assignee  string `json:"assignee,omitempty"`
	Owner     string `json:"owner,omitempty"`
	CreatedBy string `json:"created_by,omitempty"`

	EstimatedMinutes *int `json:"estimated_minutes,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	CloseReason string     `json:"close_reason,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	DeferUntil  *time.Time `json:"defer_until,omitempty"`

	ExternalRef  string `json:"external_ref,omitempty"`
	SourceSystem string `json:"source_system,omitempty"`

	// Labels is populated on read; stores persist labels separately.
	Labels []string `json:"labels,omitempty"`

	Ephemeral  bool `json:"ephemeral,omitempty"`
	Pinned     bool `json:"pinned,omitempty"`
	IsTemplate bool `json:"is_template,omitempty"`

	// Tombstone fields (set when issue is soft-deleted)
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
	DeletedBy    string     `json:"deleted_by,omitempty"`
	DeleteReason string     `json:"delete_reason,omitempty"`
}

// Clone returns a deep copy of issue, so callers never share state with a
// store's in-memory index.
func (issue *Issue) Clone() *Issue {
	c := *issue
	c.EstimatedMinutes = cloneInt(issue.EstimatedMinutes)
	c.ClosedAt = cloneTime(issue.ClosedAt)
	c.DueAt = cloneTime(issue.DueAt)
	c.DeferUntil = cloneTime(issue.DeferUntil)
	c.DeletedAt = cloneTime(issue.DeletedAt)
	if issue.Labels != nil {
		c.Labels = append([]string(nil), issue.Labels...)
	}
	return &c
}

// ComputeContentHash returns the digest of the issue's semantic fields.
func (issue *Issue) ComputeContentHash() string {
	return contenthash.Compute(contenthash.Fields{
		Title:              issue.Title,
		Description:        issue.Description,
		Design:             issue.Design,
		AcceptanceCriteria: issue.AcceptanceCriteria,
		Notes:              issue.Notes,
		Status:             string(issue.Status),
		Priority:           int(issue.Priority),
		IssueType:          string(issue.Type),
		Assignee:           issue.Assignee,
		Owner:              issue.Owner,
		CreatedBy:          issue.CreatedBy,
		ExternalRef:        issue.ExternalRef,
		SourceSystem:       issue.SourceSystem,
		Pinned:             issue.Pinned,
		IsTemplate:         issue.IsTemplate,
	})
}

// IsDeferred reports whether the issue is deferred at time now, either by
// status or by a DeferUntil in the future.
func (issue *Issue) IsDeferred(now time.Time) bool {
	if issue.Status == StatusDeferred {
		return true
	}
	return issue.DeferUntil != nil && issue.DeferUntil.After(now)
}

// HasLabel reports whether the issue carries label.
func (issue *Issue) HasLabel(label string) bool {
	for _, l := range issue.Labels {
		if l == label {
			return true
		}
	}
	return false
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func cloneInt(n *int) *int {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}

// Status represents the current state of an issue.
type Status string

const (
	StatusOpen       Status = "open"
	StatusInProgress Status = "in_progress"
	StatusBlocked    Status = "blocked"
	StatusDeferred   Status = "deferred"
	StatusPinned     Status = "pinned"
	StatusClosed     Status = "closed"
	StatusTombstone  Status = "tombstone"
)

// BuiltinStatuses lists the statuses users can set directly (excludes tombstone).
var BuiltinStatuses = []Status{
	StatusOpen, StatusInProgress, StatusBlocked, StatusDeferred,
	StatusPinned, StatusClosed,
}

// IsResolved reports whether a dependency on an issue in this status is
// satisfied.
func (s Status) IsResolved() bool {
	return s == StatusClosed || s == StatusTombstone
}

// IsActive reports whether an issue in this status is still work in flight.
// Custom statuses count as active.
func (s Status) IsActive() bool {
	switch s {
	case StatusClosed, StatusTombstone, StatusPinned:
		return false
	}
	return true
}

// Priority represents the urgency of an issue (0=critical .. 4=backlog).
type Priority int

const (
	PriorityCritical Priority = 0
	PriorityHigh     Priority = 1
	PriorityMedium   Priority = 2
	PriorityLow      Priority = 3
	PriorityBacklog  Priority = 4
)

// Display returns the priority in P0-P4 format for human-readable output.
func (p Priority) Display() string {
	return fmt.Sprintf("P%d", p)
}

// MarshalJSON writes priority as an integer.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(int(p))
}

// UnmarshalJSON accepts an integer or one of the word forms ParsePriority
// understands.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var n int
	if err := json.Unmarshal(data, &n); err == nil {
		*p = Priority(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("priority must be int or string, got %s", string(data))
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// ParsePriority converts a string to a Priority value.
// Accepts numeric ("0"-"4"), P-format ("P0"-"P4"), or word forms
// ("critical", "high", "medium", "low", "backlog").
// Returns PriorityMedium and an error for unrecognized input.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "0", "p0", "critical":
		return PriorityCritical, nil
	case "1", "p1", "high":
		return PriorityHigh, nil
	case "2", "p2", "medium", "":
		return PriorityMedium, nil
	case "3", "p3", "low":
		return PriorityLow, nil
	case "4", "p4", "backlog":
		return PriorityBacklog, nil
	default:
		return PriorityMedium, fmt.Errorf("%w: unknown priority %q", ErrInvalid, s)
	}
}

// IssueType represents the category of an issue. Values outside the
// predefined set are stored as custom types.
type IssueType string

const (
	TypeTask    IssueType = "task"
	TypeBug     IssueType = "bug"
	TypeFeature IssueType = "feature"
	TypeEpic    IssueType = "epic"
	TypeChore   IssueType = "chore"
)

// SortField selects the primary ordering of List results.
type SortField string

const (
	SortPriority SortField = "priority"
	SortCreated  SortField = "created"
	SortUpdated  SortField = "updated"
)

// ListFilter specifies criteria for listing issues. Nil pointer fields and
// empty slices mean "any".
type ListFilter struct {
	Status            *Status
	Statuses          []Status // any of these; combined with Status when both set
	Priority          *Priority
	Type              *IssueType
	Assignee          *string
	Labels            []string // issues must have all these labels
	Text              string   // case-insensitive substring of id/title/description/notes
	IncludeTombstones bool

	Sort       SortField // default SortPriority
	Descending bool
	Limit      int // 0 means no limit
	Offset     int
}

// LoadReport describes what a store found while loading persisted state.
type LoadReport struct {
	Records int // records applied
	Skipped int // records that could not be parsed or applied
	Corrupt []CorruptRecord
}

// CorruptRecord locates one skipped record for diagnostics.
type CorruptRecord struct {
	Line   int    `json:"line"`
	Offset int64  `json:"offset"`
	Err    string `json:"error"`
}

// Reader is the read side of a store. Every returned value is a fresh copy
// owned by the caller.
type Reader interface {
	// Get retrieves an issue by ID, with labels populated.
	// Returns ErrNotFound if the issue doesn't exist.
	Get(ctx context.Context, id string) (*Issue, error)

	// Exists reports whether id is present, including tombstones.
	Exists(ctx context.Context, id string) (bool, error)

	// List returns issues matching filter in the filter's order.
	// A nil filter returns every non-tombstoned issue by priority.
	List(ctx context.Context, filter *ListFilter) ([]*Issue, error)

	// Search returns issues matching every term of query, ranked by
	// relevance then recency. filter narrows the candidates; its Sort
	// field is ignored.
	Search(ctx context.Context, query string, filter *ListFilter) ([]*Issue, error)

	// Labels returns the sorted label set of an issue.
	Labels(ctx context.Context, id string) ([]string, error)

	// Comments returns an issue's comments in creation order.
	Comments(ctx context.Context, id string) ([]*Comment, error)

	// Dependencies returns edges whose IssueID is id, in insertion order.
	Dependencies(ctx context.Context, id string) ([]*Dependency, error)

	// Dependents returns edges whose DependsOnID is id, in insertion order.
	Dependents(ctx context.Context, id string) ([]*Dependency, error)

	// Edges returns every edge in insertion order.
	Edges(ctx context.Context) ([]*Dependency, error)
}

// Transaction is the write side of a store, valid only inside the
// function passed to RunInTransaction. Reads through a Transaction observe
// its own pending writes.
type Transaction interface {
	Reader

	// Insert stores a new issue. Returns ErrDuplicateID if the id exists.
	Insert(ctx context.Context, issue *Issue) error

	// Update merges u into the stored issue and returns the result.
	Update(ctx context.Context, id string, u *IssueUpdate, now time.Time) (*Issue, error)

	// AddLabel adds a label; adding a present label is a no-op.
	AddLabel(ctx context.Context, id, label string) error

	// RemoveLabel removes a label; removing an absent label is a no-op.
	RemoveLabel(ctx context.Context, id, label string) error

	// AddComment stores c, assigning its ID.
	AddComment(ctx context.Context, c *Comment) (*Comment, error)

	// PutEdge stores an edge without graph validation.
	PutEdge(ctx context.Context, dep *Dependency) error

	// DeleteEdge removes the edge between the two ids, reporting whether
	// one existed.
	DeleteEdge(ctx context.Context, issueID, dependsOnID string) (bool, error)
}

// IssueStore defines the interface for issue persistence.
// All storage engines must implement this interface.
type IssueStore interface {
	Reader

	// Insert, Update, AddLabel, RemoveLabel and AddComment each run in
	// their own transaction.
	Insert(ctx context.Context, issue *Issue) error
	Update(ctx context.Context, id string, u *IssueUpdate, now time.Time) (*Issue, error)
	AddLabel(ctx context.Context, id, label string) error
	RemoveLabel(ctx context.Context, id, label string) error
	AddComment(ctx context.Context, c *Comment) (*Comment, error)

	// RunInTransaction runs fn while holding the workspace lock, after
	// refreshing from disk. Writes made through tx are committed together
	// when fn returns nil and discarded otherwise.
	RunInTransaction(ctx context.Context, fn func(tx Transaction) error) error

	// Reload refreshes in-memory state from disk under the lock.
	Reload(ctx context.Context) error

	// Compact folds pending log records into durable compacted form.
	Compact(ctx context.Context) error

	// Report describes the most recent load.
	Report() LoadReport

	// Close releases resources held by the store.
	Close() error
}

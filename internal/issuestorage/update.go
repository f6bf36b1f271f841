package issuestorage

import (
	"fmt"
	"time"
	"unicode/utf8"
)

// IssueUpdate is a field-level partial update. Nil fields are left alone.
type IssueUpdate struct {
	Title              *string
	Description        *string
	Design             *string
	AcceptanceCriteria *string
	Notes              *string
	Status             *Status
	Priority           *Priority
	Type               *IssueType
	Assignee           *string
	Owner              *string
	ExternalRef        *string
	SourceSystem       *string
	CloseReason        *string
	DeletedBy          *string
	DeleteReason       *string

	// EstimatedMinutes set to a negative value clears the estimate.
	EstimatedMinutes *int

	// DueAt and DeferUntil set to the zero time clear the field.
	DueAt      *time.Time
	DeferUntil *time.Time

	Pinned     *bool
	IsTemplate *bool
	Ephemeral  *bool
}

// IsEmpty reports whether u changes nothing.
func (u *IssueUpdate) IsEmpty() bool {
	return u == nil || *u == IssueUpdate{}
}

// ApplyUpdate returns a copy of issue with u merged in and UpdatedAt
// advanced to now. Status transitions keep ClosedAt and DeletedAt
// consistent with the new status. The original issue is never modified,
// so a failed update leaves the caller's state intact.
func ApplyUpdate(issue *Issue, u *IssueUpdate, now time.Time) (*Issue, error) {
	if issue.Status == StatusTombstone {
		return nil, NewError("update", issue.ID, ErrTombstoned)
	}
	out := issue.Clone()
	if u == nil {
		u = &IssueUpdate{}
	}

	setString(&out.Title, u.Title)
	setString(&out.Description, u.Description)
	setString(&out.Design, u.Design)
	setString(&out.AcceptanceCriteria, u.AcceptanceCriteria)
	setString(&out.Notes, u.Notes)
	setString(&out.Assignee, u.Assignee)
	setString(&out.Owner, u.Owner)
	setString(&out.ExternalRef, u.ExternalRef)
	setString(&out.SourceSystem, u.SourceSystem)
	setString(&out.DeletedBy, u.DeletedBy)
	setString(&out.DeleteReason, u.DeleteReason)
	if u.Priority != nil {
		out.Priority = *u.Priority
	}
	if u.Type != nil {
		out.Type = *u.Type
	}
	if u.EstimatedMinutes != nil {
		if *u.EstimatedMinutes < 0 {
			out.EstimatedMinutes = nil
		} else {
			out.EstimatedMinutes = cloneInt(u.EstimatedMinutes)
		}
	}
	setTime(&out.DueAt, u.DueAt)
	setTime(&out.DeferUntil, u.DeferUntil)
	if u.Pinned != nil {
		out.Pinned = *u.Pinned
	}
	if u.IsTemplate != nil {
		out.IsTemplate = *u.IsTemplate
	}
	if u.Ephemeral != nil {
		out.Ephemeral = *u.Ephemeral
	}

	if u.Status != nil && *u.Status != out.Status {
		applyStatusTransition(out, *u.Status, now)
	}
	// A close reason only means something on a closed issue.
	if u.CloseReason != nil && out.Status == StatusClosed {
		out.CloseReason = *u.CloseReason
	}

	out.UpdatedAt = now
	if out.UpdatedAt.Before(out.CreatedAt) {
		out.UpdatedAt = out.CreatedAt
	}
	if err := out.Validate(); err != nil {
		return nil, NewError("update", issue.ID, err)
	}
	out.ContentHash = out.ComputeContentHash()
	return out, nil
}

// applyStatusTransition moves issue to status, setting or clearing the
// timestamps that depend on it.
func applyStatusTransition(issue *Issue, status Status, now time.Time) {
	issue.Status = status
	switch status {
	case StatusClosed:
		if issue.ClosedAt == nil {
			t := now
			issue.ClosedAt = &t
		}
	case StatusTombstone:
		if issue.DeletedAt == nil {
			t := now
			issue.DeletedAt = &t
		}
		issue.ClosedAt = nil
		issue.CloseReason = ""
	default:
		issue.ClosedAt = nil
		issue.CloseReason = ""
	}
}

// Validate checks the issue's field-level invariants.
func (issue *Issue) Validate() error {
	if issue.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalid)
	}
	if n := utf8.RuneCountInString(issue.Title); n > MaxTitleLength {
		return fmt.Errorf("%w: title must be %d characters or less (got %d)", ErrInvalid, MaxTitleLength, n)
	}
	if issue.Priority < PriorityCritical || issue.Priority > PriorityBacklog {
		return fmt.Errorf("%w: priority must be between 0 and 4 (got %d)", ErrInvalid, issue.Priority)
	}
	if issue.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalid)
	}
	if issue.EstimatedMinutes != nil && *issue.EstimatedMinutes < 0 {
		return fmt.Errorf("%w: estimated_minutes cannot be negative", ErrInvalid)
	}
	if issue.Status == StatusClosed && issue.ClosedAt == nil {
		return fmt.Errorf("%w: closed issues must have closed_at timestamp", ErrInvalid)
	}
	if issue.Status != StatusClosed && issue.ClosedAt != nil {
		return fmt.Errorf("%w: non-closed issues cannot have closed_at timestamp", ErrInvalid)
	}
	if issue.Status == StatusTombstone && issue.DeletedAt == nil {
		return fmt.Errorf("%w: tombstoned issues must have deleted_at timestamp", ErrInvalid)
	}
	if !issue.CreatedAt.IsZero() && issue.UpdatedAt.Before(issue.CreatedAt) {
		return fmt.Errorf("%w: updated_at precedes created_at", ErrInvalid)
	}
	return nil
}

// PrepareInsert fills defaults on a new issue, validates it and stamps its
// content hash. Backends call it from Insert.
func PrepareInsert(issue *Issue, now time.Time) (*Issue, error) {
	if issue.ID == "" {
		return nil, NewError("insert", "", fmt.Errorf("%w: id is required", ErrInvalid))
	}
	out := issue.Clone()
	out.Labels = nil
	if out.Status == "" {
		out.Status = StatusOpen
	}
	if out.Type == "" {
		out.Type = TypeTask
	}
	if out.CreatedAt.IsZero() {
		out.CreatedAt = now
	}
	if out.UpdatedAt.Before(out.CreatedAt) {
		out.UpdatedAt = out.CreatedAt
	}
	if out.Status == StatusClosed && out.ClosedAt == nil {
		t := out.UpdatedAt
		out.ClosedAt = &t
	}
	if err := out.Validate(); err != nil {
		return nil, NewError("insert", issue.ID, err)
	}
	out.ContentHash = out.ComputeContentHash()
	return out, nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}

func setTime(dst **time.Time, v *time.Time) {
	if v == nil {
		return
	}
	if v.IsZero() {
		*dst = nil
		return
	}
	t := *v
	*dst = &t
}

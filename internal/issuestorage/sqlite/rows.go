package sqlite

import (
	"database/sql"
	"time"

	"beads-engine/internal/issuestorage"
)

// Timestamps are stored as INTEGER nanoseconds since the Unix epoch, so
// they round-trip exactly and compare numerically.

func toNanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

const issueColumns = `id, content_hash, title, description, design, acceptance_criteria, notes,
	status, priority, issue_type, assignee, owner, created_by, estimated_minutes,
	created_at, updated_at, closed_at, close_reason, due_at, defer_until,
	external_ref, source_system, ephemeral, pinned, is_template,
	deleted_at, deleted_by, delete_reason`

// issueArgs lists issue's values in issueColumns order.
func issueArgs(issue *issuestorage.Issue) []any {
	return []any{
		issue.ID, issue.ContentHash, issue.Title, issue.Description, issue.Design,
		issue.AcceptanceCriteria, issue.Notes,
		string(issue.Status), int(issue.Priority), string(issue.Type),
		issue.Assignee, issue.Owner, issue.CreatedBy, nullInt(issue.EstimatedMinutes),
		toNanos(issue.CreatedAt), toNanos(issue.UpdatedAt), nullNanos(issue.ClosedAt),
		issue.CloseReason, nullNanos(issue.DueAt), nullNanos(issue.DeferUntil),
		issue.ExternalRef, issue.SourceSystem, issue.Ephemeral, issue.Pinned, issue.IsTemplate,
		nullNanos(issue.DeletedAt), issue.DeletedBy, issue.DeleteReason,
	}
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIssue(row scanner) (*issuestorage.Issue, error) {
	var (
		issue                             issuestorage.Issue
		status, typ                       string
		priority                          int
		estimate                          sql.NullInt64
		created, updated                  int64
		closedAt, dueAt, deferAt, deleted sql.NullInt64
	)
	err := row.Scan(
		&issue.ID, &issue.ContentHash, &issue.Title, &issue.Description, &issue.Design,
		&issue.AcceptanceCriteria, &issue.Notes,
		&status, &priority, &typ,
		&issue.Assignee, &issue.Owner, &issue.CreatedBy, &estimate,
		&created, &updated, &closedAt,
		&issue.CloseReason, &dueAt, &deferAt,
		&issue.ExternalRef, &issue.SourceSystem, &issue.Ephemeral, &issue.Pinned, &issue.IsTemplate,
		&deleted, &issue.DeletedBy, &issue.DeleteReason,
	)
	if err != nil {
		return nil, err
	}
	issue.Status = issuestorage.Status(status)
	issue.Priority = issuestorage.Priority(priority)
	issue.Type = issuestorage.IssueType(typ)
	issue.EstimatedMinutes = intPtr(estimate)
	issue.CreatedAt = fromNanos(created)
	issue.UpdatedAt = fromNanos(updated)
	issue.ClosedAt = timePtr(closedAt)
	issue.DueAt = timePtr(dueAt)
	issue.DeferUntil = timePtr(deferAt)
	issue.DeletedAt = timePtr(deleted)
	return &issue, nil
}

const dependencyColumns = `issue_id, depends_on_id, type, created_at, created_by, metadata, thread_id`

func scanDependency(row scanner) (*issuestorage.Dependency, error) {
	var (
		d       issuestorage.Dependency
		typ     string
		created int64
	)
	if err := row.Scan(&d.IssueID, &d.DependsOnID, &typ, &created, &d.CreatedBy, &d.Metadata, &d.ThreadID); err != nil {
		return nil, err
	}
	d.Type = issuestorage.DependencyType(typ)
	d.CreatedAt = fromNanos(created)
	return &d, nil
}

package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"beads-engine/internal/eventlog"
	"beads-engine/internal/issuestorage"
)

// EventLog is an eventlog.Log over the events table. AUTOINCREMENT keeps
// ids monotonic even after rows are deleted.
type EventLog struct {
	store *Store
}

var _ eventlog.Log = (*EventLog)(nil)

// EventLog returns the store's event log. It shares the store's database
// handle; closing it is a no-op.
func (s *Store) EventLog() *EventLog { return &EventLog{store: s} }

func (l *EventLog) Append(ctx context.Context, e *eventlog.Event) (int64, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = l.store.now()
	}
	e.CreatedAt = e.CreatedAt.UTC()
	res, err := l.store.db.ExecContext(ctx,
		`INSERT INTO events (issue_id, event_type, actor, old_value, new_value, comment, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.IssueID, string(e.Type), e.Actor, nullString(e.OldValue), nullString(e.NewValue),
		nullString(e.Comment), toNanos(e.CreatedAt))
	if err != nil {
		return 0, issuestorage.IOError("appending event", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, issuestorage.IOError("appending event", err)
	}
	e.ID = id
	return id, nil
}

func (l *EventLog) Query(ctx context.Context, q eventlog.Query) ([]*eventlog.Event, error) {
	var where []string
	var args []any
	if q.IssueID != "" {
		where = append(where, "issue_id = ?")
		args = append(args, q.IssueID)
	}
	if len(q.Types) > 0 {
		where = append(where, "event_type IN ("+placeholders(len(q.Types))+")")
		for _, t := range q.Types {
			args = append(args, string(t))
		}
	}
	if !q.Since.IsZero() {
		where = append(where, "created_at >= ?")
		args = append(args, toNanos(q.Since))
	}
	query := "SELECT id, issue_id, event_type, actor, old_value, new_value, comment, created_at FROM events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := l.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, issuestorage.IOError("querying events", err)
	}
	defer rows.Close()
	out := []*eventlog.Event{}
	for rows.Next() {
		var (
			e                      eventlog.Event
			typ                    string
			oldV, newV, commentTxt sql.NullString
			created                int64
		)
		if err := rows.Scan(&e.ID, &e.IssueID, &typ, &e.Actor, &oldV, &newV, &commentTxt, &created); err != nil {
			return nil, issuestorage.IOError("querying events", err)
		}
		e.Type = eventlog.EventType(typ)
		e.OldValue = stringPtr(oldV)
		e.NewValue = stringPtr(newV)
		e.Comment = stringPtr(commentTxt)
		e.CreatedAt = fromNanos(created)
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, issuestorage.IOError("querying events", err)
	}
	return out, nil
}

func (l *EventLog) Close() error { return nil }

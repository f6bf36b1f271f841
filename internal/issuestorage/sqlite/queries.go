package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"beads-engine/internal/issuestorage"
)

// querier is satisfied by *sql.DB for plain reads and by the *sql.Conn
// that carries an open transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ops implements every read and write against one querier. The Store
// uses it over the pool; a transaction uses it over its connection.
type ops struct {
	q   querier
	now func() time.Time
}

func (o ops) exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := o.q.QueryRowContext(ctx, "SELECT 1 FROM issues WHERE id = ?", id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, issuestorage.IOError("checking issue", err)
	}
	return true, nil
}

// row loads an issue without labels.
func (o ops) row(ctx context.Context, op, id string) (*issuestorage.Issue, error) {
	issue, err := scanIssue(o.q.QueryRowContext(ctx, "SELECT "+issueColumns+" FROM issues WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, issuestorage.NewError(op, id, issuestorage.ErrNotFound)
	}
	if err != nil {
		return nil, issuestorage.IOError("reading issue "+id, err)
	}
	return issue, nil
}

func (o ops) get(ctx context.Context, id string) (*issuestorage.Issue, error) {
	issue, err := o.row(ctx, "get", id)
	if err != nil {
		return nil, err
	}
	labels, err := o.labelsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(labels) > 0 {
		issue.Labels = labels
	}
	return issue, nil
}

// matching runs the structured part of f in SQL and fills in labels.
func (o ops) matching(ctx context.Context, f *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	var where []string
	var args []any
	if !f.ShowsTombstones() {
		where = append(where, "status != ?")
		args = append(args, string(issuestorage.StatusTombstone))
	}
	if f != nil {
		if f.Status != nil {
			where = append(where, "status = ?")
			args = append(args, string(*f.Status))
		}
		if len(f.Statuses) > 0 {
			where = append(where, "status IN ("+placeholders(len(f.Statuses))+")")
			for _, s := range f.Statuses {
				args = append(args, string(s))
			}
		}
		if f.Priority != nil {
			where = append(where, "priority = ?")
			args = append(args, int(*f.Priority))
		}
		if f.Type != nil {
			where = append(where, "issue_type = ?")
			args = append(args, string(*f.Type))
		}
		if f.Assignee != nil {
			where = append(where, "assignee = ?")
			args = append(args, *f.Assignee)
		}
		for _, l := range f.Labels {
			where = append(where, "EXISTS (SELECT 1 FROM labels l WHERE l.issue_id = issues.id AND l.label = ?)")
			args = append(args, l)
		}
	}

	query := "SELECT " + issueColumns + " FROM issues"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	rows, err := o.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, issuestorage.IOError("listing issues", err)
	}
	defer rows.Close()

	var out []*issuestorage.Issue
	byID := make(map[string]*issuestorage.Issue)
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, issuestorage.IOError("listing issues", err)
		}
		out = append(out, issue)
		byID[issue.ID] = issue
	}
	if err := rows.Err(); err != nil {
		return nil, issuestorage.IOError("listing issues", err)
	}
	rows.Close()

	if err := o.attachLabels(ctx, byID); err != nil {
		return nil, err
	}
	return out, nil
}

// attachLabels fills Labels on the given issues in one pass over the
// labels table.
func (o ops) attachLabels(ctx context.Context, byID map[string]*issuestorage.Issue) error {
	if len(byID) == 0 {
		return nil
	}
	rows, err := o.q.QueryContext(ctx, "SELECT issue_id, label FROM labels ORDER BY issue_id, label")
	if err != nil {
		return issuestorage.IOError("reading labels", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, label string
		if err := rows.Scan(&id, &label); err != nil {
			return issuestorage.IOError("reading labels", err)
		}
		if issue, ok := byID[id]; ok {
			issue.Labels = append(issue.Labels, label)
		}
	}
	if err := rows.Err(); err != nil {
		return issuestorage.IOError("reading labels", err)
	}
	return nil
}

func (o ops) list(ctx context.Context, f *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	issues, err := o.matching(ctx, f)
	if err != nil {
		return nil, err
	}
	return issuestorage.FinishList(issues, f), nil
}

func (o ops) search(ctx context.Context, query string, f *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	issues, err := o.matching(ctx, f)
	if err != nil {
		return nil, err
	}
	return issuestorage.RankSearch(issues, query, f), nil
}

func (o ops) labelsOf(ctx context.Context, id string) ([]string, error) {
	rows, err := o.q.QueryContext(ctx, "SELECT label FROM labels WHERE issue_id = ? ORDER BY label", id)
	if err != nil {
		return nil, issuestorage.IOError("reading labels", err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, issuestorage.IOError("reading labels", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, issuestorage.IOError("reading labels", err)
	}
	return out, nil
}

func (o ops) labels(ctx context.Context, id string) ([]string, error) {
	if ok, err := o.exists(ctx, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, issuestorage.NewError("labels", id, issuestorage.ErrNotFound)
	}
	return o.labelsOf(ctx, id)
}

func (o ops) comments(ctx context.Context, id string) ([]*issuestorage.Comment, error) {
	if ok, err := o.exists(ctx, id); err != nil {
		return nil, err
	} else if !ok {
		return nil, issuestorage.NewError("comments", id, issuestorage.ErrNotFound)
	}
	rows, err := o.q.QueryContext(ctx,
		"SELECT id, issue_id, author, text, created_at FROM comments WHERE issue_id = ? ORDER BY id", id)
	if err != nil {
		return nil, issuestorage.IOError("reading comments", err)
	}
	defer rows.Close()
	out := []*issuestorage.Comment{}
	for rows.Next() {
		var c issuestorage.Comment
		var created int64
		if err := rows.Scan(&c.ID, &c.IssueID, &c.Author, &c.Text, &created); err != nil {
			return nil, issuestorage.IOError("reading comments", err)
		}
		c.CreatedAt = fromNanos(created)
		out = append(out, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, issuestorage.IOError("reading comments", err)
	}
	return out, nil
}

func (o ops) edges(ctx context.Context, where string, args ...any) ([]*issuestorage.Dependency, error) {
	query := "SELECT " + dependencyColumns + " FROM dependencies"
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := o.q.QueryContext(ctx, query+" ORDER BY seq", args...)
	if err != nil {
		return nil, issuestorage.IOError("reading dependencies", err)
	}
	defer rows.Close()
	out := []*issuestorage.Dependency{}
	for rows.Next() {
		d, err := scanDependency(rows)
		if err != nil {
			return nil, issuestorage.IOError("reading dependencies", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, issuestorage.IOError("reading dependencies", err)
	}
	return out, nil
}

// --- writes; callers run these inside a transaction ---

func (o ops) insert(ctx context.Context, issue *issuestorage.Issue) error {
	if issue == nil {
		return issuestorage.NewError("insert", "", issuestorage.ErrInvalid)
	}
	if ok, err := o.exists(ctx, issue.ID); err != nil {
		return err
	} else if ok {
		return issuestorage.NewError("insert", issue.ID, issuestorage.ErrDuplicateID)
	}
	prepared, err := issuestorage.PrepareInsert(issue, o.now())
	if err != nil {
		return err
	}
	args := issueArgs(prepared)
	_, err = o.q.ExecContext(ctx,
		"INSERT INTO issues ("+issueColumns+") VALUES ("+placeholders(len(args))+")",
		args...)
	if err != nil {
		return issuestorage.IOError("inserting issue "+issue.ID, err)
	}
	for _, l := range issue.Labels {
		if err := o.addLabel(ctx, prepared.ID, l); err != nil {
			return err
		}
	}
	return nil
}

func (o ops) update(ctx context.Context, id string, u *issuestorage.IssueUpdate, now time.Time) (*issuestorage.Issue, error) {
	cur, err := o.row(ctx, "update", id)
	if err != nil {
		return nil, err
	}
	next, err := issuestorage.ApplyUpdate(cur, u, now)
	if err != nil {
		return nil, err
	}
	args := issueArgs(next)
	// Every column but id is rewritten.
	sets := strings.Split(issueColumns, ",")[1:]
	for i, c := range sets {
		sets[i] = strings.TrimSpace(c) + " = ?"
	}
	_, err = o.q.ExecContext(ctx,
		"UPDATE issues SET "+strings.Join(sets, ", ")+" WHERE id = ?",
		append(args[1:], id)...)
	if err != nil {
		return nil, issuestorage.IOError("updating issue "+id, err)
	}
	return o.get(ctx, id)
}

func (o ops) addLabel(ctx context.Context, id, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return issuestorage.NewError("add label", id, issuestorage.ErrInvalid)
	}
	if ok, err := o.exists(ctx, id); err != nil {
		return err
	} else if !ok {
		return issuestorage.NewError("add label", id, issuestorage.ErrNotFound)
	}
	if _, err := o.q.ExecContext(ctx, "INSERT OR IGNORE INTO labels (issue_id, label) VALUES (?, ?)", id, label); err != nil {
		return issuestorage.IOError("adding label", err)
	}
	return nil
}

func (o ops) removeLabel(ctx context.Context, id, label string) error {
	if ok, err := o.exists(ctx, id); err != nil {
		return err
	} else if !ok {
		return issuestorage.NewError("remove label", id, issuestorage.ErrNotFound)
	}
	if _, err := o.q.ExecContext(ctx, "DELETE FROM labels WHERE issue_id = ? AND label = ?", id, label); err != nil {
		return issuestorage.IOError("removing label", err)
	}
	return nil
}

func (o ops) addComment(ctx context.Context, c *issuestorage.Comment) (*issuestorage.Comment, error) {
	if c == nil || strings.TrimSpace(c.Text) == "" {
		return nil, issuestorage.NewError("add comment", "", issuestorage.ErrInvalid)
	}
	if ok, err := o.exists(ctx, c.IssueID); err != nil {
		return nil, err
	} else if !ok {
		return nil, issuestorage.NewError("add comment", c.IssueID, issuestorage.ErrNotFound)
	}
	out := *c
	if out.CreatedAt.IsZero() {
		out.CreatedAt = o.now().UTC()
	}
	res, err := o.q.ExecContext(ctx,
		"INSERT INTO comments (issue_id, author, text, created_at) VALUES (?, ?, ?, ?)",
		out.IssueID, out.Author, out.Text, toNanos(out.CreatedAt))
	if err != nil {
		return nil, issuestorage.IOError("adding comment", err)
	}
	if out.ID, err = res.LastInsertId(); err != nil {
		return nil, issuestorage.IOError("adding comment", err)
	}
	return &out, nil
}

func (o ops) putEdge(ctx context.Context, dep *issuestorage.Dependency) error {
	if dep == nil || dep.IssueID == "" || dep.DependsOnID == "" {
		return issuestorage.NewError("put edge", "", issuestorage.ErrInvalid)
	}
	d := dep.Clone()
	if d.Type == "" {
		d.Type = issuestorage.DepTypeBlocks
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = o.now().UTC()
	}
	// Replacing keeps seq, so the edge keeps its place in insertion order.
	_, err := o.q.ExecContext(ctx, `INSERT INTO dependencies (`+dependencyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (issue_id, depends_on_id) DO UPDATE SET
			type = excluded.type, created_at = excluded.created_at, created_by = excluded.created_by,
			metadata = excluded.metadata, thread_id = excluded.thread_id`,
		d.IssueID, d.DependsOnID, string(d.Type), toNanos(d.CreatedAt), d.CreatedBy, d.Metadata, d.ThreadID)
	if err != nil {
		return issuestorage.IOError("storing dependency", err)
	}
	return nil
}

func (o ops) deleteEdge(ctx context.Context, issueID, dependsOnID string) (bool, error) {
	res, err := o.q.ExecContext(ctx, "DELETE FROM dependencies WHERE issue_id = ? AND depends_on_id = ?", issueID, dependsOnID)
	if err != nil {
		return false, issuestorage.IOError("removing dependency", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, issuestorage.IOError("removing dependency", err)
	}
	return n > 0, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

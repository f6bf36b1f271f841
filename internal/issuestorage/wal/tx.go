package wal

import (
	"context"
	"strings"
	"time"

	"beads-engine/internal/issuestorage"
)

// txn records writes as log records and applies each one to a private
// clone of the store state, so reads inside the transaction see them.
type txn struct {
	store   *Store
	base    *state
	st      *state
	records []record
}

var _ issuestorage.Transaction = (*txn)(nil)

// emit applies r to the transaction's state, cloning it on first write.
func (tx *txn) emit(r record) error {
	if tx.st == tx.base {
		tx.st = tx.base.clone()
	}
	if err := apply(tx.st, r); err != nil {
		return err
	}
	tx.records = append(tx.records, r)
	return nil
}

func (tx *txn) write(op, id string, payload any) error {
	r, err := newRecord(op, id, tx.store.now().UTC(), payload)
	if err != nil {
		return err
	}
	return tx.emit(r)
}

func (tx *txn) Get(ctx context.Context, id string) (*issuestorage.Issue, error) {
	issue, ok := tx.st.get(id)
	if !ok {
		return nil, issuestorage.NewError("get", id, issuestorage.ErrNotFound)
	}
	return issue, nil
}

func (tx *txn) Exists(ctx context.Context, id string) (bool, error) {
	return tx.st.exists(id), nil
}

func (tx *txn) List(ctx context.Context, filter *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	return tx.st.list(filter), nil
}

func (tx *txn) Search(ctx context.Context, query string, filter *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	return tx.st.search(query, filter), nil
}

func (tx *txn) Labels(ctx context.Context, id string) ([]string, error) {
	if !tx.st.exists(id) {
		return nil, issuestorage.NewError("labels", id, issuestorage.ErrNotFound)
	}
	return tx.st.labelsOf(id), nil
}

func (tx *txn) Comments(ctx context.Context, id string) ([]*issuestorage.Comment, error) {
	if !tx.st.exists(id) {
		return nil, issuestorage.NewError("comments", id, issuestorage.ErrNotFound)
	}
	return tx.st.commentsOf(id), nil
}

func (tx *txn) Dependencies(ctx context.Context, id string) ([]*issuestorage.Dependency, error) {
	return tx.st.edgesWhere(func(d *issuestorage.Dependency) bool { return d.IssueID == id }), nil
}

func (tx *txn) Dependents(ctx context.Context, id string) ([]*issuestorage.Dependency, error) {
	return tx.st.edgesWhere(func(d *issuestorage.Dependency) bool { return d.DependsOnID == id }), nil
}

func (tx *txn) Edges(ctx context.Context) ([]*issuestorage.Dependency, error) {
	return tx.st.edgesWhere(nil), nil
}

func (tx *txn) Insert(ctx context.Context, issue *issuestorage.Issue) error {
	if issue == nil {
		return issuestorage.NewError("insert", "", issuestorage.ErrInvalid)
	}
	if tx.st.exists(issue.ID) {
		return issuestorage.NewError("insert", issue.ID, issuestorage.ErrDuplicateID)
	}
	prepared, err := issuestorage.PrepareInsert(issue, tx.store.now())
	if err != nil {
		return err
	}
	if err := tx.write(opCreate, prepared.ID, prepared); err != nil {
		return err
	}
	for _, label := range issue.Labels {
		if err := tx.AddLabel(ctx, prepared.ID, label); err != nil {
			return err
		}
	}
	return nil
}

func (tx *txn) Update(ctx context.Context, id string, u *issuestorage.IssueUpdate, now time.Time) (*issuestorage.Issue, error) {
	cur, ok := tx.st.issues[id]
	if !ok {
		return nil, issuestorage.NewError("update", id, issuestorage.ErrNotFound)
	}
	next, err := issuestorage.ApplyUpdate(cur, u, now)
	if err != nil {
		return nil, err
	}
	if err := tx.write(opUpdate, id, next); err != nil {
		return nil, err
	}
	out, _ := tx.st.get(id)
	return out, nil
}

func (tx *txn) AddLabel(ctx context.Context, id, label string) error {
	label = strings.TrimSpace(label)
	if label == "" {
		return issuestorage.NewError("add label", id, issuestorage.ErrInvalid)
	}
	if !tx.st.exists(id) {
		return issuestorage.NewError("add label", id, issuestorage.ErrNotFound)
	}
	for _, l := range tx.st.labels[id] {
		if l == label {
			return nil
		}
	}
	return tx.write(opLabelAdd, id, labelPayload{Label: label})
}

func (tx *txn) RemoveLabel(ctx context.Context, id, label string) error {
	if !tx.st.exists(id) {
		return issuestorage.NewError("remove label", id, issuestorage.ErrNotFound)
	}
	present := false
	for _, l := range tx.st.labels[id] {
		if l == label {
			present = true
			break
		}
	}
	if !present {
		return nil
	}
	return tx.write(opLabelRemove, id, labelPayload{Label: label})
}

func (tx *txn) AddComment(ctx context.Context, c *issuestorage.Comment) (*issuestorage.Comment, error) {
	if c == nil || strings.TrimSpace(c.Text) == "" {
		return nil, issuestorage.NewError("add comment", "", issuestorage.ErrInvalid)
	}
	if !tx.st.exists(c.IssueID) {
		return nil, issuestorage.NewError("add comment", c.IssueID, issuestorage.ErrNotFound)
	}
	out := *c
	out.ID = tx.st.nextCommentID
	if out.CreatedAt.IsZero() {
		out.CreatedAt = tx.store.now().UTC()
	}
	if err := tx.write(opCommentAdd, out.IssueID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (tx *txn) PutEdge(ctx context.Context, dep *issuestorage.Dependency) error {
	if dep == nil || dep.IssueID == "" || dep.DependsOnID == "" {
		return issuestorage.NewError("put edge", "", issuestorage.ErrInvalid)
	}
	d := dep.Clone()
	if d.Type == "" {
		d.Type = issuestorage.DepTypeBlocks
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = tx.store.now().UTC()
	}
	return tx.write(opDepAdd, d.IssueID, d)
}

func (tx *txn) DeleteEdge(ctx context.Context, issueID, dependsOnID string) (bool, error) {
	if tx.st.edgeIndex(issueID, dependsOnID) < 0 {
		return false, nil
	}
	err := tx.write(opDepRemove, issueID, depRemovePayload{DependsOnID: dependsOnID})
	return err == nil, err
}

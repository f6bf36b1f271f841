package sqlite

import (
	"context"
	"time"

	"beads-engine/internal/issuestorage"
)

// txn is the Transaction handed to RunInTransaction callbacks. All of its
// statements run on the connection holding the open transaction.
type txn struct {
	ops ops
}

var _ issuestorage.Transaction = (*txn)(nil)

func (t *txn) Get(ctx context.Context, id string) (*issuestorage.Issue, error) {
	return t.ops.get(ctx, id)
}

func (t *txn) Exists(ctx context.Context, id string) (bool, error) {
	return t.ops.exists(ctx, id)
}

func (t *txn) List(ctx context.Context, filter *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	return t.ops.list(ctx, filter)
}

func (t *txn) Search(ctx context.Context, query string, filter *issuestorage.ListFilter) ([]*issuestorage.Issue, error) {
	return t.ops.search(ctx, query, filter)
}

func (t *txn) Labels(ctx context.Context, id string) ([]string, error) {
	return t.ops.labels(ctx, id)
}

func (t *txn) Comments(ctx context.Context, id string) ([]*issuestorage.Comment, error) {
	return t.ops.comments(ctx, id)
}

func (t *txn) Dependencies(ctx context.Context, id string) ([]*issuestorage.Dependency, error) {
	return t.ops.edges(ctx, "issue_id = ?", id)
}

func (t *txn) Dependents(ctx context.Context, id string) ([]*issuestorage.Dependency, error) {
	return t.ops.edges(ctx, "depends_on_id = ?", id)
}

func (t *txn) Edges(ctx context.Context) ([]*issuestorage.Dependency, error) {
	return t.ops.edges(ctx, "")
}

func (t *txn) Insert(ctx context.Context, issue *issuestorage.Issue) error {
	return t.ops.insert(ctx, issue)
}

func (t *txn) Update(ctx context.Context, id string, u *issuestorage.IssueUpdate, now time.Time) (*issuestorage.Issue, error) {
	return t.ops.update(ctx, id, u, now)
}

func (t *txn) AddLabel(ctx context.Context, id, label string) error {
	return t.ops.addLabel(ctx, id, label)
}

func (t *txn) RemoveLabel(ctx context.Context, id, label string) error {
	return t.ops.removeLabel(ctx, id, label)
}

func (t *txn) AddComment(ctx context.Context, c *issuestorage.Comment) (*issuestorage.Comment, error) {
	return t.ops.addComment(ctx, c)
}

func (t *txn) PutEdge(ctx context.Context, dep *issuestorage.Dependency) error {
	return t.ops.putEdge(ctx, dep)
}

func (t *txn) DeleteEdge(ctx context.Context, issueID, dependsOnID string) (bool, error) {
	return t.ops.deleteEdge(ctx, issueID, dependsOnID)
}

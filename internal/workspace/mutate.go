package workspace

import (
	"context"
	"fmt"
	"strings"

	"beads-engine/internal/eventlog"
	"beads-engine/internal/idgen"
	"beads-engine/internal/issuestorage"
)

// CreateOptions adds structure to a new issue.
type CreateOptions struct {
	// ParentID makes the issue a child: its id becomes {parent}.{n} and a
	// parent-child edge to the parent is added.
	ParentID string
	// Deps are edges from the new issue. IssueID is filled in; Type
	// defaults to blocks.
	Deps []*issuestorage.Dependency
}

// CreateIssue inserts issue with a generated id unless one is set, plus
// any parent and dependency edges, all in one transaction.
func (w *Workspace) CreateIssue(ctx context.Context, issue *issuestorage.Issue, co CreateOptions) (*issuestorage.Issue, error) {
	if issue == nil {
		return nil, issuestorage.NewError("create", "", fmt.Errorf("%w: nil issue", issuestorage.ErrInvalid))
	}
	in := issue.Clone()
	if in.CreatedBy == "" {
		in.CreatedBy = w.opts.Actor
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = w.now().UTC()
	}

	var created *issuestorage.Issue
	var edges []*issuestorage.Dependency
	err := w.store.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		if co.ParentID != "" {
			parent, err := tx.Get(ctx, co.ParentID)
			if err != nil {
				return err
			}
			if parent.Status == issuestorage.StatusTombstone {
				return issuestorage.NewError("create child of", parent.ID, issuestorage.ErrTombstoned)
			}
		}
		if in.ID == "" {
			id, err := w.newID(ctx, tx, co.ParentID)
			if err != nil {
				return err
			}
			in.ID = id
		}
		if err := tx.Insert(ctx, in); err != nil {
			return err
		}

		edges = edges[:0]
		if co.ParentID != "" {
			parentEdge := &issuestorage.Dependency{
				IssueID:     in.ID,
				DependsOnID: co.ParentID,
				Type:        issuestorage.DepTypeParentChild,
				CreatedBy:   w.opts.Actor,
			}
			if _, err := w.graph.AddInTx(ctx, tx, parentEdge); err != nil {
				return err
			}
			edges = append(edges, parentEdge)
		}
		for _, d := range co.Deps {
			dep := d.Clone()
			dep.IssueID = in.ID
			if dep.CreatedBy == "" {
				dep.CreatedBy = w.opts.Actor
			}
			added, err := w.graph.AddInTx(ctx, tx, dep)
			if err != nil {
				return err
			}
			if added {
				edges = append(edges, dep)
			}
		}

		var err error
		created, err = tx.Get(ctx, in.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := w.record(ctx, created.ID, eventlog.EventCreated, nil, eventlog.Str(created.Title), nil); err != nil {
		return created, err
	}
	for _, dep := range edges {
		if err := w.record(ctx, dep.IssueID, eventlog.EventDependencyAdded, nil, eventlog.Str(edgeValue(dep)), nil); err != nil {
			return created, err
		}
	}
	return created, nil
}

// newID picks a fresh id, checking candidates against the transaction's
// view so concurrent creators cannot collide.
func (w *Workspace) newID(ctx context.Context, tx issuestorage.Transaction, parentID string) (string, error) {
	if parentID != "" {
		return idgen.NextChildID(ctx, parentID, tx.Exists, w.opts.MaxDepth)
	}
	all, err := tx.List(ctx, &issuestorage.ListFilter{IncludeTombstones: true})
	if err != nil {
		return "", err
	}
	return idgen.NewGenerator(w.opts.Prefix, tx.Exists).Generate(ctx, len(all))
}

// UpdateIssue applies u to issue id. Tombstoning goes through DeleteIssue.
func (w *Workspace) UpdateIssue(ctx context.Context, id string, u *issuestorage.IssueUpdate) (*issuestorage.Issue, error) {
	if u != nil && u.Status != nil && *u.Status == issuestorage.StatusTombstone {
		return nil, issuestorage.NewError("update", id,
			fmt.Errorf("%w: use delete to tombstone an issue", issuestorage.ErrInvalid))
	}
	before, after, err := w.update(ctx, id, u, nil)
	if err != nil {
		return nil, err
	}
	if err := w.recordUpdate(ctx, before, after, u); err != nil {
		return after, err
	}
	return after, nil
}

// update runs check against the current issue and then applies u, both
// under the lock.
func (w *Workspace) update(ctx context.Context, id string, u *issuestorage.IssueUpdate,
	check func(*issuestorage.Issue) error) (before, after *issuestorage.Issue, err error) {
	err = w.store.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		var err error
		before, err = tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if check != nil {
			if err := check(before); err != nil {
				return err
			}
		}
		after, err = tx.Update(ctx, id, u, w.now().UTC())
		return err
	})
	return before, after, err
}

// CloseIssue closes issue id with an optional reason.
func (w *Workspace) CloseIssue(ctx context.Context, id, reason string) (*issuestorage.Issue, error) {
	closed := issuestorage.StatusClosed
	u := &issuestorage.IssueUpdate{Status: &closed}
	if reason != "" {
		u.CloseReason = &reason
	}
	before, after, err := w.update(ctx, id, u, func(issue *issuestorage.Issue) error {
		switch issue.Status {
		case issuestorage.StatusTombstone:
			return issuestorage.NewError("close", id, issuestorage.ErrTombstoned)
		case issuestorage.StatusClosed:
			return issuestorage.NewError("close", id, issuestorage.ErrAlreadyClosed)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	var comment *string
	if reason != "" {
		comment = eventlog.Str(reason)
	}
	return after, w.record(ctx, id, eventlog.EventClosed, eventlog.Str(string(before.Status)), eventlog.Str(string(after.Status)), comment)
}

// ReopenIssue moves a closed issue back to open.
func (w *Workspace) ReopenIssue(ctx context.Context, id string) (*issuestorage.Issue, error) {
	open := issuestorage.StatusOpen
	_, after, err := w.update(ctx, id, &issuestorage.IssueUpdate{Status: &open}, func(issue *issuestorage.Issue) error {
		switch issue.Status {
		case issuestorage.StatusTombstone:
			return issuestorage.NewError("reopen", id, issuestorage.ErrTombstoned)
		case issuestorage.StatusClosed:
			return nil
		}
		return issuestorage.NewError("reopen", id, issuestorage.ErrNotClosed)
	})
	if err != nil {
		return nil, err
	}
	return after, w.record(ctx, id, eventlog.EventReopened, eventlog.Str(string(issuestorage.StatusClosed)), eventlog.Str(string(open)), nil)
}

// DeleteIssue tombstones issue id. The record and its edges are kept for
// audit; default queries stop returning it.
func (w *Workspace) DeleteIssue(ctx context.Context, id, reason string) (*issuestorage.Issue, error) {
	tomb := issuestorage.StatusTombstone
	actor := w.opts.Actor
	u := &issuestorage.IssueUpdate{Status: &tomb, DeletedBy: &actor}
	if reason != "" {
		u.DeleteReason = &reason
	}
	before, after, err := w.update(ctx, id, u, nil)
	if err != nil {
		return nil, err
	}
	var comment *string
	if reason != "" {
		comment = eventlog.Str(reason)
	}
	return after, w.record(ctx, id, eventlog.EventDeleted, eventlog.Str(string(before.Status)), eventlog.Str(string(tomb)), comment)
}

// AddDependency validates and stores dep. It reports false when the same
// edge already existed.
func (w *Workspace) AddDependency(ctx context.Context, dep *issuestorage.Dependency) (bool, error) {
	if dep == nil {
		return false, issuestorage.NewError("add dependency", "", fmt.Errorf("%w: nil dependency", issuestorage.ErrInvalid))
	}
	d := dep.Clone()
	if d.CreatedBy == "" {
		d.CreatedBy = w.opts.Actor
	}
	var added bool
	err := w.store.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		var err error
		added, err = w.graph.AddInTx(ctx, tx, d)
		return err
	})
	if err != nil || !added {
		return false, err
	}
	return true, w.record(ctx, d.IssueID, eventlog.EventDependencyAdded, nil, eventlog.Str(edgeValue(d)), nil)
}

// RemoveDependency deletes the edge between the two ids, reporting whether
// one existed.
func (w *Workspace) RemoveDependency(ctx context.Context, issueID, dependsOnID string) (bool, error) {
	var removed *issuestorage.Dependency
	err := w.store.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		deps, err := tx.Dependencies(ctx, issueID)
		if err != nil {
			return err
		}
		for _, d := range deps {
			if d.DependsOnID == dependsOnID {
				removed = d
			}
		}
		if removed == nil {
			return nil
		}
		_, err = tx.DeleteEdge(ctx, issueID, dependsOnID)
		return err
	})
	if err != nil || removed == nil {
		return false, err
	}
	return true, w.record(ctx, issueID, eventlog.EventDependencyRemoved, eventlog.Str(edgeValue(removed)), nil, nil)
}

// AddLabel adds label to issue id.
func (w *Workspace) AddLabel(ctx context.Context, id, label string) error {
	label = strings.TrimSpace(label)
	changed, err := w.mutateLabels(ctx, "add label", id, func(tx issuestorage.Transaction, has bool) (bool, error) {
		if has {
			return false, nil
		}
		return true, tx.AddLabel(ctx, id, label)
	}, label)
	if err != nil || !changed {
		return err
	}
	return w.record(ctx, id, eventlog.EventLabelAdded, nil, eventlog.Str(label), nil)
}

// RemoveLabel removes label from issue id.
func (w *Workspace) RemoveLabel(ctx context.Context, id, label string) error {
	label = strings.TrimSpace(label)
	changed, err := w.mutateLabels(ctx, "remove label", id, func(tx issuestorage.Transaction, has bool) (bool, error) {
		if !has {
			return false, nil
		}
		return true, tx.RemoveLabel(ctx, id, label)
	}, label)
	if err != nil || !changed {
		return err
	}
	return w.record(ctx, id, eventlog.EventLabelRemoved, eventlog.Str(label), nil, nil)
}

func (w *Workspace) mutateLabels(ctx context.Context, op, id string,
	fn func(tx issuestorage.Transaction, has bool) (bool, error), label string) (bool, error) {
	if label == "" {
		return false, issuestorage.NewError(op, id, fmt.Errorf("%w: label is empty", issuestorage.ErrInvalid))
	}
	var changed bool
	err := w.store.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		issue, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if issue.Status == issuestorage.StatusTombstone {
			return issuestorage.NewError(op, id, issuestorage.ErrTombstoned)
		}
		changed, err = fn(tx, issue.HasLabel(label))
		return err
	})
	return changed, err
}

// AddComment attaches a comment by the workspace actor to issue id.
func (w *Workspace) AddComment(ctx context.Context, id, text string) (*issuestorage.Comment, error) {
	var out *issuestorage.Comment
	err := w.store.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		issue, err := tx.Get(ctx, id)
		if err != nil {
			return err
		}
		if issue.Status == issuestorage.StatusTombstone {
			return issuestorage.NewError("comment", id, issuestorage.ErrTombstoned)
		}
		out, err = tx.AddComment(ctx, &issuestorage.Comment{
			IssueID:   id,
			Author:    w.opts.Actor,
			Text:      text,
			CreatedAt: w.now().UTC(),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, w.record(ctx, id, eventlog.EventCommented, nil, nil, eventlog.Str(text))
}

// Compact folds the store's pending log into durable form.
func (w *Workspace) Compact(ctx context.Context) error {
	if err := w.store.Compact(ctx); err != nil {
		return err
	}
	return w.record(ctx, "", eventlog.EventCompacted, nil, nil, nil)
}

func (w *Workspace) record(ctx context.Context, issueID string, typ eventlog.EventType, oldV, newV, comment *string) error {
	return w.recorder.Record(ctx, &eventlog.Event{
		IssueID:  issueID,
		Type:     typ,
		OldValue: oldV,
		NewValue: newV,
		Comment:  comment,
	})
}

// recordUpdate emits a status event when the status moved and an updated
// event when any other field was set.
func (w *Workspace) recordUpdate(ctx context.Context, before, after *issuestorage.Issue, u *issuestorage.IssueUpdate) error {
	if before.Status != after.Status {
		typ := eventlog.EventStatusChanged
		switch {
		case after.Status == issuestorage.StatusClosed:
			typ = eventlog.EventClosed
		case before.Status == issuestorage.StatusClosed:
			typ = eventlog.EventReopened
		}
		if err := w.record(ctx, after.ID, typ, eventlog.Str(string(before.Status)), eventlog.Str(string(after.Status)), nil); err != nil {
			return err
		}
	}
	rest := issuestorage.IssueUpdate{}
	if u != nil {
		rest = *u
	}
	rest.Status = nil
	rest.CloseReason = nil
	if rest.IsEmpty() {
		return nil
	}
	return w.record(ctx, after.ID, eventlog.EventUpdated, eventlog.Str(before.ContentHash), eventlog.Str(after.ContentHash), nil)
}

// edgeValue renders an edge for event values.
func edgeValue(d *issuestorage.Dependency) string {
	return fmt.Sprintf("%s %s", d.Type, d.DependsOnID)
}

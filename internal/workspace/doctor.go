package workspace

import (
	"context"
	"fmt"

	"beads-engine/internal/issuestorage"
	"beads-engine/internal/lockfile"
)

// IssueProblem is one invariant an issue violates.
type IssueProblem struct {
	ID      string `json:"id"`
	Problem string `json:"problem"`
}

// Report is the result of Doctor.
type Report struct {
	Corrupt    []issuestorage.CorruptRecord `json:"corrupt_records,omitempty"`
	Integrity  []string                     `json:"integrity,omitempty"`
	Cycles     [][]string                   `json:"cycles,omitempty"`
	Dangling   []*issuestorage.Dependency   `json:"dangling_edges,omitempty"`
	Issues     []IssueProblem               `json:"issue_problems,omitempty"`
	LockHolder *lockfile.Holder             `json:"lock_holder,omitempty"`
	Fixed      []string                     `json:"fixed,omitempty"`
}

// OK reports whether Doctor found nothing wrong.
func (r *Report) OK() bool {
	return len(r.Corrupt) == 0 && len(r.Integrity) == 0 && len(r.Cycles) == 0 &&
		len(r.Dangling) == 0 && len(r.Issues) == 0
}

// checker is implemented by stores with a native consistency check.
type checker interface {
	Check(ctx context.Context) ([]string, error)
}

// Doctor inspects the workspace. With fix set it compacts the store, which
// drops records that failed to load, and deletes edges whose endpoints are
// missing. Cycles and per-issue problems are reported but never changed.
func (w *Workspace) Doctor(ctx context.Context, fix bool) (*Report, error) {
	if err := w.store.Reload(ctx); err != nil {
		return nil, err
	}
	r := &Report{Corrupt: w.store.Report().Corrupt}

	if c, ok := w.store.(checker); ok {
		problems, err := c.Check(ctx)
		if err != nil {
			return nil, err
		}
		r.Integrity = problems
	}

	cycles, err := w.graph.DetectCycles(ctx)
	if err != nil {
		return nil, err
	}
	r.Cycles = cycles

	issues, err := w.store.List(ctx, &issuestorage.ListFilter{IncludeTombstones: true})
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(issues))
	for _, issue := range issues {
		known[issue.ID] = true
		if err := issue.Validate(); err != nil {
			r.Issues = append(r.Issues, IssueProblem{ID: issue.ID, Problem: err.Error()})
		}
		if issue.ContentHash != issue.ComputeContentHash() {
			r.Issues = append(r.Issues, IssueProblem{ID: issue.ID, Problem: "content hash does not match fields"})
		}
	}

	edges, err := w.store.Edges(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range edges {
		if !known[e.IssueID] || !known[e.DependsOnID] {
			r.Dangling = append(r.Dangling, e)
		}
	}

	holder, err := lockfile.ReadHolder(w.lock.Path())
	if err != nil {
		w.logger.Warn("reading lock holder", "error", err)
	}
	r.LockHolder = holder

	if !fix {
		return r, nil
	}

	if len(r.Dangling) > 0 {
		err := w.store.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
			for _, e := range r.Dangling {
				if _, err := tx.DeleteEdge(ctx, e.IssueID, e.DependsOnID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return r, err
		}
		r.Fixed = append(r.Fixed, fmt.Sprintf("removed %d dangling edge(s)", len(r.Dangling)))
	}
	if err := w.Compact(ctx); err != nil {
		return r, err
	}
	if n := len(r.Corrupt); n > 0 {
		r.Fixed = append(r.Fixed, fmt.Sprintf("compacted away %d unreadable record(s)", n))
	} else {
		r.Fixed = append(r.Fixed, "compacted store")
	}
	return r, nil
}

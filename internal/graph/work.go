package graph

import (
	"context"
	"sort"

	"beads-engine/internal/issuestorage"
)

// WorkFilter narrows ReadyIssues and BlockedIssues.
type WorkFilter struct {
	IncludeDeferred bool
	ParentID        string // only children of this issue
	Transitive      bool   // with ParentID, include all descendants
	Limit           int    // 0 means no limit
}

// BlockedIssue is an issue together with the ids holding it up.
type BlockedIssue struct {
	Issue     *issuestorage.Issue `json:"issue"`
	BlockedBy []string            `json:"blocked_by"`
}

// view is one consistent read of every issue and edge.
type view struct {
	issues []*issuestorage.Issue
	byID   map[string]*issuestorage.Issue
	edges  []*issuestorage.Dependency
}

func (g *Graph) load(ctx context.Context) (*view, error) {
	issues, err := g.store.List(ctx, &issuestorage.ListFilter{IncludeTombstones: true})
	if err != nil {
		return nil, err
	}
	edges, err := g.store.Edges(ctx)
	if err != nil {
		return nil, err
	}
	v := &view{issues: issues, edges: edges, byID: make(map[string]*issuestorage.Issue, len(issues))}
	for _, issue := range issues {
		v.byID[issue.ID] = issue
	}
	return v, nil
}

// blockers returns the sorted ids of unresolved blocks targets of id. A
// target missing from the store counts as unresolved.
func (v *view) blockers(id string) []string {
	seen := map[string]bool{}
	var out []string
	for _, e := range v.edges {
		if e.IssueID != id || e.Type != issuestorage.DepTypeBlocks || seen[e.DependsOnID] {
			continue
		}
		target := v.byID[e.DependsOnID]
		if target != nil && target.Status.IsResolved() {
			continue
		}
		seen[e.DependsOnID] = true
		out = append(out, e.DependsOnID)
	}
	sort.Strings(out)
	return out
}

// candidates returns the active issues the filter admits, in work order.
func (g *Graph) candidates(v *view, f WorkFilter) ([]*issuestorage.Issue, error) {
	var scope map[string]bool
	if f.ParentID != "" {
		if _, ok := v.byID[f.ParentID]; !ok {
			return nil, issuestorage.NewError("filter by parent", f.ParentID, issuestorage.ErrNotFound)
		}
		scope = map[string]bool{}
		for _, id := range descendants(v.edges, f.ParentID, f.Transitive) {
			scope[id] = true
		}
	}
	now := g.now()
	var out []*issuestorage.Issue
	for _, issue := range v.issues {
		if !issue.Status.IsActive() {
			continue
		}
		if !f.IncludeDeferred && issue.IsDeferred(now) {
			continue
		}
		if scope != nil && !scope[issue.ID] {
			continue
		}
		out = append(out, issue)
	}
	sortWork(out)
	return out, nil
}

// sortWork orders by priority, then creation time, then id.
func sortWork(issues []*issuestorage.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		a, b := issues[i], issues[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

// ReadyIssues returns active issues with no unresolved blocks dependency.
func (g *Graph) ReadyIssues(ctx context.Context, f WorkFilter) ([]*issuestorage.Issue, error) {
	v, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := g.candidates(v, f)
	if err != nil {
		return nil, err
	}
	ready := []*issuestorage.Issue{}
	for _, issue := range candidates {
		if len(v.blockers(issue.ID)) > 0 {
			continue
		}
		ready = append(ready, issue)
		if f.Limit > 0 && len(ready) == f.Limit {
			break
		}
	}
	return ready, nil
}

// BlockedIssues returns active issues with at least one unresolved blocks
// dependency. With IncludeDeferred set, ReadyIssues and BlockedIssues
// partition the active issues.
func (g *Graph) BlockedIssues(ctx context.Context, f WorkFilter) ([]*BlockedIssue, error) {
	v, err := g.load(ctx)
	if err != nil {
		return nil, err
	}
	candidates, err := g.candidates(v, f)
	if err != nil {
		return nil, err
	}
	blocked := []*BlockedIssue{}
	for _, issue := range candidates {
		ids := v.blockers(issue.ID)
		if len(ids) == 0 {
			continue
		}
		blocked = append(blocked, &BlockedIssue{Issue: issue, BlockedBy: ids})
		if f.Limit > 0 && len(blocked) == f.Limit {
			break
		}
	}
	return blocked, nil
}

// Descendants returns the children of id through parent-child edges, or
// every descendant when transitive is set. Ids come back sorted.
func (g *Graph) Descendants(ctx context.Context, id string, transitive bool) ([]string, error) {
	ok, err := g.store.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, issuestorage.NewError("descendants", id, issuestorage.ErrNotFound)
	}
	edges, err := g.store.Edges(ctx)
	if err != nil {
		return nil, err
	}
	return descendants(edges, id, transitive), nil
}

// descendants walks parent-child edges breadth first. A child depends on
// its parent, so children of p are the IssueIDs of edges pointing at p.
func descendants(edges []*issuestorage.Dependency, root string, transitive bool) []string {
	children := make(map[string][]string)
	for _, e := range edges {
		if e.Type == issuestorage.DepTypeParentChild {
			children[e.DependsOnID] = append(children[e.DependsOnID], e.IssueID)
		}
	}
	visited := map[string]bool{root: true}
	out := []string{}
	queue := []string{root}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range children[id] {
			if visited[child] {
				continue
			}
			visited[child] = true
			out = append(out, child)
			if transitive {
				queue = append(queue, child)
			}
		}
	}
	sort.Strings(out)
	return out
}

package workspace

import (
	"context"

	"beads-engine/internal/graph"
	"beads-engine/internal/issuestorage"
	"beads-engine/internal/lockfile"
)

// Stats summarises the workspace.
type Stats struct {
	Total      int                            `json:"total"`
	Active     int                            `json:"active"`
	Ready      int                            `json:"ready"`
	Blocked    int                            `json:"blocked"`
	Deferred   int                            `json:"deferred"`
	Closed     int                            `json:"closed"`
	Tombstones int                            `json:"tombstones"`
	ByStatus   map[issuestorage.Status]int    `json:"by_status"`
	ByType     map[issuestorage.IssueType]int `json:"by_type"`
	ByPriority map[issuestorage.Priority]int  `json:"by_priority"`
	Edges      int                            `json:"edges"`
	Lock       lockfile.MetricsSnapshot       `json:"lock"`
}

// Stats folds every issue and edge into counts. Total excludes tombstones.
func (w *Workspace) Stats(ctx context.Context) (*Stats, error) {
	issues, err := w.store.List(ctx, &issuestorage.ListFilter{IncludeTombstones: true})
	if err != nil {
		return nil, err
	}
	edges, err := w.store.Edges(ctx)
	if err != nil {
		return nil, err
	}
	s := &Stats{
		ByStatus:   map[issuestorage.Status]int{},
		ByType:     map[issuestorage.IssueType]int{},
		ByPriority: map[issuestorage.Priority]int{},
		Edges:      len(edges),
		Lock:       w.lock.MetricsSnapshot(),
	}
	now := w.now()
	for _, issue := range issues {
		if issue.Status == issuestorage.StatusTombstone {
			s.Tombstones++
			continue
		}
		s.Total++
		s.ByStatus[issue.Status]++
		s.ByType[issue.Type]++
		s.ByPriority[issue.Priority]++
		if issue.Status == issuestorage.StatusClosed {
			s.Closed++
		}
		if issue.Status.IsActive() {
			s.Active++
			if issue.IsDeferred(now) {
				s.Deferred++
			}
		}
	}

	all := graph.WorkFilter{IncludeDeferred: true}
	ready, err := w.graph.ReadyIssues(ctx, all)
	if err != nil {
		return nil, err
	}
	blocked, err := w.graph.BlockedIssues(ctx, all)
	if err != nil {
		return nil, err
	}
	s.Ready = len(ready)
	s.Blocked = len(blocked)
	return s, nil
}

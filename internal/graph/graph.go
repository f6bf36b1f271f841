// Package graph maintains the dependency edges between issues. It owns the
// rules the raw store does not check: no self edges, both endpoints
// present, and an acyclic blocks subgraph. It also answers the work
// queries built on that subgraph (ready, blocked, cycles).
package graph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"beads-engine/internal/issuestorage"
)

// Graph validates and queries dependency edges held in an IssueStore.
type Graph struct {
	store issuestorage.IssueStore
	now   func() time.Time
}

// Option configures a Graph.
type Option func(*Graph)

// WithClock replaces time.Now, used for edge timestamps and deferral.
func WithClock(now func() time.Time) Option {
	return func(g *Graph) {
		if now != nil {
			g.now = now
		}
	}
}

// New returns a Graph over store.
func New(store issuestorage.IssueStore, opts ...Option) *Graph {
	g := &Graph{store: store, now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CycleError reports the path a rejected blocks edge would have closed.
// Path starts and ends at the same id.
type CycleError struct {
	Path []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%v: %s", issuestorage.ErrCycle, strings.Join(e.Path, " -> "))
}

func (e *CycleError) Unwrap() error { return issuestorage.ErrCycle }

// AddDependency validates dep and stores it in its own transaction.
func (g *Graph) AddDependency(ctx context.Context, dep *issuestorage.Dependency) error {
	return g.store.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		_, err := g.AddInTx(ctx, tx, dep)
		return err
	})
}

// AddInTx validates dep against the state visible through tx and stores
// it. It reports false when an identical edge already exists. On any error
// nothing is written.
func (g *Graph) AddInTx(ctx context.Context, tx issuestorage.Transaction, dep *issuestorage.Dependency) (bool, error) {
	const op = "add dependency"
	if dep == nil || dep.IssueID == "" || dep.DependsOnID == "" {
		return false, issuestorage.NewError(op, "", fmt.Errorf("%w: both issue ids are required", issuestorage.ErrInvalid))
	}
	if dep.IssueID == dep.DependsOnID {
		return false, issuestorage.NewError(op, dep.IssueID, issuestorage.ErrSelfDependency)
	}
	if dep.Type == "" {
		dep.Type = issuestorage.DepTypeBlocks
	}

	from, err := tx.Get(ctx, dep.IssueID)
	if err != nil {
		return false, err
	}
	if from.Status == issuestorage.StatusTombstone {
		return false, issuestorage.NewError(op, dep.IssueID, issuestorage.ErrTombstoned)
	}
	if _, err := tx.Get(ctx, dep.DependsOnID); err != nil {
		return false, err
	}

	existing, err := tx.Dependencies(ctx, dep.IssueID)
	if err != nil {
		return false, err
	}
	for _, e := range existing {
		if e.DependsOnID != dep.DependsOnID {
			continue
		}
		if e.Type == dep.Type {
			return false, nil
		}
		return false, issuestorage.NewError(op, dep.IssueID,
			fmt.Errorf("%w: %s already %s %s", issuestorage.ErrDependencyExists, dep.IssueID, e.Type, dep.DependsOnID))
	}

	if dep.Type == issuestorage.DepTypeBlocks {
		edges, err := tx.Edges(ctx)
		if err != nil {
			return false, err
		}
		if path := findPath(blocksAdjacency(edges), dep.DependsOnID, dep.IssueID); path != nil {
			path = append([]string{dep.IssueID}, path...)
			return false, issuestorage.NewError(op, dep.IssueID, &CycleError{Path: path})
		}
	}

	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = g.now().UTC()
	}
	if err := tx.PutEdge(ctx, dep); err != nil {
		return false, err
	}
	return true, nil
}

// RemoveDependency deletes the edge between the two ids, reporting whether
// one existed. Removing a missing edge is not an error.
func (g *Graph) RemoveDependency(ctx context.Context, issueID, dependsOnID string) (bool, error) {
	var removed bool
	err := g.store.RunInTransaction(ctx, func(tx issuestorage.Transaction) error {
		var err error
		removed, err = tx.DeleteEdge(ctx, issueID, dependsOnID)
		return err
	})
	return removed, err
}

// Dependencies returns the edges leaving id, in insertion order.
func (g *Graph) Dependencies(ctx context.Context, id string) ([]*issuestorage.Dependency, error) {
	return g.store.Dependencies(ctx, id)
}

// Dependents returns the edges arriving at id, in insertion order.
func (g *Graph) Dependents(ctx context.Context, id string) ([]*issuestorage.Dependency, error) {
	return g.store.Dependents(ctx, id)
}

// blocksAdjacency maps each issue to the issues it is blocked by, in edge
// insertion order.
func blocksAdjacency(edges []*issuestorage.Dependency) map[string][]string {
	adj := make(map[string][]string)
	for _, e := range edges {
		if e.Type == issuestorage.DepTypeBlocks {
			adj[e.IssueID] = append(adj[e.IssueID], e.DependsOnID)
		}
	}
	return adj
}

// findPath returns a path from start to target following adj, or nil.
func findPath(adj map[string][]string, start, target string) []string {
	visited := map[string]bool{}
	var path []string
	var visit func(id string) bool
	visit = func(id string) bool {
		path = append(path, id)
		if id == target {
			return true
		}
		visited[id] = true
		for _, next := range adj[id] {
			if !visited[next] && visit(next) {
				return true
			}
		}
		path = path[:len(path)-1]
		return false
	}
	if visit(start) {
		return path
	}
	return nil
}

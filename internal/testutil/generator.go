// Package testutil builds issue graphs in a workspace for tests.
package testutil

import (
	"context"
	"fmt"
	"math/rand"

	"beads-engine/internal/issuestorage"
	"beads-engine/internal/workspace"
)

// IssueGenerator creates test issues with various relationship patterns.
type IssueGenerator struct {
	ws  *workspace.Workspace
	rnd *rand.Rand
	ids []string
}

// NewIssueGenerator creates a generator over ws. The same seed yields the
// same graph shape on every backend.
func NewIssueGenerator(ws *workspace.Workspace, seed int64) *IssueGenerator {
	return &IssueGenerator{
		ws:  ws,
		rnd: rand.New(rand.NewSource(seed)),
	}
}

// IDs returns all issue IDs created by this generator, in creation order.
func (g *IssueGenerator) IDs() []string {
	return g.ids
}

// Cleanup tombstones all issues created by this generator.
func (g *IssueGenerator) Cleanup(ctx context.Context) error {
	for i := len(g.ids) - 1; i >= 0; i-- {
		if _, err := g.ws.DeleteIssue(ctx, g.ids[i], "cleanup"); err != nil {
			return fmt.Errorf("cleanup issue %s: %w", g.ids[i], err)
		}
	}
	g.ids = g.ids[:0]
	return nil
}

func (g *IssueGenerator) create(ctx context.Context, title, parent string) (string, error) {
	issue, err := g.ws.CreateIssue(ctx, &issuestorage.Issue{
		Title:    title,
		Status:   issuestorage.StatusOpen,
		Priority: issuestorage.Priority(g.rnd.Intn(5)),
		Type:     issuestorage.TypeTask,
	}, workspace.CreateOptions{ParentID: parent})
	if err != nil {
		return "", err
	}
	g.ids = append(g.ids, issue.ID)
	return issue.ID, nil
}

// GenerateTree creates a hierarchy of child issues with the specified depth
// and breadth under one root, which is returned.
func (g *IssueGenerator) GenerateTree(ctx context.Context, depth, breadth int) (string, error) {
	root, err := g.create(ctx, "Tree root", "")
	if err != nil {
		return "", fmt.Errorf("create tree root: %w", err)
	}
	return root, g.generateTreeRecursive(ctx, root, depth, breadth)
}

func (g *IssueGenerator) generateTreeRecursive(ctx context.Context, parent string, depth, breadth int) error {
	if depth == 0 {
		return nil
	}
	for i := 0; i < breadth; i++ {
		id, err := g.create(ctx, fmt.Sprintf("Level %d Issue %d", depth, i), parent)
		if err != nil {
			return fmt.Errorf("create issue at depth %d: %w", depth, err)
		}
		if err := g.generateTreeRecursive(ctx, id, depth-1, breadth); err != nil {
			return err
		}
	}
	return nil
}

// GenerateDependencyChain creates a linear chain where each issue blocks
// the next. It returns the IDs from first (no dependencies) to last.
func (g *IssueGenerator) GenerateDependencyChain(ctx context.Context, length int) ([]string, error) {
	if length <= 0 {
		return nil, nil
	}

	ids := make([]string, length)
	for i := 0; i < length; i++ {
		id, err := g.create(ctx, fmt.Sprintf("Chain %d", i), "")
		if err != nil {
			return nil, fmt.Errorf("create chain issue %d: %w", i, err)
		}
		ids[i] = id

		if i > 0 {
			dep := &issuestorage.Dependency{IssueID: id, DependsOnID: ids[i-1], Type: issuestorage.DepTypeBlocks}
			if _, err := g.ws.AddDependency(ctx, dep); err != nil {
				return nil, fmt.Errorf("add dependency from %s to %s: %w", id, ids[i-1], err)
			}
		}
	}
	return ids, nil
}

// GenerateDependencyDAG creates nodes issues and up to edges blocks
// dependencies. Edges only run from higher-indexed to lower-indexed
// nodes, so the graph has no cycles. It returns the node IDs by index.
func (g *IssueGenerator) GenerateDependencyDAG(ctx context.Context, nodes, edges int) ([]string, error) {
	if nodes <= 0 {
		return nil, nil
	}

	ids := make([]string, nodes)
	for i := 0; i < nodes; i++ {
		id, err := g.create(ctx, fmt.Sprintf("Node %d", i), "")
		if err != nil {
			return nil, fmt.Errorf("create DAG node %d: %w", i, err)
		}
		ids[i] = id
	}

	for i := 0; i < edges; i++ {
		a := g.rnd.Intn(nodes)
		b := g.rnd.Intn(nodes)
		if a >= b {
			continue
		}
		dep := &issuestorage.Dependency{IssueID: ids[b], DependsOnID: ids[a], Type: issuestorage.DepTypeBlocks}
		if _, err := g.ws.AddDependency(ctx, dep); err != nil {
			return nil, fmt.Errorf("add dependency from %s to %s: %w", ids[b], ids[a], err)
		}
	}
	return ids, nil
}

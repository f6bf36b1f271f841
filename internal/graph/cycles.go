package graph

import (
	"context"
	"sort"

	"beads-engine/internal/issuestorage"
)

// DetectCycles finds every strongly connected component of the blocks
// subgraph that contains a cycle and returns one concrete cycle per
// component. Each path starts and ends at the component's smallest id;
// paths are ordered by that id.
//
// AddDependency keeps the subgraph acyclic, so a non-empty result means
// the files were edited or merged outside the engine.
func (g *Graph) DetectCycles(ctx context.Context) ([][]string, error) {
	edges, err := g.store.Edges(ctx)
	if err != nil {
		return nil, err
	}
	return findCycles(edges), nil
}

func findCycles(edges []*issuestorage.Dependency) [][]string {
	adj := blocksAdjacency(edges)
	nodes := make([]string, 0, len(adj))
	seen := map[string]bool{}
	for from, tos := range adj {
		if !seen[from] {
			seen[from] = true
			nodes = append(nodes, from)
		}
		for _, to := range tos {
			if !seen[to] {
				seen[to] = true
				nodes = append(nodes, to)
			}
		}
	}
	sort.Strings(nodes)
	for id := range adj {
		next := append([]string(nil), adj[id]...)
		sort.Strings(next)
		adj[id] = next
	}

	cycles := [][]string{}
	for _, comp := range tarjan(nodes, adj) {
		if len(comp) == 1 && !contains(adj[comp[0]], comp[0]) {
			continue
		}
		members := make(map[string]bool, len(comp))
		for _, id := range comp {
			members[id] = true
		}
		sort.Strings(comp)
		cycles = append(cycles, shortestCycle(adj, members, comp[0]))
	}
	sort.Slice(cycles, func(i, j int) bool { return cycles[i][0] < cycles[j][0] })
	return cycles
}

// tarjan returns the strongly connected components of the graph.
func tarjan(nodes []string, adj map[string][]string) [][]string {
	var (
		index   = 0
		indices = map[string]int{}
		lowlink = map[string]int{}
		onStack = map[string]bool{}
		stack   []string
		comps   [][]string
	)
	var connect func(v string)
	connect = func(v string) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range adj[v] {
			if _, visited := indices[w]; !visited {
				connect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var comp []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp = append(comp, w)
				if w == v {
					break
				}
			}
			comps = append(comps, comp)
		}
	}
	for _, v := range nodes {
		if _, visited := indices[v]; !visited {
			connect(v)
		}
	}
	return comps
}

// shortestCycle finds the shortest path from start back to itself inside
// one component.
func shortestCycle(adj map[string][]string, members map[string]bool, start string) []string {
	parent := map[string]string{}
	queue := []string{start}
	visited := map[string]bool{}
	for len(queue) > 0 {
		v := queue[0]
		queue = queue[1:]
		for _, w := range adj[v] {
			if !members[w] {
				continue
			}
			if w == start {
				path := []string{start}
				for at := v; at != start; at = parent[at] {
					path = append(path, at)
				}
				// path is start, v, ..., reversed; fix the order.
				for i, j := 1, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return append(path, start)
			}
			if !visited[w] {
				visited[w] = true
				parent[w] = v
				queue = append(queue, w)
			}
		}
	}
	return []string{start, start}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

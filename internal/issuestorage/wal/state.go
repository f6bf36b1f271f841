package wal

import (
	"sort"

	"beads-engine/internal/issuestorage"
)

// state is the in-memory index rebuilt from disk. Once published through
// Store.state it is never modified: transactions and refreshes work on a
// shallow clone and swap it in, and apply replaces entries rather than
// editing shared values. Readers can therefore use a state without locks.
type state struct {
	issues        map[string]*issuestorage.Issue // Labels always nil
	labels        map[string][]string            // sorted
	comments      map[string][]*issuestorage.Comment
	edges         []*issuestorage.Dependency // insertion order
	nextCommentID int64
}

func newState() *state {
	return &state{
		issues:        make(map[string]*issuestorage.Issue),
		labels:        make(map[string][]string),
		comments:      make(map[string][]*issuestorage.Comment),
		nextCommentID: 1,
	}
}

// clone copies the containers but shares their values.
func (st *state) clone() *state {
	c := &state{
		issues:        make(map[string]*issuestorage.Issue, len(st.issues)),
		labels:        make(map[string][]string, len(st.labels)),
		comments:      make(map[string][]*issuestorage.Comment, len(st.comments)),
		edges:         st.edges[:len(st.edges):len(st.edges)],
		nextCommentID: st.nextCommentID,
	}
	for k, v := range st.issues {
		c.issues[k] = v
	}
	for k, v := range st.labels {
		c.labels[k] = v
	}
	for k, v := range st.comments {
		c.comments[k] = v
	}
	return c
}

func (st *state) exists(id string) bool {
	_, ok := st.issues[id]
	return ok
}

// get returns a caller-owned copy of an issue with labels filled in.
func (st *state) get(id string) (*issuestorage.Issue, bool) {
	issue, ok := st.issues[id]
	if !ok {
		return nil, false
	}
	c := issue.Clone()
	if l := st.labels[id]; len(l) > 0 {
		c.Labels = append([]string(nil), l...)
	}
	return c, true
}

// matching returns copies of the issues that satisfy f's structured
// criteria, in no particular order.
func (st *state) matching(f *issuestorage.ListFilter) []*issuestorage.Issue {
	out := make([]*issuestorage.Issue, 0, len(st.issues))
	for id := range st.issues {
		issue, _ := st.get(id)
		if f.Matches(issue) {
			out = append(out, issue)
		}
	}
	return out
}

func (st *state) list(f *issuestorage.ListFilter) []*issuestorage.Issue {
	return issuestorage.FinishList(st.matching(f), f)
}

func (st *state) search(query string, f *issuestorage.ListFilter) []*issuestorage.Issue {
	return issuestorage.RankSearch(st.matching(f), query, f)
}

func (st *state) labelsOf(id string) []string {
	return append([]string{}, st.labels[id]...)
}

func (st *state) commentsOf(id string) []*issuestorage.Comment {
	src := st.comments[id]
	out := make([]*issuestorage.Comment, len(src))
	for i, c := range src {
		cc := *c
		out[i] = &cc
	}
	return out
}

// edgesWhere copies the edges accepted by keep, preserving order.
func (st *state) edgesWhere(keep func(*issuestorage.Dependency) bool) []*issuestorage.Dependency {
	out := []*issuestorage.Dependency{}
	for _, d := range st.edges {
		if keep == nil || keep(d) {
			out = append(out, d.Clone())
		}
	}
	return out
}

func (st *state) edgeIndex(issueID, dependsOnID string) int {
	for i, d := range st.edges {
		if d.IssueID == issueID && d.DependsOnID == dependsOnID {
			return i
		}
	}
	return -1
}

// --- mutations; each replaces what it touches ---

func (st *state) putIssue(issue *issuestorage.Issue) {
	c := issue.Clone()
	c.Labels = nil
	st.issues[c.ID] = c
}

func (st *state) addLabel(id, label string) {
	cur := st.labels[id]
	i := sort.SearchStrings(cur, label)
	if i < len(cur) && cur[i] == label {
		return
	}
	next := make([]string, 0, len(cur)+1)
	next = append(next, cur[:i]...)
	next = append(next, label)
	next = append(next, cur[i:]...)
	st.labels[id] = next
}

func (st *state) removeLabel(id, label string) {
	cur := st.labels[id]
	i := sort.SearchStrings(cur, label)
	if i >= len(cur) || cur[i] != label {
		return
	}
	next := make([]string, 0, len(cur)-1)
	next = append(next, cur[:i]...)
	next = append(next, cur[i+1:]...)
	if len(next) == 0 {
		delete(st.labels, id)
		return
	}
	st.labels[id] = next
}

func (st *state) addComment(c *issuestorage.Comment) {
	for _, existing := range st.comments[c.IssueID] {
		if existing.ID == c.ID {
			return
		}
	}
	cc := *c
	cur := st.comments[c.IssueID]
	st.comments[c.IssueID] = append(cur[:len(cur):len(cur)], &cc)
	if c.ID >= st.nextCommentID {
		st.nextCommentID = c.ID + 1
	}
}

func (st *state) putEdge(dep *issuestorage.Dependency) {
	d := dep.Clone()
	if i := st.edgeIndex(d.IssueID, d.DependsOnID); i >= 0 {
		next := append([]*issuestorage.Dependency(nil), st.edges...)
		next[i] = d
		st.edges = next
		return
	}
	st.edges = append(st.edges[:len(st.edges):len(st.edges)], d)
}

func (st *state) deleteEdge(issueID, dependsOnID string) bool {
	i := st.edgeIndex(issueID, dependsOnID)
	if i < 0 {
		return false
	}
	next := make([]*issuestorage.Dependency, 0, len(st.edges)-1)
	next = append(next, st.edges[:i]...)
	next = append(next, st.edges[i+1:]...)
	st.edges = next
	return true
}

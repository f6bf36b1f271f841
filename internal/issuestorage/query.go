package issuestorage

import (
	"sort"
	"strings"
)

// Matches reports whether issue satisfies the structured criteria of f:
// status, priority, type, assignee, labels and tombstone visibility. Text
// matching is left to FinishList so backends that filter structured fields
// natively still share one text rule.
func (f *ListFilter) Matches(issue *Issue) bool {
	if f == nil {
		return issue.Status != StatusTombstone
	}
	if issue.Status == StatusTombstone && !f.ShowsTombstones() {
		return false
	}
	if f.Status != nil && issue.Status != *f.Status {
		return false
	}
	if len(f.Statuses) > 0 && !containsStatus(f.Statuses, issue.Status) {
		return false
	}
	if f.Priority != nil && issue.Priority != *f.Priority {
		return false
	}
	if f.Type != nil && issue.Type != *f.Type {
		return false
	}
	if f.Assignee != nil && issue.Assignee != *f.Assignee {
		return false
	}
	for _, l := range f.Labels {
		if !issue.HasLabel(l) {
			return false
		}
	}
	return true
}

// ShowsTombstones reports whether tombstoned issues are visible under f:
// either IncludeTombstones is set or the status criteria name tombstone.
func (f *ListFilter) ShowsTombstones() bool {
	if f == nil {
		return false
	}
	if f.IncludeTombstones {
		return true
	}
	if f.Status != nil && *f.Status == StatusTombstone {
		return true
	}
	return containsStatus(f.Statuses, StatusTombstone)
}

func containsStatus(ss []Status, s Status) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// MatchesText reports whether text occurs, case-insensitively, in the
// issue's id, title, description or notes. Empty text matches everything.
func MatchesText(issue *Issue, text string) bool {
	if text == "" {
		return true
	}
	t := strings.ToLower(text)
	return strings.Contains(strings.ToLower(issue.ID), t) ||
		strings.Contains(strings.ToLower(issue.Title), t) ||
		strings.Contains(strings.ToLower(issue.Description), t) ||
		strings.Contains(strings.ToLower(issue.Notes), t)
}

// FinishList applies the text criterion, ordering and pagination of f to
// issues that already satisfy f.Matches.
func FinishList(issues []*Issue, f *ListFilter) []*Issue {
	var field SortField
	var desc bool
	text := ""
	offset, limit := 0, 0
	if f != nil {
		field, desc, text = f.Sort, f.Descending, f.Text
		offset, limit = f.Offset, f.Limit
	}

	out := issues[:0:0]
	for _, issue := range issues {
		if MatchesText(issue, text) {
			out = append(out, issue)
		}
	}
	SortIssues(out, field, desc)
	return Paginate(out, offset, limit)
}

// SortIssues orders issues in place. Priority order breaks ties by
// creation time; every order breaks final ties by id. Descending reverses
// the whole ordering.
func SortIssues(issues []*Issue, field SortField, desc bool) {
	less := func(a, b *Issue) bool {
		switch field {
		case SortCreated:
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		case SortUpdated:
			if !a.UpdatedAt.Equal(b.UpdatedAt) {
				return a.UpdatedAt.Before(b.UpdatedAt)
			}
		default:
			if a.Priority != b.Priority {
				return a.Priority < b.Priority
			}
			if !a.CreatedAt.Equal(b.CreatedAt) {
				return a.CreatedAt.Before(b.CreatedAt)
			}
		}
		return a.ID < b.ID
	}
	sort.SliceStable(issues, func(i, j int) bool {
		if desc {
			return less(issues[j], issues[i])
		}
		return less(issues[i], issues[j])
	})
}

// Paginate returns the window [offset, offset+limit) of issues. A limit of
// zero means no limit.
func Paginate(issues []*Issue, offset, limit int) []*Issue {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(issues) {
		return []*Issue{}
	}
	issues = issues[offset:]
	if limit > 0 && limit < len(issues) {
		issues = issues[:limit]
	}
	return issues
}

// SearchTerms splits a query into lowercased whitespace-separated terms.
func SearchTerms(query string) []string {
	return strings.Fields(strings.ToLower(query))
}

// Relevance weights per matched field, summed over terms.
const (
	scoreExactID = 16
	scoreID      = 8
	scoreTitle   = 4
	scoreDesc    = 2
	scoreNotes   = 1
)

// Relevance scores issue against terms. A zero score means at least one
// term matched nowhere and the issue is not a hit.
func Relevance(issue *Issue, terms []string) int {
	id := strings.ToLower(issue.ID)
	title := strings.ToLower(issue.Title)
	desc := strings.ToLower(issue.Description)
	notes := strings.ToLower(issue.Notes)

	total := 0
	for _, t := range terms {
		s := 0
		if id == t {
			s += scoreExactID
		} else if strings.Contains(id, t) {
			s += scoreID
		}
		if strings.Contains(title, t) {
			s += scoreTitle
		}
		if strings.Contains(desc, t) {
			s += scoreDesc
		}
		if strings.Contains(notes, t) {
			s += scoreNotes
		}
		if s == 0 {
			return 0
		}
		total += s
	}
	return total
}

// RankSearch keeps the issues matching query and orders them by relevance,
// then most recently updated, then id, before applying f's pagination.
// f's text criterion is honoured; its sort field is not.
func RankSearch(issues []*Issue, query string, f *ListFilter) []*Issue {
	terms := SearchTerms(query)
	if len(terms) == 0 {
		return []*Issue{}
	}
	text := ""
	offset, limit := 0, 0
	if f != nil {
		text, offset, limit = f.Text, f.Offset, f.Limit
	}

	type hit struct {
		issue *Issue
		score int
	}
	var hits []hit
	for _, issue := range issues {
		if !MatchesText(issue, text) {
			continue
		}
		if s := Relevance(issue, terms); s > 0 {
			hits = append(hits, hit{issue, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if !a.issue.UpdatedAt.Equal(b.issue.UpdatedAt) {
			return a.issue.UpdatedAt.After(b.issue.UpdatedAt)
		}
		return a.issue.ID < b.issue.ID
	})

	out := make([]*Issue, len(hits))
	for i, h := range hits {
		out[i] = h.issue
	}
	return Paginate(out, offset, limit)
}

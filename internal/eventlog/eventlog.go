// Package eventlog records an append-only audit trail of issue mutations.
package eventlog

import (
	"context"
	"sort"
	"time"
)

// EventType names what happened.
type EventType string

const (
	EventCreated           EventType = "created"
	EventUpdated           EventType = "updated"
	EventStatusChanged     EventType = "status_changed"
	EventClosed            EventType = "closed"
	EventReopened          EventType = "reopened"
	EventDeleted           EventType = "deleted"
	EventDependencyAdded   EventType = "dependency_added"
	EventDependencyRemoved EventType = "dependency_removed"
	EventLabelAdded        EventType = "label_added"
	EventLabelRemoved      EventType = "label_removed"
	EventCommented         EventType = "commented"
	EventCompacted         EventType = "compacted"
)

// Event is one audit record. IDs increase monotonically per workspace.
type Event struct {
	ID        int64     `json:"id"`
	IssueID   string    `json:"issue_id,omitempty"`
	Type      EventType `json:"event_type"`
	Actor     string    `json:"actor"`
	OldValue  *string   `json:"old_value,omitempty"`
	NewValue  *string   `json:"new_value,omitempty"`
	Comment   *string   `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Query selects events. Zero fields match everything.
type Query struct {
	IssueID string
	Types   []EventType
	Since   time.Time // inclusive
	Limit   int
}

// Matches reports whether e satisfies the filter fields of q.
func (q Query) Matches(e *Event) bool {
	if q.IssueID != "" && e.IssueID != q.IssueID {
		return false
	}
	if !q.Since.IsZero() && e.CreatedAt.Before(q.Since) {
		return false
	}
	if len(q.Types) == 0 {
		return true
	}
	for _, t := range q.Types {
		if e.Type == t {
			return true
		}
	}
	return false
}

// Log is an append-only event store.
type Log interface {
	// Append assigns the next id to e, stores it and returns the id.
	Append(ctx context.Context, e *Event) (int64, error)

	// Query returns matching events, newest first.
	Query(ctx context.Context, q Query) ([]*Event, error)

	Close() error
}

// SortNewestFirst orders events by CreatedAt then ID, both descending.
func SortNewestFirst(events []*Event) {
	sort.SliceStable(events, func(i, j int) bool {
		a, b := events[i], events[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}

// Summary aggregates a set of events.
type Summary struct {
	Total   int               `json:"total"`
	ByType  map[EventType]int `json:"by_type"`
	ByActor map[string]int    `json:"by_actor"`
	Issues  int               `json:"issues"`
	First   time.Time         `json:"first,omitempty"`
	Last    time.Time         `json:"last,omitempty"`
}

// Summarize folds events into totals.
func Summarize(events []*Event) Summary {
	s := Summary{
		ByType:  make(map[EventType]int),
		ByActor: make(map[string]int),
	}
	issues := make(map[string]struct{})
	for _, e := range events {
		s.Total++
		s.ByType[e.Type]++
		s.ByActor[e.Actor]++
		if e.IssueID != "" {
			issues[e.IssueID] = struct{}{}
		}
		if s.First.IsZero() || e.CreatedAt.Before(s.First) {
			s.First = e.CreatedAt
		}
		if e.CreatedAt.After(s.Last) {
			s.Last = e.CreatedAt
		}
	}
	s.Issues = len(issues)
	return s
}

// Str returns a pointer to s, for the optional value fields of Event.
func Str(s string) *string { return &s }

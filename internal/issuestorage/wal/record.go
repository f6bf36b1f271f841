package wal

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"beads-engine/internal/issuestorage"
)

// Operation tags written to the log.
const (
	opCreate      = "create"
	opUpdate      = "update"
	opLabelAdd    = "label_add"
	opLabelRemove = "label_remove"
	opCommentAdd  = "comment_add"
	opDepAdd      = "dep_add"
	opDepRemove   = "dep_remove"
)

// record is one line of wal.jsonl. Seq increases by one per record across
// the life of the workspace; the snapshot stores the last seq it covers so
// records already folded into it are skipped on replay. Commit is set on
// the last record of each append; records not followed by one are never
// applied.
type record struct {
	Seq     int64           `json:"seq"`
	Op      string          `json:"op"`
	TS      time.Time       `json:"ts"`
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Commit  bool            `json:"commit,omitempty"`
}

type labelPayload struct {
	Label string `json:"label"`
}

type depRemovePayload struct {
	DependsOnID string `json:"depends_on_id"`
}

func newRecord(op, id string, ts time.Time, payload any) (record, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return record{}, fmt.Errorf("encoding %s payload for %s: %w", op, id, err)
	}
	return record{Op: op, TS: ts, ID: id, Payload: raw}, nil
}

var errUnknownIssue = errors.New("record references unknown issue")

// decodeRecord parses one log line.
func decodeRecord(line []byte) (record, error) {
	var r record
	if err := json.Unmarshal(line, &r); err != nil {
		return r, err
	}
	if r.Op == "" || r.ID == "" {
		return r, fmt.Errorf("record missing op or id")
	}
	return r, nil
}

// apply folds r into st. It is idempotent so a record replayed on top of a
// snapshot that already contains it leaves the state unchanged.
func apply(st *state, r record) error {
	switch r.Op {
	case opCreate, opUpdate:
		var issue issuestorage.Issue
		if err := json.Unmarshal(r.Payload, &issue); err != nil {
			return fmt.Errorf("decoding issue: %w", err)
		}
		if issue.ID != r.ID {
			return fmt.Errorf("payload id %q does not match record id %q", issue.ID, r.ID)
		}
		st.putIssue(&issue)

	case opLabelAdd, opLabelRemove:
		var p labelPayload
		if err := json.Unmarshal(r.Payload, &p); err != nil || p.Label == "" {
			return fmt.Errorf("decoding label payload: %v", err)
		}
		if !st.exists(r.ID) {
			return errUnknownIssue
		}
		if r.Op == opLabelAdd {
			st.addLabel(r.ID, p.Label)
		} else {
			st.removeLabel(r.ID, p.Label)
		}

	case opCommentAdd:
		var c issuestorage.Comment
		if err := json.Unmarshal(r.Payload, &c); err != nil {
			return fmt.Errorf("decoding comment: %w", err)
		}
		if c.IssueID != r.ID || c.ID <= 0 {
			return fmt.Errorf("comment payload does not match record")
		}
		if !st.exists(r.ID) {
			return errUnknownIssue
		}
		st.addComment(&c)

	case opDepAdd:
		var d issuestorage.Dependency
		if err := json.Unmarshal(r.Payload, &d); err != nil {
			return fmt.Errorf("decoding dependency: %w", err)
		}
		if d.IssueID != r.ID || d.DependsOnID == "" {
			return fmt.Errorf("dependency payload does not match record")
		}
		st.putEdge(&d)

	case opDepRemove:
		var p depRemovePayload
		if err := json.Unmarshal(r.Payload, &p); err != nil || p.DependsOnID == "" {
			return fmt.Errorf("decoding dependency removal: %v", err)
		}
		st.deleteEdge(r.ID, p.DependsOnID)

	default:
		return fmt.Errorf("unknown op %q", r.Op)
	}
	return nil
}

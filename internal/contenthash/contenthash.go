// Package contenthash computes the canonical digest of an issue's semantic
// content. Two issues that differ only in id or timestamps hash the same,
// which import and sync tooling uses to detect duplicates.
package contenthash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"
	"strconv"
)

// Fields are the hashed inputs, in hashing order.
type Fields struct {
	Title              string
	Description        string
	Design             string
	AcceptanceCriteria string
	Notes              string
	Status             string
	Priority           int
	IssueType          string
	Assignee           string
	Owner              string
	CreatedBy          string
	ExternalRef        string
	SourceSystem       string
	Pinned             bool
	IsTemplate         bool
}

// Compute returns the hex-encoded SHA-256 of f. Every field, present or
// not, is written as its uvarint byte length, its bytes and a NUL, so
// adjacent fields can never be confused even when a value contains NUL.
func Compute(f Fields) string {
	w := writer{h: sha256.New()}
	w.str(f.Title)
	w.str(f.Description)
	w.str(f.Design)
	w.str(f.AcceptanceCriteria)
	w.str(f.Notes)
	w.str(f.Status)
	w.int(f.Priority)
	w.str(f.IssueType)
	w.str(f.Assignee)
	w.str(f.Owner)
	w.str(f.CreatedBy)
	w.str(f.ExternalRef)
	w.str(f.SourceSystem)
	w.flag(f.Pinned, "pinned")
	w.flag(f.IsTemplate, "template")
	return hex.EncodeToString(w.h.Sum(nil))
}

type writer struct {
	h hash.Hash
}

func (w writer) str(s string) {
	w.h.Write(binary.AppendUvarint(nil, uint64(len(s))))
	w.h.Write([]byte(s))
	w.h.Write([]byte{0})
}

func (w writer) int(n int) {
	w.str(strconv.Itoa(n))
}

// flag writes label when b is set and an empty field otherwise.
func (w writer) flag(b bool, label string) {
	if !b {
		label = ""
	}
	w.str(label)
}

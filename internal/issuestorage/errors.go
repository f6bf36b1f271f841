package issuestorage

import (
	"errors"
	"fmt"

	"beads-engine/internal/idgen"
	"beads-engine/internal/lockfile"
)

// Kind classifies an error so callers can decide what to do with it
// without matching individual sentinels.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindConflict
	KindCorruption
	KindResourceBusy
	KindStorageIO
	KindInvalid
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindCorruption:
		return "corruption"
	case KindResourceBusy:
		return "resource_busy"
	case KindStorageIO:
		return "storage_io"
	case KindInvalid:
		return "invalid"
	}
	return "unknown"
}

// Sentinel errors returned by IssueStore implementations and the graph.
var (
	ErrNotFound         = errors.New("issue not found")
	ErrDuplicateID      = errors.New("issue already exists")
	ErrAlreadyClosed    = errors.New("issue is already closed")
	ErrNotClosed        = errors.New("issue is not closed")
	ErrTombstoned       = errors.New("issue is tombstoned")
	ErrSelfDependency   = errors.New("issue cannot depend on itself")
	ErrCycle            = errors.New("operation would create a cycle")
	ErrDependencyExists = errors.New("dependency already exists with a different type")
	ErrCorruption       = errors.New("corrupt record")
	ErrLockTimeout      = lockfile.ErrTimeout
	ErrStorageIO        = errors.New("storage i/o failure")
	ErrInvalid          = errors.New("invalid value")
)

// kinds is ordered so an error wrapping several sentinels classifies
// deterministically.
var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrLockTimeout, KindResourceBusy},
	{ErrStorageIO, KindStorageIO},
	{ErrCorruption, KindCorruption},
	{ErrNotFound, KindNotFound},
	{ErrDuplicateID, KindConflict},
	{ErrAlreadyClosed, KindConflict},
	{ErrNotClosed, KindConflict},
	{ErrTombstoned, KindConflict},
	{ErrSelfDependency, KindConflict},
	{ErrCycle, KindConflict},
	{ErrDependencyExists, KindConflict},
	{idgen.ErrIDExhausted, KindConflict},
	{ErrInvalid, KindInvalid},
	{idgen.ErrMaxDepthExceeded, KindInvalid},
}

// Error carries the operation and issue id alongside a sentinel.
type Error struct {
	Op  string // e.g. "insert", "add dependency"
	ID  string // issue id, when one applies
	Err error  // a sentinel, possibly wrapping a cause
}

func (e *Error) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.ID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error.
func NewError(op, id string, err error) error {
	return &Error{Op: op, ID: id, Err: err}
}

// IOError wraps cause so that it matches ErrStorageIO while keeping the
// original error reachable through errors.Is/As.
func IOError(op string, cause error) error {
	return &Error{Op: op, Err: fmt.Errorf("%w: %w", ErrStorageIO, cause)}
}

// KindOf classifies err by the first sentinel it wraps.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return KindUnknown
}

// IsNotFound reports whether err is a NotFound-class error.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsConflict reports whether err is a Conflict-class error.
func IsConflict(err error) bool { return KindOf(err) == KindConflict }

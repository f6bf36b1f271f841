// Package idgen generates and parses issue identifiers.
//
// Root ids look like "bd-a3f": a prefix, a dash and a short base36 code
// whose length grows with the size of the workspace. Child ids append a
// dot and a sibling number: "bd-a3f.1", "bd-a3f.1.2".
package idgen

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math"
	"math/big"
	"strconv"
	"strings"
)

const (
	// MinLength is the shortest code a generated id carries.
	MinLength = 3
	// MaxLength is the longest code a generated id carries.
	MaxLength = 8
	// MaxCollisionProbability is the birthday-bound probability above which
	// AdaptiveLength moves to a longer code.
	MaxCollisionProbability = 0.25
	// DefaultMaxHierarchyDepth bounds the number of dot levels in child ids.
	DefaultMaxHierarchyDepth = 3
)

var (
	// ErrIDExhausted is returned when every attempt collided with an
	// existing id.
	ErrIDExhausted = errors.New("could not generate a unique id")
	// ErrMaxDepthExceeded is returned when a child would be nested deeper
	// than the configured maximum.
	ErrMaxDepthExceeded = errors.New("maximum hierarchy depth exceeded")
)

// RandomCode returns length base36 characters read from r, zero-padded.
func RandomCode(r io.Reader, length int) (string, error) {
	if length < MinLength || length > MaxLength {
		return "", fmt.Errorf("idgen: length %d out of range [%d, %d]", length, MinLength, MaxLength)
	}
	if r == nil {
		r = rand.Reader
	}
	space := new(big.Int).Exp(big.NewInt(36), big.NewInt(int64(length)), nil)
	n, err := rand.Int(r, space)
	if err != nil {
		return "", fmt.Errorf("idgen: reading random source: %w", err)
	}
	code := n.Text(36)
	if pad := length - len(code); pad > 0 {
		code = strings.Repeat("0", pad) + code
	}
	return code, nil
}

// AdaptiveLength returns the shortest code length whose collision
// probability for existingCount ids, 1 - e^(-n²/2N) with N = 36^length,
// stays under MaxCollisionProbability. It never returns more than
// MaxLength.
func AdaptiveLength(existingCount int) int {
	n := float64(existingCount)
	for length := MinLength; length < MaxLength; length++ {
		space := math.Pow(36, float64(length))
		if 1-math.Exp(-(n*n)/(2*space)) < MaxCollisionProbability {
			return length
		}
	}
	return MaxLength
}

// NormalizePrefix returns prefix with exactly one trailing dash.
//
//	NormalizePrefix("bd")   → "bd-"
//	NormalizePrefix("bd--") → "bd-"
func NormalizePrefix(prefix string) string {
	return strings.TrimRight(prefix, "-") + "-"
}

// IsHierarchicalID reports whether id ends in a numeric dot segment, as in
// "bd-a3f.2". "my.project-abc" is not hierarchical.
func IsHierarchicalID(id string) bool {
	dot := strings.LastIndex(id, ".")
	if dot < 0 || dot == len(id)-1 {
		return false
	}
	_, err := strconv.ParseUint(id[dot+1:], 10, 32)
	return err == nil
}

// HierarchyDepth counts the dot levels of id; a root id has depth 0.
func HierarchyDepth(id string) int {
	return strings.Count(id, ".")
}

// ChildID formats the id of the n-th child of parentID.
func ChildID(parentID string, n int) string {
	return parentID + "." + strconv.Itoa(n)
}

// ParentID returns the immediate parent of a hierarchical id, or false
// when id is a root id.
func ParentID(id string) (string, bool) {
	if !IsHierarchicalID(id) {
		return "", false
	}
	return id[:strings.LastIndex(id, ".")], true
}

// RootParentID walks ParentID up to the top-level id.
func RootParentID(id string) string {
	for {
		parent, ok := ParentID(id)
		if !ok {
			return id
		}
		id = parent
	}
}

// CheckHierarchyDepth fails with ErrMaxDepthExceeded when a child of
// parentID would be nested deeper than maxDepth.
func CheckHierarchyDepth(parentID string, maxDepth int) error {
	if depth := HierarchyDepth(parentID); depth >= maxDepth {
		return fmt.Errorf("cannot add child to %s (depth %d, max %d): %w",
			parentID, depth, maxDepth, ErrMaxDepthExceeded)
	}
	return nil
}

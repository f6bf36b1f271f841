package idgen

import (
	"context"
	"fmt"
	"io"
)

// MaxRetries bounds the attempts Generate makes before giving up. At
// MinLength with the workspace at the adaptive threshold each attempt
// collides with probability well under 0.25, so 0.25^20 is the worst case.
const MaxRetries = 20

// collisionsPerLength is how many consecutive collisions Generate accepts
// at one code length before trying a longer one.
const collisionsPerLength = 5

// ExistsFunc reports whether an id is already taken.
type ExistsFunc func(ctx context.Context, id string) (bool, error)

// Generator produces collision-checked root ids for one prefix.
type Generator struct {
	prefix     string
	exists     ExistsFunc
	maxRetries int
	random     io.Reader
}

// Option configures a Generator.
type Option func(*Generator)

// WithMaxRetries overrides MaxRetries.
func WithMaxRetries(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxRetries = n
		}
	}
}

// WithRandom replaces crypto/rand as the source of codes.
func WithRandom(r io.Reader) Option {
	return func(g *Generator) { g.random = r }
}

// NewGenerator creates a Generator for prefix that checks candidates with
// exists.
func NewGenerator(prefix string, exists ExistsFunc, opts ...Option) *Generator {
	g := &Generator{
		prefix:     NormalizePrefix(prefix),
		exists:     exists,
		maxRetries: MaxRetries,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Prefix returns the normalised prefix, including its trailing dash.
func (g *Generator) Prefix() string { return g.prefix }

// Generate returns a fresh id. sizeHint is the current number of issues in
// the workspace and picks the starting code length.
func (g *Generator) Generate(ctx context.Context, sizeHint int) (string, error) {
	length := AdaptiveLength(sizeHint)
	for attempt := 0; attempt < g.maxRetries; attempt++ {
		if attempt > 0 && attempt%collisionsPerLength == 0 && length < MaxLength {
			length++
		}
		code, err := RandomCode(g.random, length)
		if err != nil {
			return "", err
		}
		id := g.prefix + code
		taken, err := g.exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("checking id %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("%d attempts with prefix %s: %w", g.maxRetries, g.prefix, ErrIDExhausted)
}

// NextChildID returns {parentID}.{n} for the smallest n >= 1 that exists
// does not report as taken. Tombstoned children stay taken, so numbers are
// never reused.
func NextChildID(ctx context.Context, parentID string, exists ExistsFunc, maxDepth int) (string, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxHierarchyDepth
	}
	if err := CheckHierarchyDepth(parentID, maxDepth); err != nil {
		return "", err
	}
	for n := 1; ; n++ {
		id := ChildID(parentID, n)
		taken, err := exists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("checking id %s: %w", id, err)
		}
		if !taken {
			return id, nil
		}
	}
}

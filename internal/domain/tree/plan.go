// Package tree plans and provisions the compressed-storage tree of an event.
package tree

import (
	"fmt"

	"github.com/okian/popclaim/internal/domain/model"
)

// Default tree bounds.
const (
	DefaultMinDepth = 3
	DefaultMaxDepth = 14
	DefaultBuffer   = 64
)

// ShapeFilter reports whether the ledger accepts a (depth, buffer) pair.
type ShapeFilter func(depth, buffer int) bool

// Planner picks tree parameters for a requested supply.
type Planner struct {
	minDepth  int
	maxDepth  int
	buffer    int
	supported ShapeFilter
}

// NewPlanner creates a planner. Invalid bounds fall back to the defaults.
func NewPlanner(minDepth, maxDepth, buffer int) Planner {
	p := Planner{minDepth: DefaultMinDepth, maxDepth: DefaultMaxDepth, buffer: DefaultBuffer}
	if minDepth > 0 && maxDepth >= minDepth {
		p.minDepth, p.maxDepth = minDepth, maxDepth
	}
	if buffer > 0 {
		p.buffer = buffer
	}
	return p
}

// Restrict returns a planner that only picks shapes accepted by f.
func (p Planner) Restrict(f ShapeFilter) Planner {
	p.supported = f
	return p
}

// MaxCapacity is the leaf count of the deepest supported tree.
func (p Planner) MaxCapacity() int {
	for d := p.maxDepth; d >= p.minDepth; d-- {
		if p.accepts(d) {
			return 1 << d
		}
	}
	return 0
}

func (p Planner) accepts(depth int) bool {
	return p.supported == nil || p.supported(depth, p.buffer)
}

// Plan returns the smallest tree, not shallower than the minimum depth,
// holding at least maxSupply leaves.
func (p Planner) Plan(maxSupply int) (model.TreeParams, error) {
	const op = "tree.plan"
	if maxSupply <= 0 {
		return model.TreeParams{}, model.NewKindMsg(op, model.ErrInvalidInput, "max supply must be positive")
	}
	for depth := p.minDepth; depth <= p.maxDepth; depth++ {
		if 1<<depth >= maxSupply && p.accepts(depth) {
			return model.TreeParams{MaxDepth: depth, MaxBufferSize: p.buffer, Capacity: 1 << depth}, nil
		}
	}
	return model.TreeParams{}, model.NewKindMsg(op, model.ErrCapacityExceeded,
		fmt.Sprintf("max supply %d exceeds tree capacity %d (depth %d)", maxSupply, p.MaxCapacity(), p.maxDepth))
}

// Package cost compares the cost of minting compressed tokens against
// regular, one-account-per-token minting.
package cost

import (
	"github.com/shopspring/decimal"

	"github.com/okian/popclaim/internal/domain/model"
)

// Default unit costs in native currency. They are illustrative and
// overridden from configuration.
var (
	DefaultRegularUnitCost    = decimal.RequireFromString("0.01")
	DefaultCompressedUnitCost = decimal.RequireFromString("0.000005")
	DefaultTreeCreationCost   = decimal.RequireFromString("0.00232")
)

const percentPlaces = 2

var hundred = decimal.NewFromInt(100)

// Estimate is the comparison for one token count.
type Estimate struct {
	TokenCount        int             `json:"token_count"`
	RegularCost       decimal.Decimal `json:"regular_cost"`
	CompressedCost    decimal.Decimal `json:"compressed_cost"`
	TreeCreationCost  decimal.Decimal `json:"tree_creation_cost"`
	Savings           decimal.Decimal `json:"savings"`
	SavingsPercentage decimal.Decimal `json:"savings_percentage"`
}

// Option applies a configuration option to the Estimator.
type Option func(*Estimator)

// WithUnitCosts sets the default per-token costs used by EstimateDefault.
func WithUnitCosts(regular, compressed decimal.Decimal) Option {
	return func(e *Estimator) {
		if regular.IsPositive() {
			e.regular = regular
		}
		if compressed.IsPositive() {
			e.compressed = compressed
		}
	}
}

// WithTreeCreationCost sets the one-time provisioning fee.
func WithTreeCreationCost(c decimal.Decimal) Option {
	return func(e *Estimator) {
		if !c.IsNegative() {
			e.tree = c
		}
	}
}

// Estimator computes cost estimates. It holds no mutable state and is safe
// for concurrent use.
type Estimator struct {
	regular    decimal.Decimal
	compressed decimal.Decimal
	tree       decimal.Decimal
}

// NewEstimator creates an estimator with the default constants.
func NewEstimator(opts ...Option) *Estimator {
	e := &Estimator{
		regular:    DefaultRegularUnitCost,
		compressed: DefaultCompressedUnitCost,
		tree:       DefaultTreeCreationCost,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TreeCreationCost returns the fixed provisioning term.
func (e *Estimator) TreeCreationCost() decimal.Decimal { return e.tree }

// EstimateDefault estimates with the configured unit costs.
func (e *Estimator) EstimateDefault(tokenCount int) (Estimate, error) {
	return e.Estimate(tokenCount, e.regular, e.compressed)
}

// Estimate computes the comparison. The tree creation term is added to the
// compressed cost exactly once.
func (e *Estimator) Estimate(tokenCount int, regularUnit, compressedUnit decimal.Decimal) (Estimate, error) {
	const op = "cost.estimate"
	if tokenCount <= 0 {
		return Estimate{}, model.NewKindMsg(op, model.ErrInvalidInput, "token count must be positive")
	}
	if !regularUnit.IsPositive() || !compressedUnit.IsPositive() {
		return Estimate{}, model.NewKindMsg(op, model.ErrInvalidInput, "unit costs must be positive")
	}

	n := decimal.NewFromInt(int64(tokenCount))
	regular := n.Mul(regularUnit)
	if regular.IsZero() {
		return Estimate{}, model.NewKindMsg(op, model.ErrInvalidInput, "regular cost is zero")
	}
	compressed := n.Mul(compressedUnit).Add(e.tree)
	savings := regular.Sub(compressed)

	return Estimate{
		TokenCount:        tokenCount,
		RegularCost:       regular,
		CompressedCost:    compressed,
		TreeCreationCost:  e.tree,
		Savings:           savings,
		SavingsPercentage: savings.Div(regular).Mul(hundred).Round(percentPlaces),
	}, nil
}

// Package impact estimates the price impact of executing an order over time
// with the linear Almgren-Chriss cost terms.
package impact

import (
	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

// Params are the model coefficients. All must be positive.
type Params struct {
	Volatility decimal.Decimal // σ, carried for reporting; the linear terms do not use it
	Eta        decimal.Decimal // η, temporary impact per unit traded per unit time
	Gamma      decimal.Decimal // γ, permanent impact per unit traded
}

// DefaultParams returns σ=0.015, η=0.0005, γ=0.0001.
func DefaultParams() Params {
	return Params{
		Volatility: decimal.RequireFromString("0.015"),
		Eta:        decimal.RequireFromString("0.0005"),
		Gamma:      decimal.RequireFromString("0.0001"),
	}
}

// Model is an immutable, validated parameter set.
type Model struct {
	params Params
}

// NewModel validates p.
func NewModel(p Params) (*Model, error) {
	for _, c := range []struct {
		name string
		v    decimal.Decimal
	}{
		{"volatility", p.Volatility},
		{"eta", p.Eta},
		{"gamma", p.Gamma},
	} {
		if !c.v.IsPositive() {
			return nil, &domain.DegenerateInputError{Field: c.name, Value: c.v.String()}
		}
	}
	return &Model{params: p}, nil
}

// Params returns the coefficients the model was built with.
func (m *Model) Params() Params {
	return m.params
}

// Compute returns permanent = γ·size, temporary = η·size/horizon and their sum.
// A horizon of 0 is treated as 1.
func (m *Model) Compute(size decimal.Decimal, horizon int) (domain.ImpactEstimate, error) {
	if !size.IsPositive() {
		return domain.ImpactEstimate{}, &domain.DegenerateInputError{Field: "order size", Value: size.String()}
	}
	if horizon < 0 {
		return domain.ImpactEstimate{}, &domain.DegenerateInputError{Field: "horizon", Value: decimal.NewFromInt(int64(horizon)).String()}
	}
	if horizon == 0 {
		horizon = 1
	}

	permanent := m.params.Gamma.Mul(size)
	temporary := m.params.Eta.Mul(size).Div(decimal.NewFromInt(int64(horizon)))

	return domain.ImpactEstimate{
		OrderSize:       size,
		Horizon:         horizon,
		TemporaryImpact: temporary,
		PermanentImpact: permanent,
		TotalImpact:     permanent.Add(temporary),
	}, nil
}

// HorizonForDepth derives an execution horizon from the number of levels on
// the consumed side: half the levels, at least 1.
func HorizonForDepth(levels int) int {
	if h := levels / 2; h > 1 {
		return h
	}
	return 1
}

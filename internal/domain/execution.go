package domain

import "github.com/shopspring/decimal"

// SimulationResult is the outcome of walking the book for one hypothetical market order.
// It is produced once per simulation and handed around by value.
type SimulationResult struct {
	Side              Side            `json:"side"`
	RequestedNotional decimal.Decimal `json:"requested_notional"`
	FilledVolume      decimal.Decimal `json:"filled_volume"`   // Base asset
	FilledNotional    decimal.Decimal `json:"filled_notional"` // Quote currency
	AveragePrice      decimal.Decimal `json:"average_price"`
	ReferenceMidPrice decimal.Decimal `json:"reference_mid_price"`

	// SlippageFraction is (AveragePrice - mid) / mid, signed.
	// Buys are normally >= 0 and sells <= 0.
	SlippageFraction decimal.Decimal `json:"slippage_fraction"`

	// MidPriceAvailable is false when one side was empty before the trade;
	// SlippageFraction is then zero and ReferenceMidPrice is meaningless.
	MidPriceAvailable bool `json:"mid_price_available"`
}

// Underfilled reports whether the book ran out of liquidity before the requested notional.
func (r SimulationResult) Underfilled() bool {
	return r.FilledNotional.LessThan(r.RequestedNotional)
}

// ShortfallNotional is the part of the requested notional the book could not absorb.
func (r SimulationResult) ShortfallNotional() decimal.Decimal {
	if !r.Underfilled() {
		return decimal.Zero
	}
	return r.RequestedNotional.Sub(r.FilledNotional)
}

// ImpactEstimate is the output of the market impact model.
type ImpactEstimate struct {
	OrderSize       decimal.Decimal `json:"order_size"`
	Horizon         int             `json:"horizon"`
	TemporaryImpact decimal.Decimal `json:"temporary_impact"`
	PermanentImpact decimal.Decimal `json:"permanent_impact"`
	TotalImpact     decimal.Decimal `json:"total_impact"`
}

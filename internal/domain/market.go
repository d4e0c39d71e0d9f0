package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one resting (price, size) pair.
// Price is strictly positive; Size is strictly positive once inside a LevelSet.
type PriceLevel struct {
	Price decimal.Decimal `json:"price"`
	Size  decimal.Decimal `json:"size"`
}

// Notional returns price × size in quote currency.
func (l PriceLevel) Notional() decimal.Decimal {
	return l.Price.Mul(l.Size)
}

// Bounds on any decimal taken from the feed or a caller. Comparisons rescale
// operands to a common exponent, so an unbounded exponent makes them unbounded too.
const (
	MaxFractionDigits = 18
	MaxIntegerDigits  = 18
)

// InRange reports whether v has at most MaxFractionDigits decimal places and
// at most MaxIntegerDigits digits before the point.
func InRange(v decimal.Decimal) bool {
	exp := v.Exponent()
	if exp < -MaxFractionDigits || exp > MaxIntegerDigits {
		return false
	}
	return int64(v.NumDigits())+int64(exp) <= MaxIntegerDigits
}

// RawLevel is a (price, size) text pair exactly as the feed delivered it.
type RawLevel struct {
	Price string
	Size  string
}

// UpdateStats describes one published book state.
type UpdateStats struct {
	Version        uint64        `json:"version"`
	BidLevels      int           `json:"bid_levels"`
	AskLevels      int           `json:"ask_levels"`
	Rejected       int           `json:"rejected"` // Raw pairs excluded during the build
	LastUpdate     time.Time     `json:"last_update"`
	ProcessingTime time.Duration `json:"processing_time"`
}

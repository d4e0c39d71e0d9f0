package orderbook

import (
	"sort"
	"strings"

	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

// DefaultDepthLimit is the number of levels kept per side when no limit is configured.
const DefaultDepthLimit = 20

// LevelSet is an immutable, ordered run of price levels for one side of the book.
// Bids are strictly descending by price, asks strictly ascending; no two levels
// share a price and every size is positive.
type LevelSet struct {
	side   domain.BookSide
	levels []domain.PriceLevel
}

// BuildLevelSet parses a full-refresh side from raw text pairs.
//
// Pairs that fail to parse, or carry a non-positive price or size, are left out
// and returned as InvalidLevelErrors; they never fail the build. When the feed
// repeats a price the last occurrence wins. The result is truncated to
// depthLimit after sorting (depthLimit <= 0 means DefaultDepthLimit).
func BuildLevelSet(raw []domain.RawLevel, side domain.BookSide, depthLimit int) (LevelSet, []*domain.InvalidLevelError) {
	if depthLimit <= 0 {
		depthLimit = DefaultDepthLimit
	}

	var rejected []*domain.InvalidLevelError
	kept := make([]domain.PriceLevel, 0, len(raw))
	for i, r := range raw {
		lvl, err := parseLevel(side, i, r)
		if err != nil {
			rejected = append(rejected, err)
			continue
		}
		kept = append(kept, lvl)
	}

	// Stable so equal prices stay in feed order and the last one is the freshest.
	sort.SliceStable(kept, func(i, j int) bool {
		if side == domain.Bids {
			return kept[i].Price.GreaterThan(kept[j].Price)
		}
		return kept[i].Price.LessThan(kept[j].Price)
	})

	deduped := kept[:0]
	for _, lvl := range kept {
		if n := len(deduped); n > 0 && deduped[n-1].Price.Equal(lvl.Price) {
			deduped[n-1] = lvl
			continue
		}
		deduped = append(deduped, lvl)
	}

	if len(deduped) > depthLimit {
		deduped = deduped[:depthLimit]
	}

	levels := make([]domain.PriceLevel, len(deduped))
	copy(levels, deduped)

	return LevelSet{side: side, levels: levels}, rejected
}

func parseLevel(side domain.BookSide, idx int, r domain.RawLevel) (domain.PriceLevel, *domain.InvalidLevelError) {
	reject := func(reason string) (domain.PriceLevel, *domain.InvalidLevelError) {
		return domain.PriceLevel{}, &domain.InvalidLevelError{
			Side:   side,
			Index:  idx,
			Price:  r.Price,
			Size:   r.Size,
			Reason: reason,
		}
	}

	price, err := decimal.NewFromString(strings.TrimSpace(r.Price))
	if err != nil {
		return reject("unparsable price")
	}
	size, err := decimal.NewFromString(strings.TrimSpace(r.Size))
	if err != nil {
		return reject("unparsable size")
	}

	switch {
	case !domain.InRange(price), !domain.InRange(size):
		return reject("out of range")
	case !price.IsPositive():
		return reject("non-positive price")
	case size.IsNegative():
		return reject("negative size")
	case size.IsZero():
		// Zero size is how the feed removes a level.
		return reject("zero size")
	}

	return domain.PriceLevel{Price: price, Size: size}, nil
}

// Side returns which half of the book this set belongs to.
func (s LevelSet) Side() domain.BookSide {
	return s.side
}

// Len returns the number of levels.
func (s LevelSet) Len() int {
	return len(s.levels)
}

// IsEmpty reports whether the side has no liquidity.
func (s LevelSet) IsEmpty() bool {
	return len(s.levels) == 0
}

// At returns the i-th level, best first.
func (s LevelSet) At(i int) domain.PriceLevel {
	return s.levels[i]
}

// Best returns the top of this side.
func (s LevelSet) Best() (domain.PriceLevel, bool) {
	if len(s.levels) == 0 {
		return domain.PriceLevel{}, false
	}
	return s.levels[0], true
}

// Top returns a copy of at most n best levels. n <= 0 returns every level.
func (s LevelSet) Top(n int) []domain.PriceLevel {
	if n <= 0 || n > len(s.levels) {
		n = len(s.levels)
	}
	out := make([]domain.PriceLevel, n)
	copy(out, s.levels[:n])
	return out
}

// TotalNotional sums price × size over the whole side.
func (s LevelSet) TotalNotional() decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range s.levels {
		total = total.Add(lvl.Notional())
	}
	return total
}

// TotalVolume sums the base-asset size over the whole side.
func (s LevelSet) TotalVolume() decimal.Decimal {
	total := decimal.Zero
	for _, lvl := range s.levels {
		total = total.Add(lvl.Size)
	}
	return total
}

// Equal compares two sets by price/size content.
func (s LevelSet) Equal(other LevelSet) bool {
	if s.side != other.side || len(s.levels) != len(other.levels) {
		return false
	}
	for i := range s.levels {
		if !s.levels[i].Price.Equal(other.levels[i].Price) || !s.levels[i].Size.Equal(other.levels[i].Size) {
			return false
		}
	}
	return true
}

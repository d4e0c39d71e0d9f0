package orderbook

import (
	"log/slog"
	"sync/atomic"
	"time"

	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
)

var two = decimal.NewFromInt(2)

// OrderBook holds the current full-refresh state of one instrument.
//
// Every Update builds a complete replacement View and publishes it with a single
// atomic store, so readers see either the previous state or the new one, never
// one side from each. Readers never lock.
type OrderBook struct {
	instrument string
	depthLimit int

	current atomic.Pointer[View]
	version atomic.Uint64

	logger *slog.Logger
}

// New creates an empty book. depthLimit <= 0 means DefaultDepthLimit.
func New(instrument string, depthLimit int) *OrderBook {
	if depthLimit <= 0 {
		depthLimit = DefaultDepthLimit
	}
	b := &OrderBook{
		instrument: instrument,
		depthLimit: depthLimit,
		logger:     slog.Default().With("module", "orderbook", "instrument", instrument),
	}
	b.current.Store(&View{
		bids: LevelSet{side: domain.Bids},
		asks: LevelSet{side: domain.Asks},
	})
	return b
}

// Instrument returns the symbol this book tracks.
func (b *OrderBook) Instrument() string {
	return b.instrument
}

// DepthLimit returns the maximum number of levels kept per side.
func (b *OrderBook) DepthLimit() int {
	return b.depthLimit
}

// Update replaces the whole book with a new snapshot.
// Invalid pairs are dropped and counted; Update itself never fails.
func (b *OrderBook) Update(rawBids, rawAsks []domain.RawLevel) domain.UpdateStats {
	start := time.Now()

	bids, badBids := BuildLevelSet(rawBids, domain.Bids, b.depthLimit)
	asks, badAsks := BuildLevelSet(rawAsks, domain.Asks, b.depthLimit)

	rejected := len(badBids) + len(badAsks)
	if rejected > 0 {
		first := badBids
		if len(first) == 0 {
			first = badAsks
		}
		b.logger.Debug("Dropped invalid levels",
			slog.Int("rejected", rejected),
			slog.String("first", first[0].Error()))
	}

	now := time.Now()
	next := &View{
		bids: bids,
		asks: asks,
		stats: domain.UpdateStats{
			Version:        b.version.Add(1),
			BidLevels:      bids.Len(),
			AskLevels:      asks.Len(),
			Rejected:       rejected,
			LastUpdate:     now,
			ProcessingTime: now.Sub(start),
		},
	}
	b.current.Store(next)

	return next.stats
}

// View returns the currently published state.
// Use it to run several queries against one consistent snapshot.
func (b *OrderBook) View() *View {
	return b.current.Load()
}

// BestBid returns the highest bid price, or false when there are no bids.
func (b *OrderBook) BestBid() (decimal.Decimal, bool) {
	return b.View().BestBid()
}

// BestAsk returns the lowest ask price, or false when there are no asks.
func (b *OrderBook) BestAsk() (decimal.Decimal, bool) {
	return b.View().BestAsk()
}

// MidPrice returns (best bid + best ask) / 2, or false unless both sides have liquidity.
func (b *OrderBook) MidPrice() (decimal.Decimal, bool) {
	return b.View().MidPrice()
}

// Spread returns best ask - best bid. It is negative for a crossed book.
func (b *OrderBook) Spread() (decimal.Decimal, bool) {
	return b.View().Spread()
}

// DepthToFill returns the base volume a market order of the given notional would consume.
func (b *OrderBook) DepthToFill(side domain.Side, notional decimal.Decimal) decimal.Decimal {
	return b.View().DepthToFill(side, notional)
}

// Stats returns the timing and size samples of the current state.
func (b *OrderBook) Stats() domain.UpdateStats {
	return b.View().Stats()
}

// View is one immutable published book state.
type View struct {
	bids  LevelSet
	asks  LevelSet
	stats domain.UpdateStats
}

// Bids returns the bid side, best (highest) first.
func (v *View) Bids() LevelSet {
	return v.bids
}

// Asks returns the ask side, best (lowest) first.
func (v *View) Asks() LevelSet {
	return v.asks
}

// Levels returns the side a market order of the given direction walks.
func (v *View) Levels(side domain.Side) LevelSet {
	if side.Consumes() == domain.Bids {
		return v.bids
	}
	return v.asks
}

// Stats returns the samples recorded when this state was published.
func (v *View) Stats() domain.UpdateStats {
	return v.stats
}

func (v *View) BestBid() (decimal.Decimal, bool) {
	lvl, ok := v.bids.Best()
	return lvl.Price, ok
}

func (v *View) BestAsk() (decimal.Decimal, bool) {
	lvl, ok := v.asks.Best()
	return lvl.Price, ok
}

func (v *View) MidPrice() (decimal.Decimal, bool) {
	bid, okBid := v.BestBid()
	ask, okAsk := v.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return bid.Add(ask).Div(two), true
}

func (v *View) Spread() (decimal.Decimal, bool) {
	bid, okBid := v.BestBid()
	ask, okAsk := v.BestAsk()
	if !okBid || !okAsk {
		return decimal.Zero, false
	}
	return ask.Sub(bid), true
}

// Crossed reports a book whose best bid is at or above its best ask.
// Such a book is still valid; it is only reported.
func (v *View) Crossed() bool {
	spread, ok := v.Spread()
	return ok && !spread.IsPositive()
}

// DepthToFill walks the side consumed by the order, adding whole levels until
// the next one would meet the notional, then only the fraction of that level
// still needed. If the side runs out first it returns everything available;
// callers compare against the request to detect an under-fill. A notional
// outside domain.InRange yields zero.
func (v *View) DepthToFill(side domain.Side, notional decimal.Decimal) decimal.Decimal {
	depth := decimal.Zero
	if !notional.IsPositive() || !domain.InRange(notional) {
		return depth
	}

	levels := v.Levels(side)
	total := decimal.Zero
	for i := 0; i < levels.Len(); i++ {
		lvl := levels.At(i)
		value := lvl.Notional()
		if total.Add(value).GreaterThanOrEqual(notional) {
			return depth.Add(notional.Sub(total).Div(lvl.Price))
		}
		depth = depth.Add(lvl.Size)
		total = total.Add(value)
	}
	return depth
}

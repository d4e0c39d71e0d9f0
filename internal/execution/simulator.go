package execution

import (
	"log/slog"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/infra"
	"trade_sim/internal/orderbook"

	"github.com/shopspring/decimal"
)

// BookView is the read-only surface a simulation walks.
// *orderbook.View satisfies it.
type BookView interface {
	Levels(side domain.Side) orderbook.LevelSet
	MidPrice() (decimal.Decimal, bool)
}

// Simulate walks the levels a market order of the given quote notional would
// consume, best first, taking only the fraction of the last level it needs.
//
// It fails with EmptyBookError when the consumed side has no levels and with
// UnfillableOrderError when the walk fills zero volume. If the book runs out
// before the notional is reached the partial result is returned without error;
// see SimulationResult.Underfilled.
func Simulate(view BookView, side domain.Side, notional decimal.Decimal) (domain.SimulationResult, error) {
	if !notional.IsPositive() {
		return domain.SimulationResult{}, &domain.DegenerateInputError{Field: "notional", Value: notional.String()}
	}
	if !domain.InRange(notional) {
		return domain.SimulationResult{}, &domain.DegenerateInputError{Field: "notional", Value: notional.String(), Reason: "out of range"}
	}

	levels := view.Levels(side)
	if levels.IsEmpty() {
		return domain.SimulationResult{}, &domain.EmptyBookError{Side: side}
	}

	filledVolume := decimal.Zero
	filledNotional := decimal.Zero
	remaining := notional
	worst := levels.At(0).Price

	for i := 0; i < levels.Len(); i++ {
		lvl := levels.At(i)
		worst = lvl.Price
		value := lvl.Notional()

		if value.GreaterThanOrEqual(remaining) {
			// Partial level: only the base volume still needed.
			filledVolume = filledVolume.Add(remaining.Div(lvl.Price))
			filledNotional = filledNotional.Add(remaining)
			remaining = decimal.Zero
			break
		}

		filledVolume = filledVolume.Add(lvl.Size)
		filledNotional = filledNotional.Add(value)
		remaining = remaining.Sub(value)
	}

	if filledVolume.IsZero() {
		return domain.SimulationResult{}, &domain.UnfillableOrderError{Side: side, Notional: notional.String()}
	}

	result := domain.SimulationResult{
		Side:              side,
		RequestedNotional: notional,
		FilledVolume:      filledVolume,
		FilledNotional:    filledNotional,
		AveragePrice:      clampPrice(filledNotional.Div(filledVolume), levels.At(0).Price, worst),
		SlippageFraction:  decimal.Zero,
	}

	if mid, ok := view.MidPrice(); ok && mid.IsPositive() {
		result.ReferenceMidPrice = mid
		result.MidPriceAvailable = true
		result.SlippageFraction = result.AveragePrice.Sub(mid).Div(mid)
	}

	return result, nil
}

// clampPrice keeps p between the best and worst consumed prices. Volume on the
// partial level is rounded, so the raw quotient can fall just outside them.
func clampPrice(p, best, worst decimal.Decimal) decimal.Decimal {
	lo, hi := decimal.Min(best, worst), decimal.Max(best, worst)
	if p.LessThan(lo) {
		return lo
	}
	if p.GreaterThan(hi) {
		return hi
	}
	return p
}

// Simulator runs simulations against the live book and records them in metrics.
type Simulator struct {
	book    *orderbook.OrderBook
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewSimulator creates a simulator bound to a book. metrics may be nil.
func NewSimulator(book *orderbook.OrderBook, metrics *infra.Metrics) *Simulator {
	return &Simulator{
		book:    book,
		metrics: metrics,
		logger:  slog.Default().With("module", "simulator"),
	}
}

// Simulate runs against the current published state and also returns that
// state, so callers can derive further figures from the same snapshot.
func (s *Simulator) Simulate(side domain.Side, notional decimal.Decimal) (domain.SimulationResult, *orderbook.View, error) {
	start := time.Now()
	view := s.book.View()

	result, err := Simulate(view, side, notional)
	if s.metrics != nil {
		s.metrics.RecordSimulation(time.Since(start).Nanoseconds(), err)
	}
	if err != nil {
		s.logger.Debug("Simulation failed",
			slog.String("side", side.String()),
			slog.String("notional", notional.String()),
			slog.Any("error", err))
		return domain.SimulationResult{}, view, err
	}

	if result.Underfilled() {
		s.logger.Info("Simulation under-filled",
			slog.String("side", side.String()),
			slog.String("requested", notional.String()),
			slog.String("filled", result.FilledNotional.String()))
	}

	return result, view, nil
}

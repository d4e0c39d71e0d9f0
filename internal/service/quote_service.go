package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/execution"
	"trade_sim/internal/impact"
	"trade_sim/internal/infra"
	"trade_sim/internal/orderbook"

	"github.com/shopspring/decimal"
)

// ErrUnknownFeeTier is returned when a quote names a tier that is not configured.
var ErrUnknownFeeTier = errors.New("unknown fee tier")

const recordTimeout = 2 * time.Second

// SlippageFeatures are the inputs handed to an external slippage model.
type SlippageFeatures struct {
	OrderSize  decimal.Decimal // Quote notional
	Spread     decimal.Decimal
	Volatility decimal.Decimal
}

// TakerFeatures are the inputs handed to an external maker/taker model.
type TakerFeatures struct {
	Spread        decimal.Decimal
	Imbalance     decimal.Decimal // Top bid size / (top bid size + top ask size)
	QuoteDistance decimal.Decimal // Spread / mid
}

// SlippageScorer predicts slippage as a signed fraction of notional.
// Implementations are opaque; a failing scorer falls back to the book walk.
type SlippageScorer interface {
	PredictSlippage(ctx context.Context, f SlippageFeatures) (decimal.Decimal, error)
}

// TakerScorer predicts the probability that an order executes as taker.
type TakerScorer interface {
	TakerProbability(ctx context.Context, f TakerFeatures) (decimal.Decimal, error)
}

// QuoteRequest asks what a market order would cost right now.
type QuoteRequest struct {
	Side     domain.Side
	Notional decimal.Decimal
	FeeTier  string // Empty means the configured default
}

// CostReport breaks down the expected cost of one market order.
// All costs are in quote currency; a negative slippage cost is a gain.
type CostReport struct {
	ID          string                  `json:"id,omitempty"`
	Instrument  string                  `json:"instrument"`
	Simulation  domain.SimulationResult `json:"simulation"`
	Impact      domain.ImpactEstimate   `json:"impact"`
	BookVersion uint64                  `json:"book_version"`

	SlippageFraction decimal.Decimal `json:"slippage_fraction"`
	SlippageSource   string          `json:"slippage_source"` // "book" or "model"
	SlippageCost     decimal.Decimal `json:"slippage_cost"`

	FeeTier string          `json:"fee_tier"`
	FeeRate decimal.Decimal `json:"fee_rate"`
	FeeCost decimal.Decimal `json:"fee_cost"`

	ImpactCost decimal.Decimal `json:"impact_cost"`
	NetCost    decimal.Decimal `json:"net_cost"`

	TakerProbability *decimal.Decimal `json:"taker_probability,omitempty"`
	SimulationTime   time.Duration    `json:"simulation_time_ns"`
}

// QuoteService composes the simulator, the impact model and the fee schedule.
type QuoteService struct {
	book       *orderbook.OrderBook
	simulator  *execution.Simulator
	model      *impact.Model
	fees       map[string]infra.FeeTier
	defaultFee string
	volatility decimal.Decimal

	slippage SlippageScorer
	taker    TakerScorer
	recorder domain.SimulationRecorder

	logger *slog.Logger
}

// NewQuoteService creates a quote service. fees must contain defaultTier.
func NewQuoteService(book *orderbook.OrderBook, metrics *infra.Metrics, model *impact.Model, fees map[string]infra.FeeTier, defaultTier string) *QuoteService {
	return &QuoteService{
		book:       book,
		simulator:  execution.NewSimulator(book, metrics),
		model:      model,
		fees:       fees,
		defaultFee: defaultTier,
		volatility: model.Params().Volatility,
		logger:     slog.Default().With("module", "quote_service"),
	}
}

// SetScorers installs optional external models. Either may be nil.
func (s *QuoteService) SetScorers(slippage SlippageScorer, taker TakerScorer) {
	s.slippage = slippage
	s.taker = taker
}

// SetRecorder installs an optional audit trail for quotes.
func (s *QuoteService) SetRecorder(r domain.SimulationRecorder) {
	s.recorder = r
}

// FeeTiers returns the configured tier names, sorted.
func (s *QuoteService) FeeTiers() []string {
	names := make([]string, 0, len(s.fees))
	for name := range s.fees {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Book returns the order book quotes are priced against.
func (s *QuoteService) Book() *orderbook.OrderBook {
	return s.book
}

// Quote simulates req against the current book and prices its full cost.
func (s *QuoteService) Quote(ctx context.Context, req QuoteRequest) (CostReport, error) {
	tierName := req.FeeTier
	if tierName == "" {
		tierName = s.defaultFee
	}
	tier, ok := s.fees[tierName]
	if !ok {
		return CostReport{}, fmt.Errorf("%w: %q", ErrUnknownFeeTier, tierName)
	}

	start := time.Now()
	sim, view, err := s.simulator.Simulate(req.Side, req.Notional)
	if err != nil {
		return CostReport{}, err
	}
	elapsed := time.Since(start)

	horizon := impact.HorizonForDepth(view.Levels(req.Side).Len())
	est, err := s.model.Compute(req.Notional, horizon)
	if err != nil {
		return CostReport{}, fmt.Errorf("impact: %w", err)
	}

	report := CostReport{
		Instrument:     s.book.Instrument(),
		Simulation:     sim,
		Impact:         est,
		BookVersion:    view.Stats().Version,
		FeeTier:        tierName,
		FeeRate:        tier.Taker,
		FeeCost:        sim.FilledNotional.Mul(tier.Taker),
		ImpactCost:     est.TotalImpact,
		SimulationTime: elapsed,
	}

	report.SlippageFraction, report.SlippageSource = s.slippageFraction(ctx, req, sim, view)
	report.SlippageCost = adverse(req.Side, report.SlippageFraction).Mul(sim.FilledNotional)
	report.NetCost = report.SlippageCost.Add(report.FeeCost).Add(report.ImpactCost)

	if s.taker != nil {
		if p, err := s.taker.TakerProbability(ctx, takerFeatures(view)); err != nil {
			s.logger.Warn("Taker scorer failed", slog.Any("error", err))
		} else {
			report.TakerProbability = &p
		}
	}

	if s.recorder != nil {
		report.ID = s.record(ctx, report)
	}

	return report, nil
}

// slippageFraction prefers an external model and falls back to the book walk.
func (s *QuoteService) slippageFraction(ctx context.Context, req QuoteRequest, sim domain.SimulationResult, view *orderbook.View) (decimal.Decimal, string) {
	if s.slippage == nil {
		return sim.SlippageFraction, "book"
	}

	spread, _ := view.Spread()
	frac, err := s.slippage.PredictSlippage(ctx, SlippageFeatures{
		OrderSize:  req.Notional,
		Spread:     spread,
		Volatility: s.volatility,
	})
	if err != nil {
		s.logger.Warn("Slippage scorer failed, using book walk", slog.Any("error", err))
		return sim.SlippageFraction, "book"
	}
	return frac, "model"
}

func (s *QuoteService) record(ctx context.Context, r CostReport) string {
	rec := &domain.SimulationRecord{
		Instrument:       r.Instrument,
		Side:             r.Simulation.Side.String(),
		Notional:         r.Simulation.RequestedNotional.String(),
		FilledVolume:     r.Simulation.FilledVolume.String(),
		AveragePrice:     r.Simulation.AveragePrice.String(),
		SlippageFraction: r.SlippageFraction.String(),
		ImpactCost:       r.ImpactCost.String(),
		FeeCost:          r.FeeCost.String(),
		NetCost:          r.NetCost.String(),
	}
	if r.Simulation.MidPriceAvailable {
		rec.MidPrice = r.Simulation.ReferenceMidPrice.String()
	}

	rctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	if err := s.recorder.SaveSimulation(rctx, rec); err != nil {
		s.logger.Warn("Failed to record simulation", slog.Any("error", err))
		return ""
	}
	return rec.ID
}

// adverse turns a signed slippage fraction into a cost fraction for side:
// paying above mid costs a buyer, receiving below mid costs a seller.
func adverse(side domain.Side, frac decimal.Decimal) decimal.Decimal {
	if side == domain.SideSell {
		return frac.Neg()
	}
	return frac
}

func takerFeatures(view *orderbook.View) TakerFeatures {
	f := TakerFeatures{Imbalance: decimal.NewFromFloat(0.5)}

	spread, okSpread := view.Spread()
	if okSpread {
		f.Spread = spread
	}
	if mid, ok := view.MidPrice(); ok && okSpread && mid.IsPositive() {
		f.QuoteDistance = spread.Div(mid)
	}

	bid, okBid := view.Bids().Best()
	ask, okAsk := view.Asks().Best()
	if okBid && okAsk {
		if total := bid.Size.Add(ask.Size); total.IsPositive() {
			f.Imbalance = bid.Size.Div(total)
		}
	}
	return f
}

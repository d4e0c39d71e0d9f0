package execution

import (
	"errors"
	"math/rand"
	"strconv"
	"testing"

	"trade_sim/internal/domain"
	"trade_sim/internal/infra"
	"trade_sim/internal/orderbook"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func levels(pairs ...string) []domain.RawLevel {
	out := make([]domain.RawLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.RawLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func scenarioBook() *orderbook.OrderBook {
	b := orderbook.New("BTC-USDT-SWAP", 20)
	b.Update(
		levels("100.00", "2", "99.50", "3"),
		levels("100.50", "1", "101.00", "4"),
	)
	return b
}

func TestSimulate_BuyExactlyFirstLevel(t *testing.T) {
	res, err := Simulate(scenarioBook().View(), domain.SideBuy, d("100.50"))
	require.NoError(t, err)

	assert.Equal(t, domain.SideBuy, res.Side)
	assert.True(t, res.FilledVolume.Equal(d("1")), "volume = %s", res.FilledVolume)
	assert.True(t, res.FilledNotional.Equal(d("100.50")))
	assert.True(t, res.AveragePrice.Equal(d("100.50")), "avg = %s", res.AveragePrice)
	assert.True(t, res.ReferenceMidPrice.Equal(d("100.25")))
	assert.True(t, res.MidPriceAvailable)
	assert.InDelta(t, 0.0024937655860349, res.SlippageFraction.InexactFloat64(), 1e-12)
	assert.False(t, res.Underfilled())
}

func TestSimulate_BuyExhaustsBook(t *testing.T) {
	res, err := Simulate(scenarioBook().View(), domain.SideBuy, d("1000000"))
	require.NoError(t, err, "a partial fill is not an error")

	assert.True(t, res.FilledVolume.Equal(d("5")), "volume = %s", res.FilledVolume)
	assert.True(t, res.FilledNotional.Equal(d("504.50")), "notional = %s", res.FilledNotional)
	assert.True(t, res.RequestedNotional.Equal(d("1000000")))
	assert.True(t, res.Underfilled())
	assert.True(t, res.ShortfallNotional().Equal(d("999495.5")))
	assert.True(t, res.AveragePrice.Equal(d("100.9")), "avg = %s", res.AveragePrice)
}

func TestSimulate_SellSlippageIsNegative(t *testing.T) {
	res, err := Simulate(scenarioBook().View(), domain.SideSell, d("298.5"))
	require.NoError(t, err)

	// 200 from the 100.00 level, 98.5 from 99.50 → 2 + 0.98994974... base.
	assert.True(t, res.FilledNotional.Equal(d("298.5")))
	assert.True(t, res.AveragePrice.LessThanOrEqual(d("100")))
	assert.True(t, res.AveragePrice.GreaterThanOrEqual(d("99.5")))
	assert.True(t, res.SlippageFraction.IsNegative(), "sell below mid gives negative slippage, got %s", res.SlippageFraction)
}

func TestSimulate_EmptySide(t *testing.T) {
	b := orderbook.New("X", 20)
	b.Update(levels("100", "1"), nil)

	_, err := Simulate(b.View(), domain.SideBuy, d("100"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmptyBook))

	var empty *domain.EmptyBookError
	require.True(t, errors.As(err, &empty))
	assert.Equal(t, domain.SideBuy, empty.Side)
	assert.Contains(t, err.Error(), "asks")
}

func TestSimulate_MidUnavailableFlagsSlippage(t *testing.T) {
	b := orderbook.New("X", 20)
	b.Update(nil, levels("100", "1", "101", "1"))

	res, err := Simulate(b.View(), domain.SideBuy, d("150"))
	require.NoError(t, err)

	assert.False(t, res.MidPriceAvailable)
	assert.True(t, res.SlippageFraction.IsZero())
	assert.True(t, res.ReferenceMidPrice.IsZero())
}

func TestSimulate_CrossedBookStillSimulates(t *testing.T) {
	b := orderbook.New("X", 20)
	b.Update(levels("101", "1"), levels("100", "1"))

	res, err := Simulate(b.View(), domain.SideBuy, d("50"))
	require.NoError(t, err)
	assert.True(t, res.MidPriceAvailable)
	assert.True(t, res.ReferenceMidPrice.Equal(d("100.5")))
	assert.True(t, res.SlippageFraction.IsNegative(), "buying below a crossed mid")
}

func TestSimulate_DustNotionalIsUnfillable(t *testing.T) {
	_, err := Simulate(scenarioBook().View(), domain.SideBuy, d("0.000000000000000001"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnfillableOrder), "got %v", err)
}

func TestSimulate_RejectsNonPositiveNotional(t *testing.T) {
	for _, n := range []string{"0", "-5"} {
		_, err := Simulate(scenarioBook().View(), domain.SideBuy, d(n))
		assert.True(t, errors.Is(err, domain.ErrDegenerateInput), "notional %s: got %v", n, err)
	}
}

func TestSimulate_RejectsOutOfRangeNotional(t *testing.T) {
	for _, n := range []string{"1e200000000", "1e-200000000", "0.0000000000000000001"} {
		_, err := Simulate(scenarioBook().View(), domain.SideBuy, d(n))
		require.True(t, errors.Is(err, domain.ErrDegenerateInput), "notional %s: got %v", n, err)

		var de *domain.DegenerateInputError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "out of range", de.Reason)
	}
}

func TestSimulate_AveragePriceStaysOnConsumedLevels(t *testing.T) {
	b := orderbook.New("X", 20)
	b.Update(levels("2", "1"), levels("3", "1"))

	res, err := Simulate(b.View(), domain.SideBuy, d("1"))
	require.NoError(t, err)
	assert.True(t, res.AveragePrice.Equal(d("3")), "avg = %s", res.AveragePrice)

	res, err = Simulate(b.View(), domain.SideSell, d("1"))
	require.NoError(t, err)
	assert.True(t, res.AveragePrice.Equal(d("2")), "avg = %s", res.AveragePrice)
}

func TestSimulate_Properties(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	tol := d("0.000000001")

	for round := 0; round < 100; round++ {
		var bids, asks []domain.RawLevel
		for i := 0; i < rng.Intn(20)+1; i++ {
			bids = append(bids, domain.RawLevel{Price: strconv.Itoa(rng.Intn(100) + 900), Size: strconv.FormatFloat(rng.Float64()*5+0.01, 'f', 3, 64)})
			asks = append(asks, domain.RawLevel{Price: strconv.Itoa(rng.Intn(100) + 1000), Size: strconv.FormatFloat(rng.Float64()*5+0.01, 'f', 3, 64)})
		}
		b := orderbook.New("X", 20)
		b.Update(bids, asks)
		view := b.View()

		for _, side := range []domain.Side{domain.SideBuy, domain.SideSell} {
			set := view.Levels(side)
			total := set.TotalNotional()
			notional := total.Mul(decimal.NewFromFloat(rng.Float64())).Round(2)
			if !notional.IsPositive() {
				continue
			}

			res, err := Simulate(view, side, notional)
			require.NoError(t, err)
			require.True(t, res.FilledNotional.Sub(notional).Abs().LessThanOrEqual(tol),
				"filled %s, requested %s", res.FilledNotional, notional)

			best := set.At(0).Price
			worst := worstConsumed(set, notional)
			lo, hi := decimal.Min(best, worst), decimal.Max(best, worst)
			require.True(t, res.AveragePrice.GreaterThanOrEqual(lo) && res.AveragePrice.LessThanOrEqual(hi),
				"avg %s outside [%s, %s]", res.AveragePrice, lo, hi)
		}
	}
}

func worstConsumed(set orderbook.LevelSet, notional decimal.Decimal) decimal.Decimal {
	acc := decimal.Zero
	for i := 0; i < set.Len(); i++ {
		acc = acc.Add(set.At(i).Notional())
		if acc.GreaterThanOrEqual(notional) {
			return set.At(i).Price
		}
	}
	return set.At(set.Len() - 1).Price
}

func TestSimulator_RecordsMetrics(t *testing.T) {
	m := &infra.Metrics{}
	sim := NewSimulator(scenarioBook(), m)

	res, view, err := sim.Simulate(domain.SideBuy, d("100.50"))
	require.NoError(t, err)
	require.NotNil(t, view)
	assert.True(t, res.FilledVolume.Equal(d("1")))

	_, _, err = sim.Simulate(domain.SideBuy, d("0"))
	require.Error(t, err)

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.Simulations)
	assert.Equal(t, uint64(1), snap.SimulationErrors)
}

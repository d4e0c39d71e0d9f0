package orderbook

import (
	"math/rand"
	"strconv"
	"sync"
	"testing"

	"trade_sim/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scenarioBook is the two-level book used throughout the simulator tests.
func scenarioBook(t *testing.T) *OrderBook {
	t.Helper()
	b := New("BTC-USDT-SWAP", 20)
	b.Update(
		raw("100.00", "2", "99.50", "3"),
		raw("100.50", "1", "101.00", "4"),
	)
	return b
}

func TestOrderBook_TopOfBook(t *testing.T) {
	b := scenarioBook(t)

	bid, ok := b.BestBid()
	require.True(t, ok)
	assert.True(t, bid.Equal(d("100.00")), "best bid = %s", bid)

	ask, ok := b.BestAsk()
	require.True(t, ok)
	assert.True(t, ask.Equal(d("100.50")), "best ask = %s", ask)

	mid, ok := b.MidPrice()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("100.25")), "mid = %s", mid)

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(d("0.50")), "spread = %s", spread)

	assert.False(t, b.View().Crossed())
}

func TestOrderBook_EmptySidesReportNoLiquidity(t *testing.T) {
	b := New("BTC-USDT-SWAP", 0)
	assert.Equal(t, DefaultDepthLimit, b.DepthLimit())

	_, ok := b.BestBid()
	assert.False(t, ok)
	_, ok = b.BestAsk()
	assert.False(t, ok)
	_, ok = b.MidPrice()
	assert.False(t, ok)
	_, ok = b.Spread()
	assert.False(t, ok)

	// One side only: mid and spread stay undefined.
	b.Update(raw("100", "1"), nil)
	_, ok = b.BestBid()
	assert.True(t, ok)
	_, ok = b.MidPrice()
	assert.False(t, ok, "mid must be undefined while asks are empty")
	_, ok = b.Spread()
	assert.False(t, ok)
}

func TestOrderBook_CrossedBookIsReported(t *testing.T) {
	b := New("BTC-USDT-SWAP", 20)
	b.Update(raw("101", "1"), raw("100", "1"))

	spread, ok := b.Spread()
	require.True(t, ok)
	assert.True(t, spread.Equal(d("-1")), "spread is not clamped, got %s", spread)

	mid, ok := b.MidPrice()
	require.True(t, ok)
	assert.True(t, mid.Equal(d("100.5")))
	assert.True(t, b.View().Crossed())
}

func TestOrderBook_UpdateIsFullRefresh(t *testing.T) {
	b := scenarioBook(t)

	b.Update(raw("90", "1"), nil)

	v := b.View()
	assert.Equal(t, 1, v.Bids().Len())
	assert.True(t, v.Asks().IsEmpty(), "a side missing from the snapshot is empty, not stale")
}

func TestOrderBook_UpdateIdempotent(t *testing.T) {
	bids := raw("100", "2", "abc", "1", "99.5", "3", "100", "4")
	asks := raw("100.5", "1", "101", "0", "101", "4")

	b := New("X", 20)
	b.Update(bids, asks)
	once := b.View()

	b.Update(bids, asks)
	twice := b.View()

	assert.True(t, once.Bids().Equal(twice.Bids()))
	assert.True(t, once.Asks().Equal(twice.Asks()))
	assert.Greater(t, twice.Stats().Version, once.Stats().Version)
}

func TestOrderBook_UpdateStats(t *testing.T) {
	b := New("X", 20)
	stats := b.Update(raw("100", "1", "bad", "1"), raw("101", "1", "102", "0"))

	assert.Equal(t, uint64(1), stats.Version)
	assert.Equal(t, 1, stats.BidLevels)
	assert.Equal(t, 1, stats.AskLevels)
	assert.Equal(t, 2, stats.Rejected)
	assert.False(t, stats.LastUpdate.IsZero())
	assert.GreaterOrEqual(t, stats.ProcessingTime.Nanoseconds(), int64(0))
	assert.Equal(t, stats, b.Stats())
}

func TestOrderBook_DepthToFill(t *testing.T) {
	b := scenarioBook(t)

	tests := []struct {
		name     string
		side     domain.Side
		notional string
		want     string
	}{
		{"exactly first ask level", domain.SideBuy, "100.50", "1"},
		{"half of first ask level", domain.SideBuy, "50.25", "0.5"},
		{"into second ask level", domain.SideBuy, "201.50", "2"},
		{"exhausts asks", domain.SideBuy, "1000000", "5"},
		{"first bid level", domain.SideSell, "100", "1"},
		{"all bids", domain.SideSell, "498.5", "5"},
		{"zero notional", domain.SideBuy, "0", "0"},
		{"negative notional", domain.SideSell, "-10", "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := b.DepthToFill(tt.side, d(tt.notional))
			assert.True(t, got.Equal(d(tt.want)), "DepthToFill(%s, %s) = %s, want %s", tt.side, tt.notional, got, tt.want)
		})
	}
}

func TestOrderBook_DepthToFillOutOfRangeIsZero(t *testing.T) {
	b := New("X", 20)
	b.Update(raw("100", "1"), raw("101", "1"))

	assert.True(t, b.DepthToFill(domain.SideBuy, d("1e200000000")).IsZero())
	assert.True(t, b.DepthToFill(domain.SideSell, d("1e-200000000")).IsZero())
}

func TestOrderBook_DepthToFillMonotonic(t *testing.T) {
	rng := rand.New(rand.NewSource(11))

	for round := 0; round < 50; round++ {
		var asks []domain.RawLevel
		for i := 0; i < rng.Intn(20)+1; i++ {
			asks = append(asks, domain.RawLevel{
				Price: strconv.Itoa(rng.Intn(1000) + 1),
				Size:  strconv.FormatFloat(rng.Float64()*10+0.001, 'f', 4, 64),
			})
		}
		b := New("X", 20)
		b.Update(nil, asks)

		prev := decimal.Zero
		for n := 0; n <= 60; n++ {
			notional := decimal.NewFromInt(int64(n * 250))
			got := b.DepthToFill(domain.SideBuy, notional)
			require.True(t, got.GreaterThanOrEqual(prev), "depth decreased from %s to %s at notional %s", prev, got, notional)
			prev = got
		}
	}
}

func TestOrderBook_ConcurrentReadersNeverSeeTornState(t *testing.T) {
	b := New("X", 20)

	// Every snapshot k has best bid k and best ask k+1, so a consistent view
	// always has a spread of exactly 1.
	snapshot := func(k int) ([]domain.RawLevel, []domain.RawLevel) {
		p := strconv.Itoa(k)
		q := strconv.Itoa(k + 1)
		return raw(p, "1"), raw(q, "1")
	}
	b.Update(snapshot(100))

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := 101; k < 2000; k++ {
			b.Update(snapshot(k))
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				spread, ok := b.View().Spread()
				if !ok || !spread.Equal(decimal.NewFromInt(1)) {
					t.Errorf("torn read: spread=%s ok=%v", spread, ok)
					return
				}
			}
		}()
	}

	wg.Wait()
}

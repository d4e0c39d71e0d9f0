package infra

import (
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
)

// Metrics holds the process counters. Hot paths only touch atomics;
// Prometheus reads them lazily at scrape time through NewRegistry.
type Metrics struct {
	// Book updates
	snapshotsProcessed atomic.Uint64
	snapshotsDropped   atomic.Uint64
	sequenceGaps       atomic.Uint64
	invalidLevels      atomic.Uint64
	updateLatencySumNs atomic.Int64

	// Simulations
	simulations         atomic.Uint64
	simulationErrors    atomic.Uint64
	simulationLatencyNs atomic.Int64

	// Feed
	activeConnections atomic.Int32
	reconnects        atomic.Uint64

	// Recorder
	recordErrors atomic.Uint64
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordSnapshot records one applied book snapshot.
func (m *Metrics) RecordSnapshot(latencyNs int64, rejected int) {
	m.snapshotsProcessed.Add(1)
	m.updateLatencySumNs.Add(latencyNs)
	if rejected > 0 {
		m.invalidLevels.Add(uint64(rejected))
	}
}

// RecordDropped records a snapshot the feed could not hand to the sequencer.
func (m *Metrics) RecordDropped() {
	m.snapshotsDropped.Add(1)
}

// RecordGap records a jump in the snapshot sequence.
func (m *Metrics) RecordGap() {
	m.sequenceGaps.Add(1)
}

// RecordSimulation records one simulation attempt; err marks it failed.
func (m *Metrics) RecordSimulation(latencyNs int64, err error) {
	m.simulations.Add(1)
	m.simulationLatencyNs.Add(latencyNs)
	if err != nil {
		m.simulationErrors.Add(1)
	}
}

// RecordReconnect records a feed reconnect attempt.
func (m *Metrics) RecordReconnect() {
	m.reconnects.Add(1)
}

// RecordRecordError records a failed write to the tick recorder.
func (m *Metrics) RecordRecordError() {
	m.recordErrors.Add(1)
}

// IncrementConnections increments active connections by 1.
func (m *Metrics) IncrementConnections() {
	m.activeConnections.Add(1)
}

// DecrementConnections decrements active connections by 1.
func (m *Metrics) DecrementConnections() {
	m.activeConnections.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	SnapshotsProcessed   uint64
	SnapshotsDropped     uint64
	SequenceGaps         uint64
	InvalidLevels        uint64
	AvgUpdateLatencyNs   int64
	Simulations          uint64
	SimulationErrors     uint64
	AvgSimulationLatency int64
	ActiveConnections    int32
	Reconnects           uint64
	RecordErrors         uint64
	Timestamp            time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		SnapshotsProcessed: m.snapshotsProcessed.Load(),
		SnapshotsDropped:   m.snapshotsDropped.Load(),
		SequenceGaps:       m.sequenceGaps.Load(),
		InvalidLevels:      m.invalidLevels.Load(),
		Simulations:        m.simulations.Load(),
		SimulationErrors:   m.simulationErrors.Load(),
		ActiveConnections:  m.activeConnections.Load(),
		Reconnects:         m.reconnects.Load(),
		RecordErrors:       m.recordErrors.Load(),
		Timestamp:          time.Now(),
	}
	if snap.SnapshotsProcessed > 0 {
		snap.AvgUpdateLatencyNs = m.updateLatencySumNs.Load() / int64(snap.SnapshotsProcessed)
	}
	if snap.Simulations > 0 {
		snap.AvgSimulationLatency = m.simulationLatencyNs.Load() / int64(snap.Simulations)
	}
	return snap
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.snapshotsProcessed.Store(0)
	m.snapshotsDropped.Store(0)
	m.sequenceGaps.Store(0)
	m.invalidLevels.Store(0)
	m.updateLatencySumNs.Store(0)
	m.simulations.Store(0)
	m.simulationErrors.Store(0)
	m.simulationLatencyNs.Store(0)
	m.activeConnections.Store(0)
	m.reconnects.Store(0)
	m.recordErrors.Store(0)
}

// BookGauges is the read side of the order book exported as gauges.
type BookGauges interface {
	BestBid() (decimal.Decimal, bool)
	BestAsk() (decimal.Decimal, bool)
	MidPrice() (decimal.Decimal, bool)
	Spread() (decimal.Decimal, bool)
}

// NewRegistry builds a Prometheus registry exposing m and, when book is
// non-nil, its top-of-book gauges. A side without liquidity reads as NaN.
func NewRegistry(m *Metrics, book BookGauges) *prometheus.Registry {
	reg := prometheus.NewRegistry()

	counter := func(name, help string, v *atomic.Uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{Namespace: "tradesim", Name: name, Help: help},
			func() float64 { return float64(v.Load()) })
	}

	toRegister := []prometheus.Collector{
		counter("snapshots_processed_total", "Order book snapshots applied", &m.snapshotsProcessed),
		counter("snapshots_dropped_total", "Snapshots dropped because the sequencer inbox was full", &m.snapshotsDropped),
		counter("sequence_gaps_total", "Jumps in the snapshot sequence", &m.sequenceGaps),
		counter("invalid_levels_total", "Raw price levels rejected while building the book", &m.invalidLevels),
		counter("simulations_total", "Market order simulations run", &m.simulations),
		counter("simulation_errors_total", "Market order simulations that failed", &m.simulationErrors),
		counter("feed_reconnects_total", "Feed reconnect attempts", &m.reconnects),
		counter("record_errors_total", "Failed tick recorder writes", &m.recordErrors),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "tradesim", Name: "feed_connections", Help: "Open feed connections"},
			func() float64 { return float64(m.activeConnections.Load()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "tradesim", Name: "update_latency_avg_seconds", Help: "Average book build time"},
			func() float64 { return float64(m.Snapshot().AvgUpdateLatencyNs) / 1e9 }),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}

	if book != nil {
		gauge := func(name, help string, read func() (decimal.Decimal, bool)) prometheus.Collector {
			return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: "tradesim", Name: name, Help: help},
				func() float64 { return decimalOrNaN(read()) })
		}
		toRegister = append(toRegister,
			gauge("best_bid", "Best bid price", book.BestBid),
			gauge("best_ask", "Best ask price", book.BestAsk),
			gauge("mid_price", "Mid price", book.MidPrice),
			gauge("spread", "Best ask minus best bid", book.Spread),
		)
	}

	for _, c := range toRegister {
		reg.MustRegister(c)
	}
	return reg
}

// MetricsHandler serves reg in the Prometheus text format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

func decimalOrNaN(v decimal.Decimal, ok bool) float64 {
	if !ok {
		return math.NaN()
	}
	return v.InexactFloat64()
}

package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
	"trade_sim/internal/orderbook"
)

const recordTimeout = 2 * time.Second

// Sequencer is the single background task that applies feed snapshots to the
// order book. Only Run's goroutine writes the book; readers go through
// OrderBook.View and never wait on it.
type Sequencer struct {
	inbox   chan event.Event
	book    *orderbook.OrderBook
	nextSeq uint64
	metrics *infra.Metrics

	recorder    domain.TickRecorder
	recordEvery int
	applied     uint64

	// Boundary: notifies the presentation layer after each publish
	onUpdate func(*orderbook.View)

	dumpPath string
	logger   *slog.Logger
}

// NewSequencer creates a sequencer. metrics, recorder and onUpdate may be nil.
func NewSequencer(inboxSize int, book *orderbook.OrderBook, metrics *infra.Metrics, recorder domain.TickRecorder, onUpdate func(*orderbook.View)) *Sequencer {
	return &Sequencer{
		inbox:       make(chan event.Event, inboxSize),
		book:        book,
		nextSeq:     1,
		metrics:     metrics,
		recorder:    recorder,
		recordEvery: 1,
		onUpdate:    onUpdate,
		dumpPath:    "panic_dump.json",
		logger:      slog.Default().With("module", "sequencer", "instrument", book.Instrument()),
	}
}

// SetRecordEvery makes the recorder see only every nth applied snapshot.
func (s *Sequencer) SetRecordEvery(n int) {
	if n < 1 {
		n = 1
	}
	s.recordEvery = n
}

// SetDumpPath sets where the book is written if Run panics.
func (s *Sequencer) SetDumpPath(path string) {
	s.dumpPath = path
}

// Inbox returns the event channel. External workers send events here.
func (s *Sequencer) Inbox() chan<- event.Event {
	return s.inbox
}

// Run applies events until ctx is done. It must run in a single goroutine.
// A panic while applying is recovered, the book is dumped to disk and Run
// returns an error so the process can shut down cleanly.
func (s *Sequencer) Run(ctx context.Context) (err error) {
	s.logger.Info("Sequencer started")

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("CRITICAL_PANIC_DETECTED", slog.Any("panic", r))
			s.DumpState(s.dumpPath)
			err = fmt.Errorf("sequencer halted: %v", r)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sequencer stopping...")
			return nil
		case ev := <-s.inbox:
			s.processEvent(ctx, ev)
		}
	}
}

func (s *Sequencer) processEvent(ctx context.Context, ev event.Event) {
	switch e := ev.(type) {
	case *event.BookSnapshotEvent:
		// Foreign frames must not advance the sequence.
		if e.Symbol != "" && e.Symbol != s.book.Instrument() {
			s.logger.Warn("Snapshot for another instrument ignored", slog.String("symbol", e.Symbol))
		} else if s.checkSequence(e.Seq) {
			s.applySnapshot(ctx, e)
		}
		event.ReleaseBookSnapshotEvent(e)
	case *event.FeedStatusEvent:
		s.logger.Info("Feed status changed",
			slog.String("exchange", e.Exchange),
			slog.Bool("connected", e.Connected),
			slog.String("reason", e.Reason))
	default:
		s.logger.Warn("Unknown event type", slog.Any("type", ev.GetType()))
	}
}

// checkSequence reports whether a snapshot should be applied.
// Seq 0 is unsequenced. A jump forward is logged and counted but applied,
// since every snapshot is a full refresh. A snapshot older than one already
// applied is dropped so it cannot overwrite fresher state.
func (s *Sequencer) checkSequence(seq uint64) bool {
	if seq == 0 {
		return true
	}
	switch {
	case seq < s.nextSeq:
		s.logger.Warn("STALE_SNAPSHOT_DROPPED",
			slog.Uint64("expected", s.nextSeq),
			slog.Uint64("got", seq))
		if s.metrics != nil {
			s.metrics.RecordDropped()
		}
		return false
	case seq > s.nextSeq:
		s.logger.Warn("SEQUENCE_GAP_DETECTED",
			slog.Uint64("expected", s.nextSeq),
			slog.Uint64("got", seq),
			slog.Uint64("missed", seq-s.nextSeq))
		if s.metrics != nil {
			s.metrics.RecordGap()
		}
	}
	s.nextSeq = seq + 1
	return true
}

func (s *Sequencer) applySnapshot(ctx context.Context, e *event.BookSnapshotEvent) {
	stats := s.book.Update(e.Bids, e.Asks)
	s.applied++

	if s.metrics != nil {
		s.metrics.RecordSnapshot(stats.ProcessingTime.Nanoseconds(), stats.Rejected)
	}

	view := s.book.View()
	if view.Crossed() {
		spread, _ := view.Spread()
		s.logger.Debug("Crossed book published", slog.String("spread", spread.String()))
	}

	if s.recorder != nil && s.applied%uint64(s.recordEvery) == 0 {
		s.record(ctx, view, e.FeedTimestamp)
	}

	if s.onUpdate != nil {
		s.onUpdate(view)
	}
}

func (s *Sequencer) record(ctx context.Context, view *orderbook.View, feedTs string) {
	tick := TickFromView(s.book.Instrument(), feedTs, view)

	rctx, cancel := context.WithTimeout(ctx, recordTimeout)
	defer cancel()

	if err := s.recorder.SaveTick(rctx, tick); err != nil {
		s.logger.Warn("Failed to record tick", slog.Any("error", err))
		if s.metrics != nil {
			s.metrics.RecordRecordError()
		}
	}
}

// TickFromView summarises the top of a published book state.
// Missing sides leave their fields empty.
func TickFromView(instrument, feedTs string, view *orderbook.View) *domain.TickRecord {
	tick := &domain.TickRecord{
		Instrument: instrument,
		FeedTs:     feedTs,
		ReceivedAt: view.Stats().LastUpdate,
	}
	if lvl, ok := view.Bids().Best(); ok {
		tick.BestBid = lvl.Price.String()
		tick.TopBidQty = lvl.Size.String()
	}
	if lvl, ok := view.Asks().Best(); ok {
		tick.BestAsk = lvl.Price.String()
		tick.TopAskQty = lvl.Size.String()
	}
	if spread, ok := view.Spread(); ok {
		tick.Spread = spread.String()
	}
	if mid, ok := view.MidPrice(); ok {
		tick.MidPrice = mid.String()
	}
	return tick
}

// DumpState writes the current book to a file (for post-mortem).
func (s *Sequencer) DumpState(filename string) {
	s.logger.Info("Dumping internal state...", slog.String("file", filename))

	view := s.book.View()
	data := struct {
		Instrument string              `json:"instrument"`
		NextSeq    uint64              `json:"next_seq"`
		Stats      domain.UpdateStats  `json:"stats"`
		Bids       []domain.PriceLevel `json:"bids"`
		Asks       []domain.PriceLevel `json:"asks"`
	}{
		Instrument: s.book.Instrument(),
		NextSeq:    s.nextSeq,
		Stats:      view.Stats(),
		Bids:       view.Bids().Top(0),
		Asks:       view.Asks().Top(0),
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		s.logger.Error("Failed to marshal state", slog.Any("error", err))
		return
	}

	if err := os.WriteFile(filename, b, 0644); err != nil {
		s.logger.Error("Failed to write state dump", slog.Any("error", err))
	}
}

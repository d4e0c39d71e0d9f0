package engine

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"trade_sim/internal/domain"
	"trade_sim/internal/event"
	"trade_sim/internal/infra"
	"trade_sim/internal/orderbook"
)

func snapshot(seq uint64, bid, ask string) *event.BookSnapshotEvent {
	ev := event.AcquireBookSnapshotEvent()
	ev.Seq = seq
	ev.Symbol = "BTC-USDT-SWAP"
	ev.FeedTimestamp = "2025-05-04T10:39:13Z"
	ev.Bids = append(ev.Bids, domain.RawLevel{Price: bid, Size: "2"})
	ev.Asks = append(ev.Asks, domain.RawLevel{Price: ask, Size: "1"})
	return ev
}

type memRecorder struct {
	mu    sync.Mutex
	ticks []*domain.TickRecord
	err   error
}

func (r *memRecorder) SaveTick(_ context.Context, tick *domain.TickRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.ticks = append(r.ticks, tick)
	return nil
}

func (r *memRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ticks)
}

func TestSequencer_AppliesSnapshot(t *testing.T) {
	book := orderbook.New("BTC-USDT-SWAP", 20)
	updated := make(chan *orderbook.View, 1)
	seq := NewSequencer(10, book, nil, nil, func(v *orderbook.View) { updated <- v })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go seq.Run(ctx)

	seq.Inbox() <- snapshot(1, "100", "100.5")

	select {
	case v := <-updated:
		mid, ok := v.MidPrice()
		if !ok || mid.String() != "100.25" {
			t.Errorf("Expected mid 100.25, got %s (ok=%v)", mid, ok)
		}
	case <-time.After(time.Second):
		t.Fatal("Snapshot was not applied")
	}

	bid, ok := book.BestBid()
	if !ok || bid.String() != "100" {
		t.Errorf("Expected best bid 100, got %s", bid)
	}
}

func TestSequencer_GapIsCountedNotFatal(t *testing.T) {
	book := orderbook.New("BTC-USDT-SWAP", 20)
	m := &infra.Metrics{}
	seq := NewSequencer(10, book, m, nil, nil)
	ctx := context.Background()

	seq.processEvent(ctx, snapshot(1, "100", "101"))
	seq.processEvent(ctx, snapshot(4, "102", "103")) // 2 and 3 missed

	bid, _ := book.BestBid()
	if bid.String() != "102" {
		t.Errorf("Snapshot after a gap must still be applied, best bid %s", bid)
	}
	snap := m.Snapshot()
	if snap.SequenceGaps != 1 {
		t.Errorf("Expected 1 gap, got %d", snap.SequenceGaps)
	}
	if snap.SnapshotsProcessed != 2 {
		t.Errorf("Expected 2 applied snapshots, got %d", snap.SnapshotsProcessed)
	}
	if seq.nextSeq != 5 {
		t.Errorf("Expected next seq 5, got %d", seq.nextSeq)
	}
}

func TestSequencer_StaleSnapshotDropped(t *testing.T) {
	book := orderbook.New("BTC-USDT-SWAP", 20)
	m := &infra.Metrics{}
	seq := NewSequencer(10, book, m, nil, nil)
	ctx := context.Background()

	seq.processEvent(ctx, snapshot(5, "100", "101"))
	seq.processEvent(ctx, snapshot(3, "90", "91"))

	bid, _ := book.BestBid()
	if bid.String() != "100" {
		t.Errorf("A stale snapshot must not overwrite fresher state, best bid %s", bid)
	}
	if m.Snapshot().SnapshotsDropped != 1 {
		t.Errorf("Expected 1 dropped snapshot, got %d", m.Snapshot().SnapshotsDropped)
	}
}

func TestSequencer_IgnoresOtherInstrument(t *testing.T) {
	book := orderbook.New("BTC-USDT-SWAP", 20)
	seq := NewSequencer(10, book, nil, nil, nil)

	ev := snapshot(1, "100", "101")
	ev.Symbol = "ETH-USDT-SWAP"
	seq.processEvent(context.Background(), ev)

	if _, ok := book.BestBid(); ok {
		t.Error("Snapshot for another instrument must be ignored")
	}
}

func TestSequencer_OtherInstrumentDoesNotAdvanceSequence(t *testing.T) {
	book := orderbook.New("BTC-USDT-SWAP", 20)
	m := &infra.Metrics{}
	seq := NewSequencer(10, book, m, nil, nil)

	seq.processEvent(context.Background(), snapshot(1, "100", "101"))

	foreign := snapshot(2, "3000", "3001")
	foreign.Symbol = "ETH-USDT-SWAP"
	seq.processEvent(context.Background(), foreign)

	seq.processEvent(context.Background(), snapshot(2, "102", "103"))

	bid, ok := book.BestBid()
	if !ok || bid.String() != "102" {
		t.Errorf("Expected in-order snapshot to apply, best bid %s", bid)
	}
	snap := m.Snapshot()
	if snap.SnapshotsDropped != 0 || snap.SequenceGaps != 0 {
		t.Errorf("Expected no drops or gaps, got %d dropped, %d gaps", snap.SnapshotsDropped, snap.SequenceGaps)
	}
}

func TestSequencer_RecordsEveryNth(t *testing.T) {
	book := orderbook.New("BTC-USDT-SWAP", 20)
	rec := &memRecorder{}
	seq := NewSequencer(10, book, nil, rec, nil)
	seq.SetRecordEvery(2)

	for i := uint64(1); i <= 5; i++ {
		seq.processEvent(context.Background(), snapshot(i, "100", "101"))
	}

	if rec.count() != 2 {
		t.Fatalf("Expected 2 recorded ticks, got %d", rec.count())
	}
	tick := rec.ticks[0]
	if tick.BestBid != "100" || tick.BestAsk != "101" || tick.Spread != "1" || tick.MidPrice != "100.5" {
		t.Errorf("Unexpected tick: %+v", tick)
	}
	if tick.TopBidQty != "2" || tick.TopAskQty != "1" {
		t.Errorf("Unexpected top quantities: %+v", tick)
	}
	if tick.FeedTs != "2025-05-04T10:39:13Z" {
		t.Errorf("Expected feed timestamp to be kept, got %s", tick.FeedTs)
	}
}

func TestSequencer_RecorderFailureIsNotFatal(t *testing.T) {
	book := orderbook.New("BTC-USDT-SWAP", 20)
	m := &infra.Metrics{}
	rec := &memRecorder{err: errors.New("disk full")}
	seq := NewSequencer(10, book, m, rec, nil)

	seq.processEvent(context.Background(), snapshot(1, "100", "101"))

	if _, ok := book.BestBid(); !ok {
		t.Error("Book must be updated even when recording fails")
	}
	if m.Snapshot().RecordErrors != 1 {
		t.Errorf("Expected 1 record error, got %d", m.Snapshot().RecordErrors)
	}
}

func TestTickFromView_OneSided(t *testing.T) {
	book := orderbook.New("X", 20)
	book.Update([]domain.RawLevel{{Price: "100", Size: "1"}}, nil)

	tick := TickFromView("X", "", book.View())
	if tick.BestBid != "100" || tick.BestAsk != "" || tick.MidPrice != "" || tick.Spread != "" {
		t.Errorf("Unexpected one-sided tick: %+v", tick)
	}
}

func TestSequencer_PanicDumpsState(t *testing.T) {
	book := orderbook.New("BTC-USDT-SWAP", 20)
	seq := NewSequencer(10, book, nil, nil, func(*orderbook.View) { panic("boom") })
	dump := filepath.Join(t.TempDir(), "dump.json")
	seq.SetDumpPath(dump)

	seq.Inbox() <- snapshot(1, "100", "101")

	err := seq.Run(context.Background())
	if err == nil {
		t.Fatal("Expected Run to return an error after a panic")
	}

	data, readErr := os.ReadFile(dump)
	if readErr != nil {
		t.Fatalf("Expected a state dump: %v", readErr)
	}
	var out struct {
		Instrument string              `json:"instrument"`
		NextSeq    uint64              `json:"next_seq"`
		Bids       []domain.PriceLevel `json:"bids"`
	}
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Dump is not valid JSON: %v", err)
	}
	if out.Instrument != "BTC-USDT-SWAP" || out.NextSeq != 2 || len(out.Bids) != 1 {
		t.Errorf("Unexpected dump contents: %+v", out)
	}
}

package event

import (
	"testing"

	"trade_sim/internal/domain"
)

func TestBookSnapshotPool(t *testing.T) {
	ev := AcquireBookSnapshotEvent()
	ev.Seq = 7
	ev.Symbol = "BTC-USDT-SWAP"
	ev.Bids = append(ev.Bids, domain.RawLevel{Price: "100", Size: "1"})
	ev.Asks = append(ev.Asks, domain.RawLevel{Price: "101", Size: "2"})

	if ev.GetType() != EvBookSnapshot {
		t.Errorf("Expected EvBookSnapshot, got %d", ev.GetType())
	}

	ReleaseBookSnapshotEvent(ev)

	if ev.Seq != 0 || ev.Symbol != "" {
		t.Error("Event should be reset after release")
	}
	if len(ev.Bids) != 0 || len(ev.Asks) != 0 {
		t.Error("Level slices should be emptied after release")
	}

	ev2 := AcquireBookSnapshotEvent()
	if ev2.Symbol != "" || len(ev2.Bids) != 0 {
		t.Error("Acquired event should be zeroed")
	}
	ReleaseBookSnapshotEvent(ev2)
}

func TestReleaseNil(t *testing.T) {
	ReleaseBookSnapshotEvent(nil)
}

func TestWarmup(t *testing.T) {
	Warmup(20)
	ev := AcquireBookSnapshotEvent()
	defer ReleaseBookSnapshotEvent(ev)
	if len(ev.Bids) != 0 {
		t.Error("Warmed-up events must start empty")
	}
}

func BenchmarkWithoutPool(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ev := &BookSnapshotEvent{Symbol: "BTC"}
		ev.Bids = append(ev.Bids, domain.RawLevel{Price: "100", Size: "1"})
		_ = ev
	}
}

func BenchmarkWithPool(b *testing.B) {
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		ev := AcquireBookSnapshotEvent()
		ev.Symbol = "BTC"
		ev.Bids = append(ev.Bids, domain.RawLevel{Price: "100", Size: "1"})
		ReleaseBookSnapshotEvent(ev)
	}
}

package event

import (
	"sync"

	"trade_sim/internal/domain"
)

// Snapshots arrive several times a second, each with up to a few hundred
// levels, so the event and its level slices are pooled.
//
// Usage:
//
//	ev := AcquireBookSnapshotEvent()
//	ev.Bids = append(ev.Bids, domain.RawLevel{Price: "100", Size: "1"})
//	// ... hand to the sequencer ...
//	ReleaseBookSnapshotEvent(ev) // after the book has been updated
var bookSnapshotPool = sync.Pool{
	New: func() interface{} {
		return &BookSnapshotEvent{}
	},
}

// AcquireBookSnapshotEvent gets a BookSnapshotEvent from the pool.
// Its level slices are empty but may have spare capacity.
func AcquireBookSnapshotEvent() *BookSnapshotEvent {
	return bookSnapshotPool.Get().(*BookSnapshotEvent)
}

// ReleaseBookSnapshotEvent resets ev and returns it to the pool.
// ev must not be used afterwards.
func ReleaseBookSnapshotEvent(ev *BookSnapshotEvent) {
	if ev == nil {
		return
	}
	ev.Seq = 0
	ev.Ts = 0
	ev.Exchange = ""
	ev.Symbol = ""
	ev.FeedTimestamp = ""
	clear(ev.Bids)
	clear(ev.Asks)
	ev.Bids = ev.Bids[:0]
	ev.Asks = ev.Asks[:0]

	bookSnapshotPool.Put(ev)
}

// Warmup pre-allocates snapshot events to reduce GC pressure at startup.
func Warmup(levelsPerSide int) {
	const batchSize = 64

	evs := make([]*BookSnapshotEvent, 0, batchSize)
	for i := 0; i < batchSize; i++ {
		ev := AcquireBookSnapshotEvent()
		if cap(ev.Bids) < levelsPerSide {
			ev.Bids = make([]domain.RawLevel, 0, levelsPerSide)
			ev.Asks = make([]domain.RawLevel, 0, levelsPerSide)
		}
		evs = append(evs, ev)
	}
	for _, ev := range evs {
		ReleaseBookSnapshotEvent(ev)
	}
}

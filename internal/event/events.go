package event

import (
	"trade_sim/internal/domain"
)

// Type defines the type of event.
type Type uint16

const (
	EvBookSnapshot Type = iota + 1
	EvFeedStatus
)

// Event is the interface for all sequencer events.
type Event interface {
	GetSeq() uint64
	GetTs() int64
	GetType() Type
}

// BaseEvent contains common fields for all events.
type BaseEvent struct {
	Seq uint64 `json:"seq"`
	Ts  int64  `json:"ts"` // Receive time, unix microseconds
}

func (e BaseEvent) GetSeq() uint64 { return e.Seq }
func (e BaseEvent) GetTs() int64   { return e.Ts }

// BookSnapshotEvent is one full-refresh L2 snapshot as received from the feed.
// Levels are still raw text; the order book parses and validates them.
type BookSnapshotEvent struct {
	BaseEvent
	Exchange      string            `json:"exchange"`
	Symbol        string            `json:"symbol"`
	FeedTimestamp string            `json:"timestamp"`
	Bids          []domain.RawLevel `json:"bids"`
	Asks          []domain.RawLevel `json:"asks"`
}

func (e BookSnapshotEvent) GetType() Type { return EvBookSnapshot }

// FeedStatusEvent reports a feed connection change.
type FeedStatusEvent struct {
	BaseEvent
	Exchange  string `json:"exchange"`
	Connected bool   `json:"connected"`
	Reason    string `json:"reason,omitempty"`
}

func (e FeedStatusEvent) GetType() Type { return EvFeedStatus }

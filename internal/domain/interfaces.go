package domain

import (
	"context"
)

// FeedWorker defines the interface for snapshot feed connectors
type FeedWorker interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
}

// TickRecorder persists top-of-book history. Implementations are best effort;
// the book never depends on one being present.
type TickRecorder interface {
	SaveTick(ctx context.Context, tick *TickRecord) error
}

// SimulationRecorder keeps an audit trail of simulated trades.
type SimulationRecorder interface {
	SaveSimulation(ctx context.Context, rec *SimulationRecord) error
}

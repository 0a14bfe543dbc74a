// Package quotes provides live quote feed implementations.
package quotes

import (
	"context"

	"thesis-tracker/internal/models"
)

// Feed defines the interface for the live quote collaborator. The engine
// only ever consumes the latest snapshot; delivery cadence is owned by the
// feed.
type Feed interface {
	// Connect starts the feed. It returns once the transport is up;
	// delivery continues in the background until Close.
	Connect(ctx context.Context) error
	// Subscribe replaces the set of symbols the feed tracks.
	Subscribe(symbols []string) error
	// Snapshot returns the latest quote per subscribed symbol. Symbols
	// with no quote yet are absent from the map.
	Snapshot() map[string]models.Quote
	// OnUpdate registers a handler invoked whenever the snapshot changes.
	OnUpdate(handler func())
	// OnError registers a handler for transport errors.
	OnError(handler func(error))
	// Close stops the feed and releases the transport.
	Close() error
}

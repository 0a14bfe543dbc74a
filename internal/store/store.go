// Package store provides access to the remote thesis store and the local
// snapshot cache.
package store

import (
	"context"

	"thesis-tracker/internal/models"
)

// ThesisStore defines the remote persistence interface for theses.
// Update is the only write path the engine drives on its own; Create and
// Delete are user-initiated.
type ThesisStore interface {
	List(ctx context.Context) ([]models.Thesis, error)
	Update(ctx context.Context, id string, status models.Status) (*models.Thesis, error)
	Create(ctx context.Context, thesis *models.Thesis) (*models.Thesis, error)
	Delete(ctx context.Context, id string) error
}

// SnapshotStore defines the local cache of the last fetched remote snapshot.
// It lets a restarted session render last-known statuses before the first
// remote read completes.
type SnapshotStore interface {
	SaveSnapshot(ctx context.Context, theses []models.Thesis) error
	LoadSnapshot(ctx context.Context) ([]models.Thesis, error)
	Close() error
}

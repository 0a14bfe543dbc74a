package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"thesis-tracker/internal/models"
	"thesis-tracker/internal/store"
)

// Reconciler diffs locally derived statuses against the last-known remote
// snapshot and writes back only genuine changes.
//
// The per-id in-flight map guarantees at most one outstanding remote update
// per thesis: an item whose update is still in flight is skipped and picked
// up by a later pass. The map is process-wide by design, like the price
// cache, so consumer restarts cannot race duplicate writes onto one record.
type Reconciler struct {
	remote   store.ThesisStore
	snapshot store.SnapshotStore
	logger   zerolog.Logger

	mu         sync.Mutex
	inFlight   map[string]bool          // thesis id -> update outstanding
	lastRemote map[string]models.Status // thesis id -> last confirmed remote status
}

// NewReconciler creates a reconciler against the given remote store.
// Either collaborator may be nil: without a snapshot cache nothing is
// persisted locally, and without a remote store Reconcile is a no-op.
func NewReconciler(remote store.ThesisStore, snapshot store.SnapshotStore, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		remote:     remote,
		snapshot:   snapshot,
		logger:     logger.With().Str("component", "reconciler").Logger(),
		inFlight:   make(map[string]bool),
		lastRemote: make(map[string]models.Status),
	}
}

// SeedSnapshot primes the last-known remote statuses from a fetched (or
// locally cached) snapshot without issuing any writes.
func (r *Reconciler) SeedSnapshot(theses []models.Thesis) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range theses {
		if t.ID != "" {
			r.lastRemote[t.ID] = t.LastKnownRemoteStatus
		}
	}
}

// ReconcileResult summarizes one reconciliation pass.
type ReconcileResult struct {
	Updated   int
	Skipped   int // deferred: update already in flight
	Failed    int
	Unchanged int
}

// Reconcile compares each persisted thesis's derived status to the last
// confirmed remote status and pushes updates for the mismatches.
//
// Failures never abort the batch: each failed item is logged and stays
// eligible for retry on the next pass once its in-flight flag clears. After
// a batch that issued at least one update, the remote snapshot is refreshed
// once, not once per item.
func (r *Reconciler) Reconcile(ctx context.Context, theses []*models.Thesis) ReconcileResult {
	var result ReconcileResult
	var resultMu sync.Mutex
	var wg sync.WaitGroup

	// Cached-snapshot sessions have no store to write to; derived statuses
	// stay local until one is configured.
	if r.remote == nil {
		return result
	}

	for _, t := range theses {
		if !t.Persisted() || !t.Status.Valid() {
			continue
		}

		if !r.needsUpdate(t) {
			result.Unchanged++
			continue
		}

		// Test-and-set before the request goes out; a losing pass defers
		// to whichever pass owns the in-flight update.
		if !r.begin(t.ID) {
			result.Skipped++
			continue
		}

		wg.Add(1)
		go func(t *models.Thesis) {
			defer wg.Done()
			err := r.update(ctx, t)
			resultMu.Lock()
			if err != nil {
				result.Failed++
			} else {
				result.Updated++
			}
			resultMu.Unlock()
		}(t)
	}

	wg.Wait()

	if result.Updated > 0 || result.Failed > 0 {
		r.refresh(ctx, theses)
	}
	return result
}

func (r *Reconciler) needsUpdate(t *models.Thesis) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lastRemote[t.ID]
	if !ok {
		last = t.LastKnownRemoteStatus
	}
	return t.Status != last
}

// begin marks an update in flight for id. Returns false if one is already
// outstanding.
func (r *Reconciler) begin(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[id] {
		return false
	}
	r.inFlight[id] = true
	return true
}

func (r *Reconciler) update(ctx context.Context, t *models.Thesis) error {
	// Cleared on every path so a failed update is retried on a later pass
	// instead of wedging the thesis permanently.
	defer func() {
		r.mu.Lock()
		delete(r.inFlight, t.ID)
		r.mu.Unlock()
	}()

	updated, err := r.remote.Update(ctx, t.ID, t.Status)
	if err != nil {
		r.logger.Error().Err(err).
			Str("id", t.ID).
			Str("symbol", t.Symbol).
			Str("status", string(t.Status)).
			Msg("Status update failed, will retry on next pass")
		return err
	}

	r.mu.Lock()
	r.lastRemote[t.ID] = updated.Status
	r.mu.Unlock()
	t.LastKnownRemoteStatus = updated.Status

	r.logger.Info().
		Str("id", t.ID).
		Str("symbol", t.Symbol).
		Str("status", string(updated.Status)).
		Msg("Remote status updated")
	return nil
}

// refresh re-reads the remote snapshot once after a batch and re-seeds the
// last-known statuses, then persists the snapshot to the local cache.
func (r *Reconciler) refresh(ctx context.Context, theses []*models.Thesis) {
	remote, err := r.remote.List(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Snapshot refresh failed after update batch")
		return
	}

	r.SeedSnapshot(remote)

	byID := make(map[string]models.Thesis, len(remote))
	for _, t := range remote {
		byID[t.ID] = t
	}
	for _, t := range theses {
		if rt, ok := byID[t.ID]; ok {
			t.LastKnownRemoteStatus = rt.LastKnownRemoteStatus
		}
	}

	if r.snapshot != nil {
		if err := r.snapshot.SaveSnapshot(ctx, remote); err != nil {
			r.logger.Warn().Err(err).Msg("Persisting snapshot cache failed")
		}
	}
}

// InFlight reports whether an update is outstanding for the given id.
func (r *Reconciler) InFlight(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight[id]
}

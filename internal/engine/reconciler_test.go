package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"thesis-tracker/internal/models"
)

// fakeStore implements store.ThesisStore with scripted failures and update
// counting.
type fakeStore struct {
	mu        sync.Mutex
	theses    map[string]models.Thesis
	updates   map[string]int
	lists     int
	failIDs   map[string]bool
	blockOn   chan struct{} // when set, Update waits until closed
	updateLog []string
}

func newFakeStore(theses ...models.Thesis) *fakeStore {
	s := &fakeStore{
		theses:  make(map[string]models.Thesis),
		updates: make(map[string]int),
		failIDs: make(map[string]bool),
	}
	for _, t := range theses {
		s.theses[t.ID] = t
	}
	return s
}

func (s *fakeStore) List(ctx context.Context) ([]models.Thesis, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lists++
	out := make([]models.Thesis, 0, len(s.theses))
	for _, t := range s.theses {
		t.LastKnownRemoteStatus = t.Status
		out = append(out, t)
	}
	return out, nil
}

func (s *fakeStore) Update(ctx context.Context, id string, status models.Status) (*models.Thesis, error) {
	s.mu.Lock()
	s.updates[id]++
	s.updateLog = append(s.updateLog, id)
	fail := s.failIDs[id]
	block := s.blockOn
	s.mu.Unlock()

	if block != nil {
		<-block
	}
	if fail {
		return nil, errors.New("update rejected")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.theses[id]
	t.Status = status
	t.LastKnownRemoteStatus = status
	s.theses[id] = t
	return &t, nil
}

func (s *fakeStore) Create(ctx context.Context, thesis *models.Thesis) (*models.Thesis, error) {
	return thesis, nil
}

func (s *fakeStore) Delete(ctx context.Context, id string) error {
	return nil
}

func (s *fakeStore) updateCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updates[id]
}

func (s *fakeStore) listCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lists
}

func remoteThesis(id, symbol string, status models.Status) models.Thesis {
	return models.Thesis{
		ID:                    id,
		Symbol:                symbol,
		Status:                status,
		LastKnownRemoteStatus: status,
	}
}

func TestReconcileWritesOnlyChanges(t *testing.T) {
	remote := newFakeStore(
		remoteThesis("t1", "AAPL", models.StatusOnTrack),
		remoteThesis("t2", "MSFT", models.StatusOnTrack),
	)
	rec := NewReconciler(remote, nil, zerolog.Nop())

	changed := remoteThesis("t1", "AAPL", models.StatusOnTrack)
	changed.Status = models.StatusAchieved
	unchanged := remoteThesis("t2", "MSFT", models.StatusOnTrack)

	result := rec.Reconcile(context.Background(), []*models.Thesis{&changed, &unchanged})
	if result.Updated != 1 || result.Unchanged != 1 {
		t.Fatalf("result = %+v, want 1 updated, 1 unchanged", result)
	}
	if got := remote.updateCount("t1"); got != 1 {
		t.Errorf("t1 updated %d times, want 1", got)
	}
	if got := remote.updateCount("t2"); got != 0 {
		t.Errorf("t2 updated %d times, want 0", got)
	}
}

func TestReconcileSecondPassIsIdempotent(t *testing.T) {
	remote := newFakeStore(remoteThesis("t1", "AAPL", models.StatusOnTrack))
	rec := NewReconciler(remote, nil, zerolog.Nop())

	thesis := remoteThesis("t1", "AAPL", models.StatusOnTrack)
	thesis.Status = models.StatusAchieved

	rec.Reconcile(context.Background(), []*models.Thesis{&thesis})
	result := rec.Reconcile(context.Background(), []*models.Thesis{&thesis})

	if result.Updated != 0 {
		t.Errorf("second pass issued %d updates, want 0", result.Updated)
	}
	if got := remote.updateCount("t1"); got != 1 {
		t.Errorf("t1 updated %d times across both passes, want 1", got)
	}
}

func TestReconcileSkipsInFlightUpdates(t *testing.T) {
	remote := newFakeStore(remoteThesis("t1", "AAPL", models.StatusOnTrack))
	remote.blockOn = make(chan struct{})
	rec := NewReconciler(remote, nil, zerolog.Nop())

	thesis := remoteThesis("t1", "AAPL", models.StatusOnTrack)
	thesis.Status = models.StatusBreached

	firstDone := make(chan ReconcileResult, 1)
	go func() {
		firstDone <- rec.Reconcile(context.Background(), []*models.Thesis{&thesis})
	}()

	// Wait for the first pass to put the update in flight.
	deadline := time.After(time.Second)
	for !rec.InFlight("t1") {
		select {
		case <-deadline:
			t.Fatal("update never became in-flight")
		case <-time.After(time.Millisecond):
		}
	}

	second := rec.Reconcile(context.Background(), []*models.Thesis{&thesis})
	if second.Skipped != 1 || second.Updated != 0 {
		t.Fatalf("concurrent pass = %+v, want it to defer to the in-flight update", second)
	}

	close(remote.blockOn)
	first := <-firstDone
	if first.Updated != 1 {
		t.Fatalf("first pass = %+v, want 1 update", first)
	}
	if got := remote.updateCount("t1"); got != 1 {
		t.Errorf("t1 received %d writes, want exactly 1", got)
	}
}

func TestReconcileFailureIsRetriedNextPass(t *testing.T) {
	remote := newFakeStore(remoteThesis("t1", "AAPL", models.StatusOnTrack))
	remote.failIDs["t1"] = true
	rec := NewReconciler(remote, nil, zerolog.Nop())

	thesis := remoteThesis("t1", "AAPL", models.StatusOnTrack)
	thesis.Status = models.StatusAchieved

	result := rec.Reconcile(context.Background(), []*models.Thesis{&thesis})
	if result.Failed != 1 {
		t.Fatalf("result = %+v, want 1 failed", result)
	}
	if rec.InFlight("t1") {
		t.Fatal("in-flight flag not cleared after failure")
	}

	// The store recovers; the next pass retries the same change.
	remote.mu.Lock()
	remote.failIDs["t1"] = false
	remote.mu.Unlock()

	result = rec.Reconcile(context.Background(), []*models.Thesis{&thesis})
	if result.Updated != 1 {
		t.Fatalf("retry pass = %+v, want 1 updated", result)
	}
	if got := remote.updateCount("t1"); got != 2 {
		t.Errorf("t1 saw %d update attempts, want 2", got)
	}
}

func TestReconcileRefreshesSnapshotOncePerBatch(t *testing.T) {
	remote := newFakeStore(
		remoteThesis("t1", "AAPL", models.StatusOnTrack),
		remoteThesis("t2", "MSFT", models.StatusOnTrack),
		remoteThesis("t3", "NVDA", models.StatusOnTrack),
	)
	rec := NewReconciler(remote, nil, zerolog.Nop())

	theses := []*models.Thesis{}
	for _, id := range []string{"t1", "t2", "t3"} {
		th := remoteThesis(id, id, models.StatusOnTrack)
		th.Status = models.StatusAchieved
		theses = append(theses, &th)
	}

	rec.Reconcile(context.Background(), theses)
	if got := remote.listCount(); got != 1 {
		t.Errorf("snapshot refreshed %d times for one batch, want 1", got)
	}
}

func TestReconcileSkipsUnpersistedTheses(t *testing.T) {
	remote := newFakeStore()
	rec := NewReconciler(remote, nil, zerolog.Nop())

	local := models.Thesis{Symbol: "NEW", Status: models.StatusAchieved}
	result := rec.Reconcile(context.Background(), []*models.Thesis{&local})
	if result.Updated != 0 || result.Failed != 0 {
		t.Errorf("result = %+v, want no writes for a local-only thesis", result)
	}
	if got := remote.listCount(); got != 0 {
		t.Errorf("snapshot refreshed %d times with nothing written, want 0", got)
	}
}

func TestReconcileWithoutRemoteStoreIsNoOp(t *testing.T) {
	rec := NewReconciler(nil, nil, zerolog.Nop())

	thesis := remoteThesis("t1", "AAPL", models.StatusOnTrack)
	thesis.Status = models.StatusAchieved

	// Cached-snapshot sessions run with no store configured; a derived
	// status change must not panic, it simply stays local.
	result := rec.Reconcile(context.Background(), []*models.Thesis{&thesis})
	if result != (ReconcileResult{}) {
		t.Errorf("result = %+v, want an empty pass without a remote store", result)
	}
}

func TestReconcileFailureDoesNotBlockBatch(t *testing.T) {
	remote := newFakeStore(
		remoteThesis("bad", "BAD", models.StatusOnTrack),
		remoteThesis("good", "GOOD", models.StatusOnTrack),
	)
	remote.failIDs["bad"] = true
	rec := NewReconciler(remote, nil, zerolog.Nop())

	bad := remoteThesis("bad", "BAD", models.StatusOnTrack)
	bad.Status = models.StatusBreached
	good := remoteThesis("good", "GOOD", models.StatusOnTrack)
	good.Status = models.StatusAchieved

	result := rec.Reconcile(context.Background(), []*models.Thesis{&bad, &good})
	if result.Updated != 1 || result.Failed != 1 {
		t.Fatalf("result = %+v, want the good update to land despite the bad one", result)
	}
	if good.LastKnownRemoteStatus != models.StatusAchieved {
		t.Errorf("good.LastKnownRemoteStatus = %s, want %s", good.LastKnownRemoteStatus, models.StatusAchieved)
	}
}

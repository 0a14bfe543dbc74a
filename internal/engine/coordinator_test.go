package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"thesis-tracker/internal/models"
)

// fakeFeed implements quotes.Feed with a settable snapshot.
type fakeFeed struct {
	mu       sync.Mutex
	latest   map[string]models.Quote
	onUpdate func()
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{latest: make(map[string]models.Quote)}
}

func (f *fakeFeed) Connect(ctx context.Context) error { return nil }
func (f *fakeFeed) Subscribe(symbols []string) error  { return nil }
func (f *fakeFeed) Close() error                      { return nil }
func (f *fakeFeed) OnError(handler func(error))       {}

func (f *fakeFeed) OnUpdate(handler func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = handler
}

func (f *fakeFeed) Snapshot() map[string]models.Quote {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]models.Quote, len(f.latest))
	for k, v := range f.latest {
		out[k] = v
	}
	return out
}

func (f *fakeFeed) push(symbol string, price float64) {
	f.mu.Lock()
	f.latest[symbol] = models.Quote{Symbol: symbol, Price: price, AsOf: time.Now()}
	handler := f.onUpdate
	f.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func newTestCoordinator(feed *fakeFeed, lookup *fakeLookup, remote *fakeStore) *Coordinator {
	cache := NewPriceCache(lookup, zerolog.Nop())
	rec := NewReconciler(remote, nil, zerolog.Nop())
	return NewCoordinator(NewEvaluator(DefaultEvalConfig()), cache, rec, feed, zerolog.Nop())
}

func TestPassUsesLiveQuoteOverFallback(t *testing.T) {
	feed := newFakeFeed()
	feed.push("AAPL", 150)
	lookup := newFakeLookup()
	lookup.prices["AAPL"] = 120
	remote := newFakeStore(remoteThesis("t1", "AAPL", models.StatusOnTrack))

	c := newTestCoordinator(feed, lookup, remote)
	defer c.Close()
	c.SetTheses([]models.Thesis{remoteThesis("t1", "AAPL", models.StatusOnTrack)})
	c.RunOnce(context.Background())

	views := c.Views()
	if len(views) != 1 {
		t.Fatalf("got %d views, want 1", len(views))
	}
	v := views[0]
	if v.Observation.Source != models.SourceLive {
		t.Errorf("source = %s, want live", v.Observation.Source)
	}
	if v.Observation.Price == nil || *v.Observation.Price != 150 {
		t.Errorf("price = %v, want the live quote 150", v.Observation.Price)
	}
	if got := lookup.callCount("AAPL"); got != 0 {
		t.Errorf("fallback fetched %d times despite a live quote, want 0", got)
	}
}

func TestMissingQuoteTriggersOneFallbackFetch(t *testing.T) {
	feed := newFakeFeed()
	lookup := newFakeLookup()
	lookup.prices["MSFT"] = 410
	remote := newFakeStore(remoteThesis("t1", "MSFT", models.StatusOnTrack))

	c := newTestCoordinator(feed, lookup, remote)
	defer c.Close()
	c.SetTheses([]models.Thesis{remoteThesis("t1", "MSFT", models.StatusOnTrack)})

	// First pass: no live quote, nothing cached; a fetch is kicked off
	// and the view reports the price as pending.
	c.RunOnce(context.Background())
	views := c.Views()
	if views[0].Observation.Price != nil {
		t.Errorf("first pass price = %v, want nil while fetching", *views[0].Observation.Price)
	}

	// Wait for the async fetch to land in the cache.
	deadline := time.After(time.Second)
	for {
		if _, cached, _ := c.cache.Peek("MSFT"); cached {
			break
		}
		select {
		case <-deadline:
			t.Fatal("fallback fetch never completed")
		case <-time.After(time.Millisecond):
		}
	}

	// Next pass consumes the cached fallback price.
	c.RunOnce(context.Background())
	views = c.Views()
	v := views[0]
	if v.Observation.Source != models.SourceFallback {
		t.Errorf("source = %s, want fallback", v.Observation.Source)
	}
	if v.Observation.Price == nil || *v.Observation.Price != 410 {
		t.Errorf("price = %v, want cached fallback 410", v.Observation.Price)
	}
	if v.Fetching {
		t.Error("view still marked fetching after the cache resolved")
	}
	if got := lookup.callCount("MSFT"); got != 1 {
		t.Errorf("lookup called %d times across passes, want 1", got)
	}
}

func TestCachedFailureYieldsNilPriceWithoutRefetch(t *testing.T) {
	feed := newFakeFeed()
	lookup := newFakeLookup()
	lookup.fail["JUNK"] = true
	remote := newFakeStore(remoteThesis("t1", "JUNK", models.StatusOnTrack))

	c := newTestCoordinator(feed, lookup, remote)
	defer c.Close()
	c.SetTheses([]models.Thesis{remoteThesis("t1", "JUNK", models.StatusOnTrack)})

	c.RunOnce(context.Background())
	deadline := time.After(time.Second)
	for {
		if _, cached, _ := c.cache.Peek("JUNK"); cached {
			break
		}
		select {
		case <-deadline:
			t.Fatal("fallback fetch never completed")
		case <-time.After(time.Millisecond):
		}
	}

	c.RunOnce(context.Background())
	c.RunOnce(context.Background())

	views := c.Views()
	if views[0].Observation.Price != nil {
		t.Errorf("price = %v, want nil for a cached failure", *views[0].Observation.Price)
	}
	if views[0].Fetching {
		t.Error("cached failure still rendered as fetching")
	}
	if got := lookup.callCount("JUNK"); got != 1 {
		t.Errorf("lookup called %d times, want 1 (failure is terminal this session)", got)
	}
}

func TestStatusChangeReconcilesOnce(t *testing.T) {
	feed := newFakeFeed()
	feed.push("AAPL", 160)
	lookup := newFakeLookup()
	remote := newFakeStore(remoteThesis("t1", "AAPL", models.StatusOnTrack))

	c := newTestCoordinator(feed, lookup, remote)
	defer c.Close()

	thesis := remoteThesis("t1", "AAPL", models.StatusOnTrack)
	thesis.Entry = models.Float(100)
	thesis.Target = models.Float(150)
	thesis.Stop = models.Float(90)
	c.SetTheses([]models.Thesis{thesis})

	// Two rapid passes with the same quote: the status flips to achieved
	// once and the second pass writes nothing.
	c.RunOnce(context.Background())
	c.RunOnce(context.Background())

	if got := remote.updateCount("t1"); got != 1 {
		t.Errorf("t1 written %d times across two passes, want 1", got)
	}

	views := c.Views()
	if views[0].Thesis.Status != models.StatusAchieved {
		t.Errorf("status = %s, want %s", views[0].Thesis.Status, models.StatusAchieved)
	}
}

func TestCloseDiscardsLateFallbackResults(t *testing.T) {
	feed := newFakeFeed()
	lookup := newFakeLookup()
	lookup.prices["SLOW"] = 50
	lookup.block = make(chan struct{})
	remote := newFakeStore(remoteThesis("t1", "SLOW", models.StatusOnTrack))

	c := newTestCoordinator(feed, lookup, remote)
	c.SetTheses([]models.Thesis{remoteThesis("t1", "SLOW", models.StatusOnTrack)})
	c.RunOnce(context.Background())

	// Drain the trigger left by SetTheses so only a late result could
	// schedule a pass from here on.
	select {
	case <-c.trigger:
	default:
	}

	// Tear the coordinator down while the fetch is still in flight, then
	// let it resolve. The late result must not schedule another pass.
	c.Close()
	close(lookup.block)

	time.Sleep(20 * time.Millisecond)
	select {
	case <-c.trigger:
		t.Error("late fallback result triggered a pass on a closed coordinator")
	default:
	}
}

func TestViewsAreCopiesSafeUnderConcurrentPasses(t *testing.T) {
	feed := newFakeFeed()
	feed.push("AAPL", 160)
	lookup := newFakeLookup()
	remote := newFakeStore(remoteThesis("t1", "AAPL", models.StatusOnTrack))

	c := newTestCoordinator(feed, lookup, remote)
	defer c.Close()

	thesis := remoteThesis("t1", "AAPL", models.StatusOnTrack)
	thesis.Entry = models.Float(100)
	thesis.Target = models.Float(150)
	thesis.Stop = models.Float(90)
	c.SetTheses([]models.Thesis{thesis})

	// Passes keep flipping the status between achieved and breached while a
	// renderer reads the views. Views hold copies, so the race detector must
	// stay quiet and every read must see a coherent thesis.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 50; i++ {
			if i%2 == 0 {
				feed.push("AAPL", 160)
			} else {
				feed.push("AAPL", 80)
			}
			c.RunOnce(context.Background())
		}
	}()

	for i := 0; i < 500; i++ {
		for _, v := range c.Views() {
			if s := v.Thesis.Status; s != "" && !s.Valid() {
				t.Fatalf("view exposed a torn status %q", s)
			}
			_ = v.Thesis.LastKnownRemoteStatus
		}
	}
	<-done
}

func TestTriggerCoalesces(t *testing.T) {
	feed := newFakeFeed()
	c := newTestCoordinator(feed, newFakeLookup(), newFakeStore())
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.Trigger()
	}
	<-c.trigger
	select {
	case <-c.trigger:
		t.Error("ten triggers queued more than one pending pass")
	default:
	}
}

package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"thesis-tracker/internal/models"
	"thesis-tracker/internal/quotes"
)

// ThesisView is one tracked thesis annotated with its latest observation
// and evaluation for rendering. Thesis is a value copy taken under the
// coordinator lock, so views are safe to read while passes keep mutating
// the tracked set.
type ThesisView struct {
	Thesis      models.Thesis
	Observation models.PriceObservation
	Evaluation  models.Evaluation
	// Fetching is true while a fallback price lookup is in flight.
	Fetching bool
}

// Coordinator drives re-evaluation of the tracked set whenever quotes,
// fallback prices, or the set itself change.
//
// Re-evaluation is level-triggered: any relevant input change schedules a
// full recompute over all tracked theses rather than patching single items.
// The redundant computation buys much simpler consistency reasoning.
type Coordinator struct {
	evaluator  *Evaluator
	cache      *PriceCache
	reconciler *Reconciler
	feed       quotes.Feed
	logger     zerolog.Logger

	mu     sync.Mutex
	theses map[string]*models.Thesis // by symbol
	views  map[string]ThesisView
	closed bool

	// trigger coalesces pending re-evaluation requests; capacity one is
	// enough because a pass always reads the latest state.
	trigger chan struct{}
	done    chan struct{}

	onPass func() // test hook, invoked after every completed pass
}

// NewCoordinator wires the engine components together. The cache and
// reconciler are injected rather than constructed here so their
// process-wide lifetime outlives any one coordinator.
func NewCoordinator(ev *Evaluator, cache *PriceCache, rec *Reconciler, feed quotes.Feed, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		evaluator:  ev,
		cache:      cache,
		reconciler: rec,
		feed:       feed,
		logger:     logger.With().Str("component", "coordinator").Logger(),
		theses:     make(map[string]*models.Thesis),
		views:      make(map[string]ThesisView),
		trigger:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// SetTheses replaces the tracked set and schedules a pass.
func (c *Coordinator) SetTheses(theses []models.Thesis) {
	c.mu.Lock()
	c.theses = make(map[string]*models.Thesis, len(theses))
	for i := range theses {
		t := theses[i]
		c.theses[t.Symbol] = &t
	}
	symbols := make([]string, 0, len(c.theses))
	for symbol := range c.theses {
		symbols = append(symbols, symbol)
	}
	c.mu.Unlock()

	sort.Strings(symbols)
	if err := c.feed.Subscribe(symbols); err != nil {
		c.logger.Warn().Err(err).Msg("Feed subscription failed")
	}
	c.Trigger()
}

// Trigger schedules a re-evaluation pass. Multiple triggers before the
// pass runs coalesce into one.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Run connects the feed and processes passes until ctx is cancelled or
// Close is called.
func (c *Coordinator) Run(ctx context.Context) error {
	c.feed.OnUpdate(c.Trigger)
	c.feed.OnError(func(err error) {
		c.logger.Warn().Err(err).Msg("Quote feed error")
	})

	if err := c.feed.Connect(ctx); err != nil {
		return err
	}

	c.Trigger()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.done:
			return nil
		case <-c.trigger:
			c.pass(ctx)
		}
	}
}

// RunOnce performs a single evaluation and reconciliation pass, for
// one-shot invocations that do not run the feed loop.
func (c *Coordinator) RunOnce(ctx context.Context) {
	c.pass(ctx)
}

// pass performs one full evaluation over the tracked set followed by a
// reconciliation of the results.
func (c *Coordinator) pass(ctx context.Context) {
	snapshot := c.feed.Snapshot()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	theses := make([]*models.Thesis, 0, len(c.theses))
	for _, t := range c.theses {
		theses = append(theses, t)
	}
	c.mu.Unlock()

	sort.Slice(theses, func(i, j int) bool { return theses[i].Symbol < theses[j].Symbol })

	prices := make(map[string]*float64, len(theses))
	observations := make(map[string]models.PriceObservation, len(theses))
	fetching := make(map[string]bool)

	for _, t := range theses {
		obs, pending := c.observe(ctx, t.Symbol, snapshot)
		observations[t.Symbol] = obs
		prices[t.Symbol] = obs.Price
		fetching[t.Symbol] = pending
	}

	evals := c.evaluator.EvaluateAll(theses, prices)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	views := make(map[string]ThesisView, len(evals))
	for i, ev := range evals {
		t := theses[i]
		// Status is the only thesis field the engine mutates.
		if ev.Status != "" {
			t.Status = ev.Status
		}
		views[t.Symbol] = ThesisView{
			Thesis:      *t,
			Observation: observations[t.Symbol],
			Evaluation:  ev,
			Fetching:    fetching[t.Symbol],
		}
	}
	c.views = views
	c.mu.Unlock()

	result := c.reconciler.Reconcile(ctx, theses)
	if result.Updated > 0 || result.Failed > 0 || result.Skipped > 0 {
		c.logger.Debug().
			Int("updated", result.Updated).
			Int("failed", result.Failed).
			Int("skipped", result.Skipped).
			Msg("Reconciliation pass complete")
	}

	if c.onPass != nil {
		c.onPass()
	}
}

// observe resolves the current price for one symbol: live quote first, then
// cached fallback (a cached failure yields a nil price), otherwise a
// fallback fetch is kicked off asynchronously and this pass reports the
// price as still fetching.
func (c *Coordinator) observe(ctx context.Context, symbol string, snapshot map[string]models.Quote) (models.PriceObservation, bool) {
	if quote, ok := snapshot[symbol]; ok {
		return models.PriceObservation{
			Symbol: symbol,
			Price:  models.Float(quote.Price),
			Source: models.SourceLive,
			AsOf:   quote.AsOf,
		}, false
	}

	price, cached, pending := c.cache.Peek(symbol)
	if cached {
		return models.PriceObservation{
			Symbol: symbol,
			Price:  price,
			Source: models.SourceFallback,
			AsOf:   time.Now(),
		}, false
	}

	if !pending {
		go c.fetchFallback(ctx, symbol)
	}

	return models.PriceObservation{
		Symbol: symbol,
		Source: models.SourceFallback,
		AsOf:   time.Now(),
	}, true
}

// fetchFallback resolves a fallback price in the background and schedules
// the next pass on completion. Results that arrive after Close are
// discarded: triggering a torn-down coordinator would revive stale state.
func (c *Coordinator) fetchFallback(ctx context.Context, symbol string) {
	if _, err := c.cache.FallbackPrice(ctx, symbol); err != nil {
		c.logger.Debug().Err(err).Str("symbol", symbol).Msg("Fallback price unavailable")
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return
	}
	c.Trigger()
}

// Views returns the latest evaluation views ordered by symbol.
func (c *Coordinator) Views() []ThesisView {
	c.mu.Lock()
	defer c.mu.Unlock()
	views := make([]ThesisView, 0, len(c.views))
	for _, v := range c.views {
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Thesis.Symbol < views[j].Thesis.Symbol })
	return views
}

// Close tears the coordinator down. In-flight fallback fetches complete
// into the shared cache but no longer trigger passes here.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()
	close(c.done)
}

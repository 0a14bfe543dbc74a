package engine

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	trackererrors "thesis-tracker/internal/errors"
	"thesis-tracker/internal/models"
)

// PriceLookup is the collaborator that resolves a last-known price for a
// symbol absent from the live feed.
type PriceLookup interface {
	LastPrice(ctx context.Context, symbol string) (float64, error)
}

// PriceCache memoizes fallback price lookups per symbol.
//
// At most one lookup is ever in flight per symbol: concurrent callers join
// the pending fetch instead of issuing a second one. A failed lookup is
// cached as a nil price and is terminal for the session; only Reset
// re-enables a retry. Lookups aborted by context cancellation are not
// cached. The cache is process-wide by design so that rapid consumer
// restarts never duplicate in-flight work.
type PriceCache struct {
	lookup PriceLookup
	logger zerolog.Logger

	mu      sync.Mutex
	prices  map[string]*float64      // resolved results; nil value = cached failure
	pending map[string]chan struct{} // closed when the in-flight fetch completes
}

// NewPriceCache creates a price cache backed by the given lookup service.
// A nil lookup is allowed; every fetch then resolves as a cached failure.
func NewPriceCache(lookup PriceLookup, logger zerolog.Logger) *PriceCache {
	return &PriceCache{
		lookup:  lookup,
		logger:  logger.With().Str("component", "pricecache").Logger(),
		prices:  make(map[string]*float64),
		pending: make(map[string]chan struct{}),
	}
}

// FallbackPrice returns the memoized last-known price for symbol, fetching
// it once if needed. A nil price with a nil error means the lookup failed
// earlier this session and the failure is cached.
//
// The first caller for a symbol performs the fetch; callers arriving while
// it is in flight block until that same fetch resolves and observe its
// outcome. The error from a failed fetch is returned only to the caller
// that issued it.
func (c *PriceCache) FallbackPrice(ctx context.Context, symbol string) (*float64, error) {
	c.mu.Lock()
	if price, ok := c.prices[symbol]; ok {
		c.mu.Unlock()
		return price, nil
	}
	if done, ok := c.pending[symbol]; ok {
		c.mu.Unlock()
		return c.join(ctx, symbol, done)
	}

	// Test-and-set under the lock: this caller owns the fetch.
	done := make(chan struct{})
	c.pending[symbol] = done
	c.mu.Unlock()

	var price float64
	err := trackererrors.ErrLookupFailed
	if c.lookup != nil {
		price, err = c.lookup.LastPrice(ctx, symbol)
	}

	var result *float64
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).
			Msg("Fallback price lookup failed, caching negative result")
	} else {
		result = models.Float(price)
	}

	c.mu.Lock()
	// If Reset ran while the fetch was in flight, the session was torn
	// down; discard the result rather than resurrecting stale state.
	if current, ok := c.pending[symbol]; ok && current == done {
		// A fetch aborted by the caller's context says nothing about the
		// symbol; leave it uncached so a later request retries.
		if err == nil || ctx.Err() == nil {
			c.prices[symbol] = result
		}
		delete(c.pending, symbol)
	}
	c.mu.Unlock()
	close(done)

	return result, err
}

func (c *PriceCache) join(ctx context.Context, symbol string, done <-chan struct{}) (*float64, error) {
	select {
	case <-done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	c.mu.Lock()
	price := c.prices[symbol]
	c.mu.Unlock()
	return price, nil
}

// Peek reports the cache state for symbol without triggering a fetch.
// cached is true once a result (including a failure) is stored; pending is
// true while a fetch is in flight.
func (c *PriceCache) Peek(symbol string) (price *float64, cached bool, pending bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	price, cached = c.prices[symbol]
	_, pending = c.pending[symbol]
	return price, cached, pending
}

// Reset clears all cached prices and pending markers. Results from fetches
// still in flight at reset time are discarded on completion.
func (c *PriceCache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices = make(map[string]*float64)
	c.pending = make(map[string]chan struct{})
}

// Len returns the number of cached entries, counting cached failures.
func (c *PriceCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.prices)
}

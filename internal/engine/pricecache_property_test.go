package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
)

// Property: for any number of concurrent callers and any symbol, the cache
// issues exactly one lookup and every caller observes the same resolved
// value.
func TestProperty_ConcurrentCallersShareOneFetch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	symbols := []string{"AAPL", "MSFT", "NVDA", "GOOG", "AMZN"}

	properties.Property("N concurrent callers, one lookup, one outcome", prop.ForAll(
		func(callerCount int, symbolIdx int, price float64) bool {
			symbol := symbols[symbolIdx]
			lookup := newFakeLookup()
			lookup.prices[symbol] = price
			lookup.latency = time.Millisecond
			cache := NewPriceCache(lookup, zerolog.Nop())

			var wg sync.WaitGroup
			results := make([]*float64, callerCount)
			for i := 0; i < callerCount; i++ {
				wg.Add(1)
				go func(idx int) {
					defer wg.Done()
					got, err := cache.FallbackPrice(context.Background(), symbol)
					if err == nil {
						results[idx] = got
					}
				}(i)
			}
			wg.Wait()

			for _, got := range results {
				if got == nil || *got != price {
					return false
				}
			}
			return lookup.callCount(symbol) == 1
		},
		gen.IntRange(1, 16),
		gen.IntRange(0, len(symbols)-1),
		gen.Float64Range(0.01, 10000.0),
	))

	properties.TestingRun(t)
}

// Property: once a symbol resolved (success or failure), any number of
// later requests never issues another lookup within the session.
func TestProperty_ResolvedSymbolsNeverRefetch(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	parameters.Rng.Seed(time.Now().UnixNano())

	properties := gopter.NewProperties(parameters)

	properties.Property("repeat requests hit the cache", prop.ForAll(
		func(repeats int, shouldFail bool) bool {
			lookup := newFakeLookup()
			lookup.prices["SYM"] = 42
			lookup.fail["SYM"] = shouldFail
			cache := NewPriceCache(lookup, zerolog.Nop())

			ctx := context.Background()
			cache.FallbackPrice(ctx, "SYM")
			for i := 0; i < repeats; i++ {
				price, err := cache.FallbackPrice(ctx, "SYM")
				if err != nil {
					return false
				}
				if shouldFail && price != nil {
					return false
				}
				if !shouldFail && (price == nil || *price != 42) {
					return false
				}
			}
			return lookup.callCount("SYM") == 1
		},
		gen.IntRange(1, 20),
		gen.Bool(),
	))

	properties.TestingRun(t)
}

package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"thesis-tracker/internal/models"
)

// PollFeed implements Feed by polling an HTTP snapshot endpoint at a fixed
// cadence. It serves quote sources that expose no stream.
type PollFeed struct {
	url      string
	apiToken string
	interval time.Duration
	client   *http.Client
	logger   zerolog.Logger

	onUpdate func()
	onError  func(error)

	latest  map[string]models.Quote
	symbols []string
	closed  bool
	cancel  context.CancelFunc

	mu sync.RWMutex
}

// PollConfig holds configuration for the polling feed.
type PollConfig struct {
	URL      string
	APIToken string
	Interval time.Duration
	Timeout  time.Duration
}

// pollResponse is the wire shape of one snapshot response.
type pollResponse struct {
	Quotes []struct {
		Symbol string   `json:"symbol"`
		Price  *float64 `json:"price"`
		AsOf   string   `json:"as_of"`
	} `json:"quotes"`
}

// NewPollFeed creates a new polling quote feed.
func NewPollFeed(cfg PollConfig, logger zerolog.Logger) *PollFeed {
	interval := cfg.Interval
	if interval == 0 {
		interval = 15 * time.Second
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &PollFeed{
		url:      cfg.URL,
		apiToken: cfg.APIToken,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "pollfeed").Logger(),
		latest:   make(map[string]models.Quote),
	}
}

// Connect starts the polling loop. The first poll runs immediately so the
// snapshot is populated without waiting a full interval. Connecting an
// already-running or closed feed is a no-op.
func (f *PollFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.closed || f.cancel != nil {
		f.mu.Unlock()
		return nil
	}
	pollCtx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.mu.Unlock()

	go f.loop(pollCtx)
	return nil
}

func (f *PollFeed) loop(ctx context.Context) {
	f.pollOnce(ctx)

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.pollOnce(ctx)
		}
	}
}

func (f *PollFeed) pollOnce(ctx context.Context) {
	f.mu.RLock()
	symbols := append([]string(nil), f.symbols...)
	onError := f.onError
	f.mu.RUnlock()

	if len(symbols) == 0 {
		return
	}

	quotes, err := f.fetch(ctx, symbols)
	if err != nil {
		f.logger.Warn().Err(err).Msg("Quote poll failed")
		if onError != nil {
			onError(err)
		}
		return
	}

	changed := false
	f.mu.Lock()
	for _, q := range quotes {
		prev, ok := f.latest[q.Symbol]
		if !ok || prev.Price != q.Price || prev.AsOf != q.AsOf {
			f.latest[q.Symbol] = q
			changed = true
		}
	}
	onUpdate := f.onUpdate
	f.mu.Unlock()

	if changed && onUpdate != nil {
		onUpdate()
	}
}

func (f *PollFeed) fetch(ctx context.Context, symbols []string) ([]models.Quote, error) {
	// The symbol charset includes '&', so the query must be escaped.
	query := url.Values{"symbols": {strings.Join(symbols, ",")}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url+"?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+f.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote endpoint returned %d", resp.StatusCode)
	}

	var payload pollResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decoding quote snapshot: %w", err)
	}

	quotes := make([]models.Quote, 0, len(payload.Quotes))
	for _, q := range payload.Quotes {
		// Symbols the source cannot price are simply absent from the
		// snapshot; the coordinator falls back to the price cache.
		if q.Price == nil || math.IsNaN(*q.Price) || math.IsInf(*q.Price, 0) {
			continue
		}
		asOf, err := time.Parse(time.RFC3339, q.AsOf)
		if err != nil {
			asOf = time.Now()
		}
		quotes = append(quotes, models.Quote{Symbol: q.Symbol, Price: *q.Price, AsOf: asOf})
	}
	return quotes, nil
}

// Subscribe replaces the polled symbol set.
func (f *PollFeed) Subscribe(symbols []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.symbols = append([]string(nil), symbols...)
	return nil
}

// Snapshot returns a copy of the latest quote per symbol.
func (f *PollFeed) Snapshot() map[string]models.Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snapshot := make(map[string]models.Quote, len(f.latest))
	for symbol, quote := range f.latest {
		snapshot[symbol] = quote
	}
	return snapshot
}

// OnUpdate sets the snapshot-change handler.
func (f *PollFeed) OnUpdate(handler func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = handler
}

// OnError sets the error handler.
func (f *PollFeed) OnError(handler func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = handler
}

// Close stops the polling loop.
func (f *PollFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return nil
}

package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"thesis-tracker/internal/models"
)

// StreamFeed implements Feed over a websocket quote stream. The server
// pushes JSON quote messages; the feed keeps only the latest quote per
// symbol and notifies consumers that the snapshot changed.
type StreamFeed struct {
	url      string
	apiToken string
	logger   zerolog.Logger

	// Handlers
	onUpdate func()
	onError  func(error)

	// State
	conn      *websocket.Conn
	connected bool
	closed    bool
	latest    map[string]models.Quote
	symbols   []string

	// Reconnection
	maxRetries int
	baseDelay  time.Duration

	mu      sync.RWMutex
	writeMu sync.Mutex // Protects websocket writes (Subscribe)
}

// StreamConfig holds configuration for the stream feed.
type StreamConfig struct {
	URL        string
	APIToken   string
	MaxRetries int
	BaseDelay  time.Duration
}

// streamMessage is the wire shape of one pushed quote.
type streamMessage struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	AsOf   string  `json:"as_of"`
}

// subscribeRequest is the wire shape of a subscription change.
type subscribeRequest struct {
	Action  string   `json:"action"`
	Symbols []string `json:"symbols"`
}

// NewStreamFeed creates a new websocket quote feed.
func NewStreamFeed(cfg StreamConfig, logger zerolog.Logger) *StreamFeed {
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	baseDelay := cfg.BaseDelay
	if baseDelay == 0 {
		baseDelay = time.Second
	}
	return &StreamFeed{
		url:        cfg.URL,
		apiToken:   cfg.APIToken,
		logger:     logger.With().Str("component", "streamfeed").Logger(),
		latest:     make(map[string]models.Quote),
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
	}
}

// Connect establishes the websocket connection and starts the read loop.
func (f *StreamFeed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	if err := f.dial(ctx); err != nil {
		return err
	}

	go f.readLoop(ctx)
	return nil
}

func (f *StreamFeed) dial(ctx context.Context) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+f.apiToken)

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, header)
	if err != nil {
		return fmt.Errorf("dialing quote stream: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	symbols := append([]string(nil), f.symbols...)
	f.mu.Unlock()

	// Resubscribe after reconnection
	if len(symbols) > 0 {
		if err := f.sendSubscribe(symbols); err != nil {
			f.logger.Warn().Err(err).Msg("Resubscribe after connect failed")
		}
	}
	return nil
}

func (f *StreamFeed) readLoop(ctx context.Context) {
	for {
		f.mu.RLock()
		conn := f.conn
		closed := f.closed
		f.mu.RUnlock()

		if closed || conn == nil {
			return
		}

		var msg streamMessage
		if err := conn.ReadJSON(&msg); err != nil {
			f.mu.RLock()
			closed := f.closed
			onError := f.onError
			f.mu.RUnlock()
			if closed {
				return
			}
			if onError != nil {
				go onError(err)
			}
			if !f.reconnect(ctx) {
				return
			}
			continue
		}

		f.apply(msg)
	}
}

func (f *StreamFeed) apply(msg streamMessage) {
	if msg.Symbol == "" || math.IsNaN(msg.Price) || math.IsInf(msg.Price, 0) {
		return
	}

	asOf, err := time.Parse(time.RFC3339, msg.AsOf)
	if err != nil {
		asOf = time.Now()
	}

	f.mu.Lock()
	f.latest[msg.Symbol] = models.Quote{
		Symbol: msg.Symbol,
		Price:  msg.Price,
		AsOf:   asOf,
	}
	onUpdate := f.onUpdate
	f.mu.Unlock()

	if onUpdate != nil {
		onUpdate()
	}
}

// reconnect attempts to re-establish the connection with exponential
// backoff. Returns false once retries are exhausted or the feed is closed.
func (f *StreamFeed) reconnect(ctx context.Context) bool {
	f.mu.Lock()
	f.connected = false
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	f.mu.Unlock()

	delay := f.baseDelay
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		f.mu.RLock()
		closed := f.closed
		f.mu.RUnlock()
		if closed {
			return false
		}

		f.logger.Info().Int("attempt", attempt).Msg("Reconnecting to quote stream")
		if err := f.dial(ctx); err == nil {
			return true
		}

		delay *= 2
		if delay > 30*time.Second {
			delay = 30 * time.Second
		}
	}

	f.logger.Error().Int("attempts", f.maxRetries).Msg("Quote stream reconnection exhausted")
	return false
}

// Subscribe replaces the tracked symbol set.
func (f *StreamFeed) Subscribe(symbols []string) error {
	f.mu.Lock()
	f.symbols = append([]string(nil), symbols...)
	connected := f.connected
	f.mu.Unlock()

	if !connected {
		// Sent on connect
		return nil
	}
	return f.sendSubscribe(symbols)
}

func (f *StreamFeed) sendSubscribe(symbols []string) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	f.mu.RLock()
	conn := f.conn
	f.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	payload, err := json.Marshal(subscribeRequest{Action: "subscribe", Symbols: symbols})
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	return nil
}

// Snapshot returns a copy of the latest quote per symbol.
func (f *StreamFeed) Snapshot() map[string]models.Quote {
	f.mu.RLock()
	defer f.mu.RUnlock()
	snapshot := make(map[string]models.Quote, len(f.latest))
	for symbol, quote := range f.latest {
		snapshot[symbol] = quote
	}
	return snapshot
}

// OnUpdate sets the snapshot-change handler.
func (f *StreamFeed) OnUpdate(handler func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onUpdate = handler
}

// OnError sets the error handler.
func (f *StreamFeed) OnError(handler func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onError = handler
}

// IsConnected returns whether the feed is connected.
func (f *StreamFeed) IsConnected() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.connected
}

// Close stops the feed and closes the connection.
func (f *StreamFeed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	if f.conn != nil {
		f.conn.Close()
		f.conn = nil
	}
	return nil
}

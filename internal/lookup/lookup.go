// Package lookup provides the price lookup service client, used to resolve
// last-known prices for symbols absent from the live feed.
package lookup

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	trackererrors "thesis-tracker/internal/errors"
)

// Client is an HTTP client for the price lookup service.
type Client struct {
	baseURL  string
	apiToken string
	client   *http.Client
	logger   zerolog.Logger
}

// Config holds configuration for the lookup client.
type Config struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// lastPriceResponse is the wire shape of a lookup result.
type lastPriceResponse struct {
	Symbol string   `json:"symbol"`
	Price  *float64 `json:"price"`
}

// NewClient creates a new price lookup client.
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "lookup").Logger(),
	}
}

// LastPrice fetches the last-known price for symbol. A missing or
// non-numeric price in the response is a lookup failure, not a zero.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	endpoint := fmt.Sprintf("%s/prices/last?symbol=%s", c.baseURL, url.QueryEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, trackererrors.NewLookupError(symbol, 0, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, trackererrors.NewLookupError(symbol, 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return 0, trackererrors.NewLookupError(symbol, resp.StatusCode, trackererrors.ErrSymbolNotFound)
	case resp.StatusCode == http.StatusUnauthorized:
		return 0, trackererrors.NewLookupError(symbol, resp.StatusCode, trackererrors.ErrNotAuthenticated)
	case resp.StatusCode != http.StatusOK:
		return 0, trackererrors.NewLookupError(symbol, resp.StatusCode, nil)
	}

	var payload lastPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, trackererrors.NewLookupError(symbol, resp.StatusCode, err)
	}

	if payload.Price == nil || math.IsNaN(*payload.Price) || math.IsInf(*payload.Price, 0) {
		return 0, trackererrors.NewLookupError(symbol, resp.StatusCode, fmt.Errorf("non-numeric price"))
	}

	return *payload.Price, nil
}

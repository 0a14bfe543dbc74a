package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"

	trackererrors "thesis-tracker/internal/errors"
	"thesis-tracker/internal/models"
	"thesis-tracker/pkg/utils"
)

// RESTStore implements ThesisStore against the thesis store HTTP API.
type RESTStore struct {
	baseURL  string
	apiToken string
	client   *http.Client
	logger   zerolog.Logger
	retry    utils.RetryConfig
}

// RESTConfig holds configuration for the REST store client.
type RESTConfig struct {
	BaseURL  string
	APIToken string
	Timeout  time.Duration
}

// NewRESTStore creates a new thesis store client.
func NewRESTStore(cfg RESTConfig, logger zerolog.Logger) *RESTStore {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &RESTStore{
		baseURL:  cfg.BaseURL,
		apiToken: cfg.APIToken,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "store").Logger(),
		retry:    utils.DefaultRetryConfig(),
	}
}

// List fetches all theses from the remote store. Reads are retried with
// backoff; writes are not, since the reconciler retries them on its own
// cadence.
func (s *RESTStore) List(ctx context.Context) ([]models.Thesis, error) {
	var theses []models.Thesis
	err := utils.Retry(ctx, s.retry, func() error {
		var err error
		theses, err = s.list(ctx)
		return err
	})
	return theses, err
}

func (s *RESTStore) list(ctx context.Context) ([]models.Thesis, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/theses", nil)
	if err != nil {
		return nil, err
	}

	var theses []models.Thesis
	if err := s.do(req, "list", "", &theses); err != nil {
		return nil, err
	}

	// The engine only trusts remote statuses it has read back.
	for i := range theses {
		theses[i].LastKnownRemoteStatus = theses[i].Status
	}
	return theses, nil
}

// Update persists a new status for the thesis with the given id.
func (s *RESTStore) Update(ctx context.Context, id string, status models.Status) (*models.Thesis, error) {
	if id == "" {
		return nil, trackererrors.NewStoreError("update", id, 0, "missing id", trackererrors.ErrThesisNotFound)
	}

	body, err := json.Marshal(map[string]models.Status{"status": status})
	if err != nil {
		return nil, trackererrors.NewStoreError("update", id, 0, "encoding request", err)
	}

	req, err := s.newRequest(ctx, http.MethodPatch, "/theses/"+url.PathEscape(id), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var thesis models.Thesis
	if err := s.do(req, "update", id, &thesis); err != nil {
		return nil, err
	}
	thesis.LastKnownRemoteStatus = thesis.Status
	return &thesis, nil
}

// Create persists a new thesis and returns it with its assigned id.
func (s *RESTStore) Create(ctx context.Context, thesis *models.Thesis) (*models.Thesis, error) {
	body, err := json.Marshal(thesis)
	if err != nil {
		return nil, trackererrors.NewStoreError("create", "", 0, "encoding request", err)
	}

	req, err := s.newRequest(ctx, http.MethodPost, "/theses", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}

	var created models.Thesis
	if err := s.do(req, "create", "", &created); err != nil {
		return nil, err
	}
	created.LastKnownRemoteStatus = created.Status
	return &created, nil
}

// Delete removes the thesis with the given id from the remote store.
func (s *RESTStore) Delete(ctx context.Context, id string) error {
	req, err := s.newRequest(ctx, http.MethodDelete, "/theses/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	return s.do(req, "delete", id, nil)
}

func (s *RESTStore) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (s *RESTStore) do(req *http.Request, op, id string, out interface{}) error {
	resp, err := s.client.Do(req)
	if err != nil {
		return trackererrors.NewStoreError(op, id, 0, "request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return trackererrors.NewStoreError(op, id, resp.StatusCode, "unauthorized", trackererrors.ErrNotAuthenticated)
	case resp.StatusCode == http.StatusNotFound:
		return trackererrors.NewStoreError(op, id, resp.StatusCode, "not found", trackererrors.ErrThesisNotFound)
	case resp.StatusCode == http.StatusTooManyRequests:
		return trackererrors.NewStoreError(op, id, resp.StatusCode, "rate limited", trackererrors.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return trackererrors.NewStoreError(op, id, resp.StatusCode, string(snippet), nil)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return trackererrors.NewStoreError(op, id, resp.StatusCode, "decoding response", err)
	}
	return nil
}

// Package models provides domain models for the thesis tracker.
package models

import (
	"regexp"
	"time"
)

// Status represents the derived lifecycle status of a thesis.
// It is computed by the evaluation engine and never set directly by the user.
type Status string

const (
	StatusOnTrack     Status = "on-track"
	StatusAchieved    Status = "achieved"
	StatusBreached    Status = "breached"
	StatusNeedsReview Status = "needs-review"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusOnTrack, StatusAchieved, StatusBreached, StatusNeedsReview:
		return true
	}
	return false
}

// PriceSource identifies where a price observation came from.
type PriceSource string

const (
	SourceLive     PriceSource = "live"
	SourceFallback PriceSource = "fallback"
)

// symbolPattern matches valid ticker symbols: 1-10 uppercase characters.
var symbolPattern = regexp.MustCompile(`^[A-Z0-9.&-]{1,10}$`)

// ValidSymbol reports whether symbol is a well-formed ticker.
func ValidSymbol(symbol string) bool {
	return symbolPattern.MatchString(symbol)
}

// Thesis represents one tracked investment thesis with user-set price levels.
// Entry, Target and Stop are nullable: nil means the user has not set them.
type Thesis struct {
	// ID is assigned by the remote store; empty for local-only theses.
	ID     string `json:"id,omitempty" csv:"id"`
	Symbol string `json:"symbol" csv:"symbol"`

	Entry  *float64 `json:"entry" csv:"entry"`
	Target *float64 `json:"target" csv:"target"`
	Stop   *float64 `json:"stop" csv:"stop"`

	// Status is derived by the evaluator on every pass.
	Status Status `json:"status" csv:"status"`

	// LastKnownRemoteStatus is the status last confirmed persisted remotely.
	// Consumed only by the reconciler; never rendered.
	LastKnownRemoteStatus Status `json:"-" csv:"-"`

	Notes     string    `json:"notes,omitempty" csv:"notes"`
	CreatedAt time.Time `json:"created_at,omitempty" csv:"-"`
	UpdatedAt time.Time `json:"updated_at,omitempty" csv:"-"`
}

// Persisted reports whether the thesis has a remote counterpart.
func (t *Thesis) Persisted() bool {
	return t.ID != ""
}

// Quote represents a near-real-time price observation from the live feed.
type Quote struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"as_of"`
}

// PriceObservation is the price used for one evaluation of one thesis.
// Price is nil when no live quote exists and fallback lookup failed (or is
// still pending). Observations are ephemeral and never persisted.
type PriceObservation struct {
	Symbol string
	Price  *float64
	Source PriceSource
	AsOf   time.Time
}

// Evaluation is the evaluator's output for one thesis.
// ProgressPercent is nil when no current price was available; the raw value
// is unclamped so that callers can detect negative progress.
type Evaluation struct {
	Symbol          string
	Status          Status
	ProgressPercent *float64
}

// ClampedProgress returns the progress bounded to [0, 100] for display.
// A nil progress renders as 0.
func (e Evaluation) ClampedProgress() float64 {
	if e.ProgressPercent == nil {
		return 0
	}
	p := *e.ProgressPercent
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// Float returns a pointer to v. Convenience for the nullable price levels.
func Float(v float64) *float64 {
	return &v
}

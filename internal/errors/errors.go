// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrNotAuthenticated = errors.New("not authenticated")
	ErrSymbolNotFound   = errors.New("symbol not found")
	ErrThesisNotFound   = errors.New("thesis not found")
	ErrLookupFailed     = errors.New("price lookup failed")
	ErrUpdateInFlight   = errors.New("update already in flight")
	ErrFeedClosed       = errors.New("quote feed closed")
	ErrConnectionFailed = errors.New("connection failed")
	ErrRateLimited      = errors.New("rate limited")
	ErrTimeout          = errors.New("operation timed out")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrDataNotFound     = errors.New("data not found")
	ErrDatabaseError    = errors.New("database error")
	ErrInputValidation  = errors.New("input validation failed")
)

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// LookupError represents a failure from the price lookup service.
type LookupError struct {
	Symbol string
	Status int
	Err    error
}

func (e *LookupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lookup error [%s]: %v", e.Symbol, e.Err)
	}
	return fmt.Sprintf("lookup error [%s]: status %d", e.Symbol, e.Status)
}

func (e *LookupError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrLookupFailed
}

// NewLookupError creates a new LookupError.
func NewLookupError(symbol string, status int, err error) *LookupError {
	return &LookupError{Symbol: symbol, Status: status, Err: err}
}

// StoreError represents an error from the thesis store API.
type StoreError struct {
	Op      string // "list", "update", "create", "delete"
	ID      string
	Status  int
	Message string
	Err     error
}

func (e *StoreError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("store error [%s %s]: %s: %v", e.Op, e.ID, e.Message, e.Err)
	}
	return fmt.Sprintf("store error [%s %s]: %s", e.Op, e.ID, e.Message)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, id string, status int, message string, err error) *StoreError {
	return &StoreError{Op: op, ID: id, Status: status, Message: message, Err: err}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s (%v): %s", e.Field, e.Value, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInputValidation
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field string, value interface{}, message string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Message: message}
}

// FeedError represents an error from the live quote feed.
type FeedError struct {
	Endpoint string
	Err      error
}

func (e *FeedError) Error() string {
	return fmt.Sprintf("feed error [%s]: %v", e.Endpoint, e.Err)
}

func (e *FeedError) Unwrap() error {
	return e.Err
}

// NewFeedError creates a new FeedError.
func NewFeedError(endpoint string, err error) *FeedError {
	return &FeedError{Endpoint: endpoint, Err: err}
}

/*
errors.go - Centralized error types for the property engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Packages wrap these with context; callers branch with errors.Is / errors.As.

ERROR CATEGORIES:
  1. Input errors      - ValidationError, InvalidTransitionCode (rejected before side effects)
  2. Isolated failures - TransientWindowFailure, ChargePostingError (logged, run continues)
  3. Run aborts        - ConfigError, ConcurrencyConflict (nothing touched)
  4. Store errors      - not found, invariant and version conflicts

PROPAGATION:
  Reservation lifecycle failures always surface to the caller. Per-window and
  per-candidate failures are collected and returned in run summaries, never
  swallowed silently.

SEE ALSO:
  - inventory/ledger.go: InvalidTransitionCode, InvariantError
  - population/orchestrator.go: WindowFailure
  - audit/engine.go: ChargePostingError, ConfigError, ConcurrencyConflictError
*/
package hotel

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for bad or missing input, before any side effect.
	ErrValidation = errors.New("validation error")

	// ErrInvalidTransitionCode is returned for a target state code other than 1 or 2.
	// This is a programming error at the call site.
	ErrInvalidTransitionCode = errors.New("invalid transition code")

	// ErrTransientWindowFailure marks a single backfill window that failed to seed.
	ErrTransientWindowFailure = errors.New("inventory window failed")

	// ErrChargePosting marks a single audit candidate whose charge could not be posted.
	ErrChargePosting = errors.New("charge posting failed")

	// ErrConfig is returned when required property settings are missing.
	ErrConfig = errors.New("configuration error")

	// ErrConcurrencyConflict is returned when an exclusive run is already active.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrVersionConflict is returned when a compare-and-swap write sees a newer version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvariantViolation is returned when a bucket mutation would break conservation.
	ErrInvariantViolation = errors.New("inventory invariant violated")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidState is returned when a reservation is not in a state that allows the action.
	ErrInvalidState = errors.New("invalid state")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes a rejected input field.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("validation: %s %q %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// InvalidTransitionCodeError carries the offending numeric code.
type InvalidTransitionCodeError struct {
	Code int
}

func (e *InvalidTransitionCodeError) Error() string {
	return fmt.Sprintf("invalid transition code %d: expected 1 (apply) or 2 (release)", e.Code)
}

func (e *InvalidTransitionCodeError) Unwrap() error { return ErrInvalidTransitionCode }

// WindowFailure records one backfill window that failed and was skipped.
type WindowFailure struct {
	Index  int
	Window DateRange
	Err    error
}

func (e *WindowFailure) Error() string {
	return fmt.Sprintf("window %d (%s) failed: %v", e.Index, e.Window, e.Err)
}

// Unwrap exposes both the sentinel and the underlying store error.
func (e *WindowFailure) Unwrap() []error { return []error{ErrTransientWindowFailure, e.Err} }

// ChargePostingError names the invoice whose nightly charge could not be posted.
type ChargePostingError struct {
	InvoiceID     string
	FolioWindowID string
	ForDate       Date
	Err           error
}

func (e *ChargePostingError) Error() string {
	return fmt.Sprintf("posting nightly charge on invoice %s (folio window %s, %s): %v",
		e.InvoiceID, e.FolioWindowID, e.ForDate, e.Err)
}

func (e *ChargePostingError) Unwrap() []error { return []error{ErrChargePosting, e.Err} }

// ConfigError names the missing or invalid setting.
type ConfigError struct {
	Setting string
	Reason  string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Setting, e.Reason)
}

func (e *ConfigError) Unwrap() error { return ErrConfig }

// ConcurrencyConflictError names the resource that is already held.
type ConcurrencyConflictError struct {
	Resource string
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict: %s is already in progress", e.Resource)
}

func (e *ConcurrencyConflictError) Unwrap() error { return ErrConcurrencyConflict }

// InvariantError reports the counts of a bucket that failed conservation.
type InvariantError struct {
	RoomType   string
	ForDate    Date
	Total      int
	Occupied   int
	OutOfOrder int
	Available  int
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("bucket %s/%s: total %d != occupied %d + out_of_order %d + available %d",
		e.RoomType, e.ForDate, e.Total, e.Occupied, e.OutOfOrder, e.Available)
}

func (e *InvariantError) Unwrap() error { return ErrInvariantViolation }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string { return fmt.Sprintf("%s %q not found", e.Kind, e.ID) }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsRetryable returns true if the error might succeed on retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict) ||
		errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrTransientWindowFailure)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidTransitionCode) ||
		errors.Is(err, ErrInvalidState)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

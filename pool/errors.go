/*
errors.go - Centralized error types for the pool engine

PURPOSE:
  All error kinds the engine can surface, in one place. Callers branch on
  kind with errors.Is against the sentinels, or errors.As against the
  structured types when they need the details.

ERROR CATEGORIES:
  1. Validation    - malformed input, rejected immediately, never retried
  2. NotFound      - operation targets a missing entry or unit
  3. Sequence      - unit id was not exactly max+1 (internal retry trigger)
  4. Contention    - purchase retry budget exhausted
  5. Configuration - holiday configuration prevents expiry from terminating
  6. Timeout       - store did not answer within the operation timeout

USAGE:
  if errors.Is(err, pool.ErrValidation) {
      // 400
  }

  var seqErr *pool.SequenceError
  if errors.As(err, &seqErr) {
      // retry with a fresh max id
  }

SEE ALSO:
  - purchase.go: Retry path driven by SequenceError
  - api/handlers.go: HTTP status mapping
*/
package pool

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned for malformed input (week < 1, sign/flag
	// mismatch, missing required field).
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when an operation targets a nonexistent entry or unit.
	ErrNotFound = errors.New("not found")

	// ErrSequence is returned when a unit id is not exactly currentMaxID+1.
	ErrSequence = errors.New("unit id out of sequence")

	// ErrContention is returned when concurrent purchases exhausted the retry budget.
	ErrContention = errors.New("purchase contention")

	// ErrConfiguration is returned when the holiday set makes expiry unbounded.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrTimeout is returned when the store did not answer in time.
	ErrTimeout = errors.New("operation timed out")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NotFoundError identifies the missing record.
type NotFoundError struct {
	Collection Collection
	ID         string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Collection, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// SequenceError reports the id a writer tried against the id the store expected.
type SequenceError struct {
	Expected UnitID
	Got      UnitID
}

func (e *SequenceError) Error() string {
	return fmt.Sprintf("unit id %d out of sequence: expected %d", e.Got, e.Expected)
}

func (e *SequenceError) Unwrap() error { return ErrSequence }

// ContentionError is surfaced after MaxPurchaseAttempts conflicting attempts.
type ContentionError struct {
	Attempts int
	Last     error
}

func (e *ContentionError) Error() string {
	return fmt.Sprintf("purchase failed after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ContentionError) Unwrap() []error { return []error{ErrContention, e.Last} }

// ConfigurationError is fatal; the engine halts the operation instead of looping.
type ConfigurationError struct {
	Message string
}

func (e *ConfigurationError) Error() string {
	return "configuration: " + e.Message
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }

// TimeoutError wraps the context error of the operation that ran out of time.
type TimeoutError struct {
	Op  string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out: %v", e.Op, e.Err)
}

func (e *TimeoutError) Unwrap() []error { return []error{ErrTimeout, e.Err} }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// ErrorKind discriminates the taxonomy above for callers that prefer a switch.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindValidation    ErrorKind = "validation"
	KindNotFound      ErrorKind = "not_found"
	KindSequence      ErrorKind = "sequence"
	KindContention    ErrorKind = "contention"
	KindConfiguration ErrorKind = "configuration"
	KindTimeout       ErrorKind = "timeout"
	KindInternal      ErrorKind = "internal"
)

// KindOf classifies err. Unknown errors are KindInternal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrContention):
		return KindContention
	case errors.Is(err, ErrSequence):
		return KindSequence
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	default:
		return KindInternal
	}
}

// IsRetryable returns true if the caller may safely re-issue the request.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention) || errors.Is(err, ErrTimeout)
}

// IsClientError returns true if the error is due to invalid client input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

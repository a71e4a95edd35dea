// Package errs holds the error taxonomy shared by the ingestion pipeline.
//
// Failures are scoped to the smallest unit possible: a record (ErrValidationRejected,
// ErrPersistenceConflict), a selector (SelectorError, ErrQuotaExceeded) or a source
// (ErrSourceUnavailable). Only ErrStoreUnavailable is fatal to a run.
package errs

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrSourceUnavailable means a provider could not be reached after retries.
	ErrSourceUnavailable = errors.New("source unavailable")

	// ErrQuotaExceeded means the provider kept answering with a rate-limit response after
	// every allowed retry.
	ErrQuotaExceeded = errors.New("quota exceeded")

	// ErrRateLimited is a single rate-limit (HTTP 429) response. The governor retries it.
	ErrRateLimited = errors.New("rate limited")

	// ErrTransient is a single retryable failure: transport error or 5xx response.
	ErrTransient = errors.New("transient failure")

	// ErrValidationRejected marks a candidate refused by the normalizer.
	ErrValidationRejected = errors.New("validation rejected")

	// ErrPersistenceConflict means a conditional write matched no row.
	ErrPersistenceConflict = errors.New("persistence conflict")

	// ErrStoreUnavailable means the store itself failed; this aborts a run.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Rejection reasons reported by the normalizer.
const (
	ReasonMissingAddress        = "missing_address"
	ReasonMissingOrInvalidPrice = "missing_or_invalid_price"
	ReasonPriceBelowFloor       = "price_below_floor"
)

// RejectedError carries the reason a candidate was refused.
type RejectedError struct {
	Reason string
	Detail string
}

func (e *RejectedError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("record rejected: %s", e.Reason)
	}
	return fmt.Sprintf("record rejected: %s (%s)", e.Reason, e.Detail)
}

// Is lets errors.Is(err, ErrValidationRejected) match.
func (e *RejectedError) Is(target error) bool {
	return target == ErrValidationRejected
}

// Reject builds a RejectedError.
func Reject(reason, detail string) *RejectedError {
	return &RejectedError{Reason: reason, Detail: detail}
}

// SelectorError scopes a failure to one region selector or fetch target.
type SelectorError struct {
	Selector string
	Err      error
}

func (e *SelectorError) Error() string {
	return fmt.Sprintf("selector %q: %v", e.Selector, e.Err)
}

func (e *SelectorError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx provider response that is not worth retrying.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.StatusCode, e.URL)
}

// RateLimitedError is a 429 response, optionally carrying the provider's Retry-After hint.
type RateLimitedError struct {
	URL        string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by %s (retry after %s)", e.URL, e.RetryAfter)
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

// RejectionReason extracts the reason from a rejection, or "" if err is not one.
func RejectionReason(err error) string {
	var rejected *RejectedError
	if errors.As(err, &rejected) {
		return rejected.Reason
	}
	return ""
}

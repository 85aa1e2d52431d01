package models

import (
	"errors"
	"fmt"
)

// ErrEmptyResult marks a venue response that was valid but carried no data
// where at least one funding observation was expected. Logged as a warning
// and skipped, never retried.
var ErrEmptyResult = errors.New("venue returned no data")

// VenueAPIError reports a venue request that failed: a non-2xx status, an
// error envelope in the body, a missing required payload, or a transport
// failure. These are the transient failures the retry kernel re-attempts.
type VenueAPIError struct {
	Venue      VenueCode
	Op         string
	StatusCode int
	Err        error
}

func (e *VenueAPIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s: status %d: %v", e.Venue, e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Venue, e.Op, e.Err)
}

func (e *VenueAPIError) Unwrap() error { return e.Err }

// ValidationError marks a row that cannot be ingested (zero funding time,
// no interval source). The row is dropped and the job continues.
type ValidationError struct {
	Symbol string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid row for %s: %s", e.Symbol, e.Reason)
}

// DatabaseError marks a storage failure during a sync job. Never retried
// inside the job; the whole job is reported failed and the next schedule
// tick re-attempts.
type DatabaseError struct {
	Op  string
	Err error
}

func (e *DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Op, e.Err)
}

func (e *DatabaseError) Unwrap() error { return e.Err }

// IsRetryable classifies an error for the retry kernel. Only venue API and
// transport failures are transient; bare cancellation, empty results,
// validation failures and storage errors are not. A VenueAPIError counts
// even when it wraps a per-request deadline, because request timeouts are
// transient venue failures. Job-level cancellation is caught by the retry
// loop's own context check before classification.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *VenueAPIError
	return errors.As(err, &apiErr)
}

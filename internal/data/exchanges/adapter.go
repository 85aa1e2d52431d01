// Package exchanges defines the venue adapter capability set the sync
// pipelines are parameterised by, plus the HTTP plumbing the concrete
// adapters share.
package exchanges

import (
	"context"
	"time"

	"github.com/sawpanic/fundsync/internal/models"
)

// Scope selects which pipeline a catalog listing serves. Most venues return
// the same catalog for both; Bybit additionally requires Status=Trading for
// the online pipeline.
type Scope int

const (
	ScopeHistory Scope = iota
	ScopeOnline
)

// Limits carries a venue's contractual concurrency and paging parameters.
type Limits struct {
	// Parallelism bounds concurrent per-symbol history work.
	Parallelism int

	// OnlineParallelism bounds concurrent per-symbol latest fetches. Equal
	// to Parallelism on every venue except MEXC.
	OnlineParallelism int

	// HistoryBatchSize is how many symbols a cold-start backfill processes
	// between bulk inserts.
	HistoryBatchSize int

	// PageLimit is the venue's history page size.
	PageLimit int
}

// VenueAdapter is a pure functional view over one venue's REST surface.
// Adapters never retry; transient-failure handling belongs to the pipelines.
type VenueAdapter interface {
	// Venue identifies the adapter.
	Venue() models.VenueCode

	// ListActivePerpetuals returns the venue's active linear perpetual
	// symbols with whatever funding-interval metadata the venue publishes.
	ListActivePerpetuals(ctx context.Context, scope Scope) ([]models.SymbolPair, error)

	// ListHistory pages through the symbol's funding history starting at
	// startTime (venue default when nil) and returns observations sorted
	// ascending by funding time. Inter-page delays are the adapter's.
	ListHistory(ctx context.Context, symbol string, startTime *int64) ([]models.FundingObservation, error)

	// Latest returns the single most recent funding observation, or
	// models.ErrEmptyResult when the venue has none.
	Latest(ctx context.Context, symbol string) (*models.FundingObservation, error)

	// PacingDelay is the inter-batch delay for a history batch that
	// produced batchRows rows.
	PacingDelay(batchRows int) time.Duration

	// Limits returns the venue's concurrency and paging parameters.
	Limits() Limits
}

// DynamicPacing is the shared inter-batch pacing rule: one millisecond per
// ten rows produced by the finished batch.
func DynamicPacing(batchRows int) time.Duration {
	if batchRows <= 0 {
		return 0
	}
	return time.Duration(batchRows/10) * time.Millisecond
}

// SleepFunc suspends for d or until the context is cancelled. Adapters and
// pipelines take it as an injectable hook so tests run without wall-clock
// delays.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the production SleepFunc.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

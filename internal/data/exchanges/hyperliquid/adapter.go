// Package hyperliquid adapts the HyperLiquid info API. Every request is a
// POST to /info with a typed JSON envelope.
package hyperliquid

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/fundsync/internal/data/exchanges"
	"github.com/sawpanic/fundsync/internal/models"
)

const (
	defaultBaseURL = "https://api.hyperliquid.xyz"

	// The venue caps fundingHistory responses at 500 entries per request.
	pageLimit      = 500
	interPageDelay = 700 * time.Millisecond

	// Every HyperLiquid perpetual funds hourly.
	fundingIntervalHours = 1
)

// defaultStart is 2000-01-01 UTC, the backfill origin used when no start
// time is supplied.
var defaultStart = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC).UnixMilli()

// Adapter implements exchanges.VenueAdapter for HyperLiquid. The catalog is
// the perpetuals universe of the meta endpoint; every symbol funds at a
// constant one-hour interval.
type Adapter struct {
	client *exchanges.Client
	sleep  exchanges.SleepFunc
}

// NewAdapter creates a HyperLiquid adapter.
func NewAdapter(baseURL string, transport http.RoundTripper, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: exchanges.NewClient(models.VenueHyperliquid, baseURL, transport, timeout),
		sleep:  exchanges.Sleep,
	}
}

// Venue identifies the adapter.
func (a *Adapter) Venue() models.VenueCode { return models.VenueHyperliquid }

// Limits returns HyperLiquid's contractual concurrency and paging
// parameters.
func (a *Adapter) Limits() exchanges.Limits {
	return exchanges.Limits{
		Parallelism:       1,
		OnlineParallelism: 1,
		HistoryBatchSize:  30,
		PageLimit:         pageLimit,
	}
}

// PacingDelay applies the dynamic inter-batch pacing rule.
func (a *Adapter) PacingDelay(batchRows int) time.Duration {
	return exchanges.DynamicPacing(batchRows)
}

type infoRequest struct {
	Type      string `json:"type"`
	Coin      string `json:"coin,omitempty"`
	StartTime *int64 `json:"startTime,omitempty"`
}

type metaResponse struct {
	Universe []universeEntry `json:"universe"`
}

type universeEntry struct {
	Name       string `json:"name"`
	IsDelisted bool   `json:"isDelisted"`
}

type fundingHistoryEntry struct {
	Coin        string `json:"coin"`
	FundingRate string `json:"fundingRate"`
	Time        int64  `json:"time"`
}

// ListActivePerpetuals returns the live universe. All HyperLiquid symbols
// are perpetual; the interval is the constant hourly cadence.
func (a *Adapter) ListActivePerpetuals(ctx context.Context, _ exchanges.Scope) ([]models.SymbolPair, error) {
	var meta metaResponse
	if err := a.client.PostJSON(ctx, "/info", infoRequest{Type: "meta"}, &meta); err != nil {
		return nil, err
	}
	if len(meta.Universe) == 0 {
		return nil, &models.VenueAPIError{
			Venue: models.VenueHyperliquid,
			Op:    "/info meta",
			Err:   fmt.Errorf("empty universe in meta response"),
		}
	}

	interval := fundingIntervalHours
	var pairs []models.SymbolPair
	for _, entry := range meta.Universe {
		if entry.IsDelisted {
			continue
		}
		hourly := interval
		pairs = append(pairs, models.SymbolPair{
			Venue: models.VenueHyperliquid,
			Funding: &models.FundingSymbolInfo{
				SymbolName:    entry.Name,
				IntervalHours: &hourly,
			},
		})
	}

	return pairs, nil
}

// ListHistory pages forward from startTime (2000-01-01 when nil) in the
// venue's 500-entry pages, pausing 700 ms between pages.
func (a *Adapter) ListHistory(ctx context.Context, symbol string, startTime *int64) ([]models.FundingObservation, error) {
	cursor := defaultStart
	if startTime != nil {
		cursor = *startTime
	}

	var observations []models.FundingObservation
	for {
		var entries []fundingHistoryEntry
		req := infoRequest{Type: "fundingHistory", Coin: symbol, StartTime: &cursor}
		if err := a.client.PostJSON(ctx, "/info", req, &entries); err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			break
		}

		for _, entry := range entries {
			obs, err := entry.observation()
			if err != nil {
				return nil, err
			}
			observations = append(observations, obs)
		}

		last := entries[len(entries)-1].Time
		if len(entries) < pageLimit || last < cursor {
			break
		}
		cursor = last + 1

		if err := a.sleep(ctx, interPageDelay); err != nil {
			return nil, err
		}
	}

	return observations, nil
}

// Latest fetches the trailing day of funding history and returns its newest
// entry. The venue has no single-observation endpoint.
func (a *Adapter) Latest(ctx context.Context, symbol string) (*models.FundingObservation, error) {
	start := time.Now().Add(-24 * time.Hour).UnixMilli()

	var entries []fundingHistoryEntry
	req := infoRequest{Type: "fundingHistory", Coin: symbol, StartTime: &start}
	if err := a.client.PostJSON(ctx, "/info", req, &entries); err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, models.ErrEmptyResult
	}

	obs, err := entries[len(entries)-1].observation()
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

func (e fundingHistoryEntry) observation() (models.FundingObservation, error) {
	rate, err := decimal.NewFromString(e.FundingRate)
	if err != nil {
		return models.FundingObservation{}, &models.VenueAPIError{
			Venue: models.VenueHyperliquid,
			Op:    "/info fundingHistory",
			Err:   fmt.Errorf("malformed funding rate %q for %s: %w", e.FundingRate, e.Coin, err),
		}
	}
	return models.FundingObservation{Rate: rate, FundingTime: e.Time}, nil
}

// Package bybit adapts the Bybit v5 market REST API.
package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sawpanic/fundsync/internal/data/exchanges"
	"github.com/sawpanic/fundsync/internal/models"
)

const (
	defaultBaseURL = "https://api.bybit.com"

	pageLimit       = 200
	instrumentLimit = 1000

	contractLinearPerpetual = "LinearPerpetual"
	statusTrading           = "Trading"
	minutesPerHour          = 60
)

// Adapter implements exchanges.VenueAdapter for Bybit. History pages
// backward by endTime because the venue serves newest-first; results are
// re-sorted ascending before they leave the adapter.
type Adapter struct {
	client *exchanges.Client
	sleep  exchanges.SleepFunc
}

// NewAdapter creates a Bybit adapter.
func NewAdapter(baseURL string, transport http.RoundTripper, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: exchanges.NewClient(models.VenueBybit, baseURL, transport, timeout),
		sleep:  exchanges.Sleep,
	}
}

// Venue identifies the adapter.
func (a *Adapter) Venue() models.VenueCode { return models.VenueBybit }

// Limits returns Bybit's contractual concurrency and paging parameters.
func (a *Adapter) Limits() exchanges.Limits {
	return exchanges.Limits{
		Parallelism:       10,
		OnlineParallelism: 10,
		HistoryBatchSize:  50,
		PageLimit:         pageLimit,
	}
}

// PacingDelay applies the dynamic inter-batch pacing rule.
func (a *Adapter) PacingDelay(batchRows int) time.Duration {
	return exchanges.DynamicPacing(batchRows)
}

type instrument struct {
	Symbol          string `json:"symbol"`
	ContractType    string `json:"contractType"`
	Status          string `json:"status"`
	LaunchTime      string `json:"launchTime"`
	FundingInterval int    `json:"fundingInterval"` // minutes
}

type fundingEntry struct {
	Symbol               string `json:"symbol"`
	FundingRate          string `json:"fundingRate"`
	FundingRateTimestamp string `json:"fundingRateTimestamp"`
}

// get unwraps Bybit's v5 envelope. A non-zero retCode means the request
// failed despite a 200 status.
func (a *Adapter) get(ctx context.Context, path string, query url.Values, list interface{}) (string, error) {
	var env struct {
		RetCode int    `json:"retCode"`
		RetMsg  string `json:"retMsg"`
		Result  *struct {
			List           interface{} `json:"list"`
			NextPageCursor string      `json:"nextPageCursor"`
		} `json:"result"`
	}
	env.Result = &struct {
		List           interface{} `json:"list"`
		NextPageCursor string      `json:"nextPageCursor"`
	}{List: list}

	if err := a.client.GetJSON(ctx, path, query, &env); err != nil {
		return "", err
	}
	if env.RetCode != 0 {
		return "", &models.VenueAPIError{
			Venue: models.VenueBybit,
			Op:    path,
			Err:   fmt.Errorf("retCode %d: %s", env.RetCode, env.RetMsg),
		}
	}
	return env.Result.NextPageCursor, nil
}

// ListActivePerpetuals pages the linear instrument catalog and keeps linear
// perpetual contracts. The online pipeline additionally requires trading
// status; the history pipeline keeps settling and delisting symbols so their
// tail history still syncs.
func (a *Adapter) ListActivePerpetuals(ctx context.Context, scope exchanges.Scope) ([]models.SymbolPair, error) {
	var pairs []models.SymbolPair
	cursor := ""

	for {
		query := url.Values{}
		query.Set("category", "linear")
		query.Set("limit", strconv.Itoa(instrumentLimit))
		if cursor != "" {
			query.Set("cursor", cursor)
		}

		var list []instrument
		next, err := a.get(ctx, "/v5/market/instruments-info", query, &list)
		if err != nil {
			return nil, err
		}

		for _, inst := range list {
			if inst.ContractType != contractLinearPerpetual {
				continue
			}
			if scope == exchanges.ScopeOnline && inst.Status != statusTrading {
				continue
			}

			funding := &models.FundingSymbolInfo{SymbolName: inst.Symbol}
			if hours := inst.FundingInterval / minutesPerHour; hours >= 1 {
				funding.IntervalHours = &hours
			}
			if launch, err := strconv.ParseInt(inst.LaunchTime, 10, 64); err == nil && launch > 0 {
				funding.LaunchTime = &launch
			}

			pairs = append(pairs, models.SymbolPair{
				Venue:    models.VenueBybit,
				Funding:  funding,
				Exchange: &models.ExchangeSymbolInfo{SymbolName: inst.Symbol},
			})
		}

		if next == "" || len(list) < instrumentLimit {
			break
		}
		cursor = next
	}

	return pairs, nil
}

// ListHistory pages backward by endTime until the earliest fetched record
// reaches startTime, then returns the window sorted ascending.
func (a *Adapter) ListHistory(ctx context.Context, symbol string, startTime *int64) ([]models.FundingObservation, error) {
	var observations []models.FundingObservation
	var endTime int64

	for {
		query := url.Values{}
		query.Set("category", "linear")
		query.Set("symbol", symbol)
		query.Set("limit", strconv.Itoa(pageLimit))
		if endTime > 0 {
			query.Set("endTime", strconv.FormatInt(endTime, 10))
		}

		var list []fundingEntry
		if _, err := a.get(ctx, "/v5/market/funding/history", query, &list); err != nil {
			return nil, err
		}
		if len(list) == 0 {
			break
		}

		earliest := int64(0)
		for _, entry := range list {
			obs, err := entry.observation()
			if err != nil {
				return nil, err
			}
			if earliest == 0 || obs.FundingTime < earliest {
				earliest = obs.FundingTime
			}
			observations = append(observations, obs)
		}

		if len(list) < pageLimit {
			break
		}
		if startTime != nil && earliest <= *startTime {
			break
		}
		endTime = earliest - 1
	}

	sort.Slice(observations, func(i, j int) bool {
		return observations[i].FundingTime < observations[j].FundingTime
	})

	if startTime != nil {
		trimmed := observations[:0]
		for _, obs := range observations {
			if obs.FundingTime >= *startTime {
				trimmed = append(trimmed, obs)
			}
		}
		observations = trimmed
	}

	return observations, nil
}

// Latest returns the most recent funding observation for the symbol.
func (a *Adapter) Latest(ctx context.Context, symbol string) (*models.FundingObservation, error) {
	query := url.Values{}
	query.Set("category", "linear")
	query.Set("symbol", symbol)
	query.Set("limit", "1")

	var list []fundingEntry
	if _, err := a.get(ctx, "/v5/market/funding/history", query, &list); err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, models.ErrEmptyResult
	}

	obs, err := list[0].observation()
	if err != nil {
		return nil, err
	}
	return &obs, nil
}

func (e fundingEntry) observation() (models.FundingObservation, error) {
	rate, err := decimal.NewFromString(e.FundingRate)
	if err != nil {
		return models.FundingObservation{}, &models.VenueAPIError{
			Venue: models.VenueBybit,
			Op:    "/v5/market/funding/history",
			Err:   fmt.Errorf("malformed funding rate %q for %s: %w", e.FundingRate, e.Symbol, err),
		}
	}
	ts, err := strconv.ParseInt(e.FundingRateTimestamp, 10, 64)
	if err != nil {
		return models.FundingObservation{}, &models.VenueAPIError{
			Venue: models.VenueBybit,
			Op:    "/v5/market/funding/history",
			Err:   fmt.Errorf("malformed funding timestamp %q for %s: %w", e.FundingRateTimestamp, e.Symbol, err),
		}
	}
	return models.FundingObservation{Rate: rate, FundingTime: ts}, nil
}

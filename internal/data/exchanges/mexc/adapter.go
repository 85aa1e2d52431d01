// Package mexc adapts the MEXC contract REST API.
package mexc

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
	defaultBaseURL = "https://contract.mexc.com"

	pageLimit      = 1000
	interPageDelay = 500 * time.Millisecond

	stateEnabled      = 0
	futureTypePerp    = 1
	historyBatchSize  = 30
	historyParallel   = 3
	onlineParallel    = 2
)

// Adapter implements exchanges.VenueAdapter for MEXC. The venue does not
// publish funding intervals at the symbol level; the adapter reads the
// collect cycle from the current funding-rate endpoint and stamps it onto
// every observation it returns.
type Adapter struct {
	client *exchanges.Client
	sleep  exchanges.SleepFunc
}

// NewAdapter creates a MEXC adapter.
func NewAdapter(baseURL string, transport http.RoundTripper, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: exchanges.NewClient(models.VenueMexc, baseURL, transport, timeout),
		sleep:  exchanges.Sleep,
	}
}

// Venue identifies the adapter.
func (a *Adapter) Venue() models.VenueCode { return models.VenueMexc }

// Limits returns MEXC's contractual concurrency and paging parameters.
func (a *Adapter) Limits() exchanges.Limits {
	return exchanges.Limits{
		Parallelism:       historyParallel,
		OnlineParallelism: onlineParallel,
		HistoryBatchSize:  historyBatchSize,
		PageLimit:         pageLimit,
	}
}

// PacingDelay applies the dynamic inter-batch pacing rule.
func (a *Adapter) PacingDelay(batchRows int) time.Duration {
	return exchanges.DynamicPacing(batchRows)
}

type contractDetail struct {
	Symbol     string `json:"symbol"`
	State      int    `json:"state"`
	FutureType int    `json:"futureType"`
}

type historyPage struct {
	PageSize    int            `json:"pageSize"`
	TotalPage   int            `json:"totalPage"`
	CurrentPage int            `json:"currentPage"`
	ResultList  []historyEntry `json:"resultList"`
}

type historyEntry struct {
	Symbol      string          `json:"symbol"`
	FundingRate decimal.Decimal `json:"fundingRate"`
	SettleTime  int64           `json:"settleTime"`
}

type currentFunding struct {
	Symbol         string          `json:"symbol"`
	FundingRate    decimal.Decimal `json:"fundingRate"`
	CollectCycle   int             `json:"collectCycle"` // hours
	NextSettleTime int64           `json:"nextSettleTime"`
	Timestamp      int64           `json:"timestamp"`
}

// fundingTime returns the most recent settlement boundary. The venue only
// reports the next settlement, so the last one is a collect cycle earlier;
// the rate-computation timestamp is the fallback when either field is
// missing.
func (c currentFunding) fundingTime() int64 {
	if c.NextSettleTime > 0 && c.CollectCycle > 0 {
		return c.NextSettleTime - int64(c.CollectCycle)*3600_000
	}
	return c.Timestamp
}

// getData unwraps MEXC's {success, code, data} envelope. success=false is a
// venue API error even on a 200 status.
func (a *Adapter) getData(ctx context.Context, path string, query url.Values, data interface{}) error {
	var env struct {
		Success bool        `json:"success"`
		Code    int         `json:"code"`
		Message string      `json:"message"`
		Data    interface{} `json:"data"`
	}
	env.Data = data

	if err := a.client.GetJSON(ctx, path, query, &env); err != nil {
		return err
	}
	if !env.Success {
		return &models.VenueAPIError{
			Venue: models.VenueMexc,
			Op:    path,
			Err:   fmt.Errorf("code %d: %s", env.Code, env.Message),
		}
	}
	return nil
}

// ListActivePerpetuals returns enabled perpetual contracts from the
// contract-detail catalog. Symbol-level funding intervals are unknown here.
func (a *Adapter) ListActivePerpetuals(ctx context.Context, _ exchanges.Scope) ([]models.SymbolPair, error) {
	var contracts []contractDetail
	if err := a.getData(ctx, "/api/v1/contract/detail", nil, &contracts); err != nil {
		return nil, err
	}

	var pairs []models.SymbolPair
	for _, contract := range contracts {
		if contract.State != stateEnabled || contract.FutureType != futureTypePerp {
			continue
		}
		pairs = append(pairs, models.SymbolPair{
			Venue:    models.VenueMexc,
			Funding:  &models.FundingSymbolInfo{SymbolName: contract.Symbol},
			Exchange: &models.ExchangeSymbolInfo{SymbolName: contract.Symbol},
		})
	}

	return pairs, nil
}

// ListHistory walks the page-number paginated history until page ≥
// total_pages (or far enough back to cover startTime), pausing 500 ms
// between pages. The venue serves newest-first; the result is sorted
// ascending. Each observation carries the symbol's collect cycle so the
// pipeline has an interval source.
func (a *Adapter) ListHistory(ctx context.Context, symbol string, startTime *int64) ([]models.FundingObservation, error) {
	interval, err := a.collectCycle(ctx, symbol)
	if err != nil {
		return nil, err
	}

	var observations []models.FundingObservation
	earliest := int64(0)

	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("symbol", symbol)
		query.Set("page_num", strconv.Itoa(page))
		query.Set("page_size", strconv.Itoa(pageLimit))

		var result historyPage
		if err := a.getData(ctx, "/api/v1/contract/funding_rate/history", query, &result); err != nil {
			return nil, err
		}

		for _, entry := range result.ResultList {
			obs := models.FundingObservation{
				Rate:        entry.FundingRate,
				FundingTime: entry.SettleTime,
			}
			if interval != nil {
				obs.IntervalHours = interval
			}
			if earliest == 0 || entry.SettleTime < earliest {
				earliest = entry.SettleTime
			}
			observations = append(observations, obs)
		}

		if page >= result.TotalPage || len(result.ResultList) == 0 {
			break
		}
		if startTime != nil && earliest > 0 && earliest <= *startTime {
			break
		}

		if err := a.sleep(ctx, interPageDelay); err != nil {
			return nil, err
		}
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

// Latest returns the current funding rate stamped with the last settlement
// boundary; the interval is the reported collect cycle.
func (a *Adapter) Latest(ctx context.Context, symbol string) (*models.FundingObservation, error) {
	var current currentFunding
	if err := a.getData(ctx, "/api/v1/contract/funding_rate/"+symbol, nil, &current); err != nil {
		return nil, err
	}
	if current.Symbol == "" {
		return nil, models.ErrEmptyResult
	}

	obs := &models.FundingObservation{
		Rate:        current.FundingRate,
		FundingTime: current.fundingTime(),
	}
	if current.CollectCycle > 0 {
		cycle := current.CollectCycle
		obs.IntervalHours = &cycle
	}
	return obs, nil
}

// collectCycle reads the interval the venue reports on the current funding
// rate, nil when the venue omits it.
func (a *Adapter) collectCycle(ctx context.Context, symbol string) (*int, error) {
	var current currentFunding
	if err := a.getData(ctx, "/api/v1/contract/funding_rate/"+symbol, nil, &current); err != nil {
		return nil, err
	}
	if current.CollectCycle <= 0 {
		return nil, nil
	}
	cycle := current.CollectCycle
	return &cycle, nil
}

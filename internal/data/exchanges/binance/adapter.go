// Package binance adapts the Binance USDⓈ-M futures REST API.
package binance

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/fundsync/internal/data/exchanges"
	"github.com/sawpanic/fundsync/internal/models"
)

const (
	defaultBaseURL = "https://fapi.binance.com"

	pageLimit      = 1000
	interPageDelay = 400 * time.Millisecond

	statusTrading       = "TRADING"
	contractPerpetual   = "PERPETUAL"
	minInferredInterval = 1
	maxInferredInterval = 24
)

// Adapter implements exchanges.VenueAdapter for Binance.
//
// The symbol catalog is a two-source union: the fundingInfo endpoint, which
// reports the funding interval directly, and exchangeInfo filtered to trading
// perpetuals. Symbols present only in exchangeInfo get their interval
// inferred from the delta between their two most recent funding events.
type Adapter struct {
	client *exchanges.Client
	sleep  exchanges.SleepFunc
}

// NewAdapter creates a Binance adapter. An empty baseURL selects the
// production futures API; transport carries the shared guard stack.
func NewAdapter(baseURL string, transport http.RoundTripper, timeout time.Duration) *Adapter {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Adapter{
		client: exchanges.NewClient(models.VenueBinance, baseURL, transport, timeout),
		sleep:  exchanges.Sleep,
	}
}

// Venue identifies the adapter.
func (a *Adapter) Venue() models.VenueCode { return models.VenueBinance }

// Limits returns Binance's contractual concurrency and paging parameters.
func (a *Adapter) Limits() exchanges.Limits {
	return exchanges.Limits{
		Parallelism:       1,
		OnlineParallelism: 1,
		HistoryBatchSize:  10,
		PageLimit:         pageLimit,
	}
}

// PacingDelay applies the dynamic inter-batch pacing rule.
func (a *Adapter) PacingDelay(batchRows int) time.Duration {
	return exchanges.DynamicPacing(batchRows)
}

type fundingInfoEntry struct {
	Symbol               string `json:"symbol"`
	FundingIntervalHours int    `json:"fundingIntervalHours"`
}

type exchangeInfoResponse struct {
	Symbols []exchangeInfoSymbol `json:"symbols"`
}

type exchangeInfoSymbol struct {
	Symbol       string `json:"symbol"`
	Status       string `json:"status"`
	ContractType string `json:"contractType"`
	OnboardDate  int64  `json:"onboardDate"`
}

type fundingRateEntry struct {
	Symbol      string `json:"symbol"`
	FundingRate string `json:"fundingRate"`
	FundingTime int64  `json:"fundingTime"`
}

// ListActivePerpetuals returns the union of the fundingInfo catalog and the
// trading perpetuals of exchangeInfo. Symbols missing from fundingInfo are
// kept only when their interval can be inferred.
func (a *Adapter) ListActivePerpetuals(ctx context.Context, _ exchanges.Scope) ([]models.SymbolPair, error) {
	var fundingInfo []fundingInfoEntry
	if err := a.client.GetJSON(ctx, "/fapi/v1/fundingInfo", nil, &fundingInfo); err != nil {
		return nil, err
	}

	var exchangeInfo exchangeInfoResponse
	if err := a.client.GetJSON(ctx, "/fapi/v1/exchangeInfo", nil, &exchangeInfo); err != nil {
		return nil, err
	}

	intervals := make(map[string]int, len(fundingInfo))
	for _, entry := range fundingInfo {
		intervals[entry.Symbol] = entry.FundingIntervalHours
	}

	var pairs []models.SymbolPair
	seen := make(map[string]bool, len(exchangeInfo.Symbols))

	for _, sym := range exchangeInfo.Symbols {
		if sym.Status != statusTrading || sym.ContractType != contractPerpetual {
			continue
		}
		seen[sym.Symbol] = true

		interval, known := intervals[sym.Symbol]
		if !known {
			inferred, err := a.inferInterval(ctx, sym.Symbol)
			if err != nil {
				return nil, err
			}
			if inferred == 0 {
				log.Debug().Str("venue", "BINANCE").Str("symbol", sym.Symbol).
					Msg("funding interval not inferable, symbol skipped")
				continue
			}
			interval = inferred
		}

		pair := models.SymbolPair{
			Venue: models.VenueBinance,
			Funding: &models.FundingSymbolInfo{
				SymbolName:    sym.Symbol,
				IntervalHours: &interval,
			},
			Exchange: &models.ExchangeSymbolInfo{SymbolName: sym.Symbol},
		}
		if sym.OnboardDate > 0 {
			onboard := sym.OnboardDate
			pair.Exchange.ListingDate = &onboard
		}
		pairs = append(pairs, pair)
	}

	// fundingInfo symbols absent from exchangeInfo complete the union.
	for _, entry := range fundingInfo {
		if seen[entry.Symbol] {
			continue
		}
		interval := entry.FundingIntervalHours
		pairs = append(pairs, models.SymbolPair{
			Venue: models.VenueBinance,
			Funding: &models.FundingSymbolInfo{
				SymbolName:    entry.Symbol,
				IntervalHours: &interval,
			},
		})
	}

	return pairs, nil
}

// inferInterval derives the funding interval from the delta between the two
// most recent funding events. Returns zero when the delta rounds outside
// 1..24 hours or fewer than two events exist.
func (a *Adapter) inferInterval(ctx context.Context, symbol string) (int, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", "2")

	var entries []fundingRateEntry
	if err := a.client.GetJSON(ctx, "/fapi/v1/fundingRate", query, &entries); err != nil {
		return 0, err
	}
	if len(entries) < 2 {
		return 0, nil
	}

	delta := entries[len(entries)-1].FundingTime - entries[len(entries)-2].FundingTime
	hours := int(math.Round(float64(delta) / float64(time.Hour.Milliseconds())))
	if hours < minInferredInterval || hours > maxInferredInterval {
		return 0, nil
	}
	return hours, nil
}

// ListHistory pages forward by startTime in pages of 1000, pausing 400 ms
// between pages. A nil startTime backfills from the venue's earliest record.
func (a *Adapter) ListHistory(ctx context.Context, symbol string, startTime *int64) ([]models.FundingObservation, error) {
	cursor := int64(0)
	if startTime != nil {
		cursor = *startTime
	}

	var observations []models.FundingObservation
	for {
		query := url.Values{}
		query.Set("symbol", symbol)
		query.Set("startTime", strconv.FormatInt(cursor, 10))
		query.Set("limit", strconv.Itoa(pageLimit))

		var entries []fundingRateEntry
		if err := a.client.GetJSON(ctx, "/fapi/v1/fundingRate", query, &entries); err != nil {
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

		last := entries[len(entries)-1].FundingTime
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

// Latest returns the most recent funding observation for the symbol.
func (a *Adapter) Latest(ctx context.Context, symbol string) (*models.FundingObservation, error) {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("limit", "1")

	var entries []fundingRateEntry
	if err := a.client.GetJSON(ctx, "/fapi/v1/fundingRate", query, &entries); err != nil {
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

func (e fundingRateEntry) observation() (models.FundingObservation, error) {
	rate, err := decimal.NewFromString(e.FundingRate)
	if err != nil {
		return models.FundingObservation{}, &models.VenueAPIError{
			Venue: models.VenueBinance,
			Op:    "/fapi/v1/fundingRate",
			Err:   fmt.Errorf("malformed funding rate %q for %s: %w", e.FundingRate, e.Symbol, err),
		}
	}
	return models.FundingObservation{Rate: rate, FundingTime: e.FundingTime}, nil
}

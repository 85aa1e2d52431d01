package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

var symbolSeparators = strings.NewReplacer("_", "", "-", "")

// Normalize converts a venue-native symbol string to the engine's canonical
// form: separators removed, upper-cased. Idempotent.
func Normalize(s string) string {
	return strings.ToUpper(symbolSeparators.Replace(s))
}

// FundingSymbolInfo carries funding metadata a venue publishes at the symbol
// level. IntervalHours is nil for venues that only report the interval on
// individual observations.
type FundingSymbolInfo struct {
	SymbolName    string `json:"symbol_name"`
	IntervalHours *int   `json:"interval_hours,omitempty"`
	LaunchTime    *int64 `json:"launch_time,omitempty"`
}

// ExchangeSymbolInfo carries contract metadata from a venue's exchange-info
// surface.
type ExchangeSymbolInfo struct {
	SymbolName  string `json:"symbol_name"`
	ListingDate *int64 `json:"listing_date,omitempty"`
}

// SymbolPair is a venue-tagged view of one tradable perpetual. Either side
// may be absent depending on which venue endpoint produced it; the funding
// side wins for identity and interval, the exchange side supplies the
// listing date fallback.
type SymbolPair struct {
	Venue    VenueCode           `json:"venue"`
	Funding  *FundingSymbolInfo  `json:"funding,omitempty"`
	Exchange *ExchangeSymbolInfo `json:"exchange,omitempty"`
}

// Name returns the venue-native symbol string.
func (p SymbolPair) Name() string {
	if p.Funding != nil && p.Funding.SymbolName != "" {
		return p.Funding.SymbolName
	}
	if p.Exchange != nil {
		return p.Exchange.SymbolName
	}
	return ""
}

// IntervalHours returns the symbol-level funding interval when the venue
// publishes one.
func (p SymbolPair) IntervalHours() *int {
	if p.Funding == nil {
		return nil
	}
	return p.Funding.IntervalHours
}

// BackfillStart picks the deep-backfill start time: launch time preferred,
// listing date as fallback, nil when the venue reports neither (the adapter
// default applies).
func (p SymbolPair) BackfillStart() *int64 {
	if p.Funding != nil && p.Funding.LaunchTime != nil {
		return p.Funding.LaunchTime
	}
	if p.Exchange != nil && p.Exchange.ListingDate != nil {
		return p.Exchange.ListingDate
	}
	return nil
}

// FundingObservation is one funding event as returned by a venue history or
// latest endpoint. A zero FundingTime marks an invalid observation.
// IntervalHours is set only by venues that report the cadence per
// observation (MEXC).
type FundingObservation struct {
	Rate          decimal.Decimal `json:"rate"`
	FundingTime   int64           `json:"funding_time"`
	IntervalHours *int            `json:"interval_hours,omitempty"`
}

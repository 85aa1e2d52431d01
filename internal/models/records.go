package models

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// HistoryRecord is one funding observation, append-only. symbol always holds
// the normalized form, name the venue's raw string.
type HistoryRecord struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	VenueID       uuid.UUID       `json:"venue_id" db:"venue_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Name          string          `json:"name" db:"name"`
	IntervalHours int             `json:"interval_hours" db:"interval_hours"`
	Rate          decimal.Decimal `json:"rate" db:"rate"`
	OpenInterest  decimal.Decimal `json:"open_interest" db:"open_interest"`
	TsRate        int64           `json:"ts_rate" db:"ts_rate"`
	FetchedAt     int64           `json:"fetched_at" db:"fetched_at"`
}

// OnlineRecord is the latest funding observation per (symbol, venue).
// Updates keep the original ID.
type OnlineRecord struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	VenueID       uuid.UUID       `json:"venue_id" db:"venue_id"`
	Symbol        string          `json:"symbol" db:"symbol"`
	Name          string          `json:"name" db:"name"`
	IntervalHours int             `json:"interval_hours" db:"interval_hours"`
	Rate          decimal.Decimal `json:"rate" db:"rate"`
	OpenInterest  decimal.Decimal `json:"open_interest" db:"open_interest"`
	TsRate        int64           `json:"ts_rate" db:"ts_rate"`
	FetchedAt     int64           `json:"fetched_at" db:"fetched_at"`
}

package models

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// VenueCode identifies a supported trading venue.
type VenueCode string

const (
	VenueBinance     VenueCode = "BINANCE"
	VenueBybit       VenueCode = "BYBIT"
	VenueHyperliquid VenueCode = "HYPERLIQUID"
	VenueMexc        VenueCode = "MEXC"
)

// AllVenues lists every venue the engine synchronizes, in seeding order.
func AllVenues() []VenueCode {
	return []VenueCode{VenueBinance, VenueBybit, VenueHyperliquid, VenueMexc}
}

// ParseVenueCode maps a case-insensitive string onto a VenueCode.
func ParseVenueCode(s string) (VenueCode, error) {
	switch VenueCode(strings.ToUpper(strings.TrimSpace(s))) {
	case VenueBinance:
		return VenueBinance, nil
	case VenueBybit:
		return VenueBybit, nil
	case VenueHyperliquid:
		return VenueHyperliquid, nil
	case VenueMexc:
		return VenueMexc, nil
	default:
		return "", fmt.Errorf("unknown venue code %q", s)
	}
}

// Venue is a trading venue row. Rows are created once by the seeder and
// never deleted by the engine.
type Venue struct {
	ID   uuid.UUID `json:"id" db:"id"`
	Code VenueCode `json:"code" db:"code"`
}

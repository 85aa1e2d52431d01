package pipeline

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/sawpanic/fundsync/internal/models"
)

const hourMillis = int64(3600_000)

const (
	minIntervalHours = 1
	maxIntervalHours = 24
)

// rowInterval resolves the funding interval for a row: the symbol-level
// interval when the venue publishes one, the observation's own otherwise.
func rowInterval(pair models.SymbolPair, obs models.FundingObservation) *int {
	if interval := pair.IntervalHours(); interval != nil {
		return interval
	}
	return obs.IntervalHours
}

// checkInterval rejects intervals the history and online tables refuse.
// Venues occasionally publish bogus cycles; dropping the row here keeps a
// bad symbol from failing the whole bulk insert.
func checkInterval(name string, interval *int) error {
	if interval == nil {
		return &models.ValidationError{Symbol: name, Reason: "no funding interval source"}
	}
	if *interval < minIntervalHours || *interval > maxIntervalHours {
		return &models.ValidationError{Symbol: name, Reason: fmt.Sprintf("funding interval %dh outside 1..24h", *interval)}
	}
	return nil
}

// buildHistoryRow converts one observation into a HistoryRecord. A zero
// funding time or a missing interval source fails the row with a validation
// error; the caller drops it and continues.
func buildHistoryRow(venueID uuid.UUID, pair models.SymbolPair, obs models.FundingObservation, fetchedAt int64) (models.HistoryRecord, error) {
	name := pair.Name()
	if obs.FundingTime == 0 {
		return models.HistoryRecord{}, &models.ValidationError{Symbol: name, Reason: "zero funding time"}
	}
	interval := rowInterval(pair, obs)
	if err := checkInterval(name, interval); err != nil {
		return models.HistoryRecord{}, err
	}

	return models.HistoryRecord{
		ID:            uuid.New(),
		VenueID:       venueID,
		Symbol:        models.Normalize(name),
		Name:          name,
		IntervalHours: *interval,
		Rate:          obs.Rate,
		OpenInterest:  decimal.Zero,
		TsRate:        obs.FundingTime,
		FetchedAt:     fetchedAt,
	}, nil
}

// buildOnlineRow converts the latest observation into an OnlineRecord
// without an id; the caller assigns a fresh one for creates or carries the
// existing one for updates.
func buildOnlineRow(venueID uuid.UUID, pair models.SymbolPair, obs models.FundingObservation, fetchedAt int64) (models.OnlineRecord, error) {
	name := pair.Name()
	if obs.FundingTime == 0 {
		return models.OnlineRecord{}, &models.ValidationError{Symbol: name, Reason: "zero funding time"}
	}
	interval := rowInterval(pair, obs)
	if err := checkInterval(name, interval); err != nil {
		return models.OnlineRecord{}, err
	}

	return models.OnlineRecord{
		VenueID:       venueID,
		Symbol:        models.Normalize(name),
		Name:          name,
		IntervalHours: *interval,
		Rate:          obs.Rate,
		OpenInterest:  decimal.Zero,
		TsRate:        obs.FundingTime,
		FetchedAt:     fetchedAt,
	}, nil
}

package application

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/sawpanic/fundsync/internal/models"
	"github.com/sawpanic/fundsync/internal/persistence"
)

// SeedVenues creates the venue rows that are not present yet. Existing rows
// keep their ids; running the seeder twice is a no-op.
func SeedVenues(ctx context.Context, repo persistence.ExchangesRepo, log zerolog.Logger) error {
	var missing []models.Venue
	for _, code := range models.AllVenues() {
		venue, err := repo.GetByCode(ctx, code)
		if err != nil {
			return fmt.Errorf("seed lookup %s: %w", code, err)
		}
		if venue == nil {
			missing = append(missing, models.Venue{ID: uuid.New(), Code: code})
		}
	}

	if len(missing) == 0 {
		log.Debug().Msg("venues already seeded")
		return nil
	}

	if err := repo.Add(ctx, missing...); err != nil {
		return fmt.Errorf("seed venues: %w", err)
	}

	codes := make([]string, 0, len(missing))
	for _, v := range missing {
		codes = append(codes, string(v.Code))
	}
	log.Info().Strs("venues", codes).Msg("seeded venue rows")
	return nil
}

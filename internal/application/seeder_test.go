package application

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundsync/internal/models"
)

type seedRepo struct {
	existing map[models.VenueCode]*models.Venue
	added    []models.Venue
	getErr   error
	addErr   error
}

func (r *seedRepo) GetByCode(_ context.Context, code models.VenueCode) (*models.Venue, error) {
	if r.getErr != nil {
		return nil, r.getErr
	}
	return r.existing[code], nil
}

func (r *seedRepo) Add(_ context.Context, venues ...models.Venue) error {
	if r.addErr != nil {
		return r.addErr
	}
	r.added = append(r.added, venues...)
	return nil
}

func TestSeedVenuesFromEmpty(t *testing.T) {
	repo := &seedRepo{existing: map[models.VenueCode]*models.Venue{}}

	require.NoError(t, SeedVenues(context.Background(), repo, zerolog.Nop()))

	require.Len(t, repo.added, 4)
	codes := make([]models.VenueCode, 0, 4)
	for _, v := range repo.added {
		assert.NotEqual(t, uuid.Nil, v.ID)
		codes = append(codes, v.Code)
	}
	assert.Equal(t, models.AllVenues(), codes)
}

func TestSeedVenuesIdempotent(t *testing.T) {
	existing := map[models.VenueCode]*models.Venue{}
	for _, code := range models.AllVenues() {
		existing[code] = &models.Venue{ID: uuid.New(), Code: code}
	}
	repo := &seedRepo{existing: existing}

	require.NoError(t, SeedVenues(context.Background(), repo, zerolog.Nop()))
	assert.Empty(t, repo.added)
}

func TestSeedVenuesFillsOnlyMissing(t *testing.T) {
	repo := &seedRepo{existing: map[models.VenueCode]*models.Venue{
		models.VenueBinance: {ID: uuid.New(), Code: models.VenueBinance},
		models.VenueMexc:    {ID: uuid.New(), Code: models.VenueMexc},
	}}

	require.NoError(t, SeedVenues(context.Background(), repo, zerolog.Nop()))

	require.Len(t, repo.added, 2)
	assert.Equal(t, models.VenueBybit, repo.added[0].Code)
	assert.Equal(t, models.VenueHyperliquid, repo.added[1].Code)
}

func TestSeedVenuesPropagatesErrors(t *testing.T) {
	repo := &seedRepo{getErr: errors.New("connection refused")}
	assert.Error(t, SeedVenues(context.Background(), repo, zerolog.Nop()))

	repo = &seedRepo{existing: map[models.VenueCode]*models.Venue{}, addErr: errors.New("tx aborted")}
	assert.Error(t, SeedVenues(context.Background(), repo, zerolog.Nop()))
}

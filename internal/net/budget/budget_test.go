package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundsync/internal/models"
)

func TestSpendWithinLimit(t *testing.T) {
	m := NewManager(map[models.VenueCode]int64{models.VenueBinance: 3})

	for i := 0; i < 3; i++ {
		require.NoError(t, m.Spend(models.VenueBinance))
	}

	err := m.Spend(models.VenueBinance)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, models.VenueBinance, exhausted.Venue)
	assert.Equal(t, int64(3), exhausted.Used)
	assert.Equal(t, int64(3), exhausted.Limit)
}

func TestUnlimitedVenue(t *testing.T) {
	m := NewManager(map[models.VenueCode]int64{models.VenueBinance: 1})

	// Venues without a limit never exhaust.
	for i := 0; i < 100; i++ {
		require.NoError(t, m.Spend(models.VenueBybit))
	}
}

func TestResetAtUTCMidnight(t *testing.T) {
	m := NewManager(map[models.VenueCode]int64{models.VenueMexc: 1})

	current := time.Date(2026, time.March, 1, 23, 59, 0, 0, time.UTC)
	m.now = func() time.Time { return current }

	require.NoError(t, m.Spend(models.VenueMexc))
	err := m.Spend(models.VenueMexc)
	require.Error(t, err)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, time.Date(2026, time.March, 2, 0, 0, 0, 0, time.UTC), exhausted.ResetAt)

	current = current.Add(2 * time.Minute)
	require.NoError(t, m.Spend(models.VenueMexc))
}

func TestStats(t *testing.T) {
	m := NewManager(map[models.VenueCode]int64{
		models.VenueBinance: 4,
		models.VenueBybit:   0,
	})

	require.NoError(t, m.Spend(models.VenueBinance))
	require.NoError(t, m.Spend(models.VenueBinance))

	stats := m.Stats()
	require.Contains(t, stats, models.VenueBinance)
	assert.Equal(t, int64(2), stats[models.VenueBinance].Used)
	assert.InDelta(t, 50.0, stats[models.VenueBinance].Percent, 0.01)

	// Unlimited venues are not reported.
	assert.NotContains(t, stats, models.VenueBybit)
}

func TestDefaultLimitsCoverAllVenues(t *testing.T) {
	limits := DefaultLimits()
	for _, code := range models.AllVenues() {
		assert.Positive(t, limits[code], code)
	}
}

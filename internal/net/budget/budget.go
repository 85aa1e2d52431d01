// Package budget enforces per-venue daily request budgets. The venues'
// public REST tiers are generous, but an unattended backfill loop can still
// burn through them; the budget is the hard stop behind the rate limiter.
package budget

import (
	"fmt"
	"sync"
	"time"

	"github.com/sawpanic/fundsync/internal/models"
)

// ExhaustedError reports a venue whose daily budget is spent. Requests fail
// until the next UTC midnight reset.
type ExhaustedError struct {
	Venue   models.VenueCode
	Used    int64
	Limit   int64
	ResetAt time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("daily request budget exhausted for %s: %d/%d used, resets %s",
		e.Venue, e.Used, e.Limit, e.ResetAt.Format("15:04 UTC"))
}

// DefaultLimits returns daily request ceilings well under each venue's
// public allowance. A zero limit means unlimited.
func DefaultLimits() map[models.VenueCode]int64 {
	return map[models.VenueCode]int64{
		models.VenueBinance:     400_000,
		models.VenueBybit:       600_000,
		models.VenueHyperliquid: 150_000,
		models.VenueMexc:        400_000,
	}
}

type window struct {
	used  int64
	start time.Time
}

// Manager tracks request spend per venue within the current UTC day.
type Manager struct {
	mu      sync.Mutex
	limits  map[models.VenueCode]int64
	windows map[models.VenueCode]*window

	now func() time.Time
}

// NewManager creates a budget manager. Venues missing from limits are
// unlimited; nil limits selects the defaults.
func NewManager(limits map[models.VenueCode]int64) *Manager {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &Manager{
		limits:  limits,
		windows: make(map[models.VenueCode]*window),
		now:     time.Now,
	}
}

// Spend consumes one request from the venue's budget. Returns an
// *ExhaustedError when the day's allowance is already used up.
func (m *Manager) Spend(venue models.VenueCode) error {
	limit := m.limits[venue]
	if limit <= 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now().UTC()
	day := now.Truncate(24 * time.Hour)

	w, ok := m.windows[venue]
	if !ok || w.start.Before(day) {
		w = &window{start: day}
		m.windows[venue] = w
	}

	if w.used >= limit {
		return &ExhaustedError{
			Venue:   venue,
			Used:    w.used,
			Limit:   limit,
			ResetAt: day.Add(24 * time.Hour),
		}
	}

	w.used++
	return nil
}

// Status is one venue's budget utilization.
type Status struct {
	Used    int64   `json:"used"`
	Limit   int64   `json:"limit"`
	Percent float64 `json:"percent"`
}

// Stats reports the current day's utilization for every limited venue.
func (m *Manager) Stats() map[models.VenueCode]Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	day := m.now().UTC().Truncate(24 * time.Hour)
	stats := make(map[models.VenueCode]Status, len(m.limits))
	for venue, limit := range m.limits {
		if limit <= 0 {
			continue
		}
		var used int64
		if w, ok := m.windows[venue]; ok && !w.start.Before(day) {
			used = w.used
		}
		stats[venue] = Status{
			Used:    used,
			Limit:   limit,
			Percent: float64(used) / float64(limit) * 100,
		}
	}
	return stats
}

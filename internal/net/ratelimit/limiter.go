package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sawpanic/fundsync/internal/models"
)

// VenueLimits configures the token bucket for one venue.
type VenueLimits struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DefaultVenueLimits returns buckets held under the documented public REST
// ceilings of each venue. Inter-page pacing is handled separately by the
// venue adapters.
func DefaultVenueLimits() map[models.VenueCode]VenueLimits {
	return map[models.VenueCode]VenueLimits{
		models.VenueBinance:     {RPS: 5, Burst: 10},
		models.VenueBybit:       {RPS: 10, Burst: 20},
		models.VenueHyperliquid: {RPS: 2, Burst: 4},
		models.VenueMexc:        {RPS: 5, Burst: 10},
	}
}

// Manager provides per-venue rate limiting using token buckets. Limiters are
// created lazily on first use.
type Manager struct {
	mu       sync.RWMutex
	limiters map[models.VenueCode]*rate.Limiter
	limits   map[models.VenueCode]VenueLimits
	fallback VenueLimits
}

// NewManager creates a rate limiter manager. Venues missing from limits get
// the fallback bucket.
func NewManager(limits map[models.VenueCode]VenueLimits, fallback VenueLimits) *Manager {
	if limits == nil {
		limits = DefaultVenueLimits()
	}
	return &Manager{
		limiters: make(map[models.VenueCode]*rate.Limiter),
		limits:   limits,
		fallback: fallback,
	}
}

// getLimiter returns or creates the limiter for the specified venue
func (m *Manager) getLimiter(venue models.VenueCode) *rate.Limiter {
	m.mu.RLock()
	limiter, exists := m.limiters[venue]
	m.mu.RUnlock()

	if exists {
		return limiter
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := m.limiters[venue]; exists {
		return limiter
	}

	limits, ok := m.limits[venue]
	if !ok || limits.RPS <= 0 {
		limits = m.fallback
	}

	limiter = rate.NewLimiter(rate.Limit(limits.RPS), limits.Burst)
	m.limiters[venue] = limiter
	return limiter
}

// Allow returns true if a request for the specified venue is allowed
func (m *Manager) Allow(venue models.VenueCode) bool {
	return m.getLimiter(venue).Allow()
}

// Wait blocks until a request for the specified venue is allowed or the
// context is cancelled.
func (m *Manager) Wait(ctx context.Context, venue models.VenueCode) error {
	return m.getLimiter(venue).Wait(ctx)
}

// LimiterStats represents the current state of a single venue bucket
type LimiterStats struct {
	Venue           models.VenueCode `json:"venue"`
	RPS             float64          `json:"rps"`
	Burst           int              `json:"burst"`
	TokensAvailable float64          `json:"tokens_available"`
	NextAllowedAt   time.Time        `json:"next_allowed_at"`
	Delay           time.Duration    `json:"delay"`
}

// IsThrottled returns true if the bucket is currently delaying requests
func (s *LimiterStats) IsThrottled() bool {
	return s.Delay > 0
}

// Stats returns statistics for every venue that has sent traffic
func (m *Manager) Stats() map[models.VenueCode]LimiterStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[models.VenueCode]LimiterStats)
	now := time.Now()

	for venue, limiter := range m.limiters {
		reservation := limiter.Reserve()
		delay := reservation.Delay()
		reservation.Cancel() // Cancel the reservation since we're just checking

		stats[venue] = LimiterStats{
			Venue:           venue,
			RPS:             float64(limiter.Limit()),
			Burst:           limiter.Burst(),
			TokensAvailable: limiter.Tokens(),
			NextAllowedAt:   now.Add(delay),
			Delay:           delay,
		}
	}

	return stats
}

// Reset clears all venue limiters
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.limiters = make(map[models.VenueCode]*rate.Limiter)
}

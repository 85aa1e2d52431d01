package circuit

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/fundsync/internal/models"
)

// Config tunes the breaker settings shared by every venue.
type Config struct {
	MaxRequests         uint32        `yaml:"max_requests"`
	Interval            time.Duration `yaml:"interval"`
	Timeout             time.Duration `yaml:"timeout"`
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
}

// DefaultConfig keeps the trip threshold above the per-symbol retry budget,
// so one flaky symbol cannot open a venue's breaker.
func DefaultConfig() Config {
	return Config{
		MaxRequests:         3,
		Interval:            60 * time.Second,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 8,
	}
}

// Manager hands out one circuit breaker per venue. Breakers are created
// lazily on first use.
type Manager struct {
	mu       sync.RWMutex
	breakers map[models.VenueCode]*gobreaker.CircuitBreaker
	config   Config
}

// NewManager creates a circuit breaker manager with the given settings
func NewManager(config Config) *Manager {
	return &Manager{
		breakers: make(map[models.VenueCode]*gobreaker.CircuitBreaker),
		config:   config,
	}
}

// getBreaker returns or creates the breaker for the specified venue
func (m *Manager) getBreaker(venue models.VenueCode) *gobreaker.CircuitBreaker {
	m.mu.RLock()
	breaker, exists := m.breakers[venue]
	m.mu.RUnlock()

	if exists {
		return breaker
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := m.breakers[venue]; exists {
		return breaker
	}

	settings := gobreaker.Settings{
		Name:        string(venue),
		MaxRequests: m.config.MaxRequests,
		Interval:    m.config.Interval,
		Timeout:     m.config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.config.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("venue", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
	}

	breaker = gobreaker.NewCircuitBreaker(settings)
	m.breakers[venue] = breaker
	return breaker
}

// Execute runs fn through the venue's breaker. While the breaker is open it
// returns gobreaker.ErrOpenState without invoking fn.
func (m *Manager) Execute(venue models.VenueCode, fn func() (interface{}, error)) (interface{}, error) {
	return m.getBreaker(venue).Execute(fn)
}

// State returns the current breaker state for a venue
func (m *Manager) State(venue models.VenueCode) gobreaker.State {
	return m.getBreaker(venue).State()
}

// Status describes one venue breaker for diagnostics.
type Status struct {
	Venue     models.VenueCode `json:"venue"`
	State     string           `json:"state"`
	Counts    gobreaker.Counts `json:"counts"`
	ErrorRate float64          `json:"error_rate"`
}

// Stats returns per-venue breaker status for every venue that has sent
// traffic.
func (m *Manager) Stats() map[models.VenueCode]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[models.VenueCode]Status)
	for venue, breaker := range m.breakers {
		counts := breaker.Counts()

		var errorRate float64
		if counts.Requests > 0 {
			errorRate = float64(counts.TotalFailures) / float64(counts.Requests) * 100
		}

		stats[venue] = Status{
			Venue:     venue,
			State:     breaker.State().String(),
			Counts:    counts,
			ErrorRate: errorRate,
		}
	}

	return stats
}

package persistence

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/sawpanic/fundsync/internal/models"
)

// RateFilter narrows funding-rate queries. Zero-valued fields are ignored.
type RateFilter struct {
	VenueIDs []uuid.UUID `json:"venue_ids,omitempty"`
	Symbols  []string    `json:"symbols,omitempty"` // normalized form
	Name     string      `json:"name,omitempty"`    // raw venue string, case-insensitive match
	From     *int64      `json:"from,omitempty"`    // ts_rate lower bound, epoch ms, inclusive
	To       *int64      `json:"to,omitempty"`      // ts_rate upper bound, epoch ms, inclusive
}

// Page is 1-based pagination. A nil *Page means no limit.
type Page struct {
	Number int `json:"number"`
	Size   int `json:"size"`
}

// Bounds converts the page into LIMIT/OFFSET values. Page numbers below one
// are clamped to the first page.
func (p Page) Bounds() (limit, offset int) {
	number := p.Number
	if number < 1 {
		number = 1
	}
	return p.Size, (number - 1) * p.Size
}

// ExchangesRepo provides venue rows. Rows are seeded once and never deleted.
type ExchangesRepo interface {
	// GetByCode returns the venue row for a code, nil when no row exists.
	GetByCode(ctx context.Context, code models.VenueCode) (*models.Venue, error)

	// Add persists the given venues in a single transaction. Existing codes
	// are left untouched. Used only at seeding time.
	Add(ctx context.Context, venues ...models.Venue) error
}

// HistoryRepo provides append-only funding history persistence.
type HistoryRepo interface {
	// GetLatestSymbolRates returns, per unique symbol (or symbol × venue when
	// grouped), the row with maximum ts_rate.
	GetLatestSymbolRates(ctx context.Context, filter *RateFilter, groupByVenue bool, page *Page) ([]models.HistoryRecord, error)

	// GetByFilter retrieves rows matching the filter, ts_rate descending.
	GetByFilter(ctx context.Context, filter RateFilter, page *Page) ([]models.HistoryRecord, error)

	// GetUniqueSymbolsCount counts distinct normalized symbols.
	GetUniqueSymbolsCount(ctx context.Context, filter *RateFilter) (int64, error)

	// GetCountByFilter counts rows matching the filter.
	GetCountByFilter(ctx context.Context, filter RateFilter) (int64, error)

	// BulkInsert streams rows via COPY in chunks of at most 10000. No
	// separate save is required; each chunk commits on its own.
	BulkInsert(ctx context.Context, rows []models.HistoryRecord) error
}

// OnlineBatch stages online-record writes for a single transactional save.
type OnlineBatch interface {
	// AddRange stages rows to insert.
	AddRange(rows ...models.OnlineRecord)

	// UpdateRange stages rows to update by id.
	UpdateRange(rows ...models.OnlineRecord)

	// Save commits updates then creates in one transaction.
	Save(ctx context.Context) error
}

// OnlineRepo provides latest-funding-per-symbol persistence.
type OnlineRepo interface {
	// GetByFilter retrieves online rows matching the filter.
	GetByFilter(ctx context.Context, filter RateFilter, page *Page) ([]models.OnlineRecord, error)

	// GetLatestSymbolFundingRates returns, per unique symbol, the online row
	// with maximum ts_rate across venues.
	GetLatestSymbolFundingRates(ctx context.Context, page Page) ([]models.OnlineRecord, error)

	// GetUniqueSymbolsCount counts distinct normalized symbols.
	GetUniqueSymbolsCount(ctx context.Context) (int64, error)

	// GetCountByFilter counts rows matching the filter.
	GetCountByFilter(ctx context.Context, filter RateFilter) (int64, error)

	// NewBatch opens a staged write set committed by a single Save.
	NewBatch() OnlineBatch
}

// Repository aggregates all persistence interfaces.
type Repository struct {
	Exchanges ExchangesRepo
	History   HistoryRepo
	Online    OnlineRepo
}

// HealthCheck represents storage health status.
type HealthCheck struct {
	Healthy        bool           `json:"healthy"`
	Errors         []string       `json:"errors,omitempty"`
	ConnectionPool map[string]int `json:"connection_pool"`
	LastCheck      time.Time      `json:"last_check"`
	ResponseTimeMS int64          `json:"response_time_ms"`
}

// RepositoryHealth provides health monitoring for the persistence layer.
type RepositoryHealth interface {
	// Health returns current storage health status.
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity to the database.
	Ping(ctx context.Context) error
}

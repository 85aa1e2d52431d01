package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/fundsync/internal/models"
	"github.com/sawpanic/fundsync/internal/persistence"
)

// exchangesRepo implements ExchangesRepo interface for PostgreSQL
type exchangesRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewExchangesRepo creates a new PostgreSQL exchanges repository
func NewExchangesRepo(db *sqlx.DB, timeout time.Duration) persistence.ExchangesRepo {
	return &exchangesRepo{
		db:      db,
		timeout: timeout,
	}
}

// GetByCode returns the venue row for a code, nil when no row exists
func (r *exchangesRepo) GetByCode(ctx context.Context, code models.VenueCode) (*models.Venue, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, code
		FROM exchanges
		WHERE code = $1`

	var venue models.Venue
	err := r.db.QueryRowxContext(ctx, query, string(code)).Scan(&venue.ID, &venue.Code)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get exchange by code: %w", err)
	}

	return &venue, nil
}

// Add persists venues in a single transaction. Codes already present are
// left untouched, so seeding stays idempotent.
func (r *exchangesRepo) Add(ctx context.Context, venues ...models.Venue) error {
	if len(venues) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO exchanges (id, code)
		VALUES ($1, $2)
		ON CONFLICT (code) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, venue := range venues {
		if _, err := stmt.ExecContext(ctx, venue.ID, string(venue.Code)); err != nil {
			return fmt.Errorf("failed to insert exchange %s: %w", venue.Code, err)
		}
	}

	return tx.Commit()
}

package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/fundsync/internal/models"
	"github.com/sawpanic/fundsync/internal/persistence"
)

const onlineColumns = `id, venue_id, symbol, name, interval_hours, rate, open_interest, ts_rate, fetched_at`

// onlineRepo implements OnlineRepo interface for PostgreSQL
type onlineRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewOnlineRepo creates a new PostgreSQL online-rates repository
func NewOnlineRepo(db *sqlx.DB, timeout time.Duration) persistence.OnlineRepo {
	return &onlineRepo{
		db:      db,
		timeout: timeout,
	}
}

// GetByFilter retrieves online rows matching the filter
func (r *onlineRepo) GetByFilter(ctx context.Context, filter persistence.RateFilter, page *persistence.Page) ([]models.OnlineRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	where, args := buildRateFilter(&filter)
	query := fmt.Sprintf(`
		SELECT %s
		FROM funding_online
		WHERE %s
		ORDER BY symbol, venue_id`, onlineColumns, where)
	query, args = appendPage(query, args, page)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query online rates: %w", err)
	}
	defer rows.Close()

	return r.scanOnlineRecords(rows)
}

// GetLatestSymbolFundingRates returns, per unique symbol, the online row
// with maximum ts_rate across venues.
func (r *onlineRepo) GetLatestSymbolFundingRates(ctx context.Context, page persistence.Page) ([]models.OnlineRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT DISTINCT ON (symbol) %s
		FROM funding_online
		ORDER BY symbol, ts_rate DESC`, onlineColumns)
	query, args := appendPage(query, nil, &page)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest symbol funding rates: %w", err)
	}
	defer rows.Close()

	return r.scanOnlineRecords(rows)
}

// GetUniqueSymbolsCount counts distinct normalized symbols in online rates
func (r *onlineRepo) GetUniqueSymbolsCount(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT COUNT(DISTINCT symbol)
		FROM funding_online`

	var count int64
	if err := r.db.QueryRowxContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unique symbols: %w", err)
	}

	return count, nil
}

// GetCountByFilter counts online rows matching the filter
func (r *onlineRepo) GetCountByFilter(ctx context.Context, filter persistence.RateFilter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	where, args := buildRateFilter(&filter)
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM funding_online
		WHERE %s`, where)

	var count int64
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count online rows: %w", err)
	}

	return count, nil
}

// NewBatch opens a staged write set committed by a single Save
func (r *onlineRepo) NewBatch() persistence.OnlineBatch {
	return &onlineBatch{repo: r}
}

// Helper methods

func (r *onlineRepo) scanOnlineRecords(rows *sqlx.Rows) ([]models.OnlineRecord, error) {
	var records []models.OnlineRecord

	for rows.Next() {
		var record models.OnlineRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan online row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

// onlineBatch stages online-record writes until Save commits them
type onlineBatch struct {
	repo    *onlineRepo
	creates []models.OnlineRecord
	updates []models.OnlineRecord
}

// AddRange stages rows to insert
func (b *onlineBatch) AddRange(rows ...models.OnlineRecord) {
	b.creates = append(b.creates, rows...)
}

// UpdateRange stages rows to update by id
func (b *onlineBatch) UpdateRange(rows ...models.OnlineRecord) {
	b.updates = append(b.updates, rows...)
}

// Save commits staged updates then creates in one transaction. The staged
// sets are cleared after a successful commit.
func (b *onlineBatch) Save(ctx context.Context) error {
	if len(b.creates) == 0 && len(b.updates) == 0 {
		return nil
	}

	r := b.repo
	ctx, cancel := context.WithTimeout(ctx, r.timeout*time.Duration((len(b.creates)+len(b.updates))/100+1))
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := b.execUpdates(ctx, tx); err != nil {
		return err
	}
	if err := b.execCreates(ctx, tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit online batch: %w", err)
	}

	b.creates = nil
	b.updates = nil

	return nil
}

func (b *onlineBatch) execUpdates(ctx context.Context, tx *sqlx.Tx) error {
	if len(b.updates) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		UPDATE funding_online
		SET symbol = $2, name = $3, interval_hours = $4, rate = $5,
		    open_interest = $6, ts_rate = $7, fetched_at = $8
		WHERE id = $1`)
	if err != nil {
		return fmt.Errorf("failed to prepare update statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range b.updates {
		if _, err := stmt.ExecContext(ctx,
			row.ID, row.Symbol, row.Name, row.IntervalHours,
			row.Rate, row.OpenInterest, row.TsRate, row.FetchedAt); err != nil {
			return fmt.Errorf("failed to update online row %s: %w", row.Symbol, err)
		}
	}

	return nil
}

func (b *onlineBatch) execCreates(ctx context.Context, tx *sqlx.Tx) error {
	if len(b.creates) == 0 {
		return nil
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO funding_online
		(id, venue_id, symbol, name, interval_hours, rate, open_interest, ts_rate, fetched_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}
	defer stmt.Close()

	for _, row := range b.creates {
		if _, err := stmt.ExecContext(ctx,
			row.ID, row.VenueID, row.Symbol, row.Name, row.IntervalHours,
			row.Rate, row.OpenInterest, row.TsRate, row.FetchedAt); err != nil {
			if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
				return fmt.Errorf("duplicate online row %s: %w", row.Symbol, err)
			}
			return fmt.Errorf("failed to insert online row %s: %w", row.Symbol, err)
		}
	}

	return nil
}

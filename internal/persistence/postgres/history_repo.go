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

// historyBulkChunk caps rows streamed per COPY transaction.
const historyBulkChunk = 10000

const historyColumns = `id, venue_id, symbol, name, interval_hours, rate, open_interest, ts_rate, fetched_at`

// historyRepo implements HistoryRepo interface for PostgreSQL
type historyRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewHistoryRepo creates a new PostgreSQL funding-history repository
func NewHistoryRepo(db *sqlx.DB, timeout time.Duration) persistence.HistoryRepo {
	return &historyRepo{
		db:      db,
		timeout: timeout,
	}
}

// GetLatestSymbolRates returns the newest row per symbol, or per symbol and
// venue when groupByVenue is set.
func (r *historyRepo) GetLatestSymbolRates(ctx context.Context, filter *persistence.RateFilter, groupByVenue bool, page *persistence.Page) ([]models.HistoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	distinct := "symbol"
	if groupByVenue {
		distinct = "symbol, venue_id"
	}

	where, args := buildRateFilter(filter)
	query := fmt.Sprintf(`
		SELECT DISTINCT ON (%s) %s
		FROM funding_history
		WHERE %s
		ORDER BY %s, ts_rate DESC`, distinct, historyColumns, where, distinct)
	query, args = appendPage(query, args, page)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest symbol rates: %w", err)
	}
	defer rows.Close()

	return r.scanHistoryRecords(rows)
}

// GetByFilter retrieves history rows matching the filter, newest first
func (r *historyRepo) GetByFilter(ctx context.Context, filter persistence.RateFilter, page *persistence.Page) ([]models.HistoryRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	where, args := buildRateFilter(&filter)
	query := fmt.Sprintf(`
		SELECT %s
		FROM funding_history
		WHERE %s
		ORDER BY ts_rate DESC`, historyColumns, where)
	query, args = appendPage(query, args, page)

	rows, err := r.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query funding history: %w", err)
	}
	defer rows.Close()

	return r.scanHistoryRecords(rows)
}

// GetUniqueSymbolsCount counts distinct normalized symbols in history
func (r *historyRepo) GetUniqueSymbolsCount(ctx context.Context, filter *persistence.RateFilter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	where, args := buildRateFilter(filter)
	query := fmt.Sprintf(`
		SELECT COUNT(DISTINCT symbol)
		FROM funding_history
		WHERE %s`, where)

	var count int64
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count unique symbols: %w", err)
	}

	return count, nil
}

// GetCountByFilter counts history rows matching the filter
func (r *historyRepo) GetCountByFilter(ctx context.Context, filter persistence.RateFilter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	where, args := buildRateFilter(&filter)
	query := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM funding_history
		WHERE %s`, where)

	var count int64
	if err := r.db.QueryRowxContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count history rows: %w", err)
	}

	return count, nil
}

// BulkInsert streams rows with COPY in chunks of at most historyBulkChunk.
// Chunks commit independently; a failure never rolls back earlier chunks.
// The per-query timeout does not apply here: a cold-start backfill can
// stream for longer than any sane statement deadline, so the COPY path runs
// until done or until the caller cancels.
func (r *historyRepo) BulkInsert(ctx context.Context, rows []models.HistoryRecord) error {
	if len(rows) == 0 {
		return nil
	}

	for start := 0; start < len(rows); start += historyBulkChunk {
		end := start + historyBulkChunk
		if end > len(rows) {
			end = len(rows)
		}
		if err := r.copyChunk(ctx, rows[start:end]); err != nil {
			return err
		}
	}

	return nil
}

func (r *historyRepo) copyChunk(ctx context.Context, chunk []models.HistoryRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, pq.CopyIn("funding_history",
		"id", "venue_id", "symbol", "name", "interval_hours",
		"rate", "open_interest", "ts_rate", "fetched_at"))
	if err != nil {
		return fmt.Errorf("failed to prepare copy: %w", err)
	}

	for _, row := range chunk {
		_, err = stmt.ExecContext(ctx,
			row.ID, row.VenueID, row.Symbol, row.Name, row.IntervalHours,
			row.Rate, row.OpenInterest, row.TsRate, row.FetchedAt)
		if err != nil {
			stmt.Close()
			return fmt.Errorf("failed to buffer history row: %w", err)
		}
	}

	// Zero-argument exec flushes the buffered COPY data to the server.
	if _, err = stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("failed to flush copy: %w", err)
	}

	if err := stmt.Close(); err != nil {
		return fmt.Errorf("failed to close copy statement: %w", err)
	}

	return tx.Commit()
}

// Helper methods

func (r *historyRepo) scanHistoryRecords(rows *sqlx.Rows) ([]models.HistoryRecord, error) {
	var records []models.HistoryRecord

	for rows.Next() {
		var record models.HistoryRecord
		if err := rows.StructScan(&record); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	return records, nil
}

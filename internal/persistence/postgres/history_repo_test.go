package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/fundsync/internal/models"
	"github.com/sawpanic/fundsync/internal/persistence"
)

func historyRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "venue_id", "symbol", "name", "interval_hours",
		"rate", "open_interest", "ts_rate", "fetched_at",
	})
}

func TestHistoryRepo_GetByFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepo(db, 5*time.Second)

	recordID := uuid.New()
	venueID := uuid.New()
	rows := historyRows().
		AddRow(recordID.String(), venueID.String(), "BTCUSDT", "BTC_USDT", 8,
			"0.0001", "123456.78", int64(1700000000000), int64(1700000001000))

	mock.ExpectQuery(`(?s)SELECT .*FROM funding_history.*WHERE 1=1 AND symbol = ANY\(\$1\).*ORDER BY ts_rate DESC LIMIT \$2 OFFSET \$3`).
		WithArgs(pq.Array([]string{"BTCUSDT"}), 100, 0).
		WillReturnRows(rows)

	records, err := repo.GetByFilter(context.Background(),
		persistence.RateFilter{Symbols: []string{"BTCUSDT"}},
		&persistence.Page{Number: 1, Size: 100})
	require.NoError(t, err)
	require.Len(t, records, 1)

	assert.Equal(t, recordID, records[0].ID)
	assert.Equal(t, venueID, records[0].VenueID)
	assert.Equal(t, "BTCUSDT", records[0].Symbol)
	assert.Equal(t, "BTC_USDT", records[0].Name)
	assert.Equal(t, 8, records[0].IntervalHours)
	assert.True(t, records[0].Rate.Equal(decimal.RequireFromString("0.0001")))
	assert.Equal(t, int64(1700000000000), records[0].TsRate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_GetLatestSymbolRates_GroupedByVenue(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepo(db, 5*time.Second)

	rows := historyRows().
		AddRow(uuid.New().String(), uuid.New().String(), "ETHUSDT", "ETHUSDT", 8,
			"-0.0002", "98765.43", int64(1700003600000), int64(1700003601000))

	mock.ExpectQuery(`(?s)SELECT DISTINCT ON \(symbol, venue_id\) .*FROM funding_history.*ORDER BY symbol, venue_id, ts_rate DESC`).
		WillReturnRows(rows)

	records, err := repo.GetLatestSymbolRates(context.Background(), nil, true, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "ETHUSDT", records[0].Symbol)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_GetLatestSymbolRates_PerSymbol(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepo(db, 5*time.Second)

	mock.ExpectQuery(`(?s)SELECT DISTINCT ON \(symbol\) .*FROM funding_history.*ORDER BY symbol, ts_rate DESC`).
		WillReturnRows(historyRows())

	records, err := repo.GetLatestSymbolRates(context.Background(), nil, false, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_GetUniqueSymbolsCount(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepo(db, 5*time.Second)

	venueID := uuid.New()
	mock.ExpectQuery(`(?s)SELECT COUNT\(DISTINCT symbol\).*FROM funding_history.*WHERE 1=1 AND venue_id = ANY\(\$1\)`).
		WithArgs(pq.Array([]string{venueID.String()})).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(412))

	count, err := repo.GetUniqueSymbolsCount(context.Background(),
		&persistence.RateFilter{VenueIDs: []uuid.UUID{venueID}})
	require.NoError(t, err)
	assert.Equal(t, int64(412), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_GetCountByFilter(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepo(db, 5*time.Second)

	mock.ExpectQuery(`(?s)SELECT COUNT\(\*\).*FROM funding_history.*WHERE 1=1`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(100000))

	count, err := repo.GetCountByFilter(context.Background(), persistence.RateFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(100000), count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_BulkInsert(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepo(db, 5*time.Second)

	venueID := uuid.New()
	records := []models.HistoryRecord{
		{
			ID: uuid.New(), VenueID: venueID, Symbol: "BTCUSDT", Name: "BTCUSDT",
			IntervalHours: 8, Rate: decimal.RequireFromString("0.0001"),
			OpenInterest: decimal.RequireFromString("5000000"),
			TsRate:       1700000000000, FetchedAt: 1700000001000,
		},
		{
			ID: uuid.New(), VenueID: venueID, Symbol: "ETHUSDT", Name: "ETHUSDT",
			IntervalHours: 8, Rate: decimal.RequireFromString("-0.0002"),
			OpenInterest: decimal.RequireFromString("3000000"),
			TsRate:       1700000000000, FetchedAt: 1700000001000,
		},
	}

	copyStmt := regexp.QuoteMeta(pq.CopyIn("funding_history",
		"id", "venue_id", "symbol", "name", "interval_hours",
		"rate", "open_interest", "ts_rate", "fetched_at"))

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(copyStmt)
	for _, rec := range records {
		prep.ExpectExec().
			WithArgs(rec.ID, rec.VenueID, rec.Symbol, rec.Name, rec.IntervalHours,
				rec.Rate, rec.OpenInterest, rec.TsRate, rec.FetchedAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	// Zero-arg exec flushes the COPY buffer.
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, int64(len(records))))
	mock.ExpectCommit()

	err := repo.BulkInsert(context.Background(), records)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_BulkInsert_IgnoresQueryTimeout(t *testing.T) {
	db, mock := newMockDB(t)
	// A deadline this short would cancel the COPY before Begin if BulkInsert
	// applied the per-query timeout.
	repo := NewHistoryRepo(db, time.Nanosecond)

	rec := models.HistoryRecord{
		ID: uuid.New(), VenueID: uuid.New(), Symbol: "BTCUSDT", Name: "BTCUSDT",
		IntervalHours: 8, Rate: decimal.RequireFromString("0.0001"),
		OpenInterest: decimal.Zero,
		TsRate:       1700000000000, FetchedAt: 1700000001000,
	}

	copyStmt := regexp.QuoteMeta(pq.CopyIn("funding_history",
		"id", "venue_id", "symbol", "name", "interval_hours",
		"rate", "open_interest", "ts_rate", "fetched_at"))

	mock.ExpectBegin()
	prep := mock.ExpectPrepare(copyStmt)
	prep.ExpectExec().
		WithArgs(rec.ID, rec.VenueID, rec.Symbol, rec.Name, rec.IntervalHours,
			rec.Rate, rec.OpenInterest, rec.TsRate, rec.FetchedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.BulkInsert(context.Background(), []models.HistoryRecord{rec})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHistoryRepo_BulkInsert_Empty(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewHistoryRepo(db, 5*time.Second)

	err := repo.BulkInsert(context.Background(), nil)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/fundsync/internal/data/exchanges"
	"github.com/sawpanic/fundsync/internal/metrics"
	"github.com/sawpanic/fundsync/internal/models"
	"github.com/sawpanic/fundsync/internal/persistence"
)

// strategy is the per-symbol decision of an incremental history sync.
type strategy int

const (
	skipFresh strategy = iota
	fillGap
	appendOne
)

// decideStrategy compares now against the symbol's last known funding time
// plus its interval. SkipFresh when the next event is not yet due, FillGap
// when at least two intervals have passed, AppendOne otherwise.
func decideStrategy(lastTs, intervalMillis, now int64) strategy {
	switch {
	case lastTs+intervalMillis > now:
		return skipFresh
	case now-2*intervalMillis > lastTs:
		return fillGap
	default:
		return appendOne
	}
}

// HistoryPipeline aligns the local funding history of one venue with the
// venue's published history. A run with no local rows backfills every
// cataloged symbol from its launch; a run with local state syncs each symbol
// incrementally.
type HistoryPipeline struct {
	adapter exchanges.VenueAdapter
	repos   *persistence.Repository
	kernel  *Kernel
	reg     *metrics.Registry
	now     func() time.Time
	sleep   exchanges.SleepFunc
}

// NewHistoryPipeline builds a history pipeline for one venue. reg may be
// nil when metrics are not collected.
func NewHistoryPipeline(adapter exchanges.VenueAdapter, repos *persistence.Repository, reg *metrics.Registry) *HistoryPipeline {
	return &HistoryPipeline{
		adapter: adapter,
		repos:   repos,
		kernel:  NewKernel(adapter.Limits().Parallelism),
		reg:     reg,
		now:     time.Now,
		sleep:   exchanges.Sleep,
	}
}

// Run executes one history sync job. Per-symbol failures are logged and
// skipped; storage failures abort the job so the next schedule tick retries.
// Cold-start runs return no row DTOs, only the error outcome.
func (p *HistoryPipeline) Run(ctx context.Context) error {
	venueCode := p.adapter.Venue()
	logger := log.With().Str("venue", string(venueCode)).Str("pipeline", "history").Logger()
	start := p.now()

	if p.reg != nil {
		p.reg.ActiveJobs.Inc()
		defer p.reg.ActiveJobs.Dec()
	}

	err := p.run(ctx, logger)
	p.observeJob(venueCode, "history", start, err)
	return err
}

func (p *HistoryPipeline) run(ctx context.Context, logger zerolog.Logger) error {
	venueCode := p.adapter.Venue()

	venue, err := p.repos.Exchanges.GetByCode(ctx, venueCode)
	if err != nil {
		return &models.DatabaseError{Op: "venue lookup", Err: err}
	}
	if venue == nil {
		logger.Warn().Msg("venue not seeded, job skipped")
		return nil
	}

	fetchedAt := p.now().UnixMilli()

	filter := persistence.RateFilter{VenueIDs: []uuid.UUID{venue.ID}}
	latest, err := p.repos.History.GetLatestSymbolRates(ctx, &filter, false, nil)
	if err != nil {
		return &models.DatabaseError{Op: "latest rates lookup", Err: err}
	}

	var pairs []models.SymbolPair
	err = p.kernel.Retry(ctx, func(ctx context.Context) error {
		var listErr error
		pairs, listErr = p.adapter.ListActivePerpetuals(ctx, exchanges.ScopeHistory)
		return listErr
	})
	if err != nil {
		return fmt.Errorf("failed to list active perpetuals: %w", err)
	}

	if len(latest) == 0 {
		return p.coldStart(ctx, logger, venue.ID, pairs, fetchedAt)
	}
	return p.incremental(ctx, logger, venue.ID, pairs, latest, fetchedAt)
}

// coldStart backfills every symbol. Symbols are processed in venue-sized
// batches: batches run sequentially, symbols within a batch in parallel, one
// bulk insert and one pacing delay per batch.
func (p *HistoryPipeline) coldStart(ctx context.Context, logger zerolog.Logger, venueID uuid.UUID, pairs []models.SymbolPair, fetchedAt int64) error {
	batchSize := p.adapter.Limits().HistoryBatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	totalRows := 0
	for start := 0; start < len(pairs); start += batchSize {
		end := start + batchSize
		if end > len(pairs) {
			end = len(pairs)
		}

		rows, err := p.backfillBatch(ctx, logger, venueID, pairs[start:end], fetchedAt)
		if err != nil {
			return err
		}

		if err := p.repos.History.BulkInsert(ctx, rows); err != nil {
			return &models.DatabaseError{Op: "bulk insert", Err: err}
		}
		totalRows += len(rows)
		p.countInserted(len(rows))

		if delay := p.adapter.PacingDelay(len(rows)); delay > 0 {
			if err := p.sleep(ctx, delay); err != nil {
				return err
			}
		}
	}

	logger.Info().
		Int("symbols", len(pairs)).
		Int("rows", totalRows).
		Msg("cold-start backfill complete")
	return nil
}

// backfillBatch fetches full history for one batch of symbols in parallel.
// Per-symbol failures are logged and skipped; only cancellation aborts.
func (p *HistoryPipeline) backfillBatch(ctx context.Context, logger zerolog.Logger, venueID uuid.UUID, batch []models.SymbolPair, fetchedAt int64) ([]models.HistoryRecord, error) {
	var (
		mu   sync.Mutex
		rows []models.HistoryRecord
		wg   sync.WaitGroup
	)

	for _, pair := range batch {
		pair := pair
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := p.kernel.Acquire(ctx); err != nil {
				return
			}
			defer p.kernel.Release()

			symbolRows, err := p.backfillSymbol(ctx, logger, venueID, pair, fetchedAt)
			if err != nil {
				p.logSymbolError(logger, pair.Name(), "backfill", err)
				return
			}

			mu.Lock()
			rows = append(rows, symbolRows...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return rows, nil
}

// backfillSymbol fetches the full history of one symbol from its launch
// time, listing date or the adapter default, in that order.
func (p *HistoryPipeline) backfillSymbol(ctx context.Context, logger zerolog.Logger, venueID uuid.UUID, pair models.SymbolPair, fetchedAt int64) ([]models.HistoryRecord, error) {
	p.countRequest("list_history")

	var observations []models.FundingObservation
	err := p.kernel.Retry(ctx, func(ctx context.Context) error {
		var listErr error
		observations, listErr = p.adapter.ListHistory(ctx, pair.Name(), pair.BackfillStart())
		return listErr
	})
	if err != nil {
		return nil, err
	}

	return p.buildRows(logger, venueID, pair, observations, fetchedAt), nil
}

// incremental syncs each cataloged symbol against its last known row. All
// produced rows flow into a single bulk insert.
func (p *HistoryPipeline) incremental(ctx context.Context, logger zerolog.Logger, venueID uuid.UUID, pairs []models.SymbolPair, latest []models.HistoryRecord, fetchedAt int64) error {
	byName := make(map[string]models.HistoryRecord, len(latest))
	for _, record := range latest {
		byName[strings.ToLower(record.Name)] = record
	}

	var (
		mu   sync.Mutex
		rows []models.HistoryRecord
		wg   sync.WaitGroup
	)

	for _, pair := range pairs {
		pair := pair
		wg.Add(1)
		go func() {
			defer wg.Done()

			if err := p.kernel.Acquire(ctx); err != nil {
				return
			}
			defer p.kernel.Release()

			var symbolRows []models.HistoryRecord
			var err error

			last, known := byName[strings.ToLower(pair.Name())]
			if known {
				symbolRows, err = p.syncExisting(ctx, logger, venueID, pair, last, fetchedAt)
			} else {
				// Newly listed since the previous sync: deep backfill for
				// this symbol only.
				symbolRows, err = p.backfillSymbol(ctx, logger, venueID, pair, fetchedAt)
			}
			if err != nil {
				p.logSymbolError(logger, pair.Name(), "incremental sync", err)
				return
			}

			mu.Lock()
			rows = append(rows, symbolRows...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := p.repos.History.BulkInsert(ctx, rows); err != nil {
		return &models.DatabaseError{Op: "bulk insert", Err: err}
	}
	p.countInserted(len(rows))

	logger.Info().
		Int("symbols", len(pairs)).
		Int("rows", len(rows)).
		Msg("incremental sync complete")
	return nil
}

// syncExisting runs exactly one strategy for a known symbol: skip while the
// next event is not due, fill the gap when two or more intervals have
// passed, append the single latest observation otherwise.
func (p *HistoryPipeline) syncExisting(ctx context.Context, logger zerolog.Logger, venueID uuid.UUID, pair models.SymbolPair, last models.HistoryRecord, fetchedAt int64) ([]models.HistoryRecord, error) {
	intervalMillis := int64(last.IntervalHours) * hourMillis

	switch decideStrategy(last.TsRate, intervalMillis, fetchedAt) {
	case skipFresh:
		return nil, nil

	case fillGap:
		p.countRequest("list_history")
		startTime := last.TsRate + 1
		var observations []models.FundingObservation
		err := p.kernel.Retry(ctx, func(ctx context.Context) error {
			var listErr error
			observations, listErr = p.adapter.ListHistory(ctx, pair.Name(), &startTime)
			return listErr
		})
		if err != nil {
			return nil, err
		}
		return p.buildRows(logger, venueID, pair, observations, fetchedAt), nil

	default: // appendOne
		p.countRequest("latest")
		var observation *models.FundingObservation
		err := p.kernel.Retry(ctx, func(ctx context.Context) error {
			var latestErr error
			observation, latestErr = p.adapter.Latest(ctx, pair.Name())
			return latestErr
		})
		if errors.Is(err, models.ErrEmptyResult) {
			logger.Warn().Str("symbol", pair.Name()).Msg("venue returned no latest observation")
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		// The venue may not have published the due event yet; a stale
		// observation would duplicate the last stored row.
		if observation.FundingTime <= last.TsRate {
			return nil, nil
		}
		return p.buildRows(logger, venueID, pair, []models.FundingObservation{*observation}, fetchedAt), nil
	}
}

// buildRows converts observations into records, dropping invalid ones.
func (p *HistoryPipeline) buildRows(logger zerolog.Logger, venueID uuid.UUID, pair models.SymbolPair, observations []models.FundingObservation, fetchedAt int64) []models.HistoryRecord {
	rows := make([]models.HistoryRecord, 0, len(observations))
	for _, obs := range observations {
		row, err := buildHistoryRow(venueID, pair, obs, fetchedAt)
		if err != nil {
			logger.Error().Err(err).Str("symbol", pair.Name()).Msg("history row dropped")
			if p.reg != nil {
				p.reg.RowsDropped.WithLabelValues(string(p.adapter.Venue()), "history").Inc()
			}
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func (p *HistoryPipeline) logSymbolError(logger zerolog.Logger, symbol, op string, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return
	}
	logger.Error().Err(err).Str("symbol", symbol).Msgf("%s failed, symbol skipped", op)
	p.countError(op)
}

func (p *HistoryPipeline) countRequest(op string) {
	if p.reg != nil {
		p.reg.VenueRequests.WithLabelValues(string(p.adapter.Venue()), op).Inc()
	}
}

func (p *HistoryPipeline) countError(op string) {
	if p.reg != nil {
		p.reg.VenueErrors.WithLabelValues(string(p.adapter.Venue()), op).Inc()
	}
}

func (p *HistoryPipeline) countInserted(rows int) {
	if p.reg != nil && rows > 0 {
		p.reg.RowsInserted.WithLabelValues(string(p.adapter.Venue()), "history").Add(float64(rows))
	}
}

func (p *HistoryPipeline) observeJob(venue models.VenueCode, pipeline string, start time.Time, err error) {
	if p.reg == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	p.reg.JobDuration.WithLabelValues(string(venue), pipeline, result).Observe(time.Since(start).Seconds())
	p.reg.JobRuns.WithLabelValues(string(venue), pipeline, result).Inc()
}

package pipeline

import (
	"context"
	"errors"
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

// OnlinePipeline maintains one OnlineRecord per (symbol, venue) holding the
// venue's most recent funding observation. Existing rows are updated in
// place, keeping their ids.
type OnlinePipeline struct {
	adapter exchanges.VenueAdapter
	repos   *persistence.Repository
	kernel  *Kernel
	reg     *metrics.Registry
	now     func() time.Time
}

// NewOnlinePipeline builds an online pipeline for one venue. reg may be nil
// when metrics are not collected.
func NewOnlinePipeline(adapter exchanges.VenueAdapter, repos *persistence.Repository, reg *metrics.Registry) *OnlinePipeline {
	return &OnlinePipeline{
		adapter: adapter,
		repos:   repos,
		kernel:  NewKernel(adapter.Limits().OnlineParallelism),
		reg:     reg,
		now:     time.Now,
	}
}

// Run executes one online sync job and returns the committed rows. Any
// venue-catalog or storage failure aborts the job with an empty result; the
// commit is a single transaction, updates before creates.
func (p *OnlinePipeline) Run(ctx context.Context) ([]models.OnlineRecord, error) {
	venueCode := p.adapter.Venue()
	logger := log.With().Str("venue", string(venueCode)).Str("pipeline", "online").Logger()
	start := p.now()

	if p.reg != nil {
		p.reg.ActiveJobs.Inc()
		defer p.reg.ActiveJobs.Dec()
	}

	records, err := p.run(ctx, logger)
	p.observeJob(venueCode, start, err)
	if err != nil {
		logger.Error().Err(err).Msg("online sync failed")
		return nil, err
	}
	return records, nil
}

func (p *OnlinePipeline) run(ctx context.Context, logger zerolog.Logger) ([]models.OnlineRecord, error) {
	venue, err := p.repos.Exchanges.GetByCode(ctx, p.adapter.Venue())
	if err != nil {
		return nil, &models.DatabaseError{Op: "venue lookup", Err: err}
	}
	if venue == nil {
		logger.Warn().Msg("venue not seeded, job skipped")
		return nil, nil
	}

	fetchedAt := p.now().UnixMilli()

	existing, err := p.repos.Online.GetByFilter(ctx, persistence.RateFilter{VenueIDs: []uuid.UUID{venue.ID}}, nil)
	if err != nil {
		return nil, &models.DatabaseError{Op: "online rows lookup", Err: err}
	}
	byName := make(map[string]models.OnlineRecord, len(existing))
	for _, record := range existing {
		byName[record.Name] = record
	}

	var pairs []models.SymbolPair
	err = p.kernel.Retry(ctx, func(ctx context.Context) error {
		var listErr error
		pairs, listErr = p.adapter.ListActivePerpetuals(ctx, exchanges.ScopeOnline)
		return listErr
	})
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		creates []models.OnlineRecord
		updates []models.OnlineRecord
		// claimed resolves the unique-constraint disagreement: when two raw
		// names normalize to the same symbol, the first wins and later
		// variants are rejected.
		claimed = make(map[string]string, len(pairs))
		wg      sync.WaitGroup
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

			row, ok := p.fetchLatest(ctx, logger, venue.ID, pair, fetchedAt)
			if !ok {
				return
			}

			mu.Lock()
			defer mu.Unlock()

			if first, dup := claimed[row.Symbol]; dup {
				logger.Warn().
					Str("symbol", row.Symbol).
					Str("name", row.Name).
					Str("first_name", first).
					Msg("duplicate normalized symbol rejected")
				return
			}
			claimed[row.Symbol] = row.Name

			if prior, exists := byName[row.Name]; exists {
				row.ID = prior.ID
				updates = append(updates, row)
			} else {
				row.ID = uuid.New()
				creates = append(creates, row)
			}
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	batch := p.repos.Online.NewBatch()
	batch.UpdateRange(updates...)
	batch.AddRange(creates...)
	if err := batch.Save(ctx); err != nil {
		return nil, &models.DatabaseError{Op: "online save", Err: err}
	}

	if p.reg != nil {
		venueLabel := string(p.adapter.Venue())
		if len(creates) > 0 {
			p.reg.RowsInserted.WithLabelValues(venueLabel, "online").Add(float64(len(creates)))
		}
		if len(updates) > 0 {
			p.reg.RowsUpdated.WithLabelValues(venueLabel).Add(float64(len(updates)))
		}
	}

	logger.Info().
		Int("symbols", len(pairs)).
		Int("creates", len(creates)).
		Int("updates", len(updates)).
		Msg("online sync complete")

	return append(updates, creates...), nil
}

// fetchLatest retrieves and validates the latest observation for one
// symbol. Failures are logged and skipped; they never abort the job.
func (p *OnlinePipeline) fetchLatest(ctx context.Context, logger zerolog.Logger, venueID uuid.UUID, pair models.SymbolPair, fetchedAt int64) (models.OnlineRecord, bool) {
	if p.reg != nil {
		p.reg.VenueRequests.WithLabelValues(string(p.adapter.Venue()), "latest").Inc()
	}

	var observation *models.FundingObservation
	err := p.kernel.Retry(ctx, func(ctx context.Context) error {
		var latestErr error
		observation, latestErr = p.adapter.Latest(ctx, pair.Name())
		return latestErr
	})
	if errors.Is(err, models.ErrEmptyResult) {
		logger.Warn().Str("symbol", pair.Name()).Msg("venue returned no latest observation")
		return models.OnlineRecord{}, false
	}
	if err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			logger.Error().Err(err).Str("symbol", pair.Name()).Msg("latest fetch failed, symbol skipped")
			if p.reg != nil {
				p.reg.VenueErrors.WithLabelValues(string(p.adapter.Venue()), "latest").Inc()
			}
		}
		return models.OnlineRecord{}, false
	}

	row, err := buildOnlineRow(venueID, pair, *observation, fetchedAt)
	if err != nil {
		logger.Error().Err(err).Str("symbol", pair.Name()).Msg("online row dropped")
		if p.reg != nil {
			p.reg.RowsDropped.WithLabelValues(string(p.adapter.Venue()), "online").Inc()
		}
		return models.OnlineRecord{}, false
	}
	return row, true
}

func (p *OnlinePipeline) observeJob(venue models.VenueCode, start time.Time, err error) {
	if p.reg == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	p.reg.JobDuration.WithLabelValues(string(venue), "online", result).Observe(time.Since(start).Seconds())
	p.reg.JobRuns.WithLabelValues(string(venue), "online", result).Inc()
}

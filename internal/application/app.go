package application

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/fundsync/internal/cache"
	"github.com/sawpanic/fundsync/internal/data/exchanges"
	"github.com/sawpanic/fundsync/internal/data/exchanges/binance"
	"github.com/sawpanic/fundsync/internal/data/exchanges/bybit"
	"github.com/sawpanic/fundsync/internal/data/exchanges/hyperliquid"
	"github.com/sawpanic/fundsync/internal/data/exchanges/mexc"
	"github.com/sawpanic/fundsync/internal/infrastructure/db"
	httpapi "github.com/sawpanic/fundsync/internal/interfaces/http"
	"github.com/sawpanic/fundsync/internal/metrics"
	"github.com/sawpanic/fundsync/internal/models"
	"github.com/sawpanic/fundsync/internal/net/budget"
	"github.com/sawpanic/fundsync/internal/net/circuit"
	"github.com/sawpanic/fundsync/internal/net/client"
	"github.com/sawpanic/fundsync/internal/net/ratelimit"
	"github.com/sawpanic/fundsync/internal/pipeline"
	"github.com/sawpanic/fundsync/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

// App owns the wired service: storage, venue adapters, sync pipelines, the
// cron scheduler and the query API.
type App struct {
	cfg Config
	log zerolog.Logger

	db     *db.Manager
	reg    *metrics.Registry
	cache  cache.Cache
	sched  *scheduler.Scheduler
	server *httpapi.Server

	history map[models.VenueCode]*pipeline.HistoryPipeline
	online  map[models.VenueCode]*pipeline.OnlinePipeline
}

// New wires the whole service from configuration. The returned App holds an
// open database pool; call Close when done.
func New(ctx context.Context, cfg Config, log zerolog.Logger) (*App, error) {
	manager, err := db.NewManager(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	a := &App{
		cfg:     cfg,
		log:     log,
		db:      manager,
		reg:     metrics.NewRegistry(),
		sched:   scheduler.New(),
		history: make(map[models.VenueCode]*pipeline.HistoryPipeline),
		online:  make(map[models.VenueCode]*pipeline.OnlinePipeline),
	}

	if cfg.Cache.Enabled {
		redisCache, err := cache.NewRedis(ctx, cfg.Cache)
		if err != nil {
			manager.Close() //nolint:errcheck
			return nil, fmt.Errorf("cache: %w", err)
		}
		a.cache = redisCache
	}

	budgets := budget.NewManager(cfg.BudgetLimits())
	limiter := ratelimit.NewManager(cfg.VenueLimits(), ratelimit.VenueLimits{RPS: 1, Burst: 2})
	breaker := circuit.NewManager(circuit.DefaultConfig())

	repos := manager.Repository()
	for code, adapter := range a.buildAdapters(budgets, limiter, breaker) {
		a.history[code] = pipeline.NewHistoryPipeline(adapter, repos, a.reg)
		a.online[code] = pipeline.NewOnlinePipeline(adapter, repos, a.reg)
	}

	if err := a.registerJobs(); err != nil {
		a.Close()
		return nil, err
	}

	handlers := httpapi.NewHandlers(repos, manager.Health(), a.cache, cfg.Cache.TTL, a.reg, log)
	a.server = httpapi.NewServer(cfg.HTTP, handlers, a.reg, log)

	return a, nil
}

func (a *App) buildAdapters(budgets *budget.Manager, limiter *ratelimit.Manager, breaker *circuit.Manager) map[models.VenueCode]exchanges.VenueAdapter {
	transport := func(code models.VenueCode) *client.Wrapper {
		return client.NewWrapper(code, budgets, limiter, breaker, nil)
	}
	timeout := a.cfg.VenueTimeout

	return map[models.VenueCode]exchanges.VenueAdapter{
		models.VenueBinance: binance.NewAdapter(
			a.cfg.Venue(models.VenueBinance).BaseURL, transport(models.VenueBinance), timeout),
		models.VenueBybit: bybit.NewAdapter(
			a.cfg.Venue(models.VenueBybit).BaseURL, transport(models.VenueBybit), timeout),
		models.VenueHyperliquid: hyperliquid.NewAdapter(
			a.cfg.Venue(models.VenueHyperliquid).BaseURL, transport(models.VenueHyperliquid), timeout),
		models.VenueMexc: mexc.NewAdapter(
			a.cfg.Venue(models.VenueMexc).BaseURL, transport(models.VenueMexc), timeout),
	}
}

// registerJobs schedules one history and one online job per venue, each with
// its own cron expression and no per-job overlap.
func (a *App) registerJobs() error {
	for _, code := range models.AllVenues() {
		history := a.history[code]
		online := a.online[code]

		name := "history-" + string(code)
		if err := a.sched.Register(name, a.cfg.HistoryCron(code), history.Run); err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}

		name = "online-" + string(code)
		err := a.sched.Register(name, a.cfg.OnlineCron(code), func(ctx context.Context) error {
			_, err := online.Run(ctx)
			return err
		})
		if err != nil {
			return fmt.Errorf("register %s: %w", name, err)
		}
	}
	return nil
}

// Run seeds venues, starts the scheduler and the query API, then blocks
// until ctx is cancelled or the listener fails.
func (a *App) Run(ctx context.Context) error {
	if err := SeedVenues(ctx, a.db.Repository().Exchanges, a.log); err != nil {
		return err
	}

	a.sched.Start(ctx, a.cfg.Scheduler.RunOnStart)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- a.server.Start()
	}()

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	return a.shutdown()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Error().Err(err).Msg("http shutdown failed")
	}
	if err := a.sched.Stop(ctx); err != nil {
		a.log.Error().Err(err).Msg("scheduler stop timed out")
	}
	return nil
}

// SyncHistory runs one history job for a venue and returns its outcome.
func (a *App) SyncHistory(ctx context.Context, code models.VenueCode) error {
	p, ok := a.history[code]
	if !ok {
		return fmt.Errorf("no history pipeline for venue %s", code)
	}
	return p.Run(ctx)
}

// SyncOnline runs one online job for a venue and returns its outcome.
func (a *App) SyncOnline(ctx context.Context, code models.VenueCode) error {
	p, ok := a.online[code]
	if !ok {
		return fmt.Errorf("no online pipeline for venue %s", code)
	}
	_, err := p.Run(ctx)
	return err
}

// Seed creates missing venue rows.
func (a *App) Seed(ctx context.Context) error {
	return SeedVenues(ctx, a.db.Repository().Exchanges, a.log)
}

// Migrate applies the SQL schema from the configured path.
func (a *App) Migrate(ctx context.Context) error {
	return a.db.Migrate(ctx, a.cfg.SchemaPath)
}

// Close releases the database pool and the cache connection.
func (a *App) Close() {
	if c, ok := a.cache.(*cache.Redis); ok {
		c.Close() //nolint:errcheck
	}
	if err := a.db.Close(); err != nil {
		a.log.Error().Err(err).Msg("database close failed")
	}
}

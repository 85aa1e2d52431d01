// Package scheduler hosts the cron-triggered sync jobs: one history job and
// one online job per venue, each marked non-overlapping.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds the cron expressions (Quartz-style, with a seconds field)
// and start behavior. Per-venue overrides live in the application config.
type Config struct {
	HistoryCron string `yaml:"history_cron"`
	OnlineCron  string `yaml:"online_cron"`

	// RunOnStart triggers every job once when the scheduler starts. This
	// renders the durable scheduler's fire-once misfire policy and restart
	// recovery for an in-process cron.
	RunOnStart bool `yaml:"run_on_start"`
}

// DefaultConfig returns the default schedules: history every 15 seconds,
// online every 10 seconds.
func DefaultConfig() Config {
	return Config{
		HistoryCron: "*/15 * * * * ?",
		OnlineCron:  "*/10 * * * * ?",
		RunOnStart:  true,
	}
}

// JobFunc is one sync job execution. The context is the scheduler's root
// context; cancellation stops in-flight work cooperatively.
type JobFunc func(ctx context.Context) error

type job struct {
	name string
	spec string
	run  JobFunc
}

// Scheduler wraps a seconds-resolution cron. Each registered job is chained
// with skip-if-still-running, so a slow execution suppresses the next
// trigger instead of overlapping it.
type Scheduler struct {
	cron *cron.Cron
	jobs []job

	mu      sync.Mutex
	ctx     context.Context
	started bool
}

// New creates an empty scheduler.
func New() *Scheduler {
	logger := cronLogger{}
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(logger), cron.Recover(logger)),
			cron.WithLogger(logger),
		),
	}
}

// Register adds a job under the given cron spec. Must be called before
// Start.
func (s *Scheduler) Register(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("cannot register %s: scheduler already started", name)
	}

	j := job{name: name, spec: spec, run: fn}
	if _, err := s.cron.AddJob(spec, s.wrap(j)); err != nil {
		return fmt.Errorf("failed to register job %s with spec %q: %w", name, spec, err)
	}
	s.jobs = append(s.jobs, j)
	return nil
}

// Start launches the cron loop. With runOnStart, every job executes once
// synchronously before the first tick.
func (s *Scheduler) Start(ctx context.Context, runOnStart bool) {
	s.mu.Lock()
	s.ctx = ctx
	s.started = true
	jobs := s.jobs
	s.mu.Unlock()

	if runOnStart {
		for _, j := range jobs {
			if ctx.Err() != nil {
				return
			}
			s.execute(ctx, j)
		}
	}

	s.cron.Start()
	log.Info().Int("jobs", len(jobs)).Msg("scheduler started")
}

// Stop halts scheduling and waits for in-flight jobs, up to the context
// deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop().Done()
	select {
	case <-done:
		log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

func (s *Scheduler) wrap(j job) cron.Job {
	return cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		if ctx == nil || ctx.Err() != nil {
			return
		}
		s.execute(ctx, j)
	})
}

func (s *Scheduler) execute(ctx context.Context, j job) {
	start := time.Now()
	err := j.run(ctx)
	elapsed := time.Since(start)

	event := log.Info()
	if err != nil {
		event = log.Error().Err(err)
	}
	event.
		Str("job", j.name).
		Dur("duration", elapsed).
		Msg("job finished")
}

// cronLogger adapts zerolog to the cron.Logger interface.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logWithFields(log.Debug(), keysAndValues).Msg("cron: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logWithFields(log.Error().Err(err), keysAndValues).Msg("cron: " + msg)
}

func logWithFields(event *zerolog.Event, keysAndValues []interface{}) *zerolog.Event {
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		event = event.Interface(key, keysAndValues[i+1])
	}
	return event
}

// Package discovery wires scanners, scheduler, worker pool and processor together.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/config"
	"github.com/shaharia-lab/terediX/internal/logging"
	"github.com/shaharia-lab/terediX/internal/processor"
	"github.com/shaharia-lab/terediX/internal/relation"
	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/internal/scheduler"
	"github.com/shaharia-lab/terediX/internal/storage"
	"github.com/shaharia-lab/terediX/internal/telemetry"
	"github.com/shaharia-lab/terediX/internal/worker"
)

// RelationJob is the scheduler entry that rebuilds relations.
const RelationJob = config.ReservedSourcePrefix + "relations"

const defaultGracePeriod = 30 * time.Second

// Discovery runs the discovery pipeline for one configuration.
type Discovery struct {
	cfg       *config.AppConfig
	store     storage.Storage
	scanners  []scanner.Scanner
	metrics   *telemetry.Metrics
	logger    zerolog.Logger
	startedAt time.Time

	processor *processor.Processor
	pool      *worker.Pool
	scheduler *scheduler.Scheduler

	mu       sync.Mutex
	lastRuns map[string]worker.Result
}

// New builds the pipeline. The store must already be prepared.
func New(cfg *config.AppConfig, store storage.Storage, scanners []scanner.Scanner, metrics *telemetry.Metrics, logger zerolog.Logger) (*Discovery, error) {
	engine, err := relation.NewEngine(relation.RulesFromConfig(cfg.Relation.RelationCriteria))
	if err != nil {
		return nil, &config.ConfigurationError{Field: "relations.criteria", Reason: err.Error(), Err: err}
	}

	d := &Discovery{
		cfg:       cfg,
		store:     store,
		scanners:  scanners,
		metrics:   metrics,
		logger:    logging.Component(logger, "discovery"),
		startedAt: time.Now(),
		lastRuns:  make(map[string]worker.Result),
	}

	d.processor = processor.New(processor.Config{
		BatchSize:     cfg.Storage.BatchSize,
		FlushInterval: cfg.Storage.FlushInterval,
	}, store, engine, metrics, logging.Component(logger, "processor"))

	d.pool = worker.New(worker.Config{
		Size:      cfg.Discovery.WorkerPoolSize,
		QueueSize: cfg.Discovery.QueueSize,
	}, d.processor, metrics, logging.Component(logger, "worker"))

	d.scheduler = scheduler.New(metrics, logging.Component(logger, "scheduler"))

	return d, nil
}

// Run schedules every source and the relation job, blocks until ctx is done and then
// shuts down in order: scheduler, worker pool, processor.
func (d *Discovery) Run(ctx context.Context) error {
	if err := d.observeCounts(); err != nil {
		d.logger.Warn().Err(err).Msg("register resource gauge")
	}

	d.processor.Start(ctx)
	d.pool.Start(ctx)

	if err := d.schedule(); err != nil {
		return errors.Join(err, d.shutdown())
	}

	d.scheduler.Start(ctx)
	d.logger.Info().Int("sources", len(d.scanners)).Msg("discovery running")

	<-ctx.Done()
	return d.shutdown()
}

// schedule registers every scanner and the relation rebuild with the scheduler.
func (d *Discovery) schedule() error {
	for _, s := range d.scanners {
		src, ok := d.cfg.Sources[s.Name()]
		if !ok || src.Compiled == nil {
			return &config.ConfigurationError{Field: "source." + s.Name() + ".schedule", Reason: "no compiled schedule"}
		}
		if err := d.scheduler.Add(s.Name(), src.Compiled, d.scanJob(s)); err != nil {
			return fmt.Errorf("schedule %s: %w", s.Name(), err)
		}
	}
	if d.cfg.Discovery.RelationEvery != nil {
		if err := d.scheduler.Add(RelationJob, d.cfg.Discovery.RelationEvery, func(ctx context.Context) error {
			_, err := d.processor.BuildRelations(ctx)
			return err
		}); err != nil {
			return fmt.Errorf("schedule relations: %w", err)
		}
	}
	return nil
}

// scanJob submits s to the pool and waits for its result, so the scheduler sees the
// run as in flight until the scan completes.
func (d *Discovery) scanJob(s scanner.Scanner) scheduler.Job {
	return func(ctx context.Context) error {
		done := make(chan worker.Result, 1)
		if err := d.pool.Submit(ctx, s, d.record(func(r worker.Result) { done <- r })); err != nil {
			return err
		}
		select {
		case r := <-done:
			return r.Error
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (d *Discovery) record(next func(worker.Result)) func(worker.Result) {
	return func(r worker.Result) {
		d.mu.Lock()
		d.lastRuns[r.Source] = r
		d.mu.Unlock()
		if next != nil {
			next(r)
		}
	}
}

func (d *Discovery) shutdown() error {
	grace := d.grace()
	d.logger.Info().Dur("grace_period", grace).Msg("shutting down discovery")

	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	var errs []error
	if err := d.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
	}
	if err := d.pool.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("drain worker pool: %w", err))
	}

	// fresh deadline for the final flush
	flushCtx, flushCancel := context.WithTimeout(context.Background(), grace)
	defer flushCancel()
	if err := d.processor.Close(flushCtx); err != nil {
		errs = append(errs, fmt.Errorf("close processor: %w", err))
	}

	return errors.Join(errs...)
}

// RunOnce scans every source once, flushes and rebuilds relations.
func (d *Discovery) RunOnce(ctx context.Context) ([]worker.Result, error) {
	d.processor.Start(ctx)
	d.pool.Start(ctx)

	var (
		mu      sync.Mutex
		results []worker.Result
		wg      sync.WaitGroup
		errs    []error
	)
	for _, s := range d.scanners {
		wg.Add(1)
		err := d.pool.Submit(ctx, s, d.record(func(r worker.Result) {
			mu.Lock()
			results = append(results, r)
			mu.Unlock()
			wg.Done()
		}))
		if err != nil {
			wg.Done()
			errs = append(errs, fmt.Errorf("submit %s: %w", s.Name(), err))
		}
	}
	wg.Wait()

	for _, r := range results {
		if r.Error != nil {
			errs = append(errs, r.Error)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), d.grace())
	defer cancel()
	if err := d.pool.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain worker pool: %w", err))
	}
	if err := d.processor.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("close processor: %w", err))
	}

	n, err := d.processor.BuildRelations(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("build relations: %w", err))
	} else {
		d.logger.Info().Int("relations", n).Msg("relations built")
	}

	return results, errors.Join(errs...)
}

func (d *Discovery) grace() time.Duration {
	if d.cfg.Discovery.ShutdownGracePeriod > 0 {
		return d.cfg.Discovery.ShutdownGracePeriod
	}
	return defaultGracePeriod
}

func (d *Discovery) observeCounts() error {
	return d.metrics.ObserveResources(func(ctx context.Context) ([]telemetry.ResourceCount, error) {
		counts, err := d.store.Counts(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]telemetry.ResourceCount, 0, len(counts))
		for _, c := range counts {
			out = append(out, telemetry.ResourceCount{Source: c.Source, Kind: c.Kind, Count: c.Count})
		}
		return out, nil
	})
}

// SourceStatus is the health view of one source.
type SourceStatus struct {
	State      string    `json:"state"`
	LastStatus string    `json:"last_status,omitempty"`
	LastRun    time.Time `json:"last_run,omitempty"`
	Resources  int       `json:"resources"`
}

// HealthStatus reports pipeline health.
type HealthStatus struct {
	Status  string                  `json:"status"`
	Uptime  int64                   `json:"uptime_seconds"`
	Sources map[string]SourceStatus `json:"sources"`
}

// Health returns the state of every source and its last run.
func (d *Discovery) Health() HealthStatus {
	d.mu.Lock()
	defer d.mu.Unlock()

	sources := make(map[string]SourceStatus, len(d.scanners))
	for _, s := range d.scanners {
		st := SourceStatus{State: d.scheduler.State(s.Name()).String()}
		if r, ok := d.lastRuns[s.Name()]; ok {
			st.LastStatus = r.Status()
			st.LastRun = r.StartedAt
			st.Resources = r.Resources
		}
		sources[s.Name()] = st
	}

	return HealthStatus{
		Status:  "healthy",
		Uptime:  int64(time.Since(d.startedAt).Seconds()),
		Sources: sources,
	}
}

// BuildRelations rebuilds relations over the stored resources.
func (d *Discovery) BuildRelations(ctx context.Context) (int, error) {
	return d.processor.BuildRelations(ctx)
}

// Package processor batches discovered resources into storage and rebuilds relations.
package processor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shaharia-lab/terediX/internal/telemetry"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// ErrClosed is returned by Ingest after Close.
var ErrClosed = errors.New("processor closed")

var tracer = otel.Tracer(telemetry.InstrumentationName)

// Store is the subset of storage the processor writes to.
type Store interface {
	UpsertBatch(ctx context.Context, resources []resource.Resource) error
	Resources(ctx context.Context) ([]resource.Resource, error)
	ReplaceRelations(ctx context.Context, relations []resource.Relation) error
}

// Inferer computes relations from the full resource set.
type Inferer interface {
	Infer(resources []resource.Resource) []resource.Relation
}

// Recorder receives processor metrics.
type Recorder interface {
	ProcessingError(ctx context.Context, reason string)
	RecordCommit(ctx context.Context, size int, d time.Duration, err error)
	RecordRelations(ctx context.Context, count int)
}

// Config holds batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Processor accumulates resources and commits them in batches.
// Ingest is safe for concurrent use by all pool executors.
type Processor struct {
	cfg      Config
	store    Store
	inferer  Inferer
	recorder Recorder
	logger   zerolog.Logger

	mu     sync.Mutex
	batch  []resource.Resource
	closed bool

	// held across a commit so batches reach storage in the order they were cut
	commitMu sync.Mutex
	// resources of a commit interrupted by cancellation, guarded by commitMu
	retained []resource.Resource

	stop      chan struct{}
	done      chan struct{}
	startOnce sync.Once
	stopOnce  sync.Once
}

// New creates a processor. BatchSize below one is treated as one.
func New(cfg Config, store Store, inferer Inferer, recorder Recorder, logger zerolog.Logger) *Processor {
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Processor{
		cfg:      cfg,
		store:    store,
		inferer:  inferer,
		recorder: recorder,
		logger:   logger,
		batch:    make([]resource.Resource, 0, cfg.BatchSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the periodic flush. It is a no-op when FlushInterval is zero.
func (p *Processor) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		if p.cfg.FlushInterval <= 0 {
			close(p.done)
			return
		}
		go p.flushLoop(ctx)
	})
}

func (p *Processor) flushLoop(ctx context.Context) {
	defer close(p.done)

	ticker := time.NewTicker(p.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Error().Err(err).Msg("periodic flush failed")
			}
		case <-p.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Ingest validates r and appends it to the batch, committing when the batch is full.
// Malformed resources are logged, counted and dropped.
func (p *Processor) Ingest(ctx context.Context, r resource.Resource) error {
	if err := r.Validate(); err != nil {
		p.logger.Warn().Err(err).Str("source", r.ScannerSource).Str("kind", r.Kind).Msg("dropping malformed resource")
		p.recorder.ProcessingError(ctx, "invalid")
		return nil
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.batch = append(p.batch, r)
	if len(p.batch) < p.cfg.BatchSize {
		p.mu.Unlock()
		return nil
	}
	batch := p.cut()
	p.commitMu.Lock()
	p.mu.Unlock()
	defer p.commitMu.Unlock()

	return p.commit(ctx, batch)
}

// Flush commits the partial batch.
func (p *Processor) Flush(ctx context.Context) error {
	p.mu.Lock()
	batch := p.cut()
	p.commitMu.Lock()
	p.mu.Unlock()
	defer p.commitMu.Unlock()

	return p.commit(ctx, batch)
}

// cut takes the current batch. Callers hold mu.
func (p *Processor) cut() []resource.Resource {
	batch := p.batch
	p.batch = make([]resource.Resource, 0, p.cfg.BatchSize)
	return batch
}

// commit writes one batch together with any retained resources. A batch whose commit
// fails because ctx was cancelled is retained for the next commit; any other failed
// batch is discarded and the next scan re-sends it. Callers hold commitMu.
func (p *Processor) commit(ctx context.Context, batch []resource.Resource) error {
	if len(p.retained) > 0 {
		batch = append(p.retained, batch...)
		p.retained = nil
	}
	if len(batch) == 0 {
		return nil
	}

	ctx, span := tracer.Start(ctx, "storage.commit")
	defer span.End()
	span.SetAttributes(attribute.Int("batch.size", len(batch)))

	start := time.Now()
	err := p.store.UpsertBatch(ctx, batch)
	p.recorder.RecordCommit(ctx, len(batch), time.Since(start), err)

	if err != nil && ctx.Err() != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit interrupted")
		p.retained = batch
		p.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("batch commit interrupted, batch retained")
		return err
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "commit failed")
		p.logger.Error().Ctx(ctx).Err(err).Int("batch_size", len(batch)).Msg("batch commit failed, batch discarded")
		return err
	}

	p.logger.Debug().Ctx(ctx).Int("batch_size", len(batch)).Dur("duration", time.Since(start)).Msg("batch committed")
	return nil
}

// Close stops accepting resources, stops the flush loop and flushes the partial batch.
func (p *Processor) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	p.stopOnce.Do(func() { close(p.stop) })
	p.startOnce.Do(func() { close(p.done) })

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return p.Flush(ctx)
}

// BuildRelations flushes pending resources, infers relations over the stored set and
// replaces the stored relations. It returns the number of relations stored.
func (p *Processor) BuildRelations(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "relations.build")
	defer span.End()

	if err := p.Flush(ctx); err != nil {
		span.RecordError(err)
		return 0, err
	}

	resources, err := p.store.Resources(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load resources")
		return 0, err
	}

	relations := p.inferer.Infer(resources)
	if err := p.store.ReplaceRelations(ctx, relations); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "replace relations")
		return 0, err
	}

	span.SetAttributes(
		attribute.Int("resources", len(resources)),
		attribute.Int("relations", len(relations)),
	)
	p.recorder.RecordRelations(ctx, len(relations))
	p.logger.Info().Ctx(ctx).Int("resources", len(resources)).Int("relations", len(relations)).Msg("relations rebuilt")

	return len(relations), nil
}

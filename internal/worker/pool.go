// Package worker runs scanner jobs on a bounded pool of executors.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/internal/telemetry"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

var (
	// ErrPoolClosed is returned by Submit once Shutdown has begun.
	ErrPoolClosed = errors.New("worker pool closed")
	// ErrShutdownTimeout is returned by Shutdown when jobs had to be cancelled.
	ErrShutdownTimeout = errors.New("worker pool shutdown timed out")
)

var tracer = otel.Tracer(telemetry.InstrumentationName)

// Result is the outcome of one job.
type Result = resource.ScanResult

// Sink receives scanned resources.
type Sink interface {
	Ingest(ctx context.Context, r resource.Resource) error
	Flush(ctx context.Context) error
}

// Recorder receives per-job metrics.
type Recorder interface {
	RecordScan(ctx context.Context, res resource.ScanResult)
}

// Config holds pool sizing.
type Config struct {
	Size      int
	QueueSize int
}

type job struct {
	scanner scanner.Scanner
	onDone  func(Result)
}

// Pool executes jobs FIFO on Size executors.
type Pool struct {
	cfg      Config
	sink     Sink
	recorder Recorder
	logger   zerolog.Logger

	jobs    chan job
	closing chan struct{}
	mu      sync.RWMutex
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// New creates a pool. Size and QueueSize below one are treated as one and zero.
func New(cfg Config, sink Sink, recorder Recorder, logger zerolog.Logger) *Pool {
	if cfg.Size < 1 {
		cfg.Size = 1
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:      cfg,
		sink:     sink,
		recorder: recorder,
		logger:   logger,
		jobs:     make(chan job, cfg.QueueSize),
		closing:  make(chan struct{}),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start launches the executors. Job contexts carry the values of ctx but are only
// cancelled by Shutdown, so queued work can drain after ctx is done.
func (p *Pool) Start(ctx context.Context) {
	p.startOnce.Do(func() {
		p.cancel()
		p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
		for i := 0; i < p.cfg.Size; i++ {
			p.wg.Add(1)
			go p.executor(i)
		}
		p.logger.Info().Int("size", p.cfg.Size).Int("queue", p.cfg.QueueSize).Msg("worker pool started")
	})
}

// Submit queues a scan. It blocks while the queue is full. onDone may be nil.
func (p *Pool) Submit(ctx context.Context, s scanner.Scanner, onDone func(Result)) error {
	select {
	case <-p.closing:
		return ErrPoolClosed
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.jobs <- job{scanner: s, onDone: onDone}:
		return nil
	case <-p.closing:
		return ErrPoolClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) executor(id int) {
	defer p.wg.Done()
	logger := p.logger.With().Int("executor", id).Logger()

	for j := range p.jobs {
		if err := p.ctx.Err(); err != nil {
			p.finish(p.ctx, j, Result{Source: j.scanner.Name(), Kind: j.scanner.Kind(), StartedAt: time.Now(), Error: err})
			continue
		}
		p.run(logger, j)
	}
}

func (p *Pool) run(logger zerolog.Logger, j job) {
	s := j.scanner
	ctx, span := tracer.Start(p.ctx, "scan")
	defer span.End()
	span.SetAttributes(
		attribute.String("source", s.Name()),
		attribute.String("kind", s.Kind()),
	)

	start := time.Now()
	count, err := p.scan(ctx, s)
	// a cancelled run leaves its partial batch in the sink for the final close
	if ctx.Err() == nil {
		if flushErr := p.sink.Flush(ctx); flushErr != nil {
			err = errors.Join(err, fmt.Errorf("flush: %w", flushErr))
		}
	}

	res := Result{
		Source:    s.Name(),
		Kind:      s.Kind(),
		Resources: count,
		StartedAt: start,
		Duration:  time.Since(start),
		Error:     err,
	}
	span.SetAttributes(attribute.Int("resources", count))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "scan failed")
		logger.Error().Ctx(ctx).Err(err).Str("source", res.Source).Int("resources", count).Dur("duration", res.Duration).Msg("scan failed")
	} else {
		logger.Info().Ctx(ctx).Str("source", res.Source).Int("resources", count).Dur("duration", res.Duration).Msg("scan completed")
	}

	p.finish(ctx, j, res)
}

func (p *Pool) finish(ctx context.Context, j job, res Result) {
	p.recorder.RecordScan(ctx, res)
	if j.onDone != nil {
		j.onDone(res)
	}
}

// scan runs s and forwards everything it emits to the sink. A panic in s is
// returned as an error.
func (p *Pool) scan(ctx context.Context, s scanner.Scanner) (int, error) {
	out := make(chan resource.Resource, 64)
	scanErr := make(chan error, 1)

	go func() {
		var err error
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("scanner %s panicked: %v", s.Name(), r)
			}
			close(out)
			scanErr <- err
		}()
		err = s.Scan(ctx, out)
	}()

	var count int
	var ingestErr error
	for r := range out {
		if err := p.sink.Ingest(ctx, r); err != nil {
			if ingestErr == nil {
				ingestErr = fmt.Errorf("ingest: %w", err)
			}
			continue
		}
		count++
	}

	return count, errors.Join(<-scanErr, ingestErr)
}

// Shutdown stops accepting jobs and drains queued and running jobs until ctx is done.
// It then cancels the remaining jobs, waits for the executors and returns ErrShutdownTimeout.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.closing)
		p.mu.Lock()
		p.closed = true
		close(p.jobs)
		p.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		p.logger.Info().Msg("worker pool drained")
		return nil
	case <-ctx.Done():
		p.logger.Warn().Msg("worker pool drain timed out, cancelling jobs")
		p.cancel()
		<-done
		return ErrShutdownTimeout
	}
}

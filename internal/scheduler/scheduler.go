// Package scheduler fires per-source jobs on their schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/shaharia-lab/terediX/internal/schedule"
)

// ErrStopped is returned by Add after Stop.
var ErrStopped = errors.New("scheduler stopped")

// State of one scheduled entry.
type State int32

const (
	Idle State = iota
	Triggered
	Disabled
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Triggered:
		return "triggered"
	case Disabled:
		return "disabled"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Job is the work fired by a trigger. It blocks until the run is complete.
type Job func(ctx context.Context) error

// Recorder receives dropped-trigger events.
type Recorder interface {
	TriggerDropped(ctx context.Context, source string)
}

type entry struct {
	name  string
	sched schedule.Schedule
	job   Job
	state atomic.Int32
	stop  chan struct{}
	once  sync.Once
}

func (e *entry) disable() {
	e.state.Store(int32(Disabled))
	e.once.Do(func() { close(e.stop) })
}

// Scheduler runs one timer goroutine per entry. A trigger that fires while the previous
// run of the same entry is still in flight is dropped.
type Scheduler struct {
	recorder Recorder
	logger   zerolog.Logger

	mu      sync.Mutex
	entries map[string]*entry
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	halt    chan struct{}

	loops    sync.WaitGroup
	inflight sync.WaitGroup
}

// New creates a scheduler.
func New(recorder Recorder, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		recorder: recorder,
		logger:   logger,
		entries:  make(map[string]*entry),
		halt:     make(chan struct{}),
	}
}

// Add registers a job. If the scheduler is running its timer starts immediately.
func (s *Scheduler) Add(name string, sched schedule.Schedule, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if e, ok := s.entries[name]; ok && State(e.state.Load()) != Disabled {
		return fmt.Errorf("job %q already scheduled", name)
	}

	e := &entry{name: name, sched: sched, job: job, stop: make(chan struct{})}
	s.entries[name] = e
	if s.started {
		s.launch(e)
	}
	return nil
}

// Remove disables a job. A run already in flight is left to finish.
func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[name]; ok {
		e.disable()
	}
}

// State reports the state of a job. Unknown names report Disabled.
func (s *Scheduler) State(name string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[name]
	if !ok {
		return Disabled
	}
	return State(e.state.Load())
}

// Start launches the timers. Jobs run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.stopped {
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	for _, e := range s.entries {
		if State(e.state.Load()) != Disabled {
			s.launch(e)
		}
	}
	s.logger.Info().Int("jobs", len(s.entries)).Msg("scheduler started")
}

// launch starts the timer goroutine of e. Callers hold mu.
func (s *Scheduler) launch(e *entry) {
	s.loops.Add(1)
	go s.loop(e)
}

func (s *Scheduler) loop(e *entry) {
	defer s.loops.Done()

	for {
		wait := time.Until(e.sched.Next(time.Now()))
		timer := time.NewTimer(wait)

		select {
		case <-timer.C:
			s.trigger(e)
		case <-e.stop:
			timer.Stop()
			return
		case <-s.halt:
			timer.Stop()
			return
		case <-s.ctx.Done():
			timer.Stop()
			return
		}
	}
}

func (s *Scheduler) trigger(e *entry) {
	if !e.state.CompareAndSwap(int32(Idle), int32(Triggered)) {
		if State(e.state.Load()) == Triggered {
			s.logger.Warn().Str("source", e.name).Msg("previous run still in flight, trigger dropped")
			s.recorder.TriggerDropped(s.ctx, e.name)
		}
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer e.state.CompareAndSwap(int32(Triggered), int32(Idle))

		if err := e.job(s.ctx); err != nil {
			s.logger.Error().Err(err).Str("source", e.name).Msg("scheduled run failed")
		}
	}()
}

// Stop halts all timers at once and waits for in-flight runs until ctx is done.
// Runs still going at that point are abandoned and ctx.Err() is returned.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.halt)
	for _, e := range s.entries {
		e.disable()
	}
	cancel := s.cancel
	s.mu.Unlock()

	s.loops.Wait()

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
		if cancel != nil {
			cancel()
		}
		s.logger.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		if cancel != nil {
			cancel()
		}
		s.logger.Warn().Msg("scheduler stop timed out, abandoning in-flight runs")
		return ctx.Err()
	}
}

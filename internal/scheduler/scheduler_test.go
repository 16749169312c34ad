package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/terediX/internal/schedule"
)

type fakeRecorder struct {
	mu      sync.Mutex
	dropped map[string]int
}

func (r *fakeRecorder) TriggerDropped(_ context.Context, source string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dropped == nil {
		r.dropped = make(map[string]int)
	}
	r.dropped[source]++
}

func (r *fakeRecorder) count(source string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped[source]
}

func every(d time.Duration) schedule.Schedule {
	return schedule.Every{Interval: d}
}

func TestScheduler_FiresJob(t *testing.T) {
	s := New(&fakeRecorder{}, zerolog.Nop())
	var runs atomic.Int32
	require.NoError(t, s.Add("fs", every(10*time.Millisecond), func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	assert.Equal(t, Idle, s.State("fs"))

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, Disabled, s.State("fs"))

	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())
}

func TestScheduler_DropsOverlappingTrigger(t *testing.T) {
	rec := &fakeRecorder{}
	s := New(rec, zerolog.Nop())

	release := make(chan struct{})
	var runs atomic.Int32
	require.NoError(t, s.Add("slow", every(5*time.Millisecond), func(context.Context) error {
		runs.Add(1)
		<-release
		return nil
	}))

	s.Start(context.Background())
	assert.Eventually(t, func() bool { return rec.count("slow") >= 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, Triggered, s.State("slow"))
	assert.Equal(t, int32(1), runs.Load())

	close(release)
	assert.Eventually(t, func() bool { return runs.Load() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(context.Background()))
}

func TestScheduler_Remove(t *testing.T) {
	s := New(&fakeRecorder{}, zerolog.Nop())
	var runs atomic.Int32
	require.NoError(t, s.Add("fs", every(5*time.Millisecond), func(context.Context) error {
		runs.Add(1)
		return nil
	}))
	s.Start(context.Background())
	defer func() { _ = s.Stop(context.Background()) }()

	assert.Eventually(t, func() bool { return runs.Load() >= 1 }, time.Second, 5*time.Millisecond)
	s.Remove("fs")
	assert.Equal(t, Disabled, s.State("fs"))

	time.Sleep(20 * time.Millisecond)
	after := runs.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, runs.Load())

	// a removed name can be scheduled again
	require.NoError(t, s.Add("fs", every(time.Hour), func(context.Context) error { return nil }))
	assert.Equal(t, Idle, s.State("fs"))
}

func TestScheduler_StopTimesOut(t *testing.T) {
	s := New(&fakeRecorder{}, zerolog.Nop())
	started := make(chan struct{})
	release := make(chan struct{})
	defer close(release)

	var once sync.Once
	require.NoError(t, s.Add("stuck", every(5*time.Millisecond), func(context.Context) error {
		once.Do(func() { close(started) })
		<-release
		return nil
	}))
	s.Start(context.Background())
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Stop(ctx), context.DeadlineExceeded)
}

func TestScheduler_StopWaitsForInFlight(t *testing.T) {
	s := New(&fakeRecorder{}, zerolog.Nop())
	started := make(chan struct{})
	var finished atomic.Bool

	var once sync.Once
	require.NoError(t, s.Add("job", every(5*time.Millisecond), func(context.Context) error {
		once.Do(func() { close(started) })
		time.Sleep(30 * time.Millisecond)
		finished.Store(true)
		return nil
	}))
	s.Start(context.Background())
	<-started

	require.NoError(t, s.Stop(context.Background()))
	assert.True(t, finished.Load())
}

func TestScheduler_Add(t *testing.T) {
	s := New(&fakeRecorder{}, zerolog.Nop())
	job := func(context.Context) error { return nil }

	require.NoError(t, s.Add("a", every(time.Hour), job))
	assert.Error(t, s.Add("a", every(time.Hour), job))
	assert.Equal(t, Disabled, s.State("unknown"))

	require.NoError(t, s.Stop(context.Background()))
	assert.ErrorIs(t, s.Add("b", every(time.Hour), job), ErrStopped)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "triggered", Triggered.String())
	assert.Equal(t, "disabled", Disabled.String())
}

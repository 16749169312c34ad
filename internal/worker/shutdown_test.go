package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/terediX/internal/processor"
	"github.com/shaharia-lab/terediX/internal/relation"
	"github.com/shaharia-lab/terediX/internal/telemetry"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

// memStore fails commits on a cancelled context like the real engines do.
type memStore struct {
	mu     sync.Mutex
	stored map[string]resource.Resource
}

func (s *memStore) UpsertBatch(ctx context.Context, rs []resource.Resource) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range rs {
		s.stored[r.Key()] = r
	}
	return nil
}

func (s *memStore) Resources(context.Context) ([]resource.Resource, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]resource.Resource, 0, len(s.stored))
	for _, r := range s.stored {
		out = append(out, r)
	}
	return out, nil
}

func (s *memStore) ReplaceRelations(context.Context, []resource.Relation) error { return nil }

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stored)
}

func TestPool_ShutdownTimeoutKeepsPartialBatch(t *testing.T) {
	engine, err := relation.NewEngine(nil)
	require.NoError(t, err)
	store := &memStore{stored: make(map[string]resource.Resource)}
	proc := processor.New(processor.Config{BatchSize: 100}, store, engine, telemetry.NewNopMetrics(), zerolog.Nop())

	p := New(Config{Size: 1, QueueSize: 1}, proc, &fakeRecorder{}, zerolog.Nop())
	p.Start(context.Background())

	emitted := make(chan struct{})
	stuck := funcScanner{name: "slow", scan: func(ctx context.Context, out chan<- resource.Resource) error {
		for i := 0; i < 3; i++ {
			out <- resource.New("Test", fmt.Sprintf("r%d", i), fmt.Sprintf("slow/r%d", i), "slow", time.Now())
		}
		close(emitted)
		<-ctx.Done()
		return ctx.Err()
	}}
	require.NoError(t, p.Submit(context.Background(), stuck, nil))
	<-emitted

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Shutdown(ctx), ErrShutdownTimeout)

	require.NoError(t, proc.Close(context.Background()))
	assert.Equal(t, 3, store.count())
}

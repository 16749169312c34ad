package discovery

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/terediX/internal/config"
	"github.com/shaharia-lab/terediX/internal/schedule"
	"github.com/shaharia-lab/terediX/internal/scanner"
	"github.com/shaharia-lab/terediX/internal/scheduler"
	"github.com/shaharia-lab/terediX/internal/storage"
	"github.com/shaharia-lab/terediX/internal/telemetry"
	"github.com/shaharia-lab/terediX/internal/worker"
	"github.com/shaharia-lab/terediX/pkg/resource"
)

func newStore(t *testing.T) storage.Storage {
	t.Helper()
	st, err := storage.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "teredix.sqlite"))
	require.NoError(t, err)
	require.NoError(t, st.Prepare(context.Background()))
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func fileTree(t *testing.T, names ...string) string {
	t.Helper()
	root := t.TempDir()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(root, n), []byte(n), 0o600))
	}
	return root
}

func testConfig(root string, every time.Duration) *config.AppConfig {
	sel := config.Selector{Kind: resource.KindFilePath, MetaKey: scanner.FieldRootDirectory, MetaValue: root}
	return &config.AppConfig{
		Discovery: config.Discovery{
			Name:                "test",
			WorkerPoolSize:      2,
			QueueSize:           4,
			ShutdownGracePeriod: 5 * time.Second,
			RelationEvery:       schedule.Every{Interval: every},
		},
		Storage: config.Storage{BatchSize: 2, FlushInterval: 10 * time.Millisecond},
		Sources: map[string]config.Source{
			"fs": {Type: "file_system", Fields: []string{scanner.FieldRootDirectory}, Compiled: schedule.Every{Interval: every}},
		},
		Relation: config.Relation{RelationCriteria: []config.RelationCriteria{
			{Name: "same-root", Source: sel, Target: sel},
		}},
	}
}

func TestRunOnce(t *testing.T) {
	root := fileTree(t, "a.txt", "b.txt", "c.txt")
	store := newStore(t)
	cfg := testConfig(root, time.Hour)

	fs := scanner.NewFileSystem("fs", root, []string{scanner.FieldRootDirectory}, zerolog.Nop())
	d, err := New(cfg, store, []scanner.Scanner{fs}, telemetry.NewNopMetrics(), zerolog.Nop())
	require.NoError(t, err)

	results, err := d.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 4, results[0].Resources)

	stored, err := store.Resources(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 4)

	// root plus three files share rootDirectory: C(4,2) pairs
	rels, err := store.Relations(context.Background())
	require.NoError(t, err)
	assert.Len(t, rels, 6)

	health := d.Health()
	assert.Equal(t, "success", health.Sources["fs"].LastStatus)
	assert.Equal(t, 4, health.Sources["fs"].Resources)
}

type failingScanner struct{}

func (failingScanner) Name() string { return "broken" }
func (failingScanner) Kind() string { return "Broken" }
func (failingScanner) Scan(context.Context, chan<- resource.Resource) error {
	return &scanner.ScanError{Source: "broken", Kind: "Broken", Err: errors.New("unreachable")}
}

func TestRunOnce_ReportsScanErrors(t *testing.T) {
	root := fileTree(t, "a.txt")
	store := newStore(t)
	cfg := testConfig(root, time.Hour)

	scanners := []scanner.Scanner{
		scanner.NewFileSystem("fs", root, nil, zerolog.Nop()),
		failingScanner{},
	}
	d, err := New(cfg, store, scanners, telemetry.NewNopMetrics(), zerolog.Nop())
	require.NoError(t, err)

	results, err := d.RunOnce(context.Background())
	require.Error(t, err)
	assert.Len(t, results, 2)

	var scanErr *scanner.ScanError
	assert.True(t, errors.As(err, &scanErr))

	stored, err := store.Resources(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestRun_ScheduledScanAndShutdown(t *testing.T) {
	root := fileTree(t, "a.txt", "b.txt")
	store := newStore(t)
	cfg := testConfig(root, 20*time.Millisecond)

	fs := scanner.NewFileSystem("fs", root, []string{scanner.FieldRootDirectory}, zerolog.Nop())
	d, err := New(cfg, store, []scanner.Scanner{fs}, telemetry.NewNopMetrics(), zerolog.Nop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- d.Run(ctx) }()

	assert.Eventually(t, func() bool {
		rels, err := store.Relations(context.Background())
		return err == nil && len(rels) == 3
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("discovery did not shut down")
	}

	stored, err := store.Resources(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 3)
}

func TestNew_InvalidRule(t *testing.T) {
	cfg := testConfig(t.TempDir(), time.Hour)
	cfg.Relation.RelationCriteria[0].Source.MetaValue = "[bad"

	_, err := New(cfg, newStore(t), nil, telemetry.NewNopMetrics(), zerolog.Nop())
	var cfgErr *config.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
}

func TestRun_ScheduleErrorShutsDown(t *testing.T) {
	tests := []struct {
		name  string
		setup func(cfg *config.AppConfig, root string) []scanner.Scanner
	}{
		{
			name: "source named like the relation job",
			setup: func(cfg *config.AppConfig, root string) []scanner.Scanner {
				cfg.Sources[RelationJob] = cfg.Sources["fs"]
				return []scanner.Scanner{scanner.NewFileSystem(RelationJob, root, nil, zerolog.Nop())}
			},
		},
		{
			name: "source without compiled schedule",
			setup: func(cfg *config.AppConfig, root string) []scanner.Scanner {
				cfg.Sources["fs"] = config.Source{Type: "file_system"}
				return []scanner.Scanner{scanner.NewFileSystem("fs", root, nil, zerolog.Nop())}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := fileTree(t, "a.txt")
			cfg := testConfig(root, time.Hour)
			d, err := New(cfg, newStore(t), tt.setup(cfg, root), telemetry.NewNopMetrics(), zerolog.Nop())
			require.NoError(t, err)

			errCh := make(chan error, 1)
			go func() { errCh <- d.Run(context.Background()) }()

			select {
			case err := <-errCh:
				require.Error(t, err)
			case <-time.After(5 * time.Second):
				t.Fatal("run did not return on a scheduling error")
			}

			assert.ErrorIs(t, d.scheduler.Add("late", schedule.Every{Interval: time.Hour}, func(context.Context) error { return nil }), scheduler.ErrStopped)
			assert.ErrorIs(t, d.pool.Submit(context.Background(), scanner.NewFileSystem("late", root, nil, zerolog.Nop()), func(worker.Result) {}), worker.ErrPoolClosed)
		})
	}
}

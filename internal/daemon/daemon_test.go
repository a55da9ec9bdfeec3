package daemon

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/exchangeset/internal/config"
	"git.home.luguber.info/inful/exchangeset/internal/dispatch"
	"git.home.luguber.info/inful/exchangeset/internal/foundation/errors"
	"git.home.luguber.info/inful/exchangeset/internal/jobs"
	"git.home.luguber.info/inful/exchangeset/internal/orchestrator"
	"git.home.luguber.info/inful/exchangeset/internal/queue"
	"git.home.luguber.info/inful/exchangeset/internal/retry"
	"git.home.luguber.info/inful/exchangeset/internal/store"
	"git.home.luguber.info/inful/exchangeset/internal/testupstream"
)

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Queue.PollInterval = "5ms"
	cfg.Workers.Concurrency = 2
	cfg.Schedule.Enabled = false
	return cfg
}

func TestDaemonProcessesJobsAndResponses(t *testing.T) {
	cfg := testConfig()
	st := store.NewMemoryStore()
	broker := queue.NewMemoryBroker(10, time.Minute, 5*time.Millisecond)
	router := queue.NewRouter(broker)
	catalogue := testupstream.NewCatalogue()
	catalogue.Set(jobs.S100, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "GB1")

	svc, err := orchestrator.New(orchestrator.Deps{Store: st, Router: router, Catalogue: catalogue}, orchestrator.Options{
		Policy: retry.NewPolicy(config.RetryBackoffFixed, time.Millisecond, time.Millisecond, 2, 0),
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(svc, router, Options{Config: cfg}).Run(ctx) }()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	id, err := svc.Accept(context.Background(), orchestrator.Request{DataStandard: "S100"})
	require.NoError(t, err)

	requireState := func(want jobs.State) {
		t.Helper()
		require.Eventually(t, func() bool {
			job, err := st.GetJob(context.Background(), id)
			return err == nil && job.State == want
		}, 3*time.Second, 5*time.Millisecond)
	}
	requireState(jobs.StateDispatched)

	body, err := jobs.Encode(jobs.BuildResponse{JobID: id, Result: jobs.BuildSucceeded})
	require.NoError(t, err)
	responses := broker.Queue(queue.ResponsesName(jobs.S100))
	require.NoError(t, responses.Enqueue(context.Background(), "r1", body))
	// A duplicate delivery is absorbed.
	require.NoError(t, responses.Enqueue(context.Background(), "r2", body))

	requireState(jobs.StateSucceeded)
	require.Eventually(t, func() bool {
		ready, inFlight := responses.Len()
		return ready == 0 && inFlight == 0
	}, 3*time.Second, 5*time.Millisecond)
}

type fakeService struct {
	mu        sync.Mutex
	policy    retry.Policy
	triggered []jobs.DataStandard
	calls     atomic.Int32
}

func (f *fakeService) Process(context.Context, string) (*jobs.Job, error) { return nil, nil }

func (f *fakeService) HandleResponse(context.Context, []byte) (dispatch.Outcome, error) {
	return dispatch.OutcomeApplied, nil
}

func (f *fakeService) TriggerStandards(_ context.Context, dss []jobs.DataStandard) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append([]jobs.DataStandard(nil), dss...)
	f.calls.Add(1)
	return nil, nil
}

func (f *fakeService) DataStandards() []jobs.DataStandard { return []jobs.DataStandard{jobs.S57} }

func (f *fakeService) SetPolicy(p retry.Policy) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policy = p
}

func TestDaemonRunsScheduledTrigger(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Enabled = true
	cfg.Schedule.Interval = "20ms"
	cfg.Schedule.DataStandards = []string{"S57", "s-63"}

	svc := &fakeService{}
	router := queue.NewRouter(queue.NewMemoryBroker(10, time.Minute, 5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- New(svc, router, Options{Config: cfg}).Run(ctx) }()

	require.Eventually(t, func() bool { return svc.calls.Load() >= 1 }, 3*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	svc.mu.Lock()
	defer svc.mu.Unlock()
	assert.Equal(t, []jobs.DataStandard{jobs.S57, jobs.S63}, svc.triggered)
}

func TestInvalidCronFailsStartup(t *testing.T) {
	cfg := testConfig()
	cfg.Schedule.Enabled = true
	cfg.Schedule.Cron = "not a cron"

	router := queue.NewRouter(queue.NewMemoryBroker(10, time.Minute, 5*time.Millisecond))
	err := New(&fakeService{}, router, Options{Config: cfg}).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryConfig))
}

func TestReloadConfigAppliesPolicyAndLogLevel(t *testing.T) {
	svc := &fakeService{}
	level := new(slog.LevelVar)
	d := New(svc, nil, Options{Config: testConfig(), LogLevel: level})

	next := testConfig()
	next.Retry.MaxAttempts = 9
	next.Logging.Level = config.LogLevelDebug
	require.NoError(t, d.ReloadConfig(next))

	assert.Equal(t, 9, svc.policy.MaxAttempts)
	assert.Equal(t, slog.LevelDebug, level.Level())
}

func TestConfigWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  max_attempts: 3\n"), 0o600))

	reloaded := make(chan *config.Config, 1)
	watcher, err := NewConfigWatcher(path, func(cfg *config.Config) error {
		select {
		case reloaded <- cfg:
		default:
		}
		return nil
	})
	require.NoError(t, err)
	watcher.debounceTime = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = watcher.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("retry:\n  max_attempts: 6\n"), 0o600))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 6, cfg.Retry.MaxAttempts)
	case <-time.After(3 * time.Second):
		t.Fatal("config was not reloaded")
	}
}

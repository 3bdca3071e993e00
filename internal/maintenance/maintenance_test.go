package maintenance

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearXs/Violet/internal/storage"
)

func openTestStorage(t *testing.T, ctx context.Context) *storage.Storage {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "violet-test.db")
	store, err := storage.Open(ctx, storage.Config{Path: dbPath, EnableWAL: true})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

type recordingTrigger struct {
	mu    sync.Mutex
	calls []string
	fired chan struct{}
}

func (r *recordingTrigger) Trigger(_ context.Context, agentID, text string) error {
	r.mu.Lock()
	r.calls = append(r.calls, agentID+"|"+text)
	r.mu.Unlock()
	select {
	case r.fired <- struct{}{}:
	default:
	}
	return nil
}

func TestRetentionRunOnceDeletesOldToolExecutions(t *testing.T) {
	ctx := context.Background()
	store := openTestStorage(t, ctx)

	now := time.Now().UTC()
	for i, age := range []time.Duration{10 * 24 * time.Hour, 9 * 24 * time.Hour, time.Hour, time.Minute} {
		rec := &storage.ToolExecution{
			Tool:      "echo",
			Status:    "success",
			StartedAt: now.Add(-age),
			CreatedAt: now.Add(-age).Add(time.Duration(i) * time.Millisecond),
		}
		require.NoError(t, store.InsertToolExecution(ctx, rec))
	}

	c, err := NewRetentionCollector(store)
	require.NoError(t, err)
	c.cfg = RetentionConfig{BatchRows: 1, ToolExecutions: ToolExecutionPolicy{KeepAll: 7 * 24 * time.Hour, KeepLatest: 1}}

	require.NoError(t, c.RunOnce(ctx, now))

	n, err := store.CountToolExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, err := store.QueryToolExecutions(ctx, storage.ToolExecutionQuery{})
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.WithinDuration(t, now.Add(-time.Minute), left[0].StartedAt, time.Second)
}

func TestSchedulerTriggersScheduledAgents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store := openTestStorage(t, ctx)

	require.NoError(t, store.CreateAgent(ctx, &storage.Agent{ID: "agent-bg", Variant: "background", ContextWindow: 4096, Schedule: "@every 1s"}))
	require.NoError(t, store.CreateAgent(ctx, &storage.Agent{ID: "agent-chat", Variant: "conversational", ContextWindow: 4096}))
	require.NoError(t, store.CreateAgent(ctx, &storage.Agent{ID: "agent-bad", Variant: "background", ContextWindow: 4096, Schedule: "not a cron"}))

	trig := &recordingTrigger{fired: make(chan struct{}, 1)}
	sched, err := NewScheduler(store, trig)
	require.NoError(t, err)

	var errsMu sync.Mutex
	var errs []error
	cfg := DefaultConfig()
	cfg.Retention.Enabled = false
	cfg.Scheduler.TriggerMessage = "wake"
	cfg.Scheduler.OnError = func(err error) {
		errsMu.Lock()
		errs = append(errs, err)
		errsMu.Unlock()
	}

	mgr, err := NewManager(cfg)
	require.NoError(t, err)
	mgr.WithScheduler(sched)
	require.NoError(t, mgr.Start(ctx))
	require.Error(t, mgr.Start(ctx), "second start must fail")

	select {
	case <-trig.fired:
	case <-ctx.Done():
		t.Fatal("scheduled agent was never triggered")
	}
	mgr.Stop()
	require.NoError(t, mgr.Wait())

	trig.mu.Lock()
	defer trig.mu.Unlock()
	assert.Equal(t, "agent-bg|wake", trig.calls[0])
	for _, c := range trig.calls {
		assert.NotContains(t, c, "agent-chat")
	}
	errsMu.Lock()
	defer errsMu.Unlock()
	assert.Len(t, errs, 1, "invalid schedule is reported")
}

func TestManagerRequiresEnabledCollectors(t *testing.T) {
	mgr, err := NewManager(DefaultConfig())
	require.NoError(t, err)
	err = mgr.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retention collector is required")
}

func TestParseSchedule(t *testing.T) {
	assert.NoError(t, ParseSchedule("*/5 * * * *"))
	assert.NoError(t, ParseSchedule("0 */5 * * * *"))
	assert.NoError(t, ParseSchedule("@hourly"))
	assert.Error(t, ParseSchedule("every day"))
}

func TestPruneAppliesTimeWindow(t *testing.T) {
	ctx := context.Background()
	store := openTestStorage(t, ctx)

	now := time.Now().UTC()
	for _, age := range []time.Duration{3 * time.Hour, 2 * time.Hour, time.Minute} {
		require.NoError(t, store.InsertToolExecution(ctx, &storage.ToolExecution{
			Tool:      "echo",
			Status:    "success",
			StartedAt: now.Add(-age),
			CreatedAt: now.Add(-age),
		}))
	}

	require.NoError(t, Prune(ctx, store, RetentionConfig{ToolExecutions: ToolExecutionPolicy{KeepAll: time.Hour}}))

	n, err := store.CountToolExecutions(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

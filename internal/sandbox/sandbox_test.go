package sandbox

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ClearXs/Violet/internal/storage"
)

type funcTool struct {
	name string
	fn   func(ctx context.Context, args string) (string, error)
}

func (f funcTool) Info(context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{Name: f.name, Desc: "test tool"}, nil
}

func (f funcTool) InvokableRun(ctx context.Context, args string, _ ...tool.Option) (string, error) {
	return f.fn(ctx, args)
}

func newTestSandbox(t *testing.T, store *storage.Storage, defs ...Definition) *Sandbox {
	t.Helper()
	reg := NewRegistry()
	for _, d := range defs {
		require.NoError(t, reg.Register(context.Background(), d))
	}
	return New(Config{}, reg, store, nil)
}

func TestRunInProcessSuccess(t *testing.T) {
	sb := newTestSandbox(t, nil, Definition{Tool: funcTool{name: "echo", fn: func(_ context.Context, args string) (string, error) {
		return "got " + args, nil
	}}})

	res := sb.Run(context.Background(), Request{Tool: "echo", Args: "{"})
	require.True(t, res.OK(), "err: %v", res.Err)
	assert.Equal(t, "got {}", res.ReturnValue)
	assert.Contains(t, res.Content(), `"status":"success"`)
	assert.Equal(t, []string{"echo"}, []string{sb.Registry().Infos()[0].Name})
}

func TestRunToolNotFound(t *testing.T) {
	sb := newTestSandbox(t, nil)
	res := sb.Run(context.Background(), Request{Tool: "missing"})
	assert.Equal(t, StatusError, res.Status)
	assert.True(t, errors.Is(res.Err, ErrToolNotFound))
	assert.Contains(t, res.ReturnValue, "missing")
}

func TestRunTimeoutForceTerminates(t *testing.T) {
	sb := newTestSandbox(t, nil, Definition{Tool: funcTool{name: "sleepy", fn: func(context.Context, string) (string, error) {
		// 故意不响应 ctx
		time.Sleep(10 * time.Second)
		return "late", nil
	}}})

	start := time.Now()
	res := sb.Run(context.Background(), Request{Tool: "sleepy", Timeout: 5 * time.Second})
	elapsed := time.Since(start)

	assert.Equal(t, StatusError, res.Status)
	assert.True(t, errors.Is(res.Err, ErrTimeout), "got %v", res.Err)
	assert.Contains(t, res.ReturnValue, "timed out")
	assert.GreaterOrEqual(t, elapsed, 5*time.Second)
	assert.Less(t, elapsed, 7*time.Second)
}

func TestRunRecoversPanic(t *testing.T) {
	sb := newTestSandbox(t, nil, Definition{Tool: funcTool{name: "boom", fn: func(context.Context, string) (string, error) {
		panic("kaboom")
	}}})

	res := sb.Run(context.Background(), Request{Tool: "boom"})
	assert.Equal(t, StatusError, res.Status)
	assert.True(t, errors.Is(res.Err, ErrToolPanicked))
	assert.Equal(t, `tool "boom" panicked: kaboom`, res.ReturnValue)
	assert.Contains(t, res.Stderr, "goroutine")
	assert.NotContains(t, res.Content(), "goroutine")
}

func TestRunToolError(t *testing.T) {
	sb := newTestSandbox(t, nil, Definition{Tool: funcTool{name: "fail", fn: func(context.Context, string) (string, error) {
		return "", errors.New("bad input")
	}}})

	res := sb.Run(context.Background(), Request{Tool: "fail"})
	assert.True(t, errors.Is(res.Err, ErrToolFailed))
	assert.Equal(t, "bad input", res.ReturnValue)
}

func TestRunProcess(t *testing.T) {
	sb := newTestSandbox(t, nil,
		Definition{
			Name:    "shell-echo",
			Runtime: RuntimeProcess,
			Command: []string{"sh", "-c", `cat; printf " %s" "$GREETING"; echo warn 1>&2`},
			Env:     []string{"GREETING=default"},
		},
		Definition{
			Name:    "shell-exit",
			Runtime: RuntimeProcess,
			Command: []string{"sh", "-c", "exit 4"},
		},
		Definition{
			Name:    "shell-sleep",
			Runtime: RuntimeProcess,
			Command: []string{"sleep", "10"},
		},
	)
	ctx := context.Background()

	res := sb.Run(ctx, Request{Tool: "shell-echo", Args: `{"a":1}`, Env: []string{"GREETING=hi"}})
	require.True(t, res.OK(), "err: %v stderr: %s", res.Err, res.Stderr)
	assert.Equal(t, `{"a":1} hi`, res.ReturnValue)
	assert.Equal(t, "warn\n", res.Stderr)

	res = sb.Run(ctx, Request{Tool: "shell-exit"})
	assert.True(t, errors.Is(res.Err, ErrToolFailed))
	assert.Contains(t, res.ReturnValue, "status 4")

	start := time.Now()
	res = sb.Run(ctx, Request{Tool: "shell-sleep", Timeout: 300 * time.Millisecond})
	assert.True(t, errors.Is(res.Err, ErrTimeout), "got %v", res.Err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestDockerRuntimeWithoutClient(t *testing.T) {
	sb := newTestSandbox(t, nil, Definition{Name: "py", Runtime: RuntimeDocker, Command: []string{"python", "-c", "print(1)"}})
	res := sb.Run(context.Background(), Request{Tool: "py"})
	assert.Equal(t, StatusError, res.Status)
	assert.Contains(t, res.ReturnValue, "requires docker")
}

func TestRegistryValidation(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()
	assert.Error(t, reg.Register(ctx, Definition{Name: "x", Runtime: RuntimeProcess}))
	assert.Error(t, reg.Register(ctx, Definition{Name: "x"}))
	assert.Error(t, reg.Register(ctx, Definition{Name: "x", Runtime: "wasm", Command: []string{"x"}}))

	require.NoError(t, reg.Register(ctx, Definition{Name: "x", Runtime: RuntimeProcess, Command: []string{"true"}}))
	assert.Error(t, reg.Register(ctx, Definition{Name: "x", Runtime: RuntimeProcess, Command: []string{"true"}}))
	assert.Equal(t, 1, reg.Len())
}

func TestMergeEnv(t *testing.T) {
	got := mergeEnv([]string{"A=1", "B=2"}, []string{"B=3", "C=4"})
	assert.Equal(t, []string{"A=1", "B=3", "C=4"}, got)
}

func TestAuditRecordsExecutions(t *testing.T) {
	ctx := context.Background()
	store, err := storage.Open(ctx, storage.Config{Path: filepath.Join(t.TempDir(), "violet.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sb := newTestSandbox(t, store,
		Definition{Tool: funcTool{name: "echo", fn: func(_ context.Context, args string) (string, error) { return args, nil }}},
		Definition{Tool: funcTool{name: "fail", fn: func(context.Context, string) (string, error) { return "", errors.New("nope") }}},
	)

	runCtx := WithAgentID(WithTraceID(ctx, "trace-1"), "agent-1")
	sb.Run(runCtx, Request{Tool: "echo", Args: `{"x":1}`})
	sb.Run(runCtx, Request{Tool: "fail"})
	sb.Run(runCtx, Request{Tool: "ghost"})

	recs, err := store.QueryToolExecutions(ctx, storage.ToolExecutionQuery{TraceID: "trace-1"})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	byTool := map[string]storage.ToolExecution{}
	for _, r := range recs {
		byTool[r.Tool] = r
		assert.Equal(t, "agent-1", r.AgentID)
	}
	assert.Equal(t, "success", byTool["echo"].Status)
	assert.Equal(t, `{"x":1}`, byTool["echo"].ParamsJSON)
	assert.Equal(t, `{"x":1}`, byTool["echo"].ResultJSON)
	assert.Equal(t, "error", byTool["fail"].Status)
	assert.Contains(t, byTool["fail"].ErrorMessage, "nope")
	assert.Equal(t, "error", byTool["ghost"].Status)
	assert.Contains(t, byTool["ghost"].ErrorMessage, "tool not found")
}

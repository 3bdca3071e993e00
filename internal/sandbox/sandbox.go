// Package sandbox 在隔离且受限的环境中执行已注册的工具，并返回结构化结果。
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mudler/xlog"

	"github.com/ClearXs/Violet/internal/docker"
	"github.com/ClearXs/Violet/internal/storage"
)

const DefaultTimeout = 180 * time.Second

var (
	// ErrTimeout 表示工具在截止时间前未结束并被强制终止。
	ErrTimeout = errors.New("tool execution timed out")
	// ErrToolPanicked 表示进程内工具发生 panic。
	ErrToolPanicked = errors.New("tool panicked")
	// ErrToolFailed 表示工具返回错误或以非零状态退出。
	ErrToolFailed = errors.New("tool failed")
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Request 为一次工具调用。Args 为 JSON 参数。
type Request struct {
	Tool string
	Args string
	// Env 为额外环境变量（KEY=VALUE），仅作用于子进程与容器。
	Env []string
	// Timeout <=0 时使用沙箱默认值。
	Timeout time.Duration
}

// Result 为一次工具执行的结构化结果。
type Result struct {
	Status      Status
	ReturnValue string
	Stdout      string
	Stderr      string
	Duration    time.Duration
	// Err 为失败原因，可用 errors.Is 判断 ErrToolNotFound / ErrTimeout 等。
	Err error
}

func (r Result) OK() bool { return r.Status == StatusSuccess }

// Content 渲染为回填给模型的 tool 消息内容。
func (r Result) Content() string {
	payload := struct {
		Status string `json:"status"`
		Value  string `json:"return_value"`
		Stdout string `json:"stdout,omitempty"`
		Stderr string `json:"stderr,omitempty"`
	}{
		Status: string(r.Status),
		Value:  r.ReturnValue,
		Stdout: truncate(r.Stdout, contentTruncateLimit),
	}
	// 原始堆栈只进审计表，不回填给模型
	if r.Status == StatusSuccess {
		payload.Stderr = truncate(r.Stderr, contentTruncateLimit)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return r.ReturnValue
	}
	return string(b)
}

func errorResult(err error, msg string) Result {
	return Result{Status: StatusError, ReturnValue: msg, Err: err}
}

// DockerLimits 为容器运行时的资源上限。
type DockerLimits struct {
	Image       string
	MemoryBytes int64
	NanoCPUs    int64
	PidsLimit   int64
}

type Config struct {
	Timeout time.Duration
	Docker  DockerLimits
}

// runner 执行一个已解析的工具定义。ctx 已带有截止时间。
type runner interface {
	run(ctx context.Context, def Definition, req Request) Result
}

// Sandbox 将请求分派到对应运行时，施加超时，并在配置了存储时写入审计记录。
type Sandbox struct {
	cfg      Config
	registry *Registry
	store    *storage.Storage
	runners  map[Runtime]runner
}

// New 创建沙箱。store 为 nil 时不写审计；dockerClient 为 nil 时 docker 工具返回错误结果。
func New(cfg Config, registry *Registry, store *storage.Storage, dockerClient *docker.Client) *Sandbox {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if registry == nil {
		registry = NewRegistry()
	}
	return &Sandbox{
		cfg:      cfg,
		registry: registry,
		store:    store,
		runners: map[Runtime]runner{
			RuntimeInProcess: inProcessRunner{},
			RuntimeProcess:   processRunner{},
			RuntimeDocker:    dockerRunner{client: dockerClient, limits: cfg.Docker},
		},
	}
}

func (s *Sandbox) Registry() *Registry { return s.registry }

// Run 执行工具。任何失败都以 Status=error 的 Result 返回，不会 panic。
func (s *Sandbox) Run(ctx context.Context, req Request) Result {
	start := time.Now()
	def, err := s.registry.Resolve(req.Tool)
	if err != nil {
		res := errorResult(err, fmt.Sprintf("tool %q is not registered", req.Tool))
		s.audit(ctx, Definition{Name: req.Tool}, req, func() Result { return res })
		return res
	}

	if a := strings.TrimSpace(req.Args); a == "" || a == "{" {
		req.Args = "{}"
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	return s.audit(ctx, def, req, func() Result {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		res := s.runners[def.Runtime].run(runCtx, def, req)
		if res.Status == "" {
			res.Status = StatusSuccess
		}
		if res.Duration == 0 {
			res.Duration = time.Since(start)
		}
		if res.Status == StatusError && errors.Is(runCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			res.Err = fmt.Errorf("%w after %s", ErrTimeout, timeout)
			res.ReturnValue = fmt.Sprintf("tool %q timed out after %s", def.Name, timeout)
		}
		if res.Status == StatusError && res.ReturnValue == "" && res.Err != nil {
			res.ReturnValue = res.Err.Error()
		}
		if res.Status == StatusError {
			xlog.Warn("tool execution failed", "tool", def.Name, "runtime", def.Runtime, "error", res.Err)
		}
		return res
	})
}

const contentTruncateLimit = 8192

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "...(truncated)"
}

package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
)

// ErrToolNotFound 表示注册表中没有该工具。
var ErrToolNotFound = errors.New("tool not found")

// Runtime 为工具的执行方式。
type Runtime string

const (
	RuntimeInProcess Runtime = "inprocess"
	RuntimeProcess   Runtime = "process"
	RuntimeDocker    Runtime = "docker"
)

// Definition 描述一个已注册的工具。
//
// RuntimeInProcess 需要 Tool；RuntimeProcess 需要 Command；RuntimeDocker 需要 Command，Image 为空时使用沙箱默认镜像。
type Definition struct {
	Name    string
	Info    *schema.ToolInfo
	Runtime Runtime
	Tool    tool.InvokableTool
	Command []string
	Image   string
	// Env 为该工具固定注入的环境变量（KEY=VALUE），请求中的同名变量优先。
	Env []string
}

// Registry 按名称保存工具定义，可并发读写。
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register 注册工具。进程内工具未提供 Info 时从 Tool.Info 读取。
func (r *Registry) Register(ctx context.Context, def Definition) error {
	if def.Runtime == "" {
		def.Runtime = RuntimeInProcess
	}
	switch def.Runtime {
	case RuntimeInProcess:
		if def.Tool == nil {
			return fmt.Errorf("register %s: in-process tool requires an implementation", def.Name)
		}
		if def.Info == nil {
			info, err := def.Tool.Info(ctx)
			if err != nil {
				return fmt.Errorf("register %s: read tool info: %w", def.Name, err)
			}
			def.Info = info
		}
	case RuntimeProcess, RuntimeDocker:
		if len(def.Command) == 0 {
			return fmt.Errorf("register %s: %s tool requires a command", def.Name, def.Runtime)
		}
	default:
		return fmt.Errorf("register %s: unknown runtime %q", def.Name, def.Runtime)
	}
	if def.Name == "" && def.Info != nil {
		def.Name = def.Info.Name
	}
	if def.Name == "" {
		return errors.New("register tool: name is required")
	}
	if def.Info == nil {
		def.Info = &schema.ToolInfo{Name: def.Name}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.defs[def.Name]; ok {
		return fmt.Errorf("register %s: tool already registered", def.Name)
	}
	r.defs[def.Name] = def
	return nil
}

func (r *Registry) Resolve(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return def, nil
}

// Infos 返回按名称排序的工具描述，供模型调用使用。
func (r *Registry) Infos() []*schema.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*schema.ToolInfo, 0, len(r.defs))
	for _, d := range r.defs {
		out = append(out, d.Info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.defs)
}

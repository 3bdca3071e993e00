// Package locks 为每个 Agent 提供一把互斥锁，保证同一 Agent 的 step 串行执行。
package locks

import "sync"

// Registry 按 agentID 懒加载并缓存互斥锁，锁在进程生命周期内保留。
type Registry struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{locks: make(map[string]*sync.Mutex)}
}

// Acquire 返回 agentID 对应的锁；同一 agentID 总是返回同一个实例。
// 只负责查找/创建，不会加锁。
func (r *Registry) Acquire(agentID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.locks == nil {
		r.locks = make(map[string]*sync.Mutex)
	}
	m, ok := r.locks[agentID]
	if !ok {
		m = &sync.Mutex{}
		r.locks[agentID] = m
	}
	return m
}

// Do 持有 agentID 的锁执行 fn，任何退出路径（包括 panic）都会释放锁。
func (r *Registry) Do(agentID string, fn func() error) error {
	m := r.Acquire(agentID)
	m.Lock()
	defer m.Unlock()
	return fn()
}

// Len 返回已创建的锁数量。
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.locks)
}

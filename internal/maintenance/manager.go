// Package maintenance 运行后台维护任务：清理工具审计记录，以及按 cron 唤醒 background Agent。
package maintenance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/mudler/xlog"
)

type Manager struct {
	cfg Config

	retention *RetentionCollector
	scheduler *Scheduler

	started atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup

	runErrMu sync.Mutex
	runErr   error
}

func NewManager(cfg Config) (*Manager, error) {
	cfg.Retention = cfg.Retention.withDefaults()
	cfg.Scheduler = cfg.Scheduler.withDefaults()
	return &Manager{cfg: cfg}, nil
}

func (m *Manager) WithRetention(r *RetentionCollector) *Manager {
	if m == nil {
		return nil
	}
	m.retention = r
	if m.retention != nil {
		m.retention.cfg = m.cfg.Retention
	}
	return m
}

func (m *Manager) WithScheduler(s *Scheduler) *Manager {
	if m == nil {
		return nil
	}
	m.scheduler = s
	if m.scheduler != nil {
		m.scheduler.cfg = m.cfg.Scheduler
	}
	return m
}

func (m *Manager) Start(ctx context.Context) error {
	if m == nil {
		return errors.New("manager is nil")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("manager already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if m.cfg.Retention.Enabled {
		if m.retention == nil {
			m.cancel()
			return errors.New("retention collector is required when retention enabled")
		}
		m.goRun(runCtx, "retention", m.retention.Run)
	}

	if m.cfg.Scheduler.Enabled {
		if m.scheduler == nil {
			m.cancel()
			return errors.New("scheduler is required when scheduler enabled")
		}
		m.goRun(runCtx, "scheduler", m.scheduler.Run)
	}

	xlog.Info("maintenance started", "retention", m.cfg.Retention.Enabled, "scheduler", m.cfg.Scheduler.Enabled)
	return nil
}

func (m *Manager) goRun(ctx context.Context, name string, run func(context.Context) error) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			xlog.Error("maintenance task failed", "task", name, "error", err)
			m.runErrMu.Lock()
			if m.runErr == nil {
				m.runErr = err
			}
			m.runErrMu.Unlock()
			m.cancel()
		}
	}()
}

func (m *Manager) Stop() {
	if m == nil || m.cancel == nil {
		return
	}
	m.cancel()
}

func (m *Manager) Wait() error {
	if m == nil {
		return nil
	}
	m.wg.Wait()
	m.runErrMu.Lock()
	defer m.runErrMu.Unlock()
	return m.runErr
}

package maintenance

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/mudler/xlog"

	"github.com/ClearXs/Violet/internal/storage"
)

type RetentionCollector struct {
	cfg RetentionConfig

	store *storage.Storage
}

func NewRetentionCollector(store *storage.Storage) (*RetentionCollector, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	return &RetentionCollector{store: store}, nil
}

func (c *RetentionCollector) Run(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}
	c.cfg = c.cfg.withDefaults()

	if err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.RunOnce(ctx, time.Now().UTC()); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		}
	}
}

// RunOnce 执行一轮清理；各清理任务由 worker 池并发执行。
func (c *RetentionCollector) RunOnce(ctx context.Context, now time.Time) error {
	if c == nil || c.store == nil {
		return errors.New("retention collector not initialized")
	}
	c.cfg = c.cfg.withDefaults()

	var tasks []func(context.Context) error

	cut := now.Add(-c.cfg.ToolExecutions.KeepAll)
	tasks = append(tasks, func(ctx context.Context) error {
		return c.deleteToolExecutionsBefore(ctx, cut)
	})
	if keep := c.cfg.ToolExecutions.KeepLatest; keep > 0 {
		tasks = append(tasks, func(ctx context.Context) error {
			n, err := c.store.DeleteToolExecutionsKeepLatest(ctx, keep)
			if n > 0 {
				xlog.Debug("retention trimmed tool executions", "deleted", n, "keep", keep)
			}
			return err
		})
	}

	workers := c.cfg.Workers
	if workers > len(tasks) {
		workers = len(tasks)
	}
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan func(context.Context) error)
	errs := make(chan error, len(tasks))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := job(ctx); err != nil && !errors.Is(err, context.Canceled) {
					errs <- err
				}
			}
		}()
	}

	for _, t := range tasks {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			close(errs)
			return ctx.Err()
		case jobs <- t:
		}
	}
	close(jobs)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			c.cfg.OnError(err)
			return err
		}
	}
	return nil
}

func (c *RetentionCollector) deleteToolExecutionsBefore(ctx context.Context, before time.Time) error {
	total := int64(0)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		affected, err := c.store.DeleteToolExecutionsBeforeLimited(ctx, before, c.cfg.BatchRows)
		if err != nil {
			return err
		}
		total += affected
		if affected == 0 {
			if total > 0 {
				xlog.Debug("retention deleted tool executions", "deleted", total, "before", before)
			}
			return nil
		}
		if err := c.sleepIdle(ctx); err != nil {
			return err
		}
	}
}

func (c *RetentionCollector) sleepIdle(ctx context.Context) error {
	if c.cfg.IdleSleep <= 0 {
		return nil
	}
	timer := time.NewTimer(c.cfg.IdleSleep)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Prune 按给定策略立即执行一轮清理，供命令行手动触发。
func Prune(ctx context.Context, store *storage.Storage, cfg RetentionConfig) error {
	c, err := NewRetentionCollector(store)
	if err != nil {
		return err
	}
	c.cfg = cfg
	return c.RunOnce(ctx, time.Now().UTC())
}

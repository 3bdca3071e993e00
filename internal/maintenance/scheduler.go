package maintenance

import (
	"context"
	"errors"
	"fmt"

	"github.com/mudler/xlog"
	"github.com/robfig/cron/v3"

	"github.com/ClearXs/Violet/internal/storage"
)

// Trigger 唤醒一个 Agent 执行一次 step。
type Trigger interface {
	Trigger(ctx context.Context, agentID, text string) error
}

// Scheduler 为配置了 Schedule 的 Agent 注册 cron 任务。
type Scheduler struct {
	cfg SchedulerConfig

	store   *storage.Storage
	trigger Trigger
	parser  cron.Parser
}

func NewScheduler(store *storage.Storage, trigger Trigger) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("storage is required")
	}
	if trigger == nil {
		return nil, errors.New("trigger is required")
	}
	return &Scheduler{
		store:   store,
		trigger: trigger,
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}, nil
}

// ParseSchedule 校验 cron 表达式（支持可选的秒字段与 @every 等描述符）。
func ParseSchedule(expr string) error {
	p := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := p.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

func (s *Scheduler) Run(ctx context.Context) error {
	if s == nil || s.store == nil {
		return errors.New("scheduler not initialized")
	}
	s.cfg = s.cfg.withDefaults()

	agents, err := s.store.ListAgents(ctx, storage.AgentQuery{WithSchedule: true})
	if err != nil {
		return err
	}

	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	registered := 0
	for _, a := range agents {
		agentID := a.ID
		if _, err := c.AddFunc(a.Schedule, func() { s.fire(ctx, agentID) }); err != nil {
			err = fmt.Errorf("schedule agent %s: %w", agentID, err)
			xlog.Warn("skip agent schedule", "agent", agentID, "schedule", a.Schedule, "error", err)
			s.cfg.OnError(err)
			continue
		}
		registered++
	}
	xlog.Info("scheduler started", "agents", registered)

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

func (s *Scheduler) fire(ctx context.Context, agentID string) {
	if ctx.Err() != nil {
		return
	}
	runCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	xlog.Debug("scheduled trigger", "agent", agentID)
	if err := s.trigger.Trigger(runCtx, agentID, s.cfg.TriggerMessage); err != nil && !errors.Is(err, context.Canceled) {
		xlog.Error("scheduled step failed", "agent", agentID, "error", err)
		s.cfg.OnError(fmt.Errorf("trigger agent %s: %w", agentID, err))
	}
}

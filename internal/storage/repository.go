package storage

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const (
	defaultLimit = 200
	maxLimit     = 5000

	defaultDeleteLimit = 500
	maxDeleteLimit     = 900
)

// ErrNotFound 可通过 errors.Is 判断任意实体不存在。
var ErrNotFound = errors.New("not found")

// ToolExecutionQuery 用于查询工具执行记录的过滤条件。
//
// 所有字段都是可选过滤条件，零值表示不参与过滤；时间范围作用于 CreatedAt。
type ToolExecutionQuery struct {
	TraceID string
	AgentID string
	Tool    string
	Status  string
	// From/To 过滤 CreatedAt 区间：[From, To]（两端包含）。
	From *time.Time
	To   *time.Time
	// Limit 限制返回条数；<=0 使用默认值。
	Limit int
	// Desc 按 CreatedAt 倒序返回。
	Desc bool
}

func (s *Storage) InsertToolExecution(ctx context.Context, rec *ToolExecution) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}
	if rec == nil {
		return errors.New("tool execution is nil")
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("insert tool execution: %w", err)
	}
	return nil
}

func (s *Storage) QueryToolExecutions(ctx context.Context, q ToolExecutionQuery) ([]ToolExecution, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("storage not initialized")
	}

	limit := normalizeLimit(q.Limit)
	db := s.db.WithContext(ctx).Model(&ToolExecution{})
	if q.TraceID != "" {
		db = db.Where("trace_id = ?", q.TraceID)
	}
	if q.AgentID != "" {
		db = db.Where("agent_id = ?", q.AgentID)
	}
	if q.Tool != "" {
		db = db.Where("tool = ?", q.Tool)
	}
	if q.Status != "" {
		db = db.Where("status = ?", q.Status)
	}
	if q.From != nil {
		db = db.Where("created_at >= ?", *q.From)
	}
	if q.To != nil {
		db = db.Where("created_at <= ?", *q.To)
	}
	if q.Desc {
		db = db.Order("created_at DESC").Order("id DESC")
	} else {
		db = db.Order("created_at ASC").Order("id ASC")
	}
	db = db.Limit(limit)

	var out []ToolExecution
	if err := db.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("query tool executions: %w", err)
	}
	return out, nil
}

type ToolExecutionUpdate struct {
	Status       *string
	ResultJSON   *string
	ErrorMessage *string
	DurationMS   *int64
	FinishedAt   *time.Time
}

func (s *Storage) UpdateToolExecution(ctx context.Context, id uint64, up ToolExecutionUpdate) error {
	if s == nil || s.db == nil {
		return errors.New("storage not initialized")
	}

	updates := make(map[string]interface{})
	if up.Status != nil {
		updates["status"] = *up.Status
	}
	if up.ResultJSON != nil {
		updates["result_json"] = *up.ResultJSON
	}
	if up.ErrorMessage != nil {
		updates["error_message"] = *up.ErrorMessage
	}
	if up.DurationMS != nil {
		updates["duration_ms"] = *up.DurationMS
	}
	if up.FinishedAt != nil {
		updates["finished_at"] = *up.FinishedAt
	}

	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&ToolExecution{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update tool execution: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return gormNotFoundError("tool execution", id)
	}
	return nil
}

func (s *Storage) CountToolExecutions(ctx context.Context) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&ToolExecution{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count tool executions: %w", err)
	}
	return n, nil
}

func (s *Storage) DeleteToolExecutionsBefore(ctx context.Context, before time.Time) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	res := s.db.WithContext(ctx).Where("created_at < ?", before).Delete(&ToolExecution{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete tool executions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func (s *Storage) DeleteToolExecutionsBeforeLimited(ctx context.Context, before time.Time, limit int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}

	limit = normalizeDeleteLimit(limit)

	var ids []uint64
	db := s.db.WithContext(ctx).Model(&ToolExecution{}).
		Select("id").
		Where("created_at < ?", before).
		Order("id ASC").
		Limit(limit)
	if err := db.Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select tool execution ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&ToolExecution{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete tool executions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteToolExecutionsKeepLatest 只保留最近 keep 条记录（按 id）。
func (s *Storage) DeleteToolExecutionsKeepLatest(ctx context.Context, keep int) (int64, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("storage not initialized")
	}
	if keep < 0 {
		keep = 0
	}

	var ids []uint64
	if err := s.db.WithContext(ctx).Model(&ToolExecution{}).
		Select("id").
		Order("id DESC").
		Limit(1).
		Offset(keep).
		Find(&ids).Error; err != nil {
		return 0, fmt.Errorf("select tool execution cutoff: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	res := s.db.WithContext(ctx).Where("id <= ?", ids[0]).Delete(&ToolExecution{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete tool executions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func normalizeLimit(v int) int {
	if v <= 0 {
		return defaultLimit
	}
	if v > maxLimit {
		return maxLimit
	}
	return v
}

func normalizeDeleteLimit(v int) int {
	if v <= 0 {
		return defaultDeleteLimit
	}
	if v > maxDeleteLimit {
		return maxDeleteLimit
	}
	return v
}

type notFoundError struct {
	Entity string
	ID     string
}

func (e notFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

func (e notFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func gormNotFoundError(entity string, id any) error {
	return notFoundError{Entity: entity, ID: fmt.Sprint(id)}
}

// IsNotFound 判断错误是否为实体不存在。
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

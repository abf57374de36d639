/*
 * @module service/performance/retention_service
 * @description 性能记录保留服务，按保留天数清理过期记录，支持定时执行和手动清理
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 定时触发/手动请求 -> 计算截止时间 -> 统计或删除 -> 失效统计缓存
 * @rules 保留天数<=0 时不启动定时任务；dry-run 只统计不删除；清理失败不影响系统运行
 * @dependencies github.com/robfig/cron/v3
 * @refs service/performance/store.go, api/controllers/performance_controller.go
 */

package performance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultRetentionSchedule 每天凌晨2点（秒 分 时 日 月 周）
const DefaultRetentionSchedule = "0 0 2 * * *"

// ErrInvalidPurgeRequest 清理参数无效
var ErrInvalidPurgeRequest = errors.New("清理参数无效")

// cleanupLockKey 定时清理使用的分布式锁键
const cleanupLockKey = "retention_cleanup"

// JobLocker 多实例部署时保证定时任务只在一个实例上执行
type JobLocker interface {
	ExecuteWithLock(ctx context.Context, key string, ttl time.Duration, fn func() error) error
}

// PurgeRequest 清理请求
type PurgeRequest struct {
	OlderThanDays int    `json:"older_than_days"`
	Environment   string `json:"env"`
	All           bool   `json:"all"`
	DryRun        bool   `json:"dry_run"`
}

// PurgeResult 清理结果
type PurgeResult struct {
	Affected    int64      `json:"affected"`
	DryRun      bool       `json:"dry_run"`
	Environment string     `json:"env,omitempty"`
	Cutoff      *time.Time `json:"cutoff,omitempty"`
}

// RetentionService 记录保留服务
type RetentionService struct {
	store         Store
	cache         CacheInvalidator
	retentionDays int
	schedule      string
	cron          *cron.Cron
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
	locker        JobLocker
	logger        *slog.Logger
	now           func() time.Time
}

// NewRetentionService 创建保留服务，schedule 为空时使用默认时间
func NewRetentionService(store Store, cache CacheInvalidator, retentionDays int, schedule string, logger *slog.Logger) *RetentionService {
	if schedule == "" {
		schedule = DefaultRetentionSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &RetentionService{
		store:         store,
		cache:         cache,
		retentionDays: retentionDays,
		schedule:      schedule,
		cron:          cron.New(cron.WithSeconds()),
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
		now:           time.Now,
	}
}

// Purge 执行一次清理
func (s *RetentionService) Purge(ctx context.Context, req PurgeRequest) (*PurgeResult, error) {
	result := &PurgeResult{DryRun: req.DryRun, Environment: req.Environment}

	if req.All {
		if req.DryRun {
			// 统计全部记录：截止时间取一个不会早于任何记录的时刻
			count, err := s.store.CountOlderThan(ctx, s.now().Add(time.Hour), req.Environment)
			if err != nil {
				return nil, err
			}
			result.Affected = count
			return result, nil
		}
		deleted, err := s.store.DeleteAll(ctx, req.Environment)
		if err != nil {
			return nil, err
		}
		result.Affected = deleted
		s.afterPurge(ctx, req.Environment, deleted)
		return result, nil
	}

	if req.OlderThanDays <= 0 {
		return nil, fmt.Errorf("%w: 清理天数必须大于0，或指定 all", ErrInvalidPurgeRequest)
	}

	cutoff := s.now().AddDate(0, 0, -req.OlderThanDays)
	result.Cutoff = &cutoff

	if req.DryRun {
		count, err := s.store.CountOlderThan(ctx, cutoff, req.Environment)
		if err != nil {
			return nil, err
		}
		result.Affected = count
		return result, nil
	}

	deleted, err := s.store.DeleteOlderThan(ctx, cutoff, req.Environment)
	if err != nil {
		return nil, err
	}
	result.Affected = deleted
	s.afterPurge(ctx, req.Environment, deleted)
	return result, nil
}

// DeleteRequest 按条件删除请求，必须指定环境
type DeleteRequest struct {
	Filter RecordFilter
	DryRun bool
}

// DeleteMatching 删除符合条件的记录，dry-run 时只统计
func (s *RetentionService) DeleteMatching(ctx context.Context, req DeleteRequest) (*PurgeResult, error) {
	env := req.Filter.Environment
	if env == "" {
		return nil, fmt.Errorf("%w: 按条件删除必须指定环境", ErrInvalidPurgeRequest)
	}
	result := &PurgeResult{DryRun: req.DryRun, Environment: env}

	if req.DryRun {
		count, err := s.store.CountByFilter(ctx, req.Filter)
		if err != nil {
			return nil, err
		}
		result.Affected = count
		return result, nil
	}

	deleted, err := s.store.DeleteByFilter(ctx, req.Filter)
	if err != nil {
		return nil, err
	}
	result.Affected = deleted
	s.afterPurge(ctx, env, deleted)
	return result, nil
}

func (s *RetentionService) afterPurge(ctx context.Context, env string, deleted int64) {
	purgedRecordsTotal.Add(float64(deleted))
	if deleted == 0 || s.cache == nil {
		return
	}
	if env != "" {
		s.cache.Invalidate(ctx, env)
		return
	}
	envs, err := s.store.Environments(ctx)
	if err != nil {
		s.logger.Warn("获取环境列表失败，统计缓存将在过期后刷新", "error", err)
		return
	}
	for _, e := range envs {
		s.cache.Invalidate(ctx, e)
	}
}

// SetLocker 设置定时清理的分布式锁，需在 Start 之前调用
func (s *RetentionService) SetLocker(locker JobLocker) {
	s.locker = locker
}

// runScheduled 定时任务入口，配置了锁时只有拿到锁的实例执行
func (s *RetentionService) runScheduled(ctx context.Context) error {
	if s.locker == nil {
		return s.CleanupExpired(ctx)
	}
	return s.locker.ExecuteWithLock(ctx, cleanupLockKey, time.Hour, func() error {
		return s.CleanupExpired(ctx)
	})
}

// CleanupExpired 按保留天数清理全部环境
func (s *RetentionService) CleanupExpired(ctx context.Context) error {
	start := time.Now()
	result, err := s.Purge(ctx, PurgeRequest{OlderThanDays: s.retentionDays})
	if err != nil {
		return fmt.Errorf("清理过期性能记录失败: %w", err)
	}
	s.logger.Info("过期性能记录清理完成",
		"deleted_count", result.Affected,
		"retention_days", s.retentionDays,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// Start 启动定时清理
func (s *RetentionService) Start() error {
	if s.started {
		return errors.New("记录清理调度器已经启动")
	}
	if s.retentionDays <= 0 {
		s.logger.Info("未配置保留天数，跳过定时清理")
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if err := s.runScheduled(s.ctx); err != nil {
			s.logger.Error("定时清理任务失败", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("添加定时任务失败: %w", err)
	}

	s.cron.Start()
	s.started = true
	s.logger.Info("记录清理调度器启动成功", "schedule", s.schedule, "retention_days", s.retentionDays)
	return nil
}

// Stop 停止定时清理
func (s *RetentionService) Stop() {
	if !s.started {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.started = false
	s.logger.Info("记录清理调度器已停止")
}

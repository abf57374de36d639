/*
 * @module service/performance/query_tracker
 * @description GORM插件，按请求上下文统计查询次数和查询耗时
 * @architecture 插件模式 - 注册GORM前后置回调
 * @stateFlow 请求开始挂载统计对象 -> 每次SQL前记录开始时间 -> SQL后累加次数与耗时 -> 请求结束读取
 * @rules 上下文中没有统计对象时回调不做任何事
 * @dependencies gorm.io/gorm
 * @refs api/middleware/performance_tracker.go
 */

package performance

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"
)

type queryStatsKey struct{}

const queryStartKey = "perfmon:query_start"

// QueryStats 单个请求的查询统计
type QueryStats struct {
	mu       sync.Mutex
	count    int64
	duration time.Duration
}

func (q *QueryStats) add(d time.Duration) {
	q.mu.Lock()
	q.count++
	q.duration += d
	q.mu.Unlock()
}

// Snapshot 读取当前查询次数和耗时（秒）
func (q *QueryStats) Snapshot() (int64, float64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count, q.duration.Seconds()
}

// WithQueryStats 在上下文中挂载新的查询统计
func WithQueryStats(ctx context.Context) (context.Context, *QueryStats) {
	stats := &QueryStats{}
	return context.WithValue(ctx, queryStatsKey{}, stats), stats
}

// QueryStatsFrom 取上下文中的查询统计
func QueryStatsFrom(ctx context.Context) (*QueryStats, bool) {
	if ctx == nil {
		return nil, false
	}
	stats, ok := ctx.Value(queryStatsKey{}).(*QueryStats)
	return stats, ok
}

// QueryTracker 查询统计插件
type QueryTracker struct{}

// Name 插件名称
func (QueryTracker) Name() string {
	return "perfmon:query_tracker"
}

// Initialize 注册回调
func (t QueryTracker) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	hooks := []struct {
		name   string
		before func(string, func(*gorm.DB)) error
		after  func(string, func(*gorm.DB)) error
	}{
		{"create", cb.Create().Before("gorm:create").Register, cb.Create().After("gorm:create").Register},
		{"query", cb.Query().Before("gorm:query").Register, cb.Query().After("gorm:query").Register},
		{"update", cb.Update().Before("gorm:update").Register, cb.Update().After("gorm:update").Register},
		{"delete", cb.Delete().Before("gorm:delete").Register, cb.Delete().After("gorm:delete").Register},
		{"row", cb.Row().Before("gorm:row").Register, cb.Row().After("gorm:row").Register},
		{"raw", cb.Raw().Before("gorm:raw").Register, cb.Raw().After("gorm:raw").Register},
	}
	for _, h := range hooks {
		if err := h.before(t.Name()+":before_"+h.name, beforeQuery); err != nil {
			return err
		}
		if err := h.after(t.Name()+":after_"+h.name, afterQuery); err != nil {
			return err
		}
	}
	return nil
}

func beforeQuery(db *gorm.DB) {
	if _, ok := QueryStatsFrom(db.Statement.Context); ok {
		db.InstanceSet(queryStartKey, time.Now())
	}
}

func afterQuery(db *gorm.DB) {
	stats, ok := QueryStatsFrom(db.Statement.Context)
	if !ok {
		return
	}
	v, ok := db.InstanceGet(queryStartKey)
	if !ok {
		return
	}
	if start, ok := v.(time.Time); ok {
		stats.add(time.Since(start))
	}
}

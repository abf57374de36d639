/*
 * @module service/performance/statistics_service
 * @description 路由统计服务，按环境汇总全部路由的聚合指标并缓存
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 查询缓存 -> 未命中时数据库分组聚合 -> 排序 -> 按读到的版本写回缓存
 * @rules 按平均请求耗时从高到低排序，无数据的路由排在最后；缓存错误只记录日志
 * @dependencies service/performance/aggregator, service/performance/cache
 * @refs api/controllers/performance_controller.go
 */

package performance

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"
)

// StatisticsService 路由统计服务
type StatisticsService struct {
	store    Store
	cache    StatisticsCache
	location *time.Location
	logger   *slog.Logger
}

// NewStatisticsService 创建统计服务，cache 可为 nil
func NewStatisticsService(store Store, cache StatisticsCache, logger *slog.Logger) *StatisticsService {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatisticsService{store: store, cache: cache, location: time.Local, logger: logger}
}

// RouteStatistics 获取环境下全部路由的聚合，分组计算在数据库中完成
func (s *StatisticsService) RouteStatistics(ctx context.Context, env string) ([]RouteAggregates, error) {
	var version int64
	if s.cache != nil {
		stats, v, hit, err := s.cache.Get(ctx, env)
		switch {
		case err != nil:
			statisticsCacheTotal.WithLabelValues("error").Inc()
			s.logger.Warn("读取统计缓存失败", "env", env, "error", err)
		case hit:
			statisticsCacheTotal.WithLabelValues("hit").Inc()
			return stats, nil
		default:
			statisticsCacheTotal.WithLabelValues("miss").Inc()
		}
		version = v
	}

	stats, err := s.store.SummarizeRoutes(ctx, env)
	if err != nil {
		return nil, err
	}
	SortByRequestTime(stats)

	if s.cache != nil {
		if err := s.cache.Set(ctx, env, version, stats); err != nil {
			s.logger.Warn("写入统计缓存失败", "env", env, "error", err)
		}
	}
	return stats, nil
}

// AccessDistribution 按小时或星期统计访问量、平均请求耗时和状态码
func (s *StatisticsService) AccessDistribution(ctx context.Context, filter RecordFilter, by DistributionKind) ([]TimeBucket, error) {
	if filter.Environment == "" {
		return nil, errors.New("访问分布统计必须指定环境")
	}
	points, err := s.store.AccessPoints(ctx, filter)
	if err != nil {
		return nil, err
	}
	return Distribute(points, by, s.location), nil
}

// Records 查询原始记录
func (s *StatisticsService) Records(ctx context.Context, filter RecordFilter) ([]RecordView, error) {
	records, err := s.store.Query(ctx, filter)
	if err != nil {
		return nil, err
	}
	views := make([]RecordView, 0, len(records))
	for _, r := range records {
		views = append(views, NewRecordView(r))
	}
	return views, nil
}

// Environments 获取已记录的环境
func (s *StatisticsService) Environments(ctx context.Context) ([]string, error) {
	return s.store.Environments(ctx)
}

// Invalidate 失效环境缓存
func (s *StatisticsService) Invalidate(ctx context.Context, env string) {
	if s == nil || s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, env); err != nil {
		s.logger.Warn("清除统计缓存失败", "env", env, "error", err)
	}
}

// SortByRequestTime 按平均请求耗时降序，无数据的排最后，同值按路由名
func SortByRequestTime(stats []RouteAggregates) {
	sort.SliceStable(stats, func(i, j int) bool {
		a, b := stats[i].RequestTime.Mean, stats[j].RequestTime.Mean
		switch {
		case a == nil && b == nil:
			return stats[i].RouteName < stats[j].RouteName
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a > *b
		default:
			return stats[i].RouteName < stats[j].RouteName
		}
	})
}

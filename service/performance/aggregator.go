/*
 * @module service/performance/aggregator
 * @description 统计聚合器，对一组存储记录按指标计算 count/sum/mean/max
 * @architecture 分层架构 - 业务服务层（纯函数，无IO）
 * @stateFlow 记录集合 -> 过滤缺失值 -> 排序 -> 归约
 * @rules 缺失值不计入任何统计；无数据时 mean/max 为 nil；结果与输入顺序无关
 * @dependencies sort
 * @refs service/performance/statistics_service.go, service/performance/evaluator.go
 */

package performance

import (
	"sort"
	"time"

	"perfmon-service/service/models"
)

// Aggregate 单个指标的聚合值，Mean/Max 为 nil 表示数据不足
type Aggregate struct {
	Count int      `json:"count"`
	Sum   float64  `json:"sum"`
	Mean  *float64 `json:"mean"`
	Max   *float64 `json:"max"`
}

// HasData 是否有可用数据
func (a Aggregate) HasData() bool {
	return a.Count > 0
}

// AggregateRecords 计算指定指标的聚合值
func AggregateRecords(records []models.PerformanceRecord, metric MetricKind) Aggregate {
	values := make([]float64, 0, len(records))
	for i := range records {
		if v, ok := metric.recordValue(&records[i]); ok {
			values = append(values, v)
		}
	}
	return AggregateValues(values)
}

// AggregateValues 对数值序列做聚合，不修改入参
func AggregateValues(values []float64) Aggregate {
	if len(values) == 0 {
		return Aggregate{}
	}

	// 浮点加法不满足结合律，按固定顺序求和保证结果与输入顺序无关
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(len(sorted))
	maxValue := sorted[len(sorted)-1]

	return Aggregate{
		Count: len(sorted),
		Sum:   sum,
		Mean:  &mean,
		Max:   &maxValue,
	}
}

// RouteKey 路由 + 环境
type RouteKey struct {
	RouteName   string `json:"route_name"`
	Environment string `json:"environment"`
}

// RouteAggregates 单个路由在某环境下的全部聚合
type RouteAggregates struct {
	RouteKey
	AccessCount int         `json:"access_count"`
	RequestTime Aggregate   `json:"request_time"`
	QueryCount  Aggregate   `json:"query_count"`
	QueryTime   Aggregate   `json:"query_time"`
	MemoryUsage Aggregate   `json:"memory_usage"`
	StatusCodes map[int]int `json:"status_codes"`
	LastSeenAt  *time.Time  `json:"last_seen_at"`
}

// Metric 按指标类型取聚合
func (r RouteAggregates) Metric(kind MetricKind) Aggregate {
	switch kind {
	case MetricQueryCount:
		return r.QueryCount
	case MetricQueryTime:
		return r.QueryTime
	case MetricMemoryUsage:
		return r.MemoryUsage
	default:
		return r.RequestTime
	}
}

// GroupByRoute 按路由和环境分组
func GroupByRoute(records []models.PerformanceRecord) map[RouteKey][]models.PerformanceRecord {
	groups := make(map[RouteKey][]models.PerformanceRecord)
	for _, r := range records {
		key := RouteKey{RouteName: r.RouteName, Environment: r.Environment}
		groups[key] = append(groups[key], r)
	}
	return groups
}

// SummarizeRecords 计算单个分组的聚合，调用方保证记录属于同一路由和环境
func SummarizeRecords(key RouteKey, records []models.PerformanceRecord) RouteAggregates {
	summary := RouteAggregates{
		RouteKey:    key,
		AccessCount: len(records),
		RequestTime: AggregateRecords(records, MetricRequestTime),
		QueryCount:  AggregateRecords(records, MetricQueryCount),
		QueryTime:   AggregateRecords(records, MetricQueryTime),
		MemoryUsage: AggregateRecords(records, MetricMemoryUsage),
		StatusCodes: make(map[int]int),
	}
	for _, r := range records {
		if r.StatusCode != nil {
			summary.StatusCodes[*r.StatusCode]++
		}
		if summary.LastSeenAt == nil || r.CreatedAt.After(*summary.LastSeenAt) {
			t := r.CreatedAt
			summary.LastSeenAt = &t
		}
	}
	return summary
}

// SummarizeByRoute 分组并计算每个路由的聚合
func SummarizeByRoute(records []models.PerformanceRecord) []RouteAggregates {
	groups := GroupByRoute(records)
	out := make([]RouteAggregates, 0, len(groups))
	for key, group := range groups {
		out = append(out, SummarizeRecords(key, group))
	}
	return out
}

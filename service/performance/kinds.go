package performance

import (
	"perfmon-service/service/models"
	"perfmon-service/service/notification"
)

// MetricKind 指标类型
type MetricKind string

const (
	MetricRequestTime MetricKind = "request_time"
	MetricQueryCount  MetricKind = "query_count"
	MetricQueryTime   MetricKind = "query_time"
	MetricMemoryUsage MetricKind = "memory_usage"
)

// AllMetricKinds 按固定顺序列出全部指标
var AllMetricKinds = []MetricKind{MetricRequestTime, MetricQueryCount, MetricQueryTime, MetricMemoryUsage}

// AlertType 指标对应的告警类型
func (k MetricKind) AlertType() notification.AlertType {
	return notification.AlertType(k)
}

// recordValue 取记录中的指标值，缺失返回 false
func (k MetricKind) recordValue(r *models.PerformanceRecord) (float64, bool) {
	return k.value(r.RequestTimeSeconds, r.TotalQueries, r.QueryTimeSeconds, r.MemoryUsageBytes)
}

// sampleValue 取样本中的指标值，缺失返回 false
func (k MetricKind) sampleValue(s *MetricSample) (float64, bool) {
	return k.value(s.RequestTimeSeconds, s.TotalQueries, s.QueryTimeSeconds, s.MemoryUsageBytes)
}

func (k MetricKind) value(requestTime *float64, queries *int64, queryTime *float64, memory *int64) (float64, bool) {
	switch k {
	case MetricRequestTime:
		if requestTime != nil {
			return *requestTime, true
		}
	case MetricQueryCount:
		if queries != nil {
			return float64(*queries), true
		}
	case MetricQueryTime:
		if queryTime != nil {
			return *queryTime, true
		}
	case MetricMemoryUsage:
		if memory != nil {
			return float64(*memory), true
		}
	}
	return 0, false
}

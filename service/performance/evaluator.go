/*
 * @module service/performance/evaluator
 * @description 阈值评估器，将样本与 warning/critical 阈值及历史均值比较，生成告警
 * @architecture 分层架构 - 业务服务层（纯函数，无副作用）
 * @stateFlow 样本 + 阈值配置 + 历史聚合 -> 逐指标比较 -> 离群检测 -> 告警列表
 * @rules 每个指标至多一条告警，critical 优先；critical < warning 时 warning 不触发；
 *        历史样本数低于下限时不做离群检测；内存阈值单位为 MB
 * @dependencies service/notification
 * @refs service/performance/recording_service.go, service/notification/alert.go
 */

package performance

import (
	"fmt"

	"perfmon-service/service/notification"
)

const bytesPerMB = 1024 * 1024

// Threshold 单个指标的阈值，nil 表示不告警
type Threshold struct {
	Warning  *float64 `json:"warning" yaml:"warning"`
	Critical *float64 `json:"critical" yaml:"critical"`
}

// NewThreshold 构造同时包含 warning 和 critical 的阈值
func NewThreshold(warning, critical float64) Threshold {
	return Threshold{Warning: &warning, Critical: &critical}
}

// OutlierConfig 离群检测配置，Multiplier<=0 表示关闭
type OutlierConfig struct {
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
	MinSamples int     `json:"min_samples" yaml:"min_samples"`
}

// ThresholdConfig 全部指标的阈值，启动时加载后只读
type ThresholdConfig struct {
	RequestTime Threshold     `json:"request_time" yaml:"request_time"` // 秒
	QueryCount  Threshold     `json:"query_count" yaml:"query_count"`   // 次
	QueryTime   Threshold     `json:"query_time" yaml:"query_time"`     // 秒
	MemoryUsage Threshold     `json:"memory_usage" yaml:"memory_usage"` // MB
	Outlier     OutlierConfig `json:"outlier" yaml:"outlier"`
}

// DefaultThresholds 默认阈值
func DefaultThresholds() ThresholdConfig {
	return ThresholdConfig{
		RequestTime: NewThreshold(0.5, 1.0),
		QueryCount:  NewThreshold(20, 50),
		MemoryUsage: NewThreshold(20, 50),
		Outlier:     OutlierConfig{Multiplier: 3, MinSamples: 10},
	}
}

// For 按指标类型取阈值
func (c ThresholdConfig) For(kind MetricKind) Threshold {
	switch kind {
	case MetricQueryCount:
		return c.QueryCount
	case MetricQueryTime:
		return c.QueryTime
	case MetricMemoryUsage:
		return c.MemoryUsage
	default:
		return c.RequestTime
	}
}

// Classify 判断取值命中的级别，未命中返回 false
func (t Threshold) Classify(value float64) (notification.Severity, float64, bool) {
	if t.Critical != nil && value >= *t.Critical {
		return notification.SeverityCritical, *t.Critical, true
	}
	if t.Warning == nil {
		return "", 0, false
	}
	// critical 低于 warning 时配置有误，只按 critical 判断
	if t.Critical != nil && *t.Critical < *t.Warning {
		return "", 0, false
	}
	if value >= *t.Warning {
		return notification.SeverityWarning, *t.Warning, true
	}
	return "", 0, false
}

type metricFormat struct {
	unit    string
	message func(severity, route string, value, threshold float64) string
}

var metricFormats = map[MetricKind]metricFormat{
	MetricRequestTime: {
		unit: "s",
		message: func(severity, route string, value, threshold float64) string {
			return fmt.Sprintf(`%s: Route "%s" has request time of %.4fs (threshold: %.2fs)`, severity, route, value, threshold)
		},
	},
	MetricQueryCount: {
		unit: "queries",
		message: func(severity, route string, value, threshold float64) string {
			return fmt.Sprintf(`%s: Route "%s" has %d queries (threshold: %d)`, severity, route, int64(value), int64(threshold))
		},
	},
	MetricQueryTime: {
		unit: "s",
		message: func(severity, route string, value, threshold float64) string {
			return fmt.Sprintf(`%s: Route "%s" has query time of %.4fs (threshold: %.2fs)`, severity, route, value, threshold)
		},
	},
	MetricMemoryUsage: {
		unit: "MB",
		message: func(severity, route string, value, threshold float64) string {
			return fmt.Sprintf(`%s: Route "%s" uses %.2f MB of memory (threshold: %.2f MB)`, severity, route, value, threshold)
		},
	},
}

// Evaluate 评估样本，history 为同路由同环境的历史请求耗时聚合，可为 nil
func Evaluate(sample MetricSample, thresholds ThresholdConfig, history *Aggregate) []notification.PerformanceAlert {
	route := sample.RouteName
	if route == "" {
		route = "Unknown"
	}

	var alerts []notification.PerformanceAlert
	for _, kind := range AllMetricKinds {
		value, ok := kind.sampleValue(&sample)
		if !ok {
			continue
		}
		if kind == MetricMemoryUsage {
			value = value / bytesPerMB
		}

		threshold := thresholds.For(kind)
		severity, triggered, hit := threshold.Classify(value)
		if !hit {
			continue
		}

		format := metricFormats[kind]
		ctx := map[string]interface{}{
			"value":     value,
			"threshold": triggered,
			"unit":      format.unit,
			"route":     sample.RouteName,
			"env":       sample.Environment,
		}
		if threshold.Warning != nil {
			ctx["warning_threshold"] = *threshold.Warning
		}
		if threshold.Critical != nil {
			ctx["critical_threshold"] = *threshold.Critical
		}

		alerts = append(alerts, notification.NewPerformanceAlert(
			kind.AlertType(),
			severity,
			format.message(severityLabel(severity), route, value, triggered),
			ctx,
		))
	}

	if alert, ok := evaluateOutlier(sample, route, thresholds.Outlier, history); ok {
		alerts = append(alerts, alert)
	}
	return alerts
}

func evaluateOutlier(sample MetricSample, route string, cfg OutlierConfig, history *Aggregate) (notification.PerformanceAlert, bool) {
	if history == nil || cfg.Multiplier <= 0 || sample.RequestTimeSeconds == nil {
		return notification.PerformanceAlert{}, false
	}
	if history.Count < cfg.MinSamples || history.Mean == nil || *history.Mean <= 0 {
		return notification.PerformanceAlert{}, false
	}

	value := *sample.RequestTimeSeconds
	mean := *history.Mean
	limit := mean * cfg.Multiplier
	if value <= limit {
		return notification.PerformanceAlert{}, false
	}

	return notification.NewPerformanceAlert(
		notification.TypeOutlier,
		notification.SeverityWarning,
		fmt.Sprintf(`Warning: Route "%s" request time of %.4fs is %.1fx the historical mean of %.4fs (%d samples)`,
			route, value, value/mean, mean, history.Count),
		map[string]interface{}{
			"value":        value,
			"threshold":    limit,
			"unit":         "s",
			"route":        sample.RouteName,
			"env":          sample.Environment,
			"mean":         mean,
			"multiplier":   cfg.Multiplier,
			"sample_count": history.Count,
		},
	), true
}

func severityLabel(s notification.Severity) string {
	if s == notification.SeverityCritical {
		return "Critical"
	}
	return "Warning"
}

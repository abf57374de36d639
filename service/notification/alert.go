/*
 * @module service/notification/alert
 * @description 性能告警值对象及通知上下文
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 阈值评估 -> 告警创建 -> 渠道分发
 * @rules 告警创建后不可修改，核心流程不持久化告警
 * @dependencies time
 * @refs service/performance/evaluator.go, service/notification/dispatcher.go
 */

package notification

import "time"

// AlertType 告警类型
type AlertType string

// Severity 告警严重级别
type Severity string

const (
	TypeRequestTime AlertType = "request_time"
	TypeQueryCount  AlertType = "query_count"
	TypeQueryTime   AlertType = "query_time"
	TypeMemoryUsage AlertType = "memory_usage"
	TypeOutlier     AlertType = "outlier"

	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// PerformanceAlert 性能告警
type PerformanceAlert struct {
	Type     AlertType              `json:"type"`
	Severity Severity               `json:"severity"`
	Message  string                 `json:"message"`
	Context  map[string]interface{} `json:"context"`
}

// NewPerformanceAlert 创建告警，context 会被复制
func NewPerformanceAlert(alertType AlertType, severity Severity, message string, context map[string]interface{}) PerformanceAlert {
	copied := make(map[string]interface{}, len(context))
	for k, v := range context {
		copied[k] = v
	}
	return PerformanceAlert{
		Type:     alertType,
		Severity: severity,
		Message:  message,
		Context:  copied,
	}
}

// IsCritical 是否为严重告警
func (a PerformanceAlert) IsCritical() bool {
	return a.Severity == SeverityCritical
}

// ContextValue 读取上下文值，不存在时返回默认值
func (a PerformanceAlert) ContextValue(key string, defaultValue interface{}) interface{} {
	if v, ok := a.Context[key]; ok {
		return v
	}
	return defaultValue
}

// AlertContext 触发告警的请求信息，供渠道渲染消息
type AlertContext struct {
	RecordID           string    `json:"record_id,omitempty"`
	RouteName          string    `json:"route_name"`
	Environment        string    `json:"environment"`
	HTTPMethod         string    `json:"http_method,omitempty"`
	RoutePath          string    `json:"route_path,omitempty"`
	RequestTimeSeconds *float64  `json:"request_time_seconds"`
	TotalQueries       *int64    `json:"total_queries"`
	QueryTimeSeconds   *float64  `json:"query_time_seconds"`
	MemoryUsageBytes   *int64    `json:"memory_usage_bytes"`
	RecordedAt         time.Time `json:"recorded_at"`
}

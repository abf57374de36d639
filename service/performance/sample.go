/*
 * @module service/performance/sample
 * @description 单次请求的性能样本及其校验、参数归一化、与存储记录之间的转换
 * @architecture 分层架构 - 业务服务层
 * @stateFlow 请求完成 -> 构建样本 -> 校验 -> 转换为存储记录
 * @rules 路由名和环境必填；未测量的指标为 nil，不得当作 0；参数值归一化为标量
 * @dependencies github.com/spf13/cast
 * @refs service/models/performance_record.go, service/performance/recording_service.go
 */

package performance

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"perfmon-service/service/models"
	"perfmon-service/service/notification"

	"github.com/spf13/cast"
)

// MetricSample 一次请求的性能样本，构建后不再修改
type MetricSample struct {
	RouteName          string                 `json:"route_name"`
	Environment        string                 `json:"environment"`
	RequestTimeSeconds *float64               `json:"request_time_seconds,omitempty"`
	TotalQueries       *int64                 `json:"total_queries,omitempty"`
	QueryTimeSeconds   *float64               `json:"query_time_seconds,omitempty"`
	MemoryUsageBytes   *int64                 `json:"memory_usage_bytes,omitempty"`
	Params             map[string]interface{} `json:"params,omitempty"`
	HTTPMethod         string                 `json:"http_method,omitempty"`
	StatusCode         *int                   `json:"status_code,omitempty"`
	RoutePath          string                 `json:"route_path,omitempty"`
	RequestID          string                 `json:"request_id,omitempty"`
	Referer            string                 `json:"referer,omitempty"`
	UserIdentifier     string                 `json:"user_identifier,omitempty"`
	UserID             string                 `json:"user_id,omitempty"`
}

// InvalidSampleError 样本缺少必填字段或指标取值非法
type InvalidSampleError struct {
	Field  string
	Reason string
}

func (e *InvalidSampleError) Error() string {
	return fmt.Sprintf("性能样本无效: %s %s", e.Field, e.Reason)
}

// Validate 校验样本
func (s MetricSample) Validate() error {
	if strings.TrimSpace(s.RouteName) == "" {
		return &InvalidSampleError{Field: "route_name", Reason: "不能为空"}
	}
	if strings.TrimSpace(s.Environment) == "" {
		return &InvalidSampleError{Field: "environment", Reason: "不能为空"}
	}
	if err := validateSeconds("request_time_seconds", s.RequestTimeSeconds); err != nil {
		return err
	}
	if s.TotalQueries != nil && *s.TotalQueries < 0 {
		return &InvalidSampleError{Field: "total_queries", Reason: "不能为负数"}
	}
	if err := validateSeconds("query_time_seconds", s.QueryTimeSeconds); err != nil {
		return err
	}
	if s.MemoryUsageBytes != nil && *s.MemoryUsageBytes < 0 {
		return &InvalidSampleError{Field: "memory_usage_bytes", Reason: "不能为负数"}
	}
	return nil
}

// validateSeconds 耗时必须是非负有限数，NaN 和 Inf 会污染整条路由的聚合结果
func validateSeconds(field string, v *float64) error {
	if v == nil {
		return nil
	}
	if math.IsNaN(*v) || math.IsInf(*v, 0) {
		return &InvalidSampleError{Field: field, Reason: "必须是有限数"}
	}
	if *v < 0 {
		return &InvalidSampleError{Field: field, Reason: "不能为负数"}
	}
	return nil
}

// ToRecord 转换为待追加的存储记录，ID 和创建时间由存储层分配
func (s MetricSample) ToRecord() *models.PerformanceRecord {
	record := &models.PerformanceRecord{
		RouteName:          strings.TrimSpace(s.RouteName),
		Environment:        strings.TrimSpace(s.Environment),
		RequestTimeSeconds: s.RequestTimeSeconds,
		TotalQueries:       s.TotalQueries,
		QueryTimeSeconds:   s.QueryTimeSeconds,
		MemoryUsageBytes:   s.MemoryUsageBytes,
		HTTPMethod:         strings.ToUpper(s.HTTPMethod),
		StatusCode:         s.StatusCode,
		RoutePath:          s.RoutePath,
		Referer:            s.Referer,
		UserIdentifier:     s.UserIdentifier,
		UserID:             s.UserID,
	}
	if params := NormalizeParams(s.Params); len(params) > 0 {
		record.Params = models.JSONB(params)
	}
	if s.RequestID != "" {
		id := s.RequestID
		record.RequestID = &id
	}
	return record
}

// SampleFromRecord 由存储记录还原样本
func SampleFromRecord(r models.PerformanceRecord) MetricSample {
	s := MetricSample{
		RouteName:          r.RouteName,
		Environment:        r.Environment,
		RequestTimeSeconds: r.RequestTimeSeconds,
		TotalQueries:       r.TotalQueries,
		QueryTimeSeconds:   r.QueryTimeSeconds,
		MemoryUsageBytes:   r.MemoryUsageBytes,
		Params:             map[string]interface{}(r.Params),
		HTTPMethod:         r.HTTPMethod,
		StatusCode:         r.StatusCode,
		RoutePath:          r.RoutePath,
		Referer:            r.Referer,
		UserIdentifier:     r.UserIdentifier,
		UserID:             r.UserID,
	}
	if r.RequestID != nil {
		s.RequestID = *r.RequestID
	}
	return s
}

// AlertContext 构建通知渠道使用的请求信息
func (s MetricSample) AlertContext(recordID string, recordedAt time.Time) notification.AlertContext {
	return notification.AlertContext{
		RecordID:           recordID,
		RouteName:          s.RouteName,
		Environment:        s.Environment,
		HTTPMethod:         s.HTTPMethod,
		RoutePath:          s.RoutePath,
		RequestTimeSeconds: s.RequestTimeSeconds,
		TotalQueries:       s.TotalQueries,
		QueryTimeSeconds:   s.QueryTimeSeconds,
		MemoryUsageBytes:   s.MemoryUsageBytes,
		RecordedAt:         recordedAt,
	}
}

// NormalizeParams 将路由参数归一化为 string -> 标量
// 数值、布尔、字符串原样保留，其他类型序列化为 JSON 字符串
func NormalizeParams(params map[string]interface{}) map[string]interface{} {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(params))
	for k, v := range params {
		switch val := v.(type) {
		case nil:
			out[k] = nil
		case string, bool, float64:
			out[k] = val
		case float32:
			out[k] = cast.ToFloat64(val)
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			out[k] = cast.ToInt64(val)
		case fmt.Stringer:
			out[k] = val.String()
		case []byte:
			out[k] = string(val)
		default:
			if raw, err := json.Marshal(val); err == nil {
				out[k] = string(raw)
			} else {
				out[k] = cast.ToString(val)
			}
		}
	}
	return out
}

// Float64 构造可选浮点指标
func Float64(v float64) *float64 { return &v }

// Int64 构造可选整数指标
func Int64(v int64) *int64 { return &v }

// Int 构造可选整数
func Int(v int) *int { return &v }

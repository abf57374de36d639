/*
 * @module service/models/performance_record
 * @description 路由性能记录模型，一次请求对应一条只追加的记录
 * @architecture 分层架构 - 数据模型层
 * @stateFlow 请求完成 -> 样本构建 -> 记录追加 -> 聚合查询
 * @rules request_id 唯一约束由数据库保证；未测量的指标保存为 NULL 而不是 0
 * @dependencies gorm.io/gorm, github.com/google/uuid
 * @refs service/performance/store.go
 */

package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PerformanceRecord 路由性能记录
type PerformanceRecord struct {
	ID                 string    `json:"id" gorm:"primaryKey;type:varchar(36)"`
	RouteName          string    `json:"route_name" gorm:"not null;size:255;index:idx_perf_route_env"`  // 路由名称
	Environment        string    `json:"environment" gorm:"not null;size:50;index:idx_perf_route_env"`  // 环境：dev, test, prod
	RequestTimeSeconds *float64  `json:"request_time_seconds"`                                          // 请求耗时（秒）
	TotalQueries       *int64    `json:"total_queries"`                                                 // 查询次数
	QueryTimeSeconds   *float64  `json:"query_time_seconds"`                                            // 查询耗时（秒）
	MemoryUsageBytes   *int64    `json:"memory_usage_bytes"`                                            // 内存峰值（字节）
	Params             JSONB     `json:"params,omitempty" gorm:"type:jsonb"`                            // 路由参数
	HTTPMethod         string    `json:"http_method,omitempty" gorm:"size:10"`                          // HTTP方法
	StatusCode         *int      `json:"status_code,omitempty"`                                         // HTTP状态码
	RoutePath          string    `json:"route_path,omitempty" gorm:"size:2048"`                         // 请求路径（含查询串）
	RequestID          *string   `json:"request_id,omitempty" gorm:"size:128;uniqueIndex"`              // 请求ID，去重用
	Referer            string    `json:"referer,omitempty" gorm:"size:2048"`                            // 来源页面
	UserIdentifier     string    `json:"user_identifier,omitempty" gorm:"size:255"`                     // 用户标识
	UserID             string    `json:"user_id,omitempty" gorm:"size:255"`                             // 用户ID
	CreatedAt          time.Time `json:"created_at" gorm:"not null;index"`
}

// TableName 指定表名
func (PerformanceRecord) TableName() string {
	return "performance_records"
}

// BeforeCreate GORM钩子，创建前生成UUID
func (r *PerformanceRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	return nil
}

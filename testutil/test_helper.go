/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify, time
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"perfmon-service/service/models"

	"github.com/stretchr/testify/assert"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库
// 内存库每个连接相互独立，连接池限制为1保证所有操作看到同一个库
func NewTestDB() *TestDB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		panic(fmt.Sprintf("failed to get sql.DB: %v", err))
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&models.PerformanceRecord{}); err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	tdb.DB.Exec("DELETE FROM performance_records")
}

// Close 关闭数据库
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// RecordOption 性能记录选项函数类型
type RecordOption func(*models.PerformanceRecord)

// CreateRecord 创建测试性能记录
func (f *TestDataFactory) CreateRecord(opts ...RecordOption) *models.PerformanceRecord {
	requestTime := 0.1
	queries := int64(3)
	record := &models.PerformanceRecord{
		RouteName:          "app_home",
		Environment:        "dev",
		RequestTimeSeconds: &requestTime,
		TotalQueries:       &queries,
		HTTPMethod:         "GET",
		CreatedAt:          time.Now(),
	}

	for _, opt := range opts {
		opt(record)
	}

	if err := f.DB.Create(record).Error; err != nil {
		panic(fmt.Sprintf("failed to create test performance record: %v", err))
	}
	return record
}

// WithRoute 指定路由和环境
func WithRoute(route, env string) RecordOption {
	return func(r *models.PerformanceRecord) {
		r.RouteName = route
		r.Environment = env
	}
}

// WithRequestTime 指定请求耗时，nil 表示未测量
func WithRequestTime(seconds *float64) RecordOption {
	return func(r *models.PerformanceRecord) {
		r.RequestTimeSeconds = seconds
	}
}

// WithQueries 指定查询次数，nil 表示未测量
func WithQueries(count *int64) RecordOption {
	return func(r *models.PerformanceRecord) {
		r.TotalQueries = count
	}
}

// WithQueryTime 指定查询耗时（秒）
func WithQueryTime(seconds float64) RecordOption {
	return func(r *models.PerformanceRecord) {
		r.QueryTimeSeconds = &seconds
	}
}

// WithUser 指定用户标识
func WithUser(identifier string) RecordOption {
	return func(r *models.PerformanceRecord) {
		r.UserIdentifier = identifier
	}
}

// WithMemory 指定内存字节数
func WithMemory(bytes int64) RecordOption {
	return func(r *models.PerformanceRecord) {
		r.MemoryUsageBytes = &bytes
	}
}

// WithStatusCode 指定状态码
func WithStatusCode(code int) RecordOption {
	return func(r *models.PerformanceRecord) {
		r.StatusCode = &code
	}
}

// WithRequestID 指定请求ID
func WithRequestID(id string) RecordOption {
	return func(r *models.PerformanceRecord) {
		r.RequestID = &id
	}
}

// WithCreatedAt 指定创建时间
func WithCreatedAt(t time.Time) RecordOption {
	return func(r *models.PerformanceRecord) {
		r.CreatedAt = t
	}
}

// HTTPTestHelper HTTP测试辅助工具
type HTTPTestHelper struct{}

// NewHTTPTestHelper 创建HTTP测试辅助工具
func NewHTTPTestHelper() *HTTPTestHelper {
	return &HTTPTestHelper{}
}

// CreateJSONRequest 创建JSON请求
func (h *HTTPTestHelper) CreateJSONRequest(method, url string, body interface{}) (*http.Request, error) {
	var reqBody io.Reader

	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewBuffer(jsonBody)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return req, nil
}

// DecodeResponse 解析统一响应格式
func (h *HTTPTestHelper) DecodeResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	var body map[string]interface{}
	err := json.Unmarshal(w.Body.Bytes(), &body)
	assert.NoError(t, err, "响应不是合法JSON: %s", w.Body.String())
	return body
}

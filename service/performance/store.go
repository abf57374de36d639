/*
 * @module service/performance/store
 * @description 性能记录存储，只追加；request_id 唯一约束由数据库保证
 * @architecture 仓储模式 - 基于GORM的数据访问层
 * @stateFlow 追加 -> 按条件查询/数据库内分组聚合 -> 按时间或条件清理
 * @rules 唯一约束冲突返回 ErrDuplicateKey；核心从不更新已有记录
 * @dependencies gorm.io/gorm
 * @refs service/models/performance_record.go, service/performance/recording_service.go
 */

package performance

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"time"

	"perfmon-service/service/models"

	"gorm.io/gorm"
)

// ErrDuplicateKey request_id 已存在
var ErrDuplicateKey = errors.New("request_id 重复")

// SortOrder 排序方向
type SortOrder string

const (
	OrderNewestFirst SortOrder = "desc"
	OrderOldestFirst SortOrder = "asc"
)

// RecordFilter 查询条件，空字段不参与过滤
type RecordFilter struct {
	RouteName      string
	Environment    string
	ExcludeID      string
	Since          *time.Time
	Until          *time.Time
	StatusCode     *int
	MinQueryTime   *float64
	MaxQueryTime   *float64
	MinMemoryBytes *int64
	MaxMemoryBytes *int64
	Referer        string
	User           string // 匹配 user_identifier 或 user_id
	Limit          int
	Order          SortOrder
}

// Store 性能记录存储接口
type Store interface {
	Append(ctx context.Context, record *models.PerformanceRecord) (string, error)
	ExistsByRequestID(ctx context.Context, requestID string) (bool, error)
	Query(ctx context.Context, filter RecordFilter) ([]models.PerformanceRecord, error)
	// SummarizeRoutes 在数据库中按路由分组聚合
	SummarizeRoutes(ctx context.Context, env string) ([]RouteAggregates, error)
	// AccessPoints 只读取访问时间、请求耗时和状态码，按时间升序
	AccessPoints(ctx context.Context, filter RecordFilter) ([]models.PerformanceRecord, error)
	Environments(ctx context.Context) ([]string, error)
	DeleteOlderThan(ctx context.Context, before time.Time, env string) (int64, error)
	DeleteAll(ctx context.Context, env string) (int64, error)
	CountOlderThan(ctx context.Context, before time.Time, env string) (int64, error)
	DeleteByFilter(ctx context.Context, filter RecordFilter) (int64, error)
	CountByFilter(ctx context.Context, filter RecordFilter) (int64, error)
}

// GormStore 基于GORM的存储实现
type GormStore struct {
	db *gorm.DB
}

// NewGormStore 创建存储实例
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Append 追加记录，返回分配的ID
func (s *GormStore) Append(ctx context.Context, record *models.PerformanceRecord) (string, error) {
	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		if isDuplicateKeyError(err) {
			return "", ErrDuplicateKey
		}
		return "", fmt.Errorf("保存性能记录失败: %w", err)
	}
	return record.ID, nil
}

// ExistsByRequestID 检查 request_id 是否已记录
func (s *GormStore) ExistsByRequestID(ctx context.Context, requestID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.PerformanceRecord{}).
		Where("request_id = ?", requestID).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("查询请求ID失败: %w", err)
	}
	return count > 0, nil
}

// Query 按条件查询记录
func (s *GormStore) Query(ctx context.Context, filter RecordFilter) ([]models.PerformanceRecord, error) {
	query := applyFilter(s.db.WithContext(ctx).Model(&models.PerformanceRecord{}), filter)
	if filter.Order == OrderOldestFirst {
		query = query.Order("created_at ASC").Order("id ASC")
	} else {
		query = query.Order("created_at DESC").Order("id DESC")
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []models.PerformanceRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询性能记录失败: %w", err)
	}
	return records, nil
}

// AccessPoints 读取访问分布所需的列
func (s *GormStore) AccessPoints(ctx context.Context, filter RecordFilter) ([]models.PerformanceRecord, error) {
	query := applyFilter(s.db.WithContext(ctx).Model(&models.PerformanceRecord{}), filter).
		Select("id", "created_at", "request_time_seconds", "status_code").
		Order("created_at ASC")
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}

	var records []models.PerformanceRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询访问记录失败: %w", err)
	}
	return records, nil
}

// routeSummaryRow 分组聚合的一行，数值列为NULL表示该指标无数据
type routeSummaryRow struct {
	RouteName      string
	Environment    string
	AccessCount    int64
	RequestCount   int64
	RequestSum     *float64
	RequestMax     *float64
	QueriesCount   int64
	QueriesSum     *float64
	QueriesMax     *float64
	QueryTimeCount int64
	QueryTimeSum   *float64
	QueryTimeMax   *float64
	MemoryCount    int64
	MemorySum      *float64
	MemoryMax      *float64
	LastSeenAt     dbTime
}

type statusCountRow struct {
	RouteName  string
	StatusCode int
	Total      int64
}

const routeSummarySelect = `route_name, environment, COUNT(*) AS access_count,
	COUNT(request_time_seconds) AS request_count,
	SUM(request_time_seconds) AS request_sum,
	MAX(request_time_seconds) AS request_max,
	COUNT(total_queries) AS queries_count,
	SUM(CAST(total_queries AS DOUBLE PRECISION)) AS queries_sum,
	MAX(CAST(total_queries AS DOUBLE PRECISION)) AS queries_max,
	COUNT(query_time_seconds) AS query_time_count,
	SUM(query_time_seconds) AS query_time_sum,
	MAX(query_time_seconds) AS query_time_max,
	COUNT(memory_usage_bytes) AS memory_count,
	SUM(CAST(memory_usage_bytes AS DOUBLE PRECISION)) AS memory_sum,
	MAX(CAST(memory_usage_bytes AS DOUBLE PRECISION)) AS memory_max,
	MAX(created_at) AS last_seen_at`

// SummarizeRoutes 按路由分组聚合，状态码分布单独查询
func (s *GormStore) SummarizeRoutes(ctx context.Context, env string) ([]RouteAggregates, error) {
	var rows []routeSummaryRow
	err := s.db.WithContext(ctx).Model(&models.PerformanceRecord{}).
		Select(routeSummarySelect).
		Where("environment = ?", env).
		Group("route_name, environment").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("聚合路由统计失败: %w", err)
	}

	var statusRows []statusCountRow
	err = s.db.WithContext(ctx).Model(&models.PerformanceRecord{}).
		Select("route_name, status_code, COUNT(*) AS total").
		Where("environment = ? AND status_code IS NOT NULL", env).
		Group("route_name, status_code").
		Scan(&statusRows).Error
	if err != nil {
		return nil, fmt.Errorf("统计状态码分布失败: %w", err)
	}
	statusByRoute := make(map[string]map[int]int)
	for _, r := range statusRows {
		if statusByRoute[r.RouteName] == nil {
			statusByRoute[r.RouteName] = make(map[int]int)
		}
		statusByRoute[r.RouteName][r.StatusCode] = int(r.Total)
	}

	out := make([]RouteAggregates, 0, len(rows))
	for _, r := range rows {
		summary := RouteAggregates{
			RouteKey:    RouteKey{RouteName: r.RouteName, Environment: r.Environment},
			AccessCount: int(r.AccessCount),
			RequestTime: aggregateFromColumns(r.RequestCount, r.RequestSum, r.RequestMax),
			QueryCount:  aggregateFromColumns(r.QueriesCount, r.QueriesSum, r.QueriesMax),
			QueryTime:   aggregateFromColumns(r.QueryTimeCount, r.QueryTimeSum, r.QueryTimeMax),
			MemoryUsage: aggregateFromColumns(r.MemoryCount, r.MemorySum, r.MemoryMax),
			StatusCodes: statusByRoute[r.RouteName],
		}
		if summary.StatusCodes == nil {
			summary.StatusCodes = make(map[int]int)
		}
		if r.LastSeenAt.Valid {
			t := r.LastSeenAt.Time
			summary.LastSeenAt = &t
		}
		out = append(out, summary)
	}
	return out, nil
}

// aggregateFromColumns 由数据库的 COUNT/SUM/MAX 构造聚合值
func aggregateFromColumns(count int64, sum, maxValue *float64) Aggregate {
	if count == 0 || sum == nil || maxValue == nil {
		return Aggregate{}
	}
	mean := *sum / float64(count)
	m := *maxValue
	return Aggregate{Count: int(count), Sum: *sum, Mean: &mean, Max: &m}
}

// Environments 获取已记录的全部环境
func (s *GormStore) Environments(ctx context.Context) ([]string, error) {
	var envs []string
	err := s.db.WithContext(ctx).Model(&models.PerformanceRecord{}).
		Distinct("environment").
		Order("environment").
		Pluck("environment", &envs).Error
	if err != nil {
		return nil, fmt.Errorf("查询环境列表失败: %w", err)
	}
	return envs, nil
}

// DeleteOlderThan 删除指定时间之前的记录，env 为空时不限环境
func (s *GormStore) DeleteOlderThan(ctx context.Context, before time.Time, env string) (int64, error) {
	query := s.db.WithContext(ctx).Where("created_at < ?", before)
	if env != "" {
		query = query.Where("environment = ?", env)
	}
	result := query.Delete(&models.PerformanceRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("清理性能记录失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// DeleteAll 删除全部记录，env 为空时不限环境
func (s *GormStore) DeleteAll(ctx context.Context, env string) (int64, error) {
	query := s.db.WithContext(ctx)
	if env != "" {
		query = query.Where("environment = ?", env)
	} else {
		query = query.Session(&gorm.Session{AllowGlobalUpdate: true})
	}
	result := query.Delete(&models.PerformanceRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("清空性能记录失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountOlderThan 统计指定时间之前的记录数
func (s *GormStore) CountOlderThan(ctx context.Context, before time.Time, env string) (int64, error) {
	query := s.db.WithContext(ctx).Model(&models.PerformanceRecord{}).Where("created_at < ?", before)
	if env != "" {
		query = query.Where("environment = ?", env)
	}
	var count int64
	if err := query.Count(&count).Error; err != nil {
		return 0, fmt.Errorf("统计性能记录失败: %w", err)
	}
	return count, nil
}

// DeleteByFilter 按条件删除记录，必须指定环境
func (s *GormStore) DeleteByFilter(ctx context.Context, filter RecordFilter) (int64, error) {
	if filter.Environment == "" {
		return 0, errors.New("按条件删除必须指定环境")
	}
	result := applyFilter(s.db.WithContext(ctx), filter).Delete(&models.PerformanceRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("按条件删除性能记录失败: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountByFilter 统计符合条件的记录数
func (s *GormStore) CountByFilter(ctx context.Context, filter RecordFilter) (int64, error) {
	var count int64
	err := applyFilter(s.db.WithContext(ctx).Model(&models.PerformanceRecord{}), filter).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("统计性能记录失败: %w", err)
	}
	return count, nil
}

// applyFilter 追加过滤条件，不处理排序和条数
func applyFilter(query *gorm.DB, filter RecordFilter) *gorm.DB {
	if filter.RouteName != "" {
		query = query.Where("route_name = ?", filter.RouteName)
	}
	if filter.Environment != "" {
		query = query.Where("environment = ?", filter.Environment)
	}
	if filter.ExcludeID != "" {
		query = query.Where("id <> ?", filter.ExcludeID)
	}
	if filter.Since != nil {
		query = query.Where("created_at >= ?", *filter.Since)
	}
	if filter.Until != nil {
		query = query.Where("created_at <= ?", *filter.Until)
	}
	if filter.StatusCode != nil {
		query = query.Where("status_code = ?", *filter.StatusCode)
	}
	if filter.MinQueryTime != nil {
		query = query.Where("query_time_seconds >= ?", *filter.MinQueryTime)
	}
	if filter.MaxQueryTime != nil {
		query = query.Where("query_time_seconds <= ?", *filter.MaxQueryTime)
	}
	if filter.MinMemoryBytes != nil {
		query = query.Where("memory_usage_bytes >= ?", *filter.MinMemoryBytes)
	}
	if filter.MaxMemoryBytes != nil {
		query = query.Where("memory_usage_bytes <= ?", *filter.MaxMemoryBytes)
	}
	if filter.Referer != "" {
		query = query.Where("referer LIKE ?", "%"+filter.Referer+"%")
	}
	if filter.User != "" {
		query = query.Where("(user_identifier = ? OR user_id = ?)", filter.User, filter.User)
	}
	return query
}

// dbTime 聚合列的时间值；SQLite 的 MAX(created_at) 以文本返回
type dbTime struct {
	Time  time.Time
	Valid bool
}

var sqliteTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

// Scan 实现 sql.Scanner
func (t *dbTime) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		t.Time, t.Valid = time.Time{}, false
		return nil
	case time.Time:
		t.Time, t.Valid = v, true
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	default:
		return fmt.Errorf("无法解析时间值: %T", value)
	}
}

// Value 实现 driver.Valuer
func (t dbTime) Value() (driver.Value, error) {
	if !t.Valid {
		return nil, nil
	}
	return t.Time, nil
}

func (t *dbTime) parse(s string) error {
	for _, layout := range sqliteTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time, t.Valid = parsed, true
			return nil
		}
	}
	return fmt.Errorf("无法解析时间值: %q", s)
}

// isDuplicateKeyError 未开启 TranslateError 的连接只能按驱动错误文本判断
func isDuplicateKeyError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
